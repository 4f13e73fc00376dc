package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pitstop/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 死活監視とメトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 会話
	Conversations ConversationManager
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → RateLimit
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	healthHandler := NewHealthHandler(deps.HealthChecker, logger)
	convHandler := NewConversationHandler(deps.Conversations, logger)

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Route("/api/conversations", func(r chi.Router) {
			r.Post("/", convHandler.CreateConversation)

			r.Route("/{"+middleware.ConversationIDParam+"}", func(r chi.Router) {
				r.Delete("/", convHandler.DeleteConversation)
				r.Post("/turns", convHandler.HandleTurn)
				r.Post("/responses", convHandler.CompleteTurn)
				r.Get("/tools", convHandler.ListTools)
				r.Post("/tools/{name}", convHandler.InvokeTool)
				r.Get("/vehicle", convHandler.GetVehicle)
				r.Get("/history", convHandler.GetHistory)
			})
		})
	})

	return r
}
