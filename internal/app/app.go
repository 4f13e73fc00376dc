package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/pitstop/internal/assistant"
	"github.com/hitoshi/pitstop/internal/config"
	"github.com/hitoshi/pitstop/internal/database"
	"github.com/hitoshi/pitstop/internal/guardrail"
	"github.com/hitoshi/pitstop/internal/handler"
	"github.com/hitoshi/pitstop/internal/logger"
	"github.com/hitoshi/pitstop/internal/metrics"
	"github.com/hitoshi/pitstop/internal/middleware"
	"github.com/hitoshi/pitstop/internal/nhtsa"
	"github.com/hitoshi/pitstop/internal/repository"
	"github.com/hitoshi/pitstop/internal/security"
	"github.com/hitoshi/pitstop/internal/session"
	"github.com/hitoshi/pitstop/internal/worker/cleanup"
)

// janitorInterval は無操作の会話を掃除する間隔。
const janitorInterval = time.Minute

// Init はアプリケーションの初期化を行う。
// .envがあれば環境変数に読み込み、Configを読み込んでJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. .envは任意。既に設定済みの環境変数は上書きしない
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".envの読み込みに失敗しました", slog.String("error", err.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は設定もDBも読み込まずに終える
	if !cmd.NeedsConfig() {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと会話の掃除を並行して動かす。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. 外部APIのベースURLを起動時に検証
	guard := security.NewOutboundGuard()
	if err := validateBaseURLs(guard, cfg); err != nil {
		return err
	}

	// 2. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. リポジトリとセッションストア
	vehicleRepo := repository.NewPostgresVehicleRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	serviceRecordRepo := repository.NewPostgresServiceRecordRepo(db)
	appointmentRepo := repository.NewPostgresAppointmentRepo(db)
	sessionStore := session.NewStore(sessionRepo, slog.Default(), cfg.HistoryLimit)

	// 5. NHTSAクライアント
	nhtsaClient := nhtsa.NewClient(guard.NewSafeClient(cfg.NHTSATimeout), slog.Default(), nhtsa.Config{
		VPICBaseURL:  cfg.VPICBaseURL,
		NHTSABaseURL: cfg.NHTSABaseURL,
		UserAgent:    cfg.NHTSAUserAgent,
		RetryDelay:   cfg.NHTSARetryDelay,
		RatePerSec:   cfg.NHTSARatePerSec,
		Metrics:      collector,
	})

	// 6. 会話マネージャー
	manager := assistant.NewManager(assistant.Dependencies{
		Guard:          guardrail.NewPipeline(slog.Default(), collector),
		Vehicles:       vehicleRepo,
		Decoder:        nhtsaClient,
		Sessions:       sessionStore,
		ServiceRecords: serviceRecordRepo,
		Appointments:   appointmentRepo,
		Metrics:        collector,
		Logger:         slog.Default(),
	}, cfg.ConversationIdleTTL)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral), slog.Default(),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(registry),
		Conversations:     handler.NewManagerAdapter(manager),
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		manager.Start(gctx, janitorInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、会話ログのクリーンアップを起動直後とCLEANUP_INTERVALごとに実行する。
// ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(db, slog.Default(), cfg.LogRetentionDays)
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// validateBaseURLs はNHTSAのベースURLを検証する。
func validateBaseURLs(guard security.OutboundGuard, cfg *config.Config) error {
	for name, raw := range map[string]string{
		"VPIC_BASE_URL":  cfg.VPICBaseURL,
		"NHTSA_BASE_URL": cfg.NHTSABaseURL,
	} {
		if err := guard.ValidateBaseURL(raw); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
