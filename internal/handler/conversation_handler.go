package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pitstop/internal/assistant"
	"github.com/hitoshi/pitstop/internal/middleware"
	"github.com/hitoshi/pitstop/internal/model"
	"github.com/hitoshi/pitstop/internal/vehicle"
)

// maxRequestBodyBytes はリクエストボディの上限。
const maxRequestBodyBytes = 64 << 10

// Conversation はハンドラーが必要とする会話の操作。
type Conversation interface {
	ID() string
	SessionID() string
	HandleTurn(ctx context.Context, text string) assistant.TurnResult
	CompleteTurn(ctx context.Context, responseText string) string
	Tools() []assistant.Tool
	Invoke(ctx context.Context, name string, args map[string]any) string
	HasVehicle() bool
	VehicleState() vehicle.State
	GetCarDetails() string
	GetHistory(ctx context.Context, limit int) ([]model.ConversationMessage, error)
}

// ConversationManager は会話の生成と検索を行う。
type ConversationManager interface {
	Create(ctx context.Context, userIdentifier, identifierType string) (Conversation, error)
	Get(id string) (Conversation, error)
	Close(id string) error
}

// ConversationHandler は会話ランタイム向けのHTTPハンドラー。
type ConversationHandler struct {
	manager ConversationManager
	logger  *slog.Logger
}

// NewConversationHandler はConversationHandlerを生成する。
func NewConversationHandler(manager ConversationManager, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{manager: manager, logger: logger}
}

type createConversationRequest struct {
	UserIdentifier string `json:"user_identifier"`
	IdentifierType string `json:"identifier_type"`
}

type createConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	SessionID      string `json:"session_id"`
	HasVehicle     bool   `json:"has_vehicle"`
	Welcome        string `json:"welcome"`
}

type textRequest struct {
	Text string `json:"text"`
}

type textResponse struct {
	Text string `json:"text"`
}

type invokeToolRequest struct {
	Arguments map[string]any `json:"arguments"`
}

type invokeToolResponse struct {
	Result string `json:"result"`
}

type vehicleResponse struct {
	HasVehicle bool   `json:"has_vehicle"`
	State      string `json:"state"`
	Details    string `json:"details"`
}

type historyResponse struct {
	Messages []model.ConversationMessage `json:"messages"`
}

// CreateConversation は会話を開始する。
// POST /api/conversations
func (h *ConversationHandler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	conv, err := h.manager.Create(r.Context(), req.UserIdentifier, req.IdentifierType)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, createConversationResponse{
		ConversationID: conv.ID(),
		SessionID:      conv.SessionID(),
		HasVehicle:     conv.HasVehicle(),
		Welcome:        assistant.WelcomeMessage,
	})
}

// DeleteConversation は会話を終了する。
// DELETE /api/conversations/{conversationID}
func (h *ConversationHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Close(chi.URLParam(r, middleware.ConversationIDParam)); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTurn は利用者の発話を1件処理する。
// POST /api/conversations/{conversationID}/turns
func (h *ConversationHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, conv.HandleTurn(r.Context(), req.Text))
}

// CompleteTurn は言語モデルの応答をフィルタして記録する。
// POST /api/conversations/{conversationID}/responses
func (h *ConversationHandler) CompleteTurn(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	var req textRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, textResponse{Text: conv.CompleteTurn(r.Context(), req.Text)})
}

// ListTools はツール定義を返す。
// GET /api/conversations/{conversationID}/tools
func (h *ConversationHandler) ListTools(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, conv.Tools())
}

// InvokeTool はツールを呼び出す。失敗も読み上げ文として200で返す。
// POST /api/conversations/{conversationID}/tools/{name}
func (h *ConversationHandler) InvokeTool(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	var req invokeToolRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result := conv.Invoke(r.Context(), chi.URLParam(r, "name"), req.Arguments)
	writeJSON(w, http.StatusOK, invokeToolResponse{Result: result})
}

// GetVehicle は車両特定の状態を返す。
// GET /api/conversations/{conversationID}/vehicle
func (h *ConversationHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, vehicleResponse{
		HasVehicle: conv.HasVehicle(),
		State:      conv.VehicleState().String(),
		Details:    conv.GetCarDetails(),
	})
}

// GetHistory は会話ログを古い順に返す。
// GET /api/conversations/{conversationID}/history?limit=
func (h *ConversationHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.conversation(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			handleServiceError(w, h.logger, model.NewInvalidArgumentError("limit", "0以上の整数ではありません"))
			return
		}
		limit = n
	}

	messages, err := conv.GetHistory(r.Context(), limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Messages: messages})
}

// conversation はURLの会話IDから会話を取得する。見つからない場合はレスポンスを書き込んでfalseを返す。
func (h *ConversationHandler) conversation(w http.ResponseWriter, r *http.Request) (Conversation, bool) {
	conv, err := h.manager.Get(chi.URLParam(r, middleware.ConversationIDParam))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return nil, false
	}
	return conv, true
}

// decodeJSON はリクエストボディをvに読み込む。失敗した場合は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, newInvalidRequestError())
		return false
	}
	return true
}
