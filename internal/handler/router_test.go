package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/pitstop/internal/assistant"
	"github.com/hitoshi/pitstop/internal/guardrail"
	"github.com/hitoshi/pitstop/internal/middleware"
	"github.com/hitoshi/pitstop/internal/model"
	"github.com/hitoshi/pitstop/internal/vehicle"
)

// --- モック定義 ---

type mockConversation struct {
	id        string
	sessionID string

	handleTurnFn   func(ctx context.Context, text string) assistant.TurnResult
	completeTurnFn func(ctx context.Context, text string) string
	invokeFn       func(ctx context.Context, name string, args map[string]any) string
	historyFn      func(ctx context.Context, limit int) ([]model.ConversationMessage, error)
	hasVehicle     bool
}

func (m *mockConversation) ID() string        { return m.id }
func (m *mockConversation) SessionID() string { return m.sessionID }

func (m *mockConversation) HandleTurn(ctx context.Context, text string) assistant.TurnResult {
	return m.handleTurnFn(ctx, text)
}

func (m *mockConversation) CompleteTurn(ctx context.Context, text string) string {
	return m.completeTurnFn(ctx, text)
}

func (m *mockConversation) Tools() []assistant.Tool {
	return []assistant.Tool{{Name: "lookup_car", Description: "lookup a car by its vin"}}
}

func (m *mockConversation) Invoke(ctx context.Context, name string, args map[string]any) string {
	return m.invokeFn(ctx, name, args)
}

func (m *mockConversation) HasVehicle() bool { return m.hasVehicle }

func (m *mockConversation) VehicleState() vehicle.State {
	if m.hasVehicle {
		return vehicle.StateIdentified
	}
	return vehicle.StateUnresolved
}

func (m *mockConversation) GetCarDetails() string {
	return "The car details are: vin: \nmake: \nmodel: \nyear: \n"
}

func (m *mockConversation) GetHistory(ctx context.Context, limit int) ([]model.ConversationMessage, error) {
	return m.historyFn(ctx, limit)
}

type mockManager struct {
	createFn func(ctx context.Context, userIdentifier, identifierType string) (Conversation, error)
	convs    map[string]*mockConversation
	closed   []string
}

func (m *mockManager) Create(ctx context.Context, userIdentifier, identifierType string) (Conversation, error) {
	return m.createFn(ctx, userIdentifier, identifierType)
}

func (m *mockManager) Get(id string) (Conversation, error) {
	conv, ok := m.convs[id]
	if !ok {
		return nil, model.NewConversationNotFoundError(id)
	}
	return conv, nil
}

func (m *mockManager) Close(id string) error {
	if _, ok := m.convs[id]; !ok {
		return model.NewConversationNotFoundError(id)
	}
	m.closed = append(m.closed, id)
	delete(m.convs, id)
	return nil
}

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.err }

func newTestRouter(t *testing.T, manager *mockManager, checker HealthChecker) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), logger)
	t.Cleanup(rl.Stop)
	return NewRouter(&RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		HealthChecker:     checker,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics\n"))
		}),
		Conversations: manager,
	})
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

// --- テスト ---

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantBody   string
	}{
		{"DB疎通あり", nil, http.StatusOK, "ok"},
		{"DB疎通なし", errors.New("dial tcp: refused"), http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &mockManager{}, &mockHealthChecker{err: tt.pingErr})

			w := doRequest(router, http.MethodGet, "/health", "")

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status field = %q, want %q", body["status"], tt.wantBody)
			}
			if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Errorf("security headers missing: %q", got)
			}
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := newTestRouter(t, &mockManager{}, nil)

	w := doRequest(router, http.MethodGet, "/metrics", "")

	if w.Code != http.StatusOK || w.Body.String() != "# metrics\n" {
		t.Errorf("GET /metrics = %d %q", w.Code, w.Body.String())
	}
}

func TestRouter_CreateConversation(t *testing.T) {
	var gotIdentifier, gotType string
	manager := &mockManager{
		createFn: func(ctx context.Context, userIdentifier, identifierType string) (Conversation, error) {
			gotIdentifier, gotType = userIdentifier, identifierType
			return &mockConversation{id: "conv-1", sessionID: "sess-1"}, nil
		},
	}
	router := newTestRouter(t, manager, nil)

	w := doRequest(router, http.MethodPost, "/api/conversations",
		`{"user_identifier":"+15550100","identifier_type":"phone"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d; body=%s", w.Code, http.StatusCreated, w.Body.String())
	}
	var body createConversationResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := createConversationResponse{
		ConversationID: "conv-1",
		SessionID:      "sess-1",
		Welcome:        assistant.WelcomeMessage,
	}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	if gotIdentifier != "+15550100" || gotType != "phone" {
		t.Errorf("Create(%q, %q)", gotIdentifier, gotType)
	}
}

func TestRouter_CreateConversation_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		createErr  error
		wantStatus int
		wantCode   string
	}{
		{"不正なJSON", `{"user_identifier":`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"識別子が空", `{"user_identifier":""}`, model.NewInvalidArgumentError("user_identifier", "empty"), http.StatusBadRequest, model.ErrCodeInvalidArgument},
		{"内部エラー", `{"user_identifier":"x"}`, errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := &mockManager{
				createFn: func(ctx context.Context, userIdentifier, identifierType string) (Conversation, error) {
					return nil, tt.createErr
				},
			}
			router := newTestRouter(t, manager, nil)

			w := doRequest(router, http.MethodPost, "/api/conversations", tt.body)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeErrorBody(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestRouter_UnknownConversationReturns404(t *testing.T) {
	router := newTestRouter(t, &mockManager{convs: map[string]*mockConversation{}}, nil)

	paths := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, "/api/conversations/missing/turns", `{"text":"hi"}`},
		{http.MethodPost, "/api/conversations/missing/responses", `{"text":"hi"}`},
		{http.MethodGet, "/api/conversations/missing/tools", ""},
		{http.MethodPost, "/api/conversations/missing/tools/lookup_car", `{"arguments":{}}`},
		{http.MethodGet, "/api/conversations/missing/vehicle", ""},
		{http.MethodGet, "/api/conversations/missing/history", ""},
		{http.MethodDelete, "/api/conversations/missing", ""},
	}

	for _, p := range paths {
		t.Run(p.method+" "+p.path, func(t *testing.T) {
			w := doRequest(router, p.method, p.path, p.body)
			if w.Code != http.StatusNotFound {
				t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
			}
			if body := decodeErrorBody(t, w); body.Code != model.ErrCodeConversationNotFound {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeConversationNotFound)
			}
		})
	}
}

func TestRouter_HandleTurn(t *testing.T) {
	conv := &mockConversation{
		id: "conv-1",
		handleTurnFn: func(ctx context.Context, text string) assistant.TurnResult {
			return assistant.TurnResult{
				Action:       assistant.ActionFindProfile,
				Guardrail:    guardrail.Result{Status: guardrail.StatusAllowed, OriginalInput: text},
				Utterance:    text,
				SystemPrompt: assistant.LookupVINPrompt(text),
			}
		},
	}
	router := newTestRouter(t, &mockManager{convs: map[string]*mockConversation{"conv-1": conv}}, nil)

	w := doRequest(router, http.MethodPost, "/api/conversations/conv-1/turns", `{"text":"my brakes squeak"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["action"] != "find_profile" || got["utterance"] != "my brakes squeak" {
		t.Errorf("body = %v", got)
	}
	if gr, ok := got["guardrail"].(map[string]any); !ok || gr["status"] != "allowed" {
		t.Errorf("guardrail = %v", got["guardrail"])
	}
}

func TestRouter_CompleteTurn(t *testing.T) {
	conv := &mockConversation{
		id: "conv-1",
		completeTurnFn: func(ctx context.Context, text string) string {
			return text + " (filtered)"
		},
	}
	router := newTestRouter(t, &mockManager{convs: map[string]*mockConversation{"conv-1": conv}}, nil)

	w := doRequest(router, http.MethodPost, "/api/conversations/conv-1/responses", `{"text":"Sure."}`)

	var got textResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Text != "Sure. (filtered)" {
		t.Errorf("text = %q", got.Text)
	}
}

func TestRouter_InvokeTool(t *testing.T) {
	var gotName string
	var gotArgs map[string]any
	conv := &mockConversation{
		id: "conv-1",
		invokeFn: func(ctx context.Context, name string, args map[string]any) string {
			gotName, gotArgs = name, args
			return "Got it."
		},
	}
	router := newTestRouter(t, &mockManager{convs: map[string]*mockConversation{"conv-1": conv}}, nil)

	w := doRequest(router, http.MethodPost, "/api/conversations/conv-1/tools/update_mileage",
		`{"arguments":{"mileage":52000}}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got invokeToolResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Result != "Got it." || gotName != "update_mileage" {
		t.Errorf("result = %q, name = %q", got.Result, gotName)
	}
	if gotArgs["mileage"] != json.Number("52000") {
		t.Errorf("mileage arg = %#v, want json.Number", gotArgs["mileage"])
	}
}

func TestRouter_ListToolsAndVehicle(t *testing.T) {
	conv := &mockConversation{id: "conv-1"}
	router := newTestRouter(t, &mockManager{convs: map[string]*mockConversation{"conv-1": conv}}, nil)

	w := doRequest(router, http.MethodGet, "/api/conversations/conv-1/tools", "")
	var tools []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&tools); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tools) != 1 || tools[0]["name"] != "lookup_car" {
		t.Errorf("tools = %v", tools)
	}

	w = doRequest(router, http.MethodGet, "/api/conversations/conv-1/vehicle", "")
	var v vehicleResponse
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.HasVehicle || v.State != "unresolved" || !strings.HasPrefix(v.Details, "The car details are: ") {
		t.Errorf("vehicle = %+v", v)
	}
}

func TestRouter_GetHistory(t *testing.T) {
	var gotLimit int
	conv := &mockConversation{
		id: "conv-1",
		historyFn: func(ctx context.Context, limit int) ([]model.ConversationMessage, error) {
			gotLimit = limit
			return []model.ConversationMessage{{ID: 1, SessionID: "sess-1", Role: model.RoleUser, Content: "hello"}}, nil
		},
	}
	router := newTestRouter(t, &mockManager{convs: map[string]*mockConversation{"conv-1": conv}}, nil)

	w := doRequest(router, http.MethodGet, "/api/conversations/conv-1/history?limit=5", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got historyResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotLimit != 5 || len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("limit = %d, messages = %+v", gotLimit, got.Messages)
	}

	w = doRequest(router, http.MethodGet, "/api/conversations/conv-1/history?limit=abc", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid limit status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRouter_GetHistory_SessionRequired(t *testing.T) {
	conv := &mockConversation{
		id: "conv-1",
		historyFn: func(ctx context.Context, limit int) ([]model.ConversationMessage, error) {
			return nil, model.NewSessionRequiredError()
		},
	}
	router := newTestRouter(t, &mockManager{convs: map[string]*mockConversation{"conv-1": conv}}, nil)

	w := doRequest(router, http.MethodGet, "/api/conversations/conv-1/history", "")

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestRouter_DeleteConversation(t *testing.T) {
	manager := &mockManager{convs: map[string]*mockConversation{"conv-1": {id: "conv-1"}}}
	router := newTestRouter(t, manager, nil)

	w := doRequest(router, http.MethodDelete, "/api/conversations/conv-1", "")

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if diff := cmp.Diff([]string{"conv-1"}, manager.closed); diff != "" {
		t.Errorf("closed mismatch (-want +got):\n%s", diff)
	}
}

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewInvalidArgumentError("vin", "empty"), http.StatusBadRequest},
		{model.NewConversationNotFoundError("x"), http.StatusNotFound},
		{model.NewVehicleNotFoundError("x"), http.StatusNotFound},
		{model.NewUnknownToolError("x"), http.StatusNotFound},
		{model.NewVehicleConflictError("x"), http.StatusConflict},
		{model.NewVehicleRequiredError(), http.StatusConflict},
		{model.NewSessionRequiredError(), http.StatusConflict},
		{model.NewProfileIncompleteError([]string{"make"}), http.StatusUnprocessableEntity},
		{model.NewVINRequiredError(), http.StatusUnprocessableEntity},
		{model.NewStorageUnavailableError(), http.StatusServiceUnavailable},
		{&model.APIError{Code: "SOMETHING_ELSE"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(tt.err); got != tt.want {
				t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}
