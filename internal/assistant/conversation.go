// Package assistant は会話ごとの判断フローをまとめ、外部の会話ランタイムに公開する。
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/pitstop/internal/guardrail"
	"github.com/hitoshi/pitstop/internal/model"
	"github.com/hitoshi/pitstop/internal/vehicle"
)

// Guard は入力検査と出力フィルタ。
type Guard interface {
	CheckInput(text string) guardrail.Result
	FilterOutput(text string) string
}

// SessionStore は会話セッションと会話ログの保存先。
type SessionStore interface {
	CreateOrResume(ctx context.Context, userIdentifier, identifierType string) (string, error)
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	LinkVehicle(ctx context.Context, sessionID, vin string) error
	AppendMessage(ctx context.Context, sessionID string, role model.Role, content string, metadata map[string]any) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error)
}

// ServiceRecordLister は整備履歴の参照先。
type ServiceRecordLister interface {
	ListByVIN(ctx context.Context, vin string, limit int) ([]model.ServiceRecord, error)
}

// AppointmentBooker は入庫予約の登録先。
type AppointmentBooker interface {
	Create(ctx context.Context, appointment *model.Appointment) error
}

// Recorder はツール呼び出しの結果を記録する。
type Recorder interface {
	RecordToolCall(tool, outcome string)
}

// Dependencies は会話が利用する依存をまとめる。
type Dependencies struct {
	Guard          Guard
	Vehicles       vehicle.VehicleStore
	Decoder        vehicle.Decoder
	Sessions       SessionStore
	ServiceRecords ServiceRecordLister
	Appointments   AppointmentBooker
	Metrics        Recorder
	Logger         *slog.Logger
	Now            func() time.Time
}

// Action はターンの次の処理。
type Action string

const (
	// ActionReply はReplyをそのまま読み上げる。
	ActionReply Action = "reply"
	// ActionForwardQuery は特定済みの車両について発話を言語モデルへ渡す。
	ActionForwardQuery Action = "forward_query"
	// ActionFindProfile はSystemPromptを使って車両の特定を促す。
	ActionFindProfile Action = "find_profile"
)

// TurnResult は1ターンの判断結果。
type TurnResult struct {
	Action       Action           `json:"action"`
	Guardrail    guardrail.Result `json:"guardrail"`
	Reply        string           `json:"reply,omitempty"`
	Utterance    string           `json:"utterance,omitempty"`
	SystemPrompt string           `json:"system_prompt,omitempty"`
}

// Conversation は1つの会話の状態と操作を持つ。
// 同じ会話のターンとツール呼び出しはmuで直列化される。
type Conversation struct {
	id       string
	guard    Guard
	resolver *vehicle.Resolver
	sessions SessionStore
	records  ServiceRecordLister
	booker   AppointmentBooker
	metrics  Recorder
	logger   *slog.Logger
	now      func() time.Time
	tools    map[string]Tool

	mu sync.Mutex
}

// NewConversation は会話を生成する。
func NewConversation(id string, deps Dependencies) *Conversation {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	c := &Conversation{
		id:       id,
		guard:    deps.Guard,
		resolver: vehicle.NewResolver(deps.Vehicles, deps.Decoder, deps.Sessions, logger),
		sessions: deps.Sessions,
		records:  deps.ServiceRecords,
		booker:   deps.Appointments,
		metrics:  deps.Metrics,
		logger:   logger.With(slog.String("conversation_id", id)),
		now:      now,
	}
	c.tools = c.toolTable()
	return c
}

// ID は会話IDを返す。
func (c *Conversation) ID() string {
	return c.id
}

// SessionID は紐付いたセッションIDを返す。
func (c *Conversation) SessionID() string {
	return c.resolver.SessionID()
}

// CheckInput は発話を検査する。
func (c *Conversation) CheckInput(text string) guardrail.Result {
	return c.guard.CheckInput(text)
}

// FilterOutput は応答文を出力フィルタに通す。
func (c *Conversation) FilterOutput(text string) string {
	return c.guard.FilterOutput(text)
}

// HasVehicle は車両が特定済みかどうかを返す。
func (c *Conversation) HasVehicle() bool {
	return c.resolver.HasVehicle()
}

// VehicleState は車両特定の状態を返す。
func (c *Conversation) VehicleState() vehicle.State {
	return c.resolver.State()
}

// HandleTurn は利用者の発話を1件処理し、次に行う処理を返す。
// 失敗はすべて読み上げ文に変換され、エラーは返さない。
func (c *Conversation) HandleTurn(ctx context.Context, text string) TurnResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := c.guard.CheckInput(text)
	if !res.Allowed() {
		reply := c.guard.FilterOutput(res.Message)
		if strings.TrimSpace(res.OriginalInput) != "" {
			c.logMessage(ctx, model.RoleUser, res.OriginalInput, map[string]any{"guardrail": string(res.Status)})
		}
		c.logMessage(ctx, model.RoleAssistant, reply, nil)
		return TurnResult{Action: ActionReply, Guardrail: res, Reply: reply}
	}

	c.logMessage(ctx, model.RoleUser, res.OriginalInput, nil)
	if c.resolver.HasVehicle() {
		return TurnResult{Action: ActionForwardQuery, Guardrail: res, Utterance: res.OriginalInput}
	}
	return TurnResult{
		Action:       ActionFindProfile,
		Guardrail:    res,
		Utterance:    res.OriginalInput,
		SystemPrompt: LookupVINPrompt(res.OriginalInput),
	}
}

// CompleteTurn は言語モデルの応答を出力フィルタに通して記録し、読み上げる文を返す。
func (c *Conversation) CompleteTurn(ctx context.Context, responseText string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	text := c.guard.FilterOutput(responseText)
	c.logMessage(ctx, model.RoleAssistant, text, nil)
	return text
}

// StartSession は利用者のセッションを作成または再開し、この会話に紐付ける。
// 特定済みの車両があればセッションに紐付け、なければセッションに紐付いていた車両を復元する。
func (c *Conversation) StartSession(ctx context.Context, userIdentifier, identifierType string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessionID, err := c.sessions.CreateOrResume(ctx, userIdentifier, identifierType)
	if err != nil {
		return "", err
	}
	c.resolver.BindSession(sessionID)

	if v, ok := c.resolver.Current(); ok {
		if err := c.sessions.LinkVehicle(ctx, sessionID, v.VIN); err != nil {
			c.logger.Warn("セッションへの車両の紐付けに失敗しました",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
		return sessionID, nil
	}

	sess, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		c.logger.Warn("セッションの取得に失敗しました",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return sessionID, nil
	}
	if sess != nil && sess.VehicleVIN != "" && c.resolver.Restore(ctx, sess.VehicleVIN) {
		c.logger.Info("セッションの車両を復元しました",
			slog.String("session_id", sessionID),
			slog.String("vin", sess.VehicleVIN),
		)
	}
	return sessionID, nil
}

// LogMessage は会話ログを1件記録する。
func (c *Conversation) LogMessage(ctx context.Context, role model.Role, content string, metadata map[string]any) error {
	sessionID := c.resolver.SessionID()
	if sessionID == "" {
		return model.NewSessionRequiredError()
	}
	return c.sessions.AppendMessage(ctx, sessionID, role, content, metadata)
}

// GetHistory は会話ログを古い順に最大limit件返す。
func (c *Conversation) GetHistory(ctx context.Context, limit int) ([]model.ConversationMessage, error) {
	sessionID := c.resolver.SessionID()
	if sessionID == "" {
		return nil, model.NewSessionRequiredError()
	}
	return c.sessions.GetHistory(ctx, sessionID, limit)
}

// LookupVIN はVINで車両を検索し、結果を読み上げる文を返す。
func (c *Conversation) LookupVIN(ctx context.Context, vin string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(toolLookupCar, func() (string, error) {
		return c.resolver.LookupByVIN(ctx, vin)
	})
}

// GetCarDetails は特定済みの車両の概要を返す。
func (c *Conversation) GetCarDetails() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(toolGetCarDetails, c.carDetails)
}

// CreateProfile は車両プロフィールを作成する。
func (c *Conversation) CreateProfile(ctx context.Context, in vehicle.ProfileInput) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(toolCreateCar, func() (string, error) {
		return c.resolver.CreateProfile(ctx, in)
	})
}

// UpdateMileage は特定済みの車両の走行距離を更新する。
func (c *Conversation) UpdateMileage(ctx context.Context, mileage int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(toolUpdateMileage, func() (string, error) {
		return c.resolver.UpdateMileage(ctx, mileage)
	})
}

// CheckRecalls はリコール情報を読み上げる文を返す。vinが空の場合は特定済みの車両を使う。
func (c *Conversation) CheckRecalls(ctx context.Context, vin string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(toolCheckRecalls, func() (string, error) {
		return c.resolver.CheckRecalls(ctx, vin)
	})
}

// GetServiceHistory は特定済みの車両の整備履歴を読み上げる文を返す。
func (c *Conversation) GetServiceHistory(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(toolGetServiceHistory, func() (string, error) {
		return c.serviceHistory(ctx)
	})
}

// ScheduleAppointment は入庫予約を登録する。
func (c *Conversation) ScheduleAppointment(ctx context.Context, req AppointmentRequest) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(toolScheduleAppointment, func() (string, error) {
		return c.scheduleAppointment(ctx, req)
	})
}

// close は会話終了時に状態を破棄する。
func (c *Conversation) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolver.Reset()
}

// run は操作を実行し、結果を読み上げる文に変換して記録する。
func (c *Conversation) run(tool string, fn func() (string, error)) string {
	msg, err := fn()
	if err != nil {
		c.logger.Warn("ツールの実行に失敗しました",
			slog.String("tool", tool),
			slog.String("error", err.Error()),
		)
		c.record(tool, outcomeOf(err))
		return SpeakError(err)
	}
	c.record(tool, "ok")
	return msg
}

func (c *Conversation) record(tool, outcome string) {
	if c.metrics != nil {
		c.metrics.RecordToolCall(tool, outcome)
	}
}

// logMessage はセッションがある場合だけ会話ログを記録する。記録の失敗はターンを失敗させない。
func (c *Conversation) logMessage(ctx context.Context, role model.Role, content string, metadata map[string]any) {
	sessionID := c.resolver.SessionID()
	if sessionID == "" {
		return
	}
	if err := c.sessions.AppendMessage(ctx, sessionID, role, content, metadata); err != nil {
		c.logger.Warn("会話ログの記録に失敗しました",
			slog.String("session_id", sessionID),
			slog.String("role", string(role)),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Conversation) carDetails() (string, error) {
	return fmt.Sprintf("The car details are: %s", c.resolver.Details()), nil
}
