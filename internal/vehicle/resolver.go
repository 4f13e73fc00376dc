// Package vehicle は会話中に対象となる車両を特定する状態機械を提供する。
package vehicle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/pitstop/internal/model"
	"github.com/hitoshi/pitstop/internal/nhtsa"
	"github.com/hitoshi/pitstop/internal/repository"
)

// State はリゾルバの状態。
type State int

const (
	// StateUnresolved は車両が特定されていない状態。
	StateUnresolved State = iota
	// StatePendingDecode はVINのデコードに成功したが未登録の車両を保持している状態。
	StatePendingDecode
	// StateIdentified は登録済みの車両が特定されている状態。
	StateIdentified
)

// String は状態名を返す。
func (s State) String() string {
	switch s {
	case StatePendingDecode:
		return "pending_decode"
	case StateIdentified:
		return "identified"
	default:
		return "unresolved"
	}
}

// VehicleStore は車両の永続化先。
type VehicleStore interface {
	FindByVIN(ctx context.Context, vin string) (*model.Vehicle, error)
	Create(ctx context.Context, vehicle *model.Vehicle) error
	UpdateMileage(ctx context.Context, vin string, mileage int, at time.Time) error
}

// Decoder はVINデコードとリコール検索を行う外部サービス。
type Decoder interface {
	DecodeVIN(ctx context.Context, vin string) (*model.VehicleInfo, error)
	RecallsByVIN(ctx context.Context, vin string) (*model.VehicleInfo, []model.RecallInfo)
}

// SessionLinker は会話セッションへの車両紐付けと監査ログの記録先。
type SessionLinker interface {
	LinkVehicle(ctx context.Context, sessionID, vin string) error
	AppendMessage(ctx context.Context, sessionID string, role model.Role, content string, metadata map[string]any) error
}

// ProfileInput は車両プロフィール作成の入力。
// VIN・メーカー・モデル・年式が空の場合はデコード済みの車両から補完する。
type ProfileInput struct {
	VIN        string
	Make       string
	Model      string
	Year       int
	OwnerName  string
	OwnerPhone string
	OwnerEmail string
	Mileage    int
}

// Resolver は1つの会話の車両特定状態を保持する。
// 外部通信とデータベースアクセスはロックの外で行い、結果の反映だけをロック内で一度に行う。
type Resolver struct {
	vehicles VehicleStore
	decoder  Decoder
	sessions SessionLinker
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     State
	current   model.Vehicle
	pending   *model.PendingVehicle
	sessionID string
}

// NewResolver はResolverの新しいインスタンスを生成する。
func NewResolver(vehicles VehicleStore, decoder Decoder, sessions SessionLinker, logger *slog.Logger) *Resolver {
	return &Resolver{
		vehicles: vehicles,
		decoder:  decoder,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}
}

// BindSession は以降の紐付けと監査ログの記録先セッションを設定する。
// デコード済みの未登録車両は永続化されないため破棄する。
func (r *Resolver) BindSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = sessionID
	if r.state == StatePendingDecode {
		r.state = StateUnresolved
		r.pending = nil
	}
}

// SessionID は紐付け先のセッションIDを返す。未設定の場合は空文字。
func (r *Resolver) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Reset は新しい会話のために状態を初期化する。
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateUnresolved
	r.current = model.Vehicle{}
	r.pending = nil
	r.sessionID = ""
}

// State は現在の状態を返す。
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// HasVehicle は車両が特定済みかどうかを返す。
func (r *Resolver) HasVehicle() bool {
	return r.State() == StateIdentified
}

// Current は特定済みの車両を返す。
func (r *Resolver) Current() (model.Vehicle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.state == StateIdentified
}

// Pending はデコード済みの未登録車両を返す。
func (r *Resolver) Pending() (model.PendingVehicle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return model.PendingVehicle{}, false
	}
	return *r.pending, true
}

// Details は特定済みの車両の概要を "key: value" 形式の行で返す。
// 未特定の場合は値が空になる。
func (r *Resolver) Details() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var vin, vehicleMake, modelName, year string
	if r.state == StateIdentified {
		vin = r.current.VIN
		vehicleMake = r.current.Make
		modelName = r.current.Model
		year = strconv.Itoa(r.current.Year)
	}
	return fmt.Sprintf("vin: %s\nmake: %s\nmodel: %s\nyear: %s\n", vin, vehicleMake, modelName, year)
}

// LookupByVIN はVINで車両を検索する。
// 登録済みであれば特定済みにし、未登録であればデコードして未登録車両として保持する。
// どちらにも失敗した場合は状態を変えない。
func (r *Resolver) LookupByVIN(ctx context.Context, vin string) (string, error) {
	vin = model.NormalizeVIN(vin)
	if vin == "" {
		return "", model.NewInvalidArgumentError("vin", "empty")
	}

	r.logger.Info("車両を検索します", slog.String("vin", vin))

	v, err := r.vehicles.FindByVIN(ctx, vin)
	if err != nil {
		r.logger.Error("車両の検索に失敗しました",
			slog.String("vin", vin),
			slog.String("error", err.Error()),
		)
		return "", model.NewStorageUnavailableError()
	}
	if v != nil {
		sessionID := r.bind(*v)
		r.linkSession(ctx, sessionID, v.VIN)
		return foundMessage(*v), nil
	}

	info, err := r.decoder.DecodeVIN(ctx, vin)
	if err != nil {
		return "", fmt.Errorf("VINのデコードが中断されました: %w", err)
	}
	if info == nil {
		r.logger.Info("VINに対応する車両が見つかりません", slog.String("vin", vin))
		return "", model.NewVehicleNotFoundError(vin)
	}

	pending := model.PendingVehicle{
		VIN:   vin,
		Make:  info.Make,
		Model: info.Model,
		Year:  info.Year,
	}

	r.mu.Lock()
	r.state = StatePendingDecode
	r.current = model.Vehicle{}
	r.pending = &pending
	r.mu.Unlock()

	r.logger.Info("VINをデコードしました",
		slog.String("vin", vin),
		slog.String("make", info.Make),
		slog.String("model", info.Model),
		slog.Int("year", info.Year),
	)
	return fmt.Sprintf("I decoded VIN %s as a %d %s %s, but I don't have a profile for it yet. "+
		"Would you like me to create one? I'll just need the owner's name and the current mileage.",
		vin, info.Year, info.Make, info.Model), nil
}

// Restore は再開したセッションに紐付いていた車両を特定済みにする。
// 外部デコードは行わず、登録済みの車両が見つかった場合だけtrueを返す。
func (r *Resolver) Restore(ctx context.Context, vin string) bool {
	vin = model.NormalizeVIN(vin)
	if vin == "" {
		return false
	}

	v, err := r.vehicles.FindByVIN(ctx, vin)
	if err != nil {
		r.logger.Warn("セッションの車両を復元できませんでした",
			slog.String("vin", vin),
			slog.String("error", err.Error()),
		)
		return false
	}
	if v == nil {
		return false
	}

	r.bind(*v)
	return true
}

// CreateProfile は車両プロフィールを作成し、作成した車両を特定済みにする。
// 失敗した場合は状態を変えない。
func (r *Resolver) CreateProfile(ctx context.Context, in ProfileInput) (string, error) {
	in.VIN = model.NormalizeVIN(in.VIN)
	in.Make = strings.TrimSpace(in.Make)
	in.Model = strings.TrimSpace(in.Model)
	in.OwnerName = strings.TrimSpace(in.OwnerName)

	if pending, ok := r.Pending(); ok && (in.VIN == "" || in.VIN == pending.VIN) {
		in.VIN = pending.VIN
		if in.Make == "" {
			in.Make = pending.Make
		}
		if in.Model == "" {
			in.Model = pending.Model
		}
		if in.Year == 0 {
			in.Year = pending.Year
		}
	}

	if missing := missingProfileFields(in); len(missing) > 0 {
		return "", model.NewProfileIncompleteError(missing)
	}
	if in.Mileage < 0 {
		return "", model.NewInvalidArgumentError("mileage", "negative")
	}

	now := r.now().UTC()
	v := model.Vehicle{
		VIN:        in.VIN,
		Make:       in.Make,
		Model:      in.Model,
		Year:       in.Year,
		Mileage:    in.Mileage,
		OwnerName:  in.OwnerName,
		OwnerPhone: strings.TrimSpace(in.OwnerPhone),
		OwnerEmail: strings.TrimSpace(in.OwnerEmail),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := r.vehicles.Create(ctx, &v); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			r.logger.Info("同一VINの車両が既に登録されています", slog.String("vin", v.VIN))
			return "", model.NewVehicleConflictError(v.VIN)
		}
		r.logger.Error("車両の作成に失敗しました",
			slog.String("vin", v.VIN),
			slog.String("error", err.Error()),
		)
		return "", model.NewStorageUnavailableError()
	}

	sessionID := r.bind(v)
	r.linkSession(ctx, sessionID, v.VIN)

	r.logger.Info("車両を作成しました", slog.String("vin", v.VIN))
	return fmt.Sprintf("Your profile for the %d %s %s has been created.", v.Year, v.Make, v.Model), nil
}

// UpdateMileage は特定済みの車両の走行距離を更新する。
func (r *Resolver) UpdateMileage(ctx context.Context, mileage int) (string, error) {
	current, ok := r.Current()
	if !ok {
		return "", model.NewVehicleRequiredError()
	}
	if mileage < 0 {
		return "", model.NewInvalidArgumentError("mileage", "negative")
	}

	now := r.now().UTC()
	if err := r.vehicles.UpdateMileage(ctx, current.VIN, mileage, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", model.NewVehicleNotFoundError(current.VIN)
		}
		r.logger.Error("走行距離の更新に失敗しました",
			slog.String("vin", current.VIN),
			slog.String("error", err.Error()),
		)
		return "", model.NewStorageUnavailableError()
	}

	r.mu.Lock()
	if r.state == StateIdentified && r.current.VIN == current.VIN {
		r.current = r.current.WithMileage(mileage, now)
	}
	r.mu.Unlock()

	return fmt.Sprintf("Got it. I've updated the mileage on your %d %s %s to %d miles.",
		current.Year, current.Make, current.Model, mileage), nil
}

// CheckRecalls は指定VIN、または特定済みの車両のリコールを検索して読み上げ文を返す。
// 状態は変えない。セッションがあればリコール件数を監査ログとして記録する。
func (r *Resolver) CheckRecalls(ctx context.Context, vin string) (string, error) {
	vin = model.NormalizeVIN(vin)

	r.mu.Lock()
	if vin == "" && r.state == StateIdentified {
		vin = r.current.VIN
	}
	sessionID := r.sessionID
	r.mu.Unlock()

	if vin == "" {
		return "", model.NewVINRequiredError()
	}

	info, recalls := r.decoder.RecallsByVIN(ctx, vin)
	if info == nil {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("リコール検索が中断されました: %w", err)
		}
		return "", model.NewVehicleNotFoundError(vin)
	}

	r.logger.Info("リコールを検索しました",
		slog.String("vin", vin),
		slog.Int("recall_count", len(recalls)),
	)

	if sessionID != "" {
		content := fmt.Sprintf("Recall check for VIN %s: %d recall(s) found", vin, len(recalls))
		metadata := map[string]any{
			"event":        "recall_check",
			"vin":          vin,
			"recall_count": len(recalls),
		}
		if err := r.sessions.AppendMessage(ctx, sessionID, model.RoleSystem, content, metadata); err != nil {
			r.logger.Warn("リコール検索の監査ログを記録できませんでした",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nhtsa.FormatRecallsForSpeech(recalls), nil
}

// bind は車両を特定済みにし、未登録車両を破棄する。紐付け先のセッションIDを返す。
func (r *Resolver) bind(v model.Vehicle) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateIdentified
	r.current = v
	r.pending = nil
	return r.sessionID
}

// linkSession はセッションに車両を紐付ける。失敗しても車両の特定は取り消さない。
func (r *Resolver) linkSession(ctx context.Context, sessionID, vin string) {
	if sessionID == "" {
		return
	}
	if err := r.sessions.LinkVehicle(ctx, sessionID, vin); err != nil {
		r.logger.Warn("セッションへの車両の紐付けに失敗しました",
			slog.String("session_id", sessionID),
			slog.String("vin", vin),
			slog.String("error", err.Error()),
		)
	}
}

func missingProfileFields(in ProfileInput) []string {
	var missing []string
	if in.VIN == "" {
		missing = append(missing, "vin")
	}
	if in.Make == "" {
		missing = append(missing, "make")
	}
	if in.Model == "" {
		missing = append(missing, "model")
	}
	if in.Year == 0 {
		missing = append(missing, "year")
	}
	if in.OwnerName == "" {
		missing = append(missing, "owner_name")
	}
	return missing
}

func foundMessage(v model.Vehicle) string {
	owner := ""
	if v.OwnerName != "" {
		owner = ", registered to " + v.OwnerName + ","
	}
	return fmt.Sprintf("I found your %d %s %s%s with %d miles on record. How can I help you with it today?",
		v.Year, v.Make, v.Model, owner, v.Mileage)
}
