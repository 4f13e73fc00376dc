// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/pitstop/internal/model"
)

// VehicleRepository は車両データの永続化インターフェース。
// VINは呼び出し側で正規化済みであることを前提とする。
type VehicleRepository interface {
	// FindByVIN は指定VINの車両を取得する。見つからない場合はnilを返す。
	FindByVIN(ctx context.Context, vin string) (*model.Vehicle, error)

	// Create は車両を作成する。
	// 同一VINが既に存在する場合はErrDuplicateKeyをラップしたエラーを返す。
	Create(ctx context.Context, vehicle *model.Vehicle) error

	// UpdateMileage は走行距離を更新する。車両が存在しない場合はErrNotFoundを返す。
	UpdateMileage(ctx context.Context, vin string, mileage int, at time.Time) error
}

// SessionRepository はセッションと会話ログの永続化インターフェース。
// 会話ログへの追記は必ずセッションのlast_activeを同一トランザクションで進める。
type SessionRepository interface {
	// ResumeOrCreate は (UserIdentifier, IdentifierType) の最新セッションを再開する。
	// 存在しない場合はcandidateを新規作成する。判定と作成は同じ組について直列化される。
	// 戻り値は再開または作成されたセッションと、新規作成されたかどうか。
	ResumeOrCreate(ctx context.Context, candidate *model.Session) (*model.Session, bool, error)

	// FindByID は指定セッションIDのセッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, sessionID string) (*model.Session, error)

	// FindLatestByUser は指定した組で最も最近アクティブなセッションを取得する。
	// 見つからない場合はnilを返す。
	FindLatestByUser(ctx context.Context, userIdentifier, identifierType string) (*model.Session, error)

	// LinkVehicle はセッションに車両を紐付け、last_activeを進める。
	// セッションが存在しない場合はErrNotFoundを返す。
	LinkVehicle(ctx context.Context, sessionID, vin string, at time.Time) error

	// AppendMessage は会話ログを1件追記し、セッションのlast_activeを進める。
	// 採番されたIDをmsg.IDに設定する。
	AppendMessage(ctx context.Context, msg *model.ConversationMessage) error

	// ListRecentMessages は新しい順に最大limit件の会話ログを取得する。
	ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error)
}

// ServiceRecordRepository は整備履歴の永続化インターフェース。
type ServiceRecordRepository interface {
	// ListByVIN は車両の整備履歴を整備日の新しい順に最大limit件取得する。
	ListByVIN(ctx context.Context, vin string, limit int) ([]model.ServiceRecord, error)

	// Create は整備履歴を作成する。
	Create(ctx context.Context, record *model.ServiceRecord) error
}

// AppointmentRepository は入庫予約の永続化インターフェース。
type AppointmentRepository interface {
	// Create は予約を作成する。Statusが空の場合はscheduledとして保存する。
	Create(ctx context.Context, appointment *model.Appointment) error

	// ListByVIN は車両の予約を予約日の昇順で取得する。
	ListByVIN(ctx context.Context, vin string) ([]model.Appointment, error)
}
