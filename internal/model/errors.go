// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// Messageは音声でそのまま読み上げられる文であり、Actionはオペレーター向けの対処方法。
type APIError struct {
	Code     string // エラーコード
	Message  string // 読み上げ用メッセージ
	Category string // カテゴリ: vehicle, validation, session, tool, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeVehicleNotFound      = "VEHICLE_NOT_FOUND"
	ErrCodeVehicleConflict      = "VEHICLE_CONFLICT"
	ErrCodeStorageUnavailable   = "STORAGE_UNAVAILABLE"
	ErrCodeProfileIncomplete    = "PROFILE_INCOMPLETE"
	ErrCodeVehicleRequired      = "VEHICLE_REQUIRED"
	ErrCodeVINRequired          = "VIN_REQUIRED"
	ErrCodeUnknownTool          = "UNKNOWN_TOOL"
	ErrCodeInvalidArgument      = "INVALID_ARGUMENT"
	ErrCodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	ErrCodeSessionRequired      = "SESSION_REQUIRED"
)

// NewVehicleNotFoundError はVINに対応する車両が見つからない場合のエラーを生成する。
func NewVehicleNotFoundError(vin string) *APIError {
	return &APIError{
		Code:     ErrCodeVehicleNotFound,
		Message:  fmt.Sprintf("I couldn't find a vehicle with VIN %s. Could you double-check the number and read it to me again?", vin),
		Category: "vehicle",
		Action:   "VINの17桁を確認してください。",
	}
}

// NewVehicleConflictError は同一VINの車両が既に登録されている場合のエラーを生成する。
func NewVehicleConflictError(vin string) *APIError {
	return &APIError{
		Code:     ErrCodeVehicleConflict,
		Message:  fmt.Sprintf("It looks like a profile for VIN %s may already exist. Would you like me to look it up instead?", vin),
		Category: "vehicle",
		Action:   "lookup_carで既存の車両を検索してください。",
	}
}

// NewStorageUnavailableError は永続化に失敗した場合のエラーを生成する。
func NewStorageUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "I'm having trouble saving that right now. Could you try again in a moment?",
		Category: "system",
		Action:   "データベースの状態を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewProfileIncompleteError は車両プロフィールの作成に必要な項目が不足している場合のエラーを生成する。
func NewProfileIncompleteError(missing []string) *APIError {
	return &APIError{
		Code:     ErrCodeProfileIncomplete,
		Message:  fmt.Sprintf("To create your vehicle profile I still need the following: %s.", joinFields(missing)),
		Category: "vehicle",
		Action:   fmt.Sprintf("不足している項目を指定してください: %v", missing),
	}
}

// NewVehicleRequiredError は車両が特定されていない状態で車両操作を行った場合のエラーを生成する。
func NewVehicleRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeVehicleRequired,
		Message:  "Please look up your vehicle first. Could you give me your VIN?",
		Category: "vehicle",
		Action:   "先にlookup_carまたはcreate_carで車両を特定してください。",
	}
}

// NewVINRequiredError はVINが指定されておらず、特定済みの車両もない場合のエラーを生成する。
func NewVINRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeVINRequired,
		Message:  "I'll need your vehicle's VIN to check for recalls. You can usually find it on your dashboard or the driver's side door.",
		Category: "vehicle",
		Action:   "VINを指定してください。",
	}
}

// NewUnknownToolError は未登録のツール名が呼び出された場合のエラーを生成する。
func NewUnknownToolError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownTool,
		Message:  "Sorry, I can't do that right now. Is there something else I can help you with?",
		Category: "tool",
		Action:   fmt.Sprintf("未登録のツールです: %s", name),
	}
}

// NewInvalidArgumentError はツール引数が不正な場合のエラーを生成する。
func NewInvalidArgumentError(name, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidArgument,
		Message:  fmt.Sprintf("I didn't get a valid %s. Could you say that again?", humanize(name)),
		Category: "validation",
		Action:   fmt.Sprintf("引数 %s が不正です: %s", name, reason),
	}
}

// NewConversationNotFoundError は会話が存在しない、または期限切れの場合のエラーを生成する。
func NewConversationNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeConversationNotFound,
		Message:  "This conversation has ended. Please start a new one.",
		Category: "session",
		Action:   fmt.Sprintf("会話が見つかりません: %s", id),
	}
}

// NewSessionRequiredError はセッション未開始で履歴操作を行った場合のエラーを生成する。
func NewSessionRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionRequired,
		Message:  "I wasn't able to find your session. Let's start over.",
		Category: "session",
		Action:   "先にセッションを開始してください。",
	}
}

func joinFields(fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = humanize(f)
	}
	if len(parts) <= 1 {
		return strings.Join(parts, "")
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

// humanize はsnake_caseの引数名を読み上げ用の語句に変換する。
func humanize(field string) string {
	switch field {
	case "vin":
		return "VIN"
	case "owner_name":
		return "owner's name"
	case "owner_phone":
		return "owner's phone number"
	}
	return strings.ReplaceAll(field, "_", " ")
}
