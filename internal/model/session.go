package model

import "time"

// 識別子の種類。任意の文字列を受け付けるが、未指定時はIdentifierTypePhoneを使う。
const (
	IdentifierTypePhone = "phone"
	IdentifierTypeWeb   = "web"
)

// Session は (UserIdentifier, IdentifierType) の組に対応する会話セッションを表す。
type Session struct {
	ID             int64          `json:"-"`
	SessionID      string         `json:"session_id"`
	UserIdentifier string         `json:"user_identifier"`
	IdentifierType string         `json:"identifier_type"`
	VehicleVIN     string         `json:"vehicle_vin,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActiveAt   time.Time      `json:"last_active"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Role は会話メッセージの発話者を表す。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid はRoleが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ConversationMessage はセッションに追記される会話ログの1件を表す。
type ConversationMessage struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
