package handler

import (
	"context"

	"github.com/hitoshi/pitstop/internal/assistant"
)

// ManagerAdapter は assistant.Manager を ConversationManager に適合させるアダプタ。
type ManagerAdapter struct {
	m *assistant.Manager
}

// NewManagerAdapter はManagerAdapterを生成する。
func NewManagerAdapter(m *assistant.Manager) *ManagerAdapter {
	return &ManagerAdapter{m: m}
}

// Create は会話を開始する。
func (a *ManagerAdapter) Create(ctx context.Context, userIdentifier, identifierType string) (Conversation, error) {
	conv, err := a.m.Create(ctx, userIdentifier, identifierType)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Get は会話を取得する。
func (a *ManagerAdapter) Get(id string) (Conversation, error) {
	conv, err := a.m.Get(id)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Close は会話を終了する。
func (a *ManagerAdapter) Close(id string) error {
	return a.m.Close(id)
}
