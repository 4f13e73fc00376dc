package assistant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pitstop/internal/model"
)

// DefaultIdleTTL は会話を破棄するまでの既定の無操作時間。
const DefaultIdleTTL = 30 * time.Minute

type managedConversation struct {
	conv     *Conversation
	lastUsed time.Time
}

// Manager は進行中の会話を保持し、一定時間操作のない会話を破棄する。
type Manager struct {
	deps    Dependencies
	idleTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu            sync.Mutex
	conversations map[string]*managedConversation
}

// NewManager はManagerの新しいインスタンスを生成する。idleTTLが0以下の場合は既定値を使う。
func NewManager(deps Dependencies, idleTTL time.Duration) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Manager{
		deps:          deps,
		idleTTL:       idleTTL,
		logger:        deps.Logger,
		now:           deps.Now,
		newID:         uuid.NewString,
		conversations: make(map[string]*managedConversation),
	}
}

// Create は会話を開始し、利用者のセッションを作成または再開する。
// セッションの開始に失敗した場合、会話は登録されない。
func (m *Manager) Create(ctx context.Context, userIdentifier, identifierType string) (*Conversation, error) {
	conv := NewConversation(m.newID(), m.deps)
	sessionID, err := conv.StartSession(ctx, userIdentifier, identifierType)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.conversations[conv.ID()] = &managedConversation{conv: conv, lastUsed: m.now()}
	m.mu.Unlock()

	m.logger.Info("会話を開始しました",
		slog.String("conversation_id", conv.ID()),
		slog.String("session_id", sessionID),
		slog.Bool("has_vehicle", conv.HasVehicle()),
	)
	return conv, nil
}

// Get は会話を返し、最終利用時刻を更新する。
func (m *Manager) Get(id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.conversations[id]
	if !ok {
		return nil, model.NewConversationNotFoundError(id)
	}
	mc.lastUsed = m.now()
	return mc.conv, nil
}

// Close は会話を終了し、デコード済みの未登録車両を含む状態を破棄する。
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	mc, ok := m.conversations[id]
	delete(m.conversations, id)
	m.mu.Unlock()

	if !ok {
		return model.NewConversationNotFoundError(id)
	}
	mc.conv.close()
	m.logger.Info("会話を終了しました", slog.String("conversation_id", id))
	return nil
}

// Len は保持している会話の数を返す。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conversations)
}

// EvictIdle は無操作時間がidleTTLを超えた会話を破棄し、破棄した数を返す。
// ターンの処理中の会話は対象外とする。
func (m *Manager) EvictIdle() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var evicted []*Conversation
	for id, mc := range m.conversations {
		if !mc.lastUsed.Before(cutoff) {
			continue
		}
		if !mc.conv.mu.TryLock() {
			continue
		}
		mc.conv.resolver.Reset()
		mc.conv.mu.Unlock()
		delete(m.conversations, id)
		evicted = append(evicted, mc.conv)
	}
	m.mu.Unlock()

	for _, conv := range evicted {
		m.logger.Info("無操作の会話を破棄しました", slog.String("conversation_id", conv.ID()))
	}
	return len(evicted)
}

// Start はintervalごとに無操作の会話を破棄する。ctxがキャンセルされるまでブロックする。
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("会話の掃除を開始しました",
		slog.Duration("interval", interval),
		slog.Duration("idle_ttl", m.idleTTL),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("会話の掃除を停止しました")
			return
		case <-ticker.C:
			if n := m.EvictIdle(); n > 0 {
				m.logger.Info("会話の掃除を実行しました", slog.Int("evicted", n))
			}
		}
	}
}
