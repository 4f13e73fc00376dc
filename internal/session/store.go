// Package session は会話セッションと会話ログのライフサイクルを管理する。
package session

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/pitstop/internal/model"
	"github.com/hitoshi/pitstop/internal/repository"
)

// DefaultHistoryLimit は履歴取得件数の既定値。
const DefaultHistoryLimit = 20

// Store はセッションストア。
// (利用者識別子, 識別子の種類) の組ごとに1つのセッションを再利用し、
// セッションへのすべての変更でlast_activeを進める。
type Store struct {
	repo         repository.SessionRepository
	logger       *slog.Logger
	clock        *Clock
	historyLimit int
}

// NewStore はStoreの新しいインスタンスを生成する。
// historyLimitが0以下の場合はDefaultHistoryLimitを使う。
func NewStore(repo repository.SessionRepository, logger *slog.Logger, historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Store{
		repo:         repo,
		logger:       logger,
		clock:        NewClock(),
		historyLimit: historyLimit,
	}
}

// CreateOrResume は組に対応する最新のセッションを再開し、なければ新しいセッションを作成する。
// 識別子の種類が異なるセッションは同一人物でも統合しない。
func (s *Store) CreateOrResume(ctx context.Context, userIdentifier, identifierType string) (string, error) {
	userIdentifier = strings.TrimSpace(userIdentifier)
	if userIdentifier == "" {
		return "", model.NewInvalidArgumentError("user_identifier", "empty")
	}
	identifierType = strings.TrimSpace(identifierType)
	if identifierType == "" {
		identifierType = model.IdentifierTypePhone
	}

	now := s.clock.Now()
	candidate := &model.Session{
		SessionID:      uuid.NewString(),
		UserIdentifier: userIdentifier,
		IdentifierType: identifierType,
		CreatedAt:      now,
		LastActiveAt:   now,
	}

	sess, created, err := s.repo.ResumeOrCreate(ctx, candidate)
	if err != nil {
		return "", fmt.Errorf("セッションの開始に失敗しました: %w", err)
	}

	if created {
		s.logger.Info("セッションを作成しました",
			slog.String("session_id", sess.SessionID),
			slog.String("identifier_type", identifierType),
		)
	} else {
		s.logger.Info("セッションを再開しました",
			slog.String("session_id", sess.SessionID),
			slog.String("identifier_type", identifierType),
		)
	}
	return sess.SessionID, nil
}

// LinkVehicle はセッションに車両を紐付ける。
func (s *Store) LinkVehicle(ctx context.Context, sessionID, vin string) error {
	vin = model.NormalizeVIN(vin)
	if err := s.repo.LinkVehicle(ctx, sessionID, vin, s.clock.Now()); err != nil {
		return fmt.Errorf("車両の紐付けに失敗しました: %w", err)
	}
	return nil
}

// AppendMessage は会話ログを1件追記する。
func (s *Store) AppendMessage(ctx context.Context, sessionID string, role model.Role, content string, metadata map[string]any) error {
	if !role.Valid() {
		return fmt.Errorf("不正な発話者です: %q", role)
	}

	msg := &model.ConversationMessage{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: s.clock.Now(),
		Metadata:  metadata,
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("会話ログの追記に失敗しました: %w", err)
	}
	return nil
}

// GetHistory は直近最大limit件の会話ログを古い順に返す。
// リポジトリの返却順に関わらず (timestamp, id) の昇順に並べ替える。
func (s *Store) GetHistory(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}

	messages, err := s.repo.ListRecentMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("会話履歴の取得に失敗しました: %w", err)
	}

	slices.SortFunc(messages, func(a, b model.ConversationMessage) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	if messages == nil {
		messages = []model.ConversationMessage{}
	}
	return messages, nil
}

// GetSession は指定セッションIDのセッションを返す。見つからない場合はnilを返す。
func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	sess, err := s.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗しました: %w", err)
	}
	return sess, nil
}

// FindByUser は組に対応する最新のセッションを返す。見つからない場合はnilを返す。
func (s *Store) FindByUser(ctx context.Context, userIdentifier, identifierType string) (*model.Session, error) {
	if identifierType == "" {
		identifierType = model.IdentifierTypePhone
	}
	sess, err := s.repo.FindLatestByUser(ctx, userIdentifier, identifierType)
	if err != nil {
		return nil, fmt.Errorf("セッションの検索に失敗しました: %w", err)
	}
	return sess, nil
}
