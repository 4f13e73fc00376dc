package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/pitstop/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// last_activeは GREATEST(last_active + 1µs, 指定時刻) で更新し、複数プロセスからの書き込みでも単調増加させる。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

const sessionColumns = `id, session_id, user_identifier, identifier_type, COALESCE(vehicle_vin, ''),
	created_at, last_active, metadata`

const touchSessionSQL = `UPDATE sessions
	SET last_active = GREATEST(last_active + interval '1 microsecond', $2)
	WHERE session_id = $1
	RETURNING last_active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	s := &model.Session{}
	var metadata string
	if err := row.Scan(&s.ID, &s.SessionID, &s.UserIdentifier, &s.IdentifierType, &s.VehicleVIN,
		&s.CreatedAt, &s.LastActiveAt, &metadata); err != nil {
		return nil, err
	}
	s.Metadata = decodeMetadata(metadata)
	return s, nil
}

// ResumeOrCreate は (UserIdentifier, IdentifierType) の最新セッションを再開し、なければ作成する。
// 同じ組に対する処理はトランザクションスコープのアドバイザリロックで直列化する。
func (r *PostgresSessionRepo) ResumeOrCreate(ctx context.Context, candidate *model.Session) (*model.Session, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text || chr(31) || $2::text, 0))`,
		candidate.UserIdentifier, candidate.IdentifierType,
	); err != nil {
		return nil, false, fmt.Errorf("failed to lock session identity: %w", err)
	}

	existing, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE user_identifier = $1 AND identifier_type = $2
		 ORDER BY last_active DESC, id DESC
		 LIMIT 1`,
		candidate.UserIdentifier, candidate.IdentifierType,
	))
	switch {
	case err == nil:
		if err := tx.QueryRowContext(ctx, touchSessionSQL, existing.SessionID, candidate.LastActiveAt).
			Scan(&existing.LastActiveAt); err != nil {
			return nil, false, fmt.Errorf("failed to touch session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return existing, false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, false, fmt.Errorf("failed to find session by user: %w", err)
	}

	metadata, err := encodeMetadata(candidate.Metadata)
	if err != nil {
		return nil, false, err
	}

	created := *candidate
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO sessions (session_id, user_identifier, identifier_type, vehicle_vin, created_at, last_active, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		created.SessionID, created.UserIdentifier, created.IdentifierType, nullString(created.VehicleVIN),
		created.CreatedAt, created.LastActiveAt, metadata,
	).Scan(&created.ID); err != nil {
		return nil, false, classifyWriteError("failed to create session", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &created, true, nil
}

// FindByID は指定セッションIDのセッションを取得する。見つからない場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, sessionID string) (*model.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`,
		sessionID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return s, nil
}

// FindLatestByUser は指定した組で最も最近アクティブなセッションを取得する。
func (r *PostgresSessionRepo) FindLatestByUser(ctx context.Context, userIdentifier, identifierType string) (*model.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE user_identifier = $1 AND identifier_type = $2
		 ORDER BY last_active DESC, id DESC
		 LIMIT 1`,
		userIdentifier, identifierType,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session by user: %w", err)
	}
	return s, nil
}

// LinkVehicle はセッションに車両を紐付け、last_activeを進める。
func (r *PostgresSessionRepo) LinkVehicle(ctx context.Context, sessionID, vin string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE sessions
		 SET vehicle_vin = $2, last_active = GREATEST(last_active + interval '1 microsecond', $3)
		 WHERE session_id = $1`,
		sessionID, vin, at,
	)
	if err != nil {
		return classifyWriteError("failed to link vehicle", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// AppendMessage は会話ログを1件追記し、同一トランザクションでセッションのlast_activeを進める。
func (r *PostgresSessionRepo) AppendMessage(ctx context.Context, msg *model.ConversationMessage) error {
	metadata, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := tx.QueryRowContext(ctx,
		`INSERT INTO conversation_history (session_id, role, content, timestamp, metadata)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		msg.SessionID, string(msg.Role), msg.Content, msg.Timestamp, metadata,
	).Scan(&msg.ID); err != nil {
		return classifyWriteError("failed to insert message", err)
	}

	var lastActive time.Time
	if err := tx.QueryRowContext(ctx, touchSessionSQL, msg.SessionID, msg.Timestamp).Scan(&lastActive); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListRecentMessages は新しい順に最大limit件の会話ログを取得する。
func (r *PostgresSessionRepo) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]model.ConversationMessage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, timestamp, metadata
		 FROM conversation_history
		 WHERE session_id = $1
		 ORDER BY timestamp DESC, id DESC
		 LIMIT $2`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.ConversationMessage
	for rows.Next() {
		var m model.ConversationMessage
		var role, metadata string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = model.Role(role)
		m.Metadata = decodeMetadata(metadata)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
