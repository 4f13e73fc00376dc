package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

var (
	// ErrNotFound は更新対象の行が存在しないことを示す。
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey は一意制約違反を示す。
	ErrDuplicateKey = errors.New("duplicate key")
)

// PostgreSQLのSQLSTATE
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// isPQError はerrが指定SQLSTATEのpq.Errorかどうかを返す。
func isPQError(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

// classifyWriteError は書き込みエラーをリポジトリの番兵エラーに変換する。
func classifyWriteError(op string, err error) error {
	switch {
	case isPQError(err, pqUniqueViolation):
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	case isPQError(err, pqForeignKeyViolation):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// nullString は空文字をNULLとして書き込む。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// encodeMetadata はmetadataをJSONテキストに変換する。nilは"{}"になる。
func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

// decodeMetadata はJSONテキストをmetadataに戻す。空オブジェクトと壊れた値はnilになる。
func decodeMetadata(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
