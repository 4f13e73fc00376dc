package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// NHTSA
	VPICBaseURL     string
	NHTSABaseURL    string
	NHTSATimeout    time.Duration
	NHTSARetryDelay time.Duration
	NHTSARatePerSec float64
	NHTSAUserAgent  string

	// Conversation
	HistoryLimit        int
	ConversationIdleTTL time.Duration

	// Rate Limit
	RateLimitGeneral int

	// Cleanup
	LogRetentionDays int
	CleanupInterval  time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.VPICBaseURL = getEnvString("VPIC_BASE_URL", "https://vpic.nhtsa.dot.gov/api")
	cfg.NHTSABaseURL = getEnvString("NHTSA_BASE_URL", "https://api.nhtsa.gov")
	cfg.NHTSATimeout = getEnvDuration("NHTSA_TIMEOUT", 10*time.Second)
	cfg.NHTSARetryDelay = getEnvDuration("NHTSA_RETRY_DELAY", 500*time.Millisecond)
	cfg.NHTSARatePerSec = getEnvFloat("NHTSA_RATE_PER_SEC", 5)
	cfg.NHTSAUserAgent = getEnvString("NHTSA_USER_AGENT", "Pitstop-Voice-Agent/1.0")
	cfg.HistoryLimit = getEnvInt("HISTORY_LIMIT", 20)
	cfg.ConversationIdleTTL = getEnvDuration("CONVERSATION_IDLE_TTL", 30*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 90)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// getEnvFloat は解析できない値と0以下の値をデフォルトに戻す。
func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
