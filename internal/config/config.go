// Package config holds walletd runtime settings.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultListenAddr    = ":8080"
	defaultAllowedOrigin = "http://localhost:8000"
	defaultSessionIssuer = "tauth"
	defaultSessionCookie = "app_session"
	defaultAdminRole     = "admin"
	defaultRequestTime   = 5 * time.Second
	defaultHistoryLimit  = 20
	maxHistoryLimit      = 200
	defaultKafkaTopic    = "storewallet.notifications"
	defaultRedisPrefix   = "storewallet:balance"
	defaultDotEnvFile    = ".env"
)

// Config aggregates runtime settings for walletd.
type Config struct {
	ListenAddr         string
	DatabaseURL        string
	UsePgx             bool
	RequestTimeout     time.Duration
	HistoryLimit       int
	AllowedOrigins     []string
	SessionSigningKey  string
	SessionIssuer      string
	SessionCookieName  string
	AdminRole          string
	KafkaBrokers       []string
	KafkaTopic         string
	RedisAddr          string
	RedisChannelPrefix string
	CatalogFile        string
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	if err := cfg.ValidateStorage(); err != nil {
		return err
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

// ValidateStorage is Validate without the HTTP session requirements, for
// offline commands that only touch the database.
func (cfg *Config) ValidateStorage() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTime
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	cfg.AdminRole = defaultIfEmpty(cfg.AdminRole, defaultAdminRole)
	cfg.KafkaTopic = defaultIfEmpty(cfg.KafkaTopic, defaultKafkaTopic)
	cfg.RedisChannelPrefix = defaultIfEmpty(cfg.RedisChannelPrefix, defaultRedisPrefix)

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.UsePgx && !isPostgresURL(cfg.DatabaseURL) {
		return fmt.Errorf("pgx store requires a postgres database url")
	}
	if cfg.HistoryLimit > maxHistoryLimit {
		return fmt.Errorf("history limit must not exceed %d", maxHistoryLimit)
	}
	return nil
}

// KafkaEnabled reports whether notifications go to Kafka.
func (cfg Config) KafkaEnabled() bool {
	return len(cfg.KafkaBrokers) > 0
}

// RedisEnabled reports whether balance events go to Redis.
func (cfg Config) RedisEnabled() bool {
	return strings.TrimSpace(cfg.RedisAddr) != ""
}

// LoadDotEnv loads environment files, skipping ones that do not exist.
// With no paths it reads ".env" from the working directory.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{defaultDotEnvFile}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// ParseList splits a comma-delimited value into trimmed, non-empty parts.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}

func isPostgresURL(databaseURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(databaseURL))
	return strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://")
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
