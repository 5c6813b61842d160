package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "AUTHGATE_"

// Config carries all runtime settings, populated from AUTHGATE_* environment
// variables with defaults suitable for local development.
type Config struct {
	Env        string
	ListenAddr string
	LogLevel   string

	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TokenSecret string
	TokenIssuer string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	ResetTTL    time.Duration

	ConnectAttempts int
	ConnectBackoff  time.Duration
	ProbeInterval   time.Duration

	LoginLimit    int
	RegisterLimit int
	ResetLimit    int
	RateWindow    time.Duration

	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string
}

// Load reads configuration from the environment. The token secret is the
// only mandatory setting.
func Load() (*Config, error) {
	cfg := &Config{
		Env:        getString("ENV", "development"),
		ListenAddr: getString("LISTEN_ADDR", ":8080"),
		LogLevel:   getString("LOG_LEVEL", "info"),

		PostgresDSN:   getString("PG_DSN", ""),
		RedisAddr:     getString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getString("REDIS_PASSWORD", ""),

		TokenSecret: getString("AUTH_SECRET", ""),
		TokenIssuer: getString("TOKEN_ISSUER", "authgate"),

		SMTPHost: getString("SMTP_HOST", ""),
		SMTPPort: getString("SMTP_PORT", "587"),
		SMTPUser: getString("SMTP_USER", ""),
		SMTPPass: getString("SMTP_PASS", ""),
		SMTPFrom: getString("SMTP_FROM", ""),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.AccessTTL, err = getDuration("ACCESS_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.RefreshTTL, err = getDuration("REFRESH_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ResetTTL, err = getDuration("RESET_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ConnectAttempts, err = getInt("CONNECT_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.ConnectBackoff, err = getDuration("CONNECT_BACKOFF", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.ProbeInterval, err = getDuration("PROBE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.LoginLimit, err = getInt("LOGIN_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.RegisterLimit, err = getInt("REGISTER_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.ResetLimit, err = getInt("RESET_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.RateWindow, err = getDuration("RATE_WINDOW", time.Minute); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.TokenSecret) == "" {
		return nil, errors.New("config: " + envPrefix + "AUTH_SECRET is required")
	}
	if cfg.ConnectAttempts < 1 {
		return nil, errors.New("config: " + envPrefix + "CONNECT_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s%s: %w", envPrefix, key, err)
	}
	return v, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(envPrefix + key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s%s: %w", envPrefix, key, err)
	}
	return v, nil
}
