package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// InsecureDevSecret은 APP_ENV=development일 때만 허용.
const InsecureDevSecret = "dev-insecure-secret"

type AppConfig struct {
	Port     int
	AppEnv   string
	FeedAddr string

	Secret              string
	UsingInsecureSecret bool

	SessionTTL      time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	SweepInterval   time.Duration
	MaxCheckpoints  int

	CORSOrigin string
	TrustProxy bool

	RedisURL      string
	AuditRedisMax int64
	DatabaseURL   string

	MessagesDir string
}

// Development는 로컬 개발 모드 여부를 반환.
func (c *AppConfig) Development() bool {
	return c != nil && strings.EqualFold(c.AppEnv, "development")
}

// Addr는 API 서버 listen 주소.
func (c *AppConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:            3000,
		AppEnv:          "production",
		SessionTTL:      10 * time.Minute,
		RateLimitMax:    10,
		RateLimitWindow: time.Hour,
		SweepInterval:   time.Minute,
		MaxCheckpoints:  1000,
		CORSOrigin:      "*",
		AuditRedisMax:   10000,
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
			cfg.Port = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("APP_ENV")); v != "" {
		cfg.AppEnv = strings.ToLower(v)
	}
	cfg.FeedAddr = strings.TrimSpace(os.Getenv("FEED_ADDR"))
	cfg.Secret = strings.TrimSpace(os.Getenv("SCORE_SECRET"))

	if n, ok := positiveInt("SESSION_TTL_SEC"); ok {
		cfg.SessionTTL = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt("RATE_LIMIT_MAX"); ok {
		cfg.RateLimitMax = n
	}
	if n, ok := positiveInt("RATE_LIMIT_WINDOW_SEC"); ok {
		cfg.RateLimitWindow = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt("SWEEP_INTERVAL_SEC"); ok {
		cfg.SweepInterval = time.Duration(n) * time.Second
	}
	if n, ok := positiveInt("MAX_CHECKPOINTS"); ok {
		cfg.MaxCheckpoints = n
	}
	if v := strings.TrimSpace(os.Getenv("CORS_ORIGIN")); v != "" {
		cfg.CORSOrigin = v
	}
	if v := strings.TrimSpace(os.Getenv("TRUST_PROXY")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.TrustProxy = b
		}
	}

	// Audit sinks are optional
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if n, ok := positiveInt("AUDIT_REDIS_MAX"); ok {
		cfg.AuditRedisMax = int64(n)
	}
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))

	if cfg.Secret == "" {
		if !cfg.Development() {
			return nil, errors.New("SCORE_SECRET is required outside APP_ENV=development")
		}
		cfg.Secret = InsecureDevSecret
		cfg.UsingInsecureSecret = true
	}
	if cfg.Secret == InsecureDevSecret && !cfg.Development() {
		return nil, errors.New("SCORE_SECRET must not use the development default")
	}

	return cfg, nil
}

func positiveInt(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
