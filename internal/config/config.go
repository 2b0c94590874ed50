package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string

	StripeSecretKey     string
	StripeWebhookSecret string
	StripeBaseURL       string
	Currency            string

	IdempotencyTTL     time.Duration
	RedemptionWindow   time.Duration
	PickupETA          time.Duration
	WebhookBodyLimit   int64
	WebhookTolerance   time.Duration
	IntentRateLimit    int
	IntentRateWindow   time.Duration
	WebhookRateLimit   int
	WebhookRateWindow  time.Duration
	ReconcileInterval  time.Duration
	ReconcileMinAge    time.Duration
	ReconcileBatchSize int
	MigrateOnStart     bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:         k.String("DATABASE_URL"),
		RedisURL:            k.String("REDIS_URL"),
		JWTSecret:           k.String("JWT_SECRET"),
		JWTIssuer:           strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience:         strings.TrimSpace(k.String("JWT_AUDIENCE")),
		CORSAllowedOrigins:  splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		StripeSecretKey:     k.String("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: k.String("STRIPE_WEBHOOK_SECRET"),
		StripeBaseURL:       valueOrDefault(k.String("STRIPE_BASE_URL"), "https://api.stripe.com"),
		Currency:            valueOrDefault(strings.ToLower(k.String("CURRENCY_CODE")), "usd"),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RedemptionWindow:    parseDuration(k.String("REDEMPTION_WINDOW"), "2h"),
		PickupETA:           parseDuration(k.String("ORDER_PICKUP_ETA"), "15m"),
		WebhookBodyLimit:    int64(k.Int("WEBHOOK_BODY_LIMIT_BYTES")),
		WebhookTolerance:    parseDuration(k.String("WEBHOOK_SIGNATURE_TOLERANCE"), "5m"),
		IntentRateLimit:     intOrDefault(k.Int("INTENT_RATE_LIMIT"), 30),
		IntentRateWindow:    parseDuration(k.String("INTENT_RATE_WINDOW"), "1m"),
		WebhookRateLimit:    intOrDefault(k.Int("WEBHOOK_RATE_LIMIT"), 300),
		WebhookRateWindow:   parseDuration(k.String("WEBHOOK_RATE_WINDOW"), "1m"),
		ReconcileInterval:   parseDuration(k.String("RECONCILE_INTERVAL"), "5m"),
		ReconcileMinAge:     parseDuration(k.String("RECONCILE_MIN_AGE"), "15m"),
		ReconcileBatchSize:  intOrDefault(k.Int("RECONCILE_BATCH_SIZE"), 100),
		MigrateOnStart:      parseBool(valueOrDefault(k.String("DB_MIGRATE_ON_START"), "true")),
	}

	if cfg.WebhookBodyLimit <= 0 {
		cfg.WebhookBodyLimit = 1 << 20
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.StripeSecretKey == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is required")
	}
	if cfg.StripeWebhookSecret == "" {
		return nil, errors.New("STRIPE_WEBHOOK_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
