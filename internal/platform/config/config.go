// Package config loads process configuration from the environment exactly
// once at startup. There are no lazy lookups: Load validates everything up
// front and production refuses to start with required settings missing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Env is the runtime environment.
type Env string

const (
	EnvProduction  Env = "production"
	EnvDevelopment Env = "development"
	EnvTest        Env = "test"
)

// IsValid checks if the environment is one of the supported values.
func (e Env) IsValid() bool {
	switch e {
	case EnvProduction, EnvDevelopment, EnvTest:
		return true
	}
	return false
}

// RedisConfig captures connection settings for the distributed counter store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Config is the immutable process configuration.
type Config struct {
	Env  Env
	Addr string

	// Origin allow-list entries: exact origins or "*.domain" suffix rules.
	AllowedOrigins []string

	// Dev-only route gate. DevKeyHash (bcrypt) takes precedence over the
	// plaintext DevKey when both are set.
	DevKey     string
	DevKeyHash string

	// Cron authentication. Either mechanism is sufficient per route.
	CronSecret        string
	CronSecretHash    string
	CronSigningSecret string

	// Webhook signature verification default secret.
	WebhookSecret string

	// Identity resolution.
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	Redis RedisConfig

	// Optional audit outbox database. Empty means in-memory audit.
	DatabaseURL string
}

// IsProduction reports whether the process runs with production guarantees.
func (c Config) IsProduction() bool { return c.Env == EnvProduction }

// Load builds the Config from environment variables, failing fast on
// invalid or missing required settings. The returned error names every
// missing key so operators fix them in one pass.
func Load() (Config, error) {
	env := Env(getEnv("GUARD_ENV", string(EnvDevelopment)))
	if !env.IsValid() {
		return Config{}, fmt.Errorf("GUARD_ENV must be one of production, development, test; got %q", env)
	}

	cfg := Config{
		Env:               env,
		Addr:              getEnv("GUARD_ADDR", ":8080"),
		AllowedOrigins:    splitList(os.Getenv("GUARD_ALLOWED_ORIGINS")),
		DevKey:            os.Getenv("GUARD_DEV_KEY"),
		DevKeyHash:        os.Getenv("GUARD_DEV_KEY_HASH"),
		CronSecret:        os.Getenv("GUARD_CRON_SECRET"),
		CronSecretHash:    os.Getenv("GUARD_CRON_SECRET_HASH"),
		CronSigningSecret: os.Getenv("GUARD_CRON_SIGNING_SECRET"),
		WebhookSecret:     os.Getenv("GUARD_WEBHOOK_SECRET"),
		JWTSigningKey:     os.Getenv("GUARD_JWT_SIGNING_KEY"),
		JWTIssuer:         getEnv("GUARD_JWT_ISSUER", "apiguard"),
		JWTAudience:       getEnv("GUARD_JWT_AUDIENCE", "apiguard"),
		DatabaseURL:       os.Getenv("GUARD_DATABASE_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("GUARD_REDIS_URL"),
			PoolSize:     getEnvInt("GUARD_REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("GUARD_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("GUARD_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("GUARD_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("GUARD_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}

	if cfg.IsProduction() {
		var missing []string
		if cfg.JWTSigningKey == "" {
			missing = append(missing, "GUARD_JWT_SIGNING_KEY")
		}
		if cfg.Redis.URL == "" {
			// Rate limiting fails closed in production; refusing to boot
			// without the counter store beats serving 503s.
			missing = append(missing, "GUARD_REDIS_URL")
		}
		if len(cfg.AllowedOrigins) == 0 {
			missing = append(missing, "GUARD_ALLOWED_ORIGINS")
		}
		if cfg.CronSecret == "" && cfg.CronSecretHash == "" && cfg.CronSigningSecret == "" {
			missing = append(missing, "GUARD_CRON_SECRET or GUARD_CRON_SIGNING_SECRET")
		}
		if cfg.WebhookSecret == "" {
			missing = append(missing, "GUARD_WEBHOOK_SECRET")
		}
		if len(missing) > 0 {
			return Config{}, fmt.Errorf("missing required production configuration: %s", strings.Join(missing, ", "))
		}
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
