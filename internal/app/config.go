package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"lead-capture/internal/auth"
	"lead-capture/internal/db"
	"lead-capture/internal/ratelimit"
	"lead-capture/internal/webhook"
)

type Config struct {
	Environment string
	Port        string
	DatabaseURL string
	DBPool      db.PoolConfig

	JWTSecret      string
	TokenTTL       time.Duration
	BcryptCost     int
	RevokeOnLogout bool
	AdminEmail     string
	AdminPassword  string
	AdminName      string
	CookieDomain   string

	CORSAllowedOrigins []string
	CSRFMaxAge         time.Duration

	GeneralTier   ratelimit.Tier
	SensitiveTier ratelimit.Tier
	LeadsTier     ratelimit.Tier
	RedisURL      string
	TrustProxy    bool

	Webhook webhook.Config

	SentryDSN        string
	CronSecret       string
	LeadRetention    time.Duration
	CleanupBatchSize int
}

func (c Config) Production() bool {
	return c.Environment == "production"
}

// LoadConfig reads the environment and reports every invalid or missing
// value at once.
func LoadConfig() (Config, error) {
	env := &envReader{}

	cfg := Config{
		Environment: strings.ToLower(env.orDefault("APP_ENV", "development")),
		Port:        env.orDefault("PORT", "8080"),
		DatabaseURL: env.required("DATABASE_URL"),
		DBPool: db.PoolConfig{
			MaxOpenConns:    env.intOrDefault("DB_MAX_OPEN_CONNS", 10, 1),
			MaxIdleConns:    env.intOrDefault("DB_MAX_IDLE_CONNS", 5, 0),
			ConnMaxLifetime: env.minutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: env.minutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		},

		JWTSecret:      env.required("JWT_SECRET"),
		TokenTTL:       env.hoursOrDefault("TOKEN_TTL_HOURS", int(auth.DefaultTokenTTL/time.Hour)),
		BcryptCost:     env.intOrDefault("BCRYPT_COST", auth.DefaultBcryptCost, 1),
		RevokeOnLogout: EnvBoolOrDefault("AUTH_REVOKE_ON_LOGOUT", false),
		AdminEmail:     env.required("ADMIN_EMAIL"),
		AdminPassword:  env.requiredRaw("ADMIN_PASSWORD"),
		AdminName:      env.orDefault("ADMIN_NAME", "Admin"),
		CookieDomain:   env.orDefault("COOKIE_DOMAIN", ""),

		CORSAllowedOrigins: splitList(env.orDefault("CORS_ALLOWED_ORIGINS", "")),
		CSRFMaxAge:         env.hoursOrDefault("CSRF_TOKEN_MAX_AGE_HOURS", 24),

		GeneralTier:   env.tier(ratelimit.GeneralTier()),
		SensitiveTier: env.tier(ratelimit.SensitiveTier()),
		LeadsTier:     env.tier(ratelimit.LeadsTier()),
		RedisURL:      env.orDefault("REDIS_URL", ""),
		TrustProxy:    EnvBoolOrDefault("TRUST_PROXY", false),

		Webhook: webhook.Config{
			URL:     env.orDefault("WEBHOOK_URL", ""),
			Secret:  env.orDefault("WEBHOOK_SECRET", ""),
			Timeout: env.secondsOrDefault("WEBHOOK_TIMEOUT_SECONDS", int(webhook.DefaultTimeout/time.Second)),
		},

		SentryDSN:        env.orDefault("SENTRY_DSN", ""),
		CronSecret:       env.orDefault("CRON_SECRET", ""),
		LeadRetention:    time.Duration(env.intOrDefault("LEAD_RETENTION_DAYS", 0, 0)) * 24 * time.Hour,
		CleanupBatchSize: env.intOrDefault("CLEANUP_BATCH_SIZE", 500, 1),
	}

	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < auth.MinSecretLength {
		env.fail(fmt.Errorf("JWT_SECRET must be at least %d bytes", auth.MinSecretLength))
	}

	if err := env.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type envReader struct {
	errs []error
}

func (e *envReader) fail(err error) {
	e.errs = append(e.errs, err)
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) required(name string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		e.fail(fmt.Errorf("missing required env: %s", name))
	}
	return value
}

// requiredRaw keeps surrounding whitespace; passwords are taken verbatim.
func (e *envReader) requiredRaw(name string) string {
	value := os.Getenv(name)
	if strings.TrimSpace(value) == "" {
		e.fail(fmt.Errorf("missing required env: %s", name))
	}
	return value
}

func (e *envReader) orDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func (e *envReader) intOrDefault(name string, fallback, minimum int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < minimum {
		e.fail(fmt.Errorf("invalid env %s: must be an integer >= %d", name, minimum))
		return fallback
	}
	return parsed
}

func (e *envReader) minutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(e.intOrDefault(name, fallback, 1)) * time.Minute
}

func (e *envReader) hoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(e.intOrDefault(name, fallback, 1)) * time.Hour
}

func (e *envReader) secondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(e.intOrDefault(name, fallback, 1)) * time.Second
}

func (e *envReader) tier(base ratelimit.Tier) ratelimit.Tier {
	prefix := "RATE_LIMIT_" + strings.ToUpper(base.Name)
	return base.WithOverrides(
		e.intOrDefault(prefix+"_MAX", base.Limit, 1),
		e.secondsOrDefault(prefix+"_WINDOW_SECONDS", int(base.Window/time.Second)),
	)
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
