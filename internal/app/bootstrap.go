package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"lead-capture/internal/apierror"
	"lead-capture/internal/auth"
	"lead-capture/internal/csrf"
	"lead-capture/internal/db"
	"lead-capture/internal/lead"
	"lead-capture/internal/maintenance"
	"lead-capture/internal/observability"
	"lead-capture/internal/ratelimit"
	"lead-capture/internal/webhook"
)

const (
	AuthCookieName = "auth_token"
	startupTimeout = 15 * time.Second
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Config  Config
	Close   func() error
}

type LeadRepository interface {
	lead.Store
	maintenance.LeadPurger
}

// Dependencies are the stateful collaborators of the HTTP surface. Build
// fills them from Postgres, Redis and the webhook endpoint; tests pass fakes.
type Dependencies struct {
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Accounts  auth.CredentialStore
	Leads     LeadRepository
	RateStore ratelimit.Store
	Notifier  lead.Notifier
	Health    func(ctx context.Context) error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL, cfg.DBPool)
	if err != nil {
		return nil, err
	}

	if options.RunMigrations {
		if err := db.RunMigrations(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	var redisClient *redis.Client
	var rateStore ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RedisURL != "" {
		redisClient, err = ratelimit.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, err
		}
		rateStore = ratelimit.NewRedisStore(redisClient, "lead-capture:ratelimit")
		logger.Info("rate_limit_store", map[string]any{"store": "redis"})
	} else {
		logger.Info("rate_limit_store", map[string]any{"store": "memory"})
	}

	metrics := observability.NewMetrics()
	dispatcher := webhook.NewDispatcher(cfg.Webhook, logger).WithMetrics(metrics)

	handler, err := NewServer(ctx, cfg, Dependencies{
		Logger:    logger,
		Metrics:   metrics,
		Accounts:  auth.NewRepository(database),
		Leads:     lead.NewRepository(database),
		RateStore: rateStore,
		Notifier:  dispatcher,
		Health:    database.PingContext,
	})
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		_ = database.Close()
		return nil, err
	}

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Close: func() error {
			dispatcher.Wait()
			observability.FlushSentry()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return database.Close()
		},
	}, nil
}

// NewServer provisions the admin account and assembles the request pipeline:
// recover, request log, CORS, general rate limit, then per-route tier, CSRF,
// authentication and role checks.
func NewServer(ctx context.Context, cfg Config, deps Dependencies) (http.Handler, error) {
	logger := deps.Logger
	metrics := deps.Metrics
	production := cfg.Production()
	responder := apierror.NewResponder(logger, production)

	hasher, err := auth.NewPasswordHasher(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("init password hasher: %w", err)
	}
	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init token issuer: %w", err)
	}
	if cfg.RevokeOnLogout {
		tokens.WithDenylist(auth.NewDenylist(0, tokens.TTL()))
	}

	authService := auth.NewService(deps.Accounts, hasher, tokens).WithMetrics(metrics)
	if _, err := authService.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminName, cfg.AdminPassword); err != nil {
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	guard, err := csrf.NewGuard(csrf.DeriveKey(cfg.JWTSecret), csrf.Config{
		Secure: production,
		Domain: cfg.CookieDomain,
		MaxAge: cfg.CSRFMaxAge,
	}, responder)
	if err != nil {
		return nil, fmt.Errorf("init csrf guard: %w", err)
	}
	guard.WithMetrics(metrics)

	limiter := ratelimit.NewLimiter(deps.RateStore, responder, logger).
		WithTrustProxy(cfg.TrustProxy).
		WithMetrics(metrics)
	authenticator := auth.NewAuthenticator(tokens, responder, AuthCookieName).WithMetrics(metrics)

	authHandler := auth.NewHandler(authService, responder, auth.CookieConfig{
		Name:   AuthCookieName,
		Secure: production,
		Domain: cfg.CookieDomain,
	})
	leadHandler := lead.NewHandler(deps.Leads, deps.Notifier, responder)

	var sweeper maintenance.WindowSweeper
	if s, ok := deps.RateStore.(maintenance.WindowSweeper); ok {
		sweeper = s
	}
	cleanupHandler := maintenance.NewCleanupHandler(
		deps.Leads,
		sweeper,
		logger,
		responder,
		cfg.CronSecret,
		cfg.LeadRetention,
		cfg.CleanupBatchSize,
	)

	sensitive := func(next http.Handler) http.Handler {
		return limiter.Middleware(cfg.SensitiveTier, next)
	}
	admin := func(next http.HandlerFunc) http.Handler {
		return guard.Middleware(authenticator.RequireAdmin(next))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /csrf-token", guard.TokenHandler)
	mux.Handle("POST /auth/login", sensitive(http.HandlerFunc(authHandler.Login)))
	mux.Handle("GET /auth/me", authenticator.RequireAuthenticated(http.HandlerFunc(authHandler.Me)))
	mux.Handle("POST /auth/logout", authenticator.Optional(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("POST /leads", limiter.Middleware(cfg.LeadsTier, http.HandlerFunc(leadHandler.Create)))
	mux.Handle("GET /admin/leads", admin(leadHandler.List))
	mux.Handle("GET /admin/leads/{id}", admin(leadHandler.Get))
	mux.Handle("PATCH /admin/leads/{id}", sensitive(admin(leadHandler.Update)))
	mux.Handle("DELETE /admin/leads/{id}", sensitive(admin(leadHandler.Delete)))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(deps.Health))
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var handler http.Handler = mux
	handler = limiter.Middleware(cfg.GeneralTier, handler)
	handler = CORSMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = observability.RequestLoggingMiddleware(logger, metrics, handler)
	handler = observability.RecoverMiddleware(logger, handler)

	logger.Info("server_configured", map[string]any{
		"environment":       cfg.Environment,
		"token_ttl_hours":   int(tokens.TTL() / time.Hour),
		"token_revocation":  tokens.RevocationEnabled(),
		"trust_proxy":       cfg.TrustProxy,
		"lead_retention":    cfg.LeadRetention.String(),
		"cors_origin_count": len(cfg.CORSAllowedOrigins),
	})

	return handler, nil
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if ping != nil {
			if err := ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
