package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lead-capture/internal/apierror"
	"lead-capture/internal/observability"
)

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

type Limiter struct {
	store      Store
	responder  *apierror.Responder
	logger     *observability.Logger
	metrics    *observability.Metrics
	trustProxy bool
	now        func() time.Time
}

func NewLimiter(store Store, responder *apierror.Responder, logger *observability.Logger) *Limiter {
	return &Limiter{
		store:     store,
		responder: responder,
		logger:    logger,
		now:       time.Now,
	}
}

// WithTrustProxy makes the limiter key on the first X-Forwarded-For hop. Only
// enable it behind a proxy that overwrites that header.
func (l *Limiter) WithTrustProxy(trust bool) *Limiter {
	l.trustProxy = trust
	return l
}

func (l *Limiter) WithMetrics(metrics *observability.Metrics) *Limiter {
	l.metrics = metrics
	return l
}

func (l *Limiter) Allow(ctx context.Context, tier Tier, identity string) (Decision, error) {
	now := l.now()
	counter, err := l.store.Hit(ctx, tier.Name+":"+identity, tier.Window, now)
	if err != nil {
		return Decision{Allowed: true, Limit: tier.Limit, Remaining: tier.Limit}, err
	}

	decision := Decision{
		Allowed: counter.Count <= int64(tier.Limit),
		Limit:   tier.Limit,
		ResetAt: counter.ResetAt,
	}
	if remaining := int64(tier.Limit) - counter.Count; remaining > 0 {
		decision.Remaining = int(remaining)
	}
	if !decision.Allowed {
		decision.RetryAfter = counter.ResetAt.Sub(now)
	}

	return decision, nil
}

func (l *Limiter) Middleware(tier Tier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r, l.trustProxy)

		decision, err := l.Allow(r.Context(), tier, ip)
		if err != nil {
			// Fail open: a broken counter store must not take the site down.
			l.logger.Warn("rate_limit_store_failed", map[string]any{
				"tier":  tier.Name,
				"error": err.Error(),
			})
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			l.metrics.RateLimited(tier.Name)
			l.logger.Info("rate_limited", map[string]any{
				"tier": tier.Name,
				"ip":   ip,
				"path": r.URL.Path,
			})
			l.responder.Error(w, r, apierror.RateLimited(decision.RetryAfter))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
		if xForwardedFor != "" {
			ip := strings.TrimSpace(strings.Split(xForwardedFor, ",")[0])
			if ip != "" {
				return ip
			}
		}
	}

	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
