package auth

import (
	"context"
	"net/http"
	"strings"

	"lead-capture/internal/apierror"
	"lead-capture/internal/observability"
)

type principalKey struct{}

func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(Principal)
	return principal, ok
}

// TokenFromRequest returns the bearer token, falling back to the session
// cookie. When an Authorization header is present it wins, even if malformed.
func TokenFromRequest(r *http.Request, cookieName string) (string, bool) {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		token := strings.TrimSpace(parts[1])
		return token, token != ""
	}

	if cookieName == "" {
		return "", false
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

type Authenticator struct {
	tokens     *TokenIssuer
	responder  *apierror.Responder
	metrics    *observability.Metrics
	cookieName string
}

func NewAuthenticator(tokens *TokenIssuer, responder *apierror.Responder, cookieName string) *Authenticator {
	return &Authenticator{tokens: tokens, responder: responder, cookieName: cookieName}
}

func (a *Authenticator) WithMetrics(metrics *observability.Metrics) *Authenticator {
	a.metrics = metrics
	return a
}

func (a *Authenticator) authenticate(r *http.Request) (Principal, error) {
	token, ok := TokenFromRequest(r, a.cookieName)
	if !ok {
		return Principal{}, apierror.Authentication("missing authorization token")
	}
	principal, err := a.tokens.Verify(token)
	if err != nil {
		return Principal{}, apierror.Authentication("invalid or expired token")
	}
	return principal, nil
}

func (a *Authenticator) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := a.authenticate(r)
		if err != nil {
			a.metrics.AuthFailure("unauthenticated")
			a.responder.Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Optional attaches the principal when a valid token is presented and
// otherwise passes the request through untouched.
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principal, err := a.authenticate(r); err == nil {
			r = r.WithContext(WithPrincipal(r.Context(), principal))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole must run after RequireAuthenticated. A request that reaches it
// without a principal is an authentication failure, not an authorization one.
func (a *Authenticator) RequireRole(role Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFrom(r.Context())
		if !ok {
			a.metrics.AuthFailure("unauthenticated")
			a.responder.Error(w, r, apierror.Authentication("missing authorization token"))
			return
		}
		if principal.Role != role {
			a.metrics.AuthFailure("forbidden")
			a.responder.Error(w, r, apierror.Authorization("insufficient role"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.RequireAuthenticated(a.RequireRole(RoleAdmin, next))
}
