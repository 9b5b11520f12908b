// Package csrf implements double-submit CSRF protection with signed tokens.
//
// The token travels twice: in a cookie readable by same-origin script and in
// the X-CSRF-Token header that script copies it into. A cross-origin page can
// make the browser send the cookie but cannot read it to build the header.
// The cookie is always SameSite=Strict and Secure outside development.
// Tokens are HMAC-signed so a cookie planted by a sibling subdomain is
// rejected as well.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"time"

	"lead-capture/internal/apierror"
	"lead-capture/internal/observability"
)

const (
	CookieName    = "csrf_token"
	HeaderName    = "X-CSRF-Token"
	DefaultMaxAge = 24 * time.Hour
	MinKeyLength  = 32

	nonceSize = 16
	tsSize    = 8
	tokenSize = nonceSize + tsSize + sha256.Size
)

var (
	ErrMissingToken  = errors.New("csrf token missing")
	ErrTokenMismatch = errors.New("csrf token mismatch")
	ErrInvalidToken  = errors.New("csrf token invalid or expired")
)

// DeriveKey separates the CSRF key from the session signing secret so that
// neither kind of token can be replayed as the other.
func DeriveKey(secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("csrf-v1"))
	return mac.Sum(nil)
}

type Config struct {
	Secure bool
	Domain string
	MaxAge time.Duration
}

type Guard struct {
	key       []byte
	config    Config
	responder *apierror.Responder
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewGuard(key []byte, config Config, responder *apierror.Responder) (*Guard, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("csrf key must be at least %d bytes", MinKeyLength)
	}
	if config.MaxAge <= 0 {
		config.MaxAge = DefaultMaxAge
	}

	return &Guard{
		key:       key,
		config:    config,
		responder: responder,
		now:       time.Now,
	}, nil
}

func (g *Guard) WithMetrics(metrics *observability.Metrics) *Guard {
	g.metrics = metrics
	return g
}

// RequiresCheck reports whether requests with this method change state.
func RequiresCheck(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func (g *Guard) Mint() (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate csrf nonce: %w", err)
	}

	ts := make([]byte, tsSize)
	binary.BigEndian.PutUint64(ts, uint64(g.now().UnixMicro()))

	buf := make([]byte, 0, tokenSize)
	buf = append(buf, nonce...)
	buf = append(buf, ts...)
	buf = append(buf, g.sign(nonce, ts)...)

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (g *Guard) sign(nonce, ts []byte) []byte {
	mac := hmac.New(sha256.New, g.key)
	mac.Write(nonce)
	mac.Write(ts)
	return mac.Sum(nil)
}

// valid checks signature and age; it says nothing about who holds the token.
func (g *Guard) valid(token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenSize {
		return false
	}

	nonce := raw[:nonceSize]
	ts := raw[nonceSize : nonceSize+tsSize]
	sig := raw[nonceSize+tsSize:]

	issued := time.UnixMicro(int64(binary.BigEndian.Uint64(ts)))
	now := g.now()
	if now.Sub(issued) > g.config.MaxAge || issued.Sub(now) > time.Minute {
		return false
	}

	return hmac.Equal(sig, g.sign(nonce, ts))
}

// Issue returns the token already held in the request cookie while it is
// still valid, and otherwise mints a fresh one and sets the cookie.
func (g *Guard) Issue(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(CookieName); err == nil && g.valid(cookie.Value) {
		return cookie.Value, nil
	}

	token, err := g.Mint()
	if err != nil {
		return "", err
	}
	http.SetCookie(w, g.cookie(token))
	return token, nil
}

func (g *Guard) cookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   g.config.Domain,
		MaxAge:   int(g.config.MaxAge.Seconds()),
		HttpOnly: false,
		Secure:   g.config.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// Validate checks a request; safe methods always pass.
func (g *Guard) Validate(r *http.Request) error {
	if !RequiresCheck(r.Method) {
		return nil
	}

	header := r.Header.Get(HeaderName)
	cookie, err := r.Cookie(CookieName)
	if header == "" || err != nil || cookie.Value == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
		return ErrTokenMismatch
	}
	if !g.valid(cookie.Value) {
		return ErrInvalidToken
	}
	return nil
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Validate(r); err != nil {
			g.metrics.CSRFRejected()
			g.responder.Error(w, r, apierror.CSRF("invalid csrf token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TokenHandler serves GET /csrf-token.
func (g *Guard) TokenHandler(w http.ResponseWriter, r *http.Request) {
	token, err := g.Issue(w, r)
	if err != nil {
		g.responder.Error(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	g.responder.JSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}
