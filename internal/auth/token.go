package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	MinSecretLength = 32
	DefaultTokenTTL = 24 * time.Hour
	tokenIssuer     = "lead-capture"
)

var (
	ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
	ErrInvalidToken   = errors.New("invalid or expired token")
)

type Claims struct {
	Identity string `json:"identity"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 session tokens. Verification needs no
// database round trip; the optional denylist is the only revocation path.
type TokenIssuer struct {
	secret   []byte
	ttl      time.Duration
	denylist *Denylist
	now      func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (t *TokenIssuer) WithDenylist(denylist *Denylist) *TokenIssuer {
	t.denylist = denylist
	return t
}

func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

func (t *TokenIssuer) RevocationEnabled() bool {
	return t.denylist != nil
}

// Issue signs a token for the account. A non-positive ttl falls back to the
// issuer's configured lifetime.
func (t *TokenIssuer) Issue(accountID, identity string, role Role, ttl time.Duration) (string, time.Time, error) {
	if accountID == "" || !role.Valid() {
		return "", time.Time{}, fmt.Errorf("issue token: invalid subject or role")
	}
	if ttl <= 0 {
		ttl = t.ttl
	}

	tokenID, err := uuid.NewRandom()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token id: %w", err)
	}

	now := t.now().UTC()
	expiresAt := jwt.NewNumericDate(now.Add(ttl))
	claims := Claims{
		Identity: identity,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   accountID,
			ID:        tokenID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: expiresAt,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, expiresAt.Time, nil
}

func (t *TokenIssuer) Verify(tokenStr string) (Principal, error) {
	if tokenStr == "" {
		return Principal{}, ErrInvalidToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	// jwt treats now == exp as still valid; the session ends at exp.
	if !t.now().Before(claims.ExpiresAt.Time) {
		return Principal{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" || !claims.Role.Valid() {
		return Principal{}, ErrInvalidToken
	}
	if t.denylist != nil && t.denylist.Contains(claims.ID) {
		return Principal{}, ErrInvalidToken
	}

	return Principal{
		AccountID: claims.Subject,
		Identity:  claims.Identity,
		Role:      claims.Role,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke reports whether the token was added to the denylist.
func (t *TokenIssuer) Revoke(principal Principal) bool {
	if t.denylist == nil || principal.TokenID == "" {
		return false
	}
	t.denylist.Add(principal.TokenID, principal.ExpiresAt)
	return true
}
