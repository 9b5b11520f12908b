package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLength = 12
	MaxPasswordBytes  = 72
	MinBcryptCost     = 10
	DefaultBcryptCost = 12
)

var ErrWeakPassword = errors.New("password does not meet policy")

// dummyPassword is hashed once per hasher so that logins for unknown
// identities spend the same bcrypt time as a wrong password.
const dummyPassword = "lead-capture-dummy-password-0"

type PasswordHasher struct {
	cost  int
	dummy []byte
}

func NewPasswordHasher(cost int) (*PasswordHasher, error) {
	if cost < MinBcryptCost {
		cost = MinBcryptCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("hash dummy password: %w", err)
	}

	return &PasswordHasher{cost: cost, dummy: dummy}, nil
}

func (h *PasswordHasher) Cost() int {
	return h.cost
}

func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (h *PasswordHasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		h.VerifyDummy(plaintext)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

func (h *PasswordHasher) VerifyDummy(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
}

// CheckPasswordPolicy is enforced when credentials are provisioned, never at
// login: a short wrong password must still read as invalid credentials.
func CheckPasswordPolicy(plaintext, identity string) error {
	if len(plaintext) < MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	if len(plaintext) > MaxPasswordBytes {
		return fmt.Errorf("%w: must be at most %d bytes", ErrWeakPassword, MaxPasswordBytes)
	}

	var hasLetter, hasDigit bool
	for _, r := range plaintext {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("%w: must contain letters and digits", ErrWeakPassword)
	}

	if identity != "" && strings.EqualFold(strings.TrimSpace(plaintext), strings.TrimSpace(identity)) {
		return fmt.Errorf("%w: must differ from the identity", ErrWeakPassword)
	}

	return nil
}
