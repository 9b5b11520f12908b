package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lead-capture/internal/observability"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type CredentialStore interface {
	FindByIdentity(ctx context.Context, identity string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	UpsertAdmin(ctx context.Context, identity, name, passwordHash string) (Account, error)
}

type Service struct {
	store   CredentialStore
	hasher  *PasswordHasher
	tokens  *TokenIssuer
	metrics *observability.Metrics
}

func NewService(store CredentialStore, hasher *PasswordHasher, tokens *TokenIssuer) *Service {
	return &Service{store: store, hasher: hasher, tokens: tokens}
}

func (s *Service) WithMetrics(metrics *observability.Metrics) *Service {
	s.metrics = metrics
	return s
}

func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// Login never tells the caller whether the identity exists: unknown
// identities and wrong passwords both cost one bcrypt compare and both
// return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, identity, password string) (LoginResult, error) {
	identity = NormalizeIdentity(identity)
	if identity == "" || password == "" {
		s.metrics.Login("invalid")
		return LoginResult{}, ErrInvalidCredentials
	}

	account, err := s.store.FindByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			s.hasher.VerifyDummy(password)
			s.metrics.Login("invalid")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		s.metrics.Login("invalid")
		return LoginResult{}, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(account.ID, account.Identity, account.Role, 0)
	if err != nil {
		return LoginResult{}, err
	}

	s.metrics.Login("success")
	return LoginResult{
		Success:   true,
		Token:     token,
		ExpiresAt: expiresAt,
		User:      account.Public(),
	}, nil
}

func (s *Service) CurrentUser(ctx context.Context, principal Principal) (PublicUser, error) {
	account, err := s.store.FindByID(ctx, principal.AccountID)
	if err != nil {
		return PublicUser{}, err
	}
	// A token minted before the account changed role is not honoured.
	if account.Role != principal.Role {
		return PublicUser{}, ErrAccountNotFound
	}
	return account.Public(), nil
}

// Logout revokes the token only when a denylist is configured; otherwise the
// token stays valid until it expires and the client just drops it.
func (s *Service) Logout(principal Principal) bool {
	return s.tokens.Revoke(principal)
}

// BootstrapAdmin provisions the single admin account from configuration.
// Missing or weak credentials are returned as errors so startup aborts.
func (s *Service) BootstrapAdmin(ctx context.Context, identity, name, password string) (Account, error) {
	identity = NormalizeIdentity(identity)
	name = strings.TrimSpace(name)

	if identity == "" || password == "" {
		return Account{}, fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required")
	}
	if name == "" {
		name = "Admin"
	}
	if err := CheckPasswordPolicy(password, identity); err != nil {
		return Account{}, fmt.Errorf("admin password: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Account{}, err
	}

	return s.store.UpsertAdmin(ctx, identity, name, hash)
}
