package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

type memoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	upserts  int
}

func newMemoryStore(accounts ...Account) *memoryStore {
	s := &memoryStore{accounts: map[string]Account{}}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *memoryStore) FindByIdentity(_ context.Context, identity string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.Identity == identity {
			return a, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

func (s *memoryStore) FindByID(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *memoryStore) UpsertAdmin(_ context.Context, identity, name, passwordHash string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	a := Account{ID: "admin-1", Identity: identity, Name: name, PasswordHash: passwordHash, Role: RoleAdmin}
	s.accounts[a.ID] = a
	return a, nil
}

func newTestHasher(t *testing.T) *PasswordHasher {
	t.Helper()
	hasher, err := NewPasswordHasher(MinBcryptCost)
	require.NoError(t, err)
	return hasher
}

func newTestIssuer(t *testing.T, now time.Time) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	issuer.now = func() time.Time { return now }
	return issuer
}

func seededAccount(t *testing.T, hasher *PasswordHasher, identity, password string, role Role) Account {
	t.Helper()
	hash, err := hasher.Hash(password)
	require.NoError(t, err)
	return Account{
		ID:           "acc-" + string(role),
		Identity:     identity,
		Name:         "Seeded " + string(role),
		PasswordHash: hash,
		Role:         role,
	}
}
