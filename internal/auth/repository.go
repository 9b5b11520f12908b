package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrAccountNotFound = errors.New("account not found")

// Repository is the Postgres-backed credential store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindByIdentity(ctx context.Context, identity string) (Account, error) {
	return r.findOne(ctx, `
		SELECT id, identity, name, password_hash, role, created_at, updated_at
		FROM accounts
		WHERE identity = $1
	`, identity)
}

func (r *Repository) FindByID(ctx context.Context, id string) (Account, error) {
	return r.findOne(ctx, `
		SELECT id, identity, name, password_hash, role, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id)
}

func (r *Repository) findOne(ctx context.Context, query string, arg string) (Account, error) {
	var account Account
	var role string
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&account.ID, &account.Identity, &account.Name, &account.PasswordHash, &role, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	account.Role = Role(role)

	return account, nil
}

// UpsertAdmin keeps exactly one admin account: the oldest admin row is
// updated in place (or created) and any other admin rows are removed.
func (r *Repository) UpsertAdmin(ctx context.Context, identity, name, passwordHash string) (Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Account{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	account := Account{
		Identity:     identity,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         RoleAdmin,
		UpdatedAt:    now,
	}

	err = tx.QueryRowContext(ctx, `
		SELECT id, created_at FROM accounts
		WHERE role = 'admin'
		ORDER BY created_at ASC
		LIMIT 1
	`).Scan(&account.ID, &account.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		account.ID = id.String()
		account.CreatedAt = now
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, identity, name, password_hash, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 'admin', $5, $5)
		`, account.ID, identity, name, passwordHash, now); err != nil {
			return Account{}, fmt.Errorf("insert admin account: %w", err)
		}
	case err != nil:
		return Account{}, fmt.Errorf("select existing admin: %w", err)
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE accounts
			SET identity = $2, name = $3, password_hash = $4, updated_at = $5
			WHERE id = $1
		`, account.ID, identity, name, passwordHash, now); err != nil {
			return Account{}, fmt.Errorf("update admin account: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM accounts WHERE role = 'admin' AND id <> $1`, account.ID); err != nil {
		return Account{}, fmt.Errorf("cleanup extra admins: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Account{}, fmt.Errorf("commit transaction: %w", err)
	}

	return account, nil
}
