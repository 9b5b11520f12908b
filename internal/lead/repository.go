package lead

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const leadColumns = `id, name, whatsapp, email, company, message, source, status, notes, created_at, updated_at`

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (Lead, error) {
	var l Lead
	var status string
	err := row.Scan(&l.ID, &l.Name, &l.WhatsApp, &l.Email, &l.Company, &l.Message, &l.Source, &status, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	l.Status = Status(status)
	return l, err
}

func (r *Repository) Create(ctx context.Context, input LeadInput) (Lead, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Lead{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := r.now().UTC()
	l := Lead{
		ID:        id.String(),
		Name:      input.Name,
		WhatsApp:  input.WhatsApp,
		Email:     input.Email,
		Company:   input.Company,
		Message:   input.Message,
		Source:    input.Source,
		Status:    StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO leads (id, name, whatsapp, email, company, message, source, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, l.ID, l.Name, l.WhatsApp, l.Email, l.Company, l.Message, l.Source, string(l.Status), l.Notes, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		return Lead{}, fmt.Errorf("insert lead: %w", err)
	}

	return l, nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter) (Page, error) {
	page := Page{Leads: make([]Lead, 0), Limit: filter.Limit, Offset: filter.Offset}

	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM leads WHERE ($1 = '' OR status = $1)
	`, string(filter.Status)).Scan(&page.Total); err != nil {
		return Page{}, fmt.Errorf("count leads: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+leadColumns+`
		FROM leads
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, string(filter.Status), filter.Limit, filter.Offset)
	if err != nil {
		return Page{}, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return Page{}, fmt.Errorf("scan lead: %w", err)
		}
		page.Leads = append(page.Leads, l)
	}

	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate leads: %w", err)
	}

	return page, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Lead, error) {
	l, err := scanLead(r.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, err
		}
		return Lead{}, fmt.Errorf("get lead: %w", err)
	}
	return l, nil
}

// Update applies only the fields set in change; a nil field keeps the
// stored value.
func (r *Repository) Update(ctx context.Context, id string, change LeadUpdate) (Lead, error) {
	var status, notes sql.NullString
	if change.Status != nil {
		status = sql.NullString{String: string(*change.Status), Valid: true}
	}
	if change.Notes != nil {
		notes = sql.NullString{String: *change.Notes, Valid: true}
	}

	l, err := scanLead(r.db.QueryRowContext(ctx, `
		UPDATE leads
		SET status = COALESCE($2, status), notes = COALESCE($3, notes), updated_at = $4
		WHERE id = $1
		RETURNING `+leadColumns,
		id, status, notes, r.now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, err
		}
		return Lead{}, fmt.Errorf("update lead: %w", err)
	}

	return l, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM leads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lead: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// PurgeOlderThan deletes leads created before cutoff in batches of
// batchSize and returns the total removed.
func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	var total int64
	for {
		res, err := r.db.ExecContext(ctx, `
			WITH stale AS (
				SELECT id
				FROM leads
				WHERE created_at < $1
				ORDER BY created_at ASC
				LIMIT $2
			)
			DELETE FROM leads l
			USING stale
			WHERE l.id = stale.id
		`, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("purge leads: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += affected

		if affected < int64(batchSize) {
			return total, nil
		}
	}
}
