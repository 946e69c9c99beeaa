package repository

import (
	"context"
	"database/sql"
	"time"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

type ContactRepositoryInterface interface {
	Upsert(ctx context.Context, waID string, patch model.ContactPatch) (*model.Contact, error)
	GetByWaID(ctx context.Context, waID string) (*model.Contact, error)
	ListSendable(ctx context.Context) ([]model.Contact, error)
	SetOptIn(ctx context.Context, waID string, optIn bool) error
	Suppress(ctx context.Context, waID string, until *time.Time, code int, title string) error
	RecordDelivered(ctx context.Context, waID string, at time.Time) error
}

type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, wa_id, name, opt_in, last_delivered_at, last_failure_code, last_failure_title, suppressed_until, created_at, updated_at`

func scanContact(row *sql.Row) (*model.Contact, error) {
	var c model.Contact
	err := row.Scan(&c.ID, &c.WaID, &c.Name, &c.OptIn, &c.LastDeliveredAt,
		&c.LastFailureCode, &c.LastFailureTitle, &c.SuppressedUntil, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert creates the contact on first sighting or merges the patch into the
// existing row. ON CONFLICT keeps concurrent upserts for the same wa_id from
// losing writes; COALESCE leaves unpatched fields alone.
func (r *ContactRepository) Upsert(ctx context.Context, waID string, patch model.ContactPatch) (*model.Contact, error) {
	query := `
        INSERT INTO contacts (wa_id, name, opt_in, created_at, updated_at)
        VALUES ($1, COALESCE($2, ''), COALESCE($3, TRUE), NOW(), NOW())
        ON CONFLICT (wa_id) DO UPDATE SET
            name       = COALESCE($2, contacts.name),
            opt_in     = COALESCE($3, contacts.opt_in),
            updated_at = NOW()
        RETURNING ` + contactColumns
	row := r.DB.QueryRowContext(ctx, query, waID, patch.Name, patch.OptIn)
	return scanContact(row)
}

func (r *ContactRepository) GetByWaID(ctx context.Context, waID string) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE wa_id=$1`
	c, err := scanContact(r.DB.QueryRowContext(ctx, query, waID))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewContactNotFound(waID)
	}
	return c, err
}

// ListSendable returns opted-in contacts whose cool-off window, if any, has
// elapsed. The orchestrator re-checks suppression per send.
func (r *ContactRepository) ListSendable(ctx context.Context) ([]model.Contact, error) {
	query := `
        SELECT ` + contactColumns + `
        FROM contacts
        WHERE opt_in = TRUE
          AND (suppressed_until IS NULL OR suppressed_until <= NOW())
        ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.WaID, &c.Name, &c.OptIn, &c.LastDeliveredAt,
			&c.LastFailureCode, &c.LastFailureTitle, &c.SuppressedUntil, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *ContactRepository) SetOptIn(ctx context.Context, waID string, optIn bool) error {
	query := `UPDATE contacts SET opt_in=$2, updated_at=NOW() WHERE wa_id=$1`
	res, err := r.DB.ExecContext(ctx, query, waID, optIn)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewContactNotFound(waID)
	}
	return nil
}

// Suppress stamps the cool-off window and the failure diagnostics. A nil
// until records the failure without suppressing.
func (r *ContactRepository) Suppress(ctx context.Context, waID string, until *time.Time, code int, title string) error {
	query := `
        UPDATE contacts
        SET suppressed_until=$2, last_failure_code=$3, last_failure_title=$4, updated_at=NOW()
        WHERE wa_id=$1`
	res, err := r.DB.ExecContext(ctx, query, waID, until, code, title)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewContactNotFound(waID)
	}
	return nil
}

func (r *ContactRepository) RecordDelivered(ctx context.Context, waID string, at time.Time) error {
	query := `UPDATE contacts SET last_delivered_at=$2, updated_at=NOW() WHERE wa_id=$1`
	_, err := r.DB.ExecContext(ctx, query, waID, at)
	return err
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
