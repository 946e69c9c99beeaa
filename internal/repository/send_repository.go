package repository

import (
	"context"
	"database/sql"
	"fmt"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

type SendRepositoryInterface interface {
	Create(ctx context.Context, s *model.Send) error
	GetByID(ctx context.Context, id int) (*model.Send, error)
	GetByWamid(ctx context.Context, wamid string) (*model.Send, error)
	SetWamid(ctx context.Context, id int, wamid string) error
	// UpdateStatusByWamid applies a rank-guarded transition and merges the
	// diagnostic fields. Returns (false, ErrSendNotFound) when no send has
	// the wamid and (false, nil) when the transition was discarded.
	UpdateStatusByWamid(ctx context.Context, wamid, status string, errCode *int, errTitle *string) (bool, error)
	// MarkFallbackSent flips fallback_sent false→true. Returns true only for
	// the caller that won the flip.
	MarkFallbackSent(ctx context.Context, id int) (bool, error)
	// MarkTimeoutIfPending moves a send still in accepted/sent to timeout.
	// Returns true when the transition happened.
	MarkTimeoutIfPending(ctx context.Context, id int) (bool, error)
	// MarkFailed records a synchronous send failure with its diagnostics.
	MarkFailed(ctx context.Context, id int, errCode int, errTitle string) error
	ListByCampaign(ctx context.Context, campaignID int) ([]model.Send, error)
}

type SendRepository struct {
	DB *sql.DB
}

// campaign_id is NULL for sends outside any campaign (opt-in/opt-out
// confirmations); callers see that as 0.
const sendColumns = `id, wamid, contact_id, COALESCE(campaign_id, 0), channel, status, error_code, error_title, fallback_sent, created_at, updated_at`

func scanSend(row *sql.Row) (*model.Send, error) {
	var s model.Send
	err := row.Scan(&s.ID, &s.Wamid, &s.ContactID, &s.CampaignID, &s.Channel,
		&s.Status, &s.ErrorCode, &s.ErrorTitle, &s.FallbackSent, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SendRepository) Create(ctx context.Context, s *model.Send) error {
	if s.Status == "" {
		s.Status = model.SendAccepted
	}
	query := `
        INSERT INTO sends (wamid, contact_id, campaign_id, channel, status, error_code, error_title, fallback_sent, created_at, updated_at)
        VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, FALSE, NOW(), NOW())
        RETURNING id, created_at, updated_at`
	return r.DB.QueryRowContext(ctx, query,
		s.Wamid, s.ContactID, s.CampaignID, s.Channel, s.Status, s.ErrorCode, s.ErrorTitle,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *SendRepository) GetByID(ctx context.Context, id int) (*model.Send, error) {
	query := `SELECT ` + sendColumns + ` FROM sends WHERE id=$1`
	s, err := scanSend(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewSendNotFound("")
	}
	return s, err
}

func (r *SendRepository) GetByWamid(ctx context.Context, wamid string) (*model.Send, error) {
	query := `SELECT ` + sendColumns + ` FROM sends WHERE wamid=$1`
	s, err := scanSend(r.DB.QueryRowContext(ctx, query, wamid))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewSendNotFound(wamid)
	}
	return s, err
}

func (r *SendRepository) SetWamid(ctx context.Context, id int, wamid string) error {
	query := `UPDATE sends SET wamid=$2, updated_at=NOW() WHERE id=$1`
	_, err := r.DB.ExecContext(ctx, query, id, wamid)
	return err
}

// Status ranks mirrored in SQL so the guard and the Go state machine agree.
const statusRankSQL = `
    CASE %s
        WHEN 'accepted'  THEN 0
        WHEN 'sent'      THEN 1
        WHEN 'delivered' THEN 2
        WHEN 'read'      THEN 3
        WHEN 'failed'    THEN 4
        WHEN 'timeout'   THEN 4
        ELSE -1
    END`

func rank(expr string) string {
	return fmt.Sprintf(statusRankSQL, expr)
}

func (r *SendRepository) UpdateStatusByWamid(ctx context.Context, wamid, status string, errCode *int, errTitle *string) (bool, error) {
	if model.StatusRank(status) < 0 {
		return false, nil
	}
	// Mirrors model.CanTransition: pending sends upgrade, delivered still
	// accepts read, failure states only merge lateral failure diagnostics.
	// Everything else is a discarded late callback.
	query := `
        UPDATE sends
        SET status=$2,
            error_code=COALESCE($3, error_code),
            error_title=COALESCE($4, error_title),
            updated_at=NOW()
        WHERE wamid=$1
          AND ((status IN ('accepted', 'sent') AND ` + rank("status") + ` < ` + rank("$2") + `)
               OR (status = 'delivered' AND $2 = 'read')
               OR (status IN ('failed', 'timeout') AND $2 IN ('failed', 'timeout')))`
	res, err := r.DB.ExecContext(ctx, query, wamid, status, errCode, errTitle)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	// Distinguish a discarded transition from a missing row.
	var id int
	err = r.DB.QueryRowContext(ctx, `SELECT id FROM sends WHERE wamid=$1`, wamid).Scan(&id)
	if err == sql.ErrNoRows {
		return false, appErrors.NewSendNotFound(wamid)
	}
	return false, err
}

func (r *SendRepository) MarkFallbackSent(ctx context.Context, id int) (bool, error) {
	query := `UPDATE sends SET fallback_sent=TRUE, updated_at=NOW() WHERE id=$1 AND fallback_sent=FALSE`
	res, err := r.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SendRepository) MarkFailed(ctx context.Context, id int, errCode int, errTitle string) error {
	query := `
        UPDATE sends SET status=$2, error_code=$3, error_title=$4, updated_at=NOW()
        WHERE id=$1 AND status IN ($5, $6)`
	_, err := r.DB.ExecContext(ctx, query, id, model.SendFailed, errCode, errTitle,
		model.SendAccepted, model.SendSent)
	return err
}

func (r *SendRepository) MarkTimeoutIfPending(ctx context.Context, id int) (bool, error) {
	query := `
        UPDATE sends SET status=$2, updated_at=NOW()
        WHERE id=$1 AND status IN ($3, $4)`
	res, err := r.DB.ExecContext(ctx, query, id, model.SendTimeout, model.SendAccepted, model.SendSent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SendRepository) ListByCampaign(ctx context.Context, campaignID int) ([]model.Send, error) {
	query := `SELECT ` + sendColumns + ` FROM sends WHERE campaign_id=$1 ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sends := []model.Send{}
	for rows.Next() {
		var s model.Send
		if err := rows.Scan(&s.ID, &s.Wamid, &s.ContactID, &s.CampaignID, &s.Channel,
			&s.Status, &s.ErrorCode, &s.ErrorTitle, &s.FallbackSent, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		sends = append(sends, s)
	}
	return sends, rows.Err()
}

var _ SendRepositoryInterface = (*SendRepository)(nil)
