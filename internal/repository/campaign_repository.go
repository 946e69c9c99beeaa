package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	GetByDate(ctx context.Context, date time.Time) (*model.Campaign, error)
	UpdateStatus(ctx context.Context, campaignID int, status string) error
	Stats(ctx context.Context, campaignID int) (*model.CampaignStats, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.CampaignPlanned
	}
	c.CreatedAt = time.Now()
	query := `
        INSERT INTO campaigns (target_date, template_name, total_recipients, variant_refs, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id`
	return r.DB.QueryRowContext(ctx, query,
		c.TargetDate, c.TemplateName, c.TotalRecipients, pq.Array(c.VariantRefs), c.Status, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `
        SELECT id, target_date, template_name, total_recipients, variant_refs, status, created_at, started_at, completed_at
        FROM campaigns WHERE id=$1`
	return r.scanCampaign(r.DB.QueryRowContext(ctx, query, id), id)
}

func (r *CampaignRepository) GetByDate(ctx context.Context, date time.Time) (*model.Campaign, error) {
	query := `
        SELECT id, target_date, template_name, total_recipients, variant_refs, status, created_at, started_at, completed_at
        FROM campaigns WHERE target_date=$1::date ORDER BY id DESC LIMIT 1`
	return r.scanCampaign(r.DB.QueryRowContext(ctx, query, date), 0)
}

func (r *CampaignRepository) scanCampaign(row *sql.Row, id int) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.TargetDate, &c.TemplateName, &c.TotalRecipients,
		pq.Array(&c.VariantRefs), &c.Status, &c.CreatedAt, &c.StartedAt, &c.CompletedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}

// UpdateStatus advances the campaign through planned → sending → done. The
// WHERE guard keeps the transition monotonic even with a misbehaving caller.
func (r *CampaignRepository) UpdateStatus(ctx context.Context, campaignID int, status string) error {
	var query string
	switch status {
	case model.CampaignSending:
		query = `UPDATE campaigns SET status=$2, started_at=NOW() WHERE id=$1 AND status=$3`
		_, err := r.DB.ExecContext(ctx, query, campaignID, status, model.CampaignPlanned)
		return err
	case model.CampaignDone:
		query = `UPDATE campaigns SET status=$2, completed_at=NOW() WHERE id=$1 AND status=$3`
		_, err := r.DB.ExecContext(ctx, query, campaignID, status, model.CampaignSending)
		return err
	default:
		query = `UPDATE campaigns SET status=$2 WHERE id=$1`
		_, err := r.DB.ExecContext(ctx, query, campaignID, status)
		return err
	}
}

// Stats scans the campaign's sends grouped by status and derives the rates.
func (r *CampaignRepository) Stats(ctx context.Context, campaignID int) (*model.CampaignStats, error) {
	query := `SELECT status, COUNT(*) FROM sends WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &model.CampaignStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case model.SendAccepted, model.SendSent:
			stats.Sent += count
		case model.SendDelivered:
			stats.Delivered = count
		case model.SendRead:
			stats.Read = count
		case model.SendFailed:
			stats.Failed = count
		case model.SendTimeout:
			stats.Timeout = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.ComputeRates()
	return stats, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
