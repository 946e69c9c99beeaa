package model

import "time"

const (
	CampaignPlanned = "planned"
	CampaignSending = "sending"
	CampaignDone    = "done"
)

type Campaign struct {
	ID              int        `db:"id" json:"id"`
	TargetDate      time.Time  `db:"target_date" json:"target_date"`
	TemplateName    string     `db:"template_name" json:"template_name"`
	TotalRecipients int        `db:"total_recipients" json:"total_recipients"`
	VariantRefs     []string   `db:"variant_refs" json:"variant_refs"`
	Status          string     `db:"status" json:"status"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// CampaignStats aggregates Send outcomes for one campaign.
type CampaignStats struct {
	Total        int     `json:"total"`
	Sent         int     `json:"sent"`
	Delivered    int     `json:"delivered"`
	Read         int     `json:"read"`
	Failed       int     `json:"failed"`
	Timeout      int     `json:"timeout"`
	DeliveryRate float64 `json:"delivery_rate"`
	FailureRate  float64 `json:"failure_rate"`
}

// ComputeRates fills the derived rate fields from the raw counts.
// deliveryRate = (delivered+read)/total, failureRate = failed/total,
// both 0 when total is 0.
func (s *CampaignStats) ComputeRates() {
	if s.Total == 0 {
		s.DeliveryRate = 0
		s.FailureRate = 0
		return
	}
	s.DeliveryRate = float64(s.Delivered+s.Read) / float64(s.Total)
	s.FailureRate = float64(s.Failed) / float64(s.Total)
}
