package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// ContactSender is the orchestrator surface the pacer drives.
type ContactSender interface {
	SendWithFallback(ctx context.Context, contact *model.Contact, campaign *model.Campaign) (Outcome, error)
}

// Totals aggregates per-contact outcomes for one dispatch run.
// Sent + Failed + CooledOff always equals Total.
type Totals struct {
	Total     int `json:"total"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	CooledOff int `json:"cooled_off"`
}

// Pacer splits a recipient list into cohorts and dispatches each cohort
// through a bounded worker pool, pausing between cohorts so the aggregate
// rate stays under the configured ceiling.
type Pacer struct {
	Orchestrator ContactSender

	Workers       int
	RatePerMinute int
	CohortDelay   time.Duration
	SendStagger   time.Duration

	Log zerolog.Logger
}

// CohortSize derives the per-cohort batch size from the recipient count and
// the per-minute ceiling: ceil(n / ceil(n / ratePerMinute)), never below 1.
func CohortSize(n, ratePerMinute int) int {
	if n <= 0 {
		return 0
	}
	if ratePerMinute <= 0 || ratePerMinute >= n {
		return n
	}
	cohorts := (n + ratePerMinute - 1) / ratePerMinute
	size := (n + cohorts - 1) / cohorts
	if size < 1 {
		size = 1
	}
	return size
}

// SendInCohorts dispatches the contact list for one campaign. Cohorts run
// strictly in sequence; concurrency exists only inside a cohort. One
// contact's failure never aborts the batch.
func (p *Pacer) SendInCohorts(ctx context.Context, contacts []model.Contact, campaign *model.Campaign) Totals {
	runID := uuid.NewString()
	log := p.Log.With().Str("run", runID).Int("campaign_id", campaign.ID).Logger()

	totals := Totals{Total: len(contacts)}
	now := time.Now()

	// Defense in depth: the orchestrator re-checks per send, but a contact
	// suppressed before the run starts should not even enter a cohort.
	eligible := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		if !c.Sendable(now) {
			totals.CooledOff++
			continue
		}
		eligible = append(eligible, c)
	}

	if len(eligible) == 0 {
		log.Info().Msg("no eligible recipients")
		return totals
	}

	size := CohortSize(len(eligible), p.RatePerMinute)
	workers := p.Workers
	if workers <= 0 {
		workers = 20
	}

	var sent, failed, cooled atomic.Int64

	// Shared ceiling across workers; the per-worker stagger below smooths
	// bursts inside a cohort.
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(max(p.RatePerMinute, 1))), workers)

	cohortNo := 0
	for start := 0; start < len(eligible); start += size {
		end := start + size
		if end > len(eligible) {
			end = len(eligible)
		}
		cohort := eligible[start:end]
		cohortNo++

		if cohortNo > 1 {
			select {
			case <-ctx.Done():
				// Remaining contacts were never attempted; count them so
				// the totals still add up.
				failed.Add(int64(len(eligible) - start))
				goto done
			case <-time.After(p.CohortDelay):
			}
		}

		log.Info().Int("cohort", cohortNo).Int("size", len(cohort)).Msg("dispatching cohort")
		p.dispatchCohort(ctx, cohort, campaign, workers, limiter, &sent, &failed, &cooled)
	}

done:
	totals.Sent = int(sent.Load())
	totals.Failed = int(failed.Load())
	totals.CooledOff += int(cooled.Load())

	log.Info().Int("total", totals.Total).Int("sent", totals.Sent).
		Int("failed", totals.Failed).Int("cooled_off", totals.CooledOff).
		Msg("dispatch run finished")
	return totals
}

func (p *Pacer) dispatchCohort(ctx context.Context, cohort []model.Contact, campaign *model.Campaign,
	workers int, limiter *rate.Limiter, sent, failed, cooled *atomic.Int64) {

	jobs := make(chan model.Contact)
	var wg sync.WaitGroup

	if workers > len(cohort) {
		workers = len(cohort)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for contact := range jobs {
				if err := limiter.Wait(ctx); err != nil {
					failed.Add(1)
					continue
				}
				p.sendOne(ctx, &contact, campaign, sent, failed, cooled)
				if p.SendStagger > 0 {
					time.Sleep(p.SendStagger)
				}
			}
		}()
	}

	for _, c := range cohort {
		jobs <- c
	}
	close(jobs)
	wg.Wait()
}

func (p *Pacer) sendOne(ctx context.Context, contact *model.Contact, campaign *model.Campaign,
	sent, failed, cooled *atomic.Int64) {

	outcome, err := p.Orchestrator.SendWithFallback(ctx, contact, campaign)
	switch {
	case err != nil:
		// Storage or channel hiccups count the contact as failed rather
		// than dropping it.
		p.Log.Warn().Err(err).Str("wa_id", contact.WaID).Msg("send failed")
		failed.Add(1)
	case outcome.Success:
		sent.Add(1)
	case outcome.Reason == ReasonCooloff || outcome.Reason == ReasonOptedOut:
		cooled.Add(1)
	default:
		failed.Add(1)
	}
}
