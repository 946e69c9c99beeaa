package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/channel"
	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/cooloff"
	"github.com/unclebandit/wacampaign-backend/internal/db"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/queue"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/service"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("component", "dispatcher").Logger()

	cfg, err := config.Load(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("loading config failed")
	}

	database, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to database failed")
	}
	defer database.Close()

	contactRepo := &repository.ContactRepository{DB: database}
	campaignRepo := &repository.CampaignRepository{DB: database}
	sendRepo := &repository.SendRepository{DB: database}

	waClient := channel.NewClient(cfg.WhatsApp, log)

	orchestrator := &service.Orchestrator{
		Sends:     sendRepo,
		Channel:   waClient,
		Templates: &service.CampaignTemplates{Language: "en"},
		Cooloff: &cooloff.Engine{
			Policy:   cooloff.PolicyFromConfig(cfg.Cooloff),
			Contacts: contactRepo,
			Log:      log,
		},
		FallbackWindow: cfg.Pacer.FallbackWindow,
		Log:            log,
	}

	pacer := &service.Pacer{
		Orchestrator:  orchestrator,
		Workers:       cfg.Pacer.Workers,
		RatePerMinute: cfg.Pacer.RatePerMinute,
		CohortDelay:   cfg.Pacer.CohortDelay,
		SendStagger:   cfg.Pacer.SendStagger,
		Log:           log,
	}

	run := func(job queue.DispatchJob) error {
		ctx := context.Background()

		campaign, err := campaignRepo.GetByID(ctx, job.CampaignID)
		if err != nil {
			return err
		}
		if campaign.Status == model.CampaignDone {
			log.Warn().Int("campaign_id", campaign.ID).Msg("campaign already done, skipping")
			return nil
		}

		contacts, err := contactRepo.ListSendable(ctx)
		if err != nil {
			return fmt.Errorf("loading sendable contacts: %w", err)
		}

		if err := campaignRepo.UpdateStatus(ctx, campaign.ID, model.CampaignSending); err != nil {
			return err
		}

		totals := pacer.SendInCohorts(ctx, contacts, campaign)

		// Fallback timers from the last cohort may still be running.
		orchestrator.Drain()

		if err := campaignRepo.UpdateStatus(ctx, campaign.ID, model.CampaignDone); err != nil {
			return err
		}

		stats, err := campaignRepo.Stats(ctx, campaign.ID)
		if err != nil {
			return err
		}
		log.Info().Int("campaign_id", campaign.ID).
			Int("recipients", totals.Total).Int("sent", totals.Sent).
			Int("failed", totals.Failed).Int("cooled_off", totals.CooledOff).
			Float64("delivery_rate", stats.DeliveryRate).Float64("failure_rate", stats.FailureRate).
			Msg("campaign dispatch complete")
		return nil
	}

	if err := queue.ConsumeDispatch(cfg.Rabbit.URL, cfg.Rabbit.DispatchQueue, log, run); err != nil {
		log.Fatal().Err(err).Msg("dispatch consumer stopped")
	}
}
