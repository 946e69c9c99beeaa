package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/channel"
	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/controller"
	"github.com/unclebandit/wacampaign-backend/internal/cooloff"
	"github.com/unclebandit/wacampaign-backend/internal/db"
	"github.com/unclebandit/wacampaign-backend/internal/queue"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/service"
	"github.com/unclebandit/wacampaign-backend/internal/webhook"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("loading config failed")
	}
	if cfg.WhatsApp.AppSecret == "" {
		log.Warn().Msg("WA_APP_SECRET not set, webhook signature verification disabled (dev mode)")
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

	cooloffEngine := &cooloff.Engine{
		Policy:   cooloff.PolicyFromConfig(cfg.Cooloff),
		Contacts: contactRepo,
		Log:      log,
	}

	orchestrator := &service.Orchestrator{
		Sends:          sendRepo,
		Channel:        waClient,
		Templates:      &service.CampaignTemplates{Language: "en"},
		Cooloff:        cooloffEngine,
		FallbackWindow: cfg.Pacer.FallbackWindow,
		Log:            log.With().Str("component", "orchestrator").Logger(),
	}

	// Webhook events are acked immediately and processed off this queue;
	// its retry loop also absorbs callbacks that race send creation.
	events := queue.NewInMemoryQueue(3, 2*time.Second, log)

	processor := &webhook.Processor{
		Contacts:       contactRepo,
		Sends:          sendRepo,
		Campaigns:      campaignRepo,
		Cooloff:        cooloffEngine,
		Fallback:       orchestrator,
		Channel:        waClient,
		OptInTemplate:  "optin_confirmation",
		OptOutTemplate: "optout_confirmation",
		Log:            log.With().Str("component", "webhook").Logger(),
	}
	if err := processor.Register(events); err != nil {
		log.Fatal().Err(err).Msg("registering webhook processor failed")
	}

	webhookHandler := &webhook.Handler{
		AppSecret:   cfg.WhatsApp.AppSecret,
		VerifyToken: cfg.WhatsApp.VerifyToken,
		Queue:       events,
		Log:         log.With().Str("component", "webhook").Logger(),
	}

	dispatch, err := queue.NewRabbitPublisher(cfg.Rabbit.URL, cfg.Rabbit.DispatchQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to rabbitmq failed")
	}
	defer dispatch.Close()

	campaignController := &controller.CampaignController{
		Campaigns: campaignRepo,
		Sends:     sendRepo,
		Dispatch:  dispatch,
		Log:       log.With().Str("component", "controller").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	webhookHandler.Routes(r)
	campaignController.Routes(r)

	log.Info().Str("addr", cfg.ListenAddr).Msg("server running")
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
