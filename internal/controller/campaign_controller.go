package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/queue"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

// DispatchPublisher hands a campaign off to the dispatcher process.
type DispatchPublisher interface {
	PublishDispatch(job queue.DispatchJob) error
}

// CampaignController exposes the campaign API: create, inspect with stats,
// list sends, and request a dispatch run.
type CampaignController struct {
	Campaigns repository.CampaignRepositoryInterface
	Sends     repository.SendRepositoryInterface
	Dispatch  DispatchPublisher
	Log       zerolog.Logger
}

func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns/{id}", c.GetCampaign)
	r.Get("/campaigns/{id}/sends", c.ListCampaignSends)
	r.Post("/campaigns/{id}/dispatch", c.DispatchCampaign)
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TargetDate      string   `json:"target_date"`
		TemplateName    string   `json:"template_name"`
		TotalRecipients int      `json:"total_recipients"`
		VariantRefs     []string `json:"variant_refs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if payload.TemplateName == "" {
		http.Error(w, "template_name is required", http.StatusBadRequest)
		return
	}

	targetDate, err := time.Parse("2006-01-02", payload.TargetDate)
	if err != nil {
		http.Error(w, "target_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	campaign := &model.Campaign{
		TargetDate:      targetDate,
		TemplateName:    payload.TemplateName,
		TotalRecipients: payload.TotalRecipients,
		VariantRefs:     payload.VariantRefs,
		Status:          model.CampaignPlanned,
	}
	if err := c.Campaigns.Create(r.Context(), campaign); err != nil {
		http.Error(w, "failed to create campaign: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	campaign, err := c.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		var notFound *appErrors.ErrCampaignNotFound
		if errors.As(err, &notFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	stats, err := c.Campaigns.Stats(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to compute stats: "+err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"campaign": campaign,
		"stats":    stats,
	})
}

func (c *CampaignController) ListCampaignSends(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	if _, err := c.Campaigns.GetByID(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		var notFound *appErrors.ErrCampaignNotFound
		if errors.As(err, &notFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	sends, err := c.Sends.ListByCampaign(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to list sends: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaign_id": id, "sends": sends})
}

func (c *CampaignController) DispatchCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	campaign, err := c.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		var notFound *appErrors.ErrCampaignNotFound
		if errors.As(err, &notFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	if campaign.Status != model.CampaignPlanned {
		http.Error(w, "campaign cannot be dispatched in status: "+campaign.Status, http.StatusConflict)
		return
	}

	if err := c.Dispatch.PublishDispatch(queue.DispatchJob{CampaignID: id}); err != nil {
		http.Error(w, "failed to queue dispatch: "+err.Error(), http.StatusInternalServerError)
		return
	}

	c.Log.Info().Int("campaign_id", id).Msg("dispatch queued")
	writeJSON(w, http.StatusAccepted, map[string]any{"campaign_id": id, "status": "queued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
