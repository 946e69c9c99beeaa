package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/channel"
	"github.com/unclebandit/wacampaign-backend/internal/cooloff"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

// Outcome is the per-recipient result of a delivery attempt.
type Outcome struct {
	Success bool   `json:"success"`
	Channel string `json:"channel,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Outcome reasons.
const (
	ReasonCooloff  = "cooloff"
	ReasonOptedOut = "opted_out"
	ReasonChannel  = "channel_error"
)

// TemplateSource supplies the rich template and its text fallback for one
// recipient. Content generation itself lives outside this service.
type TemplateSource interface {
	Templates(ctx context.Context, campaign *model.Campaign, contact *model.Contact) (media, text channel.Template, err error)
}

// Orchestrator sends one message to one recipient: rich template first,
// text-with-link fallback on synchronous failure or delivery timeout.
type Orchestrator struct {
	Sends     repository.SendRepositoryInterface
	Channel   channel.Sender
	Templates TemplateSource
	Cooloff   *cooloff.Engine

	// FallbackWindow is how long an accepted send may sit without a
	// delivery or failure callback before the text fallback fires.
	FallbackWindow time.Duration

	Log zerolog.Logger

	// Now is swappable for tests.
	Now func() time.Time

	timers sync.WaitGroup
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// SendWithFallback delivers the campaign message to one contact. Suppressed
// or opted-out contacts are rejected before any network call. A synchronous
// channel failure triggers the text fallback immediately; an accepted send
// arms the fallback timer instead.
func (o *Orchestrator) SendWithFallback(ctx context.Context, contact *model.Contact, campaign *model.Campaign) (Outcome, error) {
	if !contact.OptIn {
		return Outcome{Success: false, Reason: ReasonOptedOut}, nil
	}
	if contact.SuppressedUntil != nil && contact.SuppressedUntil.After(o.now()) {
		return Outcome{Success: false, Reason: ReasonCooloff}, nil
	}

	media, text, err := o.Templates.Templates(ctx, campaign, contact)
	if err != nil {
		return Outcome{Success: false, Reason: ReasonChannel}, err
	}

	// Record the attempt before the network call so a crash in between
	// leaves a row, not a mystery.
	send := &model.Send{
		ContactID:  contact.ID,
		CampaignID: campaign.ID,
		Channel:    model.ChannelMediaTemplate,
		Status:     model.SendAccepted,
	}
	if err := o.Sends.Create(ctx, send); err != nil {
		return Outcome{Success: false, Reason: ReasonChannel}, err
	}

	wamid, sendErr := o.Channel.SendTemplate(ctx, contact.WaID, media)
	if sendErr != nil {
		return o.handleSyncFailure(ctx, contact, send, text, sendErr)
	}

	if err := o.Sends.SetWamid(ctx, send.ID, wamid); err != nil {
		o.Log.Error().Err(err).Int("send_id", send.ID).Msg("recording wamid failed")
	}
	o.armFallbackTimer(contact, send, text)

	return Outcome{Success: true, Channel: model.ChannelMediaTemplate}, nil
}

func (o *Orchestrator) handleSyncFailure(ctx context.Context, contact *model.Contact, send *model.Send, text channel.Template, sendErr error) (Outcome, error) {
	code, title := 0, sendErr.Error()
	var apiErr *channel.APIError
	if errors.As(sendErr, &apiErr) {
		code, title = apiErr.Code, apiErr.Title
	}

	if err := o.Sends.MarkFailed(ctx, send.ID, code, title); err != nil {
		o.Log.Error().Err(err).Int("send_id", send.ID).Msg("recording send failure failed")
	}

	// Recipient-state errors carry a cool-off meaning even on the sync path.
	if apiErr != nil {
		cat, err := o.Cooloff.Apply(ctx, contact.WaID, code, title)
		if err != nil {
			o.Log.Error().Err(err).Str("wa_id", contact.WaID).Msg("applying cooloff failed")
		}
		if !cat.Retryable() {
			return Outcome{Success: false, Channel: model.ChannelMediaTemplate, Reason: ReasonCooloff}, nil
		}
	}

	won, err := o.Sends.MarkFallbackSent(ctx, send.ID)
	if err != nil {
		return Outcome{Success: false, Channel: model.ChannelMediaTemplate, Reason: ReasonChannel}, err
	}
	if !won {
		return Outcome{Success: false, Channel: model.ChannelMediaTemplate, Reason: ReasonChannel}, nil
	}
	return o.sendFallback(ctx, contact, send.CampaignID, text)
}

// sendFallback records and sends the text-template attempt. A failed
// fallback is reported, never re-retried.
func (o *Orchestrator) sendFallback(ctx context.Context, contact *model.Contact, campaignID int, text channel.Template) (Outcome, error) {
	fb := &model.Send{
		ContactID:  contact.ID,
		CampaignID: campaignID,
		Channel:    model.ChannelTextTemplate,
		Status:     model.SendAccepted,
	}

	wamid, sendErr := o.Channel.SendTemplate(ctx, contact.WaID, text)
	if sendErr != nil {
		fb.Status = model.SendFailed
		var apiErr *channel.APIError
		if errors.As(sendErr, &apiErr) {
			fb.ErrorCode = &apiErr.Code
			title := apiErr.Title
			fb.ErrorTitle = &title
		} else {
			title := sendErr.Error()
			fb.ErrorTitle = &title
		}
		if err := o.Sends.Create(ctx, fb); err != nil {
			return Outcome{Success: false, Channel: model.ChannelTextTemplate, Reason: ReasonChannel}, err
		}
		return Outcome{Success: false, Channel: model.ChannelTextTemplate, Reason: ReasonChannel}, nil
	}

	fb.Wamid = &wamid
	if err := o.Sends.Create(ctx, fb); err != nil {
		return Outcome{Success: true, Channel: model.ChannelTextTemplate}, err
	}
	return Outcome{Success: true, Channel: model.ChannelTextTemplate}, nil
}

// armFallbackTimer races the delivery callbacks: when it fires, the send is
// moved to timeout only if it is still in accepted/sent, decided by the
// store's compare-and-set rather than by timer cancellation.
func (o *Orchestrator) armFallbackTimer(contact *model.Contact, send *model.Send, text channel.Template) {
	o.timers.Add(1)
	go func() {
		defer o.timers.Done()
		time.Sleep(o.FallbackWindow)

		// Timers outlive the dispatch context on purpose.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		timedOut, err := o.Sends.MarkTimeoutIfPending(ctx, send.ID)
		if err != nil {
			o.Log.Error().Err(err).Int("send_id", send.ID).Msg("timeout check failed")
			return
		}
		if !timedOut {
			return
		}
		o.Log.Info().Int("send_id", send.ID).Str("wa_id", contact.WaID).Msg("no delivery callback before window elapsed, sending fallback")

		won, err := o.Sends.MarkFallbackSent(ctx, send.ID)
		if err != nil || !won {
			return
		}
		if _, err := o.sendFallback(ctx, contact, send.CampaignID, text); err != nil {
			o.Log.Error().Err(err).Int("send_id", send.ID).Msg("timeout fallback failed")
		}
	}()
}

// TriggerFallback is the webhook-driven fallback path: a failed media send
// whose fallback has not gone out yet gets exactly one text attempt.
func (o *Orchestrator) TriggerFallback(ctx context.Context, send *model.Send, contact *model.Contact, campaign *model.Campaign) (Outcome, error) {
	if send.Channel != model.ChannelMediaTemplate {
		return Outcome{Success: false, Reason: ReasonChannel}, nil
	}
	won, err := o.Sends.MarkFallbackSent(ctx, send.ID)
	if err != nil {
		return Outcome{}, err
	}
	if !won {
		return Outcome{Success: false, Reason: ReasonChannel}, nil
	}
	_, text, err := o.Templates.Templates(ctx, campaign, contact)
	if err != nil {
		return Outcome{}, err
	}
	return o.sendFallback(ctx, contact, send.CampaignID, text)
}

// Drain blocks until every armed fallback timer has completed.
func (o *Orchestrator) Drain() {
	o.timers.Wait()
}
