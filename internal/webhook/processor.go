package webhook

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/channel"
	"github.com/unclebandit/wacampaign-backend/internal/cooloff"
	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/queue"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/service"
)

// FallbackTrigger is the orchestrator surface the processor invokes when a
// failed media send still owes its text fallback.
type FallbackTrigger interface {
	TriggerFallback(ctx context.Context, send *model.Send, contact *model.Contact, campaign *model.Campaign) (service.Outcome, error)
}

var optOutKeywords = map[string]bool{"stop": true, "unsubscribe": true, "unsub": true, "optout": true}
var optInKeywords = map[string]bool{"start": true, "subscribe": true, "optin": true, "yes": true}

// Processor consumes webhook events off the in-memory queue and applies
// them: delivery statuses drive the Send state machine, cool-off and
// fallback; inbound texts drive opt-in/opt-out.
type Processor struct {
	Contacts  repository.ContactRepositoryInterface
	Sends     repository.SendRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
	Cooloff   *cooloff.Engine
	Fallback  FallbackTrigger
	Channel   channel.Sender

	// Approved confirmation templates for the two auto-replies.
	OptInTemplate  string
	OptOutTemplate string

	Log zerolog.Logger
	Now func() time.Time

	mu   sync.Mutex
	seen map[string]bool
}

// Inbound dedup keys kept before the coarse reset.
const seenMessageCap = 8192

func (p *Processor) Register(q queue.Queue) error {
	return q.Subscribe(EventsTopic, p.handle)
}

func (p *Processor) handle(payload any) error {
	ev, ok := payload.(Event)
	if !ok {
		p.Log.Warn().Msg("unexpected payload type on webhook topic")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if ev.Field == "message_template_status_update" {
		p.Log.Info().Str("template", ev.Value.MessageTemplateName).
			Str("event", ev.Value.Event).Str("reason", ev.Value.Reason).
			Msg("template status update")
		return nil
	}

	var firstErr error
	for _, st := range ev.Value.Statuses {
		if err := p.applyStatus(ctx, st); err != nil {
			// Returned so the queue retries; a callback can beat the Send
			// row into the store by a moment.
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, msg := range ev.Value.Messages {
		key := msg.ID
		if key == "" {
			// No channel id to dedup on; a synthetic key keeps the message
			// correlatable without ever matching a later one.
			key = uuid.NewString()
		}
		if !p.firstSeen(key) {
			p.Log.Info().Str("message_id", key).Msg("duplicate inbound message ignored")
			continue
		}
		if err := p.applyInbound(ctx, ev.Value, msg); err != nil {
			p.Log.Error().Err(err).Str("from", msg.From).Msg("handling inbound message failed")
		}
	}
	return firstErr
}

// firstSeen dedups inbound messages on the channel-assigned id. Queue retries
// and upstream redeliveries carry the same id, so the side effects (contact
// upsert, confirmation reply) run once.
func (p *Processor) firstSeen(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen == nil {
		p.seen = make(map[string]bool)
	}
	if p.seen[id] {
		return false
	}
	if len(p.seen) >= seenMessageCap {
		p.seen = make(map[string]bool)
	}
	p.seen[id] = true
	return true
}

func (p *Processor) applyStatus(ctx context.Context, st StatusEvent) error {
	code, title := 0, ""
	if len(st.Errors) > 0 {
		code, title = st.Errors[0].Code, st.Errors[0].Title
	}

	send, err := p.Sends.GetByWamid(ctx, st.ID)
	if err != nil {
		var notFound *appErrors.ErrSendNotFound
		if errors.As(err, &notFound) {
			return fmt.Errorf("orphan callback for %s: %w", st.ID, err)
		}
		return err
	}
	wasTerminal := model.TerminalStatus(send.Status)

	var codePtr *int
	var titlePtr *string
	if len(st.Errors) > 0 {
		codePtr, titlePtr = &code, &title
	}
	applied, err := p.Sends.UpdateStatusByWamid(ctx, st.ID, st.Status, codePtr, titlePtr)
	if err != nil {
		return err
	}
	if !applied || wasTerminal {
		// Late downgrade discarded, or a repeated terminal callback that
		// only merged diagnostics. Side effects happen once.
		return nil
	}

	switch st.Status {
	case model.SendDelivered, model.SendRead:
		if err := p.Contacts.RecordDelivered(ctx, st.RecipientID, p.eventTime(st.Timestamp)); err != nil {
			p.Log.Error().Err(err).Str("wa_id", st.RecipientID).Msg("recording delivery failed")
		}
	case model.SendFailed:
		p.handleFailure(ctx, send, st, code, title)
	}
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, send *model.Send, st StatusEvent, code int, title string) {
	cat, err := p.Cooloff.Apply(ctx, st.RecipientID, code, title)
	if err != nil {
		p.Log.Error().Err(err).Str("wa_id", st.RecipientID).Msg("applying cooloff failed")
	}

	if send.Channel != model.ChannelMediaTemplate || send.FallbackSent || !cat.Retryable() {
		return
	}

	contact, err := p.Contacts.GetByWaID(ctx, st.RecipientID)
	if err != nil {
		p.Log.Error().Err(err).Str("wa_id", st.RecipientID).Msg("loading contact for fallback failed")
		return
	}
	campaign, err := p.Campaigns.GetByID(ctx, send.CampaignID)
	if err != nil {
		p.Log.Error().Err(err).Int("campaign_id", send.CampaignID).Msg("loading campaign for fallback failed")
		return
	}

	outcome, err := p.Fallback.TriggerFallback(ctx, send, contact, campaign)
	if err != nil {
		p.Log.Error().Err(err).Int("send_id", send.ID).Msg("fallback after failure callback errored")
		return
	}
	p.Log.Info().Int("send_id", send.ID).Bool("success", outcome.Success).
		Msg("fallback triggered by failure callback")
}

func (p *Processor) applyInbound(ctx context.Context, value ChangeValue, msg InboundMessage) error {
	if msg.Type != "text" {
		return nil
	}
	text := strings.ToLower(strings.TrimSpace(msg.Text.Body))

	var optIn *bool
	var confirmTemplate string
	switch {
	case optOutKeywords[text]:
		v := false
		optIn, confirmTemplate = &v, p.OptOutTemplate
	case optInKeywords[text]:
		v := true
		optIn, confirmTemplate = &v, p.OptInTemplate
	default:
		// Not a subscription command; conversation routing is someone
		// else's job.
		return nil
	}

	patch := model.ContactPatch{OptIn: optIn}
	for _, c := range value.Contacts {
		if c.WaID == msg.From && c.Profile.Name != "" {
			name := c.Profile.Name
			patch.Name = &name
		}
	}
	contact, err := p.Contacts.Upsert(ctx, msg.From, patch)
	if err != nil {
		return fmt.Errorf("upserting contact: %w", err)
	}

	wamid, err := p.Channel.SendTemplate(ctx, msg.From, channel.Template{Name: confirmTemplate})
	if err != nil {
		return fmt.Errorf("sending confirmation: %w", err)
	}

	confirmation := &model.Send{
		Wamid:     &wamid,
		ContactID: contact.ID,
		Channel:   model.ChannelTextTemplate,
		Status:    model.SendAccepted,
	}
	if err := p.Sends.Create(ctx, confirmation); err != nil {
		p.Log.Error().Err(err).Str("wa_id", msg.From).Msg("recording confirmation send failed")
	}

	p.Log.Info().Str("wa_id", msg.From).Bool("opt_in", *optIn).Msg("subscription preference updated")
	return nil
}

func (p *Processor) eventTime(ts string) time.Time {
	if secs, err := strconv.ParseInt(ts, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0)
	}
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
