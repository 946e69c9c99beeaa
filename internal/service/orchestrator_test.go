package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wacampaign-backend/internal/channel"
	"github.com/unclebandit/wacampaign-backend/internal/cooloff"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

type orchFixture struct {
	orch     *Orchestrator
	sends    *memSendRepo
	ch       *mockChannel
	contacts *memSuppressor
}

func newOrchFixture(t *testing.T, window time.Duration) *orchFixture {
	t.Helper()
	sends := newMemSendRepo()
	ch := newMockChannel()
	contacts := newMemSuppressor()

	orch := &Orchestrator{
		Sends:     sends,
		Channel:   ch,
		Templates: &CampaignTemplates{Language: "en", FallbackLink: "https://example.com/offer"},
		Cooloff: &cooloff.Engine{
			Policy: cooloff.Policy{
				NotAUser:    168 * time.Hour,
				PolicyDrop:  72 * time.Hour,
				Blocked:     720 * time.Hour,
				RateLimited: 24 * time.Hour,
			},
			Contacts: contacts,
			Log:      zerolog.Nop(),
		},
		FallbackWindow: window,
		Log:            zerolog.Nop(),
	}
	return &orchFixture{orch: orch, sends: sends, ch: ch, contacts: contacts}
}

func testContact() *model.Contact {
	return &model.Contact{ID: 1, WaID: "919000000001", Name: "Asha", OptIn: true}
}

func testCampaign() *model.Campaign {
	return &model.Campaign{
		ID:           7,
		TemplateName: "daily_offer",
		VariantRefs:  []string{"https://cdn.example.com/a.jpg"},
		Status:       model.CampaignSending,
	}
}

func TestSendRejectsSuppressedContact(t *testing.T) {
	f := newOrchFixture(t, time.Hour)

	contact := testContact()
	until := time.Now().Add(time.Hour)
	contact.SuppressedUntil = &until

	outcome, err := f.orch.SendWithFallback(context.Background(), contact, testCampaign())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonCooloff, outcome.Reason)

	// No network call, no send rows.
	assert.Zero(t, f.ch.callCount())
	assert.Empty(t, f.sends.all())
}

func TestSendRejectsOptedOutContact(t *testing.T) {
	f := newOrchFixture(t, time.Hour)

	contact := testContact()
	contact.OptIn = false

	outcome, err := f.orch.SendWithFallback(context.Background(), contact, testCampaign())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonOptedOut, outcome.Reason)
	assert.Zero(t, f.ch.callCount())
}

func TestSendMediaAccepted(t *testing.T) {
	f := newOrchFixture(t, time.Hour)

	outcome, err := f.orch.SendWithFallback(context.Background(), testContact(), testCampaign())
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, model.ChannelMediaTemplate, outcome.Channel)

	sends := f.sends.all()
	require.Len(t, sends, 1)
	assert.Equal(t, model.ChannelMediaTemplate, sends[0].Channel)
	assert.Equal(t, model.SendAccepted, sends[0].Status)
	require.NotNil(t, sends[0].Wamid)
	assert.False(t, sends[0].FallbackSent)
	assert.Equal(t, 1, f.ch.callCount())
}

func TestSyncFailureSendsTextFallback(t *testing.T) {
	f := newOrchFixture(t, time.Hour)
	f.ch.failWith["daily_offer"] = errors.New("connection reset")

	outcome, err := f.orch.SendWithFallback(context.Background(), testContact(), testCampaign())
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, model.ChannelTextTemplate, outcome.Channel)

	sends := f.sends.all()
	require.Len(t, sends, 2)

	original := sends[0]
	assert.Equal(t, model.ChannelMediaTemplate, original.Channel)
	assert.Equal(t, model.SendFailed, original.Status)
	assert.True(t, original.FallbackSent)

	fallback := sends[1]
	assert.Equal(t, model.ChannelTextTemplate, fallback.Channel)
	assert.Equal(t, model.SendAccepted, fallback.Status)
	assert.Equal(t, "daily_offer_text", f.ch.calls[1].template.Name)
}

func TestSyncFailureNotAUserSkipsFallback(t *testing.T) {
	f := newOrchFixture(t, time.Hour)
	f.ch.failWith["daily_offer"] = &channel.APIError{Code: 131026, Title: "Message undeliverable"}

	outcome, err := f.orch.SendWithFallback(context.Background(), testContact(), testCampaign())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, ReasonCooloff, outcome.Reason)

	// Suppressed for 7 days, no text attempt.
	require.NotNil(t, f.contacts.until("919000000001"))
	require.Len(t, f.sends.all(), 1)
	assert.Equal(t, 1, f.ch.callCount())
}

func TestFallbackFailureIsNotRetried(t *testing.T) {
	f := newOrchFixture(t, time.Hour)
	f.ch.failWith["daily_offer"] = errors.New("connection reset")
	f.ch.failWith["daily_offer_text"] = errors.New("connection reset")

	outcome, err := f.orch.SendWithFallback(context.Background(), testContact(), testCampaign())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, model.ChannelTextTemplate, outcome.Channel)

	sends := f.sends.all()
	require.Len(t, sends, 2)
	assert.Equal(t, model.SendFailed, sends[1].Status)
	// One media attempt, one text attempt, nothing more.
	assert.Equal(t, 2, f.ch.callCount())
}

func TestFallbackTimerFiresOnSilence(t *testing.T) {
	f := newOrchFixture(t, 20*time.Millisecond)

	outcome, err := f.orch.SendWithFallback(context.Background(), testContact(), testCampaign())
	require.NoError(t, err)
	require.True(t, outcome.Success)

	f.orch.Drain()

	sends := f.sends.all()
	require.Len(t, sends, 2)
	assert.Equal(t, model.SendTimeout, sends[0].Status)
	assert.True(t, sends[0].FallbackSent)
	assert.Equal(t, model.ChannelTextTemplate, sends[1].Channel)
}

func TestFallbackTimerNoopAfterDelivery(t *testing.T) {
	f := newOrchFixture(t, 20*time.Millisecond)

	outcome, err := f.orch.SendWithFallback(context.Background(), testContact(), testCampaign())
	require.NoError(t, err)
	require.True(t, outcome.Success)

	// Delivery callback lands before the timer fires.
	original := f.sends.all()[0]
	applied, err := f.sends.UpdateStatusByWamid(context.Background(), *original.Wamid, model.SendDelivered, nil, nil)
	require.NoError(t, err)
	require.True(t, applied)

	f.orch.Drain()

	sends := f.sends.all()
	require.Len(t, sends, 1)
	assert.Equal(t, model.SendDelivered, sends[0].Status)
	assert.False(t, sends[0].FallbackSent)
}

func TestTriggerFallbackOnlyOnce(t *testing.T) {
	f := newOrchFixture(t, time.Hour)

	outcome, err := f.orch.SendWithFallback(context.Background(), testContact(), testCampaign())
	require.NoError(t, err)
	require.True(t, outcome.Success)

	original, err := f.sends.GetByID(context.Background(), 1)
	require.NoError(t, err)

	first, err := f.orch.TriggerFallback(context.Background(), original, testContact(), testCampaign())
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := f.orch.TriggerFallback(context.Background(), original, testContact(), testCampaign())
	require.NoError(t, err)
	assert.False(t, second.Success)

	// Exactly one text-template send ever exists for the original.
	texts := 0
	for _, s := range f.sends.all() {
		if s.Channel == model.ChannelTextTemplate {
			texts++
		}
	}
	assert.Equal(t, 1, texts)
}

func TestTriggerFallbackIgnoresTextSends(t *testing.T) {
	f := newOrchFixture(t, time.Hour)

	send := &model.Send{ContactID: 1, CampaignID: 7, Channel: model.ChannelTextTemplate}
	require.NoError(t, f.sends.Create(context.Background(), send))

	outcome, err := f.orch.TriggerFallback(context.Background(), send, testContact(), testCampaign())
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Zero(t, f.ch.callCount())
}
