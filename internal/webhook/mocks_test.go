package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/unclebandit/wacampaign-backend/internal/channel"
	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/service"
)

type memContactRepo struct {
	mu       sync.Mutex
	nextID   int
	contacts map[string]*model.Contact
}

func newMemContactRepo() *memContactRepo {
	return &memContactRepo{contacts: map[string]*model.Contact{}}
}

func (m *memContactRepo) add(c model.Contact) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	m.contacts[c.WaID] = &c
}

func (m *memContactRepo) Upsert(_ context.Context, waID string, patch model.ContactPatch) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[waID]
	if !ok {
		m.nextID++
		c = &model.Contact{ID: m.nextID, WaID: waID, OptIn: true}
		m.contacts[waID] = c
	}
	if patch.Name != nil {
		c.Name = *patch.Name
	}
	if patch.OptIn != nil {
		c.OptIn = *patch.OptIn
	}
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}

func (m *memContactRepo) GetByWaID(_ context.Context, waID string) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[waID]
	if !ok {
		return nil, appErrors.NewContactNotFound(waID)
	}
	cp := *c
	return &cp, nil
}

func (m *memContactRepo) ListSendable(_ context.Context) ([]model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []model.Contact{}
	for _, c := range m.contacts {
		if c.Sendable(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memContactRepo) SetOptIn(_ context.Context, waID string, optIn bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[waID]
	if !ok {
		return appErrors.NewContactNotFound(waID)
	}
	c.OptIn = optIn
	return nil
}

func (m *memContactRepo) Suppress(_ context.Context, waID string, until *time.Time, code int, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[waID]
	if !ok {
		return appErrors.NewContactNotFound(waID)
	}
	c.SuppressedUntil = until
	c.LastFailureCode = &code
	c.LastFailureTitle = &title
	return nil
}

func (m *memContactRepo) RecordDelivered(_ context.Context, waID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[waID]
	if !ok {
		return appErrors.NewContactNotFound(waID)
	}
	c.LastDeliveredAt = &at
	return nil
}

var _ repository.ContactRepositoryInterface = (*memContactRepo)(nil)

type memSendRepo struct {
	mu     sync.Mutex
	nextID int
	sends  map[int]*model.Send
}

func newMemSendRepo() *memSendRepo {
	return &memSendRepo{sends: map[int]*model.Send{}}
}

func (m *memSendRepo) Create(_ context.Context, s *model.Send) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	if s.Status == "" {
		s.Status = model.SendAccepted
	}
	cp := *s
	m.sends[s.ID] = &cp
	return nil
}

func (m *memSendRepo) GetByID(_ context.Context, id int) (*model.Send, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sends[id]
	if !ok {
		return nil, appErrors.NewSendNotFound("")
	}
	cp := *s
	return &cp, nil
}

func (m *memSendRepo) GetByWamid(_ context.Context, wamid string) (*model.Send, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sends {
		if s.Wamid != nil && *s.Wamid == wamid {
			cp := *s
			return &cp, nil
		}
	}
	return nil, appErrors.NewSendNotFound(wamid)
}

func (m *memSendRepo) SetWamid(_ context.Context, id int, wamid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sends[id]; ok {
		s.Wamid = &wamid
	}
	return nil
}

func (m *memSendRepo) UpdateStatusByWamid(_ context.Context, wamid, status string, errCode *int, errTitle *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sends {
		if s.Wamid == nil || *s.Wamid != wamid {
			continue
		}
		if !model.CanTransition(s.Status, status) {
			return false, nil
		}
		s.Status = status
		if errCode != nil {
			s.ErrorCode = errCode
		}
		if errTitle != nil {
			s.ErrorTitle = errTitle
		}
		return true, nil
	}
	return false, appErrors.NewSendNotFound(wamid)
}

func (m *memSendRepo) MarkFallbackSent(_ context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sends[id]
	if !ok || s.FallbackSent {
		return false, nil
	}
	s.FallbackSent = true
	return true, nil
}

func (m *memSendRepo) MarkTimeoutIfPending(_ context.Context, id int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sends[id]
	if !ok || (s.Status != model.SendAccepted && s.Status != model.SendSent) {
		return false, nil
	}
	s.Status = model.SendTimeout
	return true, nil
}

func (m *memSendRepo) MarkFailed(_ context.Context, id int, errCode int, errTitle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sends[id]; ok && (s.Status == model.SendAccepted || s.Status == model.SendSent) {
		s.Status = model.SendFailed
		s.ErrorCode = &errCode
		s.ErrorTitle = &errTitle
	}
	return nil
}

func (m *memSendRepo) ListByCampaign(_ context.Context, campaignID int) ([]model.Send, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Send{}
	for i := 1; i <= m.nextID; i++ {
		if s, ok := m.sends[i]; ok && s.CampaignID == campaignID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memSendRepo) all() []model.Send {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Send, 0, len(m.sends))
	for i := 1; i <= m.nextID; i++ {
		if s, ok := m.sends[i]; ok {
			out = append(out, *s)
		}
	}
	return out
}

var _ repository.SendRepositoryInterface = (*memSendRepo)(nil)

type stubCampaignRepo struct {
	campaign *model.Campaign
}

func (m *stubCampaignRepo) Create(_ context.Context, c *model.Campaign) error { return nil }
func (m *stubCampaignRepo) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	if m.campaign != nil && m.campaign.ID == id {
		return m.campaign, nil
	}
	return nil, appErrors.NewCampaignNotFound(id)
}
func (m *stubCampaignRepo) GetByDate(_ context.Context, _ time.Time) (*model.Campaign, error) {
	return m.campaign, nil
}
func (m *stubCampaignRepo) UpdateStatus(_ context.Context, _ int, _ string) error { return nil }
func (m *stubCampaignRepo) Stats(_ context.Context, _ int) (*model.CampaignStats, error) {
	return &model.CampaignStats{}, nil
}

var _ repository.CampaignRepositoryInterface = (*stubCampaignRepo)(nil)

// recordingFallback counts TriggerFallback invocations.
type recordingFallback struct {
	mu    sync.Mutex
	calls []int
}

func (r *recordingFallback) TriggerFallback(_ context.Context, send *model.Send, _ *model.Contact, _ *model.Campaign) (service.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, send.ID)
	return service.Outcome{Success: true, Channel: model.ChannelTextTemplate}, nil
}

func (r *recordingFallback) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// stubSender acknowledges every template send.
type stubSender struct {
	mu   sync.Mutex
	sent []string // template names
}

func (s *stubSender) SendTemplate(_ context.Context, _ string, tmpl channel.Template) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, tmpl.Name)
	return "wamid.confirm." + tmpl.Name, nil
}

var _ channel.Sender = (*stubSender)(nil)

// captureQueue records published payloads without processing them.
type captureQueue struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (q *captureQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.topics = append(q.topics, topic)
	q.events = append(q.events, payload)
	return nil
}

func (q *captureQueue) Subscribe(string, func(any) error) error { return nil }
