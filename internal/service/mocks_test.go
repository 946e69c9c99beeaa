package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unclebandit/wacampaign-backend/internal/channel"
	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
)

// memSendRepo mirrors the Postgres repository semantics in memory,
// including the CAS guards.
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
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
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
	s := m.findByWamid(wamid)
	if s == nil {
		return nil, appErrors.NewSendNotFound(wamid)
	}
	cp := *s
	return &cp, nil
}

func (m *memSendRepo) findByWamid(wamid string) *model.Send {
	for _, s := range m.sends {
		if s.Wamid != nil && *s.Wamid == wamid {
			return s
		}
	}
	return nil
}

func (m *memSendRepo) SetWamid(_ context.Context, id int, wamid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sends[id]
	if !ok {
		return fmt.Errorf("send %d not found", id)
	}
	s.Wamid = &wamid
	return nil
}

func (m *memSendRepo) UpdateStatusByWamid(_ context.Context, wamid, status string, errCode *int, errTitle *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findByWamid(wamid)
	if s == nil {
		return false, appErrors.NewSendNotFound(wamid)
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
	s.UpdatedAt = time.Now()
	return true, nil
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
	if !ok {
		return false, nil
	}
	if s.Status != model.SendAccepted && s.Status != model.SendSent {
		return false, nil
	}
	s.Status = model.SendTimeout
	return true, nil
}

func (m *memSendRepo) MarkFailed(_ context.Context, id int, errCode int, errTitle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sends[id]
	if !ok {
		return fmt.Errorf("send %d not found", id)
	}
	if s.Status == model.SendAccepted || s.Status == model.SendSent {
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

// memSuppressor records cool-off stamps for the engine.
type memSuppressor struct {
	mu        sync.Mutex
	suppressed map[string]*time.Time
}

func newMemSuppressor() *memSuppressor {
	return &memSuppressor{suppressed: map[string]*time.Time{}}
}

func (m *memSuppressor) Suppress(_ context.Context, waID string, until *time.Time, code int, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppressed[waID] = until
	return nil
}

func (m *memSuppressor) until(waID string) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suppressed[waID]
}

// mockChannel scripts failures per template name and hands out sequential
// wamids.
type mockChannel struct {
	mu       sync.Mutex
	failWith map[string]error
	calls    []mockCall
	nextID   int
}

type mockCall struct {
	to       string
	template channel.Template
}

func newMockChannel() *mockChannel {
	return &mockChannel{failWith: map[string]error{}}
}

func (m *mockChannel) SendTemplate(_ context.Context, to string, tmpl channel.Template) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{to: to, template: tmpl})
	if err := m.failWith[tmpl.Name]; err != nil {
		return "", err
	}
	m.nextID++
	return fmt.Sprintf("wamid.%d", m.nextID), nil
}

func (m *mockChannel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
