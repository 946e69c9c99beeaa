package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrContactNotFound is returned when no contact matches a wa_id.
type ErrContactNotFound struct {
	WaID string
}

func (e *ErrContactNotFound) Error() string {
	return fmt.Sprintf("contact %s not found", e.WaID)
}

func NewContactNotFound(waID string) error {
	return &ErrContactNotFound{WaID: waID}
}

// ErrSendNotFound is returned when no send matches an external message id.
// Callbacks can race send creation, so callers usually tolerate this.
type ErrSendNotFound struct {
	Wamid string
}

func (e *ErrSendNotFound) Error() string {
	return fmt.Sprintf("send with wamid %s not found", e.Wamid)
}

func NewSendNotFound(wamid string) error {
	return &ErrSendNotFound{Wamid: wamid}
}
