package model

import "time"

// Channels a Send can go out on.
const (
	ChannelMediaTemplate = "media_template"
	ChannelTextTemplate  = "text_template"
)

// Send statuses. accepted → sent → delivered → read is the happy path;
// failed comes from the channel, timeout from the orchestrator's fallback
// timer.
const (
	SendAccepted  = "accepted"
	SendSent      = "sent"
	SendDelivered = "delivered"
	SendRead      = "read"
	SendFailed    = "failed"
	SendTimeout   = "timeout"
)

type Send struct {
	ID           int       `db:"id" json:"id"`
	Wamid        *string   `db:"wamid" json:"wamid,omitempty"`
	ContactID    int       `db:"contact_id" json:"contact_id"`
	CampaignID   int       `db:"campaign_id" json:"campaign_id"`
	Channel      string    `db:"channel" json:"channel"`
	Status       string    `db:"status" json:"status"`
	ErrorCode    *int      `db:"error_code" json:"error_code,omitempty"`
	ErrorTitle   *string   `db:"error_title" json:"error_title,omitempty"`
	FallbackSent bool      `db:"fallback_sent" json:"fallback_sent"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

var statusRank = map[string]int{
	SendAccepted:  0,
	SendSent:      1,
	SendDelivered: 2,
	SendRead:      3,
	SendFailed:    4,
	SendTimeout:   4,
}

// StatusRank orders statuses so that late, lower-ranked callbacks can be
// discarded. Unknown statuses rank below everything.
func StatusRank(status string) int {
	r, ok := statusRank[status]
	if !ok {
		return -1
	}
	return r
}

// TerminalStatus reports whether a Send in this status accepts no further
// transitions (lateral diagnostic merges aside).
func TerminalStatus(status string) bool {
	switch status {
	case SendDelivered, SendRead, SendFailed, SendTimeout:
		return true
	}
	return false
}

// CanTransition reports whether a Send may move from one status to another.
// Pending sends upgrade freely; delivered still accepts read; a failure
// state only accepts a lateral failure update (diagnostic merge). Everything
// else is a late callback to discard.
func CanTransition(from, to string) bool {
	if StatusRank(to) < 0 {
		return false
	}
	switch from {
	case SendAccepted, SendSent:
		return StatusRank(to) > StatusRank(from)
	case SendDelivered:
		return to == SendRead
	case SendFailed, SendTimeout:
		return to == SendFailed || to == SendTimeout
	}
	return false
}
