package model

import "time"

type Contact struct {
	ID               int        `db:"id" json:"id"`
	WaID             string     `db:"wa_id" json:"wa_id"`
	Name             string     `db:"name" json:"name"`
	OptIn            bool       `db:"opt_in" json:"opt_in"`
	LastDeliveredAt  *time.Time `db:"last_delivered_at" json:"last_delivered_at,omitempty"`
	LastFailureCode  *int       `db:"last_failure_code" json:"last_failure_code,omitempty"`
	LastFailureTitle *string    `db:"last_failure_title" json:"last_failure_title,omitempty"`
	SuppressedUntil  *time.Time `db:"suppressed_until" json:"suppressed_until,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Sendable reports whether the contact may be messaged right now: opted in
// and not inside a cool-off window.
func (c *Contact) Sendable(now time.Time) bool {
	if !c.OptIn {
		return false
	}
	if c.SuppressedUntil != nil && c.SuppressedUntil.After(now) {
		return false
	}
	return true
}

// ContactPatch carries the fields an upsert may change. Nil pointers leave
// the stored value untouched.
type ContactPatch struct {
	Name  *string
	OptIn *bool
}
