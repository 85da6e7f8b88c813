package model

import "time"

// InboundMessage is a reply received from a contact. Replies are recorded
// against the originating contact when one matches; they never touch
// campaign state.
type InboundMessage struct {
	ID         int       `db:"id" json:"id"`
	TenantID   int       `db:"tenant_id" json:"tenant_id"`
	ContactID  *int      `db:"contact_id" json:"contact_id,omitempty"`
	FromNumber string    `db:"from_number" json:"from_number"`
	ToNumber   string    `db:"to_number" json:"to_number"`
	Body       string    `db:"body" json:"body"`
	EventID    string    `db:"event_id" json:"event_id"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
