package model

import "time"

// Recipient statuses. One row per (campaign, contact); the unique index on
// that pair is what prevents duplicate sends within a campaign.
const (
	RecipientPending     = "pending"
	RecipientReserved    = "reserved"
	RecipientSent        = "sent"
	RecipientDelivered   = "delivered"
	RecipientFailed      = "failed"
	RecipientUndelivered = "undelivered"
)

type Recipient struct {
	ID                int       `db:"id" json:"id"`
	CampaignID        int       `db:"campaign_id" json:"campaign_id"`
	TenantID          int       `db:"tenant_id" json:"tenant_id"`
	ContactID         int       `db:"contact_id" json:"contact_id"`
	Phone             string    `db:"phone" json:"phone"`
	Status            string    `db:"status" json:"status"`
	ProviderMessageID *string   `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ReservationID     *int      `db:"reservation_id" json:"reservation_id,omitempty"`
	RetryCount        int       `db:"retry_count" json:"retry_count"`
	LastError         string    `db:"last_error" json:"last_error,omitempty"`
	StatusAt          time.Time `db:"status_at" json:"status_at"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// RecipientTerminal reports whether a recipient status can no longer change
// through dispatch. "sent" counts as terminal for campaign completion: the
// message left the building, a later receipt only refines it.
func RecipientTerminal(status string) bool {
	switch status {
	case RecipientSent, RecipientDelivered, RecipientFailed, RecipientUndelivered:
		return true
	}
	return false
}
