package model

import "time"

// Provider delivery receipt status codes (SMPP-style).
const (
	ReceiptDelivered   = "DELIVRD"
	ReceiptUndelivered = "UNDELIV"
	ReceiptExpired     = "EXPIRED"
	ReceiptRejected    = "REJECTD"
	ReceiptAccepted    = "ACCEPTD"
	ReceiptEnroute     = "ENROUTE"
	ReceiptUnknown     = "UNKNOWN"
)

// DeliveryReceipt is one provider webhook event, retained so duplicate
// deliveries of the same event can be detected and acknowledged.
type DeliveryReceipt struct {
	ID                int       `db:"id" json:"id"`
	EventID           string    `db:"event_id" json:"event_id"`
	ProviderMessageID string    `db:"provider_message_id" json:"provider_message_id"`
	StatusCode        string    `db:"status_code" json:"status_code"`
	OccurredAt        time.Time `db:"occurred_at" json:"occurred_at"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
