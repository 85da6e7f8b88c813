package model

import "time"

// Contact is owned by the CRM layer; the engine only reads contacts when
// resolving an audience and when matching inbound replies.
type Contact struct {
	ID        int       `db:"id" json:"id"`
	TenantID  int       `db:"tenant_id" json:"tenant_id"`
	Phone     string    `db:"phone" json:"phone"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	Gender    string    `db:"gender" json:"gender"`
	Tags      []string  `db:"tags" json:"tags"`
	OptedOut  bool      `db:"opted_out" json:"opted_out"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
