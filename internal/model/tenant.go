package model

import "time"

// Tenant is one store account. CreditBalance and PricePerMessage are in
// minor currency units; every other row in the system is scoped to a tenant.
type Tenant struct {
	ID              int       `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	Currency        string    `db:"currency" json:"currency"`
	CreditBalance   int64     `db:"credit_balance" json:"credit_balance"`
	PricePerMessage int64     `db:"price_per_message" json:"price_per_message"`
	SenderNumber    string    `db:"sender_number" json:"sender_number"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
