package model

import "time"

// Ledger entry kinds. The ledger is append-only; a tenant's balance always
// equals the sum of its entry amounts. The debit of a send is carried by the
// reserve row; commit marks it permanent (amount 0), refund reverses it.
const (
	LedgerReserve  = "reserve"
	LedgerCommit   = "commit"
	LedgerRefund   = "refund"
	LedgerPurchase = "purchase"
)

// Reservation settlement states. Only reserve rows carry a status; the
// open→settled flip is the guard against double commit/refund.
const (
	ReservationOpen    = "open"
	ReservationSettled = "settled"
)

type CreditLedgerEntry struct {
	ID        int       `db:"id" json:"id"`
	TenantID  int       `db:"tenant_id" json:"tenant_id"`
	Amount    int64     `db:"amount" json:"amount"`
	Kind      string    `db:"kind" json:"kind"`
	Reference string    `db:"reference" json:"reference"`
	Status    string    `db:"status" json:"status,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
