package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

type ReceiptRepositoryInterface interface {
	InsertReceipt(ctx context.Context, rec *model.DeliveryReceipt) error
	InsertInbound(ctx context.Context, msg *model.InboundMessage) error
}

type ReceiptRepository struct {
	DB *sql.DB
}

const uniqueViolation = "23505"

// InsertReceipt stores the webhook event. The unique index on event_id is
// the idempotency check: a duplicate surfaces as DuplicateEventError before
// any other state is touched.
func (r *ReceiptRepository) InsertReceipt(ctx context.Context, rec *model.DeliveryReceipt) error {
	query := `
        INSERT INTO delivery_receipts (event_id, provider_message_id, status_code, occurred_at, created_at)
        VALUES ($1, $2, $3, $4, NOW())
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query,
		rec.EventID, rec.ProviderMessageID, rec.StatusCode, rec.OccurredAt,
	).Scan(&rec.ID)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		return appErrors.NewDuplicateEvent(rec.EventID)
	}
	return err
}

func (r *ReceiptRepository) InsertInbound(ctx context.Context, msg *model.InboundMessage) error {
	query := `
        INSERT INTO inbound_messages (tenant_id, contact_id, from_number, to_number, body, event_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        RETURNING id
    `
	var contactID sql.NullInt64
	if msg.ContactID != nil {
		contactID = sql.NullInt64{Int64: int64(*msg.ContactID), Valid: true}
	}
	err := r.DB.QueryRowContext(ctx, query,
		msg.TenantID, contactID, msg.FromNumber, msg.ToNumber, msg.Body, msg.EventID,
	).Scan(&msg.ID)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		return appErrors.NewDuplicateEvent(msg.EventID)
	}
	return err
}

var _ ReceiptRepositoryInterface = (*ReceiptRepository)(nil)
