package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

type RecipientRepositoryInterface interface {
	BulkInsert(ctx context.Context, recipients []*model.Recipient) (int, error)
	GetByID(ctx context.Context, id int) (*model.Recipient, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Recipient, error)
	PendingIDs(ctx context.Context, campaignID, limit int) ([]int, error)
	HasAny(ctx context.Context, campaignID int) (bool, error)

	Claim(ctx context.Context, id int) (bool, error)
	Release(ctx context.Context, id int) error
	SetReservation(ctx context.Context, id, reservationID int) error
	MarkSent(ctx context.Context, id int, providerMessageID string) error
	MarkFailed(ctx context.Context, id int, lastError string) error
	SetStatus(ctx context.Context, id int, status string) error
	IncrementRetry(ctx context.Context, id int, lastError string) error

	StaleReserved(ctx context.Context, cutoff time.Time) ([]*model.Recipient, error)
	CountNonTerminal(ctx context.Context, campaignID int) (int, error)
	StatusCounts(ctx context.Context, campaignID int) (map[string]int, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, campaign_id, tenant_id, contact_id, phone, status,
        provider_message_id, reservation_id, retry_count, last_error, status_at, created_at`

// BulkInsert persists the audience snapshot. ON CONFLICT DO NOTHING makes
// the snapshot idempotent: re-running dispatch never duplicates a
// (campaign, contact) pair.
func (r *RecipientRepository) BulkInsert(ctx context.Context, recipients []*model.Recipient) (int, error) {
	query := `
        INSERT INTO recipients (campaign_id, tenant_id, contact_id, phone, status, retry_count, status_at, created_at)
        VALUES ($1, $2, $3, $4, 'pending', 0, NOW(), NOW())
        ON CONFLICT (campaign_id, contact_id) DO NOTHING
    `
	inserted := 0
	for _, rec := range recipients {
		res, err := r.DB.ExecContext(ctx, query, rec.CampaignID, rec.TenantID, rec.ContactID, rec.Phone)
		if err != nil {
			return inserted, err
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

func (r *RecipientRepository) scanOne(row *sql.Row) (*model.Recipient, error) {
	var rec model.Recipient
	err := row.Scan(
		&rec.ID, &rec.CampaignID, &rec.TenantID, &rec.ContactID, &rec.Phone, &rec.Status,
		&rec.ProviderMessageID, &rec.ReservationID, &rec.RetryCount, &rec.LastError,
		&rec.StatusAt, &rec.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *RecipientRepository) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id=$1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, id))
}

func (r *RecipientRepository) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE provider_message_id=$1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, providerMessageID))
}

func (r *RecipientRepository) PendingIDs(ctx context.Context, campaignID, limit int) ([]int, error) {
	query := `
        SELECT id FROM recipients
        WHERE campaign_id=$1 AND status='pending'
        ORDER BY id ASC
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasAny reports whether the audience snapshot was already taken.
func (r *RecipientRepository) HasAny(ctx context.Context, campaignID int) (bool, error) {
	var tmp int
	err := r.DB.QueryRowContext(ctx,
		`SELECT 1 FROM recipients WHERE campaign_id=$1 LIMIT 1`, campaignID).Scan(&tmp)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Claim moves a recipient pending -> reserved. False means another worker
// (or a redelivered queue job) got there first.
func (r *RecipientRepository) Claim(ctx context.Context, id int) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE recipients SET status='reserved', status_at=NOW() WHERE id=$1 AND status='pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Release puts a reserved recipient back to pending, used when admission is
// denied so a later sweep can retry after a top-up.
func (r *RecipientRepository) Release(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE recipients SET status='pending', reservation_id=NULL, status_at=NOW() WHERE id=$1 AND status='reserved'`, id)
	return err
}

func (r *RecipientRepository) SetReservation(ctx context.Context, id, reservationID int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE recipients SET reservation_id=$1 WHERE id=$2`, reservationID, id)
	return err
}

func (r *RecipientRepository) MarkSent(ctx context.Context, id int, providerMessageID string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE recipients SET status='sent', provider_message_id=$1, last_error='', status_at=NOW() WHERE id=$2`,
		providerMessageID, id)
	return err
}

func (r *RecipientRepository) MarkFailed(ctx context.Context, id int, lastError string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE recipients SET status='failed', last_error=$1, status_at=NOW() WHERE id=$2`, lastError, id)
	return err
}

func (r *RecipientRepository) SetStatus(ctx context.Context, id int, status string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE recipients SET status=$1, status_at=NOW() WHERE id=$2`, status, id)
	return err
}

func (r *RecipientRepository) IncrementRetry(ctx context.Context, id int, lastError string) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE recipients SET retry_count=retry_count+1, last_error=$1 WHERE id=$2`, lastError, id)
	return err
}

// StaleReserved lists reserved recipients whose claim went quiet before the
// cutoff. A worker that died between claiming and a terminal outcome leaves
// such a row behind; the redelivered job sees the row off pending and acks,
// so only a sweep can bring it back.
func (r *RecipientRepository) StaleReserved(ctx context.Context, cutoff time.Time) ([]*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients
        WHERE status='reserved' AND status_at < $1
        ORDER BY id ASC`
	rows, err := r.DB.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stale := []*model.Recipient{}
	for rows.Next() {
		var rec model.Recipient
		if err := rows.Scan(
			&rec.ID, &rec.CampaignID, &rec.TenantID, &rec.ContactID, &rec.Phone, &rec.Status,
			&rec.ProviderMessageID, &rec.ReservationID, &rec.RetryCount, &rec.LastError,
			&rec.StatusAt, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		stale = append(stale, &rec)
	}
	return stale, rows.Err()
}

func (r *RecipientRepository) CountNonTerminal(ctx context.Context, campaignID int) (int, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM recipients
        WHERE campaign_id=$1 AND status IN ('pending', 'reserved')
    `, campaignID).Scan(&count)
	return count, err
}

func (r *RecipientRepository) StatusCounts(ctx context.Context, campaignID int) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM recipients WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		model.RecipientPending:     0,
		model.RecipientReserved:    0,
		model.RecipientSent:        0,
		model.RecipientDelivered:   0,
		model.RecipientFailed:      0,
		model.RecipientUndelivered: 0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
