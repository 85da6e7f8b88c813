package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
)

// Ledger is the prepaid credit ledger. Reserve is the sole admission gate
// for sending; every reservation is eventually matched by exactly one commit
// or refund (the sweep handles orphans).
type Ledger interface {
	Reserve(ctx context.Context, tenantID int, amount int64, reference string) (int, error)
	Commit(ctx context.Context, reservationID int) error
	Refund(ctx context.Context, reservationID int) error
	Purchase(ctx context.Context, tenantID int, amount int64, reference string) (int, error)
	Balance(ctx context.Context, tenantID int) (int64, error)
	SweepExpired(ctx context.Context, olderThan time.Duration) (int, error)
}

type PostgresLedger struct {
	DB  *sql.DB
	Log *zap.Logger
}

// Reserve atomically checks and decrements the tenant balance, then appends
// an open reserve row. The conditional UPDATE on the tenants row is the
// per-tenant serialization point: concurrent reservations can never jointly
// overspend a shared balance.
func (l *PostgresLedger) Reserve(ctx context.Context, tenantID int, amount int64, reference string) (int, error) {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE tenants SET credit_balance = credit_balance - $1
        WHERE id = $2 AND credit_balance >= $1
    `, amount, tenantID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		var available int64
		if err := l.DB.QueryRowContext(ctx,
			`SELECT credit_balance FROM tenants WHERE id=$1`, tenantID).Scan(&available); err != nil {
			return 0, err
		}
		return 0, appErrors.NewInsufficientCredits(tenantID, amount, available)
	}

	var reservationID int
	err = tx.QueryRowContext(ctx, `
        INSERT INTO credit_ledger (tenant_id, amount, kind, reference, status, created_at)
        VALUES ($1, $2, 'reserve', $3, 'open', NOW())
        RETURNING id
    `, tenantID, -amount, reference).Scan(&reservationID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return reservationID, nil
}

// settle flips the reserve row open -> settled, returning its tenant and
// amount. The CAS guard makes Commit and Refund idempotent: a reservation
// already settled by the other path affects zero rows.
func (l *PostgresLedger) settle(ctx context.Context, tx *sql.Tx, reservationID int) (tenantID int, amount int64, settled bool, err error) {
	err = tx.QueryRowContext(ctx, `
        UPDATE credit_ledger SET status='settled'
        WHERE id=$1 AND kind='reserve' AND status='open'
        RETURNING tenant_id, amount
    `, reservationID).Scan(&tenantID, &amount)
	if err == sql.ErrNoRows {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return tenantID, amount, true, nil
}

// Commit converts a reservation into a permanent debit. The balance was
// already decremented at reserve time, so the commit row carries amount 0
// and serves as the audit-trail match for the reservation.
func (l *PostgresLedger) Commit(ctx context.Context, reservationID int) error {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tenantID, _, settled, err := l.settle(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if !settled {
		l.Log.Debug("reservation already settled", zap.Int("reservation_id", reservationID))
		return nil
	}

	_, err = tx.ExecContext(ctx, `
        INSERT INTO credit_ledger (tenant_id, amount, kind, reference, created_at)
        VALUES ($1, 0, 'commit', $2, NOW())
    `, tenantID, fmt.Sprintf("reservation:%d", reservationID))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Refund reverses a reservation: balance restored, refund row appended.
func (l *PostgresLedger) Refund(ctx context.Context, reservationID int) error {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tenantID, amount, settled, err := l.settle(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	if !settled {
		l.Log.Debug("reservation already settled", zap.Int("reservation_id", reservationID))
		return nil
	}

	// reserve rows are negative; the refund mirrors them back.
	refund := -amount
	if _, err = tx.ExecContext(ctx,
		`UPDATE tenants SET credit_balance = credit_balance + $1 WHERE id = $2`, refund, tenantID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO credit_ledger (tenant_id, amount, kind, reference, created_at)
        VALUES ($1, $2, 'refund', $3, NOW())
    `, tenantID, refund, fmt.Sprintf("reservation:%d", reservationID))
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Purchase credits a tenant from a confirmed billing purchase. The engine
// only consumes the resulting balance; purchases originate elsewhere.
func (l *PostgresLedger) Purchase(ctx context.Context, tenantID int, amount int64, reference string) (int, error) {
	if amount <= 0 {
		return 0, appErrors.NewValidation("amount", "must be positive")
	}
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx,
		`UPDATE tenants SET credit_balance = credit_balance + $1 WHERE id = $2`, amount, tenantID); err != nil {
		return 0, err
	}

	var id int
	err = tx.QueryRowContext(ctx, `
        INSERT INTO credit_ledger (tenant_id, amount, kind, reference, created_at)
        VALUES ($1, $2, 'purchase', $3, NOW())
        RETURNING id
    `, tenantID, amount, reference).Scan(&id)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

func (l *PostgresLedger) Balance(ctx context.Context, tenantID int) (int64, error) {
	var balance int64
	err := l.DB.QueryRowContext(ctx,
		`SELECT credit_balance FROM tenants WHERE id=$1`, tenantID).Scan(&balance)
	return balance, err
}

// SweepExpired refunds reservations that were never committed nor refunded
// within the grace window, so credits are never lost to a provider that
// stopped answering. One failed refund does not stop the sweep.
func (l *PostgresLedger) SweepExpired(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := l.DB.QueryContext(ctx, `
        SELECT id FROM credit_ledger
        WHERE kind='reserve' AND status='open' AND created_at < $1
        ORDER BY id ASC
    `, cutoff)
	if err != nil {
		return 0, err
	}
	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	refunded := 0
	for _, id := range ids {
		if err := l.Refund(ctx, id); err != nil {
			l.Log.Error("orphaned reservation refund failed",
				zap.Int("reservation_id", id), zap.Error(err))
			continue
		}
		refunded++
	}
	if refunded > 0 {
		l.Log.Info("swept orphaned reservations", zap.Int("refunded", refunded))
	}
	return refunded, nil
}

var _ Ledger = (*PostgresLedger)(nil)
