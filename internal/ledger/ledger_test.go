package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
)

func newLedger(t *testing.T) (*PostgresLedger, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresLedger{DB: db, Log: zap.NewNop()}, mock
}

func TestReserveDebitsAndOpensRow(t *testing.T) {
	l, mock := newLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tenants SET credit_balance = credit_balance -").
		WithArgs(int64(10), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO credit_ledger").
		WithArgs(1, int64(-10), "recipient:42").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	id, err := l.Reserve(context.Background(), 1, 10, "recipient:42")
	require.NoError(t, err)
	assert.Equal(t, 7, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserveInsufficientBalance(t *testing.T) {
	l, mock := newLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tenants SET credit_balance = credit_balance -").
		WithArgs(int64(10), 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT credit_balance FROM tenants").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(int64(4)))
	mock.ExpectRollback()

	_, err := l.Reserve(context.Background(), 1, 10, "recipient:42")
	require.Error(t, err)
	assert.True(t, appErrors.IsInsufficientCredits(err))

	var ie *appErrors.InsufficientCreditsError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, int64(4), ie.Available)
	assert.Equal(t, int64(10), ie.Requested)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitSettlesOnce(t *testing.T) {
	l, mock := newLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE credit_ledger SET status='settled'").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "amount"}).AddRow(1, int64(-10)))
	mock.ExpectExec("INSERT INTO credit_ledger").
		WithArgs(1, "reservation:7").
		WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectCommit()

	require.NoError(t, l.Commit(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitAlreadySettledIsNoOp(t *testing.T) {
	l, mock := newLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE credit_ledger SET status='settled'").
		WithArgs(7).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	require.NoError(t, l.Commit(context.Background(), 7), "double settlement must be silent")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundRestoresBalance(t *testing.T) {
	l, mock := newLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE credit_ledger SET status='settled'").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "amount"}).AddRow(1, int64(-10)))
	mock.ExpectExec("UPDATE tenants SET credit_balance = credit_balance \\+").
		WithArgs(int64(10), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").
		WithArgs(1, int64(10), "reservation:7").
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectCommit()

	require.NoError(t, l.Refund(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundAfterCommitIsNoOp(t *testing.T) {
	l, mock := newLedger(t)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE credit_ledger SET status='settled'").
		WithArgs(7).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	require.NoError(t, l.Refund(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurchaseRejectsNonPositiveAmount(t *testing.T) {
	l, _ := newLedger(t)
	_, err := l.Purchase(context.Background(), 1, 0, "invoice:1")
	assert.True(t, appErrors.IsValidation(err))
	_, err = l.Purchase(context.Background(), 1, -5, "invoice:1")
	assert.True(t, appErrors.IsValidation(err))
}

func TestPurchaseCreditsBalance(t *testing.T) {
	l, mock := newLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE tenants SET credit_balance = credit_balance \\+").
		WithArgs(int64(100), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO credit_ledger").
		WithArgs(1, int64(100), "invoice:9").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(12))
	mock.ExpectCommit()

	id, err := l.Purchase(context.Background(), 1, 100, "invoice:9")
	require.NoError(t, err)
	assert.Equal(t, 12, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepExpiredRefundsOrphans(t *testing.T) {
	l, mock := newLedger(t)

	mock.ExpectQuery("SELECT id FROM credit_ledger").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(5))

	for _, id := range []int{3, 5} {
		mock.ExpectBegin()
		mock.ExpectQuery("UPDATE credit_ledger SET status='settled'").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "amount"}).AddRow(1, int64(-10)))
		mock.ExpectExec("UPDATE tenants SET credit_balance = credit_balance \\+").
			WithArgs(int64(10), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO credit_ledger").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	n, err := l.SweepExpired(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
