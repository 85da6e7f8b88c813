package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

type TenantRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Tenant, error)
	GetBySenderNumber(ctx context.Context, number string) (*model.Tenant, error)
}

type TenantRepository struct {
	DB *sql.DB
}

func (r *TenantRepository) GetByID(ctx context.Context, id int) (*model.Tenant, error) {
	query := `
        SELECT id, name, currency, credit_balance, price_per_message, sender_number, created_at
        FROM tenants WHERE id=$1
    `
	var t model.Tenant
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Currency, &t.CreditBalance, &t.PricePerMessage, &t.SenderNumber, &t.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// GetBySenderNumber resolves the tenant owning a receiving number, used to
// attribute inbound replies.
func (r *TenantRepository) GetBySenderNumber(ctx context.Context, number string) (*model.Tenant, error) {
	query := `
        SELECT id, name, currency, credit_balance, price_per_message, sender_number, created_at
        FROM tenants WHERE sender_number=$1
    `
	var t model.Tenant
	err := r.DB.QueryRowContext(ctx, query, number).Scan(
		&t.ID, &t.Name, &t.Currency, &t.CreditBalance, &t.PricePerMessage, &t.SenderNumber, &t.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

var _ TenantRepositoryInterface = (*TenantRepository)(nil)
