package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

// ContactRepositoryInterface is the engine's read-only view of contacts.
// Contact CRUD and import live in the CRM layer.
type ContactRepositoryInterface interface {
	ListForAudience(ctx context.Context, tenantID int, kind, arg string) ([]model.Contact, error)
	GetByPhone(ctx context.Context, tenantID int, phone string) (*model.Contact, error)
}

type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, tenant_id, phone, first_name, last_name, gender, tags, opted_out, created_at`

// ListForAudience returns every contact matching the selector, ordered by id
// so a snapshot taken twice from the same data is identical. Usability
// filtering (phone, opt-out) is the resolver's job.
func (r *ContactRepository) ListForAudience(ctx context.Context, tenantID int, kind, arg string) ([]model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id=$1`
	args := []interface{}{tenantID}

	switch kind {
	case model.AudienceAll:
	case model.AudienceGender:
		query += ` AND gender=$2`
		args = append(args, arg)
	case model.AudienceTag:
		query += ` AND $2 = ANY(tags)`
		args = append(args, arg)
	default:
		return nil, fmt.Errorf("unknown audience kind: %s", kind)
	}
	query += ` ORDER BY id ASC`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.Contact{}
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.Phone, &c.FirstName, &c.LastName,
			&c.Gender, pq.Array(&c.Tags), &c.OptedOut, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *ContactRepository) GetByPhone(ctx context.Context, tenantID int, phone string) (*model.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE tenant_id=$1 AND phone=$2`
	var c model.Contact
	err := r.DB.QueryRowContext(ctx, query, tenantID, phone).Scan(
		&c.ID, &c.TenantID, &c.Phone, &c.FirstName, &c.LastName,
		&c.Gender, pq.Array(&c.Tags), &c.OptedOut, &c.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
