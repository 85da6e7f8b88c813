package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	UpdateDraft(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	GetByTenant(ctx context.Context, tenantID, id int) (*model.Campaign, error)
	List(ctx context.Context, tenantID, offset, limit int, state string) ([]*model.Campaign, int, error)

	// Dispatch
	Due(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error)
	TransitionState(ctx context.Context, id int, from, to string) (bool, error)
	SetScheduledAt(ctx context.Context, id int, at time.Time) error
	SetExcludedCount(ctx context.Context, id, n int) error
	AddCounts(ctx context.Context, id, sent, delivered, failed int) error
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, name, message_body, audience_kind, audience_arg,
        schedule_mode, scheduled_at, state, sent_count, delivered_count, failed_count,
        excluded_count, created_at, updated_at`

func scanCampaign(row *sql.Row) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.MessageBody, &c.AudienceKind, &c.AudienceArg,
		&c.ScheduleMode, &c.ScheduledAt, &c.State, &c.SentCount, &c.DeliveredCount,
		&c.FailedCount, &c.ExcludedCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.State == "" {
		c.State = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (tenant_id, name, message_body, audience_kind, audience_arg,
            schedule_mode, scheduled_at, state, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		c.TenantID, c.Name, c.MessageBody, c.AudienceKind, c.AudienceArg,
		c.ScheduleMode, c.ScheduledAt, c.State, c.CreatedAt,
	).Scan(&c.ID)
}

// UpdateDraft rewrites the editable fields. The state guard keeps the body
// and audience frozen once the campaign has left draft.
func (r *CampaignRepository) UpdateDraft(ctx context.Context, c *model.Campaign) error {
	query := `
        UPDATE campaigns
        SET name=$1, message_body=$2, audience_kind=$3, audience_arg=$4,
            schedule_mode=$5, scheduled_at=$6, updated_at=NOW()
        WHERE id=$7 AND tenant_id=$8 AND state='draft'
    `
	res, err := r.DB.ExecContext(ctx, query,
		c.Name, c.MessageBody, c.AudienceKind, c.AudienceArg,
		c.ScheduleMode, c.ScheduledAt, c.ID, c.TenantID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewInvalidTransition(c.ID, "non-draft", "draft-edit")
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, err
}

func (r *CampaignRepository) GetByTenant(ctx context.Context, tenantID, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1 AND tenant_id=$2`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id, tenantID))
	if err == sql.ErrNoRows {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, err
}

func (r *CampaignRepository) List(ctx context.Context, tenantID, offset, limit int, state string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE tenant_id=$1`
	args := []interface{}{tenantID}
	argPos := 2

	if state != "" {
		query += fmt.Sprintf(" AND state=$%d", argPos)
		args = append(args, state)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.Name, &c.MessageBody, &c.AudienceKind, &c.AudienceArg,
			&c.ScheduleMode, &c.ScheduledAt, &c.State, &c.SentCount, &c.DeliveredCount,
			&c.FailedCount, &c.ExcludedCount, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE tenant_id=$1`
	countArgs := []interface{}{tenantID}
	if state != "" {
		countQuery += " AND state=$2"
		countArgs = append(countArgs, state)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// Due selects campaigns the sweep should pick up: scheduled ones past their
// time, plus sending ones that still have pending recipients (a worker may
// have crashed mid-batch). Earliest due first, id as tiebreak.
func (r *CampaignRepository) Due(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	query := `
        SELECT ` + campaignColumns + `
        FROM campaigns
        WHERE (state='scheduled' AND scheduled_at <= $1)
           OR (state='sending' AND EXISTS (
                SELECT 1 FROM recipients
                WHERE recipients.campaign_id = campaigns.id AND recipients.status = 'pending'))
           OR (state='sending' AND NOT EXISTS (
                SELECT 1 FROM recipients WHERE recipients.campaign_id = campaigns.id))
        ORDER BY scheduled_at ASC NULLS LAST, id ASC
        LIMIT $2
    `
	rows, err := r.DB.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.Name, &c.MessageBody, &c.AudienceKind, &c.AudienceArg,
			&c.ScheduleMode, &c.ScheduledAt, &c.State, &c.SentCount, &c.DeliveredCount,
			&c.FailedCount, &c.ExcludedCount, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// TransitionState is a single-row compare-and-swap; false means the campaign
// was not in the expected source state.
func (r *CampaignRepository) TransitionState(ctx context.Context, id int, from, to string) (bool, error) {
	query := `UPDATE campaigns SET state=$1, updated_at=NOW() WHERE id=$2 AND state=$3`
	res, err := r.DB.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *CampaignRepository) SetScheduledAt(ctx context.Context, id int, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET scheduled_at=$1, updated_at=NOW() WHERE id=$2`, at, id)
	return err
}

func (r *CampaignRepository) SetExcludedCount(ctx context.Context, id, n int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET excluded_count=$1, updated_at=NOW() WHERE id=$2`, n, id)
	return err
}

// AddCounts bumps the aggregate counters incrementally as outcomes arrive.
func (r *CampaignRepository) AddCounts(ctx context.Context, id, sent, delivered, failed int) error {
	query := `
        UPDATE campaigns
        SET sent_count = sent_count + $1,
            delivered_count = delivered_count + $2,
            failed_count = failed_count + $3,
            updated_at = NOW()
        WHERE id=$4
    `
	_, err := r.DB.ExecContext(ctx, query, sent, delivered, failed, id)
	return err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
