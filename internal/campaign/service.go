package campaign

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/audience"
	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

// MaxMessageLen is the hard ceiling on a campaign message body.
const MaxMessageLen = 1600

// Service is the authoring edge of the engine: create, schedule, send,
// cancel. Everything past the scheduled flip belongs to the dispatcher.
type Service struct {
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Tenants    repository.TenantRepositoryInterface
	Resolver   *audience.Resolver
	Machine    *StateMachine
	Log        *zap.Logger
}

type CreateInput struct {
	Name         string     `json:"name"`
	MessageBody  string     `json:"message_body"`
	AudienceKind string     `json:"audience_kind"`
	AudienceArg  string     `json:"audience_arg"`
	ScheduleMode string     `json:"schedule_mode"`
	ScheduledAt  *time.Time `json:"scheduled_at"`
}

func validate(in *CreateInput) error {
	if in.Name == "" {
		return appErrors.NewValidation("name", "must not be empty")
	}
	if in.MessageBody == "" {
		return appErrors.NewValidation("message_body", "must not be empty")
	}
	if len(in.MessageBody) > MaxMessageLen {
		return appErrors.NewValidation("message_body", "exceeds maximum length")
	}
	switch in.AudienceKind {
	case model.AudienceAll:
	case model.AudienceGender, model.AudienceTag:
		if in.AudienceArg == "" {
			return appErrors.NewValidation("audience_arg", "required for this audience kind")
		}
	default:
		return appErrors.NewValidation("audience_kind", "unknown selector")
	}
	switch in.ScheduleMode {
	case model.ScheduleImmediate:
	case model.ScheduleScheduled:
		if in.ScheduledAt == nil {
			return appErrors.NewValidation("scheduled_at", "required for scheduled mode")
		}
		if in.ScheduledAt.Before(time.Now()) {
			return appErrors.NewValidation("scheduled_at", "must be in the future")
		}
	default:
		return appErrors.NewValidation("schedule_mode", "unknown mode")
	}
	return nil
}

// Create validates input and persists a draft. The credit estimate is
// advisory only: a short balance is logged, not a blocker, since the tenant
// may top up before dispatch.
func (s *Service) Create(ctx context.Context, tenantID int, in *CreateInput) (*model.Campaign, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	c := &model.Campaign{
		TenantID:     tenantID,
		Name:         in.Name,
		MessageBody:  in.MessageBody,
		AudienceKind: in.AudienceKind,
		AudienceArg:  in.AudienceArg,
		ScheduleMode: in.ScheduleMode,
		ScheduledAt:  in.ScheduledAt,
		State:        model.CampaignDraft,
	}
	if err := s.Campaigns.Create(ctx, c); err != nil {
		return nil, err
	}

	if tenant, err := s.Tenants.GetByID(ctx, tenantID); err == nil && tenant != nil {
		eligible, _, err := s.Resolver.Resolve(ctx, tenantID, in.AudienceKind, in.AudienceArg)
		if err == nil {
			estimate := int64(len(eligible)) * tenant.PricePerMessage
			if estimate > tenant.CreditBalance {
				s.Log.Warn("campaign estimate exceeds balance",
					zap.Int("campaign_id", c.ID),
					zap.Int64("estimate", estimate),
					zap.Int64("balance", tenant.CreditBalance))
			}
		}
	}
	return c, nil
}

// Update rewrites a draft. The repository refuses edits past draft, which is
// what freezes body and audience once scheduling happens.
func (s *Service) Update(ctx context.Context, tenantID, id int, in *CreateInput) (*model.Campaign, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	c, err := s.Campaigns.GetByTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	c.Name = in.Name
	c.MessageBody = in.MessageBody
	c.AudienceKind = in.AudienceKind
	c.AudienceArg = in.AudienceArg
	c.ScheduleMode = in.ScheduleMode
	c.ScheduledAt = in.ScheduledAt
	if err := s.Campaigns.UpdateDraft(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Schedule moves a draft to scheduled at its configured time.
func (s *Service) Schedule(ctx context.Context, tenantID, id int) error {
	c, err := s.Campaigns.GetByTenant(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if c.ScheduleMode == model.ScheduleScheduled {
		if c.ScheduledAt == nil {
			return appErrors.NewValidation("scheduled_at", "missing for scheduled mode")
		}
		if c.ScheduledAt.Before(time.Now()) {
			return appErrors.NewValidation("scheduled_at", "must be in the future")
		}
	} else if err := s.Campaigns.SetScheduledAt(ctx, id, time.Now()); err != nil {
		return err
	}
	return s.Machine.Transition(ctx, id, c.State, model.CampaignScheduled)
}

// SendNow makes a campaign due immediately; the next sweep picks it up.
func (s *Service) SendNow(ctx context.Context, tenantID, id int) error {
	c, err := s.Campaigns.GetByTenant(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.Campaigns.SetScheduledAt(ctx, id, time.Now()); err != nil {
		return err
	}
	if c.State == model.CampaignScheduled {
		return nil
	}
	return s.Machine.Transition(ctx, id, c.State, model.CampaignScheduled)
}

// Cancel flips a scheduled campaign directly; for a sending campaign it is
// cooperative: the dispatcher stops issuing new sends, in-flight attempts
// still complete and reconcile.
func (s *Service) Cancel(ctx context.Context, tenantID, id int) error {
	c, err := s.Campaigns.GetByTenant(ctx, tenantID, id)
	if err != nil {
		return err
	}
	return s.Machine.Transition(ctx, id, c.State, model.CampaignCanceled)
}

type Details struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

func (s *Service) Get(ctx context.Context, tenantID, id int) (*Details, error) {
	c, err := s.Campaigns.GetByTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.Recipients.StatusCounts(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Details{Campaign: c, Stats: stats}, nil
}

// List fetches campaigns with pagination.
func (s *Service) List(ctx context.Context, tenantID, page, pageSize int, state string) ([]*model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.Campaigns.List(ctx, tenantID, offset, pageSize, state)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}
