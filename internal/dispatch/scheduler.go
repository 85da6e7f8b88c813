package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/audience"
	"github.com/unclebandit/smsleopard-dispatch/internal/campaign"
	"github.com/unclebandit/smsleopard-dispatch/internal/lease"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/queue"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

// SendTopic is the queue carrying per-recipient send jobs.
const SendTopic = "campaign_sends"

const sweepLimit = 20

// Scheduler sweeps for due campaigns and fans their recipients out onto the
// send queue. Several scheduler processes may run at once: the per-campaign
// lease makes claims exclusive, and everything downstream is idempotent.
type Scheduler struct {
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Resolver   *audience.Resolver
	Machine    *campaign.StateMachine
	Leases     *lease.Manager
	Queue      queue.Queue
	Log        *zap.Logger

	SweepInterval time.Duration
	BatchSize     int
	BatchDelay    time.Duration

	mu        sync.Mutex
	isRunning bool
}

// Start runs the sweep loop until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.SweepInterval)
	s.Log.Info("dispatch scheduler started", zap.Duration("interval", s.SweepInterval))

	go func() {
		defer ticker.Stop()
		s.sweep(ctx)
		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				s.Log.Info("dispatch scheduler stopped")
				return
			}
		}
	}()
}

// sweep skips itself when the previous run is still going.
func (s *Scheduler) sweep(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	due, err := s.Campaigns.Due(ctx, time.Now(), sweepLimit)
	if err != nil {
		s.Log.Error("due campaign query failed", zap.Error(err))
		return
	}

	for _, c := range due {
		if ctx.Err() != nil {
			return
		}
		if err := s.dispatch(ctx, c); err != nil {
			// one campaign's trouble never blocks its siblings
			s.Log.Error("campaign dispatch failed",
				zap.Int("campaign_id", c.ID), zap.Error(err))
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, c *model.Campaign) error {
	held, err := s.Leases.Acquire(ctx, c.ID)
	if err != nil {
		return err
	}
	if held == nil {
		// another worker owns this campaign
		return nil
	}
	defer held.Release(context.WithoutCancel(ctx))

	if c.State == model.CampaignScheduled {
		if err := s.Machine.Transition(ctx, c.ID, model.CampaignScheduled, model.CampaignSending); err != nil {
			return err
		}
	}

	if err := s.snapshotAudience(ctx, c); err != nil {
		return err
	}

	for {
		current, err := s.Campaigns.GetByID(ctx, c.ID)
		if err != nil {
			return err
		}
		if current.State != model.CampaignSending {
			// canceled mid-flight; stop issuing new sends
			s.Log.Info("campaign no longer sending, stopping fan-out",
				zap.Int("campaign_id", c.ID), zap.String("state", current.State))
			return nil
		}

		ids, err := s.Recipients.PendingIDs(ctx, c.ID, s.BatchSize)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return s.Machine.TryComplete(ctx, c.ID)
		}

		for _, id := range ids {
			job := queue.SendJob{RecipientID: id, CampaignID: c.ID, TenantID: c.TenantID}
			if err := s.Queue.Publish(SendTopic, job); err != nil {
				return err
			}
		}
		s.Log.Info("batch queued",
			zap.Int("campaign_id", c.ID), zap.Int("recipients", len(ids)))

		if len(ids) < s.BatchSize {
			// consumers will claim the tail; next sweep re-checks
			return nil
		}

		if ok, err := held.Renew(ctx); err != nil || !ok {
			s.Log.Warn("lost dispatch lease mid-batch", zap.Int("campaign_id", c.ID))
			return err
		}

		select {
		case <-time.After(s.BatchDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// snapshotAudience materializes recipients exactly once per campaign. The
// unique (campaign, contact) index makes a re-run after a crash harmless.
func (s *Scheduler) snapshotAudience(ctx context.Context, c *model.Campaign) error {
	taken, err := s.Recipients.HasAny(ctx, c.ID)
	if err != nil || taken {
		return err
	}

	eligible, excluded, err := s.Resolver.Resolve(ctx, c.TenantID, c.AudienceKind, c.AudienceArg)
	if err != nil {
		return err
	}

	recipients := make([]*model.Recipient, 0, len(eligible))
	for _, contact := range eligible {
		recipients = append(recipients, &model.Recipient{
			CampaignID: c.ID,
			TenantID:   c.TenantID,
			ContactID:  contact.ID,
			Phone:      contact.Phone,
		})
	}
	inserted, err := s.Recipients.BulkInsert(ctx, recipients)
	if err != nil {
		return err
	}
	if err := s.Campaigns.SetExcludedCount(ctx, c.ID, excluded); err != nil {
		return err
	}

	s.Log.Info("audience snapshot taken",
		zap.Int("campaign_id", c.ID),
		zap.Int("eligible", len(eligible)),
		zap.Int("inserted", inserted),
		zap.Int("excluded", excluded))

	if len(eligible) == 0 {
		// nothing to send; close the campaign out
		return s.Machine.TryComplete(ctx, c.ID)
	}
	return nil
}
