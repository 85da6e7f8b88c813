package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/campaign"
	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/ledger"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/provider"
	"github.com/unclebandit/smsleopard-dispatch/internal/queue"
	"github.com/unclebandit/smsleopard-dispatch/internal/ratelimit"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

// Consumer processes one send job: claim the recipient, reserve credit, call
// the provider under the retry policy, record the outcome. Every step is
// idempotent or guarded, so a redelivered job cannot double-send.
type Consumer struct {
	Recipients repository.RecipientRepositoryInterface
	Campaigns  repository.CampaignRepositoryInterface
	Tenants    repository.TenantRepositoryInterface
	Ledger     ledger.Ledger
	Gateway    provider.Gateway
	Retry      provider.RetryPolicy
	Limiter    *ratelimit.Limiter
	Machine    *campaign.StateMachine
	Log        *zap.Logger

	// JobTimeout bounds one job end to end, retries and backoff included.
	JobTimeout time.Duration
}

// limitedGateway checks the shared rate window before each attempt, so an
// exhausted window surfaces as a transient provider error and goes through
// the normal backoff path.
type limitedGateway struct {
	inner   provider.Gateway
	limiter *ratelimit.Limiter
}

func (g *limitedGateway) Send(ctx context.Context, phone, body string) (string, error) {
	if g.limiter != nil {
		ok, err := g.limiter.Allow(ctx)
		if err != nil {
			return "", appErrors.NewProviderTransient("rate_limiter", err.Error())
		}
		if !ok {
			return "", appErrors.NewProviderTransient("rate_limited", "send window exhausted")
		}
	}
	return g.inner.Send(ctx, phone, body)
}

// Handle is the queue handler. A returned error requeues the job; nil acks
// it. Outcomes that are final for the recipient always ack.
func (c *Consumer) Handle(body []byte) error {
	var job queue.SendJob
	if err := json.Unmarshal(body, &job); err != nil {
		c.Log.Warn("invalid send job payload", zap.Error(err))
		return nil
	}

	timeout := c.JobTimeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log := c.Log.With(
		zap.Int("recipient_id", job.RecipientID),
		zap.Int("campaign_id", job.CampaignID),
		zap.Int("tenant_id", job.TenantID))

	rec, err := c.Recipients.GetByID(ctx, job.RecipientID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status != model.RecipientPending {
		// already claimed by another worker or a redelivery
		return nil
	}

	camp, err := c.Campaigns.GetByID(ctx, job.CampaignID)
	if err != nil {
		return err
	}
	if camp.State != model.CampaignSending {
		// cooperative cancel: no new sends once the campaign left sending
		log.Info("skipping send, campaign not sending", zap.String("state", camp.State))
		return nil
	}

	claimed, err := c.Recipients.Claim(ctx, rec.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	tenant, err := c.Tenants.GetByID(ctx, job.TenantID)
	if err != nil {
		return err
	}
	if tenant == nil {
		log.Error("tenant missing for send job")
		return nil
	}

	reservationID, err := c.Ledger.Reserve(ctx, tenant.ID, tenant.PricePerMessage,
		fmt.Sprintf("recipient:%d", rec.ID))
	if err != nil {
		if appErrors.IsInsufficientCredits(err) {
			// admission denied: hold, don't fail; a later sweep retries
			// after the tenant tops up
			log.Warn("insufficient credits, recipient held", zap.Error(err))
			return c.Recipients.Release(ctx, rec.ID)
		}
		return err
	}
	if err := c.Recipients.SetReservation(ctx, rec.ID, reservationID); err != nil {
		return err
	}

	gw := &limitedGateway{inner: c.Gateway, limiter: c.Limiter}
	providerMessageID, sendErr := provider.SendWithRetry(ctx, gw, c.Retry, rec.Phone, camp.MessageBody,
		func(attempt int, attemptErr error) {
			if err := c.Recipients.IncrementRetry(ctx, rec.ID, attemptErr.Error()); err != nil {
				log.Warn("retry count update failed", zap.Error(err))
			}
		})

	if sendErr != nil {
		return c.finishFailed(ctx, log, rec.ID, camp.ID, reservationID, sendErr)
	}

	if err := c.Recipients.MarkSent(ctx, rec.ID, providerMessageID); err != nil {
		return err
	}
	if err := c.Campaigns.AddCounts(ctx, camp.ID, 1, 0, 0); err != nil {
		return err
	}
	log.Info("message sent", zap.String("provider_message_id", providerMessageID))
	return c.Machine.TryComplete(ctx, camp.ID)
}

// finishFailed settles a recipient whose send is definitively lost: mark
// failed, refund the reservation, count it, re-check completion.
func (c *Consumer) finishFailed(ctx context.Context, log *zap.Logger, recipientID, campaignID, reservationID int, sendErr error) error {
	if pe, ok := appErrors.AsProvider(sendErr); ok && pe.Class == appErrors.ProviderUnknown {
		log.Warn("send exhausted on unknown provider responses, flagging",
			zap.String("code", pe.Code))
	}
	if err := c.Recipients.MarkFailed(ctx, recipientID, sendErr.Error()); err != nil {
		return err
	}
	if err := c.Ledger.Refund(ctx, reservationID); err != nil {
		return err
	}
	if err := c.Campaigns.AddCounts(ctx, campaignID, 0, 0, 1); err != nil {
		return err
	}
	log.Info("recipient failed", zap.Error(sendErr))
	return c.Machine.TryComplete(ctx, campaignID)
}
