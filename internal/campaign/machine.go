package campaign

import (
	"context"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/smsleopard-dispatch/internal/errors"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

// StateMachine owns the campaign lifecycle. All transitions go through it;
// concurrent attempts are serialized by the repository's single-row CAS.
type StateMachine struct {
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Log        *zap.Logger
}

// Transition moves a campaign from -> to. A command whose observed state is
// already at or past the target is a no-op, whether the caller read it that
// way or lost the CAS to a concurrent mover, so retried commands are
// harmless.
func (m *StateMachine) Transition(ctx context.Context, campaignID int, from, to string) error {
	if from == to || pastTarget(from, to) {
		return nil
	}
	if !CanTransition(from, to) {
		return appErrors.NewInvalidTransition(campaignID, from, to)
	}

	ok, err := m.Campaigns.TransitionState(ctx, campaignID, from, to)
	if err != nil {
		return err
	}
	if ok {
		m.Log.Info("campaign state changed",
			zap.Int("campaign_id", campaignID), zap.String("from", from), zap.String("to", to))
		return nil
	}

	current, err := m.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if current.State == to || pastTarget(current.State, to) {
		return nil
	}
	return appErrors.NewInvalidTransition(campaignID, current.State, to)
}

// TryComplete closes a sending campaign once every recipient is terminal.
// It runs incrementally, after each recipient reaches a terminal status,
// instead of being polled.
func (m *StateMachine) TryComplete(ctx context.Context, campaignID int) error {
	c, err := m.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.State != model.CampaignSending {
		return nil
	}

	remaining, err := m.Recipients.CountNonTerminal(ctx, campaignID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return nil
	}
	return m.Transition(ctx, campaignID, model.CampaignSending, model.CampaignSent)
}
