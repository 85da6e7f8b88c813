package receipt

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/campaign"
	"github.com/unclebandit/smsleopard-dispatch/internal/ledger"
	"github.com/unclebandit/smsleopard-dispatch/internal/model"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

// Receipt is one provider delivery callback.
type Receipt struct {
	ProviderMessageID string
	EventID           string
	StatusCode        string
	OccurredAt        time.Time
}

// Inbound is a reply message callback.
type Inbound struct {
	FromNumber string
	ToNumber   string
	Body       string
	EventID    string
}

// Processor ingests provider callbacks. Receipts are processed at most once
// per event id; replies are recorded and never touch campaign state.
type Processor struct {
	Receipts   repository.ReceiptRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Campaigns  repository.CampaignRepositoryInterface
	Tenants    repository.TenantRepositoryInterface
	Contacts   repository.ContactRepositoryInterface
	Ledger     ledger.Ledger
	Machine    *campaign.StateMachine
	Log        *zap.Logger
}

// mapStatus translates a provider status code to a recipient status. The
// second return is false for interim codes that change nothing yet.
func mapStatus(code string) (string, bool) {
	switch code {
	case model.ReceiptDelivered:
		return model.RecipientDelivered, true
	case model.ReceiptUndelivered, model.ReceiptExpired:
		return model.RecipientUndelivered, true
	case model.ReceiptRejected:
		return model.RecipientFailed, true
	default:
		// ACCEPTD, ENROUTE, UNKNOWN: message still moving through the
		// provider; the reservation sweep covers ones that never resolve
		return "", false
	}
}

// ProcessReceipt stores the event first, with the unique event id as the
// idempotency gate, then settles the recipient and its reservation.
// A DuplicateEventError from here means "acknowledge, do nothing".
func (p *Processor) ProcessReceipt(ctx context.Context, r *Receipt) error {
	row := &model.DeliveryReceipt{
		EventID:           r.EventID,
		ProviderMessageID: r.ProviderMessageID,
		StatusCode:        r.StatusCode,
		OccurredAt:        r.OccurredAt,
	}
	if err := p.Receipts.InsertReceipt(ctx, row); err != nil {
		return err
	}

	log := p.Log.With(
		zap.String("event_id", r.EventID),
		zap.String("provider_message_id", r.ProviderMessageID),
		zap.String("status_code", r.StatusCode))

	rec, err := p.Recipients.GetByProviderMessageID(ctx, r.ProviderMessageID)
	if err != nil {
		return err
	}
	if rec == nil {
		// receipt retained for reconciliation; nothing to update yet
		log.Warn("receipt for unknown provider message id")
		return nil
	}

	status, final := mapStatus(r.StatusCode)
	if !final {
		log.Debug("interim receipt, no state change")
		return nil
	}
	if rec.Status != model.RecipientSent {
		// a different event already settled this recipient
		log.Info("receipt for already-settled recipient", zap.String("status", rec.Status))
		return nil
	}

	if err := p.Recipients.SetStatus(ctx, rec.ID, status); err != nil {
		return err
	}

	if rec.ReservationID != nil {
		if status == model.RecipientDelivered {
			err = p.Ledger.Commit(ctx, *rec.ReservationID)
		} else {
			err = p.Ledger.Refund(ctx, *rec.ReservationID)
		}
		if err != nil {
			return err
		}
	}

	delivered, failed := 0, 0
	if status == model.RecipientDelivered {
		delivered = 1
	} else {
		failed = 1
	}
	if err := p.Campaigns.AddCounts(ctx, rec.CampaignID, 0, delivered, failed); err != nil {
		return err
	}

	log.Info("receipt applied", zap.String("recipient_status", status))
	return p.Machine.TryComplete(ctx, rec.CampaignID)
}

// ProcessInbound records a reply against the contact that sent it. The
// receiving number picks the tenant; unmatched senders are stored without a
// contact reference.
func (p *Processor) ProcessInbound(ctx context.Context, in *Inbound) error {
	tenant, err := p.Tenants.GetBySenderNumber(ctx, in.ToNumber)
	if err != nil {
		return err
	}
	if tenant == nil {
		p.Log.Warn("inbound for unknown receiving number", zap.String("to", in.ToNumber))
		return nil
	}

	msg := &model.InboundMessage{
		TenantID:   tenant.ID,
		FromNumber: in.FromNumber,
		ToNumber:   in.ToNumber,
		Body:       in.Body,
		EventID:    in.EventID,
	}

	contact, err := p.Contacts.GetByPhone(ctx, tenant.ID, in.FromNumber)
	if err != nil {
		return err
	}
	if contact != nil {
		msg.ContactID = &contact.ID
	}

	return p.Receipts.InsertInbound(ctx, msg)
}
