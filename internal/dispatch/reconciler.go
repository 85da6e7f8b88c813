package dispatch

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/unclebandit/smsleopard-dispatch/internal/ledger"
	"github.com/unclebandit/smsleopard-dispatch/internal/repository"
)

// Reconciler periodically recovers what a crashed worker leaves behind:
// reserved recipients whose claim went quiet are refunded and put back to
// pending for the next sweep, and reservations the provider never answered
// for are refunded so credits cannot be lost.
type Reconciler struct {
	Ledger         ledger.Ledger
	Recipients     repository.RecipientRepositoryInterface
	ReservationTTL time.Duration
	Log            *zap.Logger

	cronEngine *cron.Cron
}

func NewReconciler(l ledger.Ledger, recipients repository.RecipientRepositoryInterface, reservationTTL time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{
		Ledger:         l,
		Recipients:     recipients,
		ReservationTTL: reservationTTL,
		Log:            log,
		cronEngine:     cron.New(),
	}
}

// Start registers the sweep on the given cron spec (e.g. "@every 10m").
func (r *Reconciler) Start(spec string) error {
	_, err := r.cronEngine.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		r.sweep(ctx)
	})
	if err != nil {
		return err
	}
	r.cronEngine.Start()
	r.Log.Info("reservation reconciler started", zap.String("spec", spec))
	return nil
}

// sweep releases stale reserved recipients first, refunding their attached
// reservations, then refunds any remaining orphaned reservations. Refunds
// settle at most once, so overlap between the two passes is harmless. One
// failure does not stop the sweep.
func (r *Reconciler) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.ReservationTTL)
	stale, err := r.Recipients.StaleReserved(ctx, cutoff)
	if err != nil {
		r.Log.Error("stale recipient scan failed", zap.Error(err))
	}
	released := 0
	for _, rec := range stale {
		if rec.ReservationID != nil {
			if err := r.Ledger.Refund(ctx, *rec.ReservationID); err != nil {
				r.Log.Error("stale recipient refund failed",
					zap.Int("recipient_id", rec.ID), zap.Error(err))
				continue
			}
		}
		if err := r.Recipients.Release(ctx, rec.ID); err != nil {
			r.Log.Error("stale recipient release failed",
				zap.Int("recipient_id", rec.ID), zap.Error(err))
			continue
		}
		released++
	}
	if released > 0 {
		r.Log.Info("stale recipients released", zap.Int("released", released))
	}

	refunded, err := r.Ledger.SweepExpired(ctx, r.ReservationTTL)
	if err != nil {
		r.Log.Error("reservation sweep failed", zap.Error(err))
		return
	}
	if refunded > 0 {
		r.Log.Info("reservation sweep done", zap.Int("refunded", refunded))
	}
}

func (r *Reconciler) Stop() {
	r.cronEngine.Stop()
}
