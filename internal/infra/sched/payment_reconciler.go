package sched

import (
	"context"
	"time"

	"careercraft-billing/internal/usecase"

	"github.com/rs/zerolog"
)

// PaymentReconciler periodically scans for records stuck in created/pending
// and converges them against gateway truth. This covers the double-loss case:
// the client callback never arrived and every webhook delivery was missed.
type PaymentReconciler struct {
	uc         usecase.PaymentUseCase
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old an open record must be to re-check
	log        *zerolog.Logger
}

func NewPaymentReconciler(uc usecase.PaymentUseCase, interval, staleAfter time.Duration, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	recLog := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{uc: uc, interval: interval, staleAfter: staleAfter, log: &recLog}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting payment reconciler")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.uc.ReconcileStale(ctx, time.Now().Add(-w.staleAfter), 200)
			if err != nil {
				w.log.Error().Err(err).Msg("reconcile error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("stale payments converged")
			}
		}
	}
}
