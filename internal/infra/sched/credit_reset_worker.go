package sched

import (
	"context"
	"time"

	"careercraft-billing/internal/usecase"

	"github.com/rs/zerolog"
)

// CreditResetWorker restores monthly credit ledgers. The target is the UTC
// start of the current month; a subscription reset in a previous month is due,
// one reset after the boundary is not. Running the tick hourly makes a missed
// boundary self-heal.
type CreditResetWorker struct {
	interval time.Duration
	subUC    usecase.SubscriptionUseCase
	log      *zerolog.Logger
}

func NewCreditResetWorker(interval time.Duration, subUC usecase.SubscriptionUseCase, logger *zerolog.Logger) *CreditResetWorker {
	resetLog := logger.With().Str("component", "CreditResetWorker").Logger()
	return &CreditResetWorker{
		interval: interval,
		subUC:    subUC,
		log:      &resetLog,
	}
}

func (w *CreditResetWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting credit reset worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping credit reset worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.subUC.ResetMonthlyCredits(ctx, monthStart(time.Now()))
			if err != nil {
				w.log.Error().Err(err).Msg("credit reset error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("credit ledgers reset")
			}
		}
	}
}

func monthStart(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
