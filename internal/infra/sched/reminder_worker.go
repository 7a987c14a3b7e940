package sched

import (
	"context"
	"time"

	"careercraft-billing/internal/usecase"

	"github.com/rs/zerolog"
)

// ReminderWorker sends renewal reminders as paid terms cross the notice
// windows. Dedup lives in the use case; this is just the clock.
type ReminderWorker struct {
	interval time.Duration
	subUC    usecase.SubscriptionUseCase
	log      *zerolog.Logger
}

func NewReminderWorker(interval time.Duration, subUC usecase.SubscriptionUseCase, logger *zerolog.Logger) *ReminderWorker {
	remLog := logger.With().Str("component", "ReminderWorker").Logger()
	return &ReminderWorker{
		interval: interval,
		subUC:    subUC,
		log:      &remLog,
	}
}

func (w *ReminderWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting reminder worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping reminder worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.subUC.SendRenewalReminders(ctx, time.Now())
			if err != nil {
				w.log.Error().Err(err).Msg("reminder run error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("renewal reminders sent")
			}
		}
	}
}
