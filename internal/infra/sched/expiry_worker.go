package sched

import (
	"context"
	"time"

	"careercraft-billing/internal/domain/ports/repository"
	"careercraft-billing/internal/infra/metrics"
	"careercraft-billing/internal/usecase"

	"github.com/rs/zerolog"
)

// ExpiryWorker periodically downgrades lapsed subscriptions via the use case
// and refreshes the by-status gauge.
type ExpiryWorker struct {
	interval time.Duration
	subUC    usecase.SubscriptionUseCase
	subs     repository.SubscriptionRepository
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, subUC usecase.SubscriptionUseCase, subs repository.SubscriptionRepository, logger *zerolog.Logger) *ExpiryWorker {
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		subUC:    subUC,
		subs:     subs,
		log:      &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Msg("Starting expiry worker")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			n, err := w.subUC.ExpireDue(ctx, time.Now())
			if err != nil {
				w.log.Error().Err(err).Msg("expiry sweep error")
			}
			if n > 0 {
				w.log.Info().Int("count", n).Msg("expired subscriptions downgraded")
			}
			if counts, err := w.subs.CountByStatus(ctx, nil); err == nil {
				metrics.SetSubscriptionsTotal(counts)
			}
		}
	}
}
