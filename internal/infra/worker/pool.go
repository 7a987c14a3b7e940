package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"careercraft-billing/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Pool runs deferred jobs off the request path. The webhook endpoint submits
// here after acknowledging the gateway, so slow downstream calls never delay
// the 200. Failures are logged, never propagated back to an HTTP response.

type Task func(ctx context.Context) error

type Pool struct {
	wg   sync.WaitGroup
	jobs chan Task
	quit chan struct{}
	n    int
	log  *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	poolLog := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{
		jobs: make(chan Task, workers*4),
		quit: make(chan struct{}),
		n:    workers,
		log:  &poolLog,
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-p.quit:
					return
				case task := <-p.jobs:
					if task == nil {
						continue
					}
					metrics.SetWebhookQueueDepth(len(p.jobs))
					if err := task(ctx); err != nil {
						p.log.Error().Err(err).Int("worker", id).Msg("task error")
					}
				}
			}
		}(i)
	}
}

func (p *Pool) Stop() {
	close(p.quit)
	p.wg.Wait()
}

var ErrQueueFull = errors.New("worker queue full")

func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	select {
	case p.jobs <- task:
		metrics.SetWebhookQueueDepth(len(p.jobs))
		return nil
	default:
		// drop when saturated; the gateway's retry loop redelivers
		return ErrQueueFull
	}
}
