package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"jobmate/analysis-service/internal/logger"
)

// WorkerPool runs a fixed number of workers, each looping claim → run.
// Idle workers sleep for the poll interval or until a job is enqueued.
type WorkerPool struct {
	svc        *Service
	pipeline   *Pipeline
	workers    int
	poll       time.Duration
	jobTimeout time.Duration
	log        *zap.Logger
}

// NewWorkerPool constructs a WorkerPool. A zero jobTimeout leaves runs
// bounded only by the reaper.
func NewWorkerPool(svc *Service, pipeline *Pipeline, workers int, poll, jobTimeout time.Duration, log *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &WorkerPool{
		svc:        svc,
		pipeline:   pipeline,
		workers:    workers,
		poll:       poll,
		jobTimeout: jobTimeout,
		log:        logger.WithFields(log, zap.String("component", "worker")),
	}
}

// Run blocks until ctx is done and every worker has returned.
func (p *WorkerPool) Run(ctx context.Context) {
	p.log.Info("worker pool started", zap.Int("workers", p.workers), zap.Duration("poll", p.poll))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, p.log.With(zap.Int("worker", id)))
		}(i)
	}
	wg.Wait()

	p.log.Info("worker pool stopped")
}

func (p *WorkerPool) loop(ctx context.Context, log *zap.Logger) {
	for ctx.Err() == nil {
		ran, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Warn("analysis run ended with error", zap.Error(err))
		}
		if ran {
			continue
		}

		timer := time.NewTimer(p.poll)
		select {
		case <-ctx.Done():
		case <-p.svc.Wake():
		case <-timer.C:
		}
		timer.Stop()
	}
}

// RunOnce claims and runs at most one job. It reports whether a job was
// claimed.
func (p *WorkerPool) RunOnce(ctx context.Context) (bool, error) {
	j, err := p.svc.Claim(ctx)
	if errors.Is(err, ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	runCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	err = p.pipeline.Run(runCtx, j)
	if errors.Is(err, ErrCancelled) {
		return true, nil
	}
	return true, err
}
