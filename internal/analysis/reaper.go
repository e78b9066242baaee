package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"jobmate/analysis-service/internal/logger"
)

// Reaper periodically fails RUNNING jobs whose worker made no progress
// within the timeout, so they are retried or reported.
type Reaper struct {
	cron    *cron.Cron
	svc     *Service
	timeout time.Duration
	spec    string // cron spec, e.g. "@every 1m"
	log     *zap.Logger
}

// NewReaper creates a Reaper that sweeps every interval.
func NewReaper(svc *Service, interval, timeout time.Duration, log *zap.Logger) *Reaper {
	log = logger.WithFields(log, zap.String("component", "reaper"))
	return &Reaper{
		cron:    cron.New(cron.WithLogger(cronLogger{log.Sugar()})),
		svc:     svc,
		timeout: timeout,
		spec:    fmt.Sprintf("@every %s", interval),
		log:     log,
	}
}

// Start registers the sweep and starts the scheduler.
func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.spec, func() {
		r.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	r.cron.Start()
	r.log.Info("reaper started", zap.String("spec", r.spec), zap.Duration("timeout", r.timeout))
	return nil
}

// Stop halts the scheduler and waits for a running sweep to return.
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info("reaper stopped")
}

// Sweep reaps stale jobs once.
func (r *Reaper) Sweep(ctx context.Context) int {
	n, err := r.svc.ReapStale(ctx, r.timeout)
	if err != nil {
		r.log.Error("reaping stale analyses", zap.Error(err))
	}
	if n > 0 {
		r.log.Warn("reaped stale analyses", zap.Int("count", n))
	}
	return n
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
