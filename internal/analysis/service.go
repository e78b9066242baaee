package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"jobmate/analysis-service/internal/logger"
	"jobmate/analysis-service/internal/scoring"
)

// DefaultMaxAttempts bounds how many times a job is run before a
// retryable failure becomes terminal.
const DefaultMaxAttempts = 3

// Store persists analysis jobs. Implementations must make Create,
// ClaimNext and Update atomic with respect to each other.
type Store interface {
	// Create inserts j unless a QUEUED or RUNNING job already exists for
	// j.ApplicationID, in which case that job is returned with false.
	Create(ctx context.Context, j *Job) (*Job, bool, error)
	// Get returns the job or ErrNotFound.
	Get(ctx context.Context, id string) (*Job, error)
	// ClaimNext applies claim to the oldest QUEUED job and persists it.
	// It returns ErrNoJob when nothing is queued.
	ClaimNext(ctx context.Context, claim func(*Job) error) (*Job, error)
	// Update applies mutate to the job and persists the outcome in one
	// atomic write, including the result row when the job completes.
	// Nothing is written when mutate returns an error.
	Update(ctx context.Context, id string, mutate func(*Job) error) (*Job, error)
	// LatestCompleted returns the most recently completed job of an
	// application, or ErrNotAnalyzed.
	LatestCompleted(ctx context.Context, applicationID string) (*Job, error)
	// ListStale returns RUNNING jobs claimed before the given instant.
	ListStale(ctx context.Context, claimedBefore time.Time) ([]*Job, error)
}

// Application is the subset of an application an analysis needs.
type Application struct {
	ID          string
	CandidateID string
	JobID       string
}

// ApplicationSource resolves applications. It returns a nil application
// or ErrApplicationNotFound for unknown ids.
type ApplicationSource interface {
	Application(ctx context.Context, id string) (*Application, error)
}

// Notifier is told about jobs that reached a terminal state.
type Notifier interface {
	Notify(ctx context.Context, j *Job)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	MaxAttempts int
	Now         func() time.Time
	NewID       func() string
	Notifier    Notifier
	Logger      *zap.Logger
}

// Service drives analysis jobs through their state machine.
type Service struct {
	store       Store
	apps        ApplicationSource
	maxAttempts int
	now         func() time.Time
	newID       func() string
	notifier    Notifier
	log         *zap.Logger
	wake        chan struct{}
}

// NewService returns a Service persisting jobs in store.
func NewService(store Store, apps ApplicationSource, opts Options) *Service {
	s := &Service{
		store:       store,
		apps:        apps,
		maxAttempts: opts.MaxAttempts,
		now:         opts.Now,
		newID:       opts.NewID,
		notifier:    opts.Notifier,
		log:         logger.WithFields(opts.Logger),
		wake:        make(chan struct{}, 1),
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = DefaultMaxAttempts
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Wake delivers a signal after a job was enqueued.
func (s *Service) Wake() <-chan struct{} { return s.wake }

// Enqueue creates a QUEUED job for the application unless one is already
// queued or running. The boolean reports whether a job was created.
func (s *Service) Enqueue(ctx context.Context, applicationID string) (*Job, bool, error) {
	if applicationID == "" {
		return nil, false, fmt.Errorf("%w: empty application id", ErrApplicationNotFound)
	}
	app, err := s.apps.Application(ctx, applicationID)
	if err != nil {
		if errors.Is(err, ErrApplicationNotFound) {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("resolve application %s: %w", applicationID, err)
	}
	if app == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrApplicationNotFound, applicationID)
	}

	now := s.now()
	j, created, err := s.store.Create(ctx, &Job{
		ID:            s.newID(),
		ApplicationID: app.ID,
		CandidateID:   app.CandidateID,
		JobID:         app.JobID,
		State:         StateQueued,
		MaxAttempts:   s.maxAttempts,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("enqueue analysis: %w", err)
	}

	if created {
		s.log.Info("analysis enqueued", logger.JobFields(j.ID, j.ApplicationID, j.Attempts)...)
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return j, created, nil
}

// Claim moves the oldest QUEUED job to RUNNING under a fresh lease.
func (s *Service) Claim(ctx context.Context) (*Job, error) {
	lease := s.newID()
	now := s.now()
	j, err := s.store.ClaimNext(ctx, func(j *Job) error { return j.MarkRunning(lease, now) })
	if err != nil {
		return nil, err
	}
	s.log.Debug("analysis claimed", logger.JobFields(j.ID, j.ApplicationID, j.Attempts)...)
	return j, nil
}

// PinSnapshot stores the snapshot a running job will be scored against.
func (s *Service) PinSnapshot(ctx context.Context, j *Job) (*Job, error) {
	if j.Snapshot == nil {
		return nil, fmt.Errorf("pin snapshot of job %s: snapshot is nil", j.ID)
	}
	snap := *j.Snapshot
	now := s.now()
	out, err := s.store.Update(ctx, j.ID, func(stored *Job) error {
		return stored.PinSnapshot(j.Lease, snap, now)
	})
	return out, s.transitionErr(j.ID, err)
}

// Complete attaches res to a RUNNING job held under lease. When
// cancellation was requested the job fails instead and ErrCancelled is
// returned.
func (s *Service) Complete(ctx context.Context, jobID, lease string, res scoring.Result) (*Job, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	j, err := s.store.Update(ctx, jobID, func(j *Job) error { return j.MarkCompleted(lease, res, now) })
	if err != nil {
		return nil, s.transitionErr(jobID, err)
	}

	fields := logger.JobFields(j.ID, j.ApplicationID, j.Attempts)
	s.notify(ctx, j)
	if j.Cancelled() {
		s.log.Info("analysis cancelled", fields...)
		return j, ErrCancelled
	}
	s.log.Info("analysis completed", append(fields, zap.Float64("score", j.Result.Score))...)
	return j, nil
}

// Fail records f for a RUNNING job held under lease. Retryable failures
// re-queue the job while attempts remain.
func (s *Service) Fail(ctx context.Context, jobID, lease string, f Failure) (*Job, error) {
	now := s.now()
	j, err := s.store.Update(ctx, jobID, func(j *Job) error { return j.MarkFailed(lease, f, now) })
	if err != nil {
		return nil, s.transitionErr(jobID, err)
	}

	fields := append(logger.JobFields(j.ID, j.ApplicationID, j.Attempts),
		zap.String("kind", string(j.Failure.Kind)),
		zap.String("reason", j.Failure.Reason),
	)
	if j.State == StateQueued {
		s.log.Warn("analysis attempt failed, re-queued", fields...)
		return j, nil
	}
	s.log.Warn("analysis failed", fields...)
	s.notify(ctx, j)
	return j, nil
}

// RequestCancellation fails a QUEUED job immediately or flags a RUNNING
// one so its worker stops at the next suspension point.
func (s *Service) RequestCancellation(ctx context.Context, jobID string) (*Job, error) {
	now := s.now()
	j, err := s.store.Update(ctx, jobID, func(j *Job) error { return j.RequestCancel(now) })
	if err != nil {
		return nil, err
	}
	s.log.Info("analysis cancellation requested", append(logger.JobFields(j.ID, j.ApplicationID, j.Attempts),
		zap.String("state", string(j.State)))...)
	if j.State.IsTerminal() {
		s.notify(ctx, j)
	}
	return j, nil
}

// Status returns the job with its current state.
func (s *Service) Status(ctx context.Context, jobID string) (*Job, error) {
	return s.store.Get(ctx, jobID)
}

// LatestResult returns the most recently completed analysis of an
// application. Its Result is always set.
func (s *Service) LatestResult(ctx context.Context, applicationID string) (*Job, error) {
	return s.store.LatestCompleted(ctx, applicationID)
}

// ReapStale fails RUNNING jobs whose claim is older than timeout with
// FailureTimeout. It returns how many jobs were reaped.
func (s *Service) ReapStale(ctx context.Context, timeout time.Duration) (int, error) {
	stale, err := s.store.ListStale(ctx, s.now().Add(-timeout))
	if err != nil {
		return 0, fmt.Errorf("list stale analyses: %w", err)
	}
	reaped := 0
	for _, j := range stale {
		_, err := s.Fail(ctx, j.ID, j.Lease, Failure{
			Kind:   FailureTimeout,
			Reason: fmt.Sprintf("no progress within %s", timeout),
		})
		switch {
		case err == nil:
			reaped++
		case errors.Is(err, ErrInvalidTransition):
			// Finished between the listing and the update.
		default:
			return reaped, err
		}
	}
	return reaped, nil
}

func (s *Service) transitionErr(jobID string, err error) error {
	if errors.Is(err, ErrInvalidTransition) {
		s.log.Error("rejected analysis transition", zap.String("job_id", jobID), zap.Error(err))
	}
	return err
}

func (s *Service) notify(ctx context.Context, j *Job) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, j.Clone())
	}
}
