package analysis

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"jobmate/analysis-service/internal/curriculum"
	"jobmate/analysis-service/internal/logger"
	"jobmate/analysis-service/internal/requirement"
	"jobmate/analysis-service/internal/scoring"
)

// SnapshotBuilder builds the curriculum snapshot of a candidate.
type SnapshotBuilder interface {
	Build(ctx context.Context, candidateID string) (curriculum.Snapshot, error)
}

// RequirementLoader loads the normalized requirements of a job posting.
type RequirementLoader interface {
	Load(ctx context.Context, jobID string) (requirement.Requirement, error)
}

// Scorer compares a snapshot against a requirement.
type Scorer interface {
	Score(snap curriculum.Snapshot, req requirement.Requirement) (scoring.Result, error)
}

// Pipeline runs one claimed job from snapshot to result.
type Pipeline struct {
	svc          *Service
	snapshots    SnapshotBuilder
	requirements RequirementLoader
	scorer       Scorer
	log          *zap.Logger
}

// NewPipeline wires a Pipeline.
func NewPipeline(svc *Service, snapshots SnapshotBuilder, requirements RequirementLoader, scorer Scorer, log *zap.Logger) *Pipeline {
	return &Pipeline{
		svc:          svc,
		snapshots:    snapshots,
		requirements: requirements,
		scorer:       scorer,
		log:          logger.WithFields(log),
	}
}

// Run processes j, which must have been returned by Service.Claim. Every
// component error is recorded through Service.Fail; Run itself returns an
// error only when the job's state could not be updated, or ErrCancelled.
func (p *Pipeline) Run(ctx context.Context, j *Job) error {
	log := p.log.With(logger.JobFields(j.ID, j.ApplicationID, j.Attempts)...)

	if j.Snapshot == nil {
		if err := p.checkpoint(ctx, j); err != nil {
			return p.fail(ctx, j, err)
		}
		snap, err := p.snapshots.Build(ctx, j.CandidateID)
		if err != nil {
			return p.fail(ctx, j, err)
		}
		j.Snapshot = &snap
		pinned, err := p.svc.PinSnapshot(ctx, j)
		if err != nil {
			return p.fail(ctx, j, err)
		}
		j = pinned
		log.Debug("snapshot pinned", zap.Time("taken_at", snap.TakenAt))
	}

	if err := p.checkpoint(ctx, j); err != nil {
		return p.fail(ctx, j, err)
	}
	req, err := p.requirements.Load(ctx, j.JobID)
	if err != nil {
		return p.fail(ctx, j, err)
	}

	if err := p.checkpoint(ctx, j); err != nil {
		return p.fail(ctx, j, err)
	}
	res, err := p.scorer.Score(*j.Snapshot, req)
	if err != nil {
		return p.fail(ctx, j, err)
	}

	// The result is computed; persist it even if the job context ran out.
	_, err = p.svc.Complete(context.WithoutCancel(ctx), j.ID, j.Lease, res)
	switch {
	case err == nil, errors.Is(err, ErrCancelled):
		return err
	case errors.Is(err, scoring.ErrInvalidResult):
		return p.fail(ctx, j, err)
	default:
		log.Error("completing analysis", zap.Error(err))
		return err
	}
}

// checkpoint is a suspension point: it stops the run when the context is
// done or cancellation was requested.
func (p *Pipeline) checkpoint(ctx context.Context, j *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cur, err := p.svc.Status(ctx, j.ID)
	if err != nil {
		return err
	}
	if cur.CancelRequested {
		return ErrCancelled
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, j *Job, cause error) error {
	if errors.Is(cause, ErrInvalidTransition) {
		// Lease lost to the reaper or a concurrent cancellation.
		return cause
	}
	f := Classify(cause)
	// The job context may already be done; record the failure regardless.
	_, err := p.svc.Fail(context.WithoutCancel(ctx), j.ID, j.Lease, f)
	if err != nil {
		return fmt.Errorf("record failure %s: %w", f.Kind, err)
	}
	if f.Kind == FailureCancelled {
		return ErrCancelled
	}
	return nil
}

// Classify maps a component error to the failure recorded on the job.
func Classify(err error) Failure {
	var f Failure
	switch {
	case errors.As(err, &f):
		return f
	case errors.Is(err, ErrCancelled):
		f.Kind = FailureCancelled
	case errors.Is(err, context.Canceled):
		// Worker shutdown, not a user request: let another worker retry.
		f.Kind = FailureInternal
	case errors.Is(err, context.DeadlineExceeded):
		f.Kind = FailureTimeout
	case errors.Is(err, curriculum.ErrDataUnavailable), errors.Is(err, requirement.ErrJobUnavailable):
		f.Kind = FailureDataUnavailable
	case errors.Is(err, requirement.ErrInvalidRequirementData):
		f.Kind = FailureInvalidRequirement
	case errors.Is(err, scoring.ErrInvalidResult):
		f.Kind = FailureScoring
	default:
		f.Kind = FailureInternal
	}
	f.Reason = err.Error()
	return f
}
