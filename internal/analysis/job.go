package analysis

import (
	"errors"
	"fmt"
	"maps"
	"time"

	"jobmate/analysis-service/internal/curriculum"
	"jobmate/analysis-service/internal/scoring"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed
	// from the job's current state, or the caller's lease is stale.
	ErrInvalidTransition = errors.New("invalid analysis state transition")

	// ErrCancelled is returned by Complete when cancellation was requested
	// while the job was running. The job ends Failed with FailureCancelled.
	ErrCancelled = errors.New("analysis cancelled")

	// ErrNotFound is returned for unknown analysis job ids.
	ErrNotFound = errors.New("analysis job not found")

	// ErrNoJob is returned by Claim when no job is queued.
	ErrNoJob = errors.New("no queued analysis job")

	// ErrNotAnalyzed is returned by LatestResult when an application has no
	// completed analysis.
	ErrNotAnalyzed = errors.New("application has no completed analysis")

	// ErrApplicationNotFound is returned by Enqueue for unknown applications.
	ErrApplicationNotFound = errors.New("application not found")
)

// FailureKind classifies why a job failed.
type FailureKind string

const (
	FailureDataUnavailable    FailureKind = "data_unavailable"
	FailureInvalidRequirement FailureKind = "invalid_requirement"
	FailureScoring            FailureKind = "scoring"
	FailureTimeout            FailureKind = "timeout"
	FailureCancelled          FailureKind = "cancelled"
	FailureInternal           FailureKind = "internal"
)

// Retryable reports whether a failure of kind k re-queues the job while
// attempts remain. Only cancellation ends a job on the first failure.
func (k FailureKind) Retryable() bool {
	return k != FailureCancelled
}

// Failure records the kind and readable reason of a failed attempt.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

func (f Failure) Error() string { return fmt.Sprintf("%s: %s", f.Kind, f.Reason) }

// Job is an analysis of one application. Jobs are never deleted; a new
// analysis of the same application creates a new Job.
type Job struct {
	ID            string
	ApplicationID string
	CandidateID   string
	JobID         string

	State       State
	Attempts    int
	MaxAttempts int

	Lease           string
	ClaimedAt       *time.Time
	CancelRequested bool

	// Snapshot is pinned on the first successful build and reused by
	// every later attempt.
	Snapshot *curriculum.Snapshot
	// Result is set only when State is COMPLETED.
	Result *scoring.Result
	// Failure is the terminal failure when State is FAILED, or the last
	// failed attempt of a re-queued job.
	Failure *Failure

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.ClaimedAt != nil {
		t := *j.ClaimedAt
		c.ClaimedAt = &t
	}
	if j.Snapshot != nil {
		s := j.Snapshot.Clone()
		c.Snapshot = &s
	}
	if j.Result != nil {
		r := *j.Result
		r.Breakdown = maps.Clone(j.Result.Breakdown)
		r.Unmet = append([]string(nil), j.Result.Unmet...)
		c.Result = &r
	}
	if j.Failure != nil {
		f := *j.Failure
		c.Failure = &f
	}
	return &c
}

// Cancelled reports whether j ended because cancellation was requested.
func (j *Job) Cancelled() bool {
	return j.State == StateFailed && j.Failure != nil && j.Failure.Kind == FailureCancelled
}

// The Mark* methods apply one transition of the state machine to j in
// place. Stores call them inside their atomic read-modify-write so the
// rules live in one place.

// MarkRunning claims a queued job under lease.
func (j *Job) MarkRunning(lease string, now time.Time) error {
	if !IsTransitionAllowed(j.State, StateRunning) {
		return j.invalid(StateRunning)
	}
	j.State = StateRunning
	j.Lease = lease
	j.ClaimedAt = &now
	j.UpdatedAt = now
	return nil
}

// PinSnapshot stores snap on a running job, unless one is already pinned.
func (j *Job) PinSnapshot(lease string, snap curriculum.Snapshot, now time.Time) error {
	if err := j.checkLease(lease); err != nil {
		return err
	}
	if j.Snapshot != nil {
		return nil
	}
	s := snap.Clone()
	j.Snapshot = &s
	j.UpdatedAt = now
	return nil
}

// MarkCompleted attaches res to a running job. If cancellation was
// requested the job fails with FailureCancelled instead.
func (j *Job) MarkCompleted(lease string, res scoring.Result, now time.Time) error {
	if err := j.checkLease(lease); err != nil {
		return err
	}
	if j.CancelRequested {
		j.finish(StateFailed, &Failure{Kind: FailureCancelled, Reason: "cancellation requested while running"}, now)
		return nil
	}
	j.Result = &res
	j.Failure = nil
	j.finish(StateCompleted, nil, now)
	return nil
}

// MarkFailed records f for a running job. Retryable failures re-queue the
// job while attempts remain; once they run out the job fails with f as
// the last reason.
func (j *Job) MarkFailed(lease string, f Failure, now time.Time) error {
	if err := j.checkLease(lease); err != nil {
		return err
	}
	j.Attempts++
	if j.CancelRequested && f.Kind != FailureCancelled {
		f = Failure{Kind: FailureCancelled, Reason: fmt.Sprintf("cancellation requested; last error: %s", f.Reason)}
	}
	if f.Kind.Retryable() && j.Attempts < j.MaxAttempts {
		j.finish(StateQueued, &f, now)
		return nil
	}
	j.finish(StateFailed, &f, now)
	return nil
}

// RequestCancel fails a queued job immediately and flags a running one.
func (j *Job) RequestCancel(now time.Time) error {
	switch j.State {
	case StateQueued:
		j.finish(StateFailed, &Failure{Kind: FailureCancelled, Reason: "cancelled before start"}, now)
	case StateRunning:
		j.CancelRequested = true
		j.UpdatedAt = now
	default:
		return j.invalid(StateFailed)
	}
	return nil
}

func (j *Job) finish(to State, f *Failure, now time.Time) {
	j.State = to
	j.Failure = f
	j.Lease = ""
	j.ClaimedAt = nil
	j.UpdatedAt = now
}

func (j *Job) checkLease(lease string) error {
	if j.State != StateRunning {
		return j.invalid(StateRunning)
	}
	if j.Lease != lease {
		return fmt.Errorf("%w: job %s lease %q is no longer held", ErrInvalidTransition, j.ID, lease)
	}
	return nil
}

func (j *Job) invalid(to State) error {
	return fmt.Errorf("%w: job %s is %s, cannot move to %s", ErrInvalidTransition, j.ID, j.State, to)
}

// Report is the outward view of a job: its state, the result when
// completed and the readable reason of the last failure.
type Report struct {
	AnalysisJobID   string          `json:"analysisJobId"`
	ApplicationID   string          `json:"applicationId"`
	State           State           `json:"state"`
	Attempts        int             `json:"attempts"`
	CancelRequested bool            `json:"cancelRequested,omitempty"`
	Result          *scoring.Result `json:"result,omitempty"`
	FailureKind     FailureKind     `json:"failureKind,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Report returns the outward view of j.
func (j *Job) Report() Report {
	r := Report{
		AnalysisJobID:   j.ID,
		ApplicationID:   j.ApplicationID,
		State:           j.State,
		Attempts:        j.Attempts,
		CancelRequested: j.CancelRequested,
		UpdatedAt:       j.UpdatedAt,
	}
	if j.State == StateCompleted {
		r.Result = j.Result
	}
	if j.Failure != nil {
		r.FailureKind = j.Failure.Kind
		r.Reason = j.Failure.Reason
	}
	return r
}
