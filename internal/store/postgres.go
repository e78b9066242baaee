package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/analysis-service/internal/analysis"
	"jobmate/analysis-service/internal/curriculum"
	"jobmate/analysis-service/internal/scoring"
)

// Postgres is an analysis.Store backed by the analysis_jobs and
// analysis_results tables. Claims use FOR UPDATE SKIP LOCKED so
// concurrent workers in different processes never share a job.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres returns a Postgres store using pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ analysis.Store = (*Postgres)(nil)

const selectJob = `
	SELECT j.id, j.application_id, j.candidate_id, j.job_id, j.state,
	       j.attempts, j.max_attempts, j.lease, j.claimed_at, j.cancel_requested,
	       j.snapshot, j.failure_kind, j.failure_reason, r.result,
	       j.created_at, j.updated_at
	FROM analysis_jobs j
	LEFT JOIN analysis_results r ON r.job_id = j.id`

// Create implements analysis.Store. The partial unique index on
// application_id for QUEUED and RUNNING rows makes it idempotent.
func (p *Postgres) Create(ctx context.Context, j *analysis.Job) (*analysis.Job, bool, error) {
	row, err := encodeJob(j)
	if err != nil {
		return nil, false, err
	}

	// A conflicting job may finish between the insert and the lookup;
	// retry a few times before giving up.
	for attempt := 0; attempt < 3; attempt++ {
		tag, err := p.pool.Exec(ctx,
			`INSERT INTO analysis_jobs
			   (id, application_id, candidate_id, job_id, state, attempts, max_attempts,
			    lease, claimed_at, cancel_requested, snapshot, failure_kind, failure_reason,
			    created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 ON CONFLICT (application_id) WHERE state IN ('QUEUED', 'RUNNING') DO NOTHING`,
			j.ID, j.ApplicationID, j.CandidateID, j.JobID, string(j.State), j.Attempts, j.MaxAttempts,
			row.lease, j.ClaimedAt, j.CancelRequested, row.snapshot, row.failureKind, row.failureReason,
			j.CreatedAt, j.UpdatedAt,
		)
		if err != nil {
			return nil, false, fmt.Errorf("insert analysis job: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return j.Clone(), true, nil
		}

		existing, err := scanJob(p.pool.QueryRow(ctx,
			selectJob+` WHERE j.application_id = $1 AND j.state IN ('QUEUED', 'RUNNING')`,
			j.ApplicationID,
		))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("select active analysis job: %w", err)
		}
	}
	return nil, false, fmt.Errorf("create analysis job for application %s: contention did not settle", j.ApplicationID)
}

// Get implements analysis.Store.
func (p *Postgres) Get(ctx context.Context, id string) (*analysis.Job, error) {
	j, err := scanJob(p.pool.QueryRow(ctx, selectJob+` WHERE j.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", analysis.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis job: %w", err)
	}
	return j, nil
}

// ClaimNext implements analysis.Store.
func (p *Postgres) ClaimNext(ctx context.Context, claim func(*analysis.Job) error) (*analysis.Job, error) {
	return p.inTx(ctx, func(tx pgx.Tx) (*analysis.Job, error) {
		j, err := scanJob(tx.QueryRow(ctx,
			selectJob+` WHERE j.state = 'QUEUED'
			 ORDER BY j.created_at
			 LIMIT 1
			 FOR UPDATE OF j SKIP LOCKED`,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, analysis.ErrNoJob
		}
		if err != nil {
			return nil, fmt.Errorf("select queued analysis job: %w", err)
		}
		return p.applyTx(ctx, tx, j, claim)
	})
}

// Update implements analysis.Store.
func (p *Postgres) Update(ctx context.Context, id string, mutate func(*analysis.Job) error) (*analysis.Job, error) {
	return p.inTx(ctx, func(tx pgx.Tx) (*analysis.Job, error) {
		j, err := scanJob(tx.QueryRow(ctx, selectJob+` WHERE j.id = $1 FOR UPDATE OF j`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", analysis.ErrNotFound, id)
		}
		if err != nil {
			return nil, fmt.Errorf("select analysis job for update: %w", err)
		}
		return p.applyTx(ctx, tx, j, mutate)
	})
}

// applyTx mutates j and writes it back. A job that becomes COMPLETED gets
// its analysis_results row in the same transaction.
func (p *Postgres) applyTx(ctx context.Context, tx pgx.Tx, j *analysis.Job, mutate func(*analysis.Job) error) (*analysis.Job, error) {
	before := j.State
	if err := mutate(j); err != nil {
		return nil, err
	}

	row, err := encodeJob(j)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE analysis_jobs
		 SET state            = $2,
		     attempts         = $3,
		     lease            = $4,
		     claimed_at       = $5,
		     cancel_requested = $6,
		     snapshot         = $7,
		     failure_kind     = $8,
		     failure_reason   = $9,
		     updated_at       = $10
		 WHERE id = $1`,
		j.ID, string(j.State), j.Attempts, row.lease, j.ClaimedAt, j.CancelRequested,
		row.snapshot, row.failureKind, row.failureReason, j.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update analysis job: %w", err)
	}

	if j.State == analysis.StateCompleted && before != analysis.StateCompleted {
		_, err = tx.Exec(ctx,
			`INSERT INTO analysis_results (job_id, application_id, score, result, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			j.ID, j.ApplicationID, j.Result.Score, row.result, j.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("insert analysis result: %w", err)
		}
	}
	return j, nil
}

func (p *Postgres) inTx(ctx context.Context, fn func(pgx.Tx) (*analysis.Job, error)) (*analysis.Job, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	j, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return j, nil
}

// LatestCompleted implements analysis.Store.
func (p *Postgres) LatestCompleted(ctx context.Context, applicationID string) (*analysis.Job, error) {
	j, err := scanJob(p.pool.QueryRow(ctx,
		selectJob+` WHERE j.application_id = $1 AND j.state = 'COMPLETED' AND r.job_id IS NOT NULL
		 ORDER BY r.created_at DESC
		 LIMIT 1`,
		applicationID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", analysis.ErrNotAnalyzed, applicationID)
	}
	if err != nil {
		return nil, fmt.Errorf("latest analysis result: %w", err)
	}
	return j, nil
}

// ListStale implements analysis.Store.
func (p *Postgres) ListStale(ctx context.Context, claimedBefore time.Time) ([]*analysis.Job, error) {
	rows, err := p.pool.Query(ctx,
		selectJob+` WHERE j.state = 'RUNNING' AND j.claimed_at < $1 ORDER BY j.claimed_at`,
		claimedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale query: %w", err)
	}
	defer rows.Close()

	var jobs []*analysis.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list stale scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// jobRow holds the nullable and JSON columns of a job.
type jobRow struct {
	lease         *string
	snapshot      []byte
	result        []byte
	failureKind   *string
	failureReason *string
}

func encodeJob(j *analysis.Job) (jobRow, error) {
	var row jobRow
	if j.Lease != "" {
		row.lease = &j.Lease
	}
	if j.Snapshot != nil {
		b, err := json.Marshal(j.Snapshot)
		if err != nil {
			return row, fmt.Errorf("encode snapshot: %w", err)
		}
		row.snapshot = b
	}
	if j.Result != nil {
		b, err := json.Marshal(j.Result)
		if err != nil {
			return row, fmt.Errorf("encode result: %w", err)
		}
		row.result = b
	}
	if j.Failure != nil {
		kind := string(j.Failure.Kind)
		row.failureKind = &kind
		row.failureReason = &j.Failure.Reason
	}
	return row, nil
}

func scanJob(r pgx.Row) (*analysis.Job, error) {
	var (
		j     analysis.Job
		state string
		row   jobRow
	)
	if err := r.Scan(
		&j.ID, &j.ApplicationID, &j.CandidateID, &j.JobID, &state,
		&j.Attempts, &j.MaxAttempts, &row.lease, &j.ClaimedAt, &j.CancelRequested,
		&row.snapshot, &row.failureKind, &row.failureReason, &row.result,
		&j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}

	st, err := analysis.ParseState(state)
	if err != nil {
		return nil, err
	}
	j.State = st
	if row.lease != nil {
		j.Lease = *row.lease
	}
	if len(row.snapshot) > 0 {
		var s curriculum.Snapshot
		if err := json.Unmarshal(row.snapshot, &s); err != nil {
			return nil, fmt.Errorf("decode snapshot of job %s: %w", j.ID, err)
		}
		j.Snapshot = &s
	}
	if len(row.result) > 0 && st == analysis.StateCompleted {
		var res scoring.Result
		if err := json.Unmarshal(row.result, &res); err != nil {
			return nil, fmt.Errorf("decode result of job %s: %w", j.ID, err)
		}
		j.Result = &res
	}
	if row.failureKind != nil {
		j.Failure = &analysis.Failure{Kind: analysis.FailureKind(*row.failureKind)}
		if row.failureReason != nil {
			j.Failure.Reason = *row.failureReason
		}
	}
	return &j, nil
}
