package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"jobmate/analysis-service/internal/requirement"
)

// Jobs implements requirement.Source over the job postings table.
type Jobs struct {
	db Querier
}

// NewJobs returns a Jobs reading from db.
func NewJobs(db Querier) *Jobs {
	return &Jobs{db: db}
}

var _ requirement.Source = (*Jobs)(nil)

// JobRequirements returns the posting's raw requirements, or nil when the
// posting does not exist.
func (j *Jobs) JobRequirements(ctx context.Context, jobID string) (*requirement.Posting, error) {
	p := requirement.Posting{JobID: jobID}
	err := j.db.QueryRow(ctx,
		`SELECT requirements FROM jobs WHERE id = $1`,
		jobID,
	).Scan(&p.Requirements)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("job requirements query: %w", err)
	}
	return &p, nil
}
