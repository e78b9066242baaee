package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"jobmate/analysis-service/internal/analysis"
)

// Applications implements analysis.ApplicationSource.
type Applications struct {
	db Querier
}

// NewApplications returns an Applications reading from db.
func NewApplications(db Querier) *Applications {
	return &Applications{db: db}
}

var _ analysis.ApplicationSource = (*Applications)(nil)

// Application resolves the candidate and job of an application.
func (a *Applications) Application(ctx context.Context, id string) (*analysis.Application, error) {
	app := analysis.Application{ID: id}
	err := a.db.QueryRow(ctx,
		`SELECT candidate_id::text, job_id::text FROM applications WHERE id = $1`,
		id,
	).Scan(&app.CandidateID, &app.JobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", analysis.ErrApplicationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("application query: %w", err)
	}
	return &app, nil
}
