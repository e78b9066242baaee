// Package platform reads the data owned by the CRUD layer (curricula, job
// postings and applications) from the shared PostgreSQL database.
package platform

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgxpool.Pool the sources use.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
