package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Migration is one idempotent schema step.
type Migration struct {
	Name string
	SQL  string
}

// Migrations lists the schema owned by this service, in order. Tables
// owned by the CRUD layer (applications, jobs, curricula) are not touched.
var Migrations = []Migration{
	{
		Name: "create_analysis_jobs",
		SQL: `
			CREATE TABLE IF NOT EXISTS analysis_jobs (
				id               TEXT PRIMARY KEY,
				application_id   TEXT        NOT NULL,
				candidate_id     TEXT        NOT NULL,
				job_id           TEXT        NOT NULL,
				state            TEXT        NOT NULL
				                 CHECK (state IN ('QUEUED', 'RUNNING', 'COMPLETED', 'FAILED')),
				attempts         INT         NOT NULL DEFAULT 0,
				max_attempts     INT         NOT NULL,
				lease            TEXT,
				claimed_at       TIMESTAMPTZ,
				cancel_requested BOOLEAN     NOT NULL DEFAULT false,
				snapshot         JSONB,
				failure_kind     TEXT,
				failure_reason   TEXT,
				created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
	},
	{
		Name: "create_analysis_jobs_one_active_index",
		SQL: `
			CREATE UNIQUE INDEX IF NOT EXISTS analysis_jobs_one_active
			ON analysis_jobs (application_id)
			WHERE state IN ('QUEUED', 'RUNNING')`,
	},
	{
		Name: "create_analysis_jobs_queue_index",
		SQL: `
			CREATE INDEX IF NOT EXISTS analysis_jobs_queued
			ON analysis_jobs (created_at)
			WHERE state = 'QUEUED'`,
	},
	{
		Name: "create_analysis_jobs_running_index",
		SQL: `
			CREATE INDEX IF NOT EXISTS analysis_jobs_running
			ON analysis_jobs (claimed_at)
			WHERE state = 'RUNNING'`,
	},
	{
		Name: "create_analysis_results",
		SQL: `
			CREATE TABLE IF NOT EXISTS analysis_results (
				job_id         TEXT PRIMARY KEY REFERENCES analysis_jobs (id),
				application_id TEXT             NOT NULL,
				score          DOUBLE PRECISION NOT NULL CHECK (score >= 0 AND score <= 100),
				result         JSONB            NOT NULL,
				created_at     TIMESTAMPTZ      NOT NULL DEFAULT NOW()
			)`,
	},
	{
		Name: "create_analysis_results_application_index",
		SQL: `
			CREATE INDEX IF NOT EXISTS analysis_results_application
			ON analysis_results (application_id, created_at DESC)`,
	},
}

// Migrate applies every migration. Each step is idempotent, so running it
// against an up-to-date database is a no-op.
func Migrate(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	log.Info("starting database migrations", zap.Int("count", len(Migrations)))

	for _, m := range Migrations {
		if _, err := pool.Exec(ctx, m.SQL); err != nil {
			log.Error("migration failed", zap.String("name", m.Name), zap.Error(err))
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
		log.Debug("migration applied", zap.String("name", m.Name))
	}

	log.Info("all migrations applied")
	return nil
}
