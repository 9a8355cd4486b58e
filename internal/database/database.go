package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	return pgxpool.NewWithConfig(ctx, cfg)
}

// EnsureSchema creates the tables the pipeline requires. The partial unique
// index on index_jobs backs the one-active-job-per-workspace invariant: the
// claim insert conflicts against it atomically instead of read-then-write.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS index_jobs (
	id UUID PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	status TEXT NOT NULL,
	document_ids TEXT[],
	render_dpi INT NOT NULL DEFAULT 150,
	render_quality INT NOT NULL DEFAULT 85,
	analysis_model TEXT,
	docs_total INT NOT NULL DEFAULT 0,
	docs_processed INT NOT NULL DEFAULT 0,
	pages_total INT NOT NULL DEFAULT 0,
	pages_processed INT NOT NULL DEFAULT 0,
	pages_analyzed INT NOT NULL DEFAULT 0,
	cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_message TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_index_jobs_active
	ON index_jobs(workspace_id) WHERE status = 'in_progress';
CREATE INDEX IF NOT EXISTS idx_index_jobs_workspace
	ON index_jobs(workspace_id, started_at DESC);

CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	source_type TEXT NOT NULL,
	object_key TEXT,
	source_url TEXT,
	sha256 TEXT,
	ready BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_workspace ON documents(workspace_id, created_at);

CREATE TABLE IF NOT EXISTS pages (
	id UUID PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	page_number INT NOT NULL,
	image_key TEXT NOT NULL,
	thumb_key TEXT,
	width INT NOT NULL,
	height INT NOT NULL,
	analysis JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (document_id, page_number)
);
CREATE INDEX IF NOT EXISTS idx_pages_workspace ON pages(workspace_id);

CREATE TABLE IF NOT EXISTS workspace_members (
	workspace_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	PRIMARY KEY (workspace_id, user_id)
);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
