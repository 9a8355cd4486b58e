// Package repository wraps all SQL used by the API, the job controller, and
// the reaper.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pageproof/internal/domain"
	"pageproof/internal/model"
)

const jobColumns = `id, workspace_id, status, document_ids, render_dpi, render_quality,
	analysis_model, docs_total, docs_processed, pages_total, pages_processed,
	pages_analyzed, cost, error_message, started_at, updated_at, completed_at`

// JobRepository persists IndexJob records.
type JobRepository struct {
	pool *pgxpool.Pool
}

// NewJobRepository constructs a repository.
func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

// Claim inserts job as the workspace's active job. The insert conflicts
// against the partial unique index when another job is already in progress,
// which makes the check-and-set a single atomic statement.
func (r *JobRepository) Claim(ctx context.Context, job *model.IndexJob) error {
	now := time.Now().UTC()
	job.Status = model.JobInProgress
	job.StartedAt = now
	job.UpdatedAt = now
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO index_jobs (id, workspace_id, status, document_ids, render_dpi,
			render_quality, analysis_model, started_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (workspace_id) WHERE status = 'in_progress' DO NOTHING
	`, job.ID, job.WorkspaceID, job.Status, job.DocumentIDs, job.RenderDPI,
		job.RenderQuality, nullable(job.AnalysisModel), job.StartedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Conflict("an indexing job is already active for this workspace")
	}
	return nil
}

// Get returns a job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (*model.IndexJob, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM index_jobs WHERE id=$1`, id)
	return scanJob(row)
}

// Latest returns the most recently started job for a workspace.
func (r *JobRepository) Latest(ctx context.Context, workspaceID string) (*model.IndexJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM index_jobs
		WHERE workspace_id=$1 ORDER BY started_at DESC LIMIT 1
	`, workspaceID)
	return scanJob(row)
}

// UpdateProgress writes counters and cost while the job is still in progress.
// Returns false when the job is no longer in progress, which the controller
// treats as a cancellation signal.
func (r *JobRepository) UpdateProgress(ctx context.Context, job *model.IndexJob) (bool, error) {
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE index_jobs
		SET docs_total=$1, docs_processed=$2, pages_total=$3, pages_processed=$4,
			pages_analyzed=$5, cost=$6, updated_at=$7
		WHERE id=$8 AND status='in_progress'
	`, job.DocsTotal, job.DocsProcessed, job.PagesTotal, job.PagesProcessed,
		job.PagesAnalyzed, job.Cost, now, job.ID)
	if err != nil {
		return false, fmt.Errorf("update job progress: %w", err)
	}
	job.UpdatedAt = now
	return tag.RowsAffected() == 1, nil
}

// Finish transitions the job from in_progress to a terminal status. Returns
// false when the job already reached a terminal state, so terminal
// transitions happen exactly once.
func (r *JobRepository) Finish(ctx context.Context, id string, to model.JobStatus, errMsg string) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("finish to non-terminal status %q", to)
	}
	now := time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE index_jobs
		SET status=$1, error_message=$2, completed_at=$3, updated_at=$3
		WHERE id=$4 AND status='in_progress'
	`, to, nullable(errMsg), now, id)
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelActive atomically cancels the workspace's active job and returns it.
func (r *JobRepository) CancelActive(ctx context.Context, workspaceID, msg string) (*model.IndexJob, error) {
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx, `
		UPDATE index_jobs
		SET status='cancelled', error_message=$1, completed_at=$2, updated_at=$2
		WHERE workspace_id=$3 AND status='in_progress'
		RETURNING `+jobColumns+`
	`, msg, now, workspaceID)
	job, err := scanJob(row)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, domain.NotFound("no active indexing job for this workspace")
		}
		return nil, err
	}
	return job, nil
}

// ReapStale fails in-progress jobs that have not been updated since cutoff
// and returns them so their error events can be published.
func (r *JobRepository) ReapStale(ctx context.Context, cutoff time.Time) ([]model.IndexJob, error) {
	now := time.Now().UTC()
	rows, err := r.pool.Query(ctx, `
		UPDATE index_jobs
		SET status='error', error_message='job abandoned: no progress recorded, worker presumed dead',
			completed_at=$1, updated_at=$1
		WHERE status='in_progress' AND updated_at < $2
		RETURNING `+jobColumns,
		now, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reap stale jobs: %w", err)
	}
	defer rows.Close()
	var reaped []model.IndexJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		reaped = append(reaped, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reap stale jobs: %w", err)
	}
	return reaped, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.IndexJob, error) {
	var (
		job         model.IndexJob
		docIDs      []string
		analysis    *string
		errMsg      *string
		completedAt *time.Time
	)
	err := row.Scan(&job.ID, &job.WorkspaceID, &job.Status, &docIDs, &job.RenderDPI,
		&job.RenderQuality, &analysis, &job.DocsTotal, &job.DocsProcessed,
		&job.PagesTotal, &job.PagesProcessed, &job.PagesAnalyzed, &job.Cost,
		&errMsg, &job.StartedAt, &job.UpdatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("job not found")
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.DocumentIDs = docIDs
	if analysis != nil {
		job.AnalysisModel = *analysis
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	job.CompletedAt = completedAt
	return &job, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
