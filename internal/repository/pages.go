package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"pageproof/internal/model"
)

// PageRepository persists rendered pages.
type PageRepository struct {
	pool *pgxpool.Pool
}

// NewPageRepository constructs a repository.
func NewPageRepository(pool *pgxpool.Pool) *PageRepository {
	return &PageRepository{pool: pool}
}

// Upsert writes a page, replacing a previous render of the same page number.
// Re-indexing a document overwrites its pages in place; there is no rollback
// of pages written before a cancellation.
func (r *PageRepository) Upsert(ctx context.Context, page *model.Page) error {
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pages (id, workspace_id, document_id, page_number, image_key,
			thumb_key, width, height, analysis, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (document_id, page_number) DO UPDATE SET
			image_key = EXCLUDED.image_key,
			thumb_key = EXCLUDED.thumb_key,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			analysis = EXCLUDED.analysis,
			created_at = EXCLUDED.created_at
	`, page.ID, page.WorkspaceID, page.DocumentID, page.PageNumber, page.ImageKey,
		nullable(page.ThumbKey), page.Width, page.Height, page.Analysis, page.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert page: %w", err)
	}
	return nil
}

// ByDocument returns a document's pages in page order.
func (r *PageRepository) ByDocument(ctx context.Context, documentID string) ([]model.Page, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, workspace_id, document_id, page_number, image_key, thumb_key,
			width, height, analysis, created_at
		FROM pages WHERE document_id=$1 ORDER BY page_number
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("select pages: %w", err)
	}
	defer rows.Close()
	var pages []model.Page
	for rows.Next() {
		var (
			page     model.Page
			thumbKey *string
		)
		if err := rows.Scan(&page.ID, &page.WorkspaceID, &page.DocumentID,
			&page.PageNumber, &page.ImageKey, &thumbKey, &page.Width, &page.Height,
			&page.Analysis, &page.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		if thumbKey != nil {
			page.ThumbKey = *thumbKey
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read pages: %w", err)
	}
	return pages, nil
}
