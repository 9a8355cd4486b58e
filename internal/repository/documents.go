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

const documentColumns = `id, workspace_id, file_name, source_type, object_key,
	source_url, sha256, ready, created_at`

// DocumentRepository reads the documents registered for a workspace.
// Creation and validation of documents happen outside the pipeline.
type DocumentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository constructs a repository.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{pool: pool}
}

// Ready returns all ready documents of a workspace in creation order, which
// keeps job processing order deterministic.
func (r *DocumentRepository) Ready(ctx context.Context, workspaceID string) ([]model.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE workspace_id=$1 AND ready ORDER BY created_at, id
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("select ready documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// ByIDs returns the requested documents, in creation order. A requested id
// that does not exist in the workspace is reported as not found.
func (r *DocumentRepository) ByIDs(ctx context.Context, workspaceID string, ids []string) ([]model.Document, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE workspace_id=$1 AND id = ANY($2) ORDER BY created_at, id
	`, workspaceID, ids)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	defer rows.Close()
	docs, err := collectDocuments(rows)
	if err != nil {
		return nil, err
	}
	if len(docs) != len(ids) {
		return nil, domain.NotFound(fmt.Sprintf("%d of %d requested documents not found in workspace", len(ids)-len(docs), len(ids)))
	}
	return docs, nil
}

// Create inserts a document record. Exposed for the ctl CLI and tests; the
// upload service owns this path in production.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, workspace_id, file_name, source_type, object_key,
			source_url, sha256, ready, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, doc.ID, doc.WorkspaceID, doc.FileName, doc.SourceType, nullable(doc.ObjectKey),
		nullable(doc.SourceURL), nullable(doc.SHA256), doc.Ready, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func collectDocuments(rows pgx.Rows) ([]model.Document, error) {
	var docs []model.Document
	for rows.Next() {
		var (
			doc       model.Document
			objectKey *string
			sourceURL *string
			sha       *string
		)
		if err := rows.Scan(&doc.ID, &doc.WorkspaceID, &doc.FileName, &doc.SourceType,
			&objectKey, &sourceURL, &sha, &doc.Ready, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if objectKey != nil {
			doc.ObjectKey = *objectKey
		}
		if sourceURL != nil {
			doc.SourceURL = *sourceURL
		}
		if sha != nil {
			doc.SHA256 = *sha
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	return docs, nil
}

// MemberRepository answers workspace role lookups for the event stream.
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository constructs a repository.
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// Role returns the role userID holds in the workspace, or a not-found error.
func (r *MemberRepository) Role(ctx context.Context, workspaceID, userID string) (string, error) {
	var role string
	err := r.pool.QueryRow(ctx, `
		SELECT role FROM workspace_members WHERE workspace_id=$1 AND user_id=$2
	`, workspaceID, userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.NotFound("user has no role in this workspace")
		}
		return "", fmt.Errorf("select member role: %w", err)
	}
	return role, nil
}
