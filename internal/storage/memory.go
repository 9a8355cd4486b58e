// Package storage contains in-memory implementations of the store contracts.
// They back unit tests and local development without Postgres or MinIO; the
// semantics (atomic claim, conditional transitions) mirror the SQL layer.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pageproof/internal/domain"
	"pageproof/internal/model"
)

// MemoryJobStore keeps jobs in a mutex-guarded map. The claim and transition
// operations hold the lock for check and write together, giving the same
// atomicity as the SQL conditional statements.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.IndexJob
}

// NewMemoryJobStore constructs a MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]*model.IndexJob)}
}

// Claim registers job as the workspace's active job, rejecting with a
// conflict when one is already in progress.
func (m *MemoryJobStore) Claim(_ context.Context, job *model.IndexJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.WorkspaceID == job.WorkspaceID && existing.Status == model.JobInProgress {
			return domain.Conflict("an indexing job is already active for this workspace")
		}
	}
	now := time.Now().UTC()
	job.Status = model.JobInProgress
	job.StartedAt = now
	job.UpdatedAt = now
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

// Get returns a copy of the job.
func (m *MemoryJobStore) Get(_ context.Context, id string) (*model.IndexJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.NotFound("job not found")
	}
	clone := *job
	return &clone, nil
}

// Latest returns the most recently started job for a workspace.
func (m *MemoryJobStore) Latest(_ context.Context, workspaceID string) (*model.IndexJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.IndexJob
	for _, job := range m.jobs {
		if job.WorkspaceID != workspaceID {
			continue
		}
		if latest == nil || job.StartedAt.After(latest.StartedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, domain.NotFound("job not found")
	}
	clone := *latest
	return &clone, nil
}

// UpdateProgress writes counters while the job is still in progress.
func (m *MemoryJobStore) UpdateProgress(_ context.Context, job *model.IndexJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[job.ID]
	if !ok || stored.Status != model.JobInProgress {
		return false, nil
	}
	stored.DocsTotal = job.DocsTotal
	stored.DocsProcessed = job.DocsProcessed
	stored.PagesTotal = job.PagesTotal
	stored.PagesProcessed = job.PagesProcessed
	stored.PagesAnalyzed = job.PagesAnalyzed
	stored.Cost = job.Cost
	stored.UpdatedAt = time.Now().UTC()
	job.UpdatedAt = stored.UpdatedAt
	return true, nil
}

// Finish transitions in_progress to a terminal status exactly once.
func (m *MemoryJobStore) Finish(_ context.Context, id string, to model.JobStatus, errMsg string) (bool, error) {
	if !to.Terminal() {
		return false, fmt.Errorf("finish to non-terminal status %q", to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[id]
	if !ok || stored.Status != model.JobInProgress {
		return false, nil
	}
	now := time.Now().UTC()
	stored.Status = to
	stored.ErrorMessage = errMsg
	stored.CompletedAt = &now
	stored.UpdatedAt = now
	return true, nil
}

// CancelActive cancels the workspace's active job.
func (m *MemoryJobStore) CancelActive(_ context.Context, workspaceID, msg string) (*model.IndexJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.WorkspaceID != workspaceID || job.Status != model.JobInProgress {
			continue
		}
		now := time.Now().UTC()
		job.Status = model.JobCancelled
		job.ErrorMessage = msg
		job.CompletedAt = &now
		job.UpdatedAt = now
		clone := *job
		return &clone, nil
	}
	return nil, domain.NotFound("no active indexing job for this workspace")
}

// ReapStale fails in-progress jobs whose last update predates cutoff.
func (m *MemoryJobStore) ReapStale(_ context.Context, cutoff time.Time) ([]model.IndexJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reaped []model.IndexJob
	for _, job := range m.jobs {
		if job.Status != model.JobInProgress || !job.UpdatedAt.Before(cutoff) {
			continue
		}
		now := time.Now().UTC()
		job.Status = model.JobError
		job.ErrorMessage = "job abandoned: no progress recorded, worker presumed dead"
		job.CompletedAt = &now
		job.UpdatedAt = now
		reaped = append(reaped, *job)
	}
	return reaped, nil
}

// MemoryDocumentStore keeps documents in memory.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]*model.Document
}

// NewMemoryDocumentStore constructs a MemoryDocumentStore.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]*model.Document)}
}

// Create inserts a document.
func (m *MemoryDocumentStore) Create(_ context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	clone := *doc
	m.docs[doc.ID] = &clone
	return nil
}

// Ready returns the workspace's ready documents in creation order.
func (m *MemoryDocumentStore) Ready(_ context.Context, workspaceID string) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []model.Document
	for _, doc := range m.docs {
		if doc.WorkspaceID == workspaceID && doc.Ready {
			docs = append(docs, *doc)
		}
	}
	sortDocuments(docs)
	return docs, nil
}

// ByIDs returns the requested workspace documents in creation order.
func (m *MemoryDocumentStore) ByIDs(_ context.Context, workspaceID string, ids []string) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []model.Document
	for _, id := range ids {
		doc, ok := m.docs[id]
		if !ok || doc.WorkspaceID != workspaceID {
			return nil, domain.NotFound(fmt.Sprintf("document %s not found in workspace", id))
		}
		docs = append(docs, *doc)
	}
	sortDocuments(docs)
	return docs, nil
}

func sortDocuments(docs []model.Document) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
}

// MemoryPageStore keeps pages in memory keyed by (document, page number).
type MemoryPageStore struct {
	mu    sync.RWMutex
	pages map[string]*model.Page
}

// NewMemoryPageStore constructs a MemoryPageStore.
func NewMemoryPageStore() *MemoryPageStore {
	return &MemoryPageStore{pages: make(map[string]*model.Page)}
}

func pageKey(documentID string, pageNumber int) string {
	return fmt.Sprintf("%s/%d", documentID, pageNumber)
}

// Upsert writes a page, replacing any previous render of the same number.
func (m *MemoryPageStore) Upsert(_ context.Context, page *model.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now().UTC()
	}
	clone := *page
	m.pages[pageKey(page.DocumentID, page.PageNumber)] = &clone
	return nil
}

// ByDocument returns a document's pages in page order.
func (m *MemoryPageStore) ByDocument(_ context.Context, documentID string) ([]model.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var pages []model.Page
	for _, page := range m.pages {
		if page.DocumentID == documentID {
			pages = append(pages, *page)
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	return pages, nil
}

// MemoryObjectStore keeps object payloads in memory.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryObjectStore constructs a MemoryObjectStore.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

// Put stores payload bytes under key.
func (m *MemoryObjectStore) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := make([]byte, len(data))
	copy(clone, data)
	m.objects[key] = clone
	return nil
}

// Fetch returns the payload stored under key.
func (m *MemoryObjectStore) Fetch(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, domain.NotFound(fmt.Sprintf("object %s not found", key))
	}
	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, nil
}

// MemoryMemberStore answers role lookups from a fixed membership map.
type MemoryMemberStore struct {
	mu      sync.RWMutex
	members map[string]string // workspaceID/userID -> role
}

// NewMemoryMemberStore constructs a MemoryMemberStore.
func NewMemoryMemberStore() *MemoryMemberStore {
	return &MemoryMemberStore{members: make(map[string]string)}
}

// Grant assigns a role.
func (m *MemoryMemberStore) Grant(workspaceID, userID, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[workspaceID+"/"+userID] = role
}

// Role returns the role userID holds in the workspace.
func (m *MemoryMemberStore) Role(_ context.Context, workspaceID, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.members[workspaceID+"/"+userID]
	if !ok {
		return "", domain.NotFound("user has no role in this workspace")
	}
	return role, nil
}
