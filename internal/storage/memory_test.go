package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pageproof/internal/domain"
	"pageproof/internal/model"
)

func claim(t *testing.T, store *MemoryJobStore, id, workspaceID string) *model.IndexJob {
	t.Helper()
	job := &model.IndexJob{ID: id, WorkspaceID: workspaceID}
	require.NoError(t, store.Claim(context.Background(), job))
	return job
}

func TestClaimOnePerWorkspace(t *testing.T) {
	store := NewMemoryJobStore()
	claim(t, store, "job-1", "ws-1")

	err := store.Claim(context.Background(), &model.IndexJob{ID: "job-2", WorkspaceID: "ws-1"})
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	// Other workspaces are unaffected.
	require.NoError(t, store.Claim(context.Background(), &model.IndexJob{ID: "job-3", WorkspaceID: "ws-2"}))
}

func TestClaimAllowedAfterTerminal(t *testing.T) {
	store := NewMemoryJobStore()
	claim(t, store, "job-1", "ws-1")
	ok, err := store.Finish(context.Background(), "job-1", model.JobCompleted, "")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Claim(context.Background(), &model.IndexJob{ID: "job-2", WorkspaceID: "ws-1"}))
}

func TestFinishExactlyOnce(t *testing.T) {
	store := NewMemoryJobStore()
	claim(t, store, "job-1", "ws-1")

	ok, err := store.Finish(context.Background(), "job-1", model.JobError, "boom")
	require.NoError(t, err)
	assert.True(t, ok)

	// A terminal job admits no further transition, to any status.
	for _, to := range []model.JobStatus{model.JobCompleted, model.JobCancelled, model.JobError} {
		ok, err = store.Finish(context.Background(), "job-1", to, "")
		require.NoError(t, err)
		assert.False(t, ok)
	}

	stored, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobError, stored.Status)
	assert.Equal(t, "boom", stored.ErrorMessage)
}

func TestFinishRejectsNonTerminalTarget(t *testing.T) {
	store := NewMemoryJobStore()
	claim(t, store, "job-1", "ws-1")
	_, err := store.Finish(context.Background(), "job-1", model.JobInProgress, "")
	assert.Error(t, err)
}

func TestUpdateProgressStopsAtTerminal(t *testing.T) {
	store := NewMemoryJobStore()
	job := claim(t, store, "job-1", "ws-1")

	job.PagesProcessed = 3
	ok, err := store.UpdateProgress(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.CancelActive(context.Background(), "ws-1", "cancelled by user")
	require.NoError(t, err)

	job.PagesProcessed = 5
	ok, err = store.UpdateProgress(context.Background(), job)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := store.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.PagesProcessed)
}

func TestCancelActive(t *testing.T) {
	store := NewMemoryJobStore()

	_, err := store.CancelActive(context.Background(), "ws-1", "cancelled by user")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	claim(t, store, "job-1", "ws-1")
	job, err := store.CancelActive(context.Background(), "ws-1", "cancelled by user")
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, model.JobCancelled, job.Status)
	assert.NotNil(t, job.CompletedAt)

	_, err = store.CancelActive(context.Background(), "ws-1", "cancelled by user")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestLatestPicksNewestJob(t *testing.T) {
	store := NewMemoryJobStore()
	claim(t, store, "job-1", "ws-1")
	ok, err := store.Finish(context.Background(), "job-1", model.JobCompleted, "")
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(time.Millisecond)
	claim(t, store, "job-2", "ws-1")

	latest, err := store.Latest(context.Background(), "ws-1")
	require.NoError(t, err)
	assert.Equal(t, "job-2", latest.ID)

	_, err = store.Latest(context.Background(), "ws-other")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestReapStaleTouchesOnlyAbandonedJobs(t *testing.T) {
	store := NewMemoryJobStore()
	claim(t, store, "job-stale", "ws-1")
	time.Sleep(5 * time.Millisecond)
	cutoff := time.Now().UTC()
	claim(t, store, "job-fresh", "ws-2")

	reaped, err := store.ReapStale(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, "job-stale", reaped[0].ID)
	assert.Equal(t, model.JobError, reaped[0].Status)
	assert.NotEmpty(t, reaped[0].ErrorMessage)

	fresh, err := store.Get(context.Background(), "job-fresh")
	require.NoError(t, err)
	assert.Equal(t, model.JobInProgress, fresh.Status)
}

func TestDocumentsByIDsMissing(t *testing.T) {
	store := NewMemoryDocumentStore()
	require.NoError(t, store.Create(context.Background(), &model.Document{
		ID: "doc-1", WorkspaceID: "ws-1", Ready: true,
	}))

	_, err := store.ByIDs(context.Background(), "ws-1", []string{"doc-1", "doc-2"})
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	// A document from another workspace is invisible too.
	require.NoError(t, store.Create(context.Background(), &model.Document{
		ID: "doc-3", WorkspaceID: "ws-2", Ready: true,
	}))
	_, err = store.ByIDs(context.Background(), "ws-1", []string{"doc-3"})
	require.Error(t, err)
}

func TestReadyFiltersAndOrders(t *testing.T) {
	store := NewMemoryDocumentStore()
	base := time.Now().UTC()
	require.NoError(t, store.Create(context.Background(), &model.Document{
		ID: "doc-b", WorkspaceID: "ws-1", Ready: true, CreatedAt: base.Add(time.Second),
	}))
	require.NoError(t, store.Create(context.Background(), &model.Document{
		ID: "doc-a", WorkspaceID: "ws-1", Ready: true, CreatedAt: base,
	}))
	require.NoError(t, store.Create(context.Background(), &model.Document{
		ID: "doc-pending", WorkspaceID: "ws-1", Ready: false, CreatedAt: base,
	}))

	docs, err := store.Ready(context.Background(), "ws-1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-a", docs[0].ID)
	assert.Equal(t, "doc-b", docs[1].ID)
}

func TestPageUpsertReplaces(t *testing.T) {
	store := NewMemoryPageStore()
	require.NoError(t, store.Upsert(context.Background(), &model.Page{
		DocumentID: "doc-1", PageNumber: 1, ImageKey: "old",
	}))
	require.NoError(t, store.Upsert(context.Background(), &model.Page{
		DocumentID: "doc-1", PageNumber: 1, ImageKey: "new",
	}))
	require.NoError(t, store.Upsert(context.Background(), &model.Page{
		DocumentID: "doc-1", PageNumber: 2, ImageKey: "second",
	}))

	pages, err := store.ByDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "new", pages[0].ImageKey)
	assert.Equal(t, 2, pages[1].PageNumber)
}

func TestObjectStoreFetchMissing(t *testing.T) {
	store := NewMemoryObjectStore()
	_, err := store.Fetch(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	require.NoError(t, store.Put(context.Background(), "k", []byte("payload"), "application/pdf"))
	data, err := store.Fetch(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}
