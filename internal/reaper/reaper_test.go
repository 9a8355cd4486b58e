package reaper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pageproof/internal/events"
	"pageproof/internal/model"
	"pageproof/internal/storage"
)

type captureBroadcaster struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureBroadcaster) Publish(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func TestSweepFailsAbandonedJobs(t *testing.T) {
	jobs := storage.NewMemoryJobStore()
	broadcaster := &captureBroadcaster{}
	require.NoError(t, jobs.Claim(context.Background(), &model.IndexJob{
		ID: "job-1", WorkspaceID: "ws-1", Status: model.JobInProgress,
		StartedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))

	time.Sleep(10 * time.Millisecond)
	r := New(jobs, broadcaster, time.Millisecond, zerolog.Nop())
	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobError, stored.Status)
	assert.NotEmpty(t, stored.ErrorMessage)

	require.Len(t, broadcaster.events, 1)
	assert.Equal(t, events.TypeError, broadcaster.events[0].Type)
	assert.Equal(t, "ws-1", broadcaster.events[0].WorkspaceID)
	assert.Equal(t, "job-1", broadcaster.events[0].JobID)
}

func TestSweepLeavesFreshAndTerminalJobsAlone(t *testing.T) {
	jobs := storage.NewMemoryJobStore()
	broadcaster := &captureBroadcaster{}
	require.NoError(t, jobs.Claim(context.Background(), &model.IndexJob{
		ID: "job-active", WorkspaceID: "ws-1", Status: model.JobInProgress,
		StartedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, jobs.Claim(context.Background(), &model.IndexJob{
		ID: "job-done", WorkspaceID: "ws-2", Status: model.JobInProgress,
		StartedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}))
	ok, err := jobs.Finish(context.Background(), "job-done", model.JobCompleted, "")
	require.NoError(t, err)
	require.True(t, ok)

	r := New(jobs, broadcaster, time.Hour, zerolog.Nop())
	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, broadcaster.events)

	active, err := jobs.Get(context.Background(), "job-active")
	require.NoError(t, err)
	assert.Equal(t, model.JobInProgress, active.Status)
	done, err := jobs.Get(context.Background(), "job-done")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, done.Status)
}
