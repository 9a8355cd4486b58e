// Package reaper fails indexing jobs whose worker died without reaching a
// terminal state. Without it a crashed server would leave a job in_progress
// forever, and the one-active-job rule would block the workspace for good.
package reaper

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"pageproof/internal/events"
	"pageproof/internal/model"
)

// ReapJobsTask is scheduled periodically by the worker process.
const ReapJobsTask = "jobs:reap"

// Store finds and fails in-progress jobs that stopped reporting progress
// before the cutoff.
type Store interface {
	ReapStale(ctx context.Context, cutoff time.Time) ([]model.IndexJob, error)
}

// Reaper sweeps abandoned jobs and announces their failure on the event
// stream so connected clients are not left waiting.
type Reaper struct {
	store       Store
	broadcaster events.Broadcaster
	after       time.Duration
	log         zerolog.Logger
}

// New constructs a Reaper. Jobs with no progress update for the given
// duration are treated as abandoned.
func New(store Store, broadcaster events.Broadcaster, after time.Duration, log zerolog.Logger) *Reaper {
	return &Reaper{
		store:       store,
		broadcaster: broadcaster,
		after:       after,
		log:         log.With().Str("component", "reaper").Logger(),
	}
}

// Task builds the periodic sweep task.
func Task() *asynq.Task {
	return asynq.NewTask(ReapJobsTask, nil)
}

// Handler registers the sweep on an asynq mux.
func (r *Reaper) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(ReapJobsTask, r.handleReap)
	return mux
}

func (r *Reaper) handleReap(ctx context.Context, _ *asynq.Task) error {
	_, err := r.Sweep(ctx)
	return err
}

// Sweep fails every abandoned job and publishes an error event for each.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.after)
	jobs, err := r.store.ReapStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		r.log.Warn().
			Str("job_id", job.ID).
			Str("workspace_id", job.WorkspaceID).
			Time("last_update", job.UpdatedAt).
			Msg("reaped abandoned job")
		ev := events.Event{
			Type:        events.TypeError,
			WorkspaceID: job.WorkspaceID,
			JobID:       job.ID,
			Message:     job.ErrorMessage,
			At:          time.Now().UTC(),
		}
		if err := r.broadcaster.Publish(ctx, ev); err != nil {
			r.log.Error().Err(err).Str("job_id", job.ID).Msg("publish reap event")
		}
	}
	return len(jobs), nil
}
