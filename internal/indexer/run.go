package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pageproof/internal/events"
	"pageproof/internal/model"
	"pageproof/internal/render"
)

// run processes one job to a terminal state. Documents and pages go strictly
// one at a time, in a fixed order, so observed progress never regresses.
func (c *Controller) run(ctx context.Context, job model.IndexJob) {
	log := c.log.With().
		Str("workspace_id", job.WorkspaceID).
		Str("job_id", job.ID).
		Logger()
	start := time.Now()

	docs, err := c.resolveDocuments(ctx, &job)
	if err != nil {
		c.fail(&job, err, log)
		return
	}
	job.DocsTotal = len(docs)
	log.Info().Int("documents", len(docs)).Msg("indexing started")

	renderOpts := render.Options{
		DPI:        job.RenderDPI,
		Quality:    job.RenderQuality,
		ThumbWidth: c.thumbWidth,
	}

	for di, doc := range docs {
		if c.cancelled(ctx, &job, log) {
			c.emitCancelled(&job, log)
			return
		}
		pages, err := c.renderDocument(ctx, doc, renderOpts)
		if err != nil {
			c.fail(&job, err, log)
			return
		}
		job.PagesTotal += len(pages)

		for pi, page := range pages {
			if c.cancelled(ctx, &job, log) {
				c.emitCancelled(&job, log)
				return
			}
			if err := c.processPage(ctx, &job, doc, page); err != nil {
				c.fail(&job, err, log)
				return
			}
			if !c.recordProgress(ctx, &job, log) {
				c.emitCancelled(&job, log)
				return
			}
			c.publishProgress(&job, docs, di, doc, len(pages), pi+1, start)
		}

		job.DocsProcessed++
		if !c.recordProgress(ctx, &job, log) {
			c.emitCancelled(&job, log)
			return
		}
		c.publishProgress(&job, docs, di, doc, len(pages), len(pages), start)
	}

	// Terminal writes use a fresh context: they must land even when the run
	// context was cancelled mid-flight.
	finished, err := c.jobs.Finish(context.Background(), job.ID, model.JobCompleted, "")
	if err != nil {
		log.Error().Err(err).Msg("completion transition failed")
		return
	}
	if !finished {
		// Aborted or reaped between the last checkpoint and here.
		c.emitCancelled(&job, log)
		return
	}
	log.Info().
		Int("pages", job.PagesProcessed).
		Int("documents", job.DocsProcessed).
		Float64("cost", job.Cost).
		Dur("elapsed", time.Since(start)).
		Msg("indexing completed")
	c.publish(events.Event{
		Type:        events.TypeComplete,
		WorkspaceID: job.WorkspaceID,
		JobID:       job.ID,
		Complete: &events.Summary{
			Pages:     job.PagesProcessed,
			Documents: job.DocsProcessed,
			Cost:      job.Cost,
		},
		At: time.Now().UTC(),
	})
}

// resolveDocuments returns the job's targets in a fixed, deterministic order.
func (c *Controller) resolveDocuments(ctx context.Context, job *model.IndexJob) ([]model.Document, error) {
	if len(job.DocumentIDs) > 0 {
		return c.docs.ByIDs(ctx, job.WorkspaceID, job.DocumentIDs)
	}
	return c.docs.Ready(ctx, job.WorkspaceID)
}

// renderDocument obtains the document's bytes and rasterizes them. URL
// documents are fetched fresh on every run; there is no caching.
func (c *Controller) renderDocument(ctx context.Context, doc model.Document, opts render.Options) ([]render.RenderedPage, error) {
	if doc.SourceType == model.SourceURL {
		return c.renderer.RenderFromURL(ctx, doc.SourceURL, opts)
	}
	data, err := c.objects.Fetch(ctx, doc.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("fetch document %s: %w", doc.FileName, err)
	}
	return c.renderer.Render(ctx, data, opts)
}

// processPage persists the page, invokes the analyzer, attaches the result,
// and advances counters and cost. Any failure aborts the whole job.
func (c *Controller) processPage(ctx context.Context, job *model.IndexJob, doc model.Document, page render.RenderedPage) error {
	imageKey := fmt.Sprintf("pages/%s/%s/%d.jpg", job.WorkspaceID, doc.ID, page.PageNumber)
	if err := c.objects.Put(ctx, imageKey, page.Image, "image/jpeg"); err != nil {
		return fmt.Errorf("store page image: %w", err)
	}
	record := &model.Page{
		ID:          uuid.NewString(),
		WorkspaceID: job.WorkspaceID,
		DocumentID:  doc.ID,
		PageNumber:  page.PageNumber,
		ImageKey:    imageKey,
		Width:       page.Width,
		Height:      page.Height,
	}
	if len(page.Thumb) > 0 {
		thumbKey := fmt.Sprintf("thumbs/%s/%s/%d.jpg", job.WorkspaceID, doc.ID, page.PageNumber)
		if err := c.objects.Put(ctx, thumbKey, page.Thumb, "image/jpeg"); err != nil {
			return fmt.Errorf("store page thumbnail: %w", err)
		}
		record.ThumbKey = thumbKey
	}
	if err := c.pages.Upsert(ctx, record); err != nil {
		return fmt.Errorf("persist page %d of %s: %w", page.PageNumber, doc.FileName, err)
	}

	analysis, usage, err := c.analyzer.Analyze(ctx, page.DataURL(), job.AnalysisModel)
	if err != nil {
		return fmt.Errorf("analyze page %d of %s: %w", page.PageNumber, doc.FileName, err)
	}
	record.Analysis = analysis
	if err := c.pages.Upsert(ctx, record); err != nil {
		return fmt.Errorf("attach analysis to page %d of %s: %w", page.PageNumber, doc.FileName, err)
	}

	job.PagesProcessed++
	job.PagesAnalyzed++
	job.Cost += c.rates.Cost(job.AnalysisModel, usage.InputTokens, usage.OutputTokens)
	return nil
}

// cancelled is the cooperative cancellation checkpoint: the run context
// covers same-process aborts, the persisted status covers aborts from
// another process. Pages already written stay as they are.
func (c *Controller) cancelled(ctx context.Context, job *model.IndexJob, log zerolog.Logger) bool {
	if ctx.Err() != nil {
		log.Info().Msg("indexing stopped: run context cancelled")
		return true
	}
	current, err := c.jobs.Get(ctx, job.ID)
	if err != nil {
		log.Warn().Err(err).Msg("cancellation check failed, continuing")
		return false
	}
	if current.Status != model.JobInProgress {
		log.Info().Str("status", string(current.Status)).Msg("indexing stopped: job left in-progress state")
		return true
	}
	return false
}

// recordProgress writes the counters through the conditional update. A false
// result means the job is no longer in progress and the run must stop.
func (c *Controller) recordProgress(ctx context.Context, job *model.IndexJob, log zerolog.Logger) bool {
	ok, err := c.jobs.UpdateProgress(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			log.Info().Msg("indexing stopped: run context cancelled")
			return false
		}
		log.Warn().Err(err).Msg("progress write failed, continuing")
		return true
	}
	if !ok {
		log.Info().Msg("indexing stopped: progress write found job no longer in progress")
	}
	return ok
}

func (c *Controller) publishProgress(job *model.IndexJob, docs []model.Document, docIndex int, doc model.Document, docPages, docRendered int, start time.Time) {
	c.publish(events.Event{
		Type:        events.TypeProgress,
		WorkspaceID: job.WorkspaceID,
		JobID:       job.ID,
		Progress: &events.Progress{
			DocumentIndex:    docIndex + 1,
			DocumentCount:    len(docs),
			FileName:         doc.FileName,
			DocPagesTotal:    docPages,
			DocPagesRendered: docRendered,
			PagesTotal:       job.PagesTotal,
			PagesRendered:    job.PagesProcessed,
			PagesAnalyzed:    job.PagesAnalyzed,
			ETASeconds:       etaSeconds(start, job),
			Cost:             job.Cost,
		},
		At: time.Now().UTC(),
	})
}

// emitCancelled publishes the job's terminal cancelled event. All events for
// a job come from its run goroutine in program order, so nothing can follow
// the terminal one. A job reaped to error instead gets its event from the
// reaper; this stays silent then.
func (c *Controller) emitCancelled(job *model.IndexJob, log zerolog.Logger) {
	current, err := c.jobs.Get(context.Background(), job.ID)
	if err != nil {
		log.Warn().Err(err).Msg("terminal state read failed, skipping cancelled event")
		return
	}
	if current.Status != model.JobCancelled {
		return
	}
	c.publish(events.Event{
		Type:        events.TypeCancelled,
		WorkspaceID: job.WorkspaceID,
		JobID:       job.ID,
		Message:     current.ErrorMessage,
		At:          time.Now().UTC(),
	})
}

// fail transitions the job to error and publishes the error event. A run
// stopped by cancellation during a blocking operation emits the cancelled
// event instead.
func (c *Controller) fail(job *model.IndexJob, err error, log zerolog.Logger) {
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("indexing stopped: cancelled during a blocking operation")
		c.emitCancelled(job, log)
		return
	}
	log.Error().Err(err).Msg("indexing failed")
	finished, finishErr := c.jobs.Finish(context.Background(), job.ID, model.JobError, err.Error())
	if finishErr != nil {
		log.Error().Err(finishErr).Msg("error transition failed")
		return
	}
	if !finished {
		c.emitCancelled(job, log)
		return
	}
	c.publish(events.Event{
		Type:        events.TypeError,
		WorkspaceID: job.WorkspaceID,
		JobID:       job.ID,
		Message:     err.Error(),
		At:          time.Now().UTC(),
	})
}

func etaSeconds(start time.Time, job *model.IndexJob) float64 {
	if job.PagesProcessed == 0 {
		return 0
	}
	remaining := job.PagesTotal - job.PagesProcessed
	if remaining <= 0 {
		return 0
	}
	perPage := time.Since(start).Seconds() / float64(job.PagesProcessed)
	return perPage * float64(remaining)
}
