// Package indexer implements the indexing job pipeline: the state machine
// governing one run per workspace, the processing loop that drives
// rasterization and analysis, and the progress events it emits.
package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pageproof/internal/analyzer"
	"pageproof/internal/domain"
	"pageproof/internal/events"
	"pageproof/internal/model"
	"pageproof/internal/pricing"
	"pageproof/internal/render"
)

// JobStore is the persistence contract for IndexJob records. Claim and the
// transition methods must be atomic conditional writes, not read-then-write.
type JobStore interface {
	Claim(ctx context.Context, job *model.IndexJob) error
	Get(ctx context.Context, id string) (*model.IndexJob, error)
	Latest(ctx context.Context, workspaceID string) (*model.IndexJob, error)
	UpdateProgress(ctx context.Context, job *model.IndexJob) (bool, error)
	Finish(ctx context.Context, id string, to model.JobStatus, errMsg string) (bool, error)
	CancelActive(ctx context.Context, workspaceID, msg string) (*model.IndexJob, error)
}

// DocumentStore resolves the documents a job targets.
type DocumentStore interface {
	Ready(ctx context.Context, workspaceID string) ([]model.Document, error)
	ByIDs(ctx context.Context, workspaceID string, ids []string) ([]model.Document, error)
}

// PageStore persists rendered pages.
type PageStore interface {
	Upsert(ctx context.Context, page *model.Page) error
}

// ObjectStore reads uploaded document bytes and stores page images.
type ObjectStore interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Renderer is the rasterization engine contract.
type Renderer interface {
	Render(ctx context.Context, pdfBytes []byte, opts render.Options) ([]render.RenderedPage, error)
	RenderFromURL(ctx context.Context, url string, opts render.Options) ([]render.RenderedPage, error)
}

// StartOptions tune one indexing run.
type StartOptions struct {
	// DocumentIDs scopes the run; empty targets all ready documents.
	DocumentIDs   []string
	RenderDPI     int
	RenderQuality int
	AnalysisModel string
}

// Config wires a Controller's collaborators. The broadcaster is injected
// here so there is no order-of-initialization hazard around a shared channel
// instance.
type Config struct {
	Jobs        JobStore
	Documents   DocumentStore
	Pages       PageStore
	Objects     ObjectStore
	Renderer    Renderer
	Analyzer    analyzer.Analyzer
	Broadcaster events.Broadcaster
	Rates       pricing.Table
	ThumbWidth  int
	Log         zerolog.Logger
}

// Controller orchestrates indexing runs. Accepted jobs process on a
// background goroutine; the accept path never blocks on pipeline work.
type Controller struct {
	jobs        JobStore
	docs        DocumentStore
	pages       PageStore
	objects     ObjectStore
	renderer    Renderer
	analyzer    analyzer.Analyzer
	broadcaster events.Broadcaster
	rates       pricing.Table
	thumbWidth  int
	log         zerolog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc // keyed by job ID, never by workspace

	wg sync.WaitGroup
}

// New constructs a Controller.
func New(cfg Config) *Controller {
	return &Controller{
		jobs:        cfg.Jobs,
		docs:        cfg.Documents,
		pages:       cfg.Pages,
		objects:     cfg.Objects,
		renderer:    cfg.Renderer,
		analyzer:    cfg.Analyzer,
		broadcaster: cfg.Broadcaster,
		rates:       cfg.Rates,
		thumbWidth:  cfg.ThumbWidth,
		log:         cfg.Log,
		running:     make(map[string]context.CancelFunc),
	}
}

// Start claims the workspace's active-job slot and launches background
// processing. Returns a conflict error when a job is already in progress;
// the claim is a single atomic conditional write, so concurrent starts
// cannot both succeed.
func (c *Controller) Start(ctx context.Context, workspaceID string, opts StartOptions) (*model.IndexJob, error) {
	if workspaceID == "" {
		return nil, domain.Validation("workspaceId is required")
	}
	dpi := opts.RenderDPI
	if dpi <= 0 {
		dpi = model.DefaultRenderDPI
	}
	quality := opts.RenderQuality
	if quality <= 0 || quality > 100 {
		quality = model.DefaultRenderQuality
	}
	job := &model.IndexJob{
		ID:            uuid.NewString(),
		WorkspaceID:   workspaceID,
		DocumentIDs:   opts.DocumentIDs,
		RenderDPI:     dpi,
		RenderQuality: quality,
		AnalysisModel: opts.AnalysisModel,
	}
	if err := c.jobs.Claim(ctx, job); err != nil {
		return nil, err
	}

	// The run context is detached from the request: the accept response
	// returns while processing continues. The cancel func is registered
	// under the job ID so a finishing run can only ever clear itself; a
	// workspace key would let a stale goroutine cancel its successor.
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.running[job.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.clearRunning(job.ID)
		c.run(runCtx, *job)
	}()
	return job, nil
}

// Abort cancels the workspace's active job. The store transition is atomic;
// the running task is not force-terminated, it observes the cancellation at
// its next checkpoint and publishes the terminal cancelled event from its
// own goroutine, so no progress event can trail it.
func (c *Controller) Abort(ctx context.Context, workspaceID string) (*model.IndexJob, error) {
	if workspaceID == "" {
		return nil, domain.Validation("workspaceId is required")
	}
	job, err := c.jobs.CancelActive(ctx, workspaceID, "indexing cancelled by request")
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if cancel, ok := c.running[job.ID]; ok {
		cancel()
	}
	c.mu.Unlock()
	return job, nil
}

// Wait blocks until all background runs have finished. Used by shutdown and
// tests.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) clearRunning(jobID string) {
	c.mu.Lock()
	if cancel, ok := c.running[jobID]; ok {
		cancel()
		delete(c.running, jobID)
	}
	c.mu.Unlock()
}

func (c *Controller) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.broadcaster.Publish(ctx, ev); err != nil {
		c.log.Warn().Err(err).
			Str("workspace_id", ev.WorkspaceID).
			Str("type", string(ev.Type)).
			Msg("event publish failed")
	}
}
