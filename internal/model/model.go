// Package model contains the record types shared by the store, the indexing
// pipeline, and the HTTP layer.
package model

import (
	"encoding/json"
	"time"
)

// JobStatus describes the lifecycle of an indexing job. A job enters
// in_progress when it is accepted and reaches exactly one terminal state.
type JobStatus string

const (
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobCancelled  JobStatus = "cancelled"
	JobError      JobStatus = "error"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobError
}

// Render defaults applied when a start request leaves them unset.
const (
	DefaultRenderDPI     = 150
	DefaultRenderQuality = 85
)

// IndexJob is one execution of the indexing pipeline over a workspace.
// At most one job per workspace is in_progress at any instant; the store
// enforces this with an atomic conditional insert.
type IndexJob struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Status      JobStatus `json:"status"`

	// DocumentIDs scopes the run to a subset; empty means all ready documents.
	DocumentIDs   []string `json:"documentIds,omitempty"`
	RenderDPI     int      `json:"renderDpi"`
	RenderQuality int      `json:"renderQuality"`
	AnalysisModel string   `json:"analysisModel,omitempty"`

	DocsTotal      int `json:"docsTotal"`
	DocsProcessed  int `json:"docsProcessed"`
	PagesTotal     int `json:"pagesTotal"`
	PagesProcessed int `json:"pagesProcessed"`
	PagesAnalyzed  int `json:"pagesAnalyzed"`

	// Cost is the accumulated monetary cost in USD. Non-negative and
	// non-decreasing while the job is in progress.
	Cost float64 `json:"cost"`

	ErrorMessage string     `json:"errorMessage,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// SourceType distinguishes how a document's bytes are obtained.
type SourceType string

const (
	SourceUpload SourceType = "upload"
	SourceURL    SourceType = "url"
)

// Document is a workspace PDF registered by upload or URL before indexing.
type Document struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	FileName    string     `json:"fileName"`
	SourceType  SourceType `json:"sourceType"`
	// ObjectKey locates uploaded bytes in object storage; SourceURL is set
	// for url documents instead and is fetched fresh on every run.
	ObjectKey string    `json:"objectKey,omitempty"`
	SourceURL string    `json:"sourceUrl,omitempty"`
	SHA256    string    `json:"sha256,omitempty"`
	Ready     bool      `json:"ready"`
	CreatedAt time.Time `json:"createdAt"`
}

// Page is one rendered page of a document. PageNumber is 1-based and forms a
// contiguous run per document. Analysis is opaque to the pipeline.
type Page struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspaceId"`
	DocumentID  string          `json:"documentId"`
	PageNumber  int             `json:"pageNumber"`
	ImageKey    string          `json:"imageKey"`
	ThumbKey    string          `json:"thumbKey,omitempty"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	Analysis    json.RawMessage `json:"analysis,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// WorkspaceMember grants a user a role in a workspace. The event stream only
// admits callers holding some role; membership writes happen elsewhere.
type WorkspaceMember struct {
	WorkspaceID string `json:"workspaceId"`
	UserID      string `json:"userId"`
	Role        string `json:"role"`
}
