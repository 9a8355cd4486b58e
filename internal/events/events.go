// Package events defines the pipeline lifecycle event schema and the
// broadcasters that fan events out to workspace-scoped subscribers.
//
// Delivery is best-effort and at-most-once per publish. There is no buffering
// or replay; a late subscriber reconciles via a snapshot read of the job
// store. For a given job the stream is zero or more progress events followed
// by exactly one terminal event.
package events

import (
	"context"
	"time"
)

// Type enumerates the event kinds a job can emit.
type Type string

const (
	TypeProgress  Type = "progress"
	TypeComplete  Type = "complete"
	TypeError     Type = "error"
	TypeCancelled Type = "cancelled"
)

// Terminal reports whether the type ends a job's event stream.
func (t Type) Terminal() bool {
	return t == TypeComplete || t == TypeError || t == TypeCancelled
}

// Progress is the payload of a progress event.
type Progress struct {
	DocumentIndex int    `json:"documentIndex"`
	DocumentCount int    `json:"documentCount"`
	FileName      string `json:"fileName"`

	DocPagesTotal    int `json:"docPagesTotal"`
	DocPagesRendered int `json:"docPagesRendered"`

	PagesTotal    int `json:"pagesTotal"`
	PagesRendered int `json:"pagesRendered"`
	PagesAnalyzed int `json:"pagesAnalyzed"`

	ETASeconds float64 `json:"etaSeconds"`
	Cost       float64 `json:"cost"`
}

// Summary is the payload of a complete event.
type Summary struct {
	Pages     int     `json:"pages"`
	Documents int     `json:"documents"`
	Cost      float64 `json:"cost"`
}

// Event is one lifecycle notification, tagged with the workspace it belongs
// to.
type Event struct {
	Type        Type      `json:"type"`
	WorkspaceID string    `json:"workspaceId"`
	JobID       string    `json:"jobId,omitempty"`
	Progress    *Progress `json:"progress,omitempty"`
	Complete    *Summary  `json:"complete,omitempty"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

// Broadcaster publishes events to the subscribers of an event's workspace.
// Implementations must preserve publish order per workspace and never block
// the publisher.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event) error
}
