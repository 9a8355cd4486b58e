// Package analyzer invokes the external page analysis capability. The
// pipeline treats the analysis result as opaque; only token usage is
// interpreted, for cost accounting.
package analyzer

import (
	"context"
	"encoding/json"
)

// Usage reports the tokens consumed by one analyzer call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Add accumulates usage.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Analyzer produces structured analysis from a page image. imageURL is a
// transport-encoded data URL. Implementations make a single attempt; the
// pipeline never retries.
type Analyzer interface {
	Analyze(ctx context.Context, imageURL, model string) (json.RawMessage, Usage, error)
}
