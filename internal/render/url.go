package render

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"pageproof/internal/domain"
)

// maxFetchBytes caps how much of a URL-sourced document is read.
const maxFetchBytes = 200 << 20 // 200 MiB

var fetchClient = &http.Client{Timeout: 2 * time.Minute}

// RenderFromURL fetches a PDF from url and renders it. The fetch is a single
// attempt; retry/backoff policy, if any, belongs to the caller.
func (e *Engine) RenderFromURL(ctx context.Context, url string, opts Options) ([]RenderedPage, error) {
	data, err := e.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return e.Render(ctx, data, opts)
}

func (e *Engine) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.Fetch("build request", err)
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, domain.Fetch(fmt.Sprintf("fetch %s", url), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.Fetch(fmt.Sprintf("fetch %s: status %d", url, resp.StatusCode), nil)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !isPDFContentType(ct) {
		return nil, domain.Fetch(fmt.Sprintf("fetch %s: unexpected content type %q", url, ct), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, domain.Fetch(fmt.Sprintf("read %s", url), err)
	}
	return data, nil
}

func isPDFContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/pdf" || strings.HasSuffix(mediaType, "/octet-stream")
}
