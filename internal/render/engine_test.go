package render

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pageproof/internal/domain"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// writeFakeRasterizer installs a shell script standing in for pdftoppm.
func writeFakeRasterizer(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-pdftoppm")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

// copyFixtures is a script body that copies every fixture PNG next to the
// output prefix (the rasterizer's last argument).
const copyFixtures = `out=""
for arg in "$@"; do out="$arg"; done
cp "$RENDER_FIXTURES"/*.png "$(dirname "$out")"/`

func renderDirs(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "pageproof-render-*"))
	require.NoError(t, err)
	return matches
}

func TestRenderOrdersPagesNumerically(t *testing.T) {
	fixtures := t.TempDir()
	// Widths identify the source files after renumbering. Lexicographically
	// page-10 sorts before page-2 and page-9; numerically it must come last.
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "page-2.png"), pngBytes(t, 20, 10), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "page-9.png"), pngBytes(t, 90, 10), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "page-10.png"), pngBytes(t, 100, 10), 0o600))
	t.Setenv("RENDER_FIXTURES", fixtures)

	engine := NewEngine(writeFakeRasterizer(t, copyFixtures), zerolog.Nop())
	pages, err := engine.Render(context.Background(), []byte("%PDF-1.4"), Options{DPI: 150, Quality: 85})
	require.NoError(t, err)
	require.Len(t, pages, 3)

	widths := make([]int, len(pages))
	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
		widths[i] = p.Width
	}
	assert.Equal(t, []int{20, 90, 100}, widths)
}

func TestRenderReencodesToJPEG(t *testing.T) {
	fixtures := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "page-1.png"), pngBytes(t, 64, 48), 0o600))
	t.Setenv("RENDER_FIXTURES", fixtures)

	engine := NewEngine(writeFakeRasterizer(t, copyFixtures), zerolog.Nop())
	pages, err := engine.Render(context.Background(), []byte("%PDF-1.4"), Options{})
	require.NoError(t, err)
	require.Len(t, pages, 1)

	img, err := jpeg.Decode(bytes.NewReader(pages[0].Image))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
	assert.Equal(t, 64, pages[0].Width)
	assert.Equal(t, 48, pages[0].Height)
	assert.True(t, strings.HasPrefix(pages[0].DataURL(), "data:image/jpeg;base64,"))
}

func TestRenderThumbnails(t *testing.T) {
	fixtures := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "page-1.png"), pngBytes(t, 100, 50), 0o600))
	t.Setenv("RENDER_FIXTURES", fixtures)

	engine := NewEngine(writeFakeRasterizer(t, copyFixtures), zerolog.Nop())
	pages, err := engine.Render(context.Background(), []byte("%PDF-1.4"), Options{ThumbWidth: 10})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.NotEmpty(t, pages[0].Thumb)

	thumb, err := jpeg.Decode(bytes.NewReader(pages[0].Thumb))
	require.NoError(t, err)
	assert.Equal(t, 10, thumb.Bounds().Dx())
	assert.Equal(t, 5, thumb.Bounds().Dy())
}

func TestRenderEmptyOutputIsNotAnError(t *testing.T) {
	engine := NewEngine(writeFakeRasterizer(t, ":"), zerolog.Nop())
	pages, err := engine.Render(context.Background(), []byte("%PDF-1.4"), Options{})
	require.NoError(t, err)
	assert.Empty(t, pages)
}

func TestRenderFailureReturnsRenderError(t *testing.T) {
	engine := NewEngine(writeFakeRasterizer(t, "echo 'Syntax Error: broken' >&2; exit 3"), zerolog.Nop())
	_, err := engine.Render(context.Background(), []byte("not a pdf"), Options{})
	require.Error(t, err)
	assert.Equal(t, domain.KindRender, domain.KindOf(err))
}

func TestRenderCleansTempDirOnAllPaths(t *testing.T) {
	before := len(renderDirs(t))

	fixtures := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "page-1.png"), pngBytes(t, 8, 8), 0o600))
	t.Setenv("RENDER_FIXTURES", fixtures)

	ok := NewEngine(writeFakeRasterizer(t, copyFixtures), zerolog.Nop())
	_, err := ok.Render(context.Background(), []byte("%PDF-1.4"), Options{})
	require.NoError(t, err)
	assert.Len(t, renderDirs(t), before, "success path left a render dir behind")

	failing := NewEngine(writeFakeRasterizer(t, "exit 1"), zerolog.Nop())
	_, err = failing.Render(context.Background(), []byte("%PDF-1.4"), Options{})
	require.Error(t, err)
	assert.Len(t, renderDirs(t), before, "failure path left a render dir behind")
}

func TestRenderFromURL(t *testing.T) {
	fixtures := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "page-1.png"), pngBytes(t, 8, 8), 0o600))
	t.Setenv("RENDER_FIXTURES", fixtures)
	engine := NewEngine(writeFakeRasterizer(t, copyFixtures), zerolog.Nop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/doc.pdf":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF-1.4"))
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	pages, err := engine.RenderFromURL(context.Background(), srv.URL+"/doc.pdf", Options{})
	require.NoError(t, err)
	assert.Len(t, pages, 1)

	_, err = engine.RenderFromURL(context.Background(), srv.URL+"/page.html", Options{})
	require.Error(t, err)
	assert.Equal(t, domain.KindFetch, domain.KindOf(err))

	_, err = engine.RenderFromURL(context.Background(), srv.URL+"/missing.pdf", Options{})
	require.Error(t, err)
	assert.Equal(t, domain.KindFetch, domain.KindOf(err))
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, 150, opts.DPI)
	assert.Equal(t, 85, opts.Quality)
	assert.Zero(t, opts.ThumbWidth)
}
