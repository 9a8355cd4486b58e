// Package render converts raw PDF bytes into an ordered sequence of page
// images by driving an external command-line rasterizer.
package render

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"pageproof/internal/domain"
)

// DefaultBinary is the rasterizer invoked when none is configured.
const DefaultBinary = "pdftoppm"

// Options control one render invocation.
type Options struct {
	DPI     int
	Quality int
	// ThumbWidth, when positive, additionally produces a scaled-down
	// thumbnail per page.
	ThumbWidth int
}

func (o Options) withDefaults() Options {
	if o.DPI <= 0 {
		o.DPI = 150
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = 85
	}
	return o
}

// RenderedPage is the transient output of one rendered page. Image and Thumb
// are JPEG bytes; the page number is 1-based and contiguous.
type RenderedPage struct {
	PageNumber int
	Image      []byte
	Thumb      []byte
	Width      int
	Height     int
}

// DataURL transport-encodes the page image for embedding in analyzer
// requests.
func (p RenderedPage) DataURL() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(p.Image)
}

// Engine shells out to a pdftoppm-compatible rasterizer. Each invocation gets
// its own scoped temporary directory which is removed on every exit path.
type Engine struct {
	binary string
	log    zerolog.Logger
}

// NewEngine constructs an Engine. An empty binary selects DefaultBinary.
func NewEngine(binary string, log zerolog.Logger) *Engine {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Engine{binary: binary, log: log}
}

// Matches the numeric page token pdftoppm embeds in output filenames.
var pageTokenRe = regexp.MustCompile(`(\d+)\.[^.]+$`)

// Render rasterizes pdfBytes into ordered page images. It fails with a render
// error when the external process exits non-zero; an empty page set from a
// valid PDF is not an error.
func (e *Engine) Render(ctx context.Context, pdfBytes []byte, opts Options) (pages []RenderedPage, err error) {
	opts = opts.withDefaults()

	if count, inspectErr := Inspect(pdfBytes); inspectErr != nil {
		e.log.Debug().Err(inspectErr).Msg("pdf pre-inspection failed, deferring to rasterizer")
	} else {
		e.log.Debug().Int("expected_pages", count).Msg("pdf inspected")
	}

	tmpDir, err := os.MkdirTemp("", "pageproof-render-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			e.log.Warn().Err(rmErr).Str("dir", tmpDir).Msg("render dir cleanup failed")
		}
	}()

	inputPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(inputPath, pdfBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write input pdf: %w", err)
	}
	outDir := filepath.Join(tmpDir, "pages")
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	args := []string{"-png", "-r", strconv.Itoa(opts.DPI), inputPath, filepath.Join(outDir, "page")}
	cmd := exec.CommandContext(ctx, e.binary, args...)
	if out, runErr := cmd.CombinedOutput(); runErr != nil {
		return nil, domain.Render(fmt.Sprintf("%s failed: %s", e.binary, firstLine(out)), runErr)
	}

	files, err := orderedPageFiles(outDir)
	if err != nil {
		return nil, err
	}
	pages = make([]RenderedPage, 0, len(files))
	for i, name := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		page, encErr := e.encodePage(filepath.Join(outDir, name), i+1, opts)
		if encErr != nil {
			return nil, encErr
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// orderedPageFiles lists the rasterizer output sorted by the numeric page
// token, so page-10 never sorts before page-2.
func orderedPageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}
	type pageFile struct {
		name string
		num  int
	}
	files := make([]pageFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := pageTokenRe.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		num, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			continue
		}
		files = append(files, pageFile{name: entry.Name(), num: num})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].num < files[j].num })
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

func (e *Engine) encodePage(path string, pageNumber int, opts Options) (RenderedPage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RenderedPage{}, fmt.Errorf("read page image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return RenderedPage{}, domain.Render(fmt.Sprintf("decode page %d", pageNumber), err)
	}
	bounds := img.Bounds()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return RenderedPage{}, domain.Render(fmt.Sprintf("encode page %d", pageNumber), err)
	}
	page := RenderedPage{
		PageNumber: pageNumber,
		Image:      buf.Bytes(),
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
	}
	if opts.ThumbWidth > 0 && bounds.Dx() > opts.ThumbWidth {
		thumb, thumbErr := scaleJPEG(img, opts.ThumbWidth, opts.Quality)
		if thumbErr != nil {
			return RenderedPage{}, domain.Render(fmt.Sprintf("thumbnail page %d", pageNumber), thumbErr)
		}
		page.Thumb = thumb
	}
	return page, nil
}

func scaleJPEG(src image.Image, width, quality int) ([]byte, error) {
	bounds := src.Bounds()
	height := bounds.Dy() * width / bounds.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func firstLine(out []byte) string {
	if i := bytes.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	if len(out) > 200 {
		out = out[:200]
	}
	return string(bytes.TrimSpace(out))
}
