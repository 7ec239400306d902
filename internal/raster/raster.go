// Package raster turns an uploaded document into an ordered list of RGB page images.
package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

// Config controls rendering.
type Config struct {
	Pdftoppm     string // binary name or absolute path; if empty -> "pdftoppm"
	DPI          int    // PDF render resolution, default 200
	MaxDimension int    // long-edge cap in pixels, default 3072
	JPEGQuality  int    // encoding quality for model upload, default 95
}

// Source is one document to rasterize. Data may hold raw bytes or a "data:" URI;
// when Data is empty the file at Path is read.
type Source struct {
	Path string
	Data []byte
}

// Page is one rendered page. Number is 1-based.
type Page struct {
	Number int
	Image  *image.RGBA
}

// Result is the ordered page list plus the detected format.
type Result struct {
	Format string // constants.PDF | constants.IMAGE
	Pages  []Page
}

type Rasterizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = 3072
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 95
	}
	return &Rasterizer{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// WithRunner swaps the command runner; used by tests.
func (r *Rasterizer) WithRunner(run Runner) *Rasterizer {
	r.runner = run
	return r
}

// Rasterize detects the document type and renders every page in order. Any failure
// yields a rasterization error and no pages.
func (r *Rasterizer) Rasterize(ctx context.Context, src Source) (Result, error) {
	start := time.Now()
	if len(src.Data) == 0 && src.Path != "" {
		b, err := os.ReadFile(src.Path)
		if err != nil {
			return Result{}, common.RasterizationError("read source", err)
		}
		src.Data = b
	}

	payload, isPDF := Detect(src)
	if len(payload) == 0 {
		return Result{}, common.RasterizationError("empty document", nil)
	}

	var (
		pages  []Page
		err    error
		format = constants.IMAGE
	)
	if isPDF {
		format = constants.PDF
		pages, err = r.renderPDF(ctx, payload)
	} else {
		var pg Page
		pg, err = r.decodeImage(payload, 1)
		pages = []Page{pg}
	}
	if err != nil {
		r.logger.Error("raster.failed", "format", format, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return Result{}, err
	}

	r.logger.Info("raster.ok",
		"format", format,
		"pages", len(pages),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return Result{Format: format, Pages: pages}, nil
}

// Encode returns the page as JPEG bytes and their MIME type.
func (p Page) Encode(quality int) ([]byte, string, error) {
	if p.Image == nil {
		return nil, "", fmt.Errorf("page %d has no image", p.Number)
	}
	if quality <= 0 || quality > 100 {
		quality = 95
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, p.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, "", fmt.Errorf("encode page %d: %w", p.Number, err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// EncodePage encodes with the rasterizer's configured quality.
func (r *Rasterizer) EncodePage(p Page) ([]byte, string, error) {
	return p.Encode(r.cfg.JPEGQuality)
}
