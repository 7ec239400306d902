package raster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

// renderPDF renders every page with a single pdftoppm process, in page order.
func (r *Rasterizer) renderPDF(ctx context.Context, data []byte) ([]Page, error) {
	start := time.Now()
	tmpDir, err := os.MkdirTemp("", "nfe-pdf-*")
	if err != nil {
		return nil, common.RasterizationError("create temp dir", err)
	}
	defer func(path string) {
		if err := os.RemoveAll(path); err != nil {
			r.logger.Warn("raster.pdf.cleanup_failed", "dir", path, "error", err)
		}
	}(tmpDir)

	in := filepath.Join(tmpDir, "in.pdf")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, common.RasterizationError("write temp pdf", err)
	}

	// pdfcpu is stricter than poppler; an unreadable structure is only a warning here
	// and pdftoppm gets the final say.
	expected, err := api.PageCountFile(in)
	if err != nil {
		r.logger.Warn("raster.pdf.page_count_failed", "error", err)
		expected = 0
	}

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 200 -png <in.pdf> <tmp/page>
	_, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm, "-r", strconv.Itoa(r.cfg.DPI), "-png", in, prefix)
	if err != nil {
		return nil, common.RasterizationError("render pdf: "+truncate(string(errb), 512), err)
	}

	// prefix-1.png ... or prefix-01.png for larger documents; padding keeps lexical order.
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, common.RasterizationError("pdftoppm produced no images", nil)
	}
	if expected > 0 && len(matches) != expected {
		return nil, common.RasterizationError(fmt.Sprintf("rendered %d of %d pages", len(matches), expected), nil)
	}

	pages := make([]Page, 0, len(matches))
	for i, path := range matches {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, common.RasterizationError("read rendered page", err)
		}
		pg, err := r.decodeImage(b, i+1)
		if err != nil {
			return nil, err
		}
		pages = append(pages, pg)
	}

	r.logger.Info("raster.pdf.render",
		"pages", len(pages),
		"dpi", r.cfg.DPI,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return pages, nil
}
