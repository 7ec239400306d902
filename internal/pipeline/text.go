package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/llm"
	"github.com/joseph-ayodele/nfe-ocr/internal/raster"
)

// TextResult is a plain transcription of a document.
type TextResult struct {
	Success        bool     `json:"success"`
	Format         string   `json:"format,omitempty"`
	PagesProcessed int      `json:"pages_processed"`
	Text           string   `json:"text"`
	Errors         []string `json:"errors,omitempty"`
}

// ExtractText transcribes every page in order. PDF pages are introduced by a "=== PÁGINA N ===" line.
func (p *Processor) ExtractText(ctx context.Context, doc Document) (TextResult, error) {
	start := time.Now()
	log := common.LoggerFromContext(ctx, p.logger).With("filename", doc.Filename)

	rr, err := p.raster.Rasterize(ctx, raster.Source{Path: doc.Filename, Data: doc.Data})
	if err != nil {
		return TextResult{Errors: []string{"rasterization: " + rootMessage(err)}}, err
	}

	res := TextResult{Format: rr.Format, PagesProcessed: len(rr.Pages)}
	var parts []string
	for _, pg := range rr.Pages {
		text, err := p.pageText(ctx, pg)
		if err != nil {
			log.Error("pipeline.text.page_failed", "page", pg.Number, "error", err)
			res.Errors = append(res.Errors, fmt.Sprintf("página %d: %v", pg.Number, err))
			continue
		}
		res.Success = true
		if rr.Format == constants.PDF {
			text = fmt.Sprintf("=== PÁGINA %d ===\n%s\n", pg.Number, text)
		}
		parts = append(parts, text)
	}
	res.Text = strings.Join(parts, "\n")

	log.Info("pipeline.text.done",
		"pages", res.PagesProcessed,
		"failed_pages", len(res.Errors),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if !res.Success {
		return res, common.NewAppError(common.CodeAggregationEmpty, "no page could be transcribed", common.ErrAggregationEmpty)
	}
	return res, nil
}

func (p *Processor) pageText(ctx context.Context, pg raster.Page) (string, error) {
	img, mt, err := p.raster.EncodePage(pg)
	if err != nil {
		return "", err
	}
	return p.client.ExtractText(ctx, llm.Image{Page: pg.Number, Data: img, MIMEType: mt})
}
