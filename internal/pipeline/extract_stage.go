package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
	"github.com/joseph-ayodele/nfe-ocr/internal/llm"
	"github.com/joseph-ayodele/nfe-ocr/internal/raster"
)

// extractPages returns one outcome per page, indexed by page order regardless of completion order.
func (p *Processor) extractPages(ctx context.Context, log *slog.Logger, pages []raster.Page) []entity.ExtractionOutcome {
	outcomes := make([]entity.ExtractionOutcome, len(pages))
	if p.parallelism <= 1 || len(pages) <= 1 {
		for i, pg := range pages {
			outcomes[i] = p.extractPage(ctx, log, pg)
		}
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(p.parallelism)
	for i, pg := range pages {
		g.Go(func() error {
			outcomes[i] = p.extractPage(ctx, log, pg)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Processor) extractPage(ctx context.Context, log *slog.Logger, pg raster.Page) entity.ExtractionOutcome {
	start := time.Now()
	img, mt, err := p.raster.EncodePage(pg)
	if err != nil {
		log.Error("pipeline.page.encode_failed", "page", pg.Number, "error", err)
		p.metrics.ObservePage(false)
		return entity.ExtractionOutcome{Success: false, Error: "encode page: " + err.Error(), Err: common.RasterizationError("encode page", err)}
	}

	raw, err := p.client.Extract(ctx, llm.Image{Page: pg.Number, Data: img, MIMEType: mt})
	if err != nil {
		log.Error("pipeline.page.model_call_failed",
			"page", pg.Number,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		p.metrics.ObservePage(false)
		return entity.ExtractionOutcome{Success: false, Error: "model call: " + rootMessage(err), Err: common.ModelCallError("extract page", err)}
	}

	out := p.parser.Parse(raw)
	p.metrics.ObservePage(out.Success)
	log.Info("pipeline.page.done",
		"page", pg.Number,
		"success", out.Success,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out
}
