// Package pipeline runs one document through rasterization, per-page extraction,
// response validation and aggregation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/aggregate"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
	"github.com/joseph-ayodele/nfe-ocr/internal/llm"
	"github.com/joseph-ayodele/nfe-ocr/internal/metrics"
	"github.com/joseph-ayodele/nfe-ocr/internal/raster"
)

// Rasterizer is satisfied by *raster.Rasterizer.
type Rasterizer interface {
	Rasterize(ctx context.Context, src raster.Source) (raster.Result, error)
	EncodePage(p raster.Page) ([]byte, string, error)
}

// Parser is satisfied by *response.Validator.
type Parser interface {
	Parse(raw string) entity.ExtractionOutcome
}

// Document is one uploaded file.
type Document struct {
	Filename string
	Data     []byte
	MIMEType string
}

// Processor owns no per-document state; concurrent Process calls are safe.
type Processor struct {
	raster      Rasterizer
	client      llm.Client
	parser      Parser
	logger      *slog.Logger
	metrics     *metrics.Metrics
	parallelism int
}

type Option func(*Processor)

// WithParallelism extracts up to n pages of a document at once. Aggregation order is unaffected.
func WithParallelism(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.parallelism = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func NewProcessor(r Rasterizer, client llm.Client, parser Parser, logger *slog.Logger, opts ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{raster: r, client: client, parser: parser, logger: logger, parallelism: 1}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process extracts a document. The returned error is non-nil only for a rasterization
// failure or when no page succeeded; the result is always filled in for the caller to render.
func (p *Processor) Process(ctx context.Context, doc Document) (entity.DocumentResult, error) {
	start := time.Now()
	log := common.LoggerFromContext(ctx, p.logger).With("filename", doc.Filename)
	log.Debug("pipeline.document.start", "bytes", len(doc.Data), "mime_type", doc.MIMEType)

	rr, err := p.raster.Rasterize(ctx, raster.Source{Path: doc.Filename, Data: doc.Data})
	if err != nil {
		log.Error("pipeline.raster.failed", "error", err)
		p.metrics.ObserveDocument("unknown", false)
		return entity.DocumentResult{
			Success:   false,
			Error:     "rasterization: " + rootMessage(err),
			ElapsedMS: time.Since(start).Milliseconds(),
		}, err
	}

	outcomes := p.extractPages(ctx, log, rr.Pages)
	agg, aggErr := aggregate.Aggregate(outcomes)

	res := entity.DocumentResult{
		Format:          rr.Format,
		PagesProcessed:  agg.PagesProcessed,
		PagesSuccessful: agg.PagesSuccessful,
	}
	if rr.Format == constants.IMAGE && len(outcomes) == 1 {
		only := outcomes[0]
		res.Success = only.Success
		res.Data = only.Data
		res.Error = only.Error
		res.RawText = only.RawText
	} else {
		res.Success = agg.Success
		res.Data = agg.Record
		res.PageResults = make([]entity.PageResult, len(outcomes))
		for i, o := range outcomes {
			res.PageResults[i] = entity.PageResult{Page: i + 1, Result: o}
		}
		if aggErr != nil {
			res.Error = fmt.Sprintf("no page could be extracted (0/%d)", agg.PagesProcessed)
		}
	}
	res.ElapsedMS = time.Since(start).Milliseconds()
	p.metrics.ObserveDocument(rr.Format, res.Success)

	if aggErr != nil {
		log.Error("pipeline.document.failed",
			"format", rr.Format,
			"pages", agg.PagesProcessed,
			"error", aggErr,
			"elapsed_ms", res.ElapsedMS,
		)
		return res, aggErr
	}
	log.Info("pipeline.document.ok",
		"format", rr.Format,
		"pages", agg.PagesProcessed,
		"pages_successful", agg.PagesSuccessful,
		"items", len(res.Data.Items),
		"elapsed_ms", res.ElapsedMS,
	)
	return res, nil
}

// rootMessage drops the AppError code prefix and the joined sentinel for user-facing text.
func rootMessage(err error) string {
	var ae *common.AppError
	if !errors.As(err, &ae) {
		return err.Error()
	}
	msg := ae.Message
	switch c := ae.Cause.(type) {
	case nil:
	case interface{ Unwrap() []error }:
		for _, e := range c.Unwrap()[1:] {
			msg += ": " + e.Error()
		}
	default:
		msg += ": " + c.Error()
	}
	return msg
}
