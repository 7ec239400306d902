// Package server exposes the invoice pipeline and its persistence over HTTP (gin)
// and reports liveness over the gRPC health protocol.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
	"github.com/joseph-ayodele/nfe-ocr/internal/metrics"
	"github.com/joseph-ayodele/nfe-ocr/internal/pipeline"
	"github.com/joseph-ayodele/nfe-ocr/internal/storage"
	"github.com/joseph-ayodele/nfe-ocr/internal/tables"
)

// DocumentProcessor is satisfied by *pipeline.Processor.
type DocumentProcessor interface {
	Process(ctx context.Context, doc pipeline.Document) (entity.DocumentResult, error)
	ExtractText(ctx context.Context, doc pipeline.Document) (pipeline.TextResult, error)
}

// BlobPersister is satisfied by *async.UploadQueue.
type BlobPersister interface {
	Persist(ctx context.Context, f storage.File, traceID string) (storage.Outcome, error)
}

// StorageInspector is satisfied by *storage.Coordinator.
type StorageInspector interface {
	Health(ctx context.Context) storage.Health
	ListFiles(ctx context.Context, taxID, date string) (storage.Listing, error)
	Stats() (storage.LocalStats, error)
}

// TableWriter is satisfied by *tables.Writer.
type TableWriter interface {
	Persist(ctx context.Context, rec *entity.Record, filename, taxID string) tables.Outcome
	EnsureHeaders(ctx context.Context) error
	Recent(ctx context.Context, n int) ([]map[string]string, error)
	TaxIDTables(ctx context.Context) ([]tables.TaxIDTable, error)
	Stats(ctx context.Context) (tables.Stats, error)
}

// Deps are the collaborators handlers call into. All are required except Metrics.
type Deps struct {
	Processor DocumentProcessor
	Blobs     BlobPersister
	Storage   StorageInspector
	Tables    TableWriter
	Metrics   *metrics.Metrics
}

// Options are the boundary limits and the values echoed back by /health.
type Options struct {
	MaxFileSize    int64
	RequestTimeout time.Duration
	Model          string
	TableBackend   string
}

type Server struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewServer(deps Deps, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 10 << 20
	}
	return &Server{deps: deps, opts: opts, logger: logger, now: time.Now}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = s.opts.MaxFileSize + 1<<20
	r.Use(s.recovery(), s.requestContext(), s.accessLog())

	r.GET("/", s.root)
	r.GET("/health", s.health)
	r.GET("/stats", s.stats)
	r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	r.POST("/process", s.process)
	r.POST("/upload-only", s.uploadOnly)
	r.POST("/extract-text", s.extractText)

	st := r.Group("/storage")
	st.GET("/files/:tax_id", s.listFiles)
	st.GET("/health", s.storageHealth)
	st.GET("/stats", s.storageStats)

	tb := r.Group("/tables")
	tb.GET("/recent", s.recent)
	tb.GET("/tax-ids", s.taxIDTables)
	tb.GET("/stats", s.tableStats)
	tb.POST("/ensure-headers", s.ensureHeaders)

	return r
}

func (s *Server) root(c *gin.Context) {
	c.JSON(200, gin.H{
		"service": "nfe-ocr",
		"endpoints": gin.H{
			"process":      "POST /process",
			"upload_only":  "POST /upload-only",
			"extract_text": "POST /extract-text",
			"health":       "GET /health",
			"stats":        "GET /stats",
			"metrics":      "GET /metrics",
		},
		"timestamp": s.now().Format(time.RFC3339),
	})
}
