package storage

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"time"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/metrics"
)

// Coordinator runs the blob fallback chain: primary, then secondary, then local.
// A quota rejection from any remote tier goes straight to local; any other
// failure moves to the next configured tier. Each tier is tried at most once.
//
// Without a secondary tier a non-quota primary failure lands on local, the plain
// primary-to-tertiary route. With one configured, that failure tries the secondary
// first; only quota rejections skip it.
type Coordinator struct {
	primary   Backend
	secondary Backend
	local     *Local
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

type CoordinatorOption func(*Coordinator)

// WithPrimary enables a remote primary tier. Without it the chain runs local-only.
func WithPrimary(b Backend) CoordinatorOption {
	return func(c *Coordinator) { c.primary = b }
}

func WithSecondary(b Backend) CoordinatorOption {
	return func(c *Coordinator) { c.secondary = b }
}

func WithMetrics(m *metrics.Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(local *Local, logger *slog.Logger, opts ...CoordinatorOption) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{local: local, logger: logger, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) chain() []Backend {
	var out []Backend
	if c.primary != nil {
		out = append(out, c.primary)
	}
	if c.secondary != nil {
		out = append(out, c.secondary)
	}
	return append(out, c.local)
}

// PersistFile stores f and reports where it landed. It never returns an error;
// a failure of every tier is reported in Outcome.Error.
func (c *Coordinator) PersistFile(ctx context.Context, f File) Outcome {
	f.Name = common.SafeFilename(f.Name)
	if f.ReceivedAt.IsZero() {
		f.ReceivedAt = c.now()
	}
	if f.MIMEType == "" {
		f.MIMEType = constants.MIMETypeForExt(path.Ext(f.Name))
	}
	log := common.LoggerFromContext(ctx, c.logger).With("filename", f.Name, "tax_id", common.SanitizeTaxID(f.TaxID))

	out := Outcome{Attempts: []Attempt{}}
	tiers := c.chain()
	for i := 0; i < len(tiers); i++ {
		b := tiers[i]
		start := time.Now()
		loc, err := b.Put(ctx, f)
		att := Attempt{Backend: b.Name(), ElapsedMS: time.Since(start).Milliseconds()}
		c.metrics.ObserveBlobWrite(string(b.Name()), err == nil)

		if err == nil {
			out.Attempts = append(out.Attempts, att)
			out.Success = true
			out.StorageType = b.Type()
			out.Backend = b.Name()
			out.FullPath = loc.FullPath
			out.Location = &loc
			if i > 0 {
				log.Warn("storage.blob.fallback_ok", "backend", b.Name(), "attempts", len(out.Attempts))
			}
			return out
		}

		att.Error = err.Error()
		att.Quota = errors.Is(err, common.ErrPersistenceQuota)
		out.Attempts = append(out.Attempts, att)
		out.Error = err.Error()

		if att.Quota && b != c.local {
			log.Warn("storage.blob.quota_exceeded", "backend", b.Name(), "error", err)
			i = len(tiers) - 2
			continue
		}
		log.Error("storage.blob.fallback", "backend", b.Name(), "error", err)
	}
	log.Error("storage.blob.exhausted", "attempts", len(out.Attempts))
	return out
}

// Health is the status of the blob chain.
type Health struct {
	Status  constants.HealthStatus `json:"status"`
	Message string                 `json:"message,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Primary string                 `json:"primary,omitempty"`
	Local   LocalHealth            `json:"local_storage"`
}

// Health reports healthy or drive_error from a primary ping, or local_only when
// no primary is configured. The local tier is probed in every case.
func (c *Coordinator) Health(ctx context.Context) Health {
	h := Health{Local: c.local.Health()}
	if c.primary == nil {
		h.Status = constants.HealthLocalOnly
		h.Message = "remote storage disabled; files are kept locally"
		return h
	}
	h.Primary = string(c.primary.Name())
	p, ok := c.primary.(Pinger)
	if !ok {
		h.Status = constants.HealthHealthy
		return h
	}
	if err := p.Ping(ctx); err != nil {
		h.Status = constants.HealthDriveError
		h.Error = err.Error()
		h.Message = "remote storage unreachable; falling back to local storage"
		return h
	}
	h.Status = constants.HealthHealthy
	return h
}

// Listing is the result of ListFiles.
type Listing struct {
	TaxID       string                `json:"tax_id"`
	StorageType constants.StorageType `json:"storage_type"`
	Files       []StoredFile          `json:"files"`
	Total       int                   `json:"total_files"`
}

// ListFiles lists from the primary when it can list, falling back to the local tier on error.
func (c *Coordinator) ListFiles(ctx context.Context, taxID, date string) (Listing, error) {
	taxID = common.SanitizeTaxID(taxID)
	if l, ok := c.primary.(Lister); ok {
		files, err := l.List(ctx, taxID, date)
		if err == nil {
			return Listing{TaxID: taxID, StorageType: constants.StorageRemote, Files: files, Total: len(files)}, nil
		}
		c.logger.Warn("storage.list.primary_failed", "tax_id", taxID, "error", err)
	}
	files, err := c.local.List(ctx, taxID, date)
	if err != nil {
		return Listing{}, err
	}
	return Listing{TaxID: taxID, StorageType: constants.StorageLocal, Files: files, Total: len(files)}, nil
}

func (c *Coordinator) Stats() (LocalStats, error) {
	return c.local.Stats()
}
