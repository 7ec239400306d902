// Package app builds the long-lived collaborators shared by the binaries from a loaded Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/gauth"
	"github.com/joseph-ayodele/nfe-ocr/internal/llm"
	"github.com/joseph-ayodele/nfe-ocr/internal/llm/gemini"
	"github.com/joseph-ayodele/nfe-ocr/internal/llm/openai"
	"github.com/joseph-ayodele/nfe-ocr/internal/metrics"
	"github.com/joseph-ayodele/nfe-ocr/internal/pipeline"
	"github.com/joseph-ayodele/nfe-ocr/internal/raster"
	"github.com/joseph-ayodele/nfe-ocr/internal/response"
	"github.com/joseph-ayodele/nfe-ocr/internal/storage"
	"github.com/joseph-ayodele/nfe-ocr/internal/tables"
)

// NewLogger installs a JSON slog handler on stdout as the default logger.
func NewLogger(level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// Cleanup releases what a constructor opened. It is never nil.
type Cleanup func()

func noop() {}

// NewModelClient builds the configured provider wrapped with the extraction cache
// (when REDIS_ADDR is set), the rate limit and metrics.
func NewModelClient(ctx context.Context, cfg *common.Config, m *metrics.Metrics, logger *slog.Logger) (llm.Client, Cleanup, error) {
	var (
		client  llm.Client
		cleanup Cleanup = noop
	)
	switch cfg.Model.Provider {
	case "gemini":
		c, err := gemini.NewClient(ctx, gemini.Config{
			ProjectID:   cfg.Model.ProjectID,
			Region:      cfg.Model.Region,
			Model:       cfg.Model.GeminiModel,
			Temperature: cfg.Model.Temperature,
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		client, cleanup = c, func() { _ = c.Close() }
	case "openai":
		client = openai.NewClient(openai.Config{
			APIKey:      cfg.Model.OpenAIKey,
			BaseURL:     cfg.Model.OpenAIURL,
			Model:       cfg.Model.OpenAIModel,
			Temperature: cfg.Model.Temperature,
			Timeout:     cfg.Model.Timeout,
		}, logger)
	default:
		return nil, noop, common.NewAppError(common.CodeConfig, fmt.Sprintf("unknown MODEL_PROVIDER %q", cfg.Model.Provider), common.ErrInvalidInput)
	}
	logger.Info("app.model.ready", "provider", client.Provider(), "rpm", cfg.Model.RPM)

	client = llm.WithMetrics(client, m)
	client = llm.WithRateLimit(client, cfg.Model.RPM, 1)

	if cfg.Cache.Addr != "" {
		rc, err := llm.NewRedisCache(ctx, llm.RedisConfig{Addr: cfg.Cache.Addr, Password: cfg.Cache.Password, DB: cfg.Cache.DB})
		if err != nil {
			logger.Warn("app.cache.disabled", "addr", cfg.Cache.Addr, "error", err)
		} else {
			client = llm.WithCache(client, rc, cfg.Cache.TTL, m, logger)
			prev := cleanup
			cleanup = func() { _ = rc.Close(); prev() }
			logger.Info("app.cache.ready", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.TTL.String())
		}
	}
	return client, cleanup, nil
}

// NewProcessor wires rasterizer, validator and client into a pipeline.
func NewProcessor(cfg *common.Config, client llm.Client, m *metrics.Metrics, logger *slog.Logger) *pipeline.Processor {
	r := raster.New(raster.Config{
		Pdftoppm:     cfg.Raster.Pdftoppm,
		DPI:          cfg.Raster.DPI,
		MaxDimension: cfg.Raster.MaxDimension,
	}, logger)
	return pipeline.NewProcessor(r, client, response.NewValidator(logger), logger,
		pipeline.WithParallelism(cfg.Model.Parallelism),
		pipeline.WithMetrics(m),
	)
}

// NewCoordinator builds the blob chain. A configured remote tier that cannot be
// constructed is a startup error.
func NewCoordinator(ctx context.Context, cfg *common.Config, m *metrics.Metrics, logger *slog.Logger) (*storage.Coordinator, error) {
	local, err := storage.NewLocal(cfg.Local.BasePath, logger)
	if err != nil {
		return nil, err
	}
	opts := []storage.CoordinatorOption{storage.WithMetrics(m)}

	if cfg.Drive.Enabled {
		opt, err := gauth.ClientOption(ctx, gauth.Config{
			CredentialsFile: cfg.Drive.CredentialsFile,
			UseOAuth:        cfg.Drive.UseOAuth,
			TokenFile:       cfg.Drive.TokenFile,
			Scopes:          []string{drive.DriveScope},
		}, logger)
		if err != nil {
			return nil, err
		}
		d, err := storage.NewDrive(ctx, storage.DriveConfig{RootFolderName: cfg.Drive.RootFolderName, Options: []option.ClientOption{opt}}, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, storage.WithPrimary(d))
	}

	switch cfg.Blob.Kind {
	case "gcs":
		g, err := storage.NewGCS(ctx, cfg.Blob.GCSBucket, "", logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, storage.WithSecondary(g))
	case "s3":
		s, err := storage.NewS3(ctx, storage.S3Config{
			Bucket:    cfg.Blob.S3Bucket,
			Endpoint:  cfg.Blob.S3Endpoint,
			Region:    cfg.Blob.S3Region,
			AccessKey: cfg.Blob.S3AccessKey,
			SecretKey: cfg.Blob.S3SecretKey,
		}, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, storage.WithSecondary(s))
	}
	return storage.NewCoordinator(local, logger, opts...), nil
}

// OpenTables opens the configured table store.
func OpenTables(ctx context.Context, cfg common.TablesConfig, logger *slog.Logger) (tables.Store, error) {
	switch cfg.Backend {
	case "sheets":
		opt, err := gauth.ClientOption(ctx, gauth.Config{
			CredentialsFile: cfg.CredentialsFile,
			Scopes:          []string{sheets.SpreadsheetsScope},
		}, logger)
		if err != nil {
			return nil, err
		}
		return tables.NewSheets(ctx, cfg.SpreadsheetID, logger, opt)
	case "xlsx":
		return tables.OpenXLSX(cfg.XLSXPath, logger)
	case "sqlite":
		return tables.OpenSQLite(ctx, cfg.SQLitePath, logger)
	case "postgres":
		return tables.OpenPostgres(ctx, tables.PostgresConfig{
			DSN:             cfg.DatabaseURL,
			MaxConns:        10,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     5 * time.Second,
		}, logger)
	}
	return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("unknown TABLE_BACKEND %q", cfg.Backend), common.ErrInvalidInput)
}
