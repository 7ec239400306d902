package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/nfe-ocr/internal/app"
	"github.com/joseph-ayodele/nfe-ocr/internal/async"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/metrics"
	"github.com/joseph-ayodele/nfe-ocr/internal/server"
	"github.com/joseph-ayodele/nfe-ocr/internal/tables"
)

func main() {
	cfg := common.LoadConfig()
	logger := app.NewLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("config invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	client, closeClient, err := app.NewModelClient(ctx, cfg, m, logger)
	if err != nil {
		logger.Error("model client", "error", err)
		os.Exit(1)
	}
	defer closeClient()
	proc := app.NewProcessor(cfg, client, m, logger)

	coord, err := app.NewCoordinator(ctx, cfg, m, logger)
	if err != nil {
		logger.Error("storage", "error", err)
		os.Exit(1)
	}
	uploads := async.NewUploadQueue(coord, logger, async.WithWorkers(cfg.Server.UploadWorkers))

	store, err := app.OpenTables(ctx, cfg.Tables, logger)
	if err != nil {
		logger.Error("table store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	writer := tables.NewWriter(store, logger, tables.WithMetrics(m))
	if err := writer.EnsureHeaders(ctx); err != nil {
		// the fixed tables are provisioned again on first write
		logger.Warn("tables.ensure_headers.failed", "error", err)
	}

	model := cfg.Model.GeminiModel
	if cfg.Model.Provider == "openai" {
		model = cfg.Model.OpenAIModel
	}
	gin.SetMode(gin.ReleaseMode)
	srv := server.NewServer(server.Deps{
		Processor: proc,
		Blobs:     uploads,
		Storage:   coord,
		Tables:    writer,
		Metrics:   m,
	}, server.Options{
		MaxFileSize:    cfg.Server.MaxFileSize,
		RequestTimeout: cfg.Server.RequestTimeout,
		Model:          model,
		TableBackend:   cfg.Tables.Backend,
	}, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http.serving", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http.serve", "error", err)
			stop()
		}
	}()

	grpcHealth := server.NewGRPCHealth(coord, logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("grpc listen", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		if err := grpcHealth.Serve(lis); err != nil {
			logger.Error("grpc.serve", "error", err)
			stop()
		}
	}()
	go grpcHealth.Watch(ctx, 30*time.Second)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http.shutdown", "error", err)
	}
	grpcHealth.Stop()
	uploads.Shutdown(shutdownCtx)
	slog.Info("stopped")
}
