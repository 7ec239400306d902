package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joseph-ayodele/nfe-ocr/internal/app"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/ingest"
	"github.com/joseph-ayodele/nfe-ocr/internal/metrics"
	"github.com/joseph-ayodele/nfe-ocr/internal/pipeline"
	"github.com/joseph-ayodele/nfe-ocr/internal/storage"
	"github.com/joseph-ayodele/nfe-ocr/internal/tables"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir        = flag.String("dir", "", "directory to process invoices from (required)")
		out        = flag.String("out", "", "output XLSX file path (optional, defaults to parent directory)")
		saveFiles  = flag.Bool("save-files", false, "also copy each processed file into local storage")
		watch      = flag.Bool("watch", false, "keep running and process files as they appear")
		skipHidden = flag.Bool("skip-hidden", true, "skip hidden files and directories")
		maxSize    = flag.Int64("max-size", 0, "maximum file size in bytes (default MAX_FILE_SIZE)")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "notas.xlsx")
	}

	cfg := common.LoadConfig()
	logger := app.NewLogger(cfg.LogLevel)
	if *maxSize <= 0 {
		*maxSize = cfg.Server.MaxFileSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	client, closeClient, err := app.NewModelClient(ctx, cfg, m, logger)
	if err != nil {
		printError("Error: model client: %v\n", err)
		os.Exit(1)
	}
	defer closeClient()
	proc := app.NewProcessor(cfg, client, m, logger)

	store, err := tables.OpenXLSX(*out, logger)
	if err != nil {
		printError("Error: open %s: %v\n", *out, err)
		os.Exit(1)
	}
	defer store.Close()
	writer := tables.NewWriter(store, logger, tables.WithMetrics(m))

	var blobs *storage.Coordinator
	if *saveFiles {
		local, err := storage.NewLocal(cfg.Local.BasePath, logger)
		if err != nil {
			printError("Error: local storage: %v\n", err)
			os.Exit(1)
		}
		blobs = storage.NewCoordinator(local, logger, storage.WithMetrics(m))
	}

	handle := func(ctx context.Context, it ingest.Item) error {
		res, err := proc.Process(ctx, pipeline.Document{Filename: it.Filename, Data: it.Data, MIMEType: it.MIMEType})
		if err != nil {
			return err
		}
		if blobs != nil {
			o := blobs.PersistFile(ctx, storage.File{
				Name:       it.Filename,
				Data:       it.Data,
				MIMEType:   it.MIMEType,
				TaxID:      res.TaxID(),
				OCRSuccess: res.Success,
				ReceivedAt: time.Now(),
			})
			if !o.Success {
				logger.Warn("batch.save.failed", "path", it.SourcePath, "error", o.Error)
			}
		}
		if !res.Success {
			return errors.New(res.Error)
		}
		w := writer.Persist(ctx, res.Data, it.Filename, "")
		if !w.Success {
			return errors.New(w.Error)
		}
		logger.Info("batch.file.ok", "path", it.SourcePath, "process_id", w.ProcessID, "tables", w.SheetsUpdated)
		return nil
	}

	ing := ingest.NewFSIngestor(*maxSize, logger)
	start := time.Now()
	_, stats, err := ing.IngestDirectory(ctx, *dir, *skipHidden, handle)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Processed %d files in %s: %d ok, %d duplicates, %d failed. Output: %s\n",
		stats.Matched, time.Since(start).Round(time.Millisecond), stats.Succeeded, stats.Deduplicated, stats.Failed, *out)

	if !*watch {
		if stats.Failed > 0 {
			os.Exit(2)
		}
		return
	}

	paths, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:      []string{*dir},
		Debounce:   500 * time.Millisecond,
		SkipHidden: *skipHidden,
		Logger:     logger,
	})
	if err != nil {
		printError("Error: watch: %v\n", err)
		os.Exit(1)
	}
	logger.Info("batch.watch.start", "dir", *dir)
	for {
		select {
		case p, ok := <-paths:
			if !ok {
				return
			}
			if _, err := ing.IngestPath(ctx, p, handle); err != nil {
				logger.Error("batch.file.failed", "path", p, "error", err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logger.Warn("batch.watch.error", "error", err)
		case <-ctx.Done():
			slog.Info("batch.watch.stop")
			return
		}
	}
}
