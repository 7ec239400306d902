package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/app"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/metrics"
	"github.com/joseph-ayodele/nfe-ocr/internal/pipeline"
)

func main() {
	textOnly := flag.Bool("text", false, "transcribe the document instead of extracting structured fields")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: nfe-extract [-text] <file.pdf|file.png|file.jpg>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg := common.LoadConfig()
	logger := app.NewLogger(cfg.LogLevel)

	ext := constants.NormalizeExt(filepath.Ext(path))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		logger.Error("unsupported file type", "path", path, "ext", ext)
		os.Exit(2)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read file", "path", path, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	m := metrics.New()
	client, closeClient, err := app.NewModelClient(ctx, cfg, m, logger)
	if err != nil {
		logger.Error("model client", "error", err)
		os.Exit(1)
	}
	defer closeClient()
	proc := app.NewProcessor(cfg, client, m, logger)

	doc := pipeline.Document{Filename: filepath.Base(path), Data: data, MIMEType: constants.MIMETypeForExt(ext)}
	var (
		out any
		ok  bool
	)
	if *textOnly {
		res, err := proc.ExtractText(ctx, doc)
		if err != nil {
			logger.Error("extract text", "error", err)
			os.Exit(1)
		}
		out, ok = res, res.Success
	} else {
		res, err := proc.Process(ctx, doc)
		if err != nil {
			logger.Error("process", "error", err)
			os.Exit(1)
		}
		out, ok = res, res.Success
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		logger.Error("encode", "error", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(3)
	}
}
