package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

// FSIngestor reads documents from the local filesystem. Files whose content was
// already handed to a Handler by this ingestor are skipped as duplicates.
type FSIngestor struct {
	maxSize int64
	logger  *slog.Logger

	mu   sync.Mutex
	seen map[string]string // sha256 hex -> first path
}

// NewFSIngestor rejects files larger than maxSize bytes; maxSize <= 0 means no limit.
func NewFSIngestor(maxSize int64, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{maxSize: maxSize, logger: logger, seen: map[string]string{}}
}

// ReadPath loads and hashes one file.
func (i *FSIngestor) ReadPath(path string) (Item, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Item{}, err
	}
	ext := constants.NormalizeExt(filepath.Ext(abs))
	if !AllowedExt(ext) {
		return Item{}, common.NewAppError(common.CodeInvalidInput, fmt.Sprintf("unsupported extension %q", ext), common.ErrInvalidInput)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return Item{}, err
	}
	if i.maxSize > 0 && st.Size() > i.maxSize {
		return Item{}, common.NewAppError(common.CodeInvalidInput,
			fmt.Sprintf("file is %d bytes; limit is %d", st.Size(), i.maxSize), common.ErrInvalidInput)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Item{}, err
	}
	sum := sha256.Sum256(data)
	return Item{
		SourcePath: abs,
		Filename:   filepath.Base(abs),
		Ext:        ext,
		MIMEType:   constants.MIMETypeForExt(ext),
		Data:       data,
		HashHex:    hex.EncodeToString(sum[:]),
		ModTime:    st.ModTime(),
	}, nil
}

// claim records the item's hash and reports whether it was new.
func (i *FSIngestor) claim(it Item) (first string, isNew bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if p, ok := i.seen[it.HashHex]; ok {
		return p, false
	}
	i.seen[it.HashHex] = it.SourcePath
	return "", true
}

// IngestPath reads path and hands it to handle unless its content was seen before.
func (i *FSIngestor) IngestPath(ctx context.Context, path string, handle Handler) (Result, error) {
	it, err := i.ReadPath(path)
	if err != nil {
		return Result{SourcePath: path, Err: err.Error()}, err
	}
	res := Result{SourcePath: it.SourcePath, HashHex: it.HashHex}
	if first, ok := i.claim(it); !ok {
		i.logger.Info("ingest.file.duplicate", "path", it.SourcePath, "first", first)
		res.Deduplicated = true
		return res, nil
	}
	if err := handle(ctx, it); err != nil {
		res.Err = err.Error()
		return res, err
	}
	return res, nil
}

// IngestDirectory walks root, skips hidden entries if requested, and calls IngestPath
// for each supported file. Returns per-file results + aggregate stats.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool, handle Handler) ([]Result, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}

	var results []Result
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, Result{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path, handle)
		results = append(results, r)
		switch {
		case err != nil:
			i.logger.Error("ingest.file.failed", "path", path, "error", err)
			stats.Failed++
		case r.Deduplicated:
			stats.Deduplicated++
		default:
			stats.Succeeded++
		}
		return nil
	})
	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	i.logger.Info("ingest.dir.done",
		"root", root,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"succeeded", stats.Succeeded,
		"deduplicated", stats.Deduplicated,
		"failed", stats.Failed,
	)
	return results, stats, nil
}

// AllowedExt reports whether ext (with or without the dot) is a supported document type.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden reports whether the last path element is a dotfile.
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return base != "." && base != ".." && strings.HasPrefix(base, ".")
}
