// Package ingest discovers invoice files on the local filesystem, either by walking a
// directory once or by watching directories for new files.
package ingest

import (
	"context"
	"time"
)

// Item is one discovered file, read into memory.
type Item struct {
	SourcePath string
	Filename   string
	Ext        string
	MIMEType   string
	Data       []byte
	HashHex    string
	ModTime    time.Time
}

// Result is the per-file ingest outcome.
type Result struct {
	SourcePath   string `json:"source_path"`
	HashHex      string `json:"sha256,omitempty"`
	Deduplicated bool   `json:"deduplicated,omitempty"`
	Err          string `json:"error,omitempty"`
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32 `json:"scanned"`
	Matched      uint32 `json:"matched"`
	Succeeded    uint32 `json:"succeeded"`
	Deduplicated uint32 `json:"deduplicated"`
	Failed       uint32 `json:"failed"`
}

// Handler processes one item. A returned error marks the item failed; the walk continues.
type Handler func(ctx context.Context, it Item) error
