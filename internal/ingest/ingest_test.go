package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestAllowedExtAndHidden(t *testing.T) {
	assert.True(t, AllowedExt(".PDF"))
	assert.True(t, AllowedExt("webp"))
	assert.False(t, AllowedExt(".txt"))
	assert.False(t, AllowedExt(""))

	assert.True(t, IsHidden("/a/.git"))
	assert.False(t, IsHidden("/a/b.pdf"))
	assert.False(t, IsHidden("."))
}

func TestIngestDirectory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"), "%PDF-a")
	writeFile(t, filepath.Join(root, "sub", "b.png"), "png-b")
	writeFile(t, filepath.Join(root, "sub", "copy-of-a.pdf"), "%PDF-a")
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, ".cache", "x.pdf"), "hidden dir")
	writeFile(t, filepath.Join(root, ".y.jpg"), "hidden file")
	writeFile(t, filepath.Join(root, "broken.jpg"), "fails")

	var handled []string
	handle := func(_ context.Context, it Item) error {
		if it.Filename == "broken.jpg" {
			return errors.New("model call failed")
		}
		handled = append(handled, it.Filename)
		return nil
	}

	ing := NewFSIngestor(0, nil)
	results, stats, err := ing.IngestDirectory(context.Background(), root, true, handle)
	require.NoError(t, err)

	sort.Strings(handled)
	assert.Equal(t, []string{"a.pdf", "b.png"}, handled)
	assert.Equal(t, uint32(4), stats.Matched)
	assert.Equal(t, uint32(2), stats.Succeeded)
	assert.Equal(t, uint32(1), stats.Deduplicated)
	assert.Equal(t, uint32(1), stats.Failed)
	assert.Len(t, results, 4)
}

func TestIngestDirectory_IncludesHiddenWhenAsked(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".cache", "x.pdf"), "hidden dir")

	n := 0
	_, stats, err := NewFSIngestor(0, nil).IngestDirectory(context.Background(), root, false,
		func(context.Context, Item) error { n++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint32(1), stats.Succeeded)
}

func TestReadPath(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nota.JPG")
	writeFile(t, p, "jpeg-bytes")

	it, err := NewFSIngestor(0, nil).ReadPath(p)
	require.NoError(t, err)
	assert.Equal(t, "nota.JPG", it.Filename)
	assert.Equal(t, "jpg", it.Ext)
	assert.Equal(t, "image/jpeg", it.MIMEType)
	assert.Len(t, it.HashHex, 64)

	_, err = NewFSIngestor(4, nil).ReadPath(p)
	require.Error(t, err)

	_, err = NewFSIngestor(0, nil).ReadPath(filepath.Join(dir, "x.txt"))
	require.Error(t, err)
}

func TestIngestDirectory_RequiresRoot(t *testing.T) {
	_, _, err := NewFSIngestor(0, nil).IngestDirectory(context.Background(), " ", true, nil)
	require.Error(t, err)
}

func TestStartWatcher(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "old.pdf"), "old")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{root}, InitialScan: true, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("no watcher event")
			return ""
		}
	}
	assert.Equal(t, filepath.Join(root, "old.pdf"), next())

	writeFile(t, filepath.Join(root, "skip.txt"), "x")
	writeFile(t, filepath.Join(root, "new.png"), "png")
	assert.Equal(t, filepath.Join(root, "new.png"), next())

	cancel()
	for range events {
	}
}
