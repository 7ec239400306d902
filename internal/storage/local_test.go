package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/nfe-ocr/constants"
)

var day = time.Date(2025, 6, 28, 10, 30, 0, 0, time.Local)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), discard())
	require.NoError(t, err)
	l.now = func() time.Time { return day }
	return l
}

func TestNewLocal_WritesReadme(t *testing.T) {
	l := newLocal(t)
	b, err := os.ReadFile(filepath.Join(l.BasePath(), "README.md"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "TAXID-")
}

func TestLocalPut_LayoutAndManifest(t *testing.T) {
	l := newLocal(t)
	loc, err := l.Put(context.Background(), File{
		Name: "invoice.pdf", Data: []byte("%PDF-1.4"), MIMEType: "application/pdf",
		TaxID: "12.345.678/0001-99", OCRSuccess: true, ReceivedAt: day,
	})
	require.NoError(t, err)
	assert.Equal(t, "TAXID-12345678000199/2025-06-28/invoice.pdf", loc.FullPath)

	dir := filepath.Join(l.BasePath(), "TAXID-12345678000199", "2025-06-28")
	b, err := os.ReadFile(filepath.Join(dir, "invoice.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(b))

	m, err := ReadManifest(filepath.Join(dir, constants.ManifestFilename))
	require.NoError(t, err)
	require.Len(t, m.Files, 1)
	assert.Equal(t, ManifestEntry{
		Filename: "invoice.pdf", Size: 8, MIMEType: "application/pdf",
		SavedAt: day.Format(time.RFC3339), OCRSuccess: true,
	}, m.Files[0])
	assert.NotEmpty(t, m.CreatedAt)
	assert.NotEmpty(t, m.UpdatedAt)
}

func TestLocalPut_CollisionGetsSuffix(t *testing.T) {
	l := newLocal(t)
	f := File{Name: "invoice.pdf", Data: []byte("a"), TaxID: "12345678000199", ReceivedAt: day}

	first, err := l.Put(context.Background(), f)
	require.NoError(t, err)
	f.Data = []byte("bb")
	second, err := l.Put(context.Background(), f)
	require.NoError(t, err)
	third, err := l.Put(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, "invoice.pdf", first.Filename)
	assert.Equal(t, "invoice_1.pdf", second.Filename)
	assert.Equal(t, "invoice_2.pdf", third.Filename)

	dir := filepath.Join(l.BasePath(), "TAXID-12345678000199", "2025-06-28")
	orig, err := os.ReadFile(filepath.Join(dir, "invoice.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(orig))

	m, err := ReadManifest(filepath.Join(dir, constants.ManifestFilename))
	require.NoError(t, err)
	require.Len(t, m.Files, 3)
	assert.Equal(t, "invoice.pdf", m.Files[0].Filename)
	assert.Equal(t, "invoice_1.pdf", m.Files[1].Filename)
	assert.Equal(t, int64(2), m.Files[1].Size)
}

func TestLocalPut_ConcurrentSameNameNeverOverwrites(t *testing.T) {
	l := newLocal(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Put(context.Background(), File{Name: "nota.png", Data: []byte("x"), TaxID: "1", ReceivedAt: day})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	files, err := l.List(context.Background(), "1", "")
	require.NoError(t, err)
	assert.Len(t, files, 10)

	m, err := ReadManifest(filepath.Join(l.BasePath(), "TAXID-1", "2025-06-28", constants.ManifestFilename))
	require.NoError(t, err)
	assert.Len(t, m.Files, 10)
}

func TestLocalPut_ManifestNameIsReserved(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()
	loc, err := l.Put(ctx, File{Name: "metadata.json", Data: []byte("%PDF-1.4"), TaxID: "7", ReceivedAt: day})
	require.NoError(t, err)
	assert.Equal(t, "metadata_1.json", loc.Filename)
	_, err = l.Put(ctx, File{Name: "invoice.pdf", Data: []byte("%PDF-1.5"), TaxID: "7", ReceivedAt: day})
	require.NoError(t, err)

	m, err := ReadManifest(filepath.Join(l.BasePath(), "TAXID-7", "2025-06-28", constants.ManifestFilename))
	require.NoError(t, err)
	require.Len(t, m.Files, 2)
	assert.Equal(t, "metadata_1.json", m.Files[0].Filename)
	assert.Equal(t, "invoice.pdf", m.Files[1].Filename)

	files, err := l.List(ctx, "7", "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestLocalPut_UnknownTaxIDAndUnsafeName(t *testing.T) {
	l := newLocal(t)
	loc, err := l.Put(context.Background(), File{Name: "../../escape.jpg", Data: []byte("x"), ReceivedAt: day})
	require.NoError(t, err)
	assert.Equal(t, "TAXID-unknown/2025-06-28/escape.jpg", loc.FullPath)
}

func TestLocalList_FiltersDateAndManifest(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()
	_, err := l.Put(ctx, File{Name: "a.pdf", Data: []byte("1"), TaxID: "9", ReceivedAt: day})
	require.NoError(t, err)
	_, err = l.Put(ctx, File{Name: "b.pdf", Data: []byte("22"), TaxID: "9", ReceivedAt: day.AddDate(0, 0, 1)})
	require.NoError(t, err)

	all, err := l.List(ctx, "9", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a.pdf", all[0].Filename)
	assert.Equal(t, "2025-06-29", all[1].DateFolder)
	assert.Equal(t, constants.StorageLocal, all[1].StorageType)

	one, err := l.List(ctx, "9", "2025-06-29")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, int64(2), one[0].Size)

	none, err := l.List(ctx, "777", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLocalHealthAndStats(t *testing.T) {
	l := newLocal(t)
	ctx := context.Background()
	for _, tax := range []string{"1", "2"} {
		_, err := l.Put(ctx, File{Name: "n.pdf", Data: []byte("abc"), TaxID: tax, ReceivedAt: day})
		require.NoError(t, err)
	}

	h := l.Health()
	assert.True(t, h.Writable)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, 2, h.TaxIDFolders)
	_, err := os.Stat(filepath.Join(l.BasePath(), ".health_check"))
	assert.True(t, os.IsNotExist(err))

	st, err := l.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, st.TaxIDFolders)
	assert.Equal(t, 2, st.DateFolders)
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, int64(6), st.Bytes)
}
