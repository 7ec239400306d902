package tables

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newSQLite(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:", discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// flakyStore fails Append for the named tables and counts EnsureTable creations.
type flakyStore struct {
	Store
	failAppend map[string]bool
	created    atomic.Int32
}

func (f *flakyStore) EnsureTable(ctx context.Context, name string, headers []string) (bool, error) {
	created, err := f.Store.EnsureTable(ctx, name, headers)
	if created {
		f.created.Add(1)
	}
	return created, err
}

func (f *flakyStore) Append(ctx context.Context, name string, rows [][]string) error {
	if f.failAppend[name] {
		return errors.New("quota exceeded for quota metric 'Write requests'")
	}
	return f.Store.Append(ctx, name, rows)
}

func newWriter(t *testing.T, s Store) *Writer {
	return NewWriter(s, discard(), WithClock(func() time.Time { return at }))
}

func TestPersist_WritesAllThreeTables(t *testing.T) {
	store := newSQLite(t)
	w := newWriter(t, store)
	ctx := context.Background()

	out := w.Persist(ctx, sampleRecord(), "nota.pdf", "")
	require.True(t, out.Success)
	assert.Equal(t, []string{"Resumo", "Itens", "CNPJ"}, out.SheetsUpdated)
	assert.Equal(t, "OCR_20250628_140509", out.ProcessID)
	assert.Equal(t, 2, out.Details["itens"].RowsAdded)
	assert.Equal(t, "CNPJ_12345678_ACME_Comércio_Ltda", out.Details["cnpj"].Table)

	header, rows, err := store.Rows(ctx, constants.SummaryTable)
	require.NoError(t, err)
	assert.Equal(t, SummaryHeaders, header)
	require.Len(t, rows, 1)
	assert.Equal(t, "nota.pdf", rows[0][2])

	_, items, err := store.Rows(ctx, constants.ItemsTable)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestPersist_PartialSuccessIsReported(t *testing.T) {
	store := &flakyStore{Store: newSQLite(t), failAppend: map[string]bool{constants.ItemsTable: true}}
	w := newWriter(t, store)

	out := w.Persist(context.Background(), sampleRecord(), "nota.pdf", "")
	assert.True(t, out.Success)
	assert.Equal(t, []string{"Resumo", "CNPJ"}, out.SheetsUpdated)
	assert.False(t, out.Details["itens"].Success)
	assert.Contains(t, out.Details["itens"].Error, "quota exceeded")

	_, rows, err := store.Rows(context.Background(), constants.SummaryTable)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestPersist_ShortTaxIDSkipsPerTaxIDTable(t *testing.T) {
	w := newWriter(t, newSQLite(t))
	rec := sampleRecord()
	rec.IssuerTaxID = entity.Str("123.456.789-00")
	rec.Items = nil

	out := w.Persist(context.Background(), rec, "nota.jpg", "")
	require.True(t, out.Success)
	assert.Equal(t, []string{"Resumo", "Itens"}, out.SheetsUpdated)
	assert.False(t, out.Details["cnpj"].Success)
	assert.Equal(t, 0, out.Details["itens"].RowsAdded)
}

func TestPersist_ExplicitTaxIDWins(t *testing.T) {
	w := newWriter(t, newSQLite(t))
	rec := sampleRecord()
	rec.IssuerTaxID = nil

	out := w.Persist(context.Background(), rec, "nota.pdf", "98765432000100")
	assert.Equal(t, "CNPJ_98765432_ACME_Comércio_Ltda", out.Details["cnpj"].Table)
}

func TestPersist_NilRecord(t *testing.T) {
	w := newWriter(t, newSQLite(t))
	out := w.Persist(context.Background(), nil, "nota.pdf", "")
	assert.False(t, out.Success)
	assert.Empty(t, out.SheetsUpdated)
	assert.NotEmpty(t, out.Error)
}

func TestPersist_ConcurrentFirstUseProvisionsOnce(t *testing.T) {
	store := &flakyStore{Store: newSQLite(t)}
	w := newWriter(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := w.Persist(context.Background(), sampleRecord(), "nota.pdf", "")
			assert.Len(t, out.SheetsUpdated, 3)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), store.created.Load())
	names, err := store.Tables(context.Background())
	require.NoError(t, err)
	assert.Len(t, names, 3)
	_, rows, err := store.Rows(context.Background(), "CNPJ_12345678_ACME_Comércio_Ltda")
	require.NoError(t, err)
	assert.Len(t, rows, 8)
}

func TestPersist_ProcessIDsAreUnique(t *testing.T) {
	w := newWriter(t, newSQLite(t))
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		out := w.Persist(context.Background(), sampleRecord(), fmt.Sprintf("n%d.pdf", i), "")
		assert.False(t, seen[out.ProcessID], out.ProcessID)
		seen[out.ProcessID] = true
	}
}

func TestRecentAndStats(t *testing.T) {
	w := newWriter(t, newSQLite(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rec := sampleRecord()
		rec.DocumentNumber = entity.Str(fmt.Sprint(i))
		rec.TotalValue = entity.Float(10.1)
		w.Persist(ctx, rec, "nota.pdf", "")
	}

	recent, err := w.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "2", recent[0]["Número Nota"])
	assert.Equal(t, "1", recent[1]["Número Nota"])

	st, err := w.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Invoices)
	assert.Equal(t, 6, st.Items)
	assert.InDelta(t, 30.3, st.TotalValueSum, 1e-9)
	assert.Equal(t, "28/06/2025 14:05:09", st.LastProcessed)
	assert.Equal(t, 1, st.TaxIDTables)
	assert.Equal(t, []string{"ACME_Comércio_Ltda"}, st.ActiveCompanies)
}

func TestTaxIDTables(t *testing.T) {
	w := newWriter(t, newSQLite(t))
	ctx := context.Background()
	require.NoError(t, w.EnsureHeaders(ctx))
	rec := sampleRecord()
	w.Persist(ctx, rec, "a.pdf", "")
	rec.IssuerName = entity.Str("Beta SA")
	w.Persist(ctx, rec, "b.pdf", "11111111000111")

	got, err := w.TaxIDTables(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, TaxIDTable{Name: "CNPJ_11111111_Beta_SA", TaxIDPrefix: "11111111", Company: "Beta_SA"}, got[0])
	assert.Equal(t, "12345678", got[1].TaxIDPrefix)
}
