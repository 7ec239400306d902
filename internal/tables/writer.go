package tables

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joseph-ayodele/nfe-ocr/constants"
	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/entity"
	"github.com/joseph-ayodele/nfe-ocr/internal/metrics"
)

// WriteResult is the outcome of one of the three table writes.
type WriteResult struct {
	Success   bool   `json:"success"`
	Table     string `json:"table,omitempty"`
	RowsAdded int    `json:"rows_added"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Outcome reports which tables received the record. Partial success is not rolled back.
type Outcome struct {
	Success       bool                   `json:"success"`
	ProcessID     string                 `json:"processing_id,omitempty"`
	SheetsUpdated []string               `json:"sheets_updated"`
	Details       map[string]WriteResult `json:"details,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// Writer persists records through a Store. Fixed tables are provisioned on first use;
// per-tax-ID tables are provisioned under a lock keyed by table name.
type Writer struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	ids     processIDs

	locks common.KeyedMutex
	mu    sync.RWMutex
	ready map[string]bool
}

type WriterOption func(*Writer)

func WithMetrics(m *metrics.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

func NewWriter(store Store, logger *slog.Logger, opts ...WriterOption) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{store: store, logger: logger, now: time.Now, ready: map[string]bool{}}
	for _, o := range opts {
		o(w)
	}
	return w
}

// ensure provisions a table once per process.
func (w *Writer) ensure(ctx context.Context, name string, headers []string) error {
	w.mu.RLock()
	ok := w.ready[name]
	w.mu.RUnlock()
	if ok {
		return nil
	}

	unlock := w.locks.Lock(name)
	defer unlock()

	w.mu.RLock()
	ok = w.ready[name]
	w.mu.RUnlock()
	if ok {
		return nil
	}

	created, err := w.store.EnsureTable(ctx, name, headers)
	if err != nil {
		return fmt.Errorf("ensure table %q: %w", name, err)
	}
	if created {
		w.logger.Info("tables.table.created", "table", name, "columns", len(headers))
	}
	w.mu.Lock()
	w.ready[name] = true
	w.mu.Unlock()
	return nil
}

// EnsureHeaders provisions the summary and items tables.
func (w *Writer) EnsureHeaders(ctx context.Context) error {
	return errors.Join(
		w.ensure(ctx, constants.SummaryTable, SummaryHeaders),
		w.ensure(ctx, constants.ItemsTable, ItemHeaders),
	)
}

// Persist writes rec to the summary, items and per-tax-ID tables. Each write is independent.
// taxID overrides the record's issuer tax ID when non-empty.
func (w *Writer) Persist(ctx context.Context, rec *entity.Record, filename, taxID string) Outcome {
	if rec == nil {
		return Outcome{SheetsUpdated: []string{}, Error: "no record to persist"}
	}
	start := time.Now()
	at := w.now()
	pid := w.ids.Next(at)
	log := common.LoggerFromContext(ctx, w.logger).With("processing_id", pid, "filename", filename)

	out := Outcome{ProcessID: pid, SheetsUpdated: []string{}, Details: map[string]WriteResult{}}

	out.Details["resumo"] = w.write(ctx, constants.SummaryTable, SummaryHeaders, [][]string{SummaryRow(pid, at, filename, rec)})
	if out.Details["resumo"].Success {
		out.SheetsUpdated = append(out.SheetsUpdated, constants.UpdatedSummary)
	}

	if items := ItemRows(pid, at, filename, rec); len(items) > 0 {
		out.Details["itens"] = w.write(ctx, constants.ItemsTable, ItemHeaders, items)
	} else {
		out.Details["itens"] = WriteResult{Success: true, Table: constants.ItemsTable, Message: "no items to write"}
	}
	if out.Details["itens"].Success {
		out.SheetsUpdated = append(out.SheetsUpdated, constants.UpdatedItems)
	}

	if taxID == "" {
		taxID = entity.Deref(rec.IssuerTaxID)
	}
	if name, ok := TaxIDTableName(taxID, entity.Deref(rec.IssuerName)); ok {
		out.Details["cnpj"] = w.write(ctx, name, TaxIDHeaders, [][]string{TaxIDRow(at, filename, rec)})
	} else {
		out.Details["cnpj"] = WriteResult{Message: "tax id unavailable or not 14 digits; no per-tax-id table"}
	}
	if out.Details["cnpj"].Success {
		out.SheetsUpdated = append(out.SheetsUpdated, constants.UpdatedTaxID)
	}

	out.Success = len(out.SheetsUpdated) > 0
	if !out.Success {
		out.Error = "no table was updated"
	}
	log.Info("tables.persist.done",
		"sheets_updated", strings.Join(out.SheetsUpdated, ","),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out
}

func (w *Writer) write(ctx context.Context, table string, headers []string, rows [][]string) WriteResult {
	res := WriteResult{Table: table}
	err := w.ensure(ctx, table, headers)
	if err == nil {
		err = w.store.Append(ctx, table, rows)
	}
	w.metrics.ObserveTableWrite(metricTable(table), err == nil)
	if err != nil {
		w.logger.Error("tables.append.error", "table", table, "error", err)
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.RowsAdded = len(rows)
	return res
}

func metricTable(name string) string {
	switch name {
	case constants.SummaryTable:
		return "summary"
	case constants.ItemsTable:
		return "items"
	}
	return "tax_id"
}

// Recent returns the last n non-blank summary rows, newest first, keyed by header.
func (w *Writer) Recent(ctx context.Context, n int) ([]map[string]string, error) {
	if err := w.ensure(ctx, constants.SummaryTable, SummaryHeaders); err != nil {
		return nil, err
	}
	header, rows, err := w.store.Rows(ctx, constants.SummaryTable)
	if err != nil {
		return nil, err
	}
	out := []map[string]string{}
	for i := len(rows) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if blank(rows[i]) {
			continue
		}
		out = append(out, rowMap(header, rows[i]))
	}
	return out, nil
}

// TaxIDTable describes one per-tax-ID table.
type TaxIDTable struct {
	Name        string `json:"worksheet_name"`
	TaxIDPrefix string `json:"cnpj"`
	Company     string `json:"empresa"`
}

// TaxIDTables lists per-tax-ID tables, sorted by name.
func (w *Writer) TaxIDTables(ctx context.Context) ([]TaxIDTable, error) {
	names, err := w.store.Tables(ctx)
	if err != nil {
		return nil, err
	}
	out := []TaxIDTable{}
	for _, n := range names {
		if !strings.HasPrefix(n, constants.TaxIDTablePrefix) {
			continue
		}
		parts := strings.SplitN(n, "_", 3)
		if len(parts) < 3 {
			continue
		}
		out = append(out, TaxIDTable{Name: n, TaxIDPrefix: parts[1], Company: parts[2]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Stats summarises the fixed tables.
type Stats struct {
	Invoices        int      `json:"total_notas"`
	TotalValueSum   float64  `json:"valor_total_sum"`
	LastProcessed   string   `json:"last_processed,omitempty"`
	Items           int      `json:"total_itens"`
	TaxIDTables     int      `json:"cnpj_worksheets"`
	ActiveCompanies []string `json:"empresas_ativas"`
}

func (w *Writer) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ActiveCompanies: []string{}}
	if err := w.EnsureHeaders(ctx); err != nil {
		return st, err
	}

	header, rows, err := w.store.Rows(ctx, constants.SummaryTable)
	if err != nil {
		return st, err
	}
	for _, r := range rows {
		if blank(r) {
			continue
		}
		m := rowMap(header, r)
		st.Invoices++
		st.LastProcessed = m["Data/Hora Processamento"]
		if v, err := strconv.ParseFloat(m["Valor Total"], 64); err == nil {
			st.TotalValueSum += v
		}
	}
	st.TotalValueSum = math.Round(st.TotalValueSum*100) / 100

	_, items, err := w.store.Rows(ctx, constants.ItemsTable)
	if err != nil {
		return st, err
	}
	for _, r := range items {
		if !blank(r) {
			st.Items++
		}
	}

	tt, err := w.TaxIDTables(ctx)
	if err != nil {
		return st, err
	}
	st.TaxIDTables = len(tt)
	for _, t := range tt {
		st.ActiveCompanies = append(st.ActiveCompanies, t.Company)
	}
	return st, nil
}
