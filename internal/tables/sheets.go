package tables

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

// SheetsStore maps each table to a worksheet of one Google spreadsheet.
type SheetsStore struct {
	svc    *sheets.Service
	id     string
	logger *slog.Logger
}

func NewSheets(ctx context.Context, spreadsheetID string, logger *slog.Logger, opts ...option.ClientOption) (*SheetsStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spreadsheetID == "" {
		return nil, common.NewAppError(common.CodeConfig, "GOOGLE_SHEETS_SPREADSHEET_ID is required", common.ErrValidation)
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "create sheets service", err)
	}
	return &SheetsStore{svc: svc, id: spreadsheetID, logger: logger}, nil
}

// a1 quotes a worksheet title for A1 notation.
func a1(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func cells(row []string) []any {
	out := make([]any, len(row))
	for i, c := range row {
		out[i] = c
	}
	return out
}

func (s *SheetsStore) titles(ctx context.Context) ([]string, error) {
	ss, err := s.svc.Spreadsheets.Get(s.id).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet: %w", err)
	}
	out := make([]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			out = append(out, sh.Properties.Title)
		}
	}
	return out, nil
}

func (s *SheetsStore) EnsureTable(ctx context.Context, name string, headers []string) (bool, error) {
	titles, err := s.titles(ctx)
	if err != nil {
		return false, err
	}
	exists := false
	for _, t := range titles {
		if t == name {
			exists = true
			break
		}
	}

	if !exists {
		cols := int64(len(headers))
		if cols < 26 {
			cols = 26
		}
		req := &sheets.BatchUpdateSpreadsheetRequest{Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{
				Title: name,
				GridProperties: &sheets.GridProperties{
					RowCount:       1000,
					ColumnCount:    cols,
					FrozenRowCount: 1,
				},
			}},
		}}}
		if _, err := s.svc.Spreadsheets.BatchUpdate(s.id, req).Context(ctx).Do(); err != nil {
			return false, fmt.Errorf("add sheet: %w", err)
		}
		return true, s.writeHeader(ctx, name, headers)
	}

	vr, err := s.svc.Spreadsheets.Values.Get(s.id, a1(name)+"!1:1").Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("read header: %w", err)
	}
	if len(vr.Values) == 0 || len(vr.Values[0]) < len(headers) {
		s.logger.Info("tables.header.rewritten", "table", name, "columns", len(headers))
		return false, s.writeHeader(ctx, name, headers)
	}
	return false, nil
}

func (s *SheetsStore) writeHeader(ctx context.Context, name string, headers []string) error {
	vr := &sheets.ValueRange{Values: [][]any{cells(headers)}}
	_, err := s.svc.Spreadsheets.Values.Update(s.id, a1(name)+"!A1", vr).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

func (s *SheetsStore) Append(ctx context.Context, name string, rows [][]string) error {
	start := time.Now()
	vr := &sheets.ValueRange{Values: make([][]any, len(rows))}
	for i, r := range rows {
		vr.Values[i] = cells(r)
	}
	_, err := s.svc.Spreadsheets.Values.Append(s.id, a1(name)+"!A1", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append rows: %w", err)
	}
	s.logger.Debug("tables.sheets.appended", "table", name, "rows", len(rows), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *SheetsStore) Rows(ctx context.Context, name string) ([]string, [][]string, error) {
	vr, err := s.svc.Spreadsheets.Values.Get(s.id, a1(name)).Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(vr.Values) == 0 {
		return nil, nil, nil
	}
	all := make([][]string, len(vr.Values))
	for i, r := range vr.Values {
		all[i] = make([]string, len(r))
		for j, c := range r {
			all[i][j] = fmt.Sprint(c)
		}
	}
	return all[0], all[1:], nil
}

func (s *SheetsStore) Tables(ctx context.Context) ([]string, error) {
	return s.titles(ctx)
}

func (s *SheetsStore) Close() error { return nil }
