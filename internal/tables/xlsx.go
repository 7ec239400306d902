package tables

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"
)

// maxSheetName is Excel's limit on worksheet titles.
const maxSheetName = 31

// XLSXStore keeps each table as a worksheet of one workbook, saved after every write.
// Worksheet titles are cut to 31 characters.
type XLSXStore struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	f    *excelize.File
	bold int
}

func OpenXLSX(path string, logger *slog.Logger) (*XLSXStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var f *excelize.File
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		f = excelize.NewFile()
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("xlsx dir: %w", err)
			}
		}
	} else {
		if f, err = excelize.OpenFile(path); err != nil {
			return nil, fmt.Errorf("open xlsx: %w", err)
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("xlsx style: %w", err)
	}
	logger.Info("tables.xlsx.ready", "path", path)
	return &XLSXStore{path: path, logger: logger, f: f, bold: bold}, nil
}

func sheetName(name string) string {
	r := []rune(name)
	if len(r) > maxSheetName {
		return string(r[:maxSheetName])
	}
	return name
}

func (s *XLSXStore) EnsureTable(_ context.Context, name string, headers []string) (bool, error) {
	sheet := sheetName(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, _ := s.f.GetSheetIndex(sheet); idx == -1 {
		if _, err := s.f.NewSheet(sheet); err != nil {
			return false, fmt.Errorf("new sheet: %w", err)
		}
		s.dropDefaultSheet(sheet)
		if err := s.writeHeader(sheet, headers); err != nil {
			return false, err
		}
		_ = s.f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
		_ = s.f.SetColWidth(sheet, "A", "Z", 18)
		return true, s.save()
	}

	rows, err := s.f.GetRows(sheet)
	if err != nil {
		return false, err
	}
	if len(rows) == 0 || len(rows[0]) < len(headers) {
		if err := s.writeHeader(sheet, headers); err != nil {
			return false, err
		}
		s.logger.Info("tables.header.rewritten", "table", name, "columns", len(headers))
		return false, s.save()
	}
	return false, nil
}

// dropDefaultSheet removes the untouched "Sheet1" of a new workbook once a real sheet exists.
func (s *XLSXStore) dropDefaultSheet(keep string) {
	const def = "Sheet1"
	if keep == def {
		return
	}
	if idx, _ := s.f.GetSheetIndex(def); idx == -1 {
		return
	}
	if rows, _ := s.f.GetRows(def); len(rows) == 0 {
		_ = s.f.DeleteSheet(def)
	}
}

func (s *XLSXStore) writeHeader(sheet string, headers []string) error {
	if err := s.f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return s.f.SetRowStyle(sheet, 1, 1, s.bold)
}

func (s *XLSXStore) Append(_ context.Context, name string, rows [][]string) error {
	start := time.Now()
	sheet := sheetName(name)
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read sheet: %w", err)
	}
	next := len(existing) + 1
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, next+i)
		if err := s.f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	if err := s.save(); err != nil {
		return err
	}
	s.logger.Debug("tables.xlsx.appended",
		"table", name,
		"rows", len(rows),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *XLSXStore) Rows(_ context.Context, name string) ([]string, [][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.f.GetRows(sheetName(name))
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}
	return rows[0], rows[1:], nil
}

func (s *XLSXStore) Tables(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.GetSheetList(), nil
}

func (s *XLSXStore) save() error {
	if err := s.f.SaveAs(s.path); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func (s *XLSXStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
