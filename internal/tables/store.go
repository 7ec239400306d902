// Package tables writes extracted invoices into a spreadsheet-like store: a summary table,
// an items table and one table per issuer tax ID.
package tables

import "context"

// Store is a named-table backend. Cells are plain strings; the first row of a table is its header.
type Store interface {
	// EnsureTable creates name when missing and rewrites its header when the stored one
	// is shorter than headers. It reports whether the table was created.
	EnsureTable(ctx context.Context, name string, headers []string) (bool, error)
	// Append adds rows after the last row of name.
	Append(ctx context.Context, name string, rows [][]string) error
	// Rows returns the header and data rows of name, oldest first.
	Rows(ctx context.Context, name string) (header []string, rows [][]string, err error)
	// Tables lists every table name.
	Tables(ctx context.Context) ([]string, error)
	Close() error
}
