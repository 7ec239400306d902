package tables

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
)

type dialect struct {
	name    string
	autoinc string
	ph      func(n int) string
}

var (
	sqliteDialect = dialect{
		name:    "sqlite",
		autoinc: "INTEGER PRIMARY KEY AUTOINCREMENT",
		ph:      func(int) string { return "?" },
	}
	postgresDialect = dialect{
		name:    "postgres",
		autoinc: "BIGSERIAL PRIMARY KEY",
		ph:      func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

// SQLStore keeps every logical table in two physical tables: a catalog of names and
// headers, and a row log holding each row's cells as a JSON array.
type SQLStore struct {
	db     *sql.DB
	pool   *pgxpool.Pool
	d      dialect
	logger *slog.Logger
}

// OpenSQLite opens (or creates) a SQLite database at path. ":memory:" is accepted.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a :memory: database exists per connection
	db.SetMaxOpenConns(1)
	s := &SQLStore{db: db, d: sqliteDialect, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("tables.sqlite.ready", "path", path)
	return s, nil
}

type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// OpenPostgres creates a pgx pool and exposes it through database/sql.
func OpenPostgres(ctx context.Context, cfg PostgresConfig, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "parse DB_URL", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "nfe-ocr"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("tables.postgres.connect_failed", "error", err)
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &SQLStore{db: stdlib.OpenDBFromPool(pool), pool: pool, d: postgresDialect, logger: logger}
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Info("tables.postgres.ready")
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nfe_tables (
			name TEXT PRIMARY KEY,
			headers TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS nfe_rows (
			id %s,
			table_name TEXT NOT NULL,
			cells TEXT NOT NULL
		)`, s.d.autoinc),
		`CREATE INDEX IF NOT EXISTS nfe_rows_table ON nfe_rows (table_name, id)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate %s: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *SQLStore) EnsureTable(ctx context.Context, name string, headers []string) (bool, error) {
	hb, err := json.Marshal(headers)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO nfe_tables (name, headers, created_at) VALUES (%s, %s, %s) ON CONFLICT (name) DO NOTHING`,
			s.d.ph(1), s.d.ph(2), s.d.ph(3)),
		name, string(hb), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("insert table: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	current, err := s.header(ctx, name)
	if err != nil {
		return false, err
	}
	if len(current) < len(headers) {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE nfe_tables SET headers = %s WHERE name = %s`, s.d.ph(1), s.d.ph(2)),
			string(hb), name,
		)
		if err != nil {
			return false, fmt.Errorf("update header: %w", err)
		}
		s.logger.Info("tables.header.rewritten", "table", name, "columns", len(headers))
	}
	return false, nil
}

func (s *SQLStore) header(ctx context.Context, name string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT headers FROM nfe_tables WHERE name = %s`, s.d.ph(1)), name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError(common.CodeNotFound, "table "+name, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var h []string
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func (s *SQLStore) Append(ctx context.Context, name string, rows [][]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf(`INSERT INTO nfe_rows (table_name, cells) VALUES (%s, %s)`, s.d.ph(1), s.d.ph(2)))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, name, string(b)); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Rows(ctx context.Context, name string) ([]string, [][]string, error) {
	header, err := s.header(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	rs, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT cells FROM nfe_rows WHERE table_name = %s ORDER BY id`, s.d.ph(1)), name)
	if err != nil {
		return nil, nil, err
	}
	defer rs.Close()

	var rows [][]string
	for rs.Next() {
		var raw string
		if err := rs.Scan(&raw); err != nil {
			return nil, nil, err
		}
		var r []string
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, nil, fmt.Errorf("decode row: %w", err)
		}
		rows = append(rows, r)
	}
	return header, rows, rs.Err()
}

func (s *SQLStore) Tables(ctx context.Context) ([]string, error) {
	rs, err := s.db.QueryContext(ctx, `SELECT name FROM nfe_tables ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()
	var out []string
	for rs.Next() {
		var n string
		if err := rs.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rs.Err()
}

func (s *SQLStore) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
