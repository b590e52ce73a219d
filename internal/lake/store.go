package lake

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Store reads and writes partition files through an in-process DuckDB
// connection. Parquet and CSV are supported, chosen by file extension.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenStore starts an in-memory DuckDB instance.
func OpenStore(ctx context.Context, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close shuts the DuckDB instance down.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Debug("closing partition store")
		return s.db.Close()
	}
	return nil
}

// Literal quotes s as a SQL string literal.
func Literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func ident(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Source returns the table expression that scans the file at path. Hive
// partition detection is off: the dt=<date> directory is layout, not data,
// and must not surface as a column.
func Source(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return "read_parquet(" + Literal(path) + ", hive_partitioning=false)", nil
	case ".csv":
		return "read_csv_auto(" + Literal(path) + ", header=true, hive_partitioning=false)", nil
	default:
		return "", fmt.Errorf("unsupported partition format: %s", path)
	}
}

func copyOptions(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return "(FORMAT PARQUET)", nil
	case ".csv":
		return "(FORMAT CSV, HEADER)", nil
	default:
		return "", fmt.Errorf("unsupported partition format: %s", path)
	}
}

// Read loads the whole partition file at path.
func (s *Store) Read(ctx context.Context, path string) (*Table, error) {
	src, err := Source(path)
	if err != nil {
		return nil, err
	}
	t, err := s.Query(ctx, "SELECT * FROM "+src)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return t, nil
}

// Query runs a statement and materializes its result.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*Table, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}
	t := &Table{Columns: make([]Column, len(types))}
	for i, ct := range types {
		typ := ct.DatabaseTypeName()
		if typ == "" {
			typ = "VARCHAR"
		}
		t.Columns[i] = Column{Name: ct.Name(), Type: typ}
	}

	for rows.Next() {
		values := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		t.Rows = append(t.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return t, nil
}

// Write persists t at path. The file is staged as a hidden sibling, synced
// and renamed over the target, so readers see either the old or the new
// partition and never a partial one.
func (s *Store) Write(ctx context.Context, path string, t *Table) error {
	if s.db == nil {
		return fmt.Errorf("database connection not established")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("cannot write %s: table has no columns", path)
	}
	opts, err := copyOptions(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create partition directory: %w", err)
	}

	// Temp tables are scoped to a connection.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stage := ident("stage_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
	defs := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = ident(c.Name) + " " + c.Type
		marks[i] = "?"
	}

	if _, err := conn.ExecContext(ctx, "CREATE TEMP TABLE "+stage+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return fmt.Errorf("failed to create staging table: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.WithoutCancel(ctx), "DROP TABLE IF EXISTS "+stage) }()

	if err := insertRows(ctx, conn, stage, marks, t.Rows); err != nil {
		return err
	}

	tmp := tempSibling(path)
	if _, err := conn.ExecContext(ctx, "COPY "+stage+" TO "+Literal(tmp)+" "+opts); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := replace(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	s.logger.Debug("partition written", "path", path, "rows", len(t.Rows))
	return nil
}

func insertRows(ctx context.Context, conn *sql.Conn, stage string, marks []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+stage+" VALUES ("+strings.Join(marks, ", ")+")")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to stage row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit staged rows: %w", err)
	}
	return nil
}
