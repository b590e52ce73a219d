package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ExportRecord is one controlled re-identification export. The ledger row and
// the evidence document are both rendered from this value.
type ExportRecord struct {
	ExportID        string `json:"export_id"`
	RunID           string `json:"run_id"`
	RequestedByRole string `json:"requested_by_role"`
	Dt              string `json:"dt"`
	MinEvents       int    `json:"min_events"`
	Rows            int64  `json:"rows"`
	OutputPath      string `json:"output_path"`
	CreatedAt       string `json:"created_at"`
	Notes           string `json:"notes,omitempty"`
}

const exportColumns = `export_id, requested_by_role, dt, min_events, output_path, created_at, "rows"`

// RecordExport inserts the ledger row for an export. Recording the same
// export_id again is a no-op so that crash recovery can replay it.
func (l *Ledger) RecordExport(ctx context.Context, rec ExportRecord) error {
	if l.db == nil {
		return errNotOpened()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO activation_exports (`+exportColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(export_id) DO NOTHING`,
		rec.ExportID, rec.RequestedByRole, rec.Dt, rec.MinEvents, rec.OutputPath, rec.CreatedAt, rec.Rows,
	)
	if err != nil {
		return fmt.Errorf("failed to record export: %w", err)
	}
	return nil
}

// GetExport retrieves an export row by ID. RunID and Notes are evidence-only
// and left empty.
func (l *Ledger) GetExport(ctx context.Context, exportID string) (*ExportRecord, error) {
	if l.db == nil {
		return nil, errNotOpened()
	}

	row := l.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM activation_exports WHERE export_id = ?`, exportID)
	rec, err := scanExport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("export %s: %w", exportID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get export: %w", err)
	}
	return rec, nil
}

// HasExport reports whether a ledger row exists for exportID.
func (l *Ledger) HasExport(ctx context.Context, exportID string) (bool, error) {
	if l.db == nil {
		return false, errNotOpened()
	}

	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activation_exports WHERE export_id = ?`, exportID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check export: %w", err)
	}
	return n > 0, nil
}

// ListExports returns export rows newest first.
func (l *Ledger) ListExports(ctx context.Context) ([]*ExportRecord, error) {
	if l.db == nil {
		return nil, errNotOpened()
	}

	rows, err := l.db.QueryContext(ctx, `SELECT `+exportColumns+` FROM activation_exports ORDER BY created_at DESC, export_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*ExportRecord
	for rows.Next() {
		rec, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanExport(s rowScanner) (*ExportRecord, error) {
	var rec ExportRecord
	if err := s.Scan(&rec.ExportID, &rec.RequestedByRole, &rec.Dt, &rec.MinEvents,
		&rec.OutputPath, &rec.CreatedAt, &rec.Rows); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ExportTotals returns the number of exports and the rows they released.
func (l *Ledger) ExportTotals(ctx context.Context) (exports, rows int64, err error) {
	if l.db == nil {
		return 0, 0, errNotOpened()
	}

	err = l.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM("rows"), 0) FROM activation_exports`).Scan(&exports, &rows)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to total exports: %w", err)
	}
	return exports, rows, nil
}
