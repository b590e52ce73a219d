package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses. RUNNING transitions to exactly one terminal status.
const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// IsTerminal reports whether s ends a run.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// Pipeline names recorded on runs.
const (
	PipelineIngest         = "ingest"
	PipelineClean          = "clean"
	PipelineCurate         = "curate"
	PipelineServe          = "serve"
	PipelineBuildIdentity  = "build_identity"
	PipelineExportAudience = "export_audience"
	PipelineGDPRDelete     = "gdpr_delete"
)

// ErrRunFinalized is returned when finishing a run that already reached a
// terminal status.
var ErrRunFinalized = errors.New("run already finalized")

// ErrNotFound is returned when a ledger record does not exist.
var ErrNotFound = errors.New("not found")

// Run is one pipeline invocation.
type Run struct {
	RunID      string     `json:"run_id"`
	Pipeline   string     `json:"pipeline"`
	Status     RunStatus  `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	InputRef   string     `json:"input_ref"`
	OutputRef  string     `json:"output_ref"`
	Details    string     `json:"details"`
}

// RunFilter narrows ListRuns. Zero fields are ignored.
type RunFilter struct {
	Pipeline string
	Status   RunStatus
	Limit    int
}

// RunCount is the number of runs per pipeline and status.
type RunCount struct {
	Pipeline string
	Status   RunStatus
	Count    int64
}

const runColumns = `run_id, pipeline, status, started_at, finished_at, input_ref, output_ref, details`

// StartRun creates a RUNNING record and returns its fresh identifier.
func (l *Ledger) StartRun(ctx context.Context, pipeline, inputRef string) (string, error) {
	if l.db == nil {
		return "", errNotOpened()
	}

	runID := generateID()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO audit_runs (`+runColumns+`) VALUES (?, ?, ?, ?, '', ?, '', '')`,
		runID, pipeline, string(RunStatusRunning), l.timestamp(), inputRef,
	)
	if err != nil {
		return "", fmt.Errorf("failed to start run: %w", err)
	}

	l.logger.Debug("run started", "run_id", runID, "pipeline", pipeline, "input_ref", inputRef)
	return runID, nil
}

// FinishRun moves a RUNNING run to a terminal status. Finishing an unknown run
// is a logged no-op so that cleanup paths never crash; finishing an already
// terminal run returns ErrRunFinalized.
func (l *Ledger) FinishRun(ctx context.Context, runID string, status RunStatus, outputRef, details string) error {
	if l.db == nil {
		return errNotOpened()
	}
	if !status.IsTerminal() {
		return fmt.Errorf("cannot finish run %s with non-terminal status %q", runID, status)
	}

	result, err := l.db.ExecContext(ctx,
		`UPDATE audit_runs SET status = ?, finished_at = ?, output_ref = ?, details = ?
		 WHERE run_id = ? AND status = ?`,
		string(status), l.timestamp(), outputRef, details, runID, string(RunStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		l.logger.Debug("run finished", "run_id", runID, "status", status)
		return nil
	}

	var current string
	err = l.db.QueryRowContext(ctx, `SELECT status FROM audit_runs WHERE run_id = ?`, runID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		l.logger.Warn("finish for unknown run ignored", "run_id", runID, "status", status)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up run %s: %w", runID, err)
	}

	return fmt.Errorf("%w: run %s is %s", ErrRunFinalized, runID, current)
}

// GetRun retrieves a run by ID.
func (l *Ledger) GetRun(ctx context.Context, runID string) (*Run, error) {
	if l.db == nil {
		return nil, errNotOpened()
	}

	row := l.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM audit_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (l *Ledger) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	if l.db == nil {
		return nil, errNotOpened()
	}

	var where []string
	var args []any
	if filter.Pipeline != "" {
		where = append(where, "pipeline = ?")
		args = append(args, filter.Pipeline)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + runColumns + ` FROM audit_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountRunsByStatus aggregates runs per pipeline and status.
func (l *Ledger) CountRunsByStatus(ctx context.Context) ([]RunCount, error) {
	if l.db == nil {
		return nil, errNotOpened()
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT pipeline, status, COUNT(*) FROM audit_runs GROUP BY pipeline, status ORDER BY pipeline, status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []RunCount
	for rows.Next() {
		var c RunCount
		var status string
		if err := rows.Scan(&c.Pipeline, &status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan run count: %w", err)
		}
		c.Status = RunStatus(status)
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var run Run
	var status, startedAt, finishedAt string
	if err := s.Scan(&run.RunID, &run.Pipeline, &status, &startedAt, &finishedAt,
		&run.InputRef, &run.OutputRef, &run.Details); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseOptionalTime(finishedAt)
	return &run, nil
}
