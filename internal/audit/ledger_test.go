package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/lakegov/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger := NewLedger(testutil.NewTestLogger(t))
	require.NoError(t, ledger.Open(filepath.Join(t.TempDir(), "governance.db")))
	require.NoError(t, ledger.Migrate())
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

// steppedClock returns a clock that advances one second per call so that
// ordering by timestamp is deterministic.
func steppedClock() func() time.Time {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestLedger_MigrateIsIdempotent(t *testing.T) {
	ledger := setupTestLedger(t)

	require.NoError(t, ledger.Migrate())
	require.NoError(t, ledger.Migrate())

	version, err := ledger.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	for _, table := range []string{"audit_runs", "gdpr_requests", "activation_exports"} {
		rows, err := ledger.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		require.NoError(t, err, "table %s should exist", table)
		_ = rows.Close()
	}
}

func TestLedger_NotOpened(t *testing.T) {
	ledger := NewLedger(nil)
	ctx := context.Background()

	_, err := ledger.StartRun(ctx, PipelineIngest, "x")
	assert.ErrorContains(t, err, "not opened")
	assert.ErrorContains(t, ledger.FinishRun(ctx, "id", RunStatusSuccess, "", ""), "not opened")
	assert.ErrorContains(t, ledger.Migrate(), "not opened")
	assert.NoError(t, ledger.Close())
}

func TestLedger_RunLifecycle(t *testing.T) {
	tests := []struct {
		name    string
		status  RunStatus
		output  string
		details string
	}{
		{name: "success", status: RunStatusSuccess, output: "clean/events/dt=2026-01-02/part-00001.parquet", details: ""},
		{name: "failed", status: RunStatusFailed, output: "", details: "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := setupTestLedger(t)
			ctx := context.Background()

			runID, err := ledger.StartRun(ctx, PipelineClean, "raw/events/dt=2026-01-02")
			require.NoError(t, err)
			require.NotEmpty(t, runID)

			run, err := ledger.GetRun(ctx, runID)
			require.NoError(t, err)
			assert.Equal(t, RunStatusRunning, run.Status)
			assert.Equal(t, PipelineClean, run.Pipeline)
			assert.Equal(t, "raw/events/dt=2026-01-02", run.InputRef)
			assert.Nil(t, run.FinishedAt)
			assert.False(t, run.StartedAt.IsZero())

			require.NoError(t, ledger.FinishRun(ctx, runID, tt.status, tt.output, tt.details))

			run, err = ledger.GetRun(ctx, runID)
			require.NoError(t, err)
			assert.Equal(t, tt.status, run.Status)
			assert.Equal(t, tt.output, run.OutputRef)
			assert.Equal(t, tt.details, run.Details)
			require.NotNil(t, run.FinishedAt)
		})
	}
}

func TestLedger_RunIDsAreUnique(t *testing.T) {
	ledger := setupTestLedger(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for range 20 {
		id, err := ledger.StartRun(ctx, PipelineIngest, "landing/events.jsonl")
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate run id %s", id)
		seen[id] = true
	}
}

func TestLedger_FinishUnknownRunIsNoop(t *testing.T) {
	ledger := setupTestLedger(t)

	err := ledger.FinishRun(context.Background(), "does-not-exist", RunStatusSuccess, "", "")
	assert.NoError(t, err)

	runs, err := ledger.ListRuns(context.Background(), RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestLedger_FinalizedRunNeverChanges(t *testing.T) {
	ledger := setupTestLedger(t)
	ctx := context.Background()

	runID, err := ledger.StartRun(ctx, PipelineServe, "curated")
	require.NoError(t, err)
	require.NoError(t, ledger.FinishRun(ctx, runID, RunStatusSuccess, "serving", ""))

	err = ledger.FinishRun(ctx, runID, RunStatusFailed, "", "late failure")
	require.ErrorIs(t, err, ErrRunFinalized)

	// The store itself refuses to revert a terminal run.
	_, err = ledger.db.Exec(`UPDATE audit_runs SET status = 'RUNNING' WHERE run_id = ?`, runID)
	assert.ErrorContains(t, err, "finalized")

	_, err = ledger.db.Exec(`DELETE FROM audit_runs WHERE run_id = ?`, runID)
	assert.ErrorContains(t, err, "append-only")

	run, err := ledger.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, RunStatusSuccess, run.Status)
	assert.Equal(t, "serving", run.OutputRef)
}

func TestLedger_FinishRunRejectsNonTerminalStatus(t *testing.T) {
	ledger := setupTestLedger(t)
	ctx := context.Background()

	runID, err := ledger.StartRun(ctx, PipelineCurate, "clean")
	require.NoError(t, err)

	err = ledger.FinishRun(ctx, runID, RunStatusRunning, "", "")
	assert.ErrorContains(t, err, "non-terminal")
}

func TestLedger_ListRuns(t *testing.T) {
	ledger := setupTestLedger(t)
	ledger.now = steppedClock()
	ctx := context.Background()

	ingest, err := ledger.StartRun(ctx, PipelineIngest, "landing")
	require.NoError(t, err)
	clean, err := ledger.StartRun(ctx, PipelineClean, "raw")
	require.NoError(t, err)
	_, err = ledger.StartRun(ctx, PipelineClean, "raw")
	require.NoError(t, err)
	require.NoError(t, ledger.FinishRun(ctx, ingest, RunStatusSuccess, "raw", ""))
	require.NoError(t, ledger.FinishRun(ctx, clean, RunStatusFailed, "", "bad"))

	tests := []struct {
		name   string
		filter RunFilter
		want   int
	}{
		{name: "all", filter: RunFilter{}, want: 3},
		{name: "by pipeline", filter: RunFilter{Pipeline: PipelineClean}, want: 2},
		{name: "by status", filter: RunFilter{Status: RunStatusFailed}, want: 1},
		{name: "pipeline and status", filter: RunFilter{Pipeline: PipelineClean, Status: RunStatusRunning}, want: 1},
		{name: "limit", filter: RunFilter{Limit: 2}, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := ledger.ListRuns(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, runs, tt.want)
		})
	}

	runs, err := ledger.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Equal(t, PipelineClean, runs[0].Pipeline, "newest first")
	assert.Equal(t, ingest, runs[2].RunID)
}

func TestLedger_CountRunsByStatus(t *testing.T) {
	ledger := setupTestLedger(t)
	ctx := context.Background()

	for range 2 {
		id, err := ledger.StartRun(ctx, PipelineIngest, "landing")
		require.NoError(t, err)
		require.NoError(t, ledger.FinishRun(ctx, id, RunStatusSuccess, "raw", ""))
	}
	_, err := ledger.StartRun(ctx, PipelineGDPRDelete, "user_id=u1")
	require.NoError(t, err)

	counts, err := ledger.CountRunsByStatus(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []RunCount{
		{Pipeline: PipelineGDPRDelete, Status: RunStatusRunning, Count: 1},
		{Pipeline: PipelineIngest, Status: RunStatusSuccess, Count: 2},
	}, counts)
}

func TestLedger_GDPRRequestFulfilledOnce(t *testing.T) {
	ledger := setupTestLedger(t)
	ctx := context.Background()

	requestID, err := ledger.CreateGDPRRequest(ctx, "u1", ModeDelete)
	require.NoError(t, err)

	req, err := ledger.GetGDPRRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, GDPRStatusReceived, req.Status)
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, ModeDelete, req.Mode)

	tally := `{"clean_files":1,"curated_files":1,"serving_files":1,"identity_files":1}`
	require.NoError(t, ledger.FulfillGDPRRequest(ctx, requestID, tally))

	req, err = ledger.GetGDPRRequest(ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, GDPRStatusFulfilled, req.Status)
	assert.Equal(t, tally, req.Details)

	err = ledger.FulfillGDPRRequest(ctx, requestID, "{}")
	require.ErrorIs(t, err, ErrRequestFulfilled)

	counts, err := ledger.CountGDPRRequestsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{GDPRStatusFulfilled: 1}, counts)

	err = ledger.FulfillGDPRRequest(ctx, "missing", "{}")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = ledger.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = ledger.GetExport(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLedger_ListGDPRRequests(t *testing.T) {
	ledger := setupTestLedger(t)
	ledger.now = steppedClock()
	ctx := context.Background()

	for _, user := range []string{"u1", "u2", "u1"} {
		_, err := ledger.CreateGDPRRequest(ctx, user, ModeDelete)
		require.NoError(t, err)
	}

	all, err := ledger.ListGDPRRequests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "u1", all[0].UserID)

	u2, err := ledger.ListGDPRRequests(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, u2, 1)
	assert.Equal(t, "u2", u2[0].UserID)
}

func TestLedger_RecordExportIsIdempotent(t *testing.T) {
	ledger := setupTestLedger(t)
	ctx := context.Background()

	rec := ExportRecord{
		ExportID:        "exp-1",
		RunID:           "run-1",
		RequestedByRole: "activation",
		Dt:              "2026-01-02",
		MinEvents:       2,
		Rows:            1,
		OutputPath:      "exports/audience/dt=2026-01-02/audience.csv",
		CreatedAt:       "2026-01-02T03:04:05Z",
		Notes:           "evidence only",
	}
	require.NoError(t, ledger.RecordExport(ctx, rec))
	require.NoError(t, ledger.RecordExport(ctx, rec))

	got, err := ledger.GetExport(ctx, "exp-1")
	require.NoError(t, err)
	want := rec
	want.RunID = ""
	want.Notes = ""
	assert.Equal(t, &want, got)

	has, err := ledger.HasExport(ctx, "exp-1")
	require.NoError(t, err)
	assert.True(t, has)

	list, err := ledger.ListExports(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	exports, rows, err := ledger.ExportTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), exports)
	assert.Equal(t, int64(1), rows)

	_, err = ledger.db.Exec(`UPDATE activation_exports SET "rows" = 99 WHERE export_id = 'exp-1'`)
	assert.ErrorContains(t, err, "append-only")
}

func TestLedger_DatabaseErrors(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		run       func(l *Ledger) error
		errMsg    string
	}{
		{
			name: "start run insert fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO audit_runs").WillReturnError(assert.AnError)
			},
			run: func(l *Ledger) error {
				_, err := l.StartRun(context.Background(), PipelineIngest, "landing")
				return err
			},
			errMsg: "failed to start run",
		},
		{
			name: "finish run update fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE audit_runs").WillReturnError(assert.AnError)
			},
			run: func(l *Ledger) error {
				return l.FinishRun(context.Background(), "r1", RunStatusSuccess, "", "")
			},
			errMsg: "failed to finish run",
		},
		{
			name: "finish run lookup fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE audit_runs").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT status FROM audit_runs").WillReturnError(assert.AnError)
			},
			run: func(l *Ledger) error {
				return l.FinishRun(context.Background(), "r1", RunStatusSuccess, "", "")
			},
			errMsg: "failed to look up run r1",
		},
		{
			name: "finish run already terminal",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE audit_runs").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery("SELECT status FROM audit_runs").
					WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("FAILED"))
			},
			run: func(l *Ledger) error {
				return l.FinishRun(context.Background(), "r1", RunStatusSuccess, "", "")
			},
			errMsg: "run already finalized: run r1 is FAILED",
		},
		{
			name: "create gdpr request fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO gdpr_requests").WillReturnError(assert.AnError)
			},
			run: func(l *Ledger) error {
				_, err := l.CreateGDPRRequest(context.Background(), "u1", ModeDelete)
				return err
			},
			errMsg: "failed to create gdpr request",
		},
		{
			name: "record export fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO activation_exports").WillReturnError(assert.AnError)
			},
			run: func(l *Ledger) error {
				return l.RecordExport(context.Background(), ExportRecord{ExportID: "e1"})
			},
			errMsg: "failed to record export",
		},
		{
			name: "list runs fails",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* FROM audit_runs").WillReturnError(assert.AnError)
			},
			run: func(l *Ledger) error {
				_, err := l.ListRuns(context.Background(), RunFilter{})
				return err
			},
			errMsg: "failed to list runs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = db.Close() }()

			tt.setupMock(mock)
			ledger := NewLedger(testutil.NewTestLogger(t))
			ledger.OpenDB(db)

			err = tt.run(ledger)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
