package lake

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/lakegov/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout_Paths(t *testing.T) {
	l := NewLayout("/lake")

	assert.Equal(t, "/lake/landing/events.jsonl", l.LandingEvents())
	assert.Equal(t, "/lake/raw/events/dt=2026-01-02/source=app/part-00001.jsonl", l.RawPartition("2026-01-02", "app"))
	assert.Equal(t, "/lake/quarantine/events/dt=2026-01-02/reason=MISSING_EVENT_ID/part-00001.jsonl",
		l.QuarantinePartition("2026-01-02", ReasonMissingID))

	tests := []struct {
		ds   Dataset
		want string
	}{
		{CleanEvents, "/lake/clean/events/dt=d/part-00001.parquet"},
		{CuratedFacts, "/lake/curated/facts/dt=d/fact_user_activity_daily.parquet"},
		{ServingMetrics, "/lake/serving/user_metrics/dt=d/user_metrics.parquet"},
		{Identity, "/lake/restricted_pii/identity/dt=d/identity.parquet"},
		{Audience, "/lake/exports/audience/dt=d/audience.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.ds.Name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.Partition(tt.ds, "d"))
		})
	}
}

func TestLayout_Partitions(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)

	parts, err := l.Partitions(CleanEvents, "")
	require.NoError(t, err)
	assert.Empty(t, parts, "missing layer directory yields no partitions")

	for _, dt := range []string{"2026-01-02", "2026-01-01"} {
		testutil.WriteFile(t, l.Partition(CleanEvents, dt), "x")
	}
	require.NoError(t, os.MkdirAll(filepath.Join(root, "clean", "events", "dt=2026-01-03"), 0o755))

	parts, err = l.Partitions(CleanEvents, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		l.Partition(CleanEvents, "2026-01-01"),
		l.Partition(CleanEvents, "2026-01-02"),
	}, parts)

	parts, err = l.Partitions(CleanEvents, "2026-01-02")
	require.NoError(t, err)
	assert.Equal(t, []string{l.Partition(CleanEvents, "2026-01-02")}, parts)

	parts, err = l.Partitions(CleanEvents, "2026-01-03")
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestErasableDatasetsExcludeRaw(t *testing.T) {
	for _, ds := range ErasableDatasets {
		assert.NotEqual(t, "raw", string(ds.Layer))
	}
	assert.Len(t, ErasableDatasets, 4)
}

func TestTable_Exclude(t *testing.T) {
	tbl := NewTable(Column{"user_id", "VARCHAR"}, Column{"events", "BIGINT"})
	tbl.Append("u1", int64(2))
	tbl.Append("u2", int64(1))
	tbl.Append("u1", int64(5))

	tests := []struct {
		name     string
		column   string
		value    string
		removed  int
		wantRows int
	}{
		{name: "drops matching rows", column: "user_id", value: "u1", removed: 2, wantRows: 1},
		{name: "no match", column: "user_id", value: "u9", removed: 0, wantRows: 3},
		{name: "missing column", column: "email", value: "u1", removed: 0, wantRows: 3},
		{name: "compares string form", column: "events", value: "5", removed: 1, wantRows: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, removed := tbl.Exclude(tt.column, tt.value)
			assert.Equal(t, tt.removed, removed)
			assert.Equal(t, tt.wantRows, out.Len())
		})
	}

	assert.Equal(t, 3, tbl.Len(), "source table untouched")
	assert.True(t, tbl.HasColumn("events"))
	assert.False(t, tbl.HasColumn("email"))
	assert.Equal(t, []any{"u1", "u2", "u1"}, tbl.Column("user_id"))
	assert.Nil(t, tbl.Column("email"))
}

func TestLocker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part.parquet")
	a := NewLocker("erasure")
	b := NewLocker("clean")

	release, err := a.Acquire(path)
	require.NoError(t, err)
	assert.FileExists(t, LockPath(path))

	_, err = b.Acquire(path)
	var locked *PartitionLocked
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, path, locked.Path)
	assert.Contains(t, locked.Holder, "erasure")

	require.NoError(t, release())
	assert.NoFileExists(t, LockPath(path))

	release, err = b.Acquire(path)
	require.NoError(t, err)
	require.NoError(t, release())
	require.NoError(t, release(), "double release is harmless")
}

func TestLocker_CreatesPartitionDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clean", "events", "dt=2026-01-02", "part-00001.parquet")

	release, err := NewLocker("clean").Acquire(path)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Dir(path))
	assert.FileExists(t, LockPath(path))
	require.NoError(t, release())
}

func TestLocker_StaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "part.parquet")
	testutil.WriteFile(t, LockPath(path), "pid 1 at 2026-01-01T00:00:00Z\n")
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(LockPath(path), old, old))

	tests := []struct {
		name       string
		staleAfter time.Duration
		wantLocked bool
	}{
		{name: "never broken by default", staleAfter: 0, wantLocked: true},
		{name: "younger than stale age", staleAfter: 3 * time.Hour, wantLocked: true},
		{name: "older than stale age", staleAfter: time.Hour, wantLocked: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release, err := NewLocker("erasure").WithStaleAfter(tt.staleAfter).Acquire(path)
			if tt.wantLocked {
				var locked *PartitionLocked
				require.ErrorAs(t, err, &locked)
				assert.Equal(t, "pid 1 at 2026-01-01T00:00:00Z", locked.Holder)
				assert.ErrorContains(t, err, "remove "+LockPath(path))
				return
			}
			require.NoError(t, err)
			holder, err := os.ReadFile(LockPath(path))
			require.NoError(t, err)
			assert.Contains(t, string(holder), "erasure")
			require.NoError(t, release())
		})
	}
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "file.jsonl")

	require.NoError(t, WriteFileAtomic(path, []byte("one\n")))
	require.NoError(t, WriteFileAtomic(path, []byte("two\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(context.Background(), testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_ParquetRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "curated", "facts", "dt=d", "fact_user_activity_daily.parquet")

	tbl := NewTable(
		Column{"dt", "VARCHAR"},
		Column{"user_id", "VARCHAR"},
		Column{"events", "BIGINT"},
	)
	tbl.Append("d", "u1", int64(2))
	tbl.Append("d", "u2", int64(1))
	require.NoError(t, store.Write(ctx, path, tbl))

	got, err := store.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"dt", "user_id", "events"}, columnNames(got))
	assert.Equal(t, "BIGINT", got.Columns[2].Type)
	assert.Equal(t, tbl.Rows, got.Rows)

	filtered, removed := got.Exclude("user_id", "u1")
	require.Equal(t, 1, removed)
	require.NoError(t, store.Write(ctx, path, filtered))

	got, err = store.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"d", "u2", int64(1)}}, got.Rows)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "rename swap leaves only the partition")
}

func TestStore_DatePartitionKeepsSchema(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	root := t.TempDir()

	tests := []struct {
		name string
		path string
		cols []Column
		row  []any
	}{
		{
			name: "parquet without dt column",
			path: filepath.Join(root, "clean", "events", "dt=2026-01-02", "part-00001.parquet"),
			cols: []Column{{"event_id", "VARCHAR"}, {"user_id", "VARCHAR"}},
			row:  []any{"e1", "u1"},
		},
		{
			name: "parquet with string dt column",
			path: filepath.Join(root, "curated", "facts", "dt=2026-01-02", "fact_user_activity_daily.parquet"),
			cols: []Column{{"dt", "VARCHAR"}, {"user_id", "VARCHAR"}, {"events", "BIGINT"}},
			row:  []any{"2026-01-02", "u1", int64(2)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := NewTable(tt.cols...)
			tbl.Append(tt.row...)
			require.NoError(t, store.Write(ctx, tt.path, tbl))

			got, err := store.Read(ctx, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.cols, got.Columns)
			assert.Equal(t, [][]any{tt.row}, got.Rows)

			require.NoError(t, store.Write(ctx, tt.path, got))
			again, err := store.Read(ctx, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.cols, again.Columns, "rewrite keeps the partition schema")
		})
	}
}

func TestStore_EmptyTableKeepsSchema(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "identity.parquet")

	require.NoError(t, store.Write(ctx, path, NewTable(Column{"user_id", "VARCHAR"}, Column{"email", "VARCHAR"})))

	got, err := store.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
	assert.True(t, got.HasColumn("user_id"))
}

func TestStore_CSV(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audience.csv")

	tbl := NewTable(Column{"dt", "VARCHAR"}, Column{"min_events", "BIGINT"}, Column{"user_id", "VARCHAR"}, Column{"email", "VARCHAR"})
	tbl.Append("2026-01-02", int64(2), "u1", "u1@example.com")
	require.NoError(t, store.Write(ctx, path, tbl))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "dt,min_events,user_id,email\n2026-01-02,2,u1,u1@example.com\n", string(data))
}

func TestStore_Errors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()

	garbage := filepath.Join(dir, "bad.parquet")
	require.NoError(t, os.WriteFile(garbage, []byte("not parquet"), 0o644))
	_, err := store.Read(ctx, garbage)
	assert.ErrorContains(t, err, "failed to read")

	_, err = store.Read(ctx, filepath.Join(dir, "x.txt"))
	assert.ErrorContains(t, err, "unsupported partition format")

	err = store.Write(ctx, filepath.Join(dir, "y.parquet"), &Table{})
	assert.ErrorContains(t, err, "no columns")
}

func TestLiteral(t *testing.T) {
	assert.Equal(t, "'it''s'", Literal("it's"))
}

func columnNames(t *Table) []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}
