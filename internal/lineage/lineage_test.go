package lineage

import (
	"context"
	"testing"
	"time"

	"github.com/leapstack-labs/lakegov/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) (*Log, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	log := NewLog(fsys, "/lake/warehouse/lineage.jsonl", testutil.NewTestLogger(t))
	log.now = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }
	return log, fsys
}

func TestLog_EmitAppendsWithoutDedup(t *testing.T) {
	log, fsys := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, log.Emit(ctx, "r1", "clean", "raw/events/dt=2026-01-02", "clean/events/dt=2026-01-02"))
	require.NoError(t, log.Emit(ctx, "r1", "clean", "raw/events/dt=2026-01-02", "clean/events/dt=2026-01-02"))

	edges, err := log.Edges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, edges[0], edges[1])
	assert.Equal(t, "r1", edges[0].RunID)
	assert.Equal(t, "clean", edges[0].Pipeline)

	data, err := afero.ReadFile(fsys, "/lake/warehouse/lineage.jsonl")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"from_ref":"raw/events/dt=2026-01-02"`)
	assert.Contains(t, string(data), `"at":"2026-01-02T00:00:00Z"`)
}

func TestLog_EdgesMissingFile(t *testing.T) {
	log, _ := newTestLog(t)

	edges, err := log.Edges(context.Background())
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestLog_EdgesCorruptLine(t *testing.T) {
	log, fsys := newTestLog(t)
	require.NoError(t, afero.WriteFile(fsys, log.Path(), []byte("{\"run_id\":\"r1\"}\nnot-json\n"), 0o644))

	_, err := log.Edges(context.Background())
	assert.ErrorContains(t, err, "line 2")
}

func TestIndex_Queries(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	edges := [][4]string{
		{"r1", "ingest", "landing/events.jsonl", "raw/events/dt=d/source=app"},
		{"r2", "clean", "raw/events/dt=d/source=app", "clean/events/dt=d"},
		{"r3", "curate", "clean/events/dt=d", "curated/facts/dt=d"},
		{"r4", "serve", "curated/facts/dt=d", "serving/user_metrics/dt=d"},
		{"r5", "build_identity", "raw/events/dt=d/source=app", "restricted_pii/identity/dt=d"},
		{"r6", "gdpr_delete", "user_id=u1", "warehouse/gdpr_evidence/req.json"},
	}
	for _, e := range edges {
		require.NoError(t, log.Emit(ctx, e[0], e[1], e[2], e[3]))
	}

	idx, err := log.Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, idx.Len())

	tests := []struct {
		name string
		got  []Edge
		runs []string
	}{
		{name: "by to", got: idx.ByTo("clean/events/dt=d"), runs: []string{"r2"}},
		{name: "by from", got: idx.ByFrom("raw/events/dt=d/source=app"), runs: []string{"r2", "r5"}},
		{name: "by from unknown", got: idx.ByFrom("nowhere"), runs: nil},
		{name: "prefix", got: idx.WithPrefix("raw/"), runs: []string{"r1", "r2", "r5"}},
		{name: "prefix curated", got: idx.WithPrefix("curated/facts"), runs: []string{"r3", "r4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var runs []string
			for _, e := range tt.got {
				runs = append(runs, e.RunID)
			}
			assert.Equal(t, tt.runs, runs)
		})
	}

	assert.Equal(t, []string{
		"clean/events/dt=d",
		"curated/facts/dt=d",
		"landing/events.jsonl",
		"raw/events/dt=d/source=app",
	}, idx.Upstream("serving/user_metrics/dt=d"))

	assert.Equal(t, []string{"landing/events.jsonl", "user_id=u1"}, idx.Roots())
}

func TestIndex_UpstreamHandlesCycles(t *testing.T) {
	idx := NewIndex([]Edge{
		{RunID: "a", FromRef: "x", ToRef: "y"},
		{RunID: "b", FromRef: "y", ToRef: "x"},
	})

	assert.Equal(t, []string{"y"}, idx.Upstream("x"))
	assert.Empty(t, idx.Roots())
}
