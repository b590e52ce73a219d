package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/lakegov/internal/acl"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/config"
	"github.com/leapstack-labs/lakegov/internal/erasure"
	"github.com/leapstack-labs/lakegov/internal/export"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/leapstack-labs/lakegov/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	wh := filepath.Join(dir, "warehouse")
	return &config.Config{
		ProjectRoot:       dir,
		LakeRoot:          filepath.Join(dir, "data_lake"),
		WarehouseDir:      wh,
		AuditPath:         filepath.Join(wh, config.AuditFileName),
		LineagePath:       filepath.Join(wh, config.LineageFileName),
		GDPREvidenceDir:   filepath.Join(wh, config.GDPREvidenceDirName),
		ExportEvidenceDir: filepath.Join(wh, config.ExportEvidenceDirName),
		ExportStagingDir:  filepath.Join(wh, config.ExportStagingDirName),
		RolesPath:         testutil.WritePolicy(t, filepath.Join(dir, "configs")),
		PIISecret:         "engine-secret",
		TokenHash:         "sha256",
		Role:              "admin",
		Server:            config.ServerConfig{Addr: "127.0.0.1:0"},
	}
}

func newEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(context.Background(), cfg, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNew_IsLazy(t *testing.T) {
	cfg := testConfig(t)
	newEngine(t, cfg)

	_, err := os.Stat(cfg.WarehouseDir)
	assert.True(t, os.IsNotExist(err), "warehouse must not be created by New")
}

func TestNew_InvalidTokenHash(t *testing.T) {
	cfg := testConfig(t)
	cfg.TokenHash = "md5"

	_, err := New(context.Background(), cfg, nil)
	var cfgErr *governance.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestInit_DeniedCreatesNothing(t *testing.T) {
	cfg := testConfig(t)
	e := newEngine(t, cfg)

	_, err := e.Init(context.Background(), governance.NewPrincipal("analyst"))
	var denied *governance.AccessDenied
	require.ErrorAs(t, err, &denied)

	_, err = os.Stat(cfg.WarehouseDir)
	assert.True(t, os.IsNotExist(err))
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	e := newEngine(t, cfg)
	admin := governance.NewPrincipal("admin")
	const dt = "2026-01-02"

	res, err := e.Init(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.SchemaVersion)
	for _, dir := range cfg.WarehouseDirs() {
		assert.DirExists(t, dir)
	}

	runner, err := e.Stages(ctx)
	require.NoError(t, err)
	_, err = runner.Seed(ctx, admin)
	require.NoError(t, err)
	_, err = runner.Ingest(ctx, admin, "", dt)
	require.NoError(t, err)
	_, err = runner.Clean(ctx, admin, dt)
	require.NoError(t, err)
	_, err = runner.Curate(ctx, admin, dt)
	require.NoError(t, err)
	_, err = runner.BuildIdentity(ctx, admin, dt)
	require.NoError(t, err)

	exporter, err := e.Exporter(ctx)
	require.NoError(t, err)
	exp, err := exporter.ExportAudience(ctx, governance.NewPrincipal("activation"), export.Request{MinEvents: 1, Dt: dt})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfg.ExportEvidenceDir, exp.ExportID+".json"))

	propagator, err := e.Erasure(ctx)
	require.NoError(t, err)
	del, err := propagator.RequestDelete(ctx, governance.NewPrincipal("privacy_officer"), erasure.Request{UserID: "u1"})
	require.NoError(t, err)
	assert.Positive(t, del.Changed.Total())

	ledger, err := e.Ledger(ctx)
	require.NoError(t, err)
	req, err := ledger.GetGDPRRequest(ctx, del.RequestID)
	require.NoError(t, err)
	assert.Equal(t, audit.GDPRStatusFulfilled, req.Status)

	recorder, err := e.Recorder(ctx)
	require.NoError(t, err)
	recovered, err := recorder.Recover(ctx)
	require.NoError(t, err)
	assert.Empty(t, recovered)
}

func TestAuditServer(t *testing.T) {
	ctx := context.Background()

	t.Run("denied without warehouse read", func(t *testing.T) {
		e := newEngine(t, testConfig(t))
		_, err := e.AuditServer(ctx, governance.NewPrincipal("analyst"))
		var denied *governance.AccessDenied
		require.ErrorAs(t, err, &denied)
	})

	t.Run("cached policy", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.PolicyCache = true
		e := newEngine(t, cfg)
		_, ok := e.source.(*acl.CachedSource)
		require.True(t, ok)

		srv, err := e.AuditServer(ctx, governance.NewPrincipal("privacy_officer"))
		require.NoError(t, err)
		assert.NotNil(t, srv.Handler())
	})
}
