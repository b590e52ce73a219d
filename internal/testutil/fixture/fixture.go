// Package fixture assembles a complete lake with real governance components
// in a temporary directory.
package fixture

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/lakegov/internal/acl"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/evidence"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/leapstack-labs/lakegov/internal/lake"
	"github.com/leapstack-labs/lakegov/internal/lineage"
	"github.com/leapstack-labs/lakegov/internal/pii"
	"github.com/leapstack-labs/lakegov/internal/testutil"
	"github.com/spf13/afero"
)

// Secret is the tokenizer secret used by fixtures.
const Secret = "test-secret"

// Principals used across tests.
var (
	Admin    = governance.NewPrincipal("admin")
	Engineer = governance.NewPrincipal("engineer")
	Activate = governance.NewPrincipal("activation")
	Privacy  = governance.NewPrincipal("privacy_officer")
	Analyst  = governance.NewPrincipal("analyst")
)

// Lake is a fully wired lake rooted in t.TempDir().
type Lake struct {
	Root      string
	Warehouse string
	Layout    lake.Layout
	Logger    *slog.Logger

	Gate      *acl.Gate
	Ledger    *audit.Ledger
	Lineage   *lineage.Log
	Store     *lake.Store
	Locker    *lake.Locker
	Tokenizer *pii.Tokenizer

	GDPREvidence   *evidence.Dir
	ExportEvidence *evidence.Dir
	ExportStaging  *evidence.Dir
}

// New builds a lake with a migrated ledger and the shared test policy.
func New(t *testing.T) *Lake {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	logger := testutil.NewTestLogger(t)

	l := &Lake{
		Root:      filepath.Join(dir, "data_lake"),
		Warehouse: filepath.Join(dir, "warehouse"),
		Logger:    logger,
	}
	l.Layout = lake.NewLayout(l.Root)

	policy := testutil.WritePolicy(t, filepath.Join(dir, "configs"))
	gate, err := acl.NewGate(ctx, acl.FileSource{Path: policy})
	if err != nil {
		t.Fatalf("failed to build gate: %v", err)
	}
	l.Gate = gate

	if err := os.MkdirAll(l.Warehouse, 0o755); err != nil {
		t.Fatalf("failed to create warehouse: %v", err)
	}
	l.Ledger = audit.NewLedger(logger)
	if err := l.Ledger.Open(filepath.Join(l.Warehouse, "governance.db")); err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Ledger.Close() })
	if err := l.Ledger.Migrate(); err != nil {
		t.Fatalf("failed to migrate ledger: %v", err)
	}

	store, err := lake.OpenStore(ctx, logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	l.Store = store

	tok, err := pii.New(Secret, pii.HashSHA256)
	if err != nil {
		t.Fatalf("failed to build tokenizer: %v", err)
	}
	l.Tokenizer = tok

	osfs := afero.NewOsFs()
	l.Lineage = lineage.NewLog(osfs, filepath.Join(l.Warehouse, "lineage.jsonl"), logger)
	l.Locker = lake.NewLocker("test")
	l.GDPREvidence = evidence.NewDir(osfs, filepath.Join(l.Warehouse, "gdpr_evidence"))
	l.ExportEvidence = evidence.NewDir(osfs, filepath.Join(l.Warehouse, "export_evidence"))
	l.ExportStaging = evidence.NewDir(osfs, filepath.Join(l.Warehouse, "export_staging"))
	return l
}

// RawPartition returns the raw partition file for dt.
func (l *Lake) RawPartition(dt string) string {
	return l.Layout.RawPartition(dt, lake.DefaultSource)
}

// ReadPartition loads a partition file, failing the test on error.
func (l *Lake) ReadPartition(t *testing.T, path string) *lake.Table {
	t.Helper()
	tbl, err := l.Store.Read(context.Background(), path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return tbl
}
