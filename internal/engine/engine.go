// Package engine wires the lake's governance components from configuration.
// The audit ledger and the DuckDB partition store are connected lazily, the
// first time a command needs them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/leapstack-labs/lakegov/internal/acl"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/auditapi"
	"github.com/leapstack-labs/lakegov/internal/config"
	"github.com/leapstack-labs/lakegov/internal/erasure"
	"github.com/leapstack-labs/lakegov/internal/evidence"
	"github.com/leapstack-labs/lakegov/internal/export"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/leapstack-labs/lakegov/internal/lake"
	"github.com/leapstack-labs/lakegov/internal/lineage"
	"github.com/leapstack-labs/lakegov/internal/pii"
	"github.com/leapstack-labs/lakegov/internal/stages"
	"github.com/spf13/afero"
)

// Engine owns the components a lakegov command works with.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	source    acl.PolicySource
	gate      *acl.Gate
	layout    lake.Layout
	lineage   *lineage.Log
	locker    *lake.Locker
	tokenizer *pii.Tokenizer

	gdprEvidence   *evidence.Dir
	exportEvidence *evidence.Dir
	exportStaging  *evidence.Dir

	// Lazily connected
	mu     sync.Mutex
	ledger *audit.Ledger
	store  *lake.Store
}

// New builds an engine. Nothing is written to disk until a component that
// needs the warehouse is requested.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	logger.Debug("initializing engine", "lake_root", cfg.LakeRoot, "warehouse_dir", cfg.WarehouseDir, "role", cfg.Role)

	var source acl.PolicySource = acl.FileSource{Path: cfg.RolesPath}
	if cfg.PolicyCache {
		source = acl.NewCachedSource(cfg.RolesPath, logger)
	}
	gate, err := acl.NewGate(ctx, source)
	if err != nil {
		return nil, err
	}

	tokenizer, err := pii.New(cfg.PIISecret, cfg.TokenHash)
	if err != nil {
		return nil, &governance.ConfigurationError{Reason: "invalid tokenizer settings", Err: err}
	}
	if cfg.UsesDefaultSecret() {
		logger.Warn("using the default PII token secret; set PII_TOKEN_SECRET or pii_secret")
	}

	fsys := afero.NewOsFs()
	return &Engine{
		cfg:            cfg,
		logger:         logger,
		source:         source,
		gate:           gate,
		layout:         lake.NewLayout(cfg.LakeRoot),
		lineage:        lineage.NewLog(fsys, cfg.LineagePath, logger),
		locker:         lake.NewLocker("").WithStaleAfter(cfg.LockStaleAfter),
		tokenizer:      tokenizer,
		gdprEvidence:   evidence.NewDir(fsys, cfg.GDPREvidenceDir),
		exportEvidence: evidence.NewDir(fsys, cfg.ExportEvidenceDir),
		exportStaging:  evidence.NewDir(fsys, cfg.ExportStagingDir),
	}, nil
}

// Config returns the configuration the engine was built from.
func (e *Engine) Config() *config.Config { return e.cfg }

// Gate returns the access control gate.
func (e *Engine) Gate() *acl.Gate { return e.gate }

// Layout returns the lake layout.
func (e *Engine) Layout() lake.Layout { return e.layout }

// Lineage returns the lineage log.
func (e *Engine) Lineage() *lineage.Log { return e.lineage }

// Ledger opens and migrates the audit ledger on first use.
func (e *Engine) Ledger(ctx context.Context) (*audit.Ledger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureLedger(ctx)
}

func (e *Engine) ensureLedger(_ context.Context) (*audit.Ledger, error) {
	if e.ledger != nil {
		return e.ledger, nil
	}

	if err := os.MkdirAll(filepath.Dir(e.cfg.AuditPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create warehouse directory: %w", err)
	}
	ledger := audit.NewLedger(e.logger)
	if err := ledger.Open(e.cfg.AuditPath); err != nil {
		return nil, err
	}
	if err := ledger.Migrate(); err != nil {
		_ = ledger.Close()
		return nil, err
	}
	e.ledger = ledger
	return ledger, nil
}

// Store starts the DuckDB partition store on first use.
func (e *Engine) Store(ctx context.Context) (*lake.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ensureStore(ctx)
}

func (e *Engine) ensureStore(ctx context.Context) (*lake.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	e.logger.Debug("connecting to partition store")
	store, err := lake.OpenStore(ctx, e.logger)
	if err != nil {
		return nil, err
	}
	e.store = store
	return store, nil
}

// connect returns both lazily connected components.
func (e *Engine) connect(ctx context.Context) (*audit.Ledger, *lake.Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ledger, err := e.ensureLedger(ctx)
	if err != nil {
		return nil, nil, err
	}
	store, err := e.ensureStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ledger, store, nil
}

// Stages returns the transform stage runner.
func (e *Engine) Stages(ctx context.Context) (*stages.Runner, error) {
	ledger, store, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	return stages.New(stages.Config{
		Gate:      e.gate,
		Ledger:    ledger,
		Lineage:   e.lineage,
		Store:     store,
		Locker:    e.locker,
		Layout:    e.layout,
		Tokenizer: e.tokenizer,
		Logger:    e.logger,
	}), nil
}

// Init prepares the lake and warehouse directories and the ledger schema.
// Access is checked before anything is created.
func (e *Engine) Init(ctx context.Context, p governance.Principal) (*stages.InitResult, error) {
	if err := e.gate.CheckWrite(ctx, p, governance.LayerWarehouse); err != nil {
		return nil, err
	}
	runner, err := e.Stages(ctx)
	if err != nil {
		return nil, err
	}
	return runner.Init(ctx, p, e.cfg.WarehouseDirs()...)
}

// Erasure returns the erasure propagator.
func (e *Engine) Erasure(ctx context.Context) (*erasure.Propagator, error) {
	ledger, store, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	return erasure.New(erasure.Config{
		Gate:     e.gate,
		Ledger:   ledger,
		Lineage:  e.lineage,
		Store:    store,
		Locker:   e.locker,
		Layout:   e.layout,
		Evidence: e.gdprEvidence,
		Logger:   e.logger,
	}), nil
}

// Recorder returns the export evidence recorder.
func (e *Engine) Recorder(ctx context.Context) (*export.Recorder, error) {
	ledger, err := e.Ledger(ctx)
	if err != nil {
		return nil, err
	}
	return export.NewRecorder(ledger, e.exportEvidence, e.exportStaging, e.logger), nil
}

// Exporter returns the audience exporter.
func (e *Engine) Exporter(ctx context.Context) (*export.Exporter, error) {
	ledger, store, err := e.connect(ctx)
	if err != nil {
		return nil, err
	}
	return export.New(export.Config{
		Gate:     e.gate,
		Ledger:   ledger,
		Lineage:  e.lineage,
		Store:    store,
		Locker:   e.locker,
		Layout:   e.layout,
		Recorder: export.NewRecorder(ledger, e.exportEvidence, e.exportStaging, e.logger),
		Logger:   e.logger,
	}), nil
}

// AuditServer builds the audit HTTP server for p. With a cached policy the
// server also watches the policy file for changes.
func (e *Engine) AuditServer(ctx context.Context, p governance.Principal) (*auditapi.Server, error) {
	ledger, err := e.Ledger(ctx)
	if err != nil {
		return nil, err
	}

	var background []func(context.Context) error
	if cached, ok := e.source.(*acl.CachedSource); ok {
		background = append(background, cached.Watch)
	}

	return auditapi.NewServer(ctx, auditapi.Config{
		Gate:       e.gate,
		Principal:  p,
		Ledger:     ledger,
		Lineage:    e.lineage,
		Addr:       e.cfg.Server.Addr,
		Logger:     e.logger,
		Background: background,
	})
}

// Close releases all resources.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
		e.store = nil
	}
	if e.ledger != nil {
		if err := e.ledger.Close(); err != nil {
			errs = append(errs, err)
		}
		e.ledger = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing engine: %w", errors.Join(errs...))
	}
	return nil
}
