// Package export produces controlled re-identification exports: audiences
// from curated facts joined with the restricted identity layer, each backed
// by an evidence document and a ledger row.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/leapstack-labs/lakegov/internal/acl"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/leapstack-labs/lakegov/internal/lake"
	"github.com/leapstack-labs/lakegov/internal/lineage"
)

// Notes is recorded in every export evidence document.
const Notes = "Activation export joins curated audience with restricted identity (PII)."

// Config wires an Exporter.
type Config struct {
	Gate     *acl.Gate
	Ledger   *audit.Ledger
	Lineage  *lineage.Log
	Store    *lake.Store
	Locker   *lake.Locker
	Layout   lake.Layout
	Recorder *Recorder
	Logger   *slog.Logger
}

// Exporter runs audience exports.
type Exporter struct {
	gate     *acl.Gate
	ledger   *audit.Ledger
	lineage  *lineage.Log
	store    *lake.Store
	locker   *lake.Locker
	layout   lake.Layout
	recorder *Recorder
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New creates an exporter.
func New(cfg Config) *Exporter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	locker := cfg.Locker
	if locker == nil {
		locker = lake.NewLocker("")
	}
	return &Exporter{
		gate:     cfg.Gate,
		ledger:   cfg.Ledger,
		lineage:  cfg.Lineage,
		store:    cfg.Store,
		locker:   locker,
		layout:   cfg.Layout,
		recorder: cfg.Recorder,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Request selects the audience: users with at least MinEvents events on Dt.
type Request struct {
	MinEvents int    `json:"min_events" validate:"gte=1"`
	Dt        string `json:"dt" validate:"omitempty,datetime=2006-01-02"`
}

// Result describes a committed export.
type Result struct {
	ExportID     string `json:"export_id"`
	RunID        string `json:"run_id"`
	OutputPath   string `json:"output_path"`
	Rows         int64  `json:"rows"`
	EvidencePath string `json:"evidence_path"`
}

// ExportAudience writes the audience CSV for req and commits its evidence.
// If the commit fails the CSV is removed and the run is finished FAILED.
func (e *Exporter) ExportAudience(ctx context.Context, p governance.Principal, req Request) (*Result, error) {
	if err := governance.ValidateStruct(req); err != nil {
		return nil, err
	}
	dt, err := governance.ResolveDate(req.Dt)
	if err != nil {
		return nil, err
	}
	err = e.gate.Require(ctx, p, acl.Access{
		Read:  []governance.Layer{governance.LayerCurated, governance.LayerRestrictedPII},
		Write: []governance.Layer{governance.LayerExports, governance.LayerWarehouse},
	})
	if err != nil {
		return nil, err
	}

	curated := e.layout.Partition(lake.CuratedFacts, dt)
	identity := e.layout.Partition(lake.Identity, dt)
	for _, in := range []struct{ path, hint string }{
		{curated, "lakegov curate"},
		{identity, "lakegov build-identity"},
	} {
		ok, err := lake.Exists(in.path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &governance.MissingInput{Path: in.path, Hint: in.hint}
		}
	}

	input := curated + " + " + identity
	runID, err := e.ledger.StartRun(ctx, audit.PipelineExportAudience, input)
	if err != nil {
		return nil, err
	}
	logger := e.logger.With("run_id", runID)

	res := &Result{ExportID: e.newID(), RunID: runID, OutputPath: e.layout.Partition(lake.Audience, dt)}
	if err := e.export(ctx, p, req.MinEvents, dt, curated, identity, input, res); err != nil {
		logger.Error("export failed", "export_id", res.ExportID, "error", err)
		finishErr := e.ledger.FinishRun(context.WithoutCancel(ctx), runID, audit.RunStatusFailed, "", err.Error())
		return nil, errors.Join(err, finishErr)
	}

	if err := e.ledger.FinishRun(ctx, runID, audit.RunStatusSuccess, res.OutputPath, fmt.Sprintf("rows=%d", res.Rows)); err != nil {
		return nil, err
	}
	logger.Info("export committed", "export_id", res.ExportID, "rows", res.Rows, "evidence", res.EvidencePath)
	return res, nil
}

func (e *Exporter) export(ctx context.Context, p governance.Principal, minEvents int, dt, curated, identity, input string, res *Result) error {
	factSrc, err := lake.Source(curated)
	if err != nil {
		return err
	}
	idSrc, err := lake.Source(identity)
	if err != nil {
		return err
	}

	audience, err := e.store.Query(ctx, `
		SELECT CAST(? AS VARCHAR) AS dt,
		       CAST(? AS BIGINT) AS min_events,
		       CAST(f.user_id AS VARCHAR) AS user_id,
		       CAST(COALESCE(i.email, '') AS VARCHAR) AS email
		FROM `+factSrc+` f
		LEFT JOIN `+idSrc+` i ON f.user_id = i.user_id
		WHERE f.events >= ?
		ORDER BY f.user_id`, dt, minEvents, minEvents)
	if err != nil {
		return fmt.Errorf("failed to build audience: %w", err)
	}

	release, err := e.locker.Acquire(res.OutputPath)
	if err != nil {
		return err
	}
	defer func() { _ = release() }()

	if err := e.store.Write(ctx, res.OutputPath, audience); err != nil {
		return err
	}
	res.Rows = int64(audience.Len())

	if err := e.lineage.Emit(ctx, res.RunID, audit.PipelineExportAudience, input, res.OutputPath); err != nil {
		return errors.Join(err, removeOutput(res.OutputPath))
	}

	rec := audit.ExportRecord{
		ExportID:        res.ExportID,
		RunID:           res.RunID,
		RequestedByRole: p.Role,
		Dt:              dt,
		MinEvents:       minEvents,
		Rows:            res.Rows,
		OutputPath:      res.OutputPath,
		CreatedAt:       governance.Timestamp(e.now()),
		Notes:           Notes,
	}
	res.EvidencePath, err = e.recorder.Commit(ctx, rec)
	if err != nil {
		return errors.Join(err, removeOutput(res.OutputPath))
	}
	return nil
}

func removeOutput(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove export output: %w", err)
	}
	return nil
}
