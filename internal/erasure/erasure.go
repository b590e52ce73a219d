// Package erasure propagates right-to-erasure requests across every derived
// layer of the lake and records verifiable evidence of what changed. The raw
// layer is the immutable source of truth and is never rewritten.
package erasure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/lakegov/internal/acl"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/evidence"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/leapstack-labs/lakegov/internal/lake"
	"github.com/leapstack-labs/lakegov/internal/lineage"
)

// SubjectColumn identifies the data subject in every row-bearing layer.
const SubjectColumn = "user_id"

// Notes is recorded in every evidence document.
const Notes = "Raw is immutable; deletes propagate to clean/curated/serving/restricted_pii."

// Config wires a Propagator.
type Config struct {
	Gate     *acl.Gate
	Ledger   *audit.Ledger
	Lineage  *lineage.Log
	Store    *lake.Store
	Locker   *lake.Locker
	Layout   lake.Layout
	Evidence *evidence.Dir
	Logger   *slog.Logger
}

// Propagator executes erasure requests.
type Propagator struct {
	gate     *acl.Gate
	ledger   *audit.Ledger
	lineage  *lineage.Log
	store    *lake.Store
	locker   *lake.Locker
	layout   lake.Layout
	evidence *evidence.Dir
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a propagator.
func New(cfg Config) *Propagator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	locker := cfg.Locker
	if locker == nil {
		locker = lake.NewLocker("")
	}
	return &Propagator{
		gate:     cfg.Gate,
		ledger:   cfg.Ledger,
		lineage:  cfg.Lineage,
		store:    cfg.Store,
		locker:   locker,
		layout:   cfg.Layout,
		evidence: cfg.Evidence,
		logger:   logger,
		now:      time.Now,
	}
}

// Request asks for a subject's rows to be removed. An empty Dt covers every
// partition.
type Request struct {
	UserID string `json:"user_id" validate:"required"`
	Dt     string `json:"dt" validate:"omitempty,datetime=2006-01-02"`
	Mode   string `json:"mode" validate:"omitempty,oneof=delete"`
}

// Changed counts rewritten partitions per layer.
type Changed struct {
	CleanFiles    int `json:"clean_files"`
	CuratedFiles  int `json:"curated_files"`
	ServingFiles  int `json:"serving_files"`
	IdentityFiles int `json:"identity_files"`
}

// Total returns the number of rewritten partitions.
func (c Changed) Total() int {
	return c.CleanFiles + c.CuratedFiles + c.ServingFiles + c.IdentityFiles
}

func (c *Changed) add(ds lake.Dataset) {
	switch ds.Layer {
	case governance.LayerClean:
		c.CleanFiles++
	case governance.LayerCurated:
		c.CuratedFiles++
	case governance.LayerServing:
		c.ServingFiles++
	case governance.LayerRestrictedPII:
		c.IdentityFiles++
	}
}

// Evidence is the document written for every fulfilled request.
type Evidence struct {
	RequestID string  `json:"request_id"`
	RunID     string  `json:"run_id"`
	UserID    string  `json:"user_id"`
	Mode      string  `json:"mode"`
	Dt        string  `json:"dt,omitempty"`
	Changed   Changed `json:"changed"`
	At        string  `json:"at"`
	Notes     string  `json:"notes"`
}

// Result describes a fulfilled request.
type Result struct {
	RequestID    string  `json:"request_id"`
	RunID        string  `json:"run_id"`
	UserID       string  `json:"user_id"`
	Mode         string  `json:"mode"`
	Changed      Changed `json:"changed"`
	EvidencePath string  `json:"evidence_path"`
}

func erasureAccess() acl.Access {
	layers := make([]governance.Layer, 0, len(lake.ErasableDatasets))
	for _, ds := range lake.ErasableDatasets {
		layers = append(layers, ds.Layer)
	}
	return acl.Access{
		Read:  layers,
		Write: append(append([]governance.Layer{}, layers...), governance.LayerWarehouse),
	}
}

// RequestDelete removes every row of req.UserID from the clean, curated,
// serving and identity layers, then writes evidence, a lineage edge, and
// marks the request FULFILLED. A partition that cannot be read fails the
// whole request: the run is finished FAILED and the request stays RECEIVED.
func (p *Propagator) RequestDelete(ctx context.Context, principal governance.Principal, req Request) (*Result, error) {
	if err := governance.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.Mode == "" {
		req.Mode = audit.ModeDelete
	}
	if err := p.gate.Require(ctx, principal, erasureAccess()); err != nil {
		return nil, err
	}

	requestID, err := p.ledger.CreateGDPRRequest(ctx, req.UserID, req.Mode)
	if err != nil {
		return nil, err
	}
	subject := "user_id=" + req.UserID
	runID, err := p.ledger.StartRun(ctx, audit.PipelineGDPRDelete, subject)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("request_id", requestID, "run_id", runID)

	res := &Result{RequestID: requestID, RunID: runID, UserID: req.UserID, Mode: req.Mode}
	res.Changed, res.EvidencePath, err = p.propagate(ctx, req, requestID, runID, subject)
	if err != nil {
		logger.Error("erasure failed", "error", err)
		finishErr := p.ledger.FinishRun(context.WithoutCancel(ctx), runID, audit.RunStatusFailed, "", err.Error())
		return nil, errors.Join(err, finishErr)
	}

	tally, err := json.Marshal(res.Changed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tally: %w", err)
	}
	if err := p.ledger.FinishRun(ctx, runID, audit.RunStatusSuccess, res.EvidencePath, string(tally)); err != nil {
		return nil, err
	}
	if err := p.ledger.FulfillGDPRRequest(ctx, requestID, string(tally)); err != nil {
		return nil, err
	}

	logger.Info("erasure fulfilled", "changed", res.Changed.Total(), "evidence", res.EvidencePath)
	return res, nil
}

func (p *Propagator) propagate(ctx context.Context, req Request, requestID, runID, subject string) (Changed, string, error) {
	var changed Changed
	for _, ds := range lake.ErasableDatasets {
		partitions, err := p.layout.Partitions(ds, req.Dt)
		if err != nil {
			return changed, "", err
		}
		for _, path := range partitions {
			rewritten, err := p.rewriteExcluding(ctx, ds, path, req.UserID)
			if err != nil {
				return changed, "", err
			}
			if rewritten {
				changed.add(ds)
			}
		}
	}

	doc := Evidence{
		RequestID: requestID,
		RunID:     runID,
		UserID:    req.UserID,
		Mode:      req.Mode,
		Dt:        req.Dt,
		Changed:   changed,
		At:        governance.Timestamp(p.now()),
		Notes:     Notes,
	}
	path, err := p.evidence.Write(requestID, doc)
	if err != nil {
		return changed, "", err
	}
	if err := p.lineage.Emit(ctx, runID, audit.PipelineGDPRDelete, subject, path); err != nil {
		return changed, path, err
	}
	return changed, path, nil
}

// rewriteExcluding drops the subject's rows from one partition under its
// advisory lock. It reports whether the partition was rewritten.
func (p *Propagator) rewriteExcluding(ctx context.Context, ds lake.Dataset, path, userID string) (bool, error) {
	release, err := p.locker.Acquire(path)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := release(); err != nil {
			p.logger.Warn("failed to release partition lock", "path", path, "error", err)
		}
	}()

	tbl, err := p.store.Read(ctx, path)
	if err != nil {
		return false, &governance.MalformedPartition{Layer: ds.Layer, Path: path, Err: err}
	}
	// Not every layer is guaranteed to carry the subject column.
	if !tbl.HasColumn(SubjectColumn) {
		p.logger.Debug("partition has no subject column", "path", path)
		return false, nil
	}

	filtered, removed := tbl.Exclude(SubjectColumn, userID)
	if removed == 0 {
		return false, nil
	}
	if err := p.store.Write(ctx, path, filtered); err != nil {
		return false, err
	}

	p.logger.Debug("partition rewritten", "layer", ds.Layer, "path", path, "removed", removed)
	return true, nil
}
