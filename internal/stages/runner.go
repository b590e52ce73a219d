// Package stages implements the layer transforms that move event records from
// landing through raw, clean, curated, serving and the restricted identity
// layer. Every stage is gated, audited and recorded in the lineage log.
package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/lakegov/internal/acl"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/leapstack-labs/lakegov/internal/lake"
	"github.com/leapstack-labs/lakegov/internal/lineage"
	"github.com/leapstack-labs/lakegov/internal/pii"
)

// Config wires a Runner to the governance components.
type Config struct {
	Gate      *acl.Gate
	Ledger    *audit.Ledger
	Lineage   *lineage.Log
	Store     *lake.Store
	Locker    *lake.Locker
	Layout    lake.Layout
	Tokenizer *pii.Tokenizer
	Logger    *slog.Logger
}

// Runner executes transform stages.
type Runner struct {
	gate      *acl.Gate
	ledger    *audit.Ledger
	lineage   *lineage.Log
	store     *lake.Store
	locker    *lake.Locker
	layout    lake.Layout
	tokenizer *pii.Tokenizer
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a stage runner.
func New(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	locker := cfg.Locker
	if locker == nil {
		locker = lake.NewLocker("")
	}
	return &Runner{
		gate:      cfg.Gate,
		ledger:    cfg.Ledger,
		lineage:   cfg.Lineage,
		store:     cfg.Store,
		locker:    locker,
		layout:    cfg.Layout,
		tokenizer: cfg.Tokenizer,
		logger:    logger,
		now:       time.Now,
	}
}

// Result describes a completed stage run.
type Result struct {
	RunID  string `json:"run_id"`
	Dt     string `json:"dt,omitempty"`
	Input  string `json:"input"`
	Output string `json:"output"`
	Rows   int    `json:"rows"`
}

// outcome is what a stage body reports back to track.
type outcome struct {
	output  string
	details string
}

// track runs body inside an audited run: the run is started before body
// produces any output, the lineage edge is emitted only after the output is
// durable, and any failure finishes the run FAILED.
func (r *Runner) track(ctx context.Context, pipeline, input string, body func(runID string) (outcome, error)) (string, error) {
	runID, err := r.ledger.StartRun(ctx, pipeline, input)
	if err != nil {
		return "", err
	}
	logger := r.logger.With("pipeline", pipeline, "run_id", runID)

	out, err := body(runID)
	if err == nil {
		err = r.lineage.Emit(ctx, runID, pipeline, input, out.output)
	}
	if err != nil {
		logger.Error("stage failed", "error", err)
		finishErr := r.ledger.FinishRun(context.WithoutCancel(ctx), runID, audit.RunStatusFailed, out.output, err.Error())
		return runID, errors.Join(err, finishErr)
	}

	if err := r.ledger.FinishRun(ctx, runID, audit.RunStatusSuccess, out.output, out.details); err != nil {
		return runID, err
	}
	logger.Info("stage complete", "output", out.output, "details", out.details)
	return runID, nil
}

// writePartition writes t at path while holding the partition lock.
func (r *Runner) writePartition(ctx context.Context, path string, t *lake.Table) error {
	release, err := r.locker.Acquire(path)
	if err != nil {
		return err
	}
	writeErr := r.store.Write(ctx, path, t)
	return errors.Join(writeErr, release())
}

// requireInput fails with MissingInput when path does not exist.
func requireInput(path, hint string) error {
	ok, err := lake.Exists(path)
	if err != nil {
		return err
	}
	if !ok {
		return &governance.MissingInput{Path: path, Hint: hint}
	}
	return nil
}

func rowsDetail(n int) string {
	return fmt.Sprintf("rows=%d", n)
}
