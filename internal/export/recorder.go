package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/evidence"
)

// Recorder commits an export's evidence document and ledger row as one unit.
//
// A staging entry is written first and removed last. While it exists the
// commit is incomplete: Commit rolls back on failure, and Recover rolls any
// entry left behind by a crash forward, so an evidence document never exists
// without its ledger row or the other way round.
type Recorder struct {
	ledger   *audit.Ledger
	evidence *evidence.Dir
	staging  *evidence.Dir
	logger   *slog.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(ledger *audit.Ledger, evidenceDir, stagingDir *evidence.Dir, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{ledger: ledger, evidence: evidenceDir, staging: stagingDir, logger: logger}
}

// Commit durably records rec and returns the evidence path.
func (r *Recorder) Commit(ctx context.Context, rec audit.ExportRecord) (string, error) {
	if rec.ExportID == "" {
		return "", fmt.Errorf("export record has no export_id")
	}

	if _, err := r.staging.Write(rec.ExportID, rec); err != nil {
		return "", fmt.Errorf("failed to stage export %s: %w", rec.ExportID, err)
	}

	path, err := r.evidence.Write(rec.ExportID, rec)
	if err != nil {
		return "", errors.Join(err, r.staging.Remove(rec.ExportID))
	}

	if err := r.ledger.RecordExport(ctx, rec); err != nil {
		rollback := errors.Join(r.evidence.Remove(rec.ExportID), r.staging.Remove(rec.ExportID))
		return "", errors.Join(err, rollback)
	}

	// Both artifacts exist; a leftover staging entry is harmless because
	// Recover replays it idempotently.
	if err := r.staging.Remove(rec.ExportID); err != nil {
		r.logger.Warn("failed to clear export staging entry", "export_id", rec.ExportID, "error", err)
	}
	return path, nil
}

// Recover completes every commit interrupted before its staging entry was
// removed and returns the recovered export IDs.
func (r *Recorder) Recover(ctx context.Context) ([]string, error) {
	ids, err := r.staging.IDs()
	if err != nil {
		return nil, err
	}

	var recovered []string
	for _, id := range ids {
		var rec audit.ExportRecord
		if err := r.staging.Read(id, &rec); err != nil {
			return recovered, err
		}
		if _, err := r.evidence.Write(id, rec); err != nil {
			return recovered, err
		}
		if err := r.ledger.RecordExport(ctx, rec); err != nil {
			return recovered, err
		}
		if err := r.staging.Remove(id); err != nil {
			return recovered, err
		}
		r.logger.Info("recovered export commit", "export_id", id)
		recovered = append(recovered, id)
	}
	return recovered, nil
}
