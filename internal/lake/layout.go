// Package lake resolves the physical layout of the data lake and provides the
// partition storage backend.
package lake

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/leapstack-labs/lakegov/internal/governance"
)

// Fixed file names within layer partitions.
const (
	PartFile        = "part-00001"
	DefaultSource   = "app"
	ReasonMissingID = "MISSING_EVENT_ID"
)

// Dataset is a partitioned dataset inside one layer: Dir is relative to the
// lake root and every partition lives at Dir/dt=<date>/File.
type Dataset struct {
	Name  string
	Layer governance.Layer
	Dir   string
	File  string
}

// Datasets produced by the transform stages.
var (
	CleanEvents = Dataset{Name: "clean", Layer: governance.LayerClean,
		Dir: "clean/events", File: PartFile + ".parquet"}
	CuratedFacts = Dataset{Name: "curated", Layer: governance.LayerCurated,
		Dir: "curated/facts", File: "fact_user_activity_daily.parquet"}
	ServingMetrics = Dataset{Name: "serving", Layer: governance.LayerServing,
		Dir: "serving/user_metrics", File: "user_metrics.parquet"}
	Identity = Dataset{Name: "identity", Layer: governance.LayerRestrictedPII,
		Dir: "restricted_pii/identity", File: "identity.parquet"}
	Audience = Dataset{Name: "audience", Layer: governance.LayerExports,
		Dir: "exports/audience", File: "audience.csv"}
)

// ErasableDatasets are the derived datasets erasure rewrites. Raw is absent
// on purpose: it is the immutable source of truth.
var ErasableDatasets = []Dataset{CleanEvents, CuratedFacts, ServingMetrics, Identity}

// Layout maps layers to paths under the lake root.
type Layout struct {
	Root string
}

// NewLayout creates a layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// LayerDir returns the directory of a layer.
func (l Layout) LayerDir(layer governance.Layer) string {
	return filepath.Join(l.Root, string(layer))
}

// LandingEvents is the landing file the seed writes and ingest reads.
func (l Layout) LandingEvents() string {
	return filepath.Join(l.Root, "landing", "events.jsonl")
}

// RawPartition is the raw file for one date and source.
func (l Layout) RawPartition(dt, source string) string {
	return filepath.Join(l.Root, "raw", "events", "dt="+dt, "source="+source, PartFile+".jsonl")
}

// RawDir is the root of the raw events dataset.
func (l Layout) RawDir() string {
	return filepath.Join(l.Root, "raw", "events")
}

// QuarantinePartition is the quarantine file for one date and reason.
func (l Layout) QuarantinePartition(dt, reason string) string {
	return filepath.Join(l.Root, "quarantine", "events", "dt="+dt, "reason="+reason, PartFile+".jsonl")
}

// Partition returns the file of ds for dt.
func (l Layout) Partition(ds Dataset, dt string) string {
	return filepath.Join(l.Root, ds.Dir, "dt="+dt, ds.File)
}

// Partitions enumerates existing partition files of ds: the one for dt, or
// every dt=* partition when dt is empty. A dataset whose directory does not
// exist yet has no partitions.
func (l Layout) Partitions(ds Dataset, dt string) ([]string, error) {
	if dt != "" {
		p := l.Partition(ds, dt)
		ok, err := exists(p)
		if err != nil || !ok {
			return nil, err
		}
		return []string{p}, nil
	}

	matches, err := filepath.Glob(filepath.Join(l.Root, ds.Dir, "dt=*", ds.File))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s partitions: %w", ds.Name, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Dirs lists every directory Init creates.
func (l Layout) Dirs() []string {
	return []string{
		filepath.Join(l.Root, "landing"),
		l.RawDir(),
		filepath.Join(l.Root, "quarantine", "events"),
		filepath.Join(l.Root, CleanEvents.Dir),
		filepath.Join(l.Root, CuratedFacts.Dir),
		filepath.Join(l.Root, ServingMetrics.Dir),
		filepath.Join(l.Root, Identity.Dir),
		filepath.Join(l.Root, Audience.Dir),
	}
}
