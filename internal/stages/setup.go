package stages

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/leapstack-labs/lakegov/internal/acl"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/leapstack-labs/lakegov/internal/lake"
	"github.com/tidwall/sjson"
)

// InitResult lists what Init prepared.
type InitResult struct {
	LakeRoot      string   `json:"lake_root"`
	Directories   []string `json:"directories"`
	SchemaVersion int64    `json:"schema_version"`
}

// Init creates the layer directories and the given warehouse directories and
// brings the audit ledger schema up to date. It is safe to run repeatedly.
func (r *Runner) Init(ctx context.Context, p governance.Principal, warehouseDirs ...string) (*InitResult, error) {
	if err := r.gate.Require(ctx, p, acl.Access{Write: []governance.Layer{governance.LayerWarehouse}}); err != nil {
		return nil, err
	}

	dirs := append(r.layout.Dirs(), warehouseDirs...)
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if err := r.ledger.Migrate(); err != nil {
		return nil, err
	}
	version, err := r.ledger.SchemaVersion()
	if err != nil {
		return nil, err
	}

	r.logger.Info("lake initialized", "lake_root", r.layout.Root, "schema_version", version)
	return &InitResult{LakeRoot: r.layout.Root, Directories: dirs, SchemaVersion: version}, nil
}

// SeedResult describes the seeded landing file.
type SeedResult struct {
	Path string `json:"landing_file"`
	Rows int    `json:"rows"`
}

type seedEvent struct {
	eventID string
	userID  string
	email   string
	ip      string
}

// One record lacks event_id so that ingest has something to quarantine.
var seedEvents = []seedEvent{
	{eventID: "e1", userID: "u1", email: "u1@example.com", ip: "1.1.1.1"},
	{eventID: "e2", userID: "u1", email: "u1@example.com", ip: "1.1.1.1"},
	{eventID: "e3", userID: "u2", email: "u2@example.com", ip: "2.2.2.2"},
	{userID: "u3", email: "u3@example.com", ip: "3.3.3.3"},
}

// Seed writes the demo landing file.
func (r *Runner) Seed(ctx context.Context, p governance.Principal) (*SeedResult, error) {
	if err := r.gate.Require(ctx, p, acl.Access{Write: []governance.Layer{governance.LayerLanding}}); err != nil {
		return nil, err
	}

	now := governance.Timestamp(r.now())
	var buf bytes.Buffer
	for _, e := range seedEvents {
		line, err := seedLine(e, now)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	path := r.layout.LandingEvents()
	if err := lake.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return nil, err
	}

	r.logger.Info("landing seeded", "path", path, "rows", len(seedEvents))
	return &SeedResult{Path: path, Rows: len(seedEvents)}, nil
}

func seedLine(e seedEvent, at string) ([]byte, error) {
	line := []byte("{}")
	var err error
	set := func(key, value string) {
		if err != nil {
			return
		}
		line, err = sjson.SetBytes(line, key, value)
	}
	if e.eventID != "" {
		set("event_id", e.eventID)
	}
	set("user_id", e.userID)
	set("event_time", at)
	set("email", e.email)
	set("ip_address", e.ip)
	set("source", lake.DefaultSource)
	if err != nil {
		return nil, fmt.Errorf("failed to encode seed record: %w", err)
	}
	return line, nil
}
