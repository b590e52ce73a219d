package stages

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/leapstack-labs/lakegov/internal/acl"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/leapstack-labs/lakegov/internal/lake"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// RequiredFields must be present and non-empty for a landing record to enter
// raw.
var RequiredFields = []string{"event_id", "user_id", "event_time"}

// IngestResult describes an ingest run.
type IngestResult struct {
	Result
	Quarantine string `json:"quarantine"`
	Good       int    `json:"good"`
	Bad        int    `json:"bad"`
}

// Ingest copies valid landing records into the raw partition for dt and
// source, stamping provenance fields, and sends records missing a required
// field to quarantine.
func (r *Runner) Ingest(ctx context.Context, p governance.Principal, source, dt string) (*IngestResult, error) {
	dt, err := governance.ResolveDate(dt)
	if err != nil {
		return nil, err
	}
	if source == "" {
		source = lake.DefaultSource
	}
	err = r.gate.Require(ctx, p, acl.Access{
		Read:  []governance.Layer{governance.LayerLanding},
		Write: []governance.Layer{governance.LayerRaw, governance.LayerQuarantine, governance.LayerWarehouse},
	})
	if err != nil {
		return nil, err
	}

	landing := r.layout.LandingEvents()
	if err := requireInput(landing, "lakegov seed"); err != nil {
		return nil, err
	}

	res := &IngestResult{
		Result:     Result{Dt: dt, Input: landing, Output: r.layout.RawPartition(dt, source)},
		Quarantine: r.layout.QuarantinePartition(dt, lake.ReasonMissingID),
	}
	res.RunID, err = r.track(ctx, audit.PipelineIngest, landing, func(string) (outcome, error) {
		lines, err := readLines(landing)
		if err != nil {
			return outcome{}, err
		}

		var good, bad bytes.Buffer
		ingestedAt := governance.Timestamp(r.now())
		for i, line := range lines {
			if !gjson.ValidBytes(line) {
				return outcome{}, fmt.Errorf("landing record %d is not valid JSON", i+1)
			}
			if !hasRequired(line) {
				res.Bad++
				bad.Write(line)
				bad.WriteByte('\n')
				continue
			}
			enriched, err := enrich(line, ingestedAt, source, landing)
			if err != nil {
				return outcome{}, err
			}
			res.Good++
			good.Write(enriched)
			good.WriteByte('\n')
		}

		if err := lake.WriteFileAtomic(res.Output, good.Bytes()); err != nil {
			return outcome{}, err
		}
		if err := lake.WriteFileAtomic(res.Quarantine, bad.Bytes()); err != nil {
			return outcome{}, err
		}
		res.Rows = res.Good
		return outcome{output: res.Output, details: fmt.Sprintf("good=%d,bad=%d", res.Good, res.Bad)}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func hasRequired(line []byte) bool {
	for _, field := range RequiredFields {
		v := gjson.GetBytes(line, field)
		if !v.Exists() || v.Type == gjson.Null || v.String() == "" {
			return false
		}
	}
	return true
}

func enrich(line []byte, ingestedAt, source, rawFile string) ([]byte, error) {
	out, err := sjson.SetBytes(line, "_ingested_at", ingestedAt)
	if err == nil {
		out, err = sjson.SetBytes(out, "_source", source)
	}
	if err == nil {
		out, err = sjson.SetBytes(out, "_raw_file", rawFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to enrich landing record: %w", err)
	}
	return out, nil
}

// readLines returns the non-empty lines of a JSONL file.
func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		lines = append(lines, bytes.Clone(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}
