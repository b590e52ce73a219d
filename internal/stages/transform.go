package stages

import (
	"context"
	"fmt"
	"sort"

	"github.com/leapstack-labs/lakegov/internal/acl"
	"github.com/leapstack-labs/lakegov/internal/audit"
	"github.com/leapstack-labs/lakegov/internal/governance"
	"github.com/leapstack-labs/lakegov/internal/lake"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

func varchar(name string) lake.Column { return lake.Column{Name: name, Type: "VARCHAR"} }

// Clean converts the raw partition for dt into the clean layer, replacing
// email and IP address with tokens.
func (r *Runner) Clean(ctx context.Context, p governance.Principal, dt string) (*Result, error) {
	dt, err := governance.ResolveDate(dt)
	if err != nil {
		return nil, err
	}
	err = r.gate.Require(ctx, p, acl.Access{
		Read:  []governance.Layer{governance.LayerRaw},
		Write: []governance.Layer{governance.LayerClean, governance.LayerWarehouse},
	})
	if err != nil {
		return nil, err
	}

	raw := r.layout.RawPartition(dt, lake.DefaultSource)
	if err := requireInput(raw, "lakegov ingest"); err != nil {
		return nil, err
	}

	res := &Result{Dt: dt, Input: raw, Output: r.layout.Partition(lake.CleanEvents, dt)}
	res.RunID, err = r.track(ctx, audit.PipelineClean, raw, func(string) (outcome, error) {
		lines, err := readLines(raw)
		if err != nil {
			return outcome{}, err
		}

		t := lake.NewTable(varchar("event_id"), varchar("user_id"), varchar("event_time"),
			varchar("email_token"), varchar("ip_token"))
		for _, line := range lines {
			rec := gjson.ParseBytes(line)
			t.Append(
				rec.Get("event_id").String(),
				rec.Get("user_id").String(),
				rec.Get("event_time").String(),
				r.tokenizer.Token(rec.Get("email").String()),
				r.tokenizer.Token(rec.Get("ip_address").String()),
			)
		}

		if err := r.writePartition(ctx, res.Output, t); err != nil {
			return outcome{}, err
		}
		res.Rows = t.Len()
		return outcome{output: res.Output, details: rowsDetail(res.Rows)}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Curate aggregates the clean partition for dt into one fact row per user:
// the event count and the latest event time.
func (r *Runner) Curate(ctx context.Context, p governance.Principal, dt string) (*Result, error) {
	dt, err := governance.ResolveDate(dt)
	if err != nil {
		return nil, err
	}
	err = r.gate.Require(ctx, p, acl.Access{
		Read:  []governance.Layer{governance.LayerClean},
		Write: []governance.Layer{governance.LayerCurated, governance.LayerWarehouse},
	})
	if err != nil {
		return nil, err
	}

	clean := r.layout.Partition(lake.CleanEvents, dt)
	if err := requireInput(clean, "lakegov clean"); err != nil {
		return nil, err
	}

	res := &Result{Dt: dt, Input: clean, Output: r.layout.Partition(lake.CuratedFacts, dt)}
	res.RunID, err = r.track(ctx, audit.PipelineCurate, clean, func(string) (outcome, error) {
		src, err := lake.Source(clean)
		if err != nil {
			return outcome{}, err
		}
		t, err := r.store.Query(ctx, `
			SELECT CAST(? AS VARCHAR) AS dt,
			       CAST(user_id AS VARCHAR) AS user_id,
			       CAST(COUNT(*) AS BIGINT) AS events,
			       CAST(COALESCE(MAX(event_time), '') AS VARCHAR) AS last_event_time
			FROM `+src+`
			WHERE user_id IS NOT NULL
			GROUP BY user_id
			ORDER BY user_id`, dt)
		if err != nil {
			return outcome{}, fmt.Errorf("failed to aggregate %s: %w", clean, err)
		}

		if err := r.writePartition(ctx, res.Output, t); err != nil {
			return outcome{}, err
		}
		res.Rows = t.Len()
		return outcome{output: res.Output, details: rowsDetail(res.Rows)}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Serve publishes the curated facts for dt as user metrics.
func (r *Runner) Serve(ctx context.Context, p governance.Principal, dt string) (*Result, error) {
	dt, err := governance.ResolveDate(dt)
	if err != nil {
		return nil, err
	}
	err = r.gate.Require(ctx, p, acl.Access{
		Read:  []governance.Layer{governance.LayerCurated},
		Write: []governance.Layer{governance.LayerServing, governance.LayerWarehouse},
	})
	if err != nil {
		return nil, err
	}

	curated := r.layout.Partition(lake.CuratedFacts, dt)
	if err := requireInput(curated, "lakegov curate"); err != nil {
		return nil, err
	}

	res := &Result{Dt: dt, Input: curated, Output: r.layout.Partition(lake.ServingMetrics, dt)}
	res.RunID, err = r.track(ctx, audit.PipelineServe, curated, func(string) (outcome, error) {
		src, err := lake.Source(curated)
		if err != nil {
			return outcome{}, err
		}
		t, err := r.store.Query(ctx, `
			SELECT CAST(dt AS VARCHAR) AS dt,
			       CAST(user_id AS VARCHAR) AS user_id,
			       CAST(events AS BIGINT) AS events,
			       CAST(last_event_time AS VARCHAR) AS last_seen
			FROM `+src+`
			ORDER BY user_id`)
		if err != nil {
			return outcome{}, fmt.Errorf("failed to read %s: %w", curated, err)
		}

		if err := r.writePartition(ctx, res.Output, t); err != nil {
			return outcome{}, err
		}
		res.Rows = t.Len()
		return outcome{output: res.Output, details: rowsDetail(res.Rows)}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// BuildIdentity extracts the latest email per user from the raw partition for
// dt into the restricted identity layer.
func (r *Runner) BuildIdentity(ctx context.Context, p governance.Principal, dt string) (*Result, error) {
	dt, err := governance.ResolveDate(dt)
	if err != nil {
		return nil, err
	}
	err = r.gate.Require(ctx, p, acl.Access{
		Read:  []governance.Layer{governance.LayerRaw},
		Write: []governance.Layer{governance.LayerRestrictedPII, governance.LayerWarehouse},
	})
	if err != nil {
		return nil, err
	}

	raw := r.layout.RawPartition(dt, lake.DefaultSource)
	if err := requireInput(raw, "lakegov ingest"); err != nil {
		return nil, err
	}

	res := &Result{Dt: dt, Input: raw, Output: r.layout.Partition(lake.Identity, dt)}
	res.RunID, err = r.track(ctx, audit.PipelineBuildIdentity, raw, func(string) (outcome, error) {
		lines, err := readLines(raw)
		if err != nil {
			return outcome{}, err
		}

		latest := make(map[string]string)
		for _, line := range lines {
			uid := gjson.GetBytes(line, "user_id").String()
			email := gjson.GetBytes(line, "email").String()
			if uid != "" && email != "" {
				latest[uid] = email
			}
		}
		users := lo.Keys(latest)
		sort.Strings(users)

		t := lake.NewTable(varchar("dt"), varchar("user_id"), varchar("email"))
		for _, uid := range users {
			t.Append(dt, uid, latest[uid])
		}

		if err := r.writePartition(ctx, res.Output, t); err != nil {
			return outcome{}, err
		}
		res.Rows = t.Len()
		return outcome{output: res.Output, details: rowsDetail(res.Rows)}, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
