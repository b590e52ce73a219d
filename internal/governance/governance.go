// Package governance defines the vocabulary shared by every lakegov component:
// storage layers, access modes, the caller principal and the error taxonomy.
package governance

import (
	"fmt"
	"time"
)

// Layer names a stage of the data lake. Each layer has its own access policy.
type Layer string

// Lake layers. Warehouse is the pseudo-layer holding the audit ledger, the
// lineage log and evidence artifacts.
const (
	LayerLanding       Layer = "landing"
	LayerRaw           Layer = "raw"
	LayerQuarantine    Layer = "quarantine"
	LayerClean         Layer = "clean"
	LayerCurated       Layer = "curated"
	LayerServing       Layer = "serving"
	LayerRestrictedPII Layer = "restricted_pii"
	LayerExports       Layer = "exports"
	LayerWarehouse     Layer = "warehouse"
)

// Layers lists every known layer in pipeline order.
var Layers = []Layer{
	LayerLanding,
	LayerRaw,
	LayerQuarantine,
	LayerClean,
	LayerCurated,
	LayerServing,
	LayerRestrictedPII,
	LayerExports,
	LayerWarehouse,
}

// IsKnown reports whether l is one of the lake layers.
func (l Layer) IsKnown() bool {
	for _, known := range Layers {
		if l == known {
			return true
		}
	}
	return false
}

// Mode is the kind of access requested on a layer.
type Mode string

// Access modes.
const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// DefaultRole is the role used when none is configured.
const DefaultRole = "analyst"

// Principal is the caller identity threaded through every stage and
// governance operation. It is resolved once at the process boundary.
type Principal struct {
	Role string
}

// NewPrincipal returns a principal for role, falling back to DefaultRole.
func NewPrincipal(role string) Principal {
	if role == "" {
		role = DefaultRole
	}
	return Principal{Role: role}
}

func (p Principal) String() string {
	return "role=" + p.Role
}

// DateLayout is the partition date format.
const DateLayout = "2006-01-02"

// Today returns the current UTC partition date.
func Today() string {
	return time.Now().UTC().Format(DateLayout)
}

// ResolveDate returns dt, or today when dt is empty. A non-empty dt must be a
// valid partition date.
func ResolveDate(dt string) (string, error) {
	if dt == "" {
		return Today(), nil
	}
	if _, err := time.Parse(DateLayout, dt); err != nil {
		return "", fmt.Errorf("invalid partition date %q: expected YYYY-MM-DD", dt)
	}
	return dt, nil
}

// TimestampLayout is RFC3339 with fixed-width nanoseconds, so stored
// timestamps sort lexically in time order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Timestamp formats t as the UTC string stored in audit records.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
