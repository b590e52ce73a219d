package acl

import (
	"context"

	"github.com/leapstack-labs/lakegov/internal/governance"
)

// Access lists the layers an operation reads and writes.
type Access struct {
	Read  []governance.Layer
	Write []governance.Layer
}

// Gate decides whether a principal may read or write a layer. It has no side
// effects and does not log outcomes; auditing the surrounding run is the
// caller's job.
type Gate struct {
	source PolicySource
	eval   *evaluator
}

// NewGate compiles the access rule and binds it to a policy source.
func NewGate(ctx context.Context, source PolicySource) (*Gate, error) {
	eval, err := newEvaluator(ctx)
	if err != nil {
		return nil, err
	}
	return &Gate{source: source, eval: eval}, nil
}

// CheckRead fails with *governance.AccessDenied unless p may read layer.
func (g *Gate) CheckRead(ctx context.Context, p governance.Principal, layer governance.Layer) error {
	return g.Check(ctx, p, layer, governance.ModeRead)
}

// CheckWrite fails with *governance.AccessDenied unless p may write layer.
func (g *Gate) CheckWrite(ctx context.Context, p governance.Principal, layer governance.Layer) error {
	return g.Check(ctx, p, layer, governance.ModeWrite)
}

// Check evaluates a single (role, layer, mode) decision.
func (g *Gate) Check(ctx context.Context, p governance.Principal, layer governance.Layer, mode governance.Mode) error {
	policy, err := g.source.Policy(ctx)
	if err != nil {
		return err
	}
	return g.decide(ctx, policy, p, layer, mode)
}

// Require checks every read and write in access against one policy snapshot,
// reads first. Stages call it before any I/O.
func (g *Gate) Require(ctx context.Context, p governance.Principal, access Access) error {
	policy, err := g.source.Policy(ctx)
	if err != nil {
		return err
	}
	for _, layer := range access.Read {
		if err := g.decide(ctx, policy, p, layer, governance.ModeRead); err != nil {
			return err
		}
	}
	for _, layer := range access.Write {
		if err := g.decide(ctx, policy, p, layer, governance.ModeWrite); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gate) decide(ctx context.Context, policy *Policy, p governance.Principal, layer governance.Layer, mode governance.Mode) error {
	ok, err := g.eval.allowed(ctx, policy.regoInput(p.Role, layer, mode))
	if err != nil {
		return err
	}
	if !ok {
		return &governance.AccessDenied{Role: p.Role, Layer: layer, Mode: mode}
	}
	return nil
}
