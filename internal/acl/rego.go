package acl

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed acl.rego
var aclModule string

const aclQuery = "data.lakegov.acl.allow"

// evaluator holds the compiled access rule.
type evaluator struct {
	query rego.PreparedEvalQuery
}

func newEvaluator(ctx context.Context) (*evaluator, error) {
	prepared, err := rego.New(
		rego.Query(aclQuery),
		rego.Module("acl.rego", aclModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile access policy: %w", err)
	}
	return &evaluator{query: prepared}, nil
}

func (e *evaluator) allowed(ctx context.Context, input map[string]any) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate access policy: %w", err)
	}
	return rs.Allowed(), nil
}
