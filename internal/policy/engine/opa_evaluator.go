package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const (
	requiresDelegatedQuery = "data.langchef.access.requires_delegated"
	allowQuery             = "data.langchef.access.allow"
)

// DefaultPolicy is the built-in access policy. Operations listed in delegated_operations need
// live delegated credentials; everything else only needs an active user.
const DefaultPolicy = `package langchef.access

default requires_delegated := false

default allow := false

delegated_operations := {"models.bedrock"}

requires_delegated if {
	delegated_operations[input.operation]
}

allow if {
	input.user.active
	not requires_delegated
}

allow if {
	input.user.active
	requires_delegated
	input.user.has_delegated
	input.user.delegated_valid
}
`

// ErrNoResult is returned when a policy query yields no boolean value.
var ErrNoResult = errors.New("policy: query returned no result")

// OPAEvaluator evaluates the langchef.access Rego policy in process. Queries are prepared once.
type OPAEvaluator struct {
	requires rego.PreparedEvalQuery
	allow    rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy (DefaultPolicy when empty) and prepares its queries.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"access.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile access policy: %w", err)
	}
	requires, err := rego.New(rego.Query(requiresDelegatedQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", requiresDelegatedQuery, err)
	}
	allow, err := rego.New(rego.Query(allowQuery), rego.Compiler(compiler)).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", allowQuery, err)
	}
	return &OPAEvaluator{requires: requires, allow: allow}, nil
}

// LoadPolicyFile returns the contents of path, or "" when path is empty.
func LoadPolicyFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read access policy: %w", err)
	}
	return string(b), nil
}

// HealthCheck evaluates both queries against a minimal input. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	if _, err := e.RequiresDelegated(ctx, OperationModelsList); err != nil {
		return err
	}
	_, err := e.Allow(ctx, AccessInput{Operation: OperationModelsList})
	return err
}

// RequiresDelegated reports whether operation needs live delegated credentials.
func (e *OPAEvaluator) RequiresDelegated(ctx context.Context, operation string) (bool, error) {
	return evalBool(ctx, e.requires, map[string]interface{}{"operation": operation})
}

// Allow evaluates the allow rule for in. A nil user is evaluated as inactive.
func (e *OPAEvaluator) Allow(ctx context.Context, in AccessInput) (bool, error) {
	user := map[string]interface{}{
		"id":              "",
		"active":          false,
		"has_delegated":   false,
		"delegated_valid": in.DelegatedValid,
	}
	if in.User != nil {
		user["id"] = in.User.ID
		user["active"] = in.User.Active
		user["has_delegated"] = in.User.HasDelegatedAccess()
	}
	return evalBool(ctx, e.allow, map[string]interface{}{
		"operation": in.Operation,
		"user":      user,
	})
}

func evalBool(ctx context.Context, q rego.PreparedEvalQuery, input map[string]interface{}) (bool, error) {
	rs, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval access policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, ErrNoResult
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, ErrNoResult
	}
	return v, nil
}

var _ Evaluator = (*OPAEvaluator)(nil)
