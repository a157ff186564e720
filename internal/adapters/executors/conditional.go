package executors

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

const (
	opEqual    = "equal"
	opNotEqual = "notEqual"

	combineAll = "all"
	combineAny = "any"
)

// ConditionalExecutor evaluates Parameters.conditions against the first
// input item and routes to the first declared branch when they hold, the
// second otherwise. Input items pass through unchanged.
type ConditionalExecutor struct {
	policy domain.ConditionalPolicy
	logger *slog.Logger
}

func NewConditionalExecutor(policy domain.ConditionalPolicy, logger *slog.Logger) *ConditionalExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = domain.ConditionalFallback
	}
	return &ConditionalExecutor{
		policy: policy,
		logger: logger.With("component", "conditional-executor"),
	}
}

func (e *ConditionalExecutor) Type() domain.NodeType {
	return domain.NodeTypeConditional
}

type condition struct {
	field string
	op    string
	value any
}

type conditionalParams struct {
	conditions []condition
	combine    string
	branches   []string
	policy     domain.ConditionalPolicy
}

func (e *ConditionalExecutor) Execute(ctx context.Context, node *domain.Node, input []domain.Item) (ports.StepOutcome, error) {
	if err := ctx.Err(); err != nil {
		return ports.StepOutcome{}, err
	}

	params, err := e.parse(node)
	if err != nil {
		return ports.StepOutcome{}, err
	}

	passthrough := domain.CloneItems(input)
	if passthrough == nil {
		passthrough = []domain.Item{}
	}

	if len(input) == 0 {
		return e.unevaluable(ctx, node, params, passthrough, "no input items")
	}

	result, reason := evaluate(params, input[0])
	if reason != "" {
		return e.unevaluable(ctx, node, params, passthrough, reason)
	}

	branch := params.branches[1]
	if result {
		branch = params.branches[0]
	}
	return ports.StepOutcome{Output: passthrough, Branch: branch}, nil
}

func (e *ConditionalExecutor) unevaluable(ctx context.Context, node *domain.Node, params conditionalParams, output []domain.Item, reason string) (ports.StepOutcome, error) {
	if params.policy == domain.ConditionalStrict {
		return ports.StepOutcome{}, domain.NewValidationError(domain.RulePredicate, node.ID, "predicate cannot be evaluated: %s", reason)
	}

	branch := params.branches[len(params.branches)-1]
	attrs := []any{
		"node_id", node.ID,
		"branch", branch,
		"reason", reason,
		"degraded", true,
	}
	if execCtx, ok := domain.GetExecutionContext(ctx); ok {
		attrs = append(attrs, "execution_id", execCtx.ExecutionID, "workflow_id", execCtx.WorkflowID)
	}
	e.logger.Warn("conditional fell back to last branch", attrs...)

	return ports.StepOutcome{Output: output, Branch: branch, Degraded: true}, nil
}

// evaluate returns the combined result, or a non-empty reason when the
// predicate cannot be evaluated.
func evaluate(params conditionalParams, item domain.Item) (bool, string) {
	for i, c := range params.conditions {
		actual, found := item.Lookup(c.field)
		if !found {
			return false, fmt.Sprintf("field %q is missing", c.field)
		}

		var holds bool
		switch c.op {
		case opEqual:
			holds = valuesEqual(actual, c.value)
		case opNotEqual:
			holds = !valuesEqual(actual, c.value)
		default:
			return false, fmt.Sprintf("conditions[%d]: unknown operator %q", i, c.op)
		}

		if params.combine == combineAny && holds {
			return true, ""
		}
		if params.combine == combineAll && !holds {
			return false, ""
		}
	}
	return params.combine == combineAll, ""
}

// valuesEqual compares numbers by value and other scalars by their string
// form, so 200 from JSON equals "200" from a YAML definition.
func valuesEqual(a, b any) bool {
	if an, ok := toFloat(a); ok {
		if bn, ok := toFloat(b); ok {
			return an == bn
		}
	}
	if isScalar(a) && isScalar(b) {
		as, _ := stringify(a)
		bs, _ := stringify(b)
		return as == bs
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int64:
		return true
	}
	return false
}

func (e *ConditionalExecutor) parse(node *domain.Node) (conditionalParams, error) {
	params := conditionalParams{
		combine:  combineAll,
		branches: node.Branches(),
		policy:   e.policy,
	}

	if combine, ok := stringParam(node.Parameters, "combine"); ok {
		if combine != combineAll && combine != combineAny {
			return params, parameterError(node, "combine must be %q or %q", combineAll, combineAny)
		}
		params.combine = combine
	}

	if onError, ok := stringParam(node.Parameters, "onError"); ok {
		switch domain.ConditionalPolicy(onError) {
		case domain.ConditionalFallback, domain.ConditionalStrict:
			params.policy = domain.ConditionalPolicy(onError)
		default:
			return params, parameterError(node, "onError must be %q or %q", domain.ConditionalFallback, domain.ConditionalStrict)
		}
	}

	if len(params.branches) != 2 {
		return params, parameterError(node, "conditional declares %d branches, want 2", len(params.branches))
	}

	specs, err := objectListParam(node.Parameters, "conditions")
	if err != nil {
		return params, parameterError(node, "%v", err)
	}
	if len(specs) == 0 {
		return params, parameterError(node, "at least one condition is required")
	}
	for _, spec := range specs {
		field, _ := stringParam(spec, "field")
		op, _ := stringParam(spec, "op")
		if op == "" {
			op = opEqual
		}
		params.conditions = append(params.conditions, condition{field: field, op: op, value: spec["value"]})
	}
	return params, nil
}

// CheckParameters rejects what parse rejects plus empty fields. An unknown
// operator is rejected under the strict policy; under fallback it is accepted
// and the node takes its last branch at run time, marked degraded.
func (e *ConditionalExecutor) CheckParameters(node *domain.Node) error {
	params, err := e.parse(node)
	if err != nil {
		return err
	}
	for i, c := range params.conditions {
		if c.field == "" {
			return parameterError(node, "conditions[%d]: field is required", i)
		}
		if c.op == opEqual || c.op == opNotEqual {
			continue
		}
		if params.policy == domain.ConditionalStrict {
			return parameterError(node, "conditions[%d]: unknown operator %q", i, c.op)
		}
		e.logger.Warn("conditional uses an unknown operator and will always fall back",
			"node_id", node.ID,
			"condition", i,
			"op", c.op)
	}
	return nil
}
