package executors

import (
	"context"
	"testing"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conditionalNode(params map[string]any) *domain.Node {
	return &domain.Node{ID: "check", Type: domain.NodeTypeConditional, Parameters: params}
}

func statusCheck(extra map[string]any) *domain.Node {
	params := map[string]any{
		"conditions": []any{map[string]any{"field": "status", "op": "equal", "value": "unhealthy"}},
	}
	for k, v := range extra {
		params[k] = v
	}
	return conditionalNode(params)
}

func TestConditionalRoutesOnPredicate(t *testing.T) {
	exec := NewConditionalExecutor(domain.ConditionalFallback, nil)
	node := statusCheck(nil)

	outcome, err := exec.Execute(context.Background(), node, []domain.Item{{"status": "unhealthy", "service": "vercel"}})
	require.NoError(t, err)
	assert.Equal(t, "true", outcome.Branch)
	assert.False(t, outcome.Degraded)
	assert.Equal(t, []domain.Item{{"status": "unhealthy", "service": "vercel"}}, outcome.Output)

	outcome, err = exec.Execute(context.Background(), node, []domain.Item{{"status": "healthy"}})
	require.NoError(t, err)
	assert.Equal(t, "false", outcome.Branch)
}

func TestConditionalCustomBranchesAndCombine(t *testing.T) {
	exec := NewConditionalExecutor(domain.ConditionalFallback, nil)
	node := conditionalNode(map[string]any{
		"branches": []any{"paid", "other"},
		"combine":  "any",
		"conditions": []any{
			map[string]any{"field": "type", "value": "invoice.payment_succeeded"},
			map[string]any{"field": "amount_paid", "op": "notEqual", "value": float64(0)},
		},
	})
	require.NoError(t, exec.CheckParameters(node))

	outcome, err := exec.Execute(context.Background(), node, []domain.Item{{"type": "invoice.created", "amount_paid": float64(4990)}})
	require.NoError(t, err)
	assert.Equal(t, "paid", outcome.Branch)

	outcome, err = exec.Execute(context.Background(), node, []domain.Item{{"type": "invoice.created", "amount_paid": float64(0)}})
	require.NoError(t, err)
	assert.Equal(t, "other", outcome.Branch)
}

func TestConditionalComparesNumbersLoosely(t *testing.T) {
	assert.True(t, valuesEqual(float64(200), 200))
	assert.True(t, valuesEqual(float64(200), "200"))
	assert.True(t, valuesEqual(true, "true"))
	assert.False(t, valuesEqual("a", "b"))
	assert.True(t, valuesEqual([]any{"a"}, []any{"a"}))
}

func TestConditionalFallbackPolicy(t *testing.T) {
	exec := NewConditionalExecutor(domain.ConditionalFallback, nil)

	outcome, err := exec.Execute(context.Background(), statusCheck(nil), []domain.Item{{"service": "stripe"}})
	require.NoError(t, err)
	assert.Equal(t, "false", outcome.Branch)
	assert.True(t, outcome.Degraded)

	outcome, err = exec.Execute(context.Background(), statusCheck(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, "false", outcome.Branch)
	assert.True(t, outcome.Degraded)
	assert.Empty(t, outcome.Output)
}

func TestConditionalStrictPolicy(t *testing.T) {
	exec := NewConditionalExecutor(domain.ConditionalStrict, nil)

	_, err := exec.Execute(context.Background(), statusCheck(nil), []domain.Item{{"service": "stripe"}})
	require.Error(t, err)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, domain.RulePredicate, vErr.Rule)
	assert.Equal(t, "check", vErr.NodeID)
}

func TestConditionalNodeOverridesPolicy(t *testing.T) {
	strict := NewConditionalExecutor(domain.ConditionalStrict, nil)
	outcome, err := strict.Execute(context.Background(), statusCheck(map[string]any{"onError": "fallback"}), []domain.Item{{}})
	require.NoError(t, err)
	assert.True(t, outcome.Degraded)

	lenient := NewConditionalExecutor(domain.ConditionalFallback, nil)
	_, err = lenient.Execute(context.Background(), statusCheck(map[string]any{"onError": "strict"}), []domain.Item{{}})
	assert.True(t, domain.IsValidationError(err))
}

func TestConditionalCheckParameters(t *testing.T) {
	exec := NewConditionalExecutor("", nil)

	for name, params := range map[string]map[string]any{
		"no conditions":  {},
		"strict unknown": {"onError": "strict", "conditions": []any{map[string]any{"field": "a", "op": "contains", "value": "x"}}},
		"empty field":    {"conditions": []any{map[string]any{"op": "equal", "value": "x"}}},
		"bad combine":    {"combine": "xor", "conditions": []any{map[string]any{"field": "a"}}},
		"three branches": {"branches": []any{"a", "b", "c"}, "conditions": []any{map[string]any{"field": "a"}}},
		"bad onError":    {"onError": "ignore", "conditions": []any{map[string]any{"field": "a"}}},
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, domain.IsValidationError(exec.CheckParameters(conditionalNode(params))))
		})
	}
}

func TestConditionalUnknownOperatorFollowsPolicy(t *testing.T) {
	node := conditionalNode(map[string]any{
		"conditions": []any{map[string]any{"field": "amount", "op": "greaterThan", "value": 100}},
	})

	lenient := NewConditionalExecutor(domain.ConditionalFallback, nil)
	require.NoError(t, lenient.CheckParameters(node))

	outcome, err := lenient.Execute(context.Background(), node, []domain.Item{{"amount": 250}})
	require.NoError(t, err)
	assert.Equal(t, "false", outcome.Branch)
	assert.True(t, outcome.Degraded)

	strict := NewConditionalExecutor(domain.ConditionalStrict, nil)
	err = strict.CheckParameters(node)
	require.True(t, domain.IsValidationError(err))
	assert.Contains(t, err.Error(), `unknown operator "greaterThan"`)
}
