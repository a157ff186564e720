package executors

import (
	"context"
	"testing"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardRegistryCoversEveryNodeType(t *testing.T) {
	registry := NewStandardRegistry(Dependencies{HTTP: domain.DefaultHTTPConfig()})

	for _, nodeType := range []domain.NodeType{
		domain.NodeTypeTrigger,
		domain.NodeTypeFunction,
		domain.NodeTypeHTTPRequest,
		domain.NodeTypeConditional,
	} {
		executor, ok := registry.Get(nodeType)
		require.True(t, ok, nodeType)
		assert.Equal(t, nodeType, executor.Type())
	}
}

func TestRegistryCheckParameters(t *testing.T) {
	registry := NewStandardRegistry(Dependencies{})

	err := registry.CheckParameters(&domain.Node{ID: "x", Type: "script"})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, domain.RuleUnknownType, vErr.Rule)

	err = registry.CheckParameters(&domain.Node{ID: "call", Type: domain.NodeTypeHTTPRequest})
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "call", vErr.NodeID)
	assert.Equal(t, domain.RuleParameters, vErr.Rule)
}

func TestTriggerExecutor(t *testing.T) {
	exec := NewTriggerExecutor()
	payload := domain.Item{"type": "invoice.payment_succeeded"}

	outcome, err := exec.Execute(context.Background(), &domain.Node{ID: "t"}, []domain.Item{payload})
	require.NoError(t, err)
	require.Len(t, outcome.Output, 1)
	assert.Equal(t, payload, outcome.Output[0])

	outcome.Output[0]["type"] = "changed"
	assert.Equal(t, "invoice.payment_succeeded", payload["type"])

	outcome, err = exec.Execute(context.Background(), &domain.Node{ID: "t"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.Item{{}}, outcome.Output)
}

func TestTriggerCheckParameters(t *testing.T) {
	exec := NewTriggerExecutor()
	check := func(params map[string]any) error {
		return exec.CheckParameters(&domain.Node{ID: "t", Type: domain.NodeTypeTrigger, Parameters: params})
	}

	assert.NoError(t, check(nil))
	assert.NoError(t, check(map[string]any{"path": "stripe-webhook"}))
	assert.NoError(t, check(map[string]any{"interval": "15m", "policy": "allow_overlap", "max_concurrent": 2}))
	assert.Error(t, check(map[string]any{"path": "/leading"}))
	assert.Error(t, check(map[string]any{"path": "a", "interval": "1m"}))
	assert.Error(t, check(map[string]any{"interval": "10ms"}))
	assert.Error(t, check(map[string]any{"interval": "15m", "policy": "whenever"}))
}
