package definitions

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/eleven-am/regiflow/internal/adapters/executors"
	"github.com/eleven-am/regiflow/internal/adapters/validator"
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paymentsYAML = `
id: payments
nodes:
  - id: webhook
    type: trigger
    parameters: { path: stripe-webhook }
  - id: check
    name: Payment succeeded?
    type: conditional
    parameters:
      conditions:
        - { field: type, value: invoice.payment_succeeded }
  - id: activate
    name: Activate account
    type: function
    parameters:
      operations:
        - { op: set, field: action, value: activate, attempts: 3 }
  - id: ignore
    type: function
    parameters:
      operations:
        - { op: set, field: action, value: ignore }
connections:
  webhook: [check]
  Payment succeeded?:
    main:
      - [Activate account]
      - [{ node: ignore, type: main, index: 0 }]
`

const paymentsJSON = `{
  "id": "payments",
  "nodes": [
    {"id": "webhook", "type": "trigger", "parameters": {"path": "stripe-webhook"}},
    {"id": "check", "name": "Payment succeeded?", "type": "conditional",
     "parameters": {"conditions": [{"field": "type", "value": "invoice.payment_succeeded"}]}},
    {"id": "activate", "name": "Activate account", "type": "function",
     "parameters": {"operations": [{"op": "set", "field": "action", "value": "activate", "attempts": 3}]}},
    {"id": "ignore", "type": "function",
     "parameters": {"operations": [{"op": "set", "field": "action", "value": "ignore"}]}}
  ],
  "connections": {
    "webhook": {"main": [["check"]]},
    "check": [["activate"], ["ignore"]]
  }
}`

const paymentsHCL = `
workflow "payments" {
  node "webhook" {
    type       = "trigger"
    parameters = { path = "stripe-webhook" }
  }

  node "check" {
    name = "Payment succeeded?"
    type = "conditional"
    parameters = {
      conditions = [{ field = "type", value = "invoice.payment_succeeded" }]
    }
  }

  node "activate" {
    name = "Activate account"
    type = "function"
    parameters = {
      operations = [{ op = "set", field = "action", value = "activate", attempts = 3 }]
    }
  }

  node "ignore" {
    type = "function"
    parameters = {
      operations = [{ op = "set", field = "action", value = "ignore" }]
    }
  }

  edge {
    from = "webhook"
    to   = "check"
  }

  connections = {
    check = [["activate"], ["ignore"]]
  }
}
`

func standardValidator() *validator.GraphValidator {
	return validator.New(executors.NewStandardRegistry(executors.Dependencies{}), nil)
}

func TestParseYAMLConnections(t *testing.T) {
	defs, err := Parse([]byte(paymentsYAML), FormatYAML, "payments.yaml")
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "payments", def.ID)
	assert.Equal(t, "payments", def.Name, "name defaults to the id")

	require.Len(t, def.Edges, 3)
	assert.Equal(t, domain.Edge{From: "webhook", To: "check"}, def.Edges[0])
	assert.Equal(t, "activate", def.Edges[1].To, "targets resolve by node name")
	assert.Equal(t, "true", def.Edges[1].BranchLabel())
	assert.Equal(t, "ignore", def.Edges[2].To)
	assert.Equal(t, "false", def.Edges[2].BranchLabel())

	node, ok := def.Node("ignore")
	require.True(t, ok)
	assert.Equal(t, "ignore", node.Name, "node name defaults to the id")

	require.NoError(t, standardValidator().Validate(def))
}

func TestParseFormatsAgree(t *testing.T) {
	fromYAML, err := Parse([]byte(paymentsYAML), FormatYAML, "payments.yaml")
	require.NoError(t, err)
	fromJSON, err := Parse([]byte(paymentsJSON), FormatJSON, "payments.json")
	require.NoError(t, err)
	fromHCL, err := Parse([]byte(paymentsHCL), FormatHCL, "payments.hcl")
	require.NoError(t, err)

	assert.Equal(t, fromYAML, fromJSON)
	assert.Equal(t, fromYAML, fromHCL)

	activate, _ := fromHCL[0].Node("activate")
	ops := activate.Parameters["operations"].([]any)
	assert.Equal(t, float64(3), ops[0].(map[string]any)["attempts"], "numbers are float64 in every format")
}

func TestParseMultipleWorkflows(t *testing.T) {
	yamlDocs := `
id: first
nodes: [{ id: t, type: trigger }]
---
id: second
nodes: [{ id: t, type: trigger }]
`
	defs, err := Parse([]byte(yamlDocs), FormatYAML, "two.yaml")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "second", defs[1].ID)
	assert.Empty(t, defs[1].Edges)

	jsonList := `[{"id": "a", "nodes": [{"id": "t", "type": "trigger"}]}, {"id": "b", "nodes": [{"id": "t", "type": "trigger"}]}]`
	defs, err = Parse([]byte(jsonList), FormatJSON, "two.json")
	require.NoError(t, err)
	require.Len(t, defs, 2)

	hclBlocks := `
workflow "a" {
  node "t" { type = "trigger" }
}
workflow "b" {
  node "t" {
    type     = "trigger"
    position = [240, 300]
  }
}
`
	defs, err = Parse([]byte(hclBlocks), FormatHCL, "two.hcl")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, [2]float64{240, 300}, defs[1].Nodes[0].Position)
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name   string
		format Format
		input  string
		errMsg string
	}{
		{
			name:   "missing id",
			format: FormatYAML,
			input:  "name: nameless\nnodes: [{ id: t, type: trigger }]",
			errMsg: "workflow id is required",
		},
		{
			name:   "unknown connection source",
			format: FormatYAML,
			input:  "id: w\nnodes: [{ id: t, type: trigger }]\nconnections: { ghost: [t] }",
			errMsg: `unknown source node "ghost"`,
		},
		{
			name:   "second output on a non-conditional",
			format: FormatYAML,
			input:  "id: w\nnodes: [{ id: t, type: trigger }, { id: a, type: function }]\nconnections: { t: [[a], [a]] }",
			errMsg: "only a conditional has more than one output",
		},
		{
			name:   "more outputs than branches",
			format: FormatYAML,
			input:  "id: w\nnodes: [{ id: c, type: conditional }, { id: a, type: function }]\nconnections: { c: [[a], [a], [a]] }",
			errMsg: "3 outputs but the conditional declares 2 branches",
		},
		{
			name:   "mixed output shapes",
			format: FormatJSON,
			input:  `{"id": "w", "nodes": [{"id": "t", "type": "trigger"}], "connections": {"t": ["a", ["b"]]}}`,
			errMsg: "mix lists and single targets",
		},
		{
			name:   "duplicate workflow ids",
			format: FormatYAML,
			input:  "id: w\n---\nid: w\n",
			errMsg: "defined more than once",
		},
		{
			name:   "no workflows",
			format: FormatJSON,
			input:  "{}",
			errMsg: "defines no workflows",
		},
		{
			name:   "hcl syntax",
			format: FormatHCL,
			input:  `workflow "w" {`,
			errMsg: "failed to parse",
		},
		{
			name:   "hcl node without type",
			format: FormatHCL,
			input: `
workflow "w" {
  node "t" {
    name = "no type"
  }
}`,
			errMsg: "type",
		},
		{
			name:   "hcl parameters not an object",
			format: FormatHCL,
			input: `
workflow "w" {
  node "t" {
    type       = "trigger"
    parameters = "x"
  }
}`,
			errMsg: "expected an object",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.input), tc.format, "input")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestFormatFor(t *testing.T) {
	for path, want := range map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.json": FormatJSON,
		"a.hcl":  FormatHCL,
	} {
		got, err := FormatFor(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}

	_, err := FormatFor("a.toml")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(paymentsHCL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"),
		[]byte("id: other\nnodes: [{ id: t, type: trigger }]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.yaml"), 0o755))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "other", defs[0].ID)
	assert.Equal(t, "payments", defs[1].ID)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.json"), []byte(paymentsJSON), 0o644))
	_, err = LoadDir(dir)
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "payments is now defined twice")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
