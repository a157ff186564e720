package domain

import (
	"time"
)

type NodeType string

const (
	NodeTypeTrigger     NodeType = "trigger"
	NodeTypeFunction    NodeType = "function"
	NodeTypeHTTPRequest NodeType = "httpRequest"
	NodeTypeConditional NodeType = "conditional"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeTrigger, NodeTypeFunction, NodeTypeHTTPRequest, NodeTypeConditional:
		return true
	}
	return false
}

// WorkflowDefinition is an immutable snapshot of a workflow graph. A snapshot is
// addressed by (ID, Version); updates produce a new version rather than
// mutating the stored one.
type WorkflowDefinition struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Active      bool      `json:"active" yaml:"active"`
	Version     int64     `json:"version" yaml:"version"`
	Tags        []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Nodes       []Node    `json:"nodes" yaml:"nodes"`
	Edges       []Edge    `json:"edges" yaml:"edges"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

type Node struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Type       NodeType       `json:"type" yaml:"type"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Position   [2]float64     `json:"position" yaml:"position"`
}

// Edge connects two nodes. Branch is nil for unconditional edges and names one
// of the source conditional's declared outcomes otherwise.
type Edge struct {
	From   string  `json:"from" yaml:"from"`
	To     string  `json:"to" yaml:"to"`
	Branch *string `json:"branch,omitempty" yaml:"branch,omitempty"`
}

func (e Edge) BranchLabel() string {
	if e.Branch == nil {
		return ""
	}
	return *e.Branch
}

func BranchPtr(label string) *string {
	return &label
}

// DefaultBranches are the outcomes of a conditional that declares none.
var DefaultBranches = []string{"true", "false"}

// Branches returns the outcomes a conditional node declares in
// Parameters["branches"], or DefaultBranches.
func (n *Node) Branches() []string {
	switch raw := n.Parameters["branches"].(type) {
	case []string:
		if len(raw) > 0 {
			return append([]string(nil), raw...)
		}
	case []any:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if label, ok := v.(string); ok {
				out = append(out, label)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return append([]string(nil), DefaultBranches...)
}

type WorkflowRef struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

func (w *WorkflowDefinition) Ref() WorkflowRef {
	return WorkflowRef{ID: w.ID, Version: w.Version}
}

func (w *WorkflowDefinition) Node(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// Trigger returns the first trigger node. Validated workflows have exactly one.
func (w *WorkflowDefinition) Trigger() (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].Type == NodeTypeTrigger {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

func (w *WorkflowDefinition) Incoming(nodeID string) []Edge {
	var edges []Edge
	for _, e := range w.Edges {
		if e.To == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

func (w *WorkflowDefinition) Outgoing(nodeID string) []Edge {
	var edges []Edge
	for _, e := range w.Edges {
		if e.From == nodeID {
			edges = append(edges, e)
		}
	}
	return edges
}

// WebhookPath returns the path registered by the trigger node, if the trigger
// is a webhook trigger.
func (w *WorkflowDefinition) WebhookPath() (string, bool) {
	trigger, ok := w.Trigger()
	if !ok {
		return "", false
	}
	path, _ := trigger.Parameters["path"].(string)
	return path, path != ""
}

// ScheduleInterval returns the raw interval declared on a schedule trigger.
func (w *WorkflowDefinition) ScheduleInterval() (string, bool) {
	trigger, ok := w.Trigger()
	if !ok {
		return "", false
	}
	interval, _ := trigger.Parameters["interval"].(string)
	return interval, interval != ""
}

// Clone returns a deep copy so callers can derive a new version without
// touching a snapshot another execution may be reading.
func (w *WorkflowDefinition) Clone() *WorkflowDefinition {
	clone := *w
	clone.Tags = append([]string(nil), w.Tags...)
	clone.Nodes = make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		n.Parameters = CloneValue(n.Parameters).(map[string]any)
		clone.Nodes[i] = n
	}
	clone.Edges = make([]Edge, len(w.Edges))
	for i, e := range w.Edges {
		if e.Branch != nil {
			e.Branch = BranchPtr(*e.Branch)
		}
		clone.Edges[i] = e
	}
	return &clone
}
