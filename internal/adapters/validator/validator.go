// Package validator checks workflow graphs before they may be activated.
package validator

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

// GraphValidator enforces the structural rules every runnable workflow
// satisfies. Parameter checks are delegated to the step executors.
type GraphValidator struct {
	parameters ports.ParameterChecker
	logger     *slog.Logger
}

func New(parameters ports.ParameterChecker, logger *slog.Logger) *GraphValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphValidator{
		parameters: parameters,
		logger:     logger.With("component", "graph-validator"),
	}
}

// Validate returns nil or the first *domain.ValidationError found.
func (v *GraphValidator) Validate(def *domain.WorkflowDefinition) error {
	if def == nil {
		return domain.NewValidationError(domain.RuleTriggerCount, "", "workflow is nil")
	}

	checks := []func(*domain.WorkflowDefinition) error{
		checkUniqueNodes,
		checkNodeTypes,
		checkTrigger,
		checkEdges,
		checkBranches,
		checkAcyclic,
		checkReachable,
		v.checkParameters,
	}
	for _, check := range checks {
		if err := check(def); err != nil {
			v.logger.Debug("workflow rejected",
				"workflow_id", def.ID,
				"version", def.Version,
				"error", err)
			return err
		}
	}
	return nil
}

func checkUniqueNodes(def *domain.WorkflowDefinition) error {
	seen := make(map[string]struct{}, len(def.Nodes))
	for _, node := range def.Nodes {
		if strings.TrimSpace(node.ID) == "" {
			return domain.NewValidationError(domain.RuleDuplicateNode, "", "node %q has an empty id", node.Name)
		}
		if _, dup := seen[node.ID]; dup {
			return domain.NewValidationError(domain.RuleDuplicateNode, node.ID, "node id is declared more than once")
		}
		seen[node.ID] = struct{}{}
	}
	return nil
}

func checkNodeTypes(def *domain.WorkflowDefinition) error {
	for _, node := range def.Nodes {
		if !node.Type.Valid() {
			return domain.NewValidationError(domain.RuleUnknownType, node.ID, "unknown node type %q", node.Type)
		}
	}
	return nil
}

func checkTrigger(def *domain.WorkflowDefinition) error {
	var triggers []string
	for _, node := range def.Nodes {
		if node.Type == domain.NodeTypeTrigger {
			triggers = append(triggers, node.ID)
		}
	}
	if len(triggers) != 1 {
		return domain.NewValidationError(domain.RuleTriggerCount, "",
			"workflow must have exactly one trigger, found %d", len(triggers))
	}
	return nil
}

func checkEdges(def *domain.WorkflowDefinition) error {
	trigger, _ := def.Trigger()
	for _, edge := range def.Edges {
		if _, ok := def.Node(edge.From); !ok {
			return domain.NewValidationError(domain.RuleDanglingEdge, edge.From,
				"edge %s -> %s starts at an unknown node", edge.From, edge.To)
		}
		if _, ok := def.Node(edge.To); !ok {
			return domain.NewValidationError(domain.RuleDanglingEdge, edge.To,
				"edge %s -> %s ends at an unknown node", edge.From, edge.To)
		}
		if edge.To == trigger.ID {
			return domain.NewValidationError(domain.RuleTriggerIncoming, trigger.ID,
				"trigger has an incoming edge from %s", edge.From)
		}
	}
	return nil
}

// checkBranches requires each conditional's outgoing labels to be exactly its
// declared outcomes. Every other edge is unlabelled and reaches a distinct
// target.
func checkBranches(def *domain.WorkflowDefinition) error {
	for i := range def.Nodes {
		node := &def.Nodes[i]
		outgoing := def.Outgoing(node.ID)

		if node.Type != domain.NodeTypeConditional {
			targets := make(map[string]struct{}, len(outgoing))
			for _, edge := range outgoing {
				if edge.Branch != nil {
					return domain.NewValidationError(domain.RuleBranchCoverage, node.ID,
						"edge to %s carries branch %q but %s is not a conditional", edge.To, *edge.Branch, node.ID)
				}
				if _, dup := targets[edge.To]; dup {
					return domain.NewValidationError(domain.RuleDuplicateEdge, node.ID,
						"edge %s -> %s is declared more than once", node.ID, edge.To)
				}
				targets[edge.To] = struct{}{}
			}
			continue
		}

		declared := make(map[string]bool)
		for _, label := range node.Branches() {
			if declared[label] {
				return domain.NewValidationError(domain.RuleBranchCoverage, node.ID, "branch %q is declared twice", label)
			}
			declared[label] = false
		}

		for _, edge := range outgoing {
			if edge.Branch == nil {
				return domain.NewValidationError(domain.RuleBranchCoverage, node.ID,
					"edge to %s has no branch label", edge.To)
			}
			label := *edge.Branch
			covered, known := declared[label]
			if !known {
				return domain.NewValidationError(domain.RuleBranchCoverage, node.ID,
					"edge to %s uses undeclared branch %q", edge.To, label)
			}
			if covered {
				return domain.NewValidationError(domain.RuleBranchCoverage, node.ID,
					"branch %q is used by more than one edge", label)
			}
			declared[label] = true
		}

		for _, label := range node.Branches() {
			if !declared[label] {
				return domain.NewValidationError(domain.RuleBranchCoverage, node.ID,
					"branch %q has no outgoing edge", label)
			}
		}
	}
	return nil
}

func checkAcyclic(def *domain.WorkflowDefinition) error {
	if path := FindCycle(def); path != nil {
		return domain.NewValidationError(domain.RuleCycle, path[0],
			"cycle detected: %s", strings.Join(path, " -> "))
	}
	return nil
}

// FindCycle returns the node ids of one cycle with the first id repeated at
// the end, or nil when the graph is acyclic. Nodes are visited in declaration
// order so the result is stable.
func FindCycle(def *domain.WorkflowDefinition) []string {
	const (
		white = iota
		grey
		black
	)

	adjacency := make(map[string][]string, len(def.Nodes))
	for _, edge := range def.Edges {
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
	}

	colour := make(map[string]int, len(def.Nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colour[id] = grey
		stack = append(stack, id)
		for _, next := range adjacency[id] {
			switch colour[next] {
			case grey:
				for i, onStack := range stack {
					if onStack == next {
						cycle = append(append([]string(nil), stack[i:]...), next)
						break
					}
				}
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[id] = black
		return false
	}

	for _, node := range def.Nodes {
		if colour[node.ID] == white && visit(node.ID) {
			return cycle
		}
	}
	return nil
}

func checkReachable(def *domain.WorkflowDefinition) error {
	trigger, _ := def.Trigger()
	reached := map[string]bool{trigger.ID: true}
	queue := []string{trigger.ID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, edge := range def.Outgoing(current) {
			if !reached[edge.To] {
				reached[edge.To] = true
				queue = append(queue, edge.To)
			}
		}
	}

	for _, node := range def.Nodes {
		if !reached[node.ID] {
			return domain.NewValidationError(domain.RuleUnreachable, node.ID,
				"node is not reachable from trigger %s", trigger.ID)
		}
	}
	return nil
}

func (v *GraphValidator) checkParameters(def *domain.WorkflowDefinition) error {
	if v.parameters == nil {
		return nil
	}
	for i := range def.Nodes {
		node := &def.Nodes[i]
		if err := v.parameters.CheckParameters(node); err != nil {
			var vErr *domain.ValidationError
			if errors.As(err, &vErr) {
				if vErr.NodeID == "" {
					vErr.NodeID = node.ID
				}
				return vErr
			}
			return domain.NewValidationError(domain.RuleParameters, node.ID, "%v", err)
		}
	}
	return nil
}
