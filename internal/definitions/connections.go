package definitions

import (
	"fmt"
	"sort"

	"github.com/eleven-am/regiflow/internal/domain"
)

// expandConnections turns a connections map into edges. Keys name a source
// node by id or by name. A value is the list of the source's outputs, each a
// list of targets; {"main": outputs} is accepted as well, and a flat list of
// targets is shorthand for a single output. Output i of a conditional becomes
// edges labelled with the node's i-th declared branch.
//
// Edges come out in node declaration order, then output order, then target
// order, so the result does not depend on map iteration.
func expandConnections(nodes []domain.Node, connections map[string]any) ([]domain.Edge, error) {
	if len(connections) == 0 {
		return nil, nil
	}

	resolve := nodeResolver(nodes)
	used := make(map[string]bool, len(connections))
	var edges []domain.Edge

	for i := range nodes {
		node := &nodes[i]
		key, raw, err := connectionsFor(node, connections)
		if err != nil {
			return nil, err
		}
		if key == "" {
			continue
		}
		used[key] = true

		outputs, err := parseOutputs(raw)
		if err != nil {
			return nil, fmt.Errorf("connections[%s]: %w", key, err)
		}

		var branches []string
		if node.Type == domain.NodeTypeConditional {
			branches = node.Branches()
			if len(outputs) > len(branches) {
				return nil, fmt.Errorf("connections[%s]: %d outputs but the conditional declares %d branches: %w",
					key, len(outputs), len(branches), domain.ErrInvalidInput)
			}
		} else if len(outputs) > 1 {
			return nil, fmt.Errorf("connections[%s]: only a conditional has more than one output: %w",
				key, domain.ErrInvalidInput)
		}

		for idx, targets := range outputs {
			for _, target := range targets {
				edge := domain.Edge{From: node.ID, To: resolve(target)}
				if branches != nil {
					edge.Branch = domain.BranchPtr(branches[idx])
				}
				edges = append(edges, edge)
			}
		}
	}

	var unknown []string
	for key := range connections {
		if !used[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, domain.NewValidationError(domain.RuleDanglingEdge, unknown[0],
			"connections reference unknown source node %q", unknown[0])
	}
	return edges, nil
}

func connectionsFor(node *domain.Node, connections map[string]any) (string, any, error) {
	byID, hasID := connections[node.ID]
	byName, hasName := connections[node.Name]
	if node.Name == "" || node.Name == node.ID {
		hasName = false
	}
	switch {
	case hasID && hasName:
		return "", nil, fmt.Errorf("connections list node %s under both its id and its name %q: %w",
			node.ID, node.Name, domain.ErrInvalidInput)
	case hasID:
		return node.ID, byID, nil
	case hasName:
		return node.Name, byName, nil
	}
	return "", nil, nil
}

// nodeResolver maps a target reference to a node id, preferring ids over
// names. Unknown references pass through so the validator can report them.
func nodeResolver(nodes []domain.Node) func(string) string {
	ids := make(map[string]bool, len(nodes))
	names := make(map[string]string, len(nodes))
	for _, node := range nodes {
		ids[node.ID] = true
		if node.Name != "" {
			if _, taken := names[node.Name]; !taken {
				names[node.Name] = node.ID
			}
		}
	}
	return func(ref string) string {
		if ids[ref] {
			return ref
		}
		if id, ok := names[ref]; ok {
			return id
		}
		return ref
	}
}

func parseOutputs(raw any) ([][]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return [][]string{{v}}, nil
	case map[string]any:
		main, ok := v["main"]
		if !ok || len(v) != 1 {
			return nil, fmt.Errorf("an object value must have exactly one key, main: %w", domain.ErrInvalidInput)
		}
		return parseOutputs(main)
	case []any:
		return parseOutputList(v)
	case []string:
		return [][]string{append([]string(nil), v...)}, nil
	}
	return nil, fmt.Errorf("unsupported value of type %T: %w", raw, domain.ErrInvalidInput)
}

func parseOutputList(list []any) ([][]string, error) {
	if len(list) == 0 {
		return nil, nil
	}

	nested := 0
	for _, entry := range list {
		if _, ok := entry.([]any); ok {
			nested++
		}
	}

	switch nested {
	case 0:
		targets, err := parseTargets(list)
		if err != nil {
			return nil, err
		}
		return [][]string{targets}, nil
	case len(list):
		outputs := make([][]string, 0, len(list))
		for _, entry := range list {
			targets, err := parseTargets(entry.([]any))
			if err != nil {
				return nil, err
			}
			outputs = append(outputs, targets)
		}
		return outputs, nil
	}
	return nil, fmt.Errorf("outputs mix lists and single targets: %w", domain.ErrInvalidInput)
}

// parseTargets accepts "node" or {"node": "node", ...} entries.
func parseTargets(list []any) ([]string, error) {
	targets := make([]string, 0, len(list))
	for _, entry := range list {
		switch v := entry.(type) {
		case string:
			targets = append(targets, v)
		case map[string]any:
			name, ok := v["node"].(string)
			if !ok || name == "" {
				return nil, fmt.Errorf("target object needs a node field: %w", domain.ErrInvalidInput)
			}
			targets = append(targets, name)
		default:
			return nil, fmt.Errorf("unsupported target of type %T: %w", entry, domain.ErrInvalidInput)
		}
	}
	return targets, nil
}
