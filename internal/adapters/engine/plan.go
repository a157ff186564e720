package engine

import (
	"github.com/eleven-am/regiflow/internal/domain"
)

// plan is the wave layout of one workflow snapshot. A node sits in the wave
// after its deepest predecessor, so every predecessor has a result by the
// time its wave starts. Within a wave nodes keep declaration order.
type plan struct {
	def      *domain.WorkflowDefinition
	waves    [][]*domain.Node
	incoming map[string][]domain.Edge
}

func buildPlan(executionID string, def *domain.WorkflowDefinition) (*plan, error) {
	index := make(map[string]int, len(def.Nodes))
	for i := range def.Nodes {
		if _, dup := index[def.Nodes[i].ID]; dup {
			return nil, newInvariantError(executionID, "duplicate node %s", def.Nodes[i].ID)
		}
		index[def.Nodes[i].ID] = i
	}

	trigger, ok := def.Trigger()
	if !ok {
		return nil, newInvariantError(executionID, "workflow %s has no trigger", def.ID)
	}

	incoming := make(map[string][]domain.Edge, len(def.Nodes))
	indegree := make(map[string]int, len(def.Nodes))
	for _, edge := range def.Edges {
		if _, ok := index[edge.From]; !ok {
			return nil, newInvariantError(executionID, "edge from unknown node %s", edge.From)
		}
		if _, ok := index[edge.To]; !ok {
			return nil, newInvariantError(executionID, "edge to unknown node %s", edge.To)
		}
		incoming[edge.To] = append(incoming[edge.To], edge)
		indegree[edge.To]++
	}
	if indegree[trigger.ID] > 0 {
		return nil, newInvariantError(executionID, "trigger %s has incoming edges", trigger.ID)
	}

	p := &plan{def: def, incoming: incoming}
	placed := 0
	for placed < len(def.Nodes) {
		var wave []*domain.Node
		for i := range def.Nodes {
			node := &def.Nodes[i]
			if indegree[node.ID] == 0 {
				wave = append(wave, node)
			}
		}
		if len(wave) == 0 {
			return nil, newInvariantError(executionID, "cycle among %d unplaced nodes", len(def.Nodes)-placed)
		}
		for _, node := range wave {
			indegree[node.ID] = -1
			for _, edge := range def.Edges {
				if edge.From == node.ID {
					indegree[edge.To]--
				}
			}
		}
		placed += len(wave)
		p.waves = append(p.waves, wave)
	}

	return p, nil
}
