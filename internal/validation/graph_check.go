package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/chatflow/pkg/schema"
)

// validateGraph performs graph analysis on the scenario:
// reachability from the start node (BFS) and detection of cycles made
// entirely of auto-advancing nodes. Cycles through interactive nodes are
// legal; auto-only cycles can only end by tripping the runtime loop guard.
func validateGraph(def *schema.ScenarioDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	adjacency := make(map[string][]string, len(def.Nodes))
	for _, e := range def.Edges {
		adjacency[e.Source] = append(adjacency[e.Source], e.Target)
	}

	// Reachability: BFS from the start node.
	reachable := map[string]bool{def.StartNodeID: true}
	queue := []string{def.StartNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[id] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for _, n := range def.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%s]", n.ID),
				schema.ErrCodeDefinition,
				fmt.Sprintf("node %q is unreachable from the start node", n.ID))
		}
	}

	// Auto-only cycles: DFS over the subgraph of auto-advancing nodes.
	auto := make(map[string]bool, len(def.Nodes))
	for i := range def.Nodes {
		if autoAdvances(&def.Nodes[i], len(adjacency[def.Nodes[i].ID])) {
			auto[def.Nodes[i].ID] = true
		}
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(auto))
	flagged := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		state[id] = inStack
		for _, next := range adjacency[id] {
			if !auto[next] {
				continue
			}
			switch state[next] {
			case unvisited:
				visit(next)
			case inStack:
				flagged[next] = true
			}
		}
		state[id] = done
	}

	ids := make([]string, 0, len(auto))
	for id := range auto {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if state[id] == unvisited {
			visit(id)
		}
	}

	cycleIDs := make([]string, 0, len(flagged))
	for id := range flagged {
		cycleIDs = append(cycleIDs, id)
	}
	sort.Strings(cycleIDs)
	for _, id := range cycleIDs {
		result.AddWarning(fmt.Sprintf("nodes[%s]", id),
			schema.ErrCodeDefinition,
			fmt.Sprintf("node %q is part of a cycle with no interactive node; the loop guard will fail the session at runtime", id))
	}

	return result
}

// autoAdvances reports whether a node executes without awaiting user input.
// Mirrors the runtime classification: interactive nodes are messages with
// replies, BUTTON branches, slotfilling, and form nodes. A node with no
// outgoing edges is terminal and cannot be part of a cycle anyway.
func autoAdvances(n *schema.Node, outDegree int) bool {
	if outDegree == 0 || n.Type == schema.NodeTypeEnd {
		return false
	}
	switch n.Type {
	case schema.NodeTypeMessage:
		data, err := n.MessageData()
		if err != nil {
			return false
		}
		return len(data.Replies) == 0
	case schema.NodeTypeBranch:
		data, err := n.BranchData()
		if err != nil {
			return false
		}
		return data.Kind != schema.BranchButton && data.Kind != schema.BranchButtonClick
	case schema.NodeTypeSlotFilling, schema.NodeTypeForm:
		return false
	default:
		return true
	}
}
