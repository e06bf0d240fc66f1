package diagram

import (
	"encoding/json"

	"github.com/rendis/chatflow/pkg/schema"
)

// Model is the intermediate representation handed to renderers.
type Model struct {
	Title string
	Nodes []Node
	Edges []Edge
}

// Node is one scenario node with a display label.
type Node struct {
	ID    string
	Label string
	Type  schema.NodeType
	Start bool
}

// Edge is a directed connection, labeled with its source handle.
type Edge struct {
	From  string
	To    string
	Label string
}

// FromDefinition builds a diagram model from a scenario definition. Labels
// prefer the node's display text over its ID.
func FromDefinition(def *schema.ScenarioDefinition) *Model {
	m := &Model{Title: def.Name}
	if m.Title == "" {
		m.Title = def.ID
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		m.Nodes = append(m.Nodes, Node{
			ID:    n.ID,
			Label: nodeLabel(n),
			Type:  n.Type,
			Start: n.ID == def.StartNodeID,
		})
	}
	for _, e := range def.Edges {
		m.Edges = append(m.Edges, Edge{
			From:  e.Source,
			To:    e.Target,
			Label: e.SourceHandle,
		})
	}
	return m
}

// nodeLabel extracts a short human label from the node payload without
// fully decoding it. Falls back to the node ID.
func nodeLabel(n *schema.Node) string {
	var peek struct {
		Text   string `json:"text"`
		Prompt string `json:"prompt"`
	}
	if len(n.Data) > 0 {
		_ = json.Unmarshal(n.Data, &peek)
	}
	switch {
	case peek.Text != "":
		return firstLine(peek.Text)
	case peek.Prompt != "":
		return firstLine(peek.Prompt)
	default:
		return n.ID
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
