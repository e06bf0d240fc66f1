package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/chatflow/pkg/schema"
)

// Mermaid renders a model as a Mermaid flowchart string.
func Mermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef start fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef terminal fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef external fill:#1a5276,stroke:#0e3a52,color:#fff\n")

	for _, node := range model.Nodes {
		cls := mermaidNodeClass(node)
		if cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with a shape per node
// type: branches are diamonds, llm hexagons, delays stadiums, external
// calls subroutines, start/end circles.
func mermaidNodeDef(node Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Type {
	case schema.NodeTypeBranch:
		return fmt.Sprintf("%s{%q}", id, label)
	case schema.NodeTypeLLM:
		return fmt.Sprintf("%s{{%q}}", id, label)
	case schema.NodeTypeDelay:
		return fmt.Sprintf("%s([%q])", id, label)
	case schema.NodeTypeAPI:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case schema.NodeTypeEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		if node.Start {
			return fmt.Sprintf("%s((%q))", id, label)
		}
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
// Replaces dots and dashes with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func mermaidNodeClass(node Node) string {
	switch {
	case node.Start:
		return "start"
	case node.Type == schema.NodeTypeEnd:
		return "terminal"
	case node.Type == schema.NodeTypeAPI || node.Type == schema.NodeTypeLLM:
		return "external"
	default:
		return ""
	}
}
