package validation

import (
	"fmt"
	"strconv"

	"github.com/rendis/chatflow/pkg/schema"
)

// validateSemantic performs semantic analysis on the scenario definition.
// Checks: node ID uniqueness, start node existence, edge endpoint refs,
// per-type payload decoding, condition/handle consistency.
func validateSemantic(def *schema.ScenarioDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(def.Nodes))
	for i, n := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if nodeIDs[n.ID] {
			result.AddError(path+".id", schema.ErrCodeDefinition,
				fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		nodeIDs[n.ID] = true
	}

	if !nodeIDs[def.StartNodeID] {
		result.AddError("startNodeId", schema.ErrCodeDefinition,
			fmt.Sprintf("start node %q does not exist", def.StartNodeID))
	}

	edgeIDs := make(map[string]bool, len(def.Edges))
	outgoing := make(map[string][]schema.Edge, len(def.Nodes))
	for i, e := range def.Edges {
		path := fmt.Sprintf("edges[%d]", i)
		if edgeIDs[e.ID] {
			result.AddError(path+".id", schema.ErrCodeDefinition,
				fmt.Sprintf("duplicate edge id %q", e.ID))
		}
		edgeIDs[e.ID] = true
		if !nodeIDs[e.Source] {
			result.AddError(path+".source", schema.ErrCodeDefinition,
				fmt.Sprintf("references non-existent node %q", e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(path+".target", schema.ErrCodeDefinition,
				fmt.Sprintf("references non-existent node %q", e.Target))
		}
		outgoing[e.Source] = append(outgoing[e.Source], e)
	}

	for i := range def.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		validateNodePayload(&def.Nodes[i], path, outgoing[def.Nodes[i].ID], result)
	}

	return result
}

// validateNodePayload decodes the type-specific payload and checks the
// fields the executor will rely on at runtime.
func validateNodePayload(n *schema.Node, path string, out []schema.Edge, result *schema.ValidationResult) {
	switch n.Type {
	case schema.NodeTypeMessage:
		data, err := n.MessageData()
		if err != nil {
			result.AddError(path+".data", schema.ErrCodeDefinition, err.Error())
			return
		}
		if data.Text == "" {
			result.AddError(path+".data.text", schema.ErrCodeDefinition, "message node requires text")
		}
		warnUnmatchedReplyHandles(path, data.Replies, out, result)

	case schema.NodeTypeBranch:
		data, err := n.BranchData()
		if err != nil {
			result.AddError(path+".data", schema.ErrCodeDefinition, err.Error())
			return
		}
		switch data.Kind {
		case schema.BranchConditionKind, schema.BranchSlotCondition:
			if len(data.Conditions) == 0 {
				result.AddError(path+".data.conditions", schema.ErrCodeDefinition,
					fmt.Sprintf("%s branch requires at least one condition", data.Kind))
			}
		case schema.BranchExpression:
			if data.Expression == "" {
				result.AddError(path+".data.expression", schema.ErrCodeDefinition,
					"EXPRESSION branch requires an expression")
			}
		case schema.BranchButton, schema.BranchButtonClick:
			warnUnmatchedReplyHandles(path, data.Buttons, out, result)
		default:
			result.AddError(path+".data.kind", schema.ErrCodeDefinition,
				fmt.Sprintf("unknown branch kind %q", data.Kind))
		}

	case schema.NodeTypeSlotFilling:
		data, err := n.SlotFillingData()
		if err != nil {
			result.AddError(path+".data", schema.ErrCodeDefinition, err.Error())
			return
		}
		if data.Slot == "" {
			result.AddError(path+".data.slot", schema.ErrCodeDefinition, "slotfilling node requires a slot name")
		}

	case schema.NodeTypeForm:
		data, err := n.FormData()
		if err != nil {
			result.AddError(path+".data", schema.ErrCodeDefinition, err.Error())
			return
		}
		if len(data.Fields) == 0 {
			result.AddError(path+".data.fields", schema.ErrCodeDefinition, "form node requires at least one field")
		}
		for j, f := range data.Fields {
			if f.Slot == "" {
				result.AddError(fmt.Sprintf("%s.data.fields[%d].slot", path, j),
					schema.ErrCodeDefinition, "form field requires a slot name")
			}
		}

	case schema.NodeTypeSetSlot:
		data, err := n.SetSlotData()
		if err != nil {
			result.AddError(path+".data", schema.ErrCodeDefinition, err.Error())
			return
		}
		if len(data.Values) == 0 {
			result.AddWarning(path+".data.values", schema.ErrCodeDefinition, "setSlot node sets no slots")
		}

	case schema.NodeTypeDelay:
		data, err := n.DelayData()
		if err != nil {
			result.AddError(path+".data", schema.ErrCodeDefinition, err.Error())
			return
		}
		if data.Duration < 0 {
			result.AddError(path+".data.duration", schema.ErrCodeDefinition, "delay duration must not be negative")
		}

	case schema.NodeTypeAPI:
		data, err := n.APIData()
		if err != nil {
			result.AddError(path+".data", schema.ErrCodeDefinition, err.Error())
			return
		}
		if data.IsMulti {
			if len(data.Requests) == 0 {
				result.AddError(path+".data.requests", schema.ErrCodeDefinition,
					"isMulti api node requires at least one request")
			}
			for j, r := range data.Requests {
				if r.URL == "" {
					result.AddError(fmt.Sprintf("%s.data.requests[%d].url", path, j),
						schema.ErrCodeDefinition, "api request requires a url")
				}
			}
		} else if data.URL == "" {
			result.AddError(path+".data.url", schema.ErrCodeDefinition, "api node requires a url")
		}

	case schema.NodeTypeLLM:
		data, err := n.LLMData()
		if err != nil {
			result.AddError(path+".data", schema.ErrCodeDefinition, err.Error())
			return
		}
		if data.Prompt == "" {
			result.AddError(path+".data.prompt", schema.ErrCodeDefinition, "llm node requires a prompt")
		}
		for j, c := range data.Conditions {
			if len(c.Keywords) == 0 {
				result.AddError(fmt.Sprintf("%s.data.conditions[%d].keywords", path, j),
					schema.ErrCodeDefinition, "keyword condition requires at least one keyword")
			}
		}

	case schema.NodeTypeEnd:
		if _, err := n.EndData(); err != nil {
			result.AddError(path+".data", schema.ErrCodeDefinition, err.Error())
		}

	default:
		result.AddError(path+".type", schema.ErrCodeDefinition,
			fmt.Sprintf("unknown node type %q", n.Type))
	}
}

// warnUnmatchedReplyHandles flags reply buttons whose positional handle
// matches no outgoing edge. The resolver falls back to the first edge at
// runtime, which is rarely what the author intended.
func warnUnmatchedReplyHandles(path string, replies []schema.Reply, out []schema.Edge, result *schema.ValidationResult) {
	if len(replies) == 0 || len(out) <= 1 {
		return
	}
	handles := make(map[string]bool, len(out))
	for _, e := range out {
		handles[e.SourceHandle] = true
	}
	for i := range replies {
		h := strconv.Itoa(i)
		if !handles[h] {
			result.AddWarning(fmt.Sprintf("%s.data.replies[%d]", path, i),
				schema.ErrCodeDefinition,
				fmt.Sprintf("no outgoing edge has sourceHandle %q; the first edge is used as fallback", h))
		}
	}
}
