package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/chatflow/pkg/schema"
)

func newValidator(t *testing.T) *ScenarioValidator {
	t.Helper()
	sv, err := NewScenarioValidator()
	require.NoError(t, err)
	return sv
}

func validDef() *schema.ScenarioDefinition {
	return &schema.ScenarioDefinition{
		ID:          "booking",
		Name:        "Booking",
		StartNodeID: "greet",
		Nodes: []schema.Node{
			{ID: "greet", Type: schema.NodeTypeMessage, Data: []byte(`{"text":"Hello"}`)},
			{ID: "bye", Type: schema.NodeTypeEnd},
		},
		Edges: []schema.Edge{{ID: "e1", Source: "greet", Target: "bye"}},
	}
}

func issuePaths(issues []schema.ValidationIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Path)
	}
	return out
}

func TestValidateAcceptsWellFormedDefinition(t *testing.T) {
	sv := newValidator(t)
	result := sv.Validate(validDef())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
	assert.NoError(t, sv.ValidateDefinition(validDef()))
}

func TestValidateNilDefinition(t *testing.T) {
	sv := newValidator(t)
	result := sv.Validate(nil)
	assert.False(t, result.Valid())
}

func TestValidateStructuralFailures(t *testing.T) {
	sv := newValidator(t)

	tests := []struct {
		name   string
		mutate func(*schema.ScenarioDefinition)
	}{
		{"empty id", func(d *schema.ScenarioDefinition) { d.ID = "" }},
		{"empty start node", func(d *schema.ScenarioDefinition) { d.StartNodeID = "" }},
		{"no nodes", func(d *schema.ScenarioDefinition) { d.Nodes = nil }},
		{"unknown node type", func(d *schema.ScenarioDefinition) { d.Nodes[0].Type = "teleport" }},
		{"edge missing target", func(d *schema.ScenarioDefinition) { d.Edges[0].Target = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDef()
			tt.mutate(def)
			result := sv.Validate(def)
			assert.False(t, result.Valid())
		})
	}
}

func TestValidateSemanticFailures(t *testing.T) {
	sv := newValidator(t)

	tests := []struct {
		name     string
		mutate   func(*schema.ScenarioDefinition)
		wantPath string
	}{
		{
			"duplicate node id",
			func(d *schema.ScenarioDefinition) { d.Nodes[1].ID = "greet" },
			"nodes[1].id",
		},
		{
			"missing start node",
			func(d *schema.ScenarioDefinition) { d.StartNodeID = "ghost" },
			"startNodeId",
		},
		{
			"edge source does not exist",
			func(d *schema.ScenarioDefinition) { d.Edges[0].Source = "ghost" },
			"edges[0].source",
		},
		{
			"edge target does not exist",
			func(d *schema.ScenarioDefinition) { d.Edges[0].Target = "ghost" },
			"edges[0].target",
		},
		{
			"duplicate edge id",
			func(d *schema.ScenarioDefinition) {
				d.Edges = append(d.Edges, schema.Edge{ID: "e1", Source: "greet", Target: "bye"})
			},
			"edges[1].id",
		},
		{
			"message without text",
			func(d *schema.ScenarioDefinition) { d.Nodes[0].Data = []byte(`{}`) },
			"nodes[0].data.text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDef()
			tt.mutate(def)
			result := sv.Validate(def)
			require.False(t, result.Valid())
			assert.Contains(t, issuePaths(result.Errors), tt.wantPath)
		})
	}
}

func TestValidateNodePayloads(t *testing.T) {
	sv := newValidator(t)

	tests := []struct {
		name     string
		node     schema.Node
		wantPath string
	}{
		{
			"condition branch without conditions",
			schema.Node{ID: "n", Type: schema.NodeTypeBranch, Data: []byte(`{"kind":"CONDITION"}`)},
			"nodes[0].data.conditions",
		},
		{
			"expression branch without expression",
			schema.Node{ID: "n", Type: schema.NodeTypeBranch, Data: []byte(`{"kind":"EXPRESSION"}`)},
			"nodes[0].data.expression",
		},
		{
			"unknown branch kind",
			schema.Node{ID: "n", Type: schema.NodeTypeBranch, Data: []byte(`{"kind":"COIN_FLIP"}`)},
			"nodes[0].data.kind",
		},
		{
			"slotfilling without slot",
			schema.Node{ID: "n", Type: schema.NodeTypeSlotFilling, Data: []byte(`{"prompt":"?"}`)},
			"nodes[0].data.slot",
		},
		{
			"form without fields",
			schema.Node{ID: "n", Type: schema.NodeTypeForm, Data: []byte(`{"fields":[]}`)},
			"nodes[0].data.fields",
		},
		{
			"form field without slot",
			schema.Node{ID: "n", Type: schema.NodeTypeForm, Data: []byte(`{"fields":[{"label":"Phone"}]}`)},
			"nodes[0].data.fields[0].slot",
		},
		{
			"negative delay",
			schema.Node{ID: "n", Type: schema.NodeTypeDelay, Data: []byte(`{"duration":-5}`)},
			"nodes[0].data.duration",
		},
		{
			"api without url",
			schema.Node{ID: "n", Type: schema.NodeTypeAPI, Data: []byte(`{"method":"GET"}`)},
			"nodes[0].data.url",
		},
		{
			"isMulti api without requests",
			schema.Node{ID: "n", Type: schema.NodeTypeAPI, Data: []byte(`{"isMulti":true}`)},
			"nodes[0].data.requests",
		},
		{
			"llm without prompt",
			schema.Node{ID: "n", Type: schema.NodeTypeLLM, Data: []byte(`{}`)},
			"nodes[0].data.prompt",
		},
		{
			"keyword condition without keywords",
			schema.Node{ID: "n", Type: schema.NodeTypeLLM, Data: []byte(`{"prompt":"hi","conditions":[{"handle":"x"}]}`)},
			"nodes[0].data.conditions[0].keywords",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &schema.ScenarioDefinition{
				ID:          "s",
				StartNodeID: "n",
				Nodes: []schema.Node{
					tt.node,
					{ID: "done", Type: schema.NodeTypeEnd},
				},
				Edges: []schema.Edge{{ID: "e1", Source: "n", Target: "done"}},
			}
			result := sv.Validate(def)
			require.False(t, result.Valid())
			assert.Contains(t, issuePaths(result.Errors), tt.wantPath)
		})
	}
}

func TestValidateWarnsOnUnreachableNode(t *testing.T) {
	sv := newValidator(t)
	def := validDef()
	def.Nodes = append(def.Nodes, schema.Node{ID: "island", Type: schema.NodeTypeMessage, Data: []byte(`{"text":"lost"}`)})

	result := sv.Validate(def)
	assert.True(t, result.Valid(), "unreachable nodes warn, they do not reject")
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0].Message, "unreachable")
}

func TestValidateWarnsOnAutoOnlyCycle(t *testing.T) {
	sv := newValidator(t)
	def := &schema.ScenarioDefinition{
		ID:          "spin",
		StartNodeID: "a",
		Nodes: []schema.Node{
			{ID: "a", Type: schema.NodeTypeSetSlot, Data: []byte(`{"values":{"x":"1"}}`)},
			{ID: "b", Type: schema.NodeTypeSetSlot, Data: []byte(`{"values":{"x":"2"}}`)},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "a", Target: "b"},
			{ID: "e2", Source: "b", Target: "a"},
		},
	}

	result := sv.Validate(def)
	assert.True(t, result.Valid())

	var found bool
	for _, w := range result.Warnings {
		if w.Path == "nodes[a]" || w.Path == "nodes[b]" {
			found = true
			assert.Contains(t, w.Message, "loop guard")
		}
	}
	assert.True(t, found, "an auto-only cycle produces a loop guard warning")
}

func TestValidateCycleThroughInteractiveNodeIsLegal(t *testing.T) {
	sv := newValidator(t)
	def := &schema.ScenarioDefinition{
		ID:          "retry",
		StartNodeID: "ask",
		Nodes: []schema.Node{
			{ID: "ask", Type: schema.NodeTypeSlotFilling, Data: []byte(`{"slot":"answer","prompt":"?"}`)},
			{ID: "check", Type: schema.NodeTypeBranch, Data: []byte(`{"kind":"CONDITION","conditions":[{"slot":"answer","operator":"==","value":"42","handle":"ok"}]}`)},
			{ID: "done", Type: schema.NodeTypeEnd},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "ask", Target: "check"},
			{ID: "e2", Source: "check", Target: "done", SourceHandle: "ok"},
			{ID: "e3", Source: "check", Target: "ask", SourceHandle: "default"},
		},
	}

	result := sv.Validate(def)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings, "cycles that pass through an interactive node are fine")
}

func TestValidateWarnsOnUnmatchedReplyHandles(t *testing.T) {
	sv := newValidator(t)
	def := &schema.ScenarioDefinition{
		ID:          "buttons",
		StartNodeID: "ask",
		Nodes: []schema.Node{
			{ID: "ask", Type: schema.NodeTypeMessage, Data: []byte(`{"text":"?","replies":[{"label":"Yes"},{"label":"No"}]}`)},
			{ID: "left", Type: schema.NodeTypeEnd},
			{ID: "right", Type: schema.NodeTypeEnd},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "ask", Target: "left", SourceHandle: "0"},
			{ID: "e2", Source: "ask", Target: "right", SourceHandle: "other"},
		},
	}

	result := sv.Validate(def)
	assert.True(t, result.Valid())
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0].Path, "replies[1]")
}

func TestValidateDefinitionAggregatesMultipleErrors(t *testing.T) {
	sv := newValidator(t)
	def := validDef()
	def.StartNodeID = "ghost"
	def.Edges[0].Target = "nowhere"

	err := sv.ValidateDefinition(def)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeDefinition, flowErr.Code)
	assert.Equal(t, "scenario definition has 2 errors", flowErr.Message)
}
