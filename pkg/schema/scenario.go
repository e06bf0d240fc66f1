package schema

import "encoding/json"

// ScenarioDefinition is the JSON-serializable conversation graph format.
// Scenarios are registered via the API or loaded from disk at startup.
type ScenarioDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	StartNodeID string         `json:"startNodeId"`
	Nodes       []Node         `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Node is one vertex of the scenario graph. Data holds the type-specific
// payload and is decoded with the accessor matching Type.
type Node struct {
	ID   string          `json:"id"`
	Type NodeType        `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Edge connects two nodes. SourceHandle disambiguates multiple edges
// leaving the same node (button index, condition handle, onSuccess/onError).
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// NodeType enumerates the kinds of nodes in a scenario.
type NodeType string

const (
	NodeTypeMessage     NodeType = "message"
	NodeTypeBranch      NodeType = "branch"
	NodeTypeSlotFilling NodeType = "slotfilling"
	NodeTypeForm        NodeType = "form"
	NodeTypeSetSlot     NodeType = "setSlot"
	NodeTypeDelay       NodeType = "delay"
	NodeTypeAPI         NodeType = "api"
	NodeTypeLLM         NodeType = "llm"
	NodeTypeEnd         NodeType = "end"
)

// KnownNodeTypes lists every node type the engine can execute.
var KnownNodeTypes = map[NodeType]bool{
	NodeTypeMessage:     true,
	NodeTypeBranch:      true,
	NodeTypeSlotFilling: true,
	NodeTypeForm:        true,
	NodeTypeSetSlot:     true,
	NodeTypeDelay:       true,
	NodeTypeAPI:         true,
	NodeTypeLLM:         true,
	NodeTypeEnd:         true,
}

// BranchKind selects how a branch node routes.
type BranchKind string

const (
	BranchButton        BranchKind = "BUTTON"
	BranchButtonClick   BranchKind = "BUTTON_CLICK"
	BranchConditionKind BranchKind = "CONDITION"
	BranchSlotCondition BranchKind = "SLOT_CONDITION"
	BranchExpression    BranchKind = "EXPRESSION"
)

// MessageData is the payload of a message node. A message with replies is
// interactive; without replies it auto-advances after being transcribed.
type MessageData struct {
	Text    string  `json:"text"`
	Replies []Reply `json:"replies,omitempty"`
}

// Reply is one quick-reply button on a message node.
type Reply struct {
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

// BranchData is the payload of a branch node. BUTTON kinds await a click;
// CONDITION kinds evaluate Conditions in order; EXPRESSION evaluates a single
// CEL expression against {slots, input} and routes on its string result.
type BranchData struct {
	Kind       BranchKind        `json:"kind"`
	Prompt     string            `json:"prompt,omitempty"`
	Conditions []BranchCondition `json:"conditions,omitempty"`
	Expression string            `json:"expression,omitempty"`
	Buttons    []Reply           `json:"buttons,omitempty"`
}

// BranchCondition is one ordered condition row. Handle names the edge to
// follow when the condition holds; empty Handle means the row's index.
type BranchCondition struct {
	Slot     string `json:"slot"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
	Handle   string `json:"handle,omitempty"`
}

// SlotFillingData is the payload of a slotfilling node.
type SlotFillingData struct {
	Slot       string          `json:"slot"`
	Prompt     string          `json:"prompt"`
	Required   bool            `json:"required"`
	Validation *ValidationRule `json:"validation,omitempty"`
}

// FormData is the payload of a form node: several slots collected at once.
type FormData struct {
	Prompt string      `json:"prompt,omitempty"`
	Fields []FormField `json:"fields"`
}

// FormField is one input of a form node.
type FormField struct {
	Slot       string          `json:"slot"`
	Label      string          `json:"label"`
	Required   bool            `json:"required"`
	Validation *ValidationRule `json:"validation,omitempty"`
}

// ValidationRule constrains user input on slotfilling and form nodes.
// DateRule is one of "today-after", "today-before", "custom". Rule is an
// expr-lang expression over {value, slots} for anything the built-ins
// cannot express. Messages overrides the locale error message.
type ValidationRule struct {
	Type     string            `json:"type,omitempty"`
	DateRule string            `json:"dateRule,omitempty"`
	MinDate  string            `json:"minDate,omitempty"`
	MaxDate  string            `json:"maxDate,omitempty"`
	Rule     string            `json:"rule,omitempty"`
	Messages map[string]string `json:"messages,omitempty"`
}

// SetSlotData is the payload of a setSlot node. Values supports single-level
// indirection: a value of "{{other}}" reads slot "other" at execution time.
type SetSlotData struct {
	Values map[string]any `json:"values"`
}

// DelayData is the payload of a delay node. Duration is milliseconds;
// delay_ms and delayMs decode as aliases.
type DelayData struct {
	Duration int `json:"duration"`
}

func (d *DelayData) UnmarshalJSON(b []byte) error {
	var raw struct {
		Duration   int `json:"duration"`
		DelaySnake int `json:"delay_ms"`
		DelayCamel int `json:"delayMs"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	d.Duration = raw.Duration
	if d.Duration == 0 {
		d.Duration = raw.DelaySnake
	}
	if d.Duration == 0 {
		d.Duration = raw.DelayCamel
	}
	return nil
}

// APIData is the payload of an api node. Single-request nodes fill the
// top-level fields; IsMulti nodes list Requests instead and fan out
// concurrently. All string fields are interpolated against slots.
type APIData struct {
	Method          string            `json:"method,omitempty"`
	URL             string            `json:"url,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	Params          map[string]string `json:"params,omitempty"`
	IsMulti         bool              `json:"isMulti,omitempty"`
	Requests        []APIRequest      `json:"requests,omitempty"`
	ResponseMapping []ResponseMapping `json:"responseMapping,omitempty"`
}

// APIRequest is one request of an isMulti api node.
type APIRequest struct {
	Method          string            `json:"method,omitempty"`
	URL             string            `json:"url"`
	Headers         map[string]string `json:"headers,omitempty"`
	Body            string            `json:"body,omitempty"`
	Params          map[string]string `json:"params,omitempty"`
	ResponseMapping []ResponseMapping `json:"responseMapping,omitempty"`
}

// ResponseMapping copies a path of the response JSON into a slot.
// A path that resolves to nothing leaves the slot untouched.
type ResponseMapping struct {
	Path string `json:"path"`
	Slot string `json:"slot"`
}

// LLMData is the payload of an llm node. OutputVar names the slot the reply
// text is written into, so downstream templates and conditions can read it.
// Conditions route the transition by keyword match against the reply; no
// match follows "default".
type LLMData struct {
	Prompt       string             `json:"prompt"`
	SystemPrompt string             `json:"systemPrompt,omitempty"`
	OutputVar    string             `json:"outputVar,omitempty"`
	Conditions   []KeywordCondition `json:"conditions,omitempty"`
}

// KeywordCondition routes an llm transition when any keyword appears in the
// model reply.
type KeywordCondition struct {
	Keywords []string `json:"keywords"`
	Handle   string   `json:"handle"`
}

// EndData is the payload of an end node.
type EndData struct {
	Message string `json:"message,omitempty"`
}

// MessageData decodes the node payload as a message node.
func (n *Node) MessageData() (*MessageData, error) {
	return decodeData[MessageData](n)
}

// BranchData decodes the node payload as a branch node.
func (n *Node) BranchData() (*BranchData, error) {
	return decodeData[BranchData](n)
}

// SlotFillingData decodes the node payload as a slotfilling node.
func (n *Node) SlotFillingData() (*SlotFillingData, error) {
	return decodeData[SlotFillingData](n)
}

// FormData decodes the node payload as a form node.
func (n *Node) FormData() (*FormData, error) {
	return decodeData[FormData](n)
}

// SetSlotData decodes the node payload as a setSlot node.
func (n *Node) SetSlotData() (*SetSlotData, error) {
	return decodeData[SetSlotData](n)
}

// DelayData decodes the node payload as a delay node.
func (n *Node) DelayData() (*DelayData, error) {
	return decodeData[DelayData](n)
}

// APIData decodes the node payload as an api node.
func (n *Node) APIData() (*APIData, error) {
	return decodeData[APIData](n)
}

// LLMData decodes the node payload as an llm node.
func (n *Node) LLMData() (*LLMData, error) {
	return decodeData[LLMData](n)
}

// EndData decodes the node payload as an end node.
func (n *Node) EndData() (*EndData, error) {
	return decodeData[EndData](n)
}

func decodeData[T any](n *Node) (*T, error) {
	var out T
	if len(n.Data) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(n.Data, &out); err != nil {
		return nil, NewErrorf(ErrCodeDefinition, "node payload does not decode as %s: %v", n.Type, err).WithNode(n.ID)
	}
	return &out, nil
}
