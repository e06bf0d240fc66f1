package llm

import (
	"encoding/json"
	"strings"
)

// The model is instructed to answer as `{"slots":{...}}|||response text`.
// The JSON prefix carries slot updates; the text after the separator is what
// the user sees.
const slotSeparator = "|||"

type slotEnvelope struct {
	Slots map[string]any `json:"slots"`
}

// ParseOutput splits a raw model reply into slot updates and display text.
// A missing or malformed prefix means the whole output is display text.
func ParseOutput(raw string) (map[string]any, string) {
	raw = strings.TrimSpace(raw)

	idx := strings.Index(raw, slotSeparator)
	if idx < 0 {
		return nil, raw
	}

	prefix := strings.TrimSpace(raw[:idx])
	text := strings.TrimSpace(raw[idx+len(slotSeparator):])

	var env slotEnvelope
	if err := json.Unmarshal([]byte(prefix), &env); err != nil || env.Slots == nil {
		return nil, raw
	}
	return env.Slots, text
}
