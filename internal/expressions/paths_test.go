package expressions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupPath(t *testing.T) {
	data := map[string]any{
		"user": map[string]any{
			"name": "Ada",
			"tags": []any{"vip", "beta"},
		},
		"items": []any{
			map[string]any{"sku": "A-1"},
			map[string]any{"sku": "A-2"},
		},
		"count": float64(3),
	}

	tests := []struct {
		name string
		path string
		want any
		ok   bool
	}{
		{"top-level key", "count", float64(3), true},
		{"nested map", "user.name", "Ada", true},
		{"array index", "user.tags.1", "beta", true},
		{"map inside array", "items.0.sku", "A-1", true},
		{"missing key", "user.email", nil, false},
		{"index out of range", "user.tags.5", nil, false},
		{"negative index", "items.-1", nil, false},
		{"non-numeric index", "items.first", nil, false},
		{"descend into scalar", "count.value", nil, false},
		{"empty path", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LookupPath(data, tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "hi", "hi"},
		{"bool", true, "true"},
		{"whole float", float64(42), "42"},
		{"fractional float", float64(42.5), "42.5"},
		{"int", 7, "7"},
		{"json number", json.Number("12.30"), "12.30"},
		{"map renders as JSON", map[string]any{"a": float64(1)}, `{"a":1}`},
		{"slice renders as JSON", []any{"x", float64(2)}, `["x",2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Stringify(tt.in))
		})
	}
}
