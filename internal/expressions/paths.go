package expressions

import (
	"encoding/json"
	"strconv"
	"strings"
)

// LookupPath resolves a dot-separated path into nested maps and slices.
// Segments index maps by key and slices by integer position, so
// "items.0.name" reads data["items"][0]["name"]. The second return value
// reports whether the full path resolved.
func LookupPath(data any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	current := data
	for _, seg := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a slot value for templates and string comparisons.
// Scalars render plainly, nil renders empty, composites render as inline JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
