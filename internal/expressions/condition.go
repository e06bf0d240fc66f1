package expressions

import (
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// EvaluateCondition applies one branch condition row to a slot value.
//
// When conditionValue is "true" or "false" (case-insensitive) both sides are
// coerced to booleans and only == and != are legal; relational operators on
// booleans yield false. The slot side coerces true only when its stringified,
// lowercased value is exactly "true": "yes" and "1" read as false, not true.
// Relational operators parse both sides as floats
// and yield false unless both parse. == and != compare stringified values,
// with a nil slot reading as the empty string. contains and !contains do
// substring matching. An unknown operator logs a warning and yields false.
func EvaluateCondition(slotValue any, operator, conditionValue string) bool {
	lower := strings.ToLower(conditionValue)
	if lower == "true" || lower == "false" {
		expected := lower == "true"
		actual := strings.ToLower(Stringify(slotValue)) == "true"
		switch operator {
		case "==":
			return actual == expected
		case "!=":
			return actual != expected
		default:
			return false
		}
	}

	switch operator {
	case ">", "<", ">=", "<=":
		slotNum, okA := parseFloatPrefix(Stringify(slotValue))
		condNum, okB := parseFloatPrefix(conditionValue)
		if !okA || !okB {
			return false
		}
		switch operator {
		case ">":
			return slotNum > condNum
		case "<":
			return slotNum < condNum
		case ">=":
			return slotNum >= condNum
		default:
			return slotNum <= condNum
		}

	case "==":
		return Stringify(slotValue) == conditionValue
	case "!=":
		return Stringify(slotValue) != conditionValue

	case "contains":
		return strings.Contains(Stringify(slotValue), conditionValue)
	case "!contains":
		return !strings.Contains(Stringify(slotValue), conditionValue)

	default:
		slog.Warn("unknown condition operator", "operator", operator)
		return false
	}
}

// Truthy mirrors loose boolean coercion: nil, false, zero, NaN and the
// empty string are false, everything else is true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0 && !math.IsNaN(val)
	case float32:
		return val != 0 && !math.IsNaN(float64(val))
	case int:
		return val != 0
	case int64:
		return val != 0
	default:
		return true
	}
}

// parseFloatPrefix parses the leading numeric portion of a string, the way
// parseFloat does: "12.5km" reads as 12.5, a string with no leading number
// does not parse.
func parseFloatPrefix(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	end := 0
	seenDigit := false
	seenDot := false
	seenExp := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
		case (c == '+' || c == '-') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
			// sign at start or right after an exponent marker
		case (c == 'e' || c == 'E') && seenDigit && !seenExp:
			seenExp = true
		default:
			goto parse
		}
		end = i + 1
	}

parse:
	// A trailing exponent marker or sign is not part of the number.
	for end > 0 {
		c := s[end-1]
		if c == 'e' || c == 'E' || c == '+' || c == '-' || c == '.' {
			end--
			continue
		}
		break
	}
	if end == 0 || !seenDigit {
		return 0, false
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
