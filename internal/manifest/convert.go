package manifest

import (
	"strconv"
	"strings"
	"time"
)

// Typed conversion helpers for parameter resolution. Override-store values
// arrive as strings, manifest values as whatever yaml decoded, so each helper
// accepts both. The second return is false when the value cannot be coerced;
// the resolver then logs a warning and falls through to the next tier.

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t == float64(int(t)) {
			return int(t), true
		}
		return 0, false
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		return n, err == nil
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return b, err == nil
	default:
		return false, false
	}
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	default:
		return "", false
	}
}

// asDuration accepts a Go duration string ("250ms") or a number of
// milliseconds.
func asDuration(v any) (time.Duration, bool) {
	switch t := v.(type) {
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			// Bare numbers in string form are milliseconds.
			if ms, intErr := strconv.Atoi(strings.TrimSpace(t)); intErr == nil {
				return time.Duration(ms) * time.Millisecond, true
			}
			return 0, false
		}
		return d, true
	default:
		if ms, ok := asInt(v); ok {
			return time.Duration(ms) * time.Millisecond, true
		}
		return 0, false
	}
}

// asStringList accepts a yaml sequence of strings or a comma-separated
// string (the form an override store delivers).
func asStringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, elem := range t {
			s, ok := asString(elem)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, true
		}
		parts := strings.Split(t, ",")
		out := make([]string, len(parts))
		for i, part := range parts {
			out[i] = strings.TrimSpace(part)
		}
		return out, true
	default:
		return nil, false
	}
}
