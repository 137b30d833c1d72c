package blackboard

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ValueKind identifies which variant of the Value union is populated.
// The kind is decided once, when the value is constructed (typically at
// manifest-parse time for trigger literals), so evaluation never needs
// runtime type inspection.
type ValueKind string

const (
	// ValueKindBool holds a boolean fact (e.g. "is_bot").
	ValueKindBool ValueKind = "bool"

	// ValueKindInt holds a whole-number fact (e.g. a request count).
	ValueKindInt ValueKind = "int"

	// ValueKindFloat holds a fractional fact (e.g. a rounded score).
	ValueKindFloat ValueKind = "float"

	// ValueKindString holds a categorical label or truncated hash.
	ValueKindString ValueKind = "string"

	// ValueKindList holds an ordered list of values (produced by the
	// Collect aggregation strategy).
	ValueKindList ValueKind = "list"

	// ValueKindStructured holds a small map of nested values.
	ValueKindStructured ValueKind = "structured"
)

// Validate checks if the ValueKind is a valid enum value.
func (k ValueKind) Validate() error {
	switch k {
	case ValueKindBool, ValueKindInt, ValueKindFloat, ValueKindString,
		ValueKindList, ValueKindStructured:
		return nil
	default:
		return fmt.Errorf("unknown value kind: %q", k)
	}
}

// Value is the tagged union carried by a Signal. Exactly one variant field is
// meaningful, selected by Kind. Values are immutable by convention: treat the
// List and Structured fields as read-only once the value is built.
type Value struct {
	Kind       ValueKind        `json:"kind"`
	Bool       bool             `json:"bool,omitempty"`
	Int        int64            `json:"int,omitempty"`
	Float      float64          `json:"float,omitempty"`
	Str        string           `json:"str,omitempty"`
	List       []Value          `json:"list,omitempty"`
	Structured map[string]Value `json:"structured,omitempty"`
}

// BoolValue constructs a boolean Value.
func BoolValue(v bool) Value { return Value{Kind: ValueKindBool, Bool: v} }

// IntValue constructs an integer Value.
func IntValue(v int64) Value { return Value{Kind: ValueKindInt, Int: v} }

// FloatValue constructs a float Value.
func FloatValue(v float64) Value { return Value{Kind: ValueKindFloat, Float: v} }

// StringValue constructs a string Value.
func StringValue(v string) Value { return Value{Kind: ValueKindString, Str: v} }

// ListValue constructs a list Value.
func ListValue(vs ...Value) Value { return Value{Kind: ValueKindList, List: vs} }

// FromAny converts an arbitrary Go value (as produced by yaml/json decoding)
// into a Value, deciding the union kind once. Sensitive wrappers are rejected
// outright - raw sensitive data must never become a signal value (use
// Sensitive.Hash or a boolean/label instead).
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case Sensitive, *Sensitive:
		return Value{}, ErrSensitiveValue
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int32:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint:
		return IntValue(int64(t)), nil
	case float32:
		return FloatValue(float64(t)), nil
	case float64:
		// yaml/json decode all numbers as float64; keep whole numbers as ints
		// so manifest literals like `value: 5` compare equal to emitted counts.
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return IntValue(int64(t)), nil
		}
		return FloatValue(t), nil
	case string:
		return StringValue(t), nil
	case []any:
		list := make([]Value, 0, len(t))
		for i, elem := range t {
			ev, err := FromAny(elem)
			if err != nil {
				return Value{}, fmt.Errorf("list element %d: %w", i, err)
			}
			list = append(list, ev)
		}
		return Value{Kind: ValueKindList, List: list}, nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for key, elem := range t {
			ev, err := FromAny(elem)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", key, err)
			}
			fields[key] = ev
		}
		return Value{Kind: ValueKindStructured, Structured: fields}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

// AsFloat returns the numeric interpretation of the value. The second return
// is false for non-numeric kinds.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case ValueKindInt:
		return float64(v.Int), true
	case ValueKindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// Equal reports whether two values are equal. Ints and floats compare
// numerically across kinds, so an emitted IntValue(5) satisfies a manifest
// literal of 5.0 and vice versa.
func (v Value) Equal(other Value) bool {
	if a, ok := v.AsFloat(); ok {
		b, bok := other.AsFloat()
		return bok && a == b
	}
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case ValueKindBool:
		return v.Bool == other.Bool
	case ValueKindString:
		return v.Str == other.Str
	case ValueKindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	case ValueKindStructured:
		if len(v.Structured) != len(other.Structured) {
			return false
		}
		for key, elem := range v.Structured {
			o, ok := other.Structured[key]
			if !ok || !elem.Equal(o) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String returns a stable stringified form of the value, used for grouping in
// the MajorityVote aggregation strategy and for logging.
func (v Value) String() string {
	switch v.Kind {
	case ValueKindBool:
		return strconv.FormatBool(v.Bool)
	case ValueKindInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueKindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValueKindString:
		return v.Str
	case ValueKindList:
		parts := make([]string, len(v.List))
		for i, elem := range v.List {
			parts[i] = elem.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case ValueKindStructured:
		keys := make([]string, 0, len(v.Structured))
		for key := range v.Structured {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, key := range keys {
			parts[i] = key + ":" + v.Structured[key].String()
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return ""
	}
}

// Native returns the plain Go representation of the value, suitable for
// handing to CEL trigger expressions or JSON encoding.
func (v Value) Native() any {
	switch v.Kind {
	case ValueKindBool:
		return v.Bool
	case ValueKindInt:
		return v.Int
	case ValueKindFloat:
		return v.Float
	case ValueKindString:
		return v.Str
	case ValueKindList:
		out := make([]any, len(v.List))
		for i, elem := range v.List {
			out[i] = elem.Native()
		}
		return out
	case ValueKindStructured:
		out := make(map[string]any, len(v.Structured))
		for key, elem := range v.Structured {
			out[key] = elem.Native()
		}
		return out
	default:
		return nil
	}
}

// Validate checks that the value's kind is known and nested values are valid.
func (v Value) Validate() error {
	if err := v.Kind.Validate(); err != nil {
		return err
	}
	for i, elem := range v.List {
		if err := elem.Validate(); err != nil {
			return fmt.Errorf("list element %d: %w", i, err)
		}
	}
	for key, elem := range v.Structured {
		if err := elem.Validate(); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
	}
	return nil
}
