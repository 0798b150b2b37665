package ir

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// Kind identifies the primitive type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindDate
)

// String returns the declaration name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a sealed interface over the column value kinds.
// Only Null, String, Number, Bool and Date implement it.
type Value interface {
	irValue() // Sealed - only these types implement it
	Kind() Kind
}

// Null is the absent value of an optional column.
type Null struct{}

func (Null) irValue()   {}
func (Null) Kind() Kind { return KindNull }

// String is a text value.
type String string

func (String) irValue()   {}
func (String) Kind() Kind { return KindString }

// Number is a numeric value. NaN and infinities are rejected at the
// record boundary; they cannot be stored or canonically encoded.
type Number float64

func (Number) irValue()   {}
func (Number) Kind() Kind { return KindNumber }

// Bool is a boolean value.
type Bool bool

func (Bool) irValue()   {}
func (Bool) Kind() Kind { return KindBool }

// Date is a point in time with millisecond precision, stored as
// milliseconds since the Unix epoch.
type Date int64

func (Date) irValue()   {}
func (Date) Kind() Kind { return KindDate }

// NewDate truncates t to milliseconds.
func NewDate(t time.Time) Date {
	return Date(t.UnixMilli())
}

// Time returns the date as a UTC time.
func (d Date) Time() time.Time {
	return time.UnixMilli(int64(d)).UTC()
}

// Object maps column names to values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

// Clone returns a shallow copy; values are immutable so this is a full copy.
func (obj Object) Clone() Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order which differs for some inputs.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal reports whether two values have the same kind and content.
// A nil Value equals Null.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	if a.Kind() != b.Kind() {
		return false
	}
	return a == b
}

// Compare orders two values of the same kind. Null sorts before every
// other value. Values of different non-null kinds compare by kind.
func Compare(a, b Value) int {
	an, bn := IsNull(a), IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	if a.Kind() != b.Kind() {
		return int(a.Kind()) - int(b.Kind())
	}
	switch av := a.(type) {
	case String:
		return strings.Compare(string(av), string(b.(String)))
	case Number:
		bv := b.(Number)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case Bool:
		bv := b.(Bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case Date:
		bv := b.(Date)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	}
	return 0
}

// FromAny converts a decoded Go value (YAML, JSON, flags) to a Value without
// a target kind. Integers and floats become Number, time.Time becomes Date.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Number(val), nil
	case int32:
		return Number(val), nil
	case int64:
		return Number(val), nil
	case uint64:
		return Number(val), nil
	case float32:
		return Number(val), nil
	case float64:
		return Number(val), nil
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return Number(f), nil
	case time.Time:
		return NewDate(val), nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}

// Coerce converts a decoded Go value to a Value of the requested kind.
// Dates accept time.Time, RFC 3339 strings, and epoch milliseconds.
// nil always becomes Null; whether Null is acceptable is the caller's concern.
func Coerce(v any, k Kind) (Value, error) {
	if v == nil {
		return Null{}, nil
	}
	if val, ok := v.(Value); ok {
		if IsNull(val) || val.Kind() == k {
			return val, nil
		}
		if d, ok := val.(Number); ok && k == KindDate {
			return Date(int64(d)), nil
		}
		return nil, fmt.Errorf("expected %s, got %s", k, val.Kind())
	}

	switch k {
	case KindString:
		if s, ok := v.(string); ok {
			return String(s), nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return Bool(b), nil
		}
	case KindNumber:
		val, err := FromAny(v)
		if err == nil {
			if n, ok := val.(Number); ok {
				return n, nil
			}
		}
	case KindDate:
		switch t := v.(type) {
		case time.Time:
			return NewDate(t), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("invalid date %q: %w", t, err)
			}
			return NewDate(parsed), nil
		default:
			val, err := FromAny(v)
			if err == nil {
				if n, ok := val.(Number); ok {
					return Date(int64(n)), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", k, v)
}

// ParseText parses a command-line literal as a value of kind k.
// The literal "null" always parses to Null.
func ParseText(s string, k Kind) (Value, error) {
	if s == "null" {
		return Null{}, nil
	}
	switch k {
	case KindString:
		return String(s), nil
	case KindNumber:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", s)
		}
		return Number(f), nil
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", s)
		}
		return Bool(b), nil
	case KindDate:
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Date(ms), nil
		}
		return Coerce(s, KindDate)
	default:
		return nil, fmt.Errorf("cannot parse %s literal", k)
	}
}

// ToAny converts a value to a plain Go value for JSON/YAML output.
// Dates render as RFC 3339 strings with millisecond precision.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Number:
		return float64(val)
	case Bool:
		return bool(val)
	case Date:
		return val.Time().Format("2006-01-02T15:04:05.000Z07:00")
	default:
		return nil
	}
}

// validNumber reports whether f can be stored and canonically encoded.
func validNumber(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Valid reports whether v is storable. Only non-finite numbers are invalid.
func Valid(v Value) bool {
	if n, ok := v.(Number); ok {
		return validNumber(float64(n))
	}
	return true
}
