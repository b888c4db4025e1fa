package usage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindNumber ValueKind = iota + 1
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is a single event property: either a decimal number or a string.
// The zero Value is invalid and is treated like an absent property.
type Value struct {
	kind ValueKind
	num  decimal.Decimal
	str  string
}

// Number returns a numeric property value.
func Number(d decimal.Decimal) Value {
	return Value{kind: KindNumber, num: d}
}

// NumberFromInt is a shorthand for Number(decimal.NewFromInt(n)).
func NumberFromInt(n int64) Value {
	return Number(decimal.NewFromInt(n))
}

// String returns a string property value.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Kind reports which variant v holds.
func (v Value) Kind() ValueKind { return v.kind }

// IsValid reports whether v holds a number or a string.
func (v Value) IsValid() bool { return v.kind == KindNumber || v.kind == KindString }

// Decimal returns the numeric value and true, or zero and false for strings.
// Strings are never coerced, even if they look like numbers.
func (v Value) Decimal() (decimal.Decimal, bool) {
	if v.kind != KindNumber {
		return decimal.Zero, false
	}
	return v.num, true
}

// Text returns the string value and true, or "" and false for numbers.
func (v Value) Text() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// key is a canonical representation used to compare values for distinct counting.
// Numbers that differ only in trailing zeros collapse to the same key.
func (v Value) key() string {
	switch v.kind {
	case KindNumber:
		return "n:" + v.num.String()
	case KindString:
		return "s:" + v.str
	default:
		return ""
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return v.num.String()
	case KindString:
		return v.str
	default:
		return "<invalid>"
	}
}

// MarshalJSON writes numbers as bare JSON numbers and strings as JSON strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return []byte(v.num.String()), nil
	case KindString:
		return json.Marshal(v.str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts JSON numbers, strings and booleans.
// Booleans are kept as the strings "true"/"false".
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case 't', 'f':
		b, err := strconv.ParseBool(string(data))
		if err != nil {
			return fmt.Errorf("usage: invalid property value %s", data)
		}
		*v = String(strconv.FormatBool(b))
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("usage: invalid property value %s", data)
	}
	*v = Number(d)
	return nil
}

// ValueOf converts a decoded YAML/JSON scalar into a Value.
// Unsupported types return an invalid Value and false.
func ValueOf(x any) (Value, bool) {
	switch t := x.(type) {
	case Value:
		return t, t.IsValid()
	case decimal.Decimal:
		return Number(t), true
	case int:
		return NumberFromInt(int64(t)), true
	case int64:
		return NumberFromInt(t), true
	case float64:
		return Number(decimal.NewFromFloat(t)), true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return Value{}, false
		}
		return Number(d), true
	case string:
		return String(t), true
	case bool:
		return String(strconv.FormatBool(t)), true
	default:
		return Value{}, false
	}
}
