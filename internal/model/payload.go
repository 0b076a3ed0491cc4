package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Kind identifies the dynamic type held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindNumber
	KindString
	KindBool
	KindRaw
)

// Value is one decoded payload entry. Nested objects and arrays are kept as raw JSON.
type Value struct {
	kind Kind
	num  float64
	text string
	b    bool
}

func NumberValue(f float64) Value { return Value{kind: KindNumber, num: f} }
func StringValue(s string) Value  { return Value{kind: KindString, text: s} }
func BoolValue(b bool) Value      { return Value{kind: KindBool, b: b} }

// RawValue wraps nested JSON that has no scalar meaning to the detectors.
func RawValue(raw json.RawMessage) Value {
	return Value{kind: KindRaw, text: string(raw)}
}

func (v Value) Kind() Kind { return v.kind }

// Float returns the numeric value, or false when v is not a number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Text returns the string value, or false when v is not a string.
func (v Value) Text() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.text, true
}

// Bool returns the boolean value, or false when v is not a boolean.
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// ValueOf converts a decoded JSON value. It reports false for null.
func ValueOf(x any) (Value, bool) {
	switch t := x.(type) {
	case nil:
		return Value{}, false
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, false
		}
		return NumberValue(f), true
	case float64:
		return NumberValue(t), true
	case float32:
		return NumberValue(float64(t)), true
	case int:
		return NumberValue(float64(t)), true
	case int64:
		return NumberValue(float64(t)), true
	case string:
		return StringValue(t), true
	case bool:
		return BoolValue(t), true
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return Value{}, false
		}
		return RawValue(raw), true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.text)
	case KindBool:
		return json.Marshal(v.b)
	case KindRaw:
		return []byte(v.text), nil
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return fmt.Errorf("decode payload value: %w", err)
	}
	parsed, ok := ValueOf(x)
	if !ok {
		*v = Value{}
		return nil
	}
	*v = parsed
	return nil
}

// Payload is the decoded sensor object of an uplink.
type Payload map[string]Value

// PayloadFromMap converts a decoded JSON object, dropping nulls. Empty input yields nil.
func PayloadFromMap(m map[string]any) Payload {
	if len(m) == 0 {
		return nil
	}
	p := make(Payload, len(m))
	for k, x := range m {
		if v, ok := ValueOf(x); ok {
			p[k] = v
		}
	}
	if len(p) == 0 {
		return nil
	}
	return p
}

// Number returns the numeric value under key.
func (p Payload) Number(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return v.Float()
}

// Text returns the string value under key.
func (p Payload) Text(key string) (string, bool) {
	v, ok := p[key]
	if !ok {
		return "", false
	}
	return v.Text()
}

// Has reports whether key is present with a non-null value.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v.kind != KindInvalid
}

// Keys returns the payload keys in lexical order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
