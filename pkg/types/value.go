// Package types defines the data model shared by every ActionTrace component:
// the sanitized event payload representation, the Event record itself, context
// mappings, atomic operations, filter rules, sampling strategies and the
// settings groups that configure them.
package types

import (
	"encoding/json"
	"fmt"
)

// Kind tags the concrete shape a Value holds. Values are the canonical runtime
// representation every payload is normalized into at ingestion time — the
// sanitizer never lets anything else survive construction of an Event.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the scalar/collection shapes a payload may
// contain after sanitization: null, bool, float64, string, an ordered array of
// Values, or a string-keyed map of Values. It is the dictionary-only,
// string-keyed boundary type used both in memory and at the persistence
// boundary.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	arr    []Value
	object map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean scalar.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a numeric scalar.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string scalar.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps an ordered sequence of Values.
func Array(items []Value) Value { return Value{kind: KindArray, arr: items} }

// Map wraps a string-keyed collection of Values.
func Map(fields map[string]Value) Value { return Value{kind: KindMap, object: fields} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean value and whether v is actually a bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric value and whether v is actually a number.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string value and whether v is actually a string.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsArray returns the backing slice and whether v is actually an array.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsMap returns the backing map and whether v is actually a map.
func (v Value) AsMap() (map[string]Value, bool) { return v.object, v.kind == KindMap }

// Native converts a Value back into a plain Go value (nil, bool, float64,
// string, []interface{} or map[string]interface{}), useful for templating
// summaries or handing payloads to external callers.
func (v Value) Native() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Native()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.object))
		for k, item := range v.object {
			out[k] = item.Native()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler using the Native projection.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Native())
}

// UnmarshalJSON implements json.Unmarshaler, reconstructing a Value tree from
// arbitrary decoded JSON (numbers decode to float64, as encoding/json does by
// default). The result is NOT re-sanitized; callers loading persisted
// snapshots are expected to have been sanitized at write time already.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromNative(raw)
	return nil
}

// FromNative converts an arbitrary Go value (as produced by encoding/json,
// or handed in by a capture source) into the Value tree, WITHOUT enforcing
// size/depth limits. Use Sanitize to additionally enforce the payload
// invariants from the data model.
func FromNative(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case []interface{}:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromNative(item)
		}
		return Array(items)
	case []Value:
		return Array(t)
	case map[string]interface{}:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[k] = FromNative(item)
		}
		return Map(fields)
	case map[string]Value:
		return Map(t)
	case Value:
		return t
	default:
		return String(fmt.Sprintf("%v", t))
	}
}
