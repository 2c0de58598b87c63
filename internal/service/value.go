package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ValueKind tags the closed set of data kinds crossing the service
// boundary.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
	KindRaw
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the service data kinds. An explicit kind
// switch replaces template dispatch over the same closed set.
type Value struct {
	kind ValueKind
	b    bool
	num  float64
	str  string
	obj  map[string]Value
	arr  []Value
	raw  []byte
}

func Null() Value                     { return Value{kind: KindNull} }
func Bool(v bool) Value               { return Value{kind: KindBool, b: v} }
func Number(v float64) Value          { return Value{kind: KindNumber, num: v} }
func String(v string) Value           { return Value{kind: KindString, str: v} }
func Object(v map[string]Value) Value { return Value{kind: KindObject, obj: v} }
func Array(v []Value) Value           { return Value{kind: KindArray, arr: v} }
func Raw(v []byte) Value              { return Value{kind: KindRaw, raw: v} }

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) AsNumber() (float64, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) AsObject() (map[string]Value, bool) {
	return v.obj, v.kind == KindObject
}

func (v Value) AsArray() ([]Value, bool) {
	return v.arr, v.kind == KindArray
}

func (v Value) AsRaw() ([]byte, bool) {
	return v.raw, v.kind == KindRaw
}

// MarshalJSON renders the union as plain JSON; raw buffers are base64.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindObject:
		return json.Marshal(v.obj)
	case KindArray:
		return json.Marshal(v.arr)
	case KindRaw:
		return json.Marshal(base64.StdEncoding.EncodeToString(v.raw))
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON infers the kind from the JSON shape. Raw buffers cannot be
// distinguished from strings on the wire; callers expecting raw data must
// decode the string themselves.
func (v *Value) UnmarshalJSON(data []byte) error {
	var any interface{}
	if err := json.Unmarshal(data, &any); err != nil {
		return err
	}
	*v = FromInterface(any)
	return nil
}

// FromInterface converts a decoded JSON value into the union.
func FromInterface(any interface{}) Value {
	switch t := any.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []byte:
		return Raw(t)
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			obj[k] = FromInterface(e)
		}
		return Object(obj)
	case []interface{}:
		arr := make([]Value, 0, len(t))
		for _, e := range t {
			arr = append(arr, FromInterface(e))
		}
		return Array(arr)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}
