package api

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// Value is an arbitrary JSON value: the backend attaches free-form metadata
// to several entities. Numbers keep their original literal so encoding a
// decoded Value reproduces the input byte-for-byte (modulo key order and
// whitespace).
type Value struct {
	kind Kind
	str  string // string value, or verbatim number literal
	b    bool
	arr  []Value
	obj  map[string]Value
}

func Null() Value                { return Value{kind: KindNull} }
func String(s string) Value      { return Value{kind: KindString, str: s} }
func Number(n json.Number) Value { return Value{kind: KindNumber, str: string(n)} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: items}
}
func Object(fields map[string]Value) Value {
	return Value{kind: KindObject, obj: fields}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Str() string {
	return v.str
}

func (v Value) Num() json.Number {
	return json.Number(v.str)
}

func (v Value) Bool() bool {
	return v.b
}

func (v Value) Items() []Value {
	return v.arr
}

func (v Value) Fields() map[string]Value {
	return v.obj
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(x), nil
	case json.Number:
		return Number(x), nil
	case bool:
		return Bool(x), nil
	case []any:
		items := make([]Value, 0, len(x))
		for _, item := range x {
			parsed, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, parsed)
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(x))
		for key, item := range x {
			parsed, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[key] = parsed
		}
		return Object(fields), nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON value %T", raw)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return []byte(v.str), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("invalid value kind %d", v.kind)
	}
}
