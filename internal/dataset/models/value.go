package models

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindDate
	KindObject
	KindList
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
	case KindDate:
		return "date"
	case KindObject:
		return "object"
	case KindList:
		return "list"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is one record payload value: null, bool, number, string, date,
// object or list. The zero Value is null. Values are immutable once built;
// Object and List copy their inputs.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	t    time.Time
	obj  map[string]Value
	list []Value
}

func Null() Value            { return Value{} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func Date(t time.Time) Value { return Value{kind: KindDate, t: t.UTC()} }

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) String() string { return v.Text() }

func Object(m map[string]Value) Value {
	return Value{kind: KindObject, obj: maps.Clone(m)}
}

func List(vs ...Value) Value {
	return Value{kind: KindList, list: slices.Clone(vs)}
}

func (v Value) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }
func (v Value) AsString() (string, bool)  { return v.s, v.kind == KindString }
func (v Value) AsDate() (time.Time, bool) { return v.t, v.kind == KindDate }
func (v Value) AsList() ([]Value, bool)   { return slices.Clone(v.list), v.kind == KindList }

func (v Value) AsObject() (map[string]Value, bool) {
	return maps.Clone(v.obj), v.kind == KindObject
}

// Text renders a scalar for display and CSV export. Objects and lists render
// as compact JSON; null renders empty.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.n)
	case KindString:
		return v.s
	case KindDate:
		return formatDate(v.t)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Equal reports deep equality. Values of different kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindDate:
		return v.t.Equal(o.t)
	case KindObject:
		return maps.EqualFunc(v.obj, o.obj, Value.Equal)
	case KindList:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	}
	return false
}

// Compare orders values for sorting. Null sorts first; values of different
// kinds order by kind; objects and lists compare by their JSON text.
func (v Value) Compare(o Value) int {
	if v.kind != o.kind {
		return cmp.Compare(v.kind, o.kind)
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		switch {
		case v.b == o.b:
			return 0
		case !v.b:
			return -1
		default:
			return 1
		}
	case KindNumber:
		return cmp.Compare(v.n, o.n)
	case KindString:
		return strings.Compare(v.s, o.s)
	case KindDate:
		return v.t.Compare(o.t)
	default:
		return strings.Compare(v.Text(), o.Text())
	}
}

// MarshalJSON encodes dates as RFC 3339 strings.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return nil, fmt.Errorf("unsupported number %v", v.n)
		}
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindDate:
		return json.Marshal(formatDate(v.t))
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON decodes any JSON document. Strings stay strings; schema
// normalization promotes them to dates where the field type asks for it.
func (v *Value) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	decoded, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// FromAny converts decoded JSON or native Go scalars into a Value.
func FromAny(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", x.String())
		}
		return Number(f), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case time.Time:
		return Date(x), nil
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for k, item := range x {
			iv, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = iv
		}
		return Value{kind: KindObject, obj: obj}, nil
	case []any:
		list := make([]Value, 0, len(x))
		for _, item := range x {
			iv, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			list = append(list, iv)
		}
		return Value{kind: KindList, list: list}, nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", raw)
}

// Data is a record payload keyed by field name.
type Data map[string]Value

// Clone returns a shallow copy; Values themselves are immutable.
func (d Data) Clone() Data {
	if d == nil {
		return Data{}
	}
	return maps.Clone(d)
}

// Keys returns field names in sorted order.
func (d Data) Keys() []string {
	return slices.Sorted(maps.Keys(d))
}

// DataFrom builds Data from native Go values, failing on unsupported types.
func DataFrom(m map[string]any) (Data, error) {
	d := make(Data, len(m))
	for k, raw := range m {
		v, err := FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		d[k] = v
	}
	return d, nil
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}

func formatDate(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(time.RFC3339Nano)
}
