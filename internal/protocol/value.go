package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindInt
	KindBool
	KindStringList
	KindData
	KindReal
	KindNull
)

// String returns the agent's vocabulary for the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindBool:
		return "true/false"
	case KindStringList:
		return "slist"
	case KindData:
		return "data container"
	case KindReal:
		return "real"
	case KindNull:
		return "null"
	default:
		return "invalid"
	}
}

// Value is one attribute value. Data holds decoded JSON (map[string]any
// or []any with json.Number leaves) for nested containers.
type Value struct {
	Kind Kind
	Str  string
	Int  int64
	Bool bool
	List []string
	Real float64
	Data any
}

func String(s string) Value            { return Value{Kind: KindString, Str: s} }
func Int(i int64) Value                { return Value{Kind: KindInt, Int: i} }
func Bool(b bool) Value                { return Value{Kind: KindBool, Bool: b} }
func StringList(items ...string) Value { return Value{Kind: KindStringList, List: append([]string{}, items...)} }

// Data wraps a JSON-compatible container. The argument is normalised
// through a JSON round trip so later copies and comparisons are uniform.
func Data(v any) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	var out Value
	if err := out.UnmarshalJSON(raw); err != nil {
		return Value{}, err
	}
	if out.Kind != KindData && out.Kind != KindStringList {
		return Value{}, fmt.Errorf("%w: %s is not a container", ErrInvalidValue, out.Kind)
	}
	if out.Kind == KindStringList {
		items := make([]any, len(out.List))
		for i, s := range out.List {
			items[i] = s
		}
		out = Value{Kind: KindData, Data: items}
	}
	return out, nil
}

// IsSet reports whether v holds any variant.
func (v Value) IsSet() bool {
	return v.Kind != KindInvalid
}

func (v Value) AsString() (string, bool) {
	return v.Str, v.Kind == KindString
}

func (v Value) AsInt() (int64, bool) {
	return v.Int, v.Kind == KindInt
}

func (v Value) AsBool() (bool, bool) {
	return v.Bool, v.Kind == KindBool
}

func (v Value) AsStringList() ([]string, bool) {
	return v.List, v.Kind == KindStringList
}

// AsMap returns the mapping held by a data container.
func (v Value) AsMap() (map[string]any, bool) {
	if v.Kind != KindData {
		return nil, false
	}
	m, ok := v.Data.(map[string]any)
	return m, ok
}

// Interface returns v as plain Go data.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return v.Int
	case KindBool:
		return v.Bool
	case KindStringList:
		return append([]string{}, v.List...)
	case KindReal:
		return v.Real
	case KindData:
		return cloneData(v.Data)
	default:
		return nil
	}
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	out := v
	if v.List != nil {
		out.List = append([]string{}, v.List...)
	}
	if v.Data != nil {
		out.Data = cloneData(v.Data)
	}
	return out
}

func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<%s>", v.Kind)
		}
		return string(raw)
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindInt:
		return json.Marshal(v.Int)
	case KindBool:
		return json.Marshal(v.Bool)
	case KindStringList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindReal:
		return json.Marshal(v.Real)
	case KindData:
		return json.Marshal(v.Data)
	case KindNull:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("%w: unset value", ErrInvalidValue)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	out, err := valueOf(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

func valueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{Kind: KindNull}, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: number %s", ErrInvalidValue, x)
		}
		return Value{Kind: KindReal, Real: f}, nil
	case []any:
		list := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return Value{Kind: KindData, Data: x}, nil
			}
			list = append(list, s)
		}
		return Value{Kind: KindStringList, List: list}, nil
	case map[string]any:
		return Value{Kind: KindData, Data: x}, nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported %T", ErrInvalidValue, raw)
	}
}

func cloneData(in any) any {
	switch x := in.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[k] = cloneData(v)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, v := range x {
			out[i] = cloneData(v)
		}
		return out
	default:
		return x
	}
}

// Attributes maps attribute names to values.
type Attributes map[string]Value

// Clone returns a deep copy of a.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v.Clone()
	}
	return out
}

// Names returns attribute names in sorted order.
func (a Attributes) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is present.
func (a Attributes) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// GetString returns the string attribute name, or def when absent or not a string.
func (a Attributes) GetString(name, def string) string {
	if s, ok := a[name].AsString(); ok {
		return s
	}
	return def
}

// GetBool returns the boolean attribute name, or def when absent or not a boolean.
func (a Attributes) GetBool(name string, def bool) bool {
	if b, ok := a[name].AsBool(); ok {
		return b
	}
	return def
}

// GetInt returns the integer attribute name, or def when absent or not an integer.
func (a Attributes) GetInt(name string, def int64) int64 {
	if i, ok := a[name].AsInt(); ok {
		return i
	}
	return def
}
