package facts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind identifies the type held by a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindString
	KindBool
	KindInt
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a fact value. Leaves are strings, booleans or integers.
// Lists and maps only appear when a branch of the tree is read back.
type Value struct {
	kind   Kind
	str    string
	b      bool
	i      int64
	items  []Value
	fields []Fact
}

// String returns a string leaf.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool returns a boolean leaf.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an integer leaf.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Kind returns the value kind.
func (v Value) Kind() Kind { return v.kind }

// IsLeaf reports whether the value is a scalar.
func (v Value) IsLeaf() bool {
	return v.kind == KindString || v.kind == KindBool || v.kind == KindInt
}

// Str returns the string payload and whether the value is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// BoolValue returns the boolean payload and whether the value is a bool.
func (v Value) BoolValue() (bool, bool) { return v.b, v.kind == KindBool }

// IntValue returns the integer payload and whether the value is an int.
func (v Value) IntValue() (int64, bool) { return v.i, v.kind == KindInt }

// Items returns the elements of a list value.
func (v Value) Items() []Value { return v.items }

// Fields returns the ordered children of a map value.
func (v Value) Fields() []Fact { return v.fields }

// String renders the value the way the command line prints it.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindList, KindMap:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	default:
		return ""
	}
}

// Interface converts the value into plain Go values.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindList:
		out := make([]any, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.fields))
		for _, f := range v.fields {
			out[f.Path] = f.Value.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindList:
		if len(v.items) != len(o.items) {
			return false
		}
		for i := range v.items {
			if !v.items[i].Equal(o.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for i := range v.fields {
			if v.fields[i].Path != o.fields[i].Path || !v.fields[i].Value.Equal(o.fields[i].Value) {
				return false
			}
		}
		return true
	}
	return true
}

// MarshalJSON writes maps with their keys in tree order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(f.Path)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			data, err := f.Value.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case KindInvalid:
		return []byte("null"), nil
	default:
		return json.Marshal(v.Interface())
	}
}

// MarshalYAML keeps tree order for maps.
func (v Value) MarshalYAML() (any, error) {
	return v.yamlNode(), nil
}

func (v Value) yamlNode() *yaml.Node {
	switch v.kind {
	case KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.str}
	case KindBool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(v.b)}
	case KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v.i, 10)}
	case KindList:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.items {
			n.Content = append(n.Content, item.yamlNode())
		}
		return n
	case KindMap:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, f := range v.fields {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Path},
				f.Value.yamlNode())
		}
		return n
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}

// leafOf converts a Go scalar into a leaf value.
func leafOf(v any) (Value, bool, error) {
	switch x := v.(type) {
	case Value:
		if !x.IsLeaf() {
			return Value{}, false, nil
		}
		return x, true, nil
	case string:
		return String(x), true, nil
	case bool:
		return Bool(x), true, nil
	case int:
		return Int(int64(x)), true, nil
	case int8:
		return Int(int64(x)), true, nil
	case int16:
		return Int(int64(x)), true, nil
	case int32:
		return Int(int64(x)), true, nil
	case int64:
		return Int(x), true, nil
	case uint:
		return uintLeaf(uint64(x))
	case uint8:
		return Int(int64(x)), true, nil
	case uint16:
		return Int(int64(x)), true, nil
	case uint32:
		return Int(int64(x)), true, nil
	case uint64:
		return uintLeaf(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return Int(int64(x)), true, nil
		}
		return String(strconv.FormatFloat(x, 'f', -1, 64)), true, nil
	case float32:
		return leafOf(float64(x))
	case fmt.Stringer:
		return String(x.String()), true, nil
	}
	return Value{}, false, nil
}

func uintLeaf(u uint64) (Value, bool, error) {
	if u > math.MaxInt64 {
		return String(strconv.FormatUint(u, 10)), true, nil
	}
	return Int(int64(u)), true, nil
}
