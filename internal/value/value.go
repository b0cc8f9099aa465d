// pattern: Functional Core

// Package value implements an immutable JSON value with a kind tag.
// Objects keep their members in document order so that re-encoding a
// parsed payload is deterministic.
package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Member is a single key/value pair of an object.
type Member struct {
	Key   string
	Value Value
}

// Value is a JSON value. The zero Value is null.
type Value struct {
	kind    Kind
	b       bool
	num     json.Number
	str     string
	items   []Value
	members []Member
}

// NullValue returns the JSON null.
func NullValue() Value { return Value{} }

// BoolValue returns a JSON boolean.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// StringValue returns a JSON string.
func StringValue(s string) Value { return Value{kind: String, str: s} }

// IntValue returns a JSON number holding n.
func IntValue(n int64) Value { return Value{kind: Number, num: json.Number(strconv.FormatInt(n, 10))} }

// NumberValue returns a JSON number with n's exact text. n is checked when encoding.
func NumberValue(n json.Number) Value { return Value{kind: Number, num: n} }

// ArrayValue returns an array holding a copy of items.
func ArrayValue(items ...Value) Value {
	return Value{kind: Array, items: append([]Value(nil), items...)}
}

// ObjectValue returns an object with the given members. A repeated key keeps
// its first position and its last value.
func ObjectValue(members ...Member) Value {
	v := Value{kind: Object, members: make([]Member, 0, len(members))}
	for _, m := range members {
		if i := v.index(m.Key); i >= 0 {
			v.members[i].Value = m.Value
			continue
		}
		v.members = append(v.members, m)
	}
	return v
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsObject reports whether v is a mapping from string to Value.
func (v Value) IsObject() bool { return v.kind == Object }

// BoolOK, StringOK and NumberOK return the scalar held by v and whether v has that kind.
func (v Value) BoolOK() (bool, bool)          { return v.b, v.kind == Bool }
func (v Value) StringOK() (string, bool)      { return v.str, v.kind == String }
func (v Value) NumberOK() (json.Number, bool) { return v.num, v.kind == Number }

// Len returns the number of array items or object members.
func (v Value) Len() int {
	switch v.kind {
	case Array:
		return len(v.items)
	case Object:
		return len(v.members)
	}
	return 0
}

// Items returns a copy of the array items.
func (v Value) Items() []Value {
	return append([]Value(nil), v.items...)
}

// Members returns a copy of the object members in document order.
func (v Value) Members() []Member {
	return append([]Member(nil), v.members...)
}

// Get looks up key in an object.
func (v Value) Get(key string) (Value, bool) {
	if i := v.index(key); i >= 0 {
		return v.members[i].Value, true
	}
	return Value{}, false
}

// With returns a copy of the object v with key set to val. An existing key
// keeps its position. Calling With on a non-object returns v unchanged.
func (v Value) With(key string, val Value) Value {
	if v.kind != Object {
		return v
	}
	members := make([]Member, len(v.members), len(v.members)+1)
	copy(members, v.members)
	if i := v.index(key); i >= 0 {
		members[i].Value = val
	} else {
		members = append(members, Member{Key: key, Value: val})
	}
	return Value{kind: Object, members: members}
}

func (v Value) index(key string) int {
	for i, m := range v.members {
		if m.Key == key {
			return i
		}
	}
	return -1
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(strconv.FormatBool(v.b))
	case Number:
		if !json.Valid([]byte(v.num)) {
			return fmt.Errorf("value: invalid number %q", string(v.num))
		}
		buf.WriteString(string(v.num))
	case String:
		b, err := json.Marshal(v.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, m := range v.members {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(m.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("value: unknown kind %d", v.kind)
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MaxDepth is the deepest array/object nesting Parse accepts. encoding/json
// refuses to re-encode much deeper documents, so Parse rejects them up front.
const MaxDepth = 1000

var (
	// ErrTrailingData is returned by Parse when input continues after the first value.
	ErrTrailingData = errors.New("value: unexpected data after top-level value")

	// ErrTooDeep is returned by Parse when nesting exceeds MaxDepth.
	ErrTooDeep = fmt.Errorf("value: nesting exceeds %d levels", MaxDepth)
)

// Parse decodes exactly one JSON value from data.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decode(dec, 0)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, fmt.Errorf("value: unexpected end of input: %w", io.ErrUnexpectedEOF)
		}
		return Value{}, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Value{}, ErrTrailingData
	}
	return v, nil
}

func decode(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(t), nil
	case json.Number:
		return NumberValue(t), nil
	case string:
		return StringValue(t), nil
	case json.Delim:
		if depth >= MaxDepth {
			return Value{}, ErrTooDeep
		}
		switch t {
		case '[':
			var items []Value
			for dec.More() {
				item, err := decode(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: Array, items: items}, nil
		case '{':
			var members []Member
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("value: object key %v is not a string", keyTok)
				}
				val, err := decode(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				members = append(members, Member{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return ObjectValue(members...), nil
		}
	}
	return Value{}, fmt.Errorf("value: unexpected token %v", tok)
}
