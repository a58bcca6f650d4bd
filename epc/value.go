// Package epc implements the Emacs RPC (EPC) wire protocol: a
// length-prefixed, S-expression-based, bidirectional RPC stack used to
// talk to (and from) Emacs over a plain TCP connection.
package epc

import "fmt"

// Kind discriminates the variants of Value.
type Kind int

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSymbol
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindSymbol:
		return "symbol"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "unknown"
}

// Value is a tagged union of the values the EPC wire can carry. The zero
// Value is Nil.
//
// Symbol and String are kept as distinct variants even though both are
// plain UTF-8 text in memory: the wire distinguishes a bare symbol from
// a double-quoted string, and Emacs-side consumers depend on that
// distinction surviving the round trip.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    *OrderedMap
}

// Nil is the canonical EPC nil/false value.
var Nil = Value{kind: KindNil}

// True is the canonical EPC non-nil boolean.
var True = Value{kind: KindBool, b: true}

// Bool returns a boolean Value. Note that on the wire both Bool(false)
// and Nil serialize identically to the symbol "nil" (see Design Notes
// in the specification): there is no dedicated wire-level false.
func Bool(b bool) Value {
	if b {
		return True
	}
	return Nil
}

// Int returns a 64-bit signed integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a double-precision Value. NaN and ±Inf are rejected at
// emission time, not at construction time, so intermediate computation
// may still produce them.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a double-quoted-string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Symbol returns a bare-symbol Value.
func Symbol(s string) Value { return Value{kind: KindSymbol, s: s} }

// List returns an ordered-sequence Value.
func List(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

// Map returns a Value wrapping an OrderedMap. A nil map degrades to Nil,
// matching the wire's "optional, may be nil" treatment of maps.
func Map(m *OrderedMap) Value {
	if m == nil || m.Len() == 0 {
		return Nil
	}
	return Value{kind: KindMap, m: m}
}

// Kind reports the variant tag of v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is the Nil variant.
func (v Value) IsNil() bool { return v.kind == KindNil }

// Truthy implements EPC's boolean interpretation: anything other than
// Nil is truthy, including Bool(false)'s sibling representation — but
// since Bool(false) canonicalizes to Nil, in practice this is simply
// "is this value present".
func (v Value) Truthy() bool { return v.kind != KindNil }

// BoolValue returns the boolean payload; only meaningful when Kind() is
// KindBool.
func (v Value) BoolValue() bool { return v.b }

// IntValue returns the integer payload; only meaningful when Kind() is
// KindInt.
func (v Value) IntValue() int64 { return v.i }

// FloatValue returns the float payload; only meaningful when Kind() is
// KindFloat.
func (v Value) FloatValue() float64 { return v.f }

// Text returns the string payload for both String and Symbol variants.
func (v Value) Text() string { return v.s }

// Items returns the element slice for a List variant. The returned
// slice aliases v's storage and must not be mutated.
func (v Value) Items() []Value { return v.list }

// MapValue returns the underlying OrderedMap for a Map variant, or nil
// otherwise.
func (v Value) MapValue() *OrderedMap { return v.m }

// At returns the i-th element of a List, or Nil if out of range or v is
// not a List. Used pervasively by handlers pulling positional arguments
// out of an args list.
func (v Value) At(i int) Value {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Nil
	}
	return v.list[i]
}

// Len returns the number of elements in a List, or 0 otherwise.
func (v Value) Len() int {
	if v.kind != KindList {
		return 0
	}
	return len(v.list)
}

// Equal reports structural equality between v and o.
func Equal(v, o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNil:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString, KindSymbol:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !Equal(v.list[i], o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return v.m.equal(o.m)
	}
	return false
}

// GoString renders a debug representation, used in logs and tests.
func (v Value) GoString() string {
	switch v.kind {
	case KindNil:
		return "Nil"
	case KindBool:
		return fmt.Sprintf("Bool(%v)", v.b)
	case KindInt:
		return fmt.Sprintf("Int(%d)", v.i)
	case KindFloat:
		return fmt.Sprintf("Float(%v)", v.f)
	case KindString:
		return fmt.Sprintf("String(%q)", v.s)
	case KindSymbol:
		return fmt.Sprintf("Symbol(%s)", v.s)
	case KindList:
		return fmt.Sprintf("List(%d items)", len(v.list))
	case KindMap:
		return fmt.Sprintf("Map(%d keys)", v.m.Len())
	}
	return "Invalid"
}

// OrderedMap is an insertion-ordered association from string keys to
// Values. The wire format for EPC maps is implementation-defined and
// rarely used in practice, so this is deliberately minimal: the spec
// treats it as optional and allows it to degrade to Nil.
type OrderedMap struct {
	keys   []string
	values map[string]Value
}

// NewOrderedMap returns an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]Value)}
}

// Set inserts or replaces the value for key, preserving first-insertion
// order.
func (m *OrderedMap) Set(key string, v Value) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value for key and whether it was present.
func (m *OrderedMap) Get(key string) (Value, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *OrderedMap) Keys() []string { return m.keys }

// Len returns the number of entries.
func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *OrderedMap) equal(o *OrderedMap) bool {
	if m.Len() != o.Len() {
		return false
	}
	for _, k := range m.keys {
		ov, ok := o.Get(k)
		if !ok || !Equal(m.values[k], ov) {
			return false
		}
	}
	return true
}
