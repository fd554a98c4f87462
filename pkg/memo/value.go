package memo

import (
	"fmt"
	"reflect"
	"sort"
)

// Kind identifies the variant of a Value node.
type Kind int

const (
	KindNil Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindPath
	KindList
	KindMap
	KindSet
	KindFileRef
	KindAtom
)

// Value is a node in the normalized bound-argument tree. The set of
// implementations is closed; codecs pattern-match over Kind instead of
// probing arbitrary Go types at staleness-check time.
type Value interface {
	Kind() Kind
}

// Nil is the absent-value atom.
type Nil struct{}

// String is a text atom.
type String string

// Int is a 64-bit integer atom.
type Int int64

// Float is a 64-bit floating point atom.
type Float float64

// Bool is a boolean atom.
type Bool bool

// Bytes is a raw byte-string atom.
type Bytes []byte

// Path is a filesystem path atom. It is memoized distinctly from String so
// that a path-valued argument and an equal plain string do not collide.
type Path string

// List is an ordered sequence of values.
type List []Value

// Map is a string-keyed mapping. Keys are sorted during encoding.
type Map map[string]Value

// Set is an unordered collection; elements are ordered by their canonical
// encodings before hashing so element order never affects the digest.
type Set []Value

// FileRef stands in for an input or output file bound into a rule's
// arguments. The memo captures the argument slot, not the resolved path:
// moving a project directory must not invalidate every memo.
type FileRef struct {
	// Slot names the position of the file in the argument structure.
	Slot string
}

// Atom pairs the value an action actually receives with the representation
// that gets memoized in its place. Codecs encode only Memo; Real never
// reaches the sidecar.
type Atom struct {
	Real Value
	Memo Value
}

func (Nil) Kind() Kind     { return KindNil }
func (String) Kind() Kind  { return KindString }
func (Int) Kind() Kind     { return KindInt }
func (Float) Kind() Kind   { return KindFloat }
func (Bool) Kind() Kind    { return KindBool }
func (Bytes) Kind() Kind   { return KindBytes }
func (Path) Kind() Kind    { return KindPath }
func (List) Kind() Kind    { return KindList }
func (Map) Kind() Kind     { return KindMap }
func (Set) Kind() Kind     { return KindSet }
func (FileRef) Kind() Kind { return KindFileRef }
func (Atom) Kind() Kind    { return KindAtom }

// FromGo converts a plain Go value into a Value tree. Supported leaves are
// strings, signed integers, floats, booleans and byte slices; containers are
// []any and map[string]any. Existing Value nodes pass through unchanged.
// Cyclic containers are rejected with ErrCyclicValue.
func FromGo(v any) (Value, error) {
	return fromGo(v, make(map[uintptr]bool))
}

func fromGo(v any, visiting map[uintptr]bool) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Nil{}, nil
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case bool:
		return Bool(val), nil
	case []byte:
		return Bytes(val), nil
	case []any:
		if len(val) > 0 {
			id := reflect.ValueOf(val).Pointer()
			if visiting[id] {
				return nil, ErrCyclicValue
			}
			visiting[id] = true
			defer delete(visiting, id)
		}
		list := make(List, len(val))
		for i, elem := range val {
			converted, err := fromGo(elem, visiting)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			list[i] = converted
		}
		return list, nil
	case map[string]any:
		if len(val) > 0 {
			id := reflect.ValueOf(val).Pointer()
			if visiting[id] {
				return nil, ErrCyclicValue
			}
			visiting[id] = true
			defer delete(visiting, id)
		}
		m := make(Map, len(val))
		for k, elem := range val {
			converted, err := fromGo(elem, visiting)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			m[k] = converted
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

// Equal reports whether two Value trees are structurally equal. Atoms are
// compared by their memoized representation; set element order is ignored.
func Equal(a, b Value) bool {
	a = memoView(a)
	b = memoView(b)
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Nil:
		return true
	case String:
		return av == b.(String)
	case Int:
		return av == b.(Int)
	case Float:
		return av == b.(Float)
	case Bool:
		return av == b.(Bool)
	case Bytes:
		bv := b.(Bytes)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case Path:
		return av == b.(Path)
	case List:
		bv := b.(List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv := b.(Map)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	case Set:
		bv := b.(Set)
		if len(av) != len(bv) {
			return false
		}
		ae, aerr := sortedSetEncodings(av)
		be, berr := sortedSetEncodings(bv)
		if aerr != nil || berr != nil {
			return false
		}
		for i := range ae {
			if ae[i] != be[i] {
				return false
			}
		}
		return true
	case FileRef:
		return av.Slot == b.(FileRef).Slot
	default:
		return false
	}
}

// memoView unwraps Atom nodes to the representation that participates in
// memo comparison.
func memoView(v Value) Value {
	for {
		atom, ok := v.(Atom)
		if !ok {
			return v
		}
		v = atom.Memo
	}
}

func sortedSetEncodings(s Set) ([]string, error) {
	encs := make([]string, len(s))
	for i, elem := range s {
		enc, err := Canonical(elem)
		if err != nil {
			return nil, err
		}
		encs[i] = enc
	}
	sort.Strings(encs)
	return encs, nil
}

// containerID returns an identity for cycle tracking. Only container kinds
// can participate in a cycle.
func containerID(v Value) (uintptr, bool) {
	switch v.(type) {
	case List, Set, Map:
		rv := reflect.ValueOf(v)
		if rv.Len() == 0 {
			return 0, false
		}
		return rv.Pointer(), true
	default:
		return 0, false
	}
}
