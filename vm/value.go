package vm

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Value is any runtime value. The data kinds, shared with the codec, are:
//
//	nil, bool, int64, *big.Int, float64, complex128, string, []byte,
//	List, Tuple, *Dict, *NDArray
//
// The runtime-only kinds are *Function, NativeFunc, *BoundMethod, *Class,
// *Object and *Module. Runtime-only kinds cannot be embedded as literal
// globals or sent through the codec.
type Value = any

// List is a mutable ordered sequence.
type List = []Value

// Tuple is an immutable-by-convention ordered sequence, kept distinct from
// List so the two round-trip through serialization without losing their kind.
type Tuple []Value

// Pair is one dict entry.
type Pair struct {
	Key   Value
	Value Value
}

// Dict is an ordered mapping with arbitrary keys. Lookup is a linear scan
// over Equal; dicts crossing the wire are small argument payloads, not
// bulk storage.
type Dict struct {
	pairs []Pair
}

// NewDict creates an empty dict.
func NewDict() *Dict {
	return &Dict{}
}

// DictOf builds a dict from alternating key, value arguments.
func DictOf(kv ...Value) *Dict {
	if len(kv)%2 != 0 {
		panic("vm.DictOf: odd number of arguments")
	}
	d := NewDict()
	for i := 0; i < len(kv); i += 2 {
		d.Set(kv[i], kv[i+1])
	}
	return d
}

// Set binds key to value, replacing an existing equal key in place.
func (d *Dict) Set(key, value Value) {
	for i := range d.pairs {
		if Equal(d.pairs[i].Key, key) {
			d.pairs[i].Value = value
			return
		}
	}
	d.pairs = append(d.pairs, Pair{Key: key, Value: value})
}

// Get returns the value bound to key.
func (d *Dict) Get(key Value) (Value, bool) {
	for i := range d.pairs {
		if Equal(d.pairs[i].Key, key) {
			return d.pairs[i].Value, true
		}
	}
	return nil, false
}

// Delete removes key, reporting whether it was present.
func (d *Dict) Delete(key Value) bool {
	for i := range d.pairs {
		if Equal(d.pairs[i].Key, key) {
			d.pairs = append(d.pairs[:i], d.pairs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return len(d.pairs)
}

// Items returns the entries in insertion order. The slice is shared; callers
// must not mutate it.
func (d *Dict) Items() []Pair {
	return d.pairs
}

// NDArray is a dense numeric array: shape, element type name, raw bytes.
type NDArray struct {
	Shape []int64
	DType string
	Data  []byte
}

// TypeName returns the codec-facing name of a value's kind.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int64:
		return "int"
	case *big.Int:
		return "long"
	case float64:
		return "float"
	case complex128:
		return "complex"
	case string:
		return "unicode"
	case []byte:
		return "bytes"
	case List:
		return "list"
	case Tuple:
		return "tuple"
	case *Dict:
		return "dict"
	case *NDArray:
		return "ndarray"
	case *Function:
		return "function"
	case NativeFunc:
		return "builtin"
	case *BoundMethod:
		return "method"
	case *Class:
		return "class"
	case *Object:
		return "object"
	case *Module:
		return "module"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Truthy reports whether a value counts as true in a condition.
// nil, false, zero numbers and empty containers are falsy.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case *big.Int:
		return x.Sign() != 0
	case float64:
		return x != 0
	case complex128:
		return x != 0
	case string:
		return x != ""
	case []byte:
		return len(x) > 0
	case List:
		return len(x) > 0
	case Tuple:
		return len(x) > 0
	case *Dict:
		return x.Len() > 0
	default:
		return true
	}
}

// Equal reports deep equality of two values. Numeric values compare across
// int64 and float64. Runtime-only kinds compare by identity.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case int64:
		switch y := b.(type) {
		case int64:
			return x == y
		case float64:
			return float64(x) == y
		case *big.Int:
			return y.IsInt64() && y.Int64() == x
		}
		return false
	case float64:
		switch y := b.(type) {
		case float64:
			return x == y
		case int64:
			return x == float64(y)
		}
		return false
	case *big.Int:
		switch y := b.(type) {
		case *big.Int:
			return x.Cmp(y) == 0
		case int64:
			return x.IsInt64() && x.Int64() == y
		}
		return false
	case complex128:
		y, ok := b.(complex128)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case []byte:
		y, ok := b.([]byte)
		return ok && string(x) == string(y)
	case List:
		y, ok := b.(List)
		return ok && sliceEqual(x, y)
	case Tuple:
		y, ok := b.(Tuple)
		return ok && sliceEqual(x, y)
	case *Dict:
		y, ok := b.(*Dict)
		if !ok || x.Len() != y.Len() {
			return false
		}
		for _, p := range x.pairs {
			v, found := y.Get(p.Key)
			if !found || !Equal(p.Value, v) {
				return false
			}
		}
		return true
	case *NDArray:
		y, ok := b.(*NDArray)
		if !ok || x.DType != y.DType || len(x.Shape) != len(y.Shape) {
			return false
		}
		for i := range x.Shape {
			if x.Shape[i] != y.Shape[i] {
				return false
			}
		}
		return string(x.Data) == string(y.Data)
	default:
		return a == b
	}
}

func sliceEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Format renders a value for error messages and the disassembler.
func Format(v Value) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int64:
		return strconv.FormatInt(x, 10)
	case *big.Int:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case complex128:
		return strconv.FormatComplex(x, 'g', -1, 128)
	case string:
		return strconv.Quote(x)
	case []byte:
		return fmt.Sprintf("bytes[%d]", len(x))
	case List:
		return "[" + formatSlice(x) + "]"
	case Tuple:
		return "(" + formatSlice(x) + ")"
	case *Dict:
		var sb strings.Builder
		sb.WriteByte('{')
		for i, p := range x.pairs {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(Format(p.Key))
			sb.WriteString(": ")
			sb.WriteString(Format(p.Value))
		}
		sb.WriteByte('}')
		return sb.String()
	case *NDArray:
		return fmt.Sprintf("ndarray%v<%s>", x.Shape, x.DType)
	case *Function:
		return fmt.Sprintf("<function %s>", x.Name)
	case NativeFunc:
		return fmt.Sprintf("<builtin %s>", x.Name)
	case *BoundMethod:
		return fmt.Sprintf("<bound method %s>", x.Fn.Name)
	case *Class:
		return fmt.Sprintf("<class %s>", x.Name)
	case *Object:
		return fmt.Sprintf("<%s instance>", x.Class.Name)
	case *Module:
		return fmt.Sprintf("<module %s>", x.Name)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatSlice(vs []Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = Format(v)
	}
	return strings.Join(parts, ", ")
}
