// Package service publishes VM functions as remote web services and
// invokes them. Publishing serializes the function's dependency closure
// into a code bundle, uploads it to the workspace's management API, and
// returns a Published handle carrying the execution URL and key. The
// handle supports single calls and batched maps over the same endpoint.
package service

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/atelier-ml/atelier-go/codec"
	"github.com/atelier-ml/atelier-go/vm"
)

// TypeDesc is a declared argument or result type, serialized into the
// bundle's input/output schema. A Raw descriptor marks a string that
// bypasses the tagged codec in both directions.
type TypeDesc struct {
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`

	Raw bool `json:"-"`
}

// Schema descriptors for the platform's known types. Anything without a
// declared type travels as ObjectType through the tagged codec.
var (
	IntType    = TypeDesc{Type: "integer", Format: "int64"}
	BoolType   = TypeDesc{Type: "Boolean"}
	FloatType  = TypeDesc{Type: "number", Format: "double"}
	StringType = TypeDesc{Type: "string"}

	// ObjectType marks a value carried as a tagged codec document.
	ObjectType = TypeDesc{Type: "string", Format: "string"}

	// RawStringType passes the string through untouched: no codec
	// document, no JSON quoting.
	RawStringType = TypeDesc{Type: "string", Raw: true}
)

func (t TypeDesc) isObject() bool {
	return !t.Raw && strings.EqualFold(t.Type, "string") && t.Format == "string"
}

func (t TypeDesc) isString() bool {
	return t.Raw || (strings.EqualFold(t.Type, "string") && t.Format != "string")
}

// inferType picks the schema descriptor for an undeclared value.
func inferType(v vm.Value) TypeDesc {
	switch v.(type) {
	case int64, *big.Int:
		return IntType
	case bool:
		return BoolType
	case float64:
		return FloatType
	case string:
		return StringType
	default:
		return ObjectType
	}
}

// encodeArg turns one argument into its wire cell. Object values become
// tagged codec documents, declared strings pass through raw, everything
// else is plain JSON.
func encodeArg(v vm.Value, t TypeDesc) (string, error) {
	if t.isObject() {
		doc, err := codec.Encode(v)
		if err != nil {
			return "", err
		}
		return string(doc), nil
	}
	if t.isString() {
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("service: declared string argument got %s", vm.TypeName(v))
		}
		return s, nil
	}
	data, err := json.Marshal(jsonable(v))
	if err != nil {
		return "", fmt.Errorf("service: encode argument: %w", err)
	}
	return string(data), nil
}

// decodeCell is the inverse of encodeArg for a single response cell.
// Untyped cells carry a platform quirk: bare True/False strings are
// booleans.
func decodeCell(cell string, t TypeDesc) (vm.Value, error) {
	if t.isObject() {
		return codec.Decode([]byte(cell))
	}
	if t.isString() {
		return cell, nil
	}
	switch cell {
	case "True":
		return true, nil
	case "False":
		return false, nil
	}
	var raw any
	if err := json.Unmarshal([]byte(cell), &raw); err != nil {
		return nil, fmt.Errorf("service: decode result cell %q: %w", cell, err)
	}
	return fromJSON(raw), nil
}

// jsonable maps VM values onto encoding/json's native types.
func jsonable(v vm.Value) any {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case vm.List:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = jsonable(item)
		}
		return out
	case vm.Tuple:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = jsonable(item)
		}
		return out
	default:
		return v
	}
}

// fromJSON normalizes decoded JSON into VM value kinds: numbers become
// int64 when integral, arrays become lists.
func fromJSON(v any) vm.Value {
	switch x := v.(type) {
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
		return x
	case []any:
		out := make(vm.List, len(x))
		for i, item := range x {
			out[i] = fromJSON(item)
		}
		return out
	case map[string]any:
		d := vm.NewDict()
		for k, val := range x {
			d.Set(k, fromJSON(val))
		}
		return d
	default:
		return v
	}
}
