package vm

import "fmt"

// builtins are available in every namespace without being bound there.
// The dependency walker relies on this: a global read that does not
// resolve in the function's namespace is assumed to be a builtin and does
// not travel with the closure.
var builtins = map[string]NativeFunc{
	"len": {Name: "len", Fn: func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len takes 1 argument, got %d", len(args))
		}
		return length(args[0])
	}},
	"str": {Name: "str", Fn: func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("str takes 1 argument, got %d", len(args))
		}
		if s, ok := args[0].(string); ok {
			return s, nil
		}
		return Format(args[0]), nil
	}},
	"abs": {Name: "abs", Fn: func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("abs takes 1 argument, got %d", len(args))
		}
		switch x := args[0].(type) {
		case int64:
			if x < 0 {
				return -x, nil
			}
			return x, nil
		case float64:
			if x < 0 {
				return -x, nil
			}
			return x, nil
		default:
			return nil, fmt.Errorf("abs expects a number, got %s", TypeName(args[0]))
		}
	}},
	"append": {Name: "append", Fn: func(args []Value) (Value, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("append takes 2 arguments, got %d", len(args))
		}
		l, ok := args[0].(List)
		if !ok {
			return nil, fmt.Errorf("append expects a list, got %s", TypeName(args[0]))
		}
		return append(append(List{}, l...), args[1]), nil
	}},
	"typeName": {Name: "typeName", Fn: func(args []Value) (Value, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("typeName takes 1 argument, got %d", len(args))
		}
		return TypeName(args[0]), nil
	}},
}

// Builtin resolves a builtin by name.
func Builtin(name string) (Value, bool) {
	b, ok := builtins[name]
	if !ok {
		return nil, false
	}
	return b, true
}

// IsBuiltin reports whether name is a builtin.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}
