package closure

import (
	"github.com/atelier-ml/atelier-go/vm"
)

// Deserialize rebuilds a closure blob into ns and returns the published
// function (the object rebuilt from the first node).
//
// Nodes are bound in stored order. That is sufficient even for mutually
// recursive functions: a reconstructed function resolves its globals only
// when called, and by then every node has been bound. Class nodes are the
// exception; their base classes must already be bound, which the
// serializer guarantees by ordering bases first.
//
// ns should be freshly created (builtins are always reachable and need not
// be bound). Deserialize mutates ns in place; rebuilding two closures into
// the same namespace concurrently must be serialized by the caller.
func Deserialize(blob []byte, ns *vm.Namespace) (*vm.Function, error) {
	nodes, err := unmarshalGraph(blob)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, reconstructErr("empty graph")
	}

	var first vm.Value
	for i, node := range nodes {
		var bound vm.Value

		switch node.Kind {
		case KindFunction:
			if node.Func == nil {
				return nil, reconstructErr("function node %q has no payload", node.Name)
			}
			if node.Func.Ref != "" {
				target, ok := ns.Get(node.Func.Ref)
				if !ok {
					return nil, reconstructErr("node %q aliases %q, which is not bound", node.Name, node.Func.Ref)
				}
				bound = target
			} else {
				fn, err := rebuildFunction(node.Name, node.Func, ns)
				if err != nil {
					return nil, err
				}
				bound = fn
			}

		case KindModule:
			m, err := vm.Import(node.Module)
			if err != nil {
				return nil, &ReconstructionError{Reason: "importing module node " + node.Name, Err: err}
			}
			bound = m

		case KindClass:
			cls, err := rebuildClass(node.Name, node.Class, ns)
			if err != nil {
				return nil, err
			}
			bound = cls

		default:
			return nil, reconstructErr("node %d has unknown kind %d", i, node.Kind)
		}

		ns.Set(node.Name, bound)
		if first == nil {
			first = bound
		}
	}

	fn, ok := first.(*vm.Function)
	if !ok {
		return nil, reconstructErr("first node %q is not a function", nodes[0].Name)
	}
	return fn, nil
}

// rebuildFunction constructs a callable from a function node. Its literal
// globals are merged into the shared namespace so every function rebuilt
// from the same blob sees them.
func rebuildFunction(name string, fnode *FunctionNode, ns *vm.Namespace) (*vm.Function, error) {
	if fnode.Chunk == nil {
		return nil, reconstructErr("function node %q has no code", name)
	}
	chunk, err := decodeChunk(fnode.Chunk)
	if err != nil {
		return nil, &ReconstructionError{Reason: "decoding code of " + name, Err: err}
	}

	for _, b := range fnode.Globals {
		v, err := decodeWire(b.Value)
		if err != nil {
			return nil, &ReconstructionError{Reason: "decoding global " + b.Name + " of " + name, Err: err}
		}
		ns.Set(b.Name, v)
	}

	var captured []vm.Value
	for i, enc := range fnode.Captured {
		v, err := decodeWire(enc)
		if err != nil {
			return nil, reconstructErr("decoding capture %d of %q", i, name)
		}
		captured = append(captured, v)
	}

	return &vm.Function{
		Name:     name,
		Module:   ns.Name(),
		Chunk:    chunk,
		NS:       ns,
		Captured: captured,
	}, nil
}

// rebuildClass reconstructs members first (functions against the shared
// namespace, values via the literal decoding), then constructs the class
// with its base classes resolved from the namespace.
func rebuildClass(name string, cnode *ClassNode, ns *vm.Namespace) (*vm.Class, error) {
	if cnode == nil {
		return nil, reconstructErr("class node %q has no payload", name)
	}

	bases := make([]*vm.Class, 0, len(cnode.Bases))
	for _, baseName := range cnode.Bases {
		v, ok := ns.Get(baseName)
		if !ok {
			return nil, reconstructErr("class %q: base class %q is not bound", name, baseName)
		}
		base, isClass := v.(*vm.Class)
		if !isClass {
			return nil, reconstructErr("class %q: base %q is %s, not a class", name, baseName, vm.TypeName(v))
		}
		bases = append(bases, base)
	}

	cls := vm.NewClass(name, cnode.Module, bases...)
	for _, m := range cnode.Members {
		switch {
		case m.Func != nil:
			fn, err := rebuildFunction(m.Name, m.Func, ns)
			if err != nil {
				return nil, err
			}
			cls.SetMember(m.Name, fn)
		case m.Value != nil:
			v, err := decodeWire(*m.Value)
			if err != nil {
				return nil, &ReconstructionError{Reason: "decoding member " + m.Name + " of class " + name, Err: err}
			}
			cls.SetMember(m.Name, v)
		default:
			return nil, reconstructErr("class %q: member %q has no payload", name, m.Name)
		}
	}

	return cls, nil
}
