package closure

import (
	"fmt"

	"github.com/atelier-ml/atelier-go/vm"
)

// Serialize walks fn's dependency graph and encodes it as a portable blob.
// The blob is self-contained: every function, locally-defined class and
// module reference fn transitively needs travels inside it, along with the
// literal values of any other globals it reads.
func Serialize(fn *vm.Function) ([]byte, error) {
	nodes, err := BuildGraph(fn)
	if err != nil {
		return nil, err
	}
	return marshalGraph(nodes)
}

// BuildGraph returns fn's closure graph as an ordered node list without
// framing it. Useful for inspecting what would travel with a publish.
func BuildGraph(fn *vm.Function) ([]Node, error) {
	s := &serializer{
		module:       fn.Module,
		fnSeen:       make(map[fnKey]bool),
		fnByPtr:      make(map[*vm.Function]string),
		classSeen:    make(map[classKey]bool),
		classEmitted: make(map[*vm.Class]bool),
		modSeen:      make(map[string]bool),
	}

	s.fnSeen[fnKey{fn.Name, fn}] = true
	s.fnByPtr[fn] = fn.Name
	s.queue = append(s.queue, queued{kind: qFunc, name: fn.Name, fn: fn})

	for len(s.queue) > 0 {
		item := s.queue[0]
		s.queue = s.queue[1:]

		switch item.kind {
		case qFunc:
			payload, err := s.functionPayload(item.name, item.fn)
			if err != nil {
				return nil, err
			}
			s.nodes = append(s.nodes, Node{Kind: KindFunction, Name: item.name, Func: payload})

		case qAlias:
			s.nodes = append(s.nodes, Node{Kind: KindFunction, Name: item.name, Func: &FunctionNode{Ref: item.ref}})

		case qModule:
			s.nodes = append(s.nodes, Node{Kind: KindModule, Name: item.name, Module: item.modName})

		case qClass:
			if err := s.emitClass(item.name, item.class); err != nil {
				return nil, err
			}
		}
	}

	return s.nodes, nil
}

type queuedKind uint8

const (
	qFunc queuedKind = iota
	qAlias
	qModule
	qClass
)

type queued struct {
	kind    queuedKind
	name    string
	fn      *vm.Function
	ref     string
	modName string
	class   *vm.Class
}

// fnKey tracks visits by (name, identity): the same function reached under
// a second name becomes an alias node, and a traversal cycle (mutual
// recursion) terminates because the pair has been seen.
type fnKey struct {
	name string
	fn   *vm.Function
}

type classKey struct {
	name  string
	class *vm.Class
}

type serializer struct {
	module       string // originating module of the published function
	fnSeen       map[fnKey]bool
	fnByPtr      map[*vm.Function]string
	classSeen    map[classKey]bool
	classEmitted map[*vm.Class]bool
	modSeen      map[string]bool
	queue        []queued
	nodes        []Node
}

// functionPayload encodes one function and classifies every global it
// reads, enqueueing newly discovered function/class/module dependencies.
func (s *serializer) functionPayload(name string, fn *vm.Function) (*FunctionNode, error) {
	reads, err := GlobalReads(fn.Chunk)
	if err != nil {
		return nil, fmt.Errorf("closure: walking %s: %w", name, err)
	}

	var globals []Binding
	for _, gname := range reads {
		v, ok := fn.NS.Get(gname)
		if !ok {
			// Unbound names are assumed builtin: they resolve on the
			// rebuilding side, or fail there at call time.
			continue
		}

		switch val := v.(type) {
		case *vm.Function:
			if existing, visited := s.fnByPtr[val]; visited {
				if existing != gname && !s.fnSeen[fnKey{gname, val}] {
					// Alias: same function object under a second name.
					// Reuse the already-queued node instead of carrying
					// the body twice.
					s.fnSeen[fnKey{gname, val}] = true
					s.queue = append(s.queue, queued{kind: qAlias, name: gname, ref: existing})
				}
			} else {
				s.fnSeen[fnKey{gname, val}] = true
				s.fnByPtr[val] = gname
				s.queue = append(s.queue, queued{kind: qFunc, name: gname, fn: val})
			}

		case *vm.Module:
			if !s.modSeen[gname] {
				s.modSeen[gname] = true
				s.queue = append(s.queue, queued{kind: qModule, name: gname, modName: val.Name})
			}

		case *vm.Class:
			if val.Module != s.module {
				return nil, &UnsupportedDependencyError{
					Name:   gname,
					Kind:   "class",
					Reason: fmt.Sprintf("defined in module %q, not in %q", val.Module, s.module),
				}
			}
			key := classKey{gname, val}
			if !s.classSeen[key] {
				s.classSeen[key] = true
				s.queue = append(s.queue, queued{kind: qClass, name: gname, class: val})
			}

		default:
			enc, encErr := encodeWire(v, map[any]bool{})
			if encErr != nil {
				return nil, &UnsupportedDependencyError{Name: gname, Kind: vm.TypeName(v), Reason: encErr.Error()}
			}
			globals = append(globals, Binding{Name: gname, Value: enc})
		}
	}

	chunk, err := encodeChunk(fn.Chunk)
	if err != nil {
		return nil, &UnsupportedDependencyError{Name: name, Kind: "function", Reason: err.Error()}
	}

	var captured []wireValue
	for i, cv := range fn.Captured {
		enc, encErr := encodeWire(cv, map[any]bool{})
		if encErr != nil {
			capName := fmt.Sprintf("capture %d", i)
			if i < len(fn.Chunk.CaptureNames) {
				capName = fn.Chunk.CaptureNames[i]
			}
			return nil, &UnsupportedDependencyError{Name: capName, Kind: vm.TypeName(cv), Reason: encErr.Error()}
		}
		captured = append(captured, enc)
	}

	return &FunctionNode{Chunk: chunk, Captured: captured, Globals: globals}, nil
}

// emitClass appends the node for a class, emitting any not-yet-emitted base
// classes first so the deserializer can resolve bases when it constructs
// the derived class. Member functions are walked like any other function,
// so their dependencies join the traversal.
func (s *serializer) emitClass(name string, class *vm.Class) error {
	if s.classEmitted[class] && name == class.Name {
		return nil
	}

	for _, base := range class.Bases {
		if base.Module != s.module {
			return &UnsupportedDependencyError{
				Name:   base.Name,
				Kind:   "class",
				Reason: fmt.Sprintf("base class defined in module %q, not in %q", base.Module, s.module),
			}
		}
		if !s.classEmitted[base] {
			if err := s.emitClass(base.Name, base); err != nil {
				return err
			}
		}
	}

	node := Node{
		Kind: KindClass,
		Name: name,
		Class: &ClassNode{
			Module: class.Module,
		},
	}
	for _, base := range class.Bases {
		node.Class.Bases = append(node.Class.Bases, base.Name)
	}

	for _, mname := range class.MemberNames() {
		mv, _ := class.Member(mname)
		if mfn, isFn := mv.(*vm.Function); isFn {
			payload, err := s.functionPayload(name+"."+mname, mfn)
			if err != nil {
				return err
			}
			node.Class.Members = append(node.Class.Members, ClassMember{Name: mname, Func: payload})
			continue
		}
		enc, err := encodeWire(mv, map[any]bool{})
		if err != nil {
			return &UnsupportedDependencyError{Name: name + "." + mname, Kind: vm.TypeName(mv), Reason: err.Error()}
		}
		node.Class.Members = append(node.Class.Members, ClassMember{Name: mname, Value: &enc})
	}

	s.classEmitted[class] = true
	s.nodes = append(s.nodes, node)
	return nil
}
