package closure

import "fmt"

// NodeKind discriminates graph nodes.
type NodeKind uint8

const (
	KindFunction NodeKind = 1
	KindModule   NodeKind = 2
	KindClass    NodeKind = 3
)

func (k NodeKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindModule:
		return "module"
	case KindClass:
		return "class"
	default:
		return fmt.Sprintf("NodeKind(%d)", uint8(k))
	}
}

// Node is one entry in a serialized closure graph. Nodes appear in
// breadth-first discovery order; the first node is always the published
// function, which is how the deserializer knows what to return.
type Node struct {
	Kind   NodeKind      `cbor:"t"`
	Name   string        `cbor:"n"`
	Func   *FunctionNode `cbor:"f,omitempty"`
	Module string        `cbor:"m,omitempty"` // import name, KindModule only
	Class  *ClassNode    `cbor:"c,omitempty"`
}

// FunctionNode carries one function: its code, captured values, and the
// literal global bindings it needs at reconstruction time. A node with Ref
// set is an alias: the name binds to the function already rebuilt under the
// Ref name, and no code is carried twice.
type FunctionNode struct {
	Ref      string      `cbor:"r,omitempty"`
	Chunk    *wireChunk  `cbor:"c,omitempty"`
	Captured []wireValue `cbor:"v,omitempty"`
	Globals  []Binding   `cbor:"g,omitempty"`
}

// Binding is one literal global: a plain data value the function reads by
// name.
type Binding struct {
	Name  string    `cbor:"n"`
	Value wireValue `cbor:"v"`
}

// ClassNode carries a locally-defined class: originating module, base-class
// references by name, and the ordered member table. Base classes are
// guaranteed to appear earlier in the node list than the classes that
// extend them.
type ClassNode struct {
	Module  string        `cbor:"m"`
	Bases   []string      `cbor:"b,omitempty"`
	Members []ClassMember `cbor:"e,omitempty"`
}

// ClassMember is one class member: either a function or a literal value.
type ClassMember struct {
	Name  string        `cbor:"n"`
	Func  *FunctionNode `cbor:"f,omitempty"`
	Value *wireValue    `cbor:"v,omitempty"`
}
