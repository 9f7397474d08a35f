package vm

import (
	"fmt"
	"sort"
	"sync"
)

// Namespace holds the module-global bindings a set of functions resolves
// names against. Functions keep a reference to the namespace they were
// defined (or reconstructed) in; lookups happen at execution time.
//
// A namespace is not safe for concurrent mutation. Reconstructing two
// closures into the same namespace concurrently must be serialized by the
// caller.
type Namespace struct {
	name     string
	bindings map[string]Value
}

// NewNamespace creates an empty namespace named after its module.
func NewNamespace(name string) *Namespace {
	return &Namespace{
		name:     name,
		bindings: make(map[string]Value),
	}
}

// Name returns the module name the namespace belongs to.
func (ns *Namespace) Name() string {
	return ns.name
}

// Get returns the binding for name.
func (ns *Namespace) Get(name string) (Value, bool) {
	v, ok := ns.bindings[name]
	return v, ok
}

// Has reports whether name is bound.
func (ns *Namespace) Has(name string) bool {
	_, ok := ns.bindings[name]
	return ok
}

// Set binds name to value.
func (ns *Namespace) Set(name string, value Value) {
	ns.bindings[name] = value
}

// Names returns all bound names, sorted.
func (ns *Namespace) Names() []string {
	names := make([]string, 0, len(ns.bindings))
	for name := range ns.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Function is a named chunk bound to the namespace it was defined in.
type Function struct {
	Name     string
	Module   string // originating module name
	Chunk    *Chunk
	NS       *Namespace
	Captured []Value // values for OpLoadCapture, parallel to Chunk.CaptureNames
}

// NewFunction creates a function defined in ns and binds it there under its
// name.
func NewFunction(name string, chunk *Chunk, ns *Namespace) *Function {
	fn := &Function{
		Name:   name,
		Module: ns.Name(),
		Chunk:  chunk,
		NS:     ns,
	}
	ns.Set(name, fn)
	return fn
}

// NativeFunc is a function implemented in Go (a builtin).
type NativeFunc struct {
	Name string
	Fn   func(args []Value) (Value, error)
}

// BoundMethod pairs a receiver with a member function.
type BoundMethod struct {
	Recv Value
	Fn   *Function
}

// member keeps class members ordered; reconstruction order matters for the
// closure blob round trip.
type member struct {
	name  string
	value Value
}

// Class is a locally-defined class: name, originating module, base classes
// and an ordered member table.
type Class struct {
	Name    string
	Module  string
	Bases   []*Class
	members []member
}

// NewClass creates a class. It is the caller's job to bind it into a
// namespace.
func NewClass(name, module string, bases ...*Class) *Class {
	return &Class{Name: name, Module: module, Bases: bases}
}

// SetMember binds a member, replacing an existing one in place.
func (c *Class) SetMember(name string, value Value) {
	for i := range c.members {
		if c.members[i].name == name {
			c.members[i].value = value
			return
		}
	}
	c.members = append(c.members, member{name: name, value: value})
}

// Member returns the class's own member, without consulting bases.
func (c *Class) Member(name string) (Value, bool) {
	for i := range c.members {
		if c.members[i].name == name {
			return c.members[i].value, true
		}
	}
	return nil, false
}

// MemberNames returns the class's own member names in definition order.
func (c *Class) MemberNames() []string {
	names := make([]string, len(c.members))
	for i := range c.members {
		names[i] = c.members[i].name
	}
	return names
}

// Lookup resolves a member through the class and its bases, depth-first in
// base order.
func (c *Class) Lookup(name string) (Value, bool) {
	if v, ok := c.Member(name); ok {
		return v, true
	}
	for _, base := range c.Bases {
		if v, ok := base.Lookup(name); ok {
			return v, true
		}
	}
	return nil, false
}

// Object is an instance of a Class.
type Object struct {
	Class *Class
	attrs map[string]Value
}

// NewObject creates an instance without running init.
func NewObject(class *Class) *Object {
	return &Object{Class: class, attrs: make(map[string]Value)}
}

// Get resolves an attribute: instance attrs first, then the class chain.
// Member functions come back bound to the instance.
func (o *Object) Get(name string) (Value, bool) {
	if v, ok := o.attrs[name]; ok {
		return v, true
	}
	v, ok := o.Class.Lookup(name)
	if !ok {
		return nil, false
	}
	if fn, isFn := v.(*Function); isFn {
		return &BoundMethod{Recv: o, Fn: fn}, true
	}
	return v, true
}

// Set assigns an instance attribute.
func (o *Object) Set(name string, value Value) {
	o.attrs[name] = value
}

// Module is an importable unit: a named namespace. Deserialized module
// references are resolved by name through the process-wide registry, so
// the process rebuilding a closure must register (or have compiled in) the
// same modules the publishing process used.
type Module struct {
	Name string
	NS   *Namespace
}

// Attr returns a module attribute.
func (m *Module) Attr(name string) (Value, bool) {
	return m.NS.Get(name)
}

var (
	moduleMu  sync.RWMutex
	moduleReg = make(map[string]*Module)
)

// RegisterModule makes a module importable by name. Registering the same
// name twice replaces the earlier module.
func RegisterModule(m *Module) {
	moduleMu.Lock()
	defer moduleMu.Unlock()
	moduleReg[m.Name] = m
}

// Import resolves a module by name from the registry.
func Import(name string) (*Module, error) {
	moduleMu.RLock()
	defer moduleMu.RUnlock()
	m, ok := moduleReg[name]
	if !ok {
		return nil, fmt.Errorf("vm: no module registered under %q", name)
	}
	return m, nil
}

// NewModule creates a module with a fresh namespace and registers it.
func NewModule(name string) *Module {
	m := &Module{Name: name, NS: NewNamespace(name)}
	RegisterModule(m)
	return m
}
