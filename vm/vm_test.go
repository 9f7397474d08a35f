package vm

import (
	"errors"
	"math/big"
	"testing"
)

// addFunc builds add(a, b) = a + b in ns.
func addFunc(ns *Namespace) *Function {
	c := NewChunk("a", "b")
	c.EmitLoadParam(0)
	c.EmitLoadParam(1)
	c.Emit(OpAdd)
	c.Emit(OpReturn)
	return NewFunction("add", c, ns)
}

func TestCallSimpleFunction(t *testing.T) {
	ns := NewNamespace("main")
	fn := addFunc(ns)

	got, err := New().Call(fn, []Value{int64(2), int64(3)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != int64(5) {
		t.Errorf("add(2, 3) = %v, want 5", got)
	}
}

func TestCallArity(t *testing.T) {
	ns := NewNamespace("main")
	fn := addFunc(ns)

	if _, err := New().Call(fn, []Value{int64(1)}); err == nil {
		t.Error("Call with missing argument succeeded")
	}
}

func TestCallDefaults(t *testing.T) {
	// greet(name, suffix="!") = name + suffix
	c := NewChunk("name", "suffix")
	c.Defaults = []Value{"!"}
	c.EmitLoadParam(0)
	c.EmitLoadParam(1)
	c.Emit(OpAdd)
	c.Emit(OpReturn)
	ns := NewNamespace("main")
	fn := NewFunction("greet", c, ns)

	got, err := New().Call(fn, []Value{"hi"})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != "hi!" {
		t.Errorf("greet(hi) = %v, want hi!", got)
	}
}

func TestLateGlobalBinding(t *testing.T) {
	ns := NewNamespace("main")

	// outer() = helper(10); helper is not defined yet when outer is built.
	c := NewChunk()
	c.EmitLoadGlobal("helper")
	c.EmitConst(int64(10))
	c.EmitCall(1)
	c.Emit(OpReturn)
	outer := NewFunction("outer", c, ns)

	if _, err := New().Call(outer, nil); err == nil {
		t.Fatal("call before helper was defined succeeded")
	}

	h := NewChunk("n")
	h.EmitLoadParam(0)
	h.EmitConst(int64(1))
	h.Emit(OpAdd)
	h.Emit(OpReturn)
	NewFunction("helper", h, ns)

	got, err := New().Call(outer, nil)
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != int64(11) {
		t.Errorf("outer() = %v, want 11", got)
	}
}

func TestMutualRecursion(t *testing.T) {
	ns := NewNamespace("main")
	defineParity(ns)

	got, err := New().Call(mustGet(t, ns, "isEven"), []Value{int64(10)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != true {
		t.Errorf("isEven(10) = %v, want true", got)
	}

	got, err = New().Call(mustGet(t, ns, "isOdd"), []Value{int64(7)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != true {
		t.Errorf("isOdd(7) = %v, want true", got)
	}
}

func TestBuiltinFallback(t *testing.T) {
	ns := NewNamespace("main")

	// size(x) = len(x); len is nowhere in ns, resolves to the builtin.
	c := NewChunk("x")
	c.EmitLoadGlobal("len")
	c.EmitLoadParam(0)
	c.EmitCall(1)
	c.Emit(OpReturn)
	fn := NewFunction("size", c, ns)

	got, err := New().Call(fn, []Value{"hello"})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != int64(5) {
		t.Errorf("size(hello) = %v, want 5", got)
	}
}

func TestStackOverflow(t *testing.T) {
	ns := NewNamespace("main")

	// loop() = loop()
	c := NewChunk()
	c.EmitLoadGlobal("loop")
	c.EmitCall(0)
	c.Emit(OpReturn)
	fn := NewFunction("loop", c, ns)

	_, err := New().Call(fn, nil)
	if err == nil {
		t.Fatal("unbounded recursion returned")
	}
	if !errors.Is(err, ErrStackOverflow) {
		t.Errorf("error = %v, want stack overflow", err)
	}
}

func TestBigIntPromotion(t *testing.T) {
	ns := NewNamespace("main")
	fn := addFunc(ns)

	big1 := new(big.Int).SetInt64(1)
	got, err := New().Call(fn, []Value{big1, int64(2)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	want := new(big.Int).SetInt64(3)
	if b, ok := got.(*big.Int); !ok || b.Cmp(want) != 0 {
		t.Errorf("1L + 2 = %v, want 3L", got)
	}
}

func TestContainers(t *testing.T) {
	ns := NewNamespace("main")

	// pack(a, b) = {a: [b, b]}
	c := NewChunk("a", "b")
	c.EmitLoadParam(0)
	c.EmitLoadParam(1)
	c.EmitLoadParam(1)
	c.EmitU8(OpMakeList, 2)
	c.EmitU8(OpMakeDict, 1)
	c.Emit(OpReturn)
	fn := NewFunction("pack", c, ns)

	got, err := New().Call(fn, []Value{"k", int64(7)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	d, ok := got.(*Dict)
	if !ok {
		t.Fatalf("result = %T, want *Dict", got)
	}
	v, ok := d.Get("k")
	if !ok {
		t.Fatal("key k missing")
	}
	if !Equal(v, List{int64(7), int64(7)}) {
		t.Errorf("d[k] = %v, want [7 7]", v)
	}
}

func TestClassConstructionAndMethods(t *testing.T) {
	ns := NewNamespace("main")

	// class Counter: init(self, start) sets self.n; bump(self) returns n+1.
	counter := NewClass("Counter", "main")

	init := NewChunk("self", "start")
	init.EmitLoadParam(0)
	init.EmitLoadParam(1)
	init.EmitU16(OpSetAttr, init.AddConst("n"))
	init.Emit(OpReturnNil)
	counter.SetMember("init", &Function{Name: "init", Module: "main", Chunk: init, NS: ns})

	bump := NewChunk("self")
	bump.EmitLoadParam(0)
	bump.EmitU16(OpGetAttr, bump.AddConst("n"))
	bump.EmitConst(int64(1))
	bump.Emit(OpAdd)
	bump.Emit(OpReturn)
	counter.SetMember("bump", &Function{Name: "bump", Module: "main", Chunk: bump, NS: ns})

	machine := New()
	obj, err := machine.Call(counter, []Value{int64(41)})
	if err != nil {
		t.Fatalf("construct error: %v", err)
	}

	method, ok := obj.(*Object).Get("bump")
	if !ok {
		t.Fatal("bump not found on instance")
	}
	got, err := machine.Call(method, nil)
	if err != nil {
		t.Fatalf("bump error: %v", err)
	}
	if got != int64(42) {
		t.Errorf("bump() = %v, want 42", got)
	}
}

func TestClassInheritanceLookup(t *testing.T) {
	base := NewClass("Base", "main")
	base.SetMember("tag", "base")
	derived := NewClass("Derived", "main", base)

	v, ok := derived.Lookup("tag")
	if !ok || v != "base" {
		t.Errorf("Derived.Lookup(tag) = %v, %v; want base, true", v, ok)
	}
}

// defineParity installs isEven/isOdd in ns, each calling the other
// through a global read.
func defineParity(ns *Namespace) {
	build := func(name, other string, zeroResult Value) {
		c := NewChunk("n")
		c.EmitLoadParam(0)
		c.EmitConst(int64(0))
		c.Emit(OpEq)
		jmp := c.EmitJump(OpJumpFalse)
		if zeroResult == true {
			c.Emit(OpTrue)
		} else {
			c.Emit(OpFalse)
		}
		c.Emit(OpReturn)
		c.PatchJump(jmp)
		c.EmitLoadGlobal(other)
		c.EmitLoadParam(0)
		c.EmitConst(int64(1))
		c.Emit(OpSub)
		c.EmitCall(1)
		c.Emit(OpReturn)
		NewFunction(name, c, ns)
	}
	build("isEven", "isOdd", true)
	build("isOdd", "isEven", false)
}

func mustGet(t *testing.T, ns *Namespace, name string) Value {
	t.Helper()
	v, ok := ns.Get(name)
	if !ok {
		t.Fatalf("%s not bound", name)
	}
	return v
}
