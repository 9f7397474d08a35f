package closure

import (
	"errors"
	"testing"

	"github.com/atelier-ml/atelier-go/vm"
)

// buildAdd defines add(a, b) = a + b in ns.
func buildAdd(ns *vm.Namespace) *vm.Function {
	c := vm.NewChunk("a", "b")
	c.EmitLoadParam(0)
	c.EmitLoadParam(1)
	c.Emit(vm.OpAdd)
	c.Emit(vm.OpReturn)
	return vm.NewFunction("add", c, ns)
}

// buildCaller defines outer(x) = add(x, delta) in ns, reading both "add"
// and the literal global "delta".
func buildCaller(ns *vm.Namespace) *vm.Function {
	c := vm.NewChunk("x")
	c.EmitLoadGlobal("add")
	c.EmitLoadParam(0)
	c.EmitLoadGlobal("delta")
	c.EmitCall(2)
	c.Emit(vm.OpReturn)
	return vm.NewFunction("outer", c, ns)
}

func roundTrip(t *testing.T, fn *vm.Function) (*vm.Function, *vm.Namespace) {
	t.Helper()
	blob, err := Serialize(fn)
	if err != nil {
		t.Fatalf("Serialize error: %v", err)
	}
	ns := vm.NewNamespace("rebuilt")
	out, err := Deserialize(blob, ns)
	if err != nil {
		t.Fatalf("Deserialize error: %v", err)
	}
	return out, ns
}

func TestRoundTripSimple(t *testing.T) {
	ns := vm.NewNamespace("main")
	fn := buildAdd(ns)

	out, _ := roundTrip(t, fn)
	got, err := vm.New().Call(out, []vm.Value{int64(2), int64(3)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != int64(5) {
		t.Errorf("add(2, 3) = %v, want 5", got)
	}
}

func TestRoundTripFunctionDependency(t *testing.T) {
	ns := vm.NewNamespace("main")
	buildAdd(ns)
	ns.Set("delta", int64(10))
	outer := buildCaller(ns)

	out, rebuilt := roundTrip(t, outer)
	got, err := vm.New().Call(out, []vm.Value{int64(5)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != int64(15) {
		t.Errorf("outer(5) = %v, want 15", got)
	}

	// The literal global travels with the blob and lands in the shared
	// namespace.
	if v, ok := rebuilt.Get("delta"); !ok || v != int64(10) {
		t.Errorf("delta = %v, %v; want 10, true", v, ok)
	}
}

func TestRoundTripMutualRecursion(t *testing.T) {
	ns := vm.NewNamespace("main")

	build := func(name, other string, zero bool) *vm.Function {
		c := vm.NewChunk("n")
		c.EmitLoadParam(0)
		c.EmitConst(int64(0))
		c.Emit(vm.OpEq)
		jmp := c.EmitJump(vm.OpJumpFalse)
		if zero {
			c.Emit(vm.OpTrue)
		} else {
			c.Emit(vm.OpFalse)
		}
		c.Emit(vm.OpReturn)
		c.PatchJump(jmp)
		c.EmitLoadGlobal(other)
		c.EmitLoadParam(0)
		c.EmitConst(int64(1))
		c.Emit(vm.OpSub)
		c.EmitCall(1)
		c.Emit(vm.OpReturn)
		return vm.NewFunction(name, c, ns)
	}
	isEven := build("isEven", "isOdd", true)
	build("isOdd", "isEven", false)

	out, _ := roundTrip(t, isEven)
	got, err := vm.New().Call(out, []vm.Value{int64(9)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != false {
		t.Errorf("isEven(9) = %v, want false", got)
	}
}

func TestAliasedFunctionSharesNode(t *testing.T) {
	ns := vm.NewNamespace("main")
	add := buildAdd(ns)
	ns.Set("plus", add) // second name for the same function

	// both(a, b) = add(a, b) + plus(a, b)
	c := vm.NewChunk("a", "b")
	c.EmitLoadGlobal("add")
	c.EmitLoadParam(0)
	c.EmitLoadParam(1)
	c.EmitCall(2)
	c.EmitLoadGlobal("plus")
	c.EmitLoadParam(0)
	c.EmitLoadParam(1)
	c.EmitCall(2)
	c.Emit(vm.OpAdd)
	c.Emit(vm.OpReturn)
	both := vm.NewFunction("both", c, ns)

	nodes, err := BuildGraph(both)
	if err != nil {
		t.Fatalf("BuildGraph error: %v", err)
	}

	var full, aliases int
	for _, n := range nodes {
		if n.Kind != KindFunction {
			continue
		}
		if n.Func.Ref != "" {
			aliases++
			if n.Func.Chunk != nil {
				t.Errorf("alias node %q carries a code chunk", n.Name)
			}
		} else {
			full++
		}
	}
	// both + add, with plus as an alias of add.
	if full != 2 || aliases != 1 {
		t.Fatalf("graph has %d full and %d alias function nodes, want 2 and 1", full, aliases)
	}

	out, rebuilt := roundTrip(t, both)
	got, err := vm.New().Call(out, []vm.Value{int64(1), int64(2)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != int64(6) {
		t.Errorf("both(1, 2) = %v, want 6", got)
	}

	a, _ := rebuilt.Get("add")
	p, _ := rebuilt.Get("plus")
	if a != p {
		t.Error("add and plus rebuilt as distinct functions")
	}
}

func TestModuleDependency(t *testing.T) {
	mod := vm.NewModule("mathx")
	mod.NS.Set("twice", vm.NativeFunc{Name: "twice", Fn: func(args []vm.Value) (vm.Value, error) {
		return args[0].(int64) * 2, nil
	}})

	ns := vm.NewNamespace("main")
	ns.Set("mathx", mod)

	// f(x) = mathx.twice(x)
	c := vm.NewChunk("x")
	c.EmitLoadGlobal("mathx")
	c.EmitGetAttr("twice")
	c.EmitLoadParam(0)
	c.EmitCall(1)
	c.Emit(vm.OpReturn)
	fn := vm.NewFunction("f", c, ns)

	blob, err := Serialize(fn)
	if err != nil {
		t.Fatalf("Serialize error: %v", err)
	}
	nodes, err := BuildGraph(fn)
	if err != nil {
		t.Fatalf("BuildGraph error: %v", err)
	}
	foundModule := false
	for _, n := range nodes {
		if n.Kind == KindModule && n.Module == "mathx" {
			foundModule = true
		}
	}
	if !foundModule {
		t.Fatal("module dependency did not produce a module node")
	}

	rebuilt := vm.NewNamespace("rebuilt")
	out, err := Deserialize(blob, rebuilt)
	if err != nil {
		t.Fatalf("Deserialize error: %v", err)
	}
	got, err := vm.New().Call(out, []vm.Value{int64(21)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != int64(42) {
		t.Errorf("f(21) = %v, want 42", got)
	}
}

func TestClassDependency(t *testing.T) {
	ns := vm.NewNamespace("main")

	base := vm.NewClass("Base", "main")
	base.SetMember("tag", "base")
	counter := vm.NewClass("Counter", "main", base)

	init := vm.NewChunk("self", "start")
	init.EmitLoadParam(0)
	init.EmitLoadParam(1)
	init.EmitU16(vm.OpSetAttr, init.AddConst("n"))
	init.Emit(vm.OpReturnNil)
	counter.SetMember("init", &vm.Function{Name: "init", Module: "main", Chunk: init, NS: ns})

	bump := vm.NewChunk("self")
	bump.EmitLoadParam(0)
	bump.EmitU16(vm.OpGetAttr, bump.AddConst("n"))
	bump.EmitConst(int64(1))
	bump.Emit(vm.OpAdd)
	bump.Emit(vm.OpReturn)
	counter.SetMember("bump", &vm.Function{Name: "bump", Module: "main", Chunk: bump, NS: ns})

	ns.Set("Counter", counter)

	// f(x) = Counter(x).bump()
	c := vm.NewChunk("x")
	c.EmitLoadGlobal("Counter")
	c.EmitLoadParam(0)
	c.EmitCall(1)
	c.EmitGetAttr("bump")
	c.EmitCall(0)
	c.Emit(vm.OpReturn)
	fn := vm.NewFunction("f", c, ns)

	nodes, err := BuildGraph(fn)
	if err != nil {
		t.Fatalf("BuildGraph error: %v", err)
	}
	// The base class node must precede the derived one.
	baseAt, counterAt := -1, -1
	for i, n := range nodes {
		if n.Kind == KindClass {
			switch n.Name {
			case "Base":
				baseAt = i
			case "Counter":
				counterAt = i
			}
		}
	}
	if baseAt == -1 || counterAt == -1 || baseAt > counterAt {
		t.Fatalf("class node order: Base at %d, Counter at %d", baseAt, counterAt)
	}

	out, rebuilt := roundTrip(t, fn)
	got, err := vm.New().Call(out, []vm.Value{int64(41)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != int64(42) {
		t.Errorf("f(41) = %v, want 42", got)
	}

	// Inherited members survive the rebuild.
	v, ok := rebuilt.Get("Counter")
	if !ok {
		t.Fatal("Counter not bound after rebuild")
	}
	if tag, ok := v.(*vm.Class).Lookup("tag"); !ok || tag != "base" {
		t.Errorf("Counter.Lookup(tag) = %v, %v; want base, true", tag, ok)
	}
}

func TestForeignClassRejected(t *testing.T) {
	ns := vm.NewNamespace("main")
	ns.Set("Alien", vm.NewClass("Alien", "elsewhere"))

	c := vm.NewChunk()
	c.EmitLoadGlobal("Alien")
	c.EmitCall(0)
	c.Emit(vm.OpReturn)
	fn := vm.NewFunction("f", c, ns)

	_, err := Serialize(fn)
	var dep *UnsupportedDependencyError
	if !errors.As(err, &dep) {
		t.Fatalf("Serialize error = %v, want UnsupportedDependencyError", err)
	}
	if dep.Name != "Alien" {
		t.Errorf("dep.Name = %q, want Alien", dep.Name)
	}
}

func TestUnserializableGlobalRejected(t *testing.T) {
	ns := vm.NewNamespace("main")
	ns.Set("handle", vm.NativeFunc{Name: "handle"})

	c := vm.NewChunk()
	c.EmitLoadGlobal("handle")
	c.Emit(vm.OpReturn)
	fn := vm.NewFunction("f", c, ns)

	_, err := Serialize(fn)
	var dep *UnsupportedDependencyError
	if !errors.As(err, &dep) {
		t.Fatalf("Serialize error = %v, want UnsupportedDependencyError", err)
	}
}

func TestUnboundGlobalAssumedBuiltin(t *testing.T) {
	ns := vm.NewNamespace("main")

	// f(x) = len(x); len is not bound, so it must not travel.
	c := vm.NewChunk("x")
	c.EmitLoadGlobal("len")
	c.EmitLoadParam(0)
	c.EmitCall(1)
	c.Emit(vm.OpReturn)
	fn := vm.NewFunction("f", c, ns)

	nodes, err := BuildGraph(fn)
	if err != nil {
		t.Fatalf("BuildGraph error: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("graph has %d nodes, want 1", len(nodes))
	}
	if len(nodes[0].Func.Globals) != 0 {
		t.Errorf("builtin read produced globals %v", nodes[0].Func.Globals)
	}

	out, _ := roundTrip(t, fn)
	got, err := vm.New().Call(out, []vm.Value{vm.List{int64(1), int64(2)}})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != int64(2) {
		t.Errorf("f([1 2]) = %v, want 2", got)
	}
}

func TestCapturedValues(t *testing.T) {
	ns := vm.NewNamespace("main")

	c := vm.NewChunk("x")
	c.CaptureNames = []string{"offset"}
	c.EmitLoadParam(0)
	c.EmitU8(vm.OpLoadCapture, 0)
	c.Emit(vm.OpAdd)
	c.Emit(vm.OpReturn)
	fn := vm.NewFunction("shift", c, ns)
	fn.Captured = []vm.Value{int64(100)}

	out, _ := roundTrip(t, fn)
	got, err := vm.New().Call(out, []vm.Value{int64(1)})
	if err != nil {
		t.Fatalf("Call error: %v", err)
	}
	if got != int64(101) {
		t.Errorf("shift(1) = %v, want 101", got)
	}
}

func TestDeserializeBadBlob(t *testing.T) {
	ns := vm.NewNamespace("rebuilt")

	var rec *ReconstructionError
	if _, err := Deserialize([]byte("not a blob"), ns); !errors.As(err, &rec) {
		t.Errorf("garbage blob error = %v, want ReconstructionError", err)
	}
	if _, err := Deserialize(nil, ns); !errors.As(err, &rec) {
		t.Errorf("empty blob error = %v, want ReconstructionError", err)
	}
}

func TestSerializeSelfReferentialGlobal(t *testing.T) {
	ns := vm.NewNamespace("main")
	l := make(vm.List, 1)
	l[0] = l
	ns.Set("loop", l)

	c := vm.NewChunk()
	c.EmitLoadGlobal("loop")
	c.Emit(vm.OpReturn)
	fn := vm.NewFunction("f", c, ns)

	// Must fail cleanly, not hang.
	if _, err := Serialize(fn); err == nil {
		t.Error("self-referential global serialized")
	}
}
