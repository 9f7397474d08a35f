package vm

import (
	"errors"
	"fmt"
	"math/big"
)

// ErrStackOverflow is returned when call nesting exceeds the VM's depth
// limit, typically runaway recursion.
var ErrStackOverflow = errors.New("vm: call depth limit exceeded")

// DefaultMaxDepth bounds call nesting.
const DefaultMaxDepth = 512

// VM executes chunks. A VM is single-threaded; use one VM per goroutine.
type VM struct {
	// MaxDepth bounds call nesting; zero means DefaultMaxDepth.
	MaxDepth int

	depth int
}

// New creates a VM.
func New() *VM {
	return &VM{}
}

// frame is the execution state of one function activation.
type frame struct {
	fn     *Function
	stack  []Value
	sp     int
	ip     int
	locals []Value
	params []Value
}

func (f *frame) push(v Value) {
	if f.sp == len(f.stack) {
		f.stack = append(f.stack, v)
		f.sp++
		return
	}
	f.stack[f.sp] = v
	f.sp++
}

func (f *frame) pop() Value {
	f.sp--
	return f.stack[f.sp]
}

// Call invokes any callable value: function, builtin, bound method or
// class (construction).
func (vm *VM) Call(callee Value, args []Value) (Value, error) {
	maxDepth := vm.MaxDepth
	if maxDepth == 0 {
		maxDepth = DefaultMaxDepth
	}
	if vm.depth >= maxDepth {
		return nil, ErrStackOverflow
	}
	vm.depth++
	defer func() { vm.depth-- }()

	switch c := callee.(type) {
	case *Function:
		return vm.callFunction(c, args)
	case NativeFunc:
		return c.Fn(args)
	case *BoundMethod:
		return vm.Call(c.Fn, append([]Value{c.Recv}, args...))
	case *Class:
		return vm.construct(c, args)
	default:
		return nil, fmt.Errorf("vm: %s is not callable", TypeName(callee))
	}
}

// construct builds an instance of class and runs its init member, if any,
// with the instance as the first argument.
func (vm *VM) construct(class *Class, args []Value) (Value, error) {
	obj := NewObject(class)
	if init, ok := class.Lookup("init"); ok {
		initFn, isFn := init.(*Function)
		if !isFn {
			return nil, fmt.Errorf("vm: init member of class %s is %s, not a function", class.Name, TypeName(init))
		}
		if _, err := vm.Call(initFn, append([]Value{obj}, args...)); err != nil {
			return nil, err
		}
	} else if len(args) > 0 {
		return nil, fmt.Errorf("vm: class %s takes no constructor arguments", class.Name)
	}
	return obj, nil
}

// callFunction binds arguments to parameters (filling trailing defaults)
// and runs the chunk.
func (vm *VM) callFunction(fn *Function, args []Value) (Value, error) {
	chunk := fn.Chunk
	nparams := len(chunk.Params)
	if len(args) > nparams {
		return nil, fmt.Errorf("vm: %s takes %d arguments, got %d", fn.Name, nparams, len(args))
	}
	params := make([]Value, nparams)
	copy(params, args)
	firstDefault := nparams - len(chunk.Defaults)
	for i := len(args); i < nparams; i++ {
		if i < firstDefault {
			return nil, fmt.Errorf("vm: %s missing argument %q", fn.Name, chunk.Params[i])
		}
		params[i] = chunk.Defaults[i-firstDefault]
	}

	f := &frame{
		fn:     fn,
		stack:  make([]Value, 0, 16),
		locals: make([]Value, chunk.NumLocals),
		params: params,
	}
	v, err := vm.run(f)
	if err != nil {
		return nil, fmt.Errorf("vm: in %s at offset %d: %w", fn.Name, f.ip, err)
	}
	return v, nil
}

// run is the main execution loop.
func (vm *VM) run(f *frame) (Value, error) {
	chunk := f.fn.Chunk
	code := chunk.Code

	for f.ip < len(code) {
		op := Opcode(code[f.ip])
		f.ip++

		switch op {
		// ============ Stack Operations ============
		case OpNop:

		case OpPop:
			f.pop()

		case OpDup:
			v := f.stack[f.sp-1]
			f.push(v)

		case OpSwap:
			f.stack[f.sp-1], f.stack[f.sp-2] = f.stack[f.sp-2], f.stack[f.sp-1]

		// ============ Constants ============
		case OpConst:
			idx := readU16(code, f.ip)
			f.ip += 2
			if int(idx) >= len(chunk.Consts) {
				return nil, fmt.Errorf("constant index %d out of range", idx)
			}
			f.push(chunk.Consts[idx])

		case OpNil:
			f.push(nil)

		case OpTrue:
			f.push(true)

		case OpFalse:
			f.push(false)

		// ============ Locals and Parameters ============
		case OpLoadLocal:
			slot := code[f.ip]
			f.ip++
			f.push(f.locals[slot])

		case OpStoreLocal:
			slot := code[f.ip]
			f.ip++
			f.locals[slot] = f.pop()

		case OpLoadParam:
			idx := code[f.ip]
			f.ip++
			if int(idx) >= len(f.params) {
				return nil, fmt.Errorf("parameter index %d out of range", idx)
			}
			f.push(f.params[idx])

		// ============ Captures ============
		case OpLoadCapture:
			idx := code[f.ip]
			f.ip++
			if int(idx) >= len(f.fn.Captured) {
				return nil, fmt.Errorf("capture index %d out of range", idx)
			}
			f.push(f.fn.Captured[idx])

		// ============ Globals ============
		case OpLoadGlobal:
			idx := readU16(code, f.ip)
			f.ip += 2
			name, err := chunk.ConstName(idx)
			if err != nil {
				return nil, err
			}
			// Late binding: resolve against the function's namespace
			// now, not when the function was constructed.
			v, ok := f.fn.NS.Get(name)
			if !ok {
				v, ok = Builtin(name)
			}
			if !ok {
				return nil, fmt.Errorf("undefined global %q", name)
			}
			f.push(v)

		case OpStoreGlobal:
			idx := readU16(code, f.ip)
			f.ip += 2
			name, err := chunk.ConstName(idx)
			if err != nil {
				return nil, err
			}
			f.fn.NS.Set(name, f.pop())

		// ============ Attributes ============
		case OpGetAttr:
			idx := readU16(code, f.ip)
			f.ip += 2
			name, err := chunk.ConstName(idx)
			if err != nil {
				return nil, err
			}
			target := f.pop()
			v, err := getAttr(target, name)
			if err != nil {
				return nil, err
			}
			f.push(v)

		case OpSetAttr:
			idx := readU16(code, f.ip)
			f.ip += 2
			name, err := chunk.ConstName(idx)
			if err != nil {
				return nil, err
			}
			value := f.pop()
			target := f.pop()
			obj, ok := target.(*Object)
			if !ok {
				return nil, fmt.Errorf("cannot set attribute %q on %s", name, TypeName(target))
			}
			obj.Set(name, value)

		// ============ Arithmetic ============
		case OpAdd:
			b := f.pop()
			a := f.pop()
			v, err := add(a, b)
			if err != nil {
				return nil, err
			}
			f.push(v)

		case OpSub, OpMul, OpDiv, OpMod:
			b := f.pop()
			a := f.pop()
			v, err := arith(op, a, b)
			if err != nil {
				return nil, err
			}
			f.push(v)

		case OpNeg:
			v, err := neg(f.pop())
			if err != nil {
				return nil, err
			}
			f.push(v)

		// ============ Comparison ============
		case OpEq:
			b := f.pop()
			a := f.pop()
			f.push(Equal(a, b))

		case OpNe:
			b := f.pop()
			a := f.pop()
			f.push(!Equal(a, b))

		case OpLt, OpLe, OpGt, OpGe:
			b := f.pop()
			a := f.pop()
			v, err := compare(op, a, b)
			if err != nil {
				return nil, err
			}
			f.push(v)

		// ============ Logical ============
		case OpNot:
			f.push(!Truthy(f.pop()))

		case OpAnd:
			b := f.pop()
			a := f.pop()
			f.push(Truthy(a) && Truthy(b))

		case OpOr:
			b := f.pop()
			a := f.pop()
			f.push(Truthy(a) || Truthy(b))

		// ============ Containers ============
		case OpMakeList, OpMakeTuple:
			n := int(code[f.ip])
			f.ip++
			items := make([]Value, n)
			for i := n - 1; i >= 0; i-- {
				items[i] = f.pop()
			}
			if op == OpMakeList {
				f.push(List(items))
			} else {
				f.push(Tuple(items))
			}

		case OpMakeDict:
			n := int(code[f.ip])
			f.ip++
			d := NewDict()
			pairs := make([]Value, 2*n)
			for i := 2*n - 1; i >= 0; i-- {
				pairs[i] = f.pop()
			}
			for i := 0; i < 2*n; i += 2 {
				d.Set(pairs[i], pairs[i+1])
			}
			f.push(d)

		case OpIndex:
			idx := f.pop()
			target := f.pop()
			v, err := index(target, idx)
			if err != nil {
				return nil, err
			}
			f.push(v)

		case OpSetIndex:
			value := f.pop()
			idx := f.pop()
			target := f.pop()
			if err := setIndex(target, idx, value); err != nil {
				return nil, err
			}

		case OpLen:
			v, err := length(f.pop())
			if err != nil {
				return nil, err
			}
			f.push(v)

		// ============ Control Flow ============
		case OpJump:
			delta := readI16(code, f.ip)
			f.ip += 2 + int(delta)

		case OpJumpTrue:
			delta := readI16(code, f.ip)
			f.ip += 2
			if Truthy(f.pop()) {
				f.ip += int(delta)
			}

		case OpJumpFalse:
			delta := readI16(code, f.ip)
			f.ip += 2
			if !Truthy(f.pop()) {
				f.ip += int(delta)
			}

		// ============ Calls ============
		case OpCall:
			argc := int(code[f.ip])
			f.ip++
			args := make([]Value, argc)
			for i := argc - 1; i >= 0; i-- {
				args[i] = f.pop()
			}
			callee := f.pop()
			v, err := vm.Call(callee, args)
			if err != nil {
				return nil, err
			}
			f.push(v)

		// ============ Return ============
		case OpReturn:
			return f.pop(), nil

		case OpReturnNil:
			return nil, nil

		default:
			return nil, fmt.Errorf("unknown opcode 0x%02X", byte(op))
		}
	}

	// Falling off the end of the code section returns nil.
	return nil, nil
}

func getAttr(target Value, name string) (Value, error) {
	switch t := target.(type) {
	case *Module:
		v, ok := t.Attr(name)
		if !ok {
			return nil, fmt.Errorf("module %s has no attribute %q", t.Name, name)
		}
		return v, nil
	case *Object:
		v, ok := t.Get(name)
		if !ok {
			return nil, fmt.Errorf("%s instance has no attribute %q", t.Class.Name, name)
		}
		return v, nil
	case *Class:
		v, ok := t.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("class %s has no member %q", t.Name, name)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%s has no attributes", TypeName(target))
	}
}

func index(target, idx Value) (Value, error) {
	switch t := target.(type) {
	case List:
		return indexSlice(t, idx)
	case Tuple:
		return indexSlice(t, idx)
	case *Dict:
		v, ok := t.Get(idx)
		if !ok {
			return nil, fmt.Errorf("dict has no key %s", Format(idx))
		}
		return v, nil
	case string:
		i, ok := idx.(int64)
		if !ok || i < 0 || int(i) >= len(t) {
			return nil, fmt.Errorf("string index %s out of range", Format(idx))
		}
		return string(t[i]), nil
	case []byte:
		i, ok := idx.(int64)
		if !ok || i < 0 || int(i) >= len(t) {
			return nil, fmt.Errorf("bytes index %s out of range", Format(idx))
		}
		return int64(t[i]), nil
	default:
		return nil, fmt.Errorf("%s is not indexable", TypeName(target))
	}
}

func indexSlice(s []Value, idx Value) (Value, error) {
	i, ok := idx.(int64)
	if !ok {
		return nil, fmt.Errorf("sequence index must be int, got %s", TypeName(idx))
	}
	if i < 0 || int(i) >= len(s) {
		return nil, fmt.Errorf("sequence index %d out of range (len %d)", i, len(s))
	}
	return s[i], nil
}

func setIndex(target, idx, value Value) error {
	switch t := target.(type) {
	case List:
		i, ok := idx.(int64)
		if !ok {
			return fmt.Errorf("list index must be int, got %s", TypeName(idx))
		}
		if i < 0 || int(i) >= len(t) {
			return fmt.Errorf("list index %d out of range (len %d)", i, len(t))
		}
		t[i] = value
		return nil
	case *Dict:
		t.Set(idx, value)
		return nil
	default:
		return fmt.Errorf("%s does not support item assignment", TypeName(target))
	}
}

func length(v Value) (Value, error) {
	switch x := v.(type) {
	case string:
		return int64(len(x)), nil
	case []byte:
		return int64(len(x)), nil
	case List:
		return int64(len(x)), nil
	case Tuple:
		return int64(len(x)), nil
	case *Dict:
		return int64(x.Len()), nil
	default:
		return nil, fmt.Errorf("%s has no length", TypeName(v))
	}
}

// add handles OpAdd: numbers, string concatenation, list/tuple concatenation.
func add(a, b Value) (Value, error) {
	if s1, ok := a.(string); ok {
		if s2, ok := b.(string); ok {
			return s1 + s2, nil
		}
	}
	if l1, ok := a.(List); ok {
		if l2, ok := b.(List); ok {
			out := make(List, 0, len(l1)+len(l2))
			out = append(out, l1...)
			return append(out, l2...), nil
		}
	}
	if t1, ok := a.(Tuple); ok {
		if t2, ok := b.(Tuple); ok {
			out := make(Tuple, 0, len(t1)+len(t2))
			out = append(out, t1...)
			return append(out, t2...), nil
		}
	}
	return arith(OpAdd, a, b)
}

// arith handles numeric binary operations with int64/float64/big.Int/complex
// promotion.
func arith(op Opcode, a, b Value) (Value, error) {
	if ca, ok := a.(complex128); ok {
		cb, ok := b.(complex128)
		if !ok {
			return nil, typeErr(op, a, b)
		}
		switch op {
		case OpAdd:
			return ca + cb, nil
		case OpSub:
			return ca - cb, nil
		case OpMul:
			return ca * cb, nil
		case OpDiv:
			if cb == 0 {
				return nil, errors.New("complex division by zero")
			}
			return ca / cb, nil
		}
		return nil, typeErr(op, a, b)
	}

	if ba, isBigA := a.(*big.Int); isBigA || isBig(b) {
		if !isBigA {
			ba = promoteBig(a)
		}
		bb := promoteBig(b)
		if ba == nil || bb == nil {
			return nil, typeErr(op, a, b)
		}
		out := new(big.Int)
		switch op {
		case OpAdd:
			return out.Add(ba, bb), nil
		case OpSub:
			return out.Sub(ba, bb), nil
		case OpMul:
			return out.Mul(ba, bb), nil
		case OpDiv:
			if bb.Sign() == 0 {
				return nil, errors.New("integer division by zero")
			}
			return out.Quo(ba, bb), nil
		case OpMod:
			if bb.Sign() == 0 {
				return nil, errors.New("integer modulo by zero")
			}
			return out.Rem(ba, bb), nil
		}
		return nil, typeErr(op, a, b)
	}

	ia, aInt := a.(int64)
	ib, bInt := b.(int64)
	if aInt && bInt {
		switch op {
		case OpAdd:
			return ia + ib, nil
		case OpSub:
			return ia - ib, nil
		case OpMul:
			return ia * ib, nil
		case OpDiv:
			if ib == 0 {
				return nil, errors.New("integer division by zero")
			}
			return ia / ib, nil
		case OpMod:
			if ib == 0 {
				return nil, errors.New("integer modulo by zero")
			}
			return ia % ib, nil
		}
		return nil, typeErr(op, a, b)
	}

	fa, aOK := toFloat(a)
	fb, bOK := toFloat(b)
	if !aOK || !bOK {
		return nil, typeErr(op, a, b)
	}
	switch op {
	case OpAdd:
		return fa + fb, nil
	case OpSub:
		return fa - fb, nil
	case OpMul:
		return fa * fb, nil
	case OpDiv:
		if fb == 0 {
			return nil, errors.New("float division by zero")
		}
		return fa / fb, nil
	}
	return nil, typeErr(op, a, b)
}

func neg(v Value) (Value, error) {
	switch x := v.(type) {
	case int64:
		return -x, nil
	case float64:
		return -x, nil
	case *big.Int:
		return new(big.Int).Neg(x), nil
	case complex128:
		return -x, nil
	default:
		return nil, fmt.Errorf("cannot negate %s", TypeName(v))
	}
}

func compare(op Opcode, a, b Value) (Value, error) {
	if s1, ok := a.(string); ok {
		s2, ok := b.(string)
		if !ok {
			return nil, typeErr(op, a, b)
		}
		switch op {
		case OpLt:
			return s1 < s2, nil
		case OpLe:
			return s1 <= s2, nil
		case OpGt:
			return s1 > s2, nil
		case OpGe:
			return s1 >= s2, nil
		}
	}
	fa, aOK := toFloat(a)
	fb, bOK := toFloat(b)
	if !aOK || !bOK {
		return nil, typeErr(op, a, b)
	}
	switch op {
	case OpLt:
		return fa < fb, nil
	case OpLe:
		return fa <= fb, nil
	case OpGt:
		return fa > fb, nil
	case OpGe:
		return fa >= fb, nil
	}
	return nil, typeErr(op, a, b)
}

func isBig(v Value) bool {
	_, ok := v.(*big.Int)
	return ok
}

func promoteBig(v Value) *big.Int {
	switch x := v.(type) {
	case *big.Int:
		return x
	case int64:
		return big.NewInt(x)
	default:
		return nil
	}
}

func toFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, true
	default:
		return 0, false
	}
}

func typeErr(op Opcode, a, b Value) error {
	return fmt.Errorf("unsupported operands for %s: %s and %s", op, TypeName(a), TypeName(b))
}
