package vm

import "fmt"

// ChunkVersion is the current chunk format version.
// Increment when making incompatible changes to the instruction encoding.
const ChunkVersion uint16 = 1

// Chunk represents compiled code for one function. It is the unit the
// closure serializer ships between processes: instruction stream, constant
// pool, parameter layout, defaults, and capture names.
type Chunk struct {
	Version uint16

	// Code section
	Code []byte // Bytecode instructions

	// Constant pool. Holds data values only; OpLoadGlobal/OpGetAttr
	// operands index string constants naming the binding they read.
	Consts []Value

	// Parameter layout. Defaults align with the trailing parameters:
	// Defaults[i] fills Params[len(Params)-len(Defaults)+i].
	Params   []string
	Defaults []Value

	// Local variable slots needed by the function body.
	NumLocals uint8

	// Names of captured (non-global, non-local) values, indexed by
	// OpLoadCapture. The values themselves live on the Function.
	CaptureNames []string
}

// NewChunk creates a new empty chunk with the current version.
func NewChunk(params ...string) *Chunk {
	return &Chunk{
		Version: ChunkVersion,
		Code:    make([]byte, 0, 64),
		Params:  params,
	}
}

// AddConst adds a constant to the pool and returns its index.
// Equal constants are pooled.
func (c *Chunk) AddConst(v Value) uint16 {
	for i, existing := range c.Consts {
		if TypeName(existing) == TypeName(v) && Equal(existing, v) {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Consts))
	c.Consts = append(c.Consts, v)
	return idx
}

// Const returns the constant at the given index.
func (c *Chunk) Const(index uint16) Value {
	return c.Consts[index]
}

// ConstName returns the string constant at index, for opcodes whose operand
// names a binding.
func (c *Chunk) ConstName(index uint16) (string, error) {
	if int(index) >= len(c.Consts) {
		return "", fmt.Errorf("vm: constant index %d out of range (pool size %d)", index, len(c.Consts))
	}
	name, ok := c.Consts[index].(string)
	if !ok {
		return "", fmt.Errorf("vm: constant %d is %s, not a name", index, TypeName(c.Consts[index]))
	}
	return name, nil
}

// Emit appends a single-byte opcode to the code section and returns its offset.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitU8 appends an opcode with a one-byte operand.
func (c *Chunk) EmitU8(op Opcode, operand uint8) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), operand)
	return offset
}

// EmitU16 appends an opcode with a two-byte big-endian operand.
func (c *Chunk) EmitU16(op Opcode, operand uint16) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), byte(operand>>8), byte(operand))
	return offset
}

// EmitConst emits OpConst for the given value, pooling it.
func (c *Chunk) EmitConst(v Value) int {
	return c.EmitU16(OpConst, c.AddConst(v))
}

// EmitLoadGlobal emits a late-bound global read of name.
func (c *Chunk) EmitLoadGlobal(name string) int {
	return c.EmitU16(OpLoadGlobal, c.AddConst(name))
}

// EmitStoreGlobal emits a global store of name.
func (c *Chunk) EmitStoreGlobal(name string) int {
	return c.EmitU16(OpStoreGlobal, c.AddConst(name))
}

// EmitGetAttr emits an attribute read of name on TOS.
func (c *Chunk) EmitGetAttr(name string) int {
	return c.EmitU16(OpGetAttr, c.AddConst(name))
}

// EmitLoadParam emits a parameter read by index.
func (c *Chunk) EmitLoadParam(index uint8) int {
	return c.EmitU8(OpLoadParam, index)
}

// EmitCall emits a call with argc arguments. The callee must be pushed
// before the arguments.
func (c *Chunk) EmitCall(argc uint8) int {
	return c.EmitU8(OpCall, argc)
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF)
	return offset + 1
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (c *Chunk) PatchJump(placeholderOffset int) {
	// Relative to the byte after the 2-byte offset.
	jumpFrom := placeholderOffset + 2
	delta := len(c.Code) - jumpFrom

	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
}

// EmitLoop emits a backward jump to the given loop start.
func (c *Chunk) EmitLoop(loopStart int) {
	jumpFrom := len(c.Code) + 3
	delta := loopStart - jumpFrom

	c.Code = append(c.Code, byte(OpJump))
	c.Code = append(c.Code, byte(delta>>8), byte(delta))
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// Validate walks the instruction stream checking that every opcode is known
// and no instruction runs off the end of the code section.
func (c *Chunk) Validate() error {
	if c.Version > ChunkVersion {
		return fmt.Errorf("vm: chunk version %d is newer than supported version %d", c.Version, ChunkVersion)
	}
	i := 0
	for i < len(c.Code) {
		op := Opcode(c.Code[i])
		if !Known(op) {
			return fmt.Errorf("vm: unknown opcode 0x%02X at offset %d", byte(op), i)
		}
		i += op.InstructionLen()
	}
	if i != len(c.Code) {
		return fmt.Errorf("vm: truncated instruction at end of code section")
	}
	return nil
}

// readU16 decodes a big-endian u16 operand at offset.
func readU16(code []byte, offset int) uint16 {
	return uint16(code[offset])<<8 | uint16(code[offset+1])
}

// readI16 decodes a big-endian signed 16-bit operand at offset.
func readI16(code []byte, offset int) int16 {
	return int16(readU16(code, offset))
}
