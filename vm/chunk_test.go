package vm

import (
	"testing"
)

func TestNewChunk(t *testing.T) {
	c := NewChunk("a", "b")

	if c.Version != ChunkVersion {
		t.Errorf("Version = %d, want %d", c.Version, ChunkVersion)
	}
	if len(c.Params) != 2 {
		t.Errorf("Params = %v, want [a b]", c.Params)
	}
	if c.Code == nil {
		t.Error("Code is nil")
	}
}

func TestChunkAddConst(t *testing.T) {
	c := NewChunk()

	idx0 := c.AddConst("hello")
	if idx0 != 0 {
		t.Errorf("first constant index = %d, want 0", idx0)
	}

	idx1 := c.AddConst("world")
	if idx1 != 1 {
		t.Errorf("second constant index = %d, want 1", idx1)
	}

	// Duplicate should pool to the existing index.
	idx2 := c.AddConst("hello")
	if idx2 != 0 {
		t.Errorf("duplicate constant index = %d, want 0", idx2)
	}

	// Same-looking values of different kinds stay distinct.
	idx3 := c.AddConst(int64(1))
	idx4 := c.AddConst(float64(1))
	if idx3 == idx4 {
		t.Error("int and float constants pooled together")
	}

	if c.Const(0) != "hello" {
		t.Errorf("Const(0) = %v, want hello", c.Const(0))
	}
}

func TestChunkEmit(t *testing.T) {
	c := NewChunk()

	off0 := c.Emit(OpNop)
	if off0 != 0 {
		t.Errorf("first emit offset = %d, want 0", off0)
	}

	off1 := c.EmitConst(int64(42))
	if off1 != 1 {
		t.Errorf("second emit offset = %d, want 1", off1)
	}

	c.Emit(OpReturn)

	if Opcode(c.Code[0]) != OpNop {
		t.Errorf("Code[0] = 0x%02X, want OpNop", c.Code[0])
	}
	if Opcode(c.Code[1]) != OpConst {
		t.Errorf("Code[1] = 0x%02X, want OpConst", c.Code[1])
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestChunkJumpPatch(t *testing.T) {
	c := NewChunk()

	c.Emit(OpTrue)
	jmp := c.EmitJump(OpJumpFalse)
	c.EmitConst(int64(1))
	c.Emit(OpReturn)
	c.PatchJump(jmp)
	c.EmitConst(int64(2))
	c.Emit(OpReturn)

	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	// EmitJump returns the placeholder offset; the delta is relative to
	// the byte after it. The patched jump must land just past the true
	// branch.
	delta := int(readI16(c.Code, jmp))
	target := jmp + 2 + delta
	if Opcode(c.Code[target]) != OpConst {
		t.Errorf("jump target opcode = %s, want OpConst", Opcode(c.Code[target]))
	}
}

func TestChunkValidateTruncated(t *testing.T) {
	c := NewChunk()
	c.EmitConst("x")
	c.Code = c.Code[:len(c.Code)-1]

	if err := c.Validate(); err == nil {
		t.Error("Validate() accepted a truncated operand")
	}
}

func TestChunkValidateUnknownOpcode(t *testing.T) {
	c := NewChunk()
	c.Code = append(c.Code, 0xEE)

	if err := c.Validate(); err == nil {
		t.Error("Validate() accepted an unknown opcode")
	}
}

func TestConstName(t *testing.T) {
	c := NewChunk()
	idx := c.AddConst("foo")
	numIdx := c.AddConst(int64(3))

	name, err := c.ConstName(idx)
	if err != nil {
		t.Fatalf("ConstName(%d) error: %v", idx, err)
	}
	if name != "foo" {
		t.Errorf("ConstName = %q, want foo", name)
	}

	if _, err := c.ConstName(numIdx); err == nil {
		t.Error("ConstName accepted a non-string constant")
	}
}

func TestOpcodeMetadata(t *testing.T) {
	if OpConst.OperandLen() != 2 {
		t.Errorf("OpConst.OperandLen() = %d, want 2", OpConst.OperandLen())
	}
	if OpCall.OperandLen() != 1 {
		t.Errorf("OpCall.OperandLen() = %d, want 1", OpCall.OperandLen())
	}
	if !OpJumpFalse.IsJump() {
		t.Error("OpJumpFalse.IsJump() = false")
	}
	if !OpReturn.IsReturn() {
		t.Error("OpReturn.IsReturn() = false")
	}
	if Known(Opcode(0xEE)) {
		t.Error("Known(0xEE) = true")
	}
	if OpAdd.String() != "ADD" {
		t.Errorf("OpAdd.String() = %q, want ADD", OpAdd.String())
	}
}
