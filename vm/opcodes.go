package vm

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Pop top of stack
	OpDup  Opcode = 0x02 // Duplicate top of stack
	OpSwap Opcode = 0x03 // Swap top two stack elements

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst Opcode = 0x10 // Push constant from pool: OpConst <index:u16>
	OpNil   Opcode = 0x11 // Push nil
	OpTrue  Opcode = 0x12 // Push true
	OpFalse Opcode = 0x13 // Push false

	// ========================================================================
	// Locals and parameters (0x20-0x2F)
	// ========================================================================

	OpLoadLocal  Opcode = 0x20 // Push local variable: OpLoadLocal <slot:u8>
	OpStoreLocal Opcode = 0x21 // Pop and store to local: OpStoreLocal <slot:u8>
	OpLoadParam  Opcode = 0x22 // Push parameter: OpLoadParam <index:u8>

	// ========================================================================
	// Captured values (0x30-0x3F)
	// ========================================================================

	OpLoadCapture Opcode = 0x30 // Push captured value: OpLoadCapture <index:u8>

	// ========================================================================
	// Globals (0x40-0x4F) - name index into the constant pool
	// ========================================================================

	OpLoadGlobal  Opcode = 0x40 // Push module-global binding: OpLoadGlobal <name:u16>
	OpStoreGlobal Opcode = 0x41 // Pop and store to module-global: OpStoreGlobal <name:u16>

	// ========================================================================
	// Attributes (0x48-0x4F)
	// ========================================================================

	OpGetAttr Opcode = 0x48 // Push attribute of TOS: OpGetAttr <name:u16>
	OpSetAttr Opcode = 0x49 // Pop value, pop target, set attribute: OpSetAttr <name:u16>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd Opcode = 0x50 // Pop two, push sum (numbers, strings, lists)
	OpSub Opcode = 0x51 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x52 // Pop two, push product
	OpDiv Opcode = 0x53 // Pop two, push quotient
	OpMod Opcode = 0x54 // Pop two, push remainder
	OpNeg Opcode = 0x55 // Negate top of stack

	// ========================================================================
	// Comparison (0x60-0x67)
	// ========================================================================

	OpEq Opcode = 0x60 // Pop two, push true if equal
	OpNe Opcode = 0x61 // Pop two, push true if not equal
	OpLt Opcode = 0x62 // Pop two, push true if a < b
	OpLe Opcode = 0x63 // Pop two, push true if a <= b
	OpGt Opcode = 0x64 // Pop two, push true if a > b
	OpGe Opcode = 0x65 // Pop two, push true if a >= b

	// ========================================================================
	// Logical operations (0x68-0x6F)
	// ========================================================================

	OpNot Opcode = 0x68 // Push true if TOS is falsy
	OpAnd Opcode = 0x69 // Logical AND
	OpOr  Opcode = 0x6A // Logical OR

	// ========================================================================
	// Containers (0x70-0x7F)
	// ========================================================================

	OpMakeList  Opcode = 0x70 // Pop n values, push list: OpMakeList <n:u8>
	OpMakeTuple Opcode = 0x71 // Pop n values, push tuple: OpMakeTuple <n:u8>
	OpMakeDict  Opcode = 0x72 // Pop n key/value pairs, push dict: OpMakeDict <n:u8>
	OpIndex     Opcode = 0x73 // Pop index, pop container, push element
	OpSetIndex  Opcode = 0x74 // Pop value, index, container; store
	OpLen       Opcode = 0x75 // Pop container, push length

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump      Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpJumpTrue  Opcode = 0x81 // Jump if top is truthy: OpJumpTrue <offset:i16>
	OpJumpFalse Opcode = 0x82 // Jump if top is falsy: OpJumpFalse <offset:i16>

	// ========================================================================
	// Calls (0x90-0x9F)
	// ========================================================================

	OpCall Opcode = 0x90 // Call: stack is [callee arg0..argN-1]: OpCall <argc:u8>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn    Opcode = 0xF0 // Return top of stack
	OpReturnNil Opcode = 0xF1 // Return nil
)

// OpcodeInfo provides metadata about each opcode for the disassembler, the
// dependency walker, and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpSwap: {"SWAP", 2, 2, 0},

	// Constants
	OpConst: {"CONST", 0, 1, 2},
	OpNil:   {"NIL", 0, 1, 0},
	OpTrue:  {"TRUE", 0, 1, 0},
	OpFalse: {"FALSE", 0, 1, 0},

	// Locals and parameters
	OpLoadLocal:  {"LOAD_LOCAL", 0, 1, 1},
	OpStoreLocal: {"STORE_LOCAL", 1, 0, 1},
	OpLoadParam:  {"LOAD_PARAM", 0, 1, 1},

	// Captures
	OpLoadCapture: {"LOAD_CAPTURE", 0, 1, 1},

	// Globals
	OpLoadGlobal:  {"LOAD_GLOBAL", 0, 1, 2},
	OpStoreGlobal: {"STORE_GLOBAL", 1, 0, 2},

	// Attributes
	OpGetAttr: {"GET_ATTR", 1, 1, 2},
	OpSetAttr: {"SET_ATTR", 2, 0, 2},

	// Arithmetic
	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},
	OpMod: {"MOD", 2, 1, 0},
	OpNeg: {"NEG", 1, 1, 0},

	// Comparison
	OpEq: {"EQ", 2, 1, 0},
	OpNe: {"NE", 2, 1, 0},
	OpLt: {"LT", 2, 1, 0},
	OpLe: {"LE", 2, 1, 0},
	OpGt: {"GT", 2, 1, 0},
	OpGe: {"GE", 2, 1, 0},

	// Logical
	OpNot: {"NOT", 1, 1, 0},
	OpAnd: {"AND", 2, 1, 0},
	OpOr:  {"OR", 2, 1, 0},

	// Containers
	OpMakeList:  {"MAKE_LIST", -1, 1, 1},
	OpMakeTuple: {"MAKE_TUPLE", -1, 1, 1},
	OpMakeDict:  {"MAKE_DICT", -1, 1, 1},
	OpIndex:     {"INDEX", 2, 1, 0},
	OpSetIndex:  {"SET_INDEX", 3, 0, 0},
	OpLen:       {"LEN", 1, 1, 0},

	// Control flow
	OpJump:      {"JUMP", 0, 0, 2},
	OpJumpTrue:  {"JUMP_TRUE", 1, 0, 2},
	OpJumpFalse: {"JUMP_FALSE", 1, 0, 2},

	// Calls
	OpCall: {"CALL", -1, 1, 1}, // Pops callee + argc args

	// Return
	OpReturn:    {"RETURN", 1, 0, 0},
	OpReturnNil: {"RETURN_NIL", 0, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// Known reports whether op is a defined opcode.
func Known(op Opcode) bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpJumpFalse
}

// IsReturn returns true if this opcode terminates execution.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnNil
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
