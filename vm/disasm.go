package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable bytecode listing with a name header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Atelier Bytecode v%d\n", c.Version))

	// Parameters
	if len(c.Params) > 0 {
		sb.WriteString(fmt.Sprintf("; Parameters (%d): %s\n", len(c.Params), strings.Join(c.Params, ", ")))
	}
	if len(c.Defaults) > 0 {
		sb.WriteString(fmt.Sprintf("; Defaults: %s\n", formatSlice(c.Defaults)))
	}
	if c.NumLocals > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", c.NumLocals))
	}
	if len(c.CaptureNames) > 0 {
		sb.WriteString(fmt.Sprintf("; Captures: %s\n", strings.Join(c.CaptureNames, ", ")))
	}

	// Constants
	if len(c.Consts) > 0 {
		sb.WriteString("; Constants:\n")
		for i, v := range c.Consts {
			display := Format(v)
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, display))
		}
	}

	// Code section
	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)
		sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		offset += instrLen
	}

	return sb.String()
}

// disassembleInstruction formats the instruction at offset and returns the
// formatted line plus the instruction length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)

	if !Known(op) {
		return info.Name, 1
	}

	switch info.OperandLen {
	case 0:
		return info.Name, 1

	case 1:
		if offset+1 >= len(c.Code) {
			return fmt.Sprintf("%s <truncated>", info.Name), 1
		}
		return fmt.Sprintf("%-14s %d", info.Name, c.Code[offset+1]), 2

	case 2:
		if offset+2 >= len(c.Code) {
			return fmt.Sprintf("%s <truncated>", info.Name), 1
		}
		operand := readU16(c.Code, offset+1)
		switch {
		case op.IsJump():
			delta := int(readI16(c.Code, offset+1))
			target := offset + 3 + delta
			return fmt.Sprintf("%-14s %+d -> %04X", info.Name, delta, target), 3
		case op == OpConst || op == OpLoadGlobal || op == OpStoreGlobal || op == OpGetAttr || op == OpSetAttr:
			annotation := "?"
			if int(operand) < len(c.Consts) {
				annotation = Format(c.Consts[operand])
			}
			return fmt.Sprintf("%-14s %d (%s)", info.Name, operand, annotation), 3
		default:
			return fmt.Sprintf("%-14s %d", info.Name, operand), 3
		}

	default:
		return info.Name, 1 + info.OperandLen
	}
}
