package closure

import (
	"github.com/atelier-ml/atelier-go/vm"
)

// GlobalReads scans a chunk's instruction stream and returns the names of
// the module-global bindings it reads, deduplicated, in first-seen order.
// Only OpLoadGlobal contributes; no other opcode category is inspected.
// The order matters: closure traversal enqueues dependencies in discovery
// order so the serialized blob is reproducible.
func GlobalReads(chunk *vm.Chunk) ([]string, error) {
	if err := chunk.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string

	code := chunk.Code
	for i := 0; i < len(code); {
		op := vm.Opcode(code[i])
		if op == vm.OpLoadGlobal {
			idx := uint16(code[i+1])<<8 | uint16(code[i+2])
			name, err := chunk.ConstName(idx)
			if err != nil {
				return nil, err
			}
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
		i += op.InstructionLen()
	}

	return names, nil
}
