package lua

import (
	"fmt"

	"github.com/pgavlin/wasm2lua/wasm/code"
)

// An UnsupportedInstructionError is returned when a function body or constant expression contains
// an instruction the generator cannot lower.
type UnsupportedInstructionError struct {
	Function uint32
	Offset   int
	Instr    code.Instruction
}

func (e *UnsupportedInstructionError) Error() string {
	return fmt.Sprintf("function %d: instruction %d: unsupported instruction %v", e.Function, e.Offset, e.Instr.OpString())
}

// A StackError is returned when the compile-time value or control stack is inconsistent with an
// instruction. It indicates a module that was not validated.
type StackError struct {
	Function uint32
	Offset   int
	Message  string
}

func (e *StackError) Error() string {
	return fmt.Sprintf("function %d: instruction %d: %s", e.Function, e.Offset, e.Message)
}
