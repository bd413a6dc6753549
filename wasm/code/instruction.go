package code

import (
	"fmt"
	"math"
	"strings"

	"github.com/pgavlin/wasm2lua/wasm"
)

// An Instruction is a single decoded WebAssembly instruction.
//
// The meaning of Immediate depends on the opcode:
//   - block, loop, if: the block type (see BlockType)
//   - br, br_if: the relative label index
//   - br_table: the default label index; Labels holds the indexed targets
//   - call_indirect: the type index in the low 32 bits and the table index in the high 32 bits
//   - loads and stores: the memarg (offset in the low 32 bits, alignment in the high 32 bits)
//   - prefixed instructions: the sub-opcode in the low 32 bits and any table index in the high 32
//     bits
type Instruction struct {
	Opcode    byte   `json:"opcode"`
	Immediate uint64 `json:"immediate"`
	Labels    []int  `json:"labels"`
}

func (i *Instruction) Default() int {
	return int(i.Immediate)
}

func (i *Instruction) Labelidx() int {
	return int(i.Immediate)
}

func (i *Instruction) Funcidx() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) Localidx() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) Globalidx() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) Typeidx() uint32 {
	return uint32(i.Immediate)
}

// Tableidx returns the table index referenced by call_indirect and the table instructions.
func (i *Instruction) Tableidx() uint32 {
	switch i.Opcode {
	case OpTableGet, OpTableSet:
		return uint32(i.Immediate)
	default:
		return uint32(i.Immediate >> 32)
	}
}

// Subopcode returns the secondary opcode of a prefixed instruction.
func (i *Instruction) Subopcode() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) Memarg() (offset uint32, align uint32) {
	return uint32(i.Immediate), uint32(i.Immediate >> 32)
}

func (i *Instruction) Offset() uint32 {
	return uint32(i.Immediate)
}

func (i *Instruction) I32() int32 {
	return int32(i.Immediate)
}

func (i *Instruction) I64() int64 {
	return int64(i.Immediate)
}

func (i *Instruction) F32() float32 {
	return math.Float32frombits(uint32(i.Immediate))
}

func (i *Instruction) F64() float64 {
	return math.Float64frombits(uint64(i.Immediate))
}

func (i *Instruction) BlockType(scope Scope) (in, out []wasm.ValueType, ok bool) {
	switch i.Immediate & BlockTypeMask {
	case BlockTypeEmpty:
		return nil, nil, true
	case BlockTypeI32:
		return nil, []wasm.ValueType{wasm.ValueTypeI32}, true
	case BlockTypeI64:
		return nil, []wasm.ValueType{wasm.ValueTypeI64}, true
	case BlockTypeF32:
		return nil, []wasm.ValueType{wasm.ValueTypeF32}, true
	case BlockTypeF64:
		return nil, []wasm.ValueType{wasm.ValueTypeF64}, true
	case uint64(wasm.ValueTypeFuncref) | BlockTypeSpecial:
		return nil, []wasm.ValueType{wasm.ValueTypeFuncref}, true
	case uint64(wasm.ValueTypeExternref) | BlockTypeSpecial:
		return nil, []wasm.ValueType{wasm.ValueTypeExternref}, true
	default:
		sig, ok := scope.GetType(i.Typeidx())
		if !ok {
			return nil, nil, false
		}
		return sig.ParamTypes, sig.ReturnTypes, true
	}
}

// Stack returns the number of operands the instruction pops and the number of results it pushes.
// Control instructions report only their operands.
func (i *Instruction) Stack(scope Scope) (pop, push int, ok bool) {
	switch i.Opcode {
	case OpUnreachable, OpNop, OpBlock, OpLoop, OpElse, OpEnd, OpBr, OpReturn:
		return 0, 0, true

	case OpIf, OpBrIf, OpBrTable, OpDrop, OpLocalSet, OpGlobalSet:
		return 1, 0, true

	case OpI32Store, OpI64Store, OpF32Store, OpF64Store, OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32, OpTableSet:
		return 2, 0, true

	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpTableGet, OpRefIsNull:
		return 1, 1, true

	case OpLocalGet, OpGlobalGet, OpMemorySize, OpI32Const, OpI64Const, OpF32Const, OpF64Const, OpRefNull, OpRefFunc:
		return 0, 1, true

	case OpLocalTee, OpMemoryGrow, OpI32Eqz, OpI64Eqz, OpI32Clz, OpI32Ctz, OpI32Popcnt, OpI64Clz, OpI64Ctz, OpI64Popcnt,
		OpF32Abs, OpF32Neg, OpF32Ceil, OpF32Floor, OpF32Trunc, OpF32Nearest, OpF32Sqrt,
		OpF64Abs, OpF64Neg, OpF64Ceil, OpF64Floor, OpF64Trunc, OpF64Nearest, OpF64Sqrt,
		OpI32WrapI64, OpI32TruncF32S, OpI32TruncF32U, OpI32TruncF64S, OpI32TruncF64U,
		OpI64ExtendI32S, OpI64ExtendI32U, OpI64TruncF32S, OpI64TruncF32U, OpI64TruncF64S, OpI64TruncF64U,
		OpF32ConvertI32S, OpF32ConvertI32U, OpF32ConvertI64S, OpF32ConvertI64U, OpF32DemoteF64,
		OpF64ConvertI32S, OpF64ConvertI32U, OpF64ConvertI64S, OpF64ConvertI64U, OpF64PromoteF32,
		OpI32ReinterpretF32, OpI64ReinterpretF64, OpF32ReinterpretI32, OpF64ReinterpretI64,
		OpI32Extend8S, OpI32Extend16S, OpI64Extend8S, OpI64Extend16S, OpI64Extend32S:
		return 1, 1, true

	case OpI32Eq, OpI32Ne, OpI32LtS, OpI32LtU, OpI32GtS, OpI32GtU, OpI32LeS, OpI32LeU, OpI32GeS, OpI32GeU,
		OpI64Eq, OpI64Ne, OpI64LtS, OpI64LtU, OpI64GtS, OpI64GtU, OpI64LeS, OpI64LeU, OpI64GeS, OpI64GeU,
		OpF32Eq, OpF32Ne, OpF32Lt, OpF32Gt, OpF32Le, OpF32Ge, OpF64Eq, OpF64Ne, OpF64Lt, OpF64Gt, OpF64Le, OpF64Ge,
		OpI32Add, OpI32Sub, OpI32Mul, OpI32DivS, OpI32DivU, OpI32RemS, OpI32RemU, OpI32And, OpI32Or, OpI32Xor, OpI32Shl, OpI32ShrS, OpI32ShrU, OpI32Rotl, OpI32Rotr,
		OpI64Add, OpI64Sub, OpI64Mul, OpI64DivS, OpI64DivU, OpI64RemS, OpI64RemU, OpI64And, OpI64Or, OpI64Xor, OpI64Shl, OpI64ShrS, OpI64ShrU, OpI64Rotl, OpI64Rotr,
		OpF32Add, OpF32Sub, OpF32Mul, OpF32Div, OpF32Min, OpF32Max, OpF32Copysign,
		OpF64Add, OpF64Sub, OpF64Mul, OpF64Div, OpF64Min, OpF64Max, OpF64Copysign:
		return 2, 1, true

	case OpSelect, OpSelectT:
		return 3, 1, true

	case OpCall:
		sig, ok := scope.GetFunctionSignature(i.Funcidx())
		return len(sig.ParamTypes), len(sig.ReturnTypes), ok

	case OpCallIndirect:
		sig, ok := scope.GetType(i.Typeidx())
		return len(sig.ParamTypes) + 1, len(sig.ReturnTypes), ok

	case OpPrefix:
		switch i.Subopcode() {
		case OpI32TruncSatF32S, OpI32TruncSatF32U, OpI32TruncSatF64S, OpI32TruncSatF64U, OpI64TruncSatF32S, OpI64TruncSatF32U, OpI64TruncSatF64S, OpI64TruncSatF64U:
			return 1, 1, true
		case OpMemoryCopy, OpMemoryFill, OpTableFill:
			return 3, 0, true
		case OpTableGrow:
			return 2, 1, true
		case OpTableSize:
			return 0, 1, true
		}
	}

	return 0, 0, false
}

func memarg(offset, align uint32) uint64 {
	return uint64(align)<<32 | uint64(offset)
}

func (i *Instruction) blockString(op string) string {
	switch i.Immediate {
	case BlockTypeEmpty:
		return op
	case BlockTypeI32, BlockTypeI64, BlockTypeF32, BlockTypeF64:
		return fmt.Sprintf("%s (result %v)", op, wasm.ValueType(i.Immediate&0xff))
	default:
		return fmt.Sprintf("%s (type %v)", op, i.Typeidx())
	}
}

func (i *Instruction) memString(op string) string {
	var b strings.Builder
	b.WriteString(op)
	offset, align := i.Memarg()
	if offset != 0 {
		fmt.Fprintf(&b, " offset=%v", offset)
	}
	if align != 0 {
		fmt.Fprintf(&b, " align=%v", uint32(1)<<align)
	}
	return b.String()
}

func (i *Instruction) String() string {
	switch i.Opcode {
	case OpBlock, OpLoop, OpIf:
		return i.blockString(i.OpString())
	case OpBr, OpBrIf:
		return fmt.Sprintf("%s %d", i.OpString(), i.Labelidx())
	case OpBrTable:
		var b strings.Builder

		b.WriteString("br_table")
		for _, l := range i.Labels {
			fmt.Fprintf(&b, " %d", l)
		}
		fmt.Fprintf(&b, " %d", i.Default())
		return b.String()
	case OpCall:
		return fmt.Sprintf("call %d", i.Funcidx())
	case OpCallIndirect:
		if t := i.Tableidx(); t != 0 {
			return fmt.Sprintf("call_indirect %d (type %v)", t, i.Typeidx())
		}
		return fmt.Sprintf("call_indirect (type %v)", i.Typeidx())
	case OpLocalGet, OpLocalSet, OpLocalTee:
		return fmt.Sprintf("%s %v", i.OpString(), i.Localidx())
	case OpGlobalGet, OpGlobalSet:
		return fmt.Sprintf("%s %v", i.OpString(), i.Globalidx())
	case OpTableGet, OpTableSet:
		return fmt.Sprintf("%s %v", i.OpString(), i.Tableidx())
	case OpRefNull:
		return fmt.Sprintf("ref.null %v", wasm.ValueType(i.Immediate))
	case OpRefFunc:
		return fmt.Sprintf("ref.func %v", i.Funcidx())
	case OpI32Load, OpI64Load, OpF32Load, OpF64Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U, OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U, OpI32Store, OpI64Store, OpF32Store, OpF64Store, OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		return i.memString(i.OpString())
	case OpI32Const:
		return fmt.Sprintf("i32.const %d", i.I32())
	case OpI64Const:
		return fmt.Sprintf("i64.const %d", i.I64())
	case OpF32Const:
		return fmt.Sprintf("f32.const %g", i.F32())
	case OpF64Const:
		return fmt.Sprintf("f64.const %g", i.F64())
	case OpPrefix:
		switch i.Subopcode() {
		case OpTableGrow, OpTableSize, OpTableFill:
			return fmt.Sprintf("%s %v", i.OpString(), i.Tableidx())
		}
		return i.OpString()
	default:
		return i.OpString()
	}
}

func (i *Instruction) OpString() string {
	if i.Opcode == OpPrefix {
		if name, ok := prefixOpNames[i.Subopcode()]; ok {
			return name
		}
		return "invalid"
	}
	if name := opNames[i.Opcode]; name != "" {
		return name
	}
	return "invalid"
}
