package code

import (
	"math"

	"github.com/pgavlin/wasm2lua/wasm"
)

// simple returns an instruction that has no immediate.
func simple(opcode byte) Instruction {
	return Instruction{Opcode: opcode}
}

func indexed(opcode byte, index uint32) Instruction {
	return Instruction{Opcode: opcode, Immediate: uint64(index)}
}

func memory(opcode byte, offset, align uint32) Instruction {
	return Instruction{Opcode: opcode, Immediate: memarg(offset, align)}
}

// prefixed returns a 0xfc-prefixed instruction. The low word of the immediate holds the
// subopcode and the high word holds the table index, if any.
func prefixed(subopcode, tableidx uint32) Instruction {
	return Instruction{Opcode: OpPrefix, Immediate: uint64(subopcode) | uint64(tableidx)<<32}
}

func Unreachable() Instruction { return simple(OpUnreachable) }
func Nop() Instruction { return simple(OpNop) }

func Block(blockType ...uint64) Instruction {
	typ := uint64(BlockTypeEmpty)
	if len(blockType) != 0 {
		typ = blockType[0]
	}
	return Instruction{Opcode: OpBlock, Immediate: typ}
}

func Loop(blockType ...uint64) Instruction {
	typ := uint64(BlockTypeEmpty)
	if len(blockType) != 0 {
		typ = blockType[0]
	}
	return Instruction{Opcode: OpLoop, Immediate: typ}
}

func If(blockType ...uint64) Instruction {
	typ := uint64(BlockTypeEmpty)
	if len(blockType) != 0 {
		typ = blockType[0]
	}
	return Instruction{Opcode: OpIf, Immediate: typ}
}

func Else() Instruction { return simple(OpElse) }
func End() Instruction { return simple(OpEnd) }

func Br(labelidx int) Instruction {
	return Instruction{Opcode: OpBr, Immediate: uint64(labelidx)}
}

func BrIf(labelidx int) Instruction {
	return Instruction{Opcode: OpBrIf, Immediate: uint64(labelidx)}
}

func BrTable(labelidx int, labelidxN ...int) Instruction {
	labels := make([]int, len(labelidxN))
	if len(labelidxN) > 0 {
		labels[0], labelidx = labelidx, labelidxN[len(labelidxN)-1]
		copy(labels[1:], labelidxN[:len(labelidxN)-1])
	}

	return Instruction{Opcode: OpBrTable, Immediate: uint64(labelidx), Labels: labels}
}

func Return() Instruction { return simple(OpReturn) }
func Call(funcidx uint32) Instruction { return indexed(OpCall, funcidx) }

func CallIndirect(typeidx uint32, tableidx ...uint32) Instruction {
	imm := uint64(typeidx)
	if len(tableidx) != 0 {
		imm |= uint64(tableidx[0]) << 32
	}
	return Instruction{Opcode: OpCallIndirect, Immediate: imm}
}

func Drop() Instruction { return simple(OpDrop) }
func Select() Instruction { return simple(OpSelect) }

func SelectT(t wasm.ValueType) Instruction {
	return Instruction{Opcode: OpSelectT, Immediate: uint64(t)}
}

func LocalGet(localidx uint32) Instruction { return indexed(OpLocalGet, localidx) }
func LocalSet(localidx uint32) Instruction { return indexed(OpLocalSet, localidx) }
func LocalTee(localidx uint32) Instruction { return indexed(OpLocalTee, localidx) }
func GlobalGet(globalidx uint32) Instruction { return indexed(OpGlobalGet, globalidx) }
func GlobalSet(globalidx uint32) Instruction { return indexed(OpGlobalSet, globalidx) }
func TableGet(tableidx uint32) Instruction { return indexed(OpTableGet, tableidx) }
func TableSet(tableidx uint32) Instruction { return indexed(OpTableSet, tableidx) }

func I32Load(offset, align uint32) Instruction { return memory(OpI32Load, offset, align) }
func I64Load(offset, align uint32) Instruction { return memory(OpI64Load, offset, align) }
func F32Load(offset, align uint32) Instruction { return memory(OpF32Load, offset, align) }
func F64Load(offset, align uint32) Instruction { return memory(OpF64Load, offset, align) }
func I32Load8S(offset, align uint32) Instruction { return memory(OpI32Load8S, offset, align) }
func I32Load8U(offset, align uint32) Instruction { return memory(OpI32Load8U, offset, align) }
func I32Load16S(offset, align uint32) Instruction { return memory(OpI32Load16S, offset, align) }
func I32Load16U(offset, align uint32) Instruction { return memory(OpI32Load16U, offset, align) }
func I64Load8S(offset, align uint32) Instruction { return memory(OpI64Load8S, offset, align) }
func I64Load8U(offset, align uint32) Instruction { return memory(OpI64Load8U, offset, align) }
func I64Load16S(offset, align uint32) Instruction { return memory(OpI64Load16S, offset, align) }
func I64Load16U(offset, align uint32) Instruction { return memory(OpI64Load16U, offset, align) }
func I64Load32S(offset, align uint32) Instruction { return memory(OpI64Load32S, offset, align) }
func I64Load32U(offset, align uint32) Instruction { return memory(OpI64Load32U, offset, align) }
func I32Store(offset, align uint32) Instruction { return memory(OpI32Store, offset, align) }
func I64Store(offset, align uint32) Instruction { return memory(OpI64Store, offset, align) }
func F32Store(offset, align uint32) Instruction { return memory(OpF32Store, offset, align) }
func F64Store(offset, align uint32) Instruction { return memory(OpF64Store, offset, align) }
func I32Store8(offset, align uint32) Instruction { return memory(OpI32Store8, offset, align) }
func I32Store16(offset, align uint32) Instruction { return memory(OpI32Store16, offset, align) }
func I64Store8(offset, align uint32) Instruction { return memory(OpI64Store8, offset, align) }
func I64Store16(offset, align uint32) Instruction { return memory(OpI64Store16, offset, align) }
func I64Store32(offset, align uint32) Instruction { return memory(OpI64Store32, offset, align) }

func MemorySize() Instruction { return simple(OpMemorySize) }
func MemoryGrow() Instruction { return simple(OpMemoryGrow) }

func I32Const(v int32) Instruction {
	return Instruction{Opcode: OpI32Const, Immediate: uint64(v)}
}

func I64Const(v int64) Instruction {
	return Instruction{Opcode: OpI64Const, Immediate: uint64(v)}
}

func F32Const(v float32) Instruction {
	return Instruction{Opcode: OpF32Const, Immediate: uint64(math.Float32bits(v))}
}

func F64Const(v float64) Instruction {
	return Instruction{Opcode: OpF64Const, Immediate: math.Float64bits(v)}
}

func I32Eqz() Instruction { return simple(OpI32Eqz) }
func I32Eq() Instruction { return simple(OpI32Eq) }
func I32Ne() Instruction { return simple(OpI32Ne) }
func I32LtS() Instruction { return simple(OpI32LtS) }
func I32LtU() Instruction { return simple(OpI32LtU) }
func I32GtS() Instruction { return simple(OpI32GtS) }
func I32GtU() Instruction { return simple(OpI32GtU) }
func I32LeS() Instruction { return simple(OpI32LeS) }
func I32LeU() Instruction { return simple(OpI32LeU) }
func I32GeS() Instruction { return simple(OpI32GeS) }
func I32GeU() Instruction { return simple(OpI32GeU) }

func I64Eqz() Instruction { return simple(OpI64Eqz) }
func I64Eq() Instruction { return simple(OpI64Eq) }
func I64Ne() Instruction { return simple(OpI64Ne) }
func I64LtS() Instruction { return simple(OpI64LtS) }
func I64LtU() Instruction { return simple(OpI64LtU) }
func I64GtS() Instruction { return simple(OpI64GtS) }
func I64GtU() Instruction { return simple(OpI64GtU) }
func I64LeS() Instruction { return simple(OpI64LeS) }
func I64LeU() Instruction { return simple(OpI64LeU) }
func I64GeS() Instruction { return simple(OpI64GeS) }
func I64GeU() Instruction { return simple(OpI64GeU) }

func F32Eq() Instruction { return simple(OpF32Eq) }
func F32Ne() Instruction { return simple(OpF32Ne) }
func F32Lt() Instruction { return simple(OpF32Lt) }
func F32Gt() Instruction { return simple(OpF32Gt) }
func F32Le() Instruction { return simple(OpF32Le) }
func F32Ge() Instruction { return simple(OpF32Ge) }

func F64Eq() Instruction { return simple(OpF64Eq) }
func F64Ne() Instruction { return simple(OpF64Ne) }
func F64Lt() Instruction { return simple(OpF64Lt) }
func F64Gt() Instruction { return simple(OpF64Gt) }
func F64Le() Instruction { return simple(OpF64Le) }
func F64Ge() Instruction { return simple(OpF64Ge) }

func I32Clz() Instruction { return simple(OpI32Clz) }
func I32Ctz() Instruction { return simple(OpI32Ctz) }
func I32Popcnt() Instruction { return simple(OpI32Popcnt) }
func I32Add() Instruction { return simple(OpI32Add) }
func I32Sub() Instruction { return simple(OpI32Sub) }
func I32Mul() Instruction { return simple(OpI32Mul) }
func I32DivS() Instruction { return simple(OpI32DivS) }
func I32DivU() Instruction { return simple(OpI32DivU) }
func I32RemS() Instruction { return simple(OpI32RemS) }
func I32RemU() Instruction { return simple(OpI32RemU) }
func I32And() Instruction { return simple(OpI32And) }
func I32Or() Instruction { return simple(OpI32Or) }
func I32Xor() Instruction { return simple(OpI32Xor) }
func I32Shl() Instruction { return simple(OpI32Shl) }
func I32ShrS() Instruction { return simple(OpI32ShrS) }
func I32ShrU() Instruction { return simple(OpI32ShrU) }
func I32Rotl() Instruction { return simple(OpI32Rotl) }
func I32Rotr() Instruction { return simple(OpI32Rotr) }

func I64Clz() Instruction { return simple(OpI64Clz) }
func I64Ctz() Instruction { return simple(OpI64Ctz) }
func I64Popcnt() Instruction { return simple(OpI64Popcnt) }
func I64Add() Instruction { return simple(OpI64Add) }
func I64Sub() Instruction { return simple(OpI64Sub) }
func I64Mul() Instruction { return simple(OpI64Mul) }
func I64DivS() Instruction { return simple(OpI64DivS) }
func I64DivU() Instruction { return simple(OpI64DivU) }
func I64RemS() Instruction { return simple(OpI64RemS) }
func I64RemU() Instruction { return simple(OpI64RemU) }
func I64And() Instruction { return simple(OpI64And) }
func I64Or() Instruction { return simple(OpI64Or) }
func I64Xor() Instruction { return simple(OpI64Xor) }
func I64Shl() Instruction { return simple(OpI64Shl) }
func I64ShrS() Instruction { return simple(OpI64ShrS) }
func I64ShrU() Instruction { return simple(OpI64ShrU) }
func I64Rotl() Instruction { return simple(OpI64Rotl) }
func I64Rotr() Instruction { return simple(OpI64Rotr) }

func F32Abs() Instruction { return simple(OpF32Abs) }
func F32Neg() Instruction { return simple(OpF32Neg) }
func F32Ceil() Instruction { return simple(OpF32Ceil) }
func F32Floor() Instruction { return simple(OpF32Floor) }
func F32Trunc() Instruction { return simple(OpF32Trunc) }
func F32Nearest() Instruction { return simple(OpF32Nearest) }
func F32Sqrt() Instruction { return simple(OpF32Sqrt) }
func F32Add() Instruction { return simple(OpF32Add) }
func F32Sub() Instruction { return simple(OpF32Sub) }
func F32Mul() Instruction { return simple(OpF32Mul) }
func F32Div() Instruction { return simple(OpF32Div) }
func F32Min() Instruction { return simple(OpF32Min) }
func F32Max() Instruction { return simple(OpF32Max) }
func F32Copysign() Instruction { return simple(OpF32Copysign) }

func F64Abs() Instruction { return simple(OpF64Abs) }
func F64Neg() Instruction { return simple(OpF64Neg) }
func F64Ceil() Instruction { return simple(OpF64Ceil) }
func F64Floor() Instruction { return simple(OpF64Floor) }
func F64Trunc() Instruction { return simple(OpF64Trunc) }
func F64Nearest() Instruction { return simple(OpF64Nearest) }
func F64Sqrt() Instruction { return simple(OpF64Sqrt) }
func F64Add() Instruction { return simple(OpF64Add) }
func F64Sub() Instruction { return simple(OpF64Sub) }
func F64Mul() Instruction { return simple(OpF64Mul) }
func F64Div() Instruction { return simple(OpF64Div) }
func F64Min() Instruction { return simple(OpF64Min) }
func F64Max() Instruction { return simple(OpF64Max) }
func F64Copysign() Instruction { return simple(OpF64Copysign) }

func I32WrapI64() Instruction { return simple(OpI32WrapI64) }
func I32TruncF32S() Instruction { return simple(OpI32TruncF32S) }
func I32TruncF32U() Instruction { return simple(OpI32TruncF32U) }
func I32TruncF64S() Instruction { return simple(OpI32TruncF64S) }
func I32TruncF64U() Instruction { return simple(OpI32TruncF64U) }
func I64ExtendI32S() Instruction { return simple(OpI64ExtendI32S) }
func I64ExtendI32U() Instruction { return simple(OpI64ExtendI32U) }
func I64TruncF32S() Instruction { return simple(OpI64TruncF32S) }
func I64TruncF32U() Instruction { return simple(OpI64TruncF32U) }
func I64TruncF64S() Instruction { return simple(OpI64TruncF64S) }
func I64TruncF64U() Instruction { return simple(OpI64TruncF64U) }
func F32ConvertI32S() Instruction { return simple(OpF32ConvertI32S) }
func F32ConvertI32U() Instruction { return simple(OpF32ConvertI32U) }
func F32ConvertI64S() Instruction { return simple(OpF32ConvertI64S) }
func F32ConvertI64U() Instruction { return simple(OpF32ConvertI64U) }
func F32DemoteF64() Instruction { return simple(OpF32DemoteF64) }
func F64ConvertI32S() Instruction { return simple(OpF64ConvertI32S) }
func F64ConvertI32U() Instruction { return simple(OpF64ConvertI32U) }
func F64ConvertI64S() Instruction { return simple(OpF64ConvertI64S) }
func F64ConvertI64U() Instruction { return simple(OpF64ConvertI64U) }
func F64PromoteF32() Instruction { return simple(OpF64PromoteF32) }
func I32ReinterpretF32() Instruction { return simple(OpI32ReinterpretF32) }
func I64ReinterpretF64() Instruction { return simple(OpI64ReinterpretF64) }
func F32ReinterpretI32() Instruction { return simple(OpF32ReinterpretI32) }
func F64ReinterpretI64() Instruction { return simple(OpF64ReinterpretI64) }

func I32Extend8S() Instruction { return simple(OpI32Extend8S) }
func I32Extend16S() Instruction { return simple(OpI32Extend16S) }
func I64Extend8S() Instruction { return simple(OpI64Extend8S) }
func I64Extend16S() Instruction { return simple(OpI64Extend16S) }
func I64Extend32S() Instruction { return simple(OpI64Extend32S) }

func I32TruncSatF32S() Instruction { return prefixed(OpI32TruncSatF32S, 0) }
func I32TruncSatF32U() Instruction { return prefixed(OpI32TruncSatF32U, 0) }
func I32TruncSatF64S() Instruction { return prefixed(OpI32TruncSatF64S, 0) }
func I32TruncSatF64U() Instruction { return prefixed(OpI32TruncSatF64U, 0) }
func I64TruncSatF32S() Instruction { return prefixed(OpI64TruncSatF32S, 0) }
func I64TruncSatF32U() Instruction { return prefixed(OpI64TruncSatF32U, 0) }
func I64TruncSatF64S() Instruction { return prefixed(OpI64TruncSatF64S, 0) }
func I64TruncSatF64U() Instruction { return prefixed(OpI64TruncSatF64U, 0) }

func MemoryCopy() Instruction { return prefixed(OpMemoryCopy, 0) }
func MemoryFill() Instruction { return prefixed(OpMemoryFill, 0) }

func TableGrow(tableidx uint32) Instruction { return prefixed(OpTableGrow, tableidx) }
func TableSize(tableidx uint32) Instruction { return prefixed(OpTableSize, tableidx) }
func TableFill(tableidx uint32) Instruction { return prefixed(OpTableFill, tableidx) }

func RefNull(t wasm.ValueType) Instruction {
	return Instruction{Opcode: OpRefNull, Immediate: uint64(t)}
}

func RefIsNull() Instruction { return simple(OpRefIsNull) }
func RefFunc(funcidx uint32) Instruction { return indexed(OpRefFunc, funcidx) }
