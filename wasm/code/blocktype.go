package code

import "github.com/pgavlin/wasm2lua/wasm"

const (
	BlockTypeSpecial = 0x8000000000000000
	BlockTypeMask    = 0x80000000ffffffff

	BlockTypeEmpty = 0x40 | BlockTypeSpecial
	BlockTypeI32   = 0x7f | BlockTypeSpecial
	BlockTypeI64   = 0x7e | BlockTypeSpecial
	BlockTypeF32   = 0x7d | BlockTypeSpecial
	BlockTypeF64   = 0x7c | BlockTypeSpecial
)

// BlockType returns the block type immediate for a block whose signature is the given type index.
func BlockType(typeidx uint32) uint64 {
	return uint64(typeidx)
}

// BlockTypeOf returns the block type immediate for a block producing a single value of type t.
func BlockTypeOf(t wasm.ValueType) uint64 {
	return uint64(t) | BlockTypeSpecial
}
