package code

import "github.com/pgavlin/wasm2lua/wasm"

// A Scope resolves the indices referenced by instructions.
type Scope interface {
	GetLocalType(localidx uint32) (wasm.ValueType, bool)
	GetGlobalType(globalidx uint32) (wasm.GlobalVar, bool)
	GetFunctionSignature(funcidx uint32) (wasm.FunctionSig, bool)
	GetType(typeidx uint32) (wasm.FunctionSig, bool)

	HasTable(tableidx uint32) bool
	HasMemory(memoryidx uint32) bool
}
