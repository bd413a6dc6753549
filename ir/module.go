// Package ir defines the resolved module consumed by the source compilers: a validated
// WebAssembly module whose index spaces are flattened (imports first) and whose entities carry
// their resolved names.
package ir

import (
	"github.com/pgavlin/wasm2lua/wasm"
	"github.com/pgavlin/wasm2lua/wasm/code"
)

// An Import names the module and field an entity is imported from.
type Import struct {
	Module string
	Field  string
}

// A Function is an entry in the function index space.
type Function struct {
	// Name is the function's debug name, if any.
	Name string
	// TypeIndex is the index of the function's signature in the module's type section.
	TypeIndex uint32
	// Import is non-nil if the function is imported.
	Import *Import
	// Locals holds the types of the declared locals, excluding parameters.
	Locals []wasm.ValueType
	// Body holds the function's instructions, including the final end.
	Body []code.Instruction
}

// A Table is an entry in the table index space.
type Table struct {
	Import      *Import
	ElementType wasm.ValueType
	Limits      wasm.Limits
}

// A Memory is an entry in the memory index space.
type Memory struct {
	Import *Import
	Limits wasm.Limits
}

// A Global is an entry in the global index space.
type Global struct {
	Import *Import
	Type   wasm.GlobalVar
	// Init is the global's constant initializer expression. It is empty for imported globals.
	Init []code.Instruction
}

// An ElementSegment initializes a range of a table with function references.
type ElementSegment struct {
	Table  uint32
	Offset []code.Instruction
	// Init holds the function indices to store. A negative index stores a null reference.
	Init []int64
	// Passive is true for segments that are not applied at instantiation.
	Passive bool
}

// A DataSegment initializes a range of a memory.
type DataSegment struct {
	Memory  uint32
	Offset  []code.Instruction
	Init    []byte
	Passive bool
}

// An Export maps an external name to an entity.
type Export struct {
	Name  string
	Kind  wasm.External
	Index uint32
}

// A Module is a resolved WebAssembly module.
type Module struct {
	Name      string
	Types     []wasm.FunctionSig
	Functions []Function
	Tables    []Table
	Memories  []Memory
	Globals   []Global
	Elements  []ElementSegment
	Data      []DataSegment
	Exports   []Export
	Start     *uint32
}

// Signature returns the signature of the given function.
func (m *Module) Signature(funcidx uint32) wasm.FunctionSig {
	return m.Types[m.Functions[funcidx].TypeIndex]
}

// ImportedFunctionCount returns the number of imported functions. Imports always precede
// definitions in the function index space.
func (m *Module) ImportedFunctionCount() int {
	n := 0
	for n < len(m.Functions) && m.Functions[n].Import != nil {
		n++
	}
	return n
}

// Scope returns a code.Scope for the module's global index spaces.
func (m *Module) Scope() code.Scope {
	return moduleScope{m: m}
}

// FunctionScope returns a code.Scope for the body of the given function.
func (m *Module) FunctionScope(funcidx uint32) code.Scope {
	f := &m.Functions[funcidx]
	sig := m.Types[f.TypeIndex]
	locals := make([]wasm.ValueType, 0, len(sig.ParamTypes)+len(f.Locals))
	locals = append(locals, sig.ParamTypes...)
	locals = append(locals, f.Locals...)
	return moduleScope{m: m, locals: locals}
}

type moduleScope struct {
	m      *Module
	locals []wasm.ValueType
}

func (s moduleScope) GetLocalType(localidx uint32) (wasm.ValueType, bool) {
	if localidx >= uint32(len(s.locals)) {
		return 0, false
	}
	return s.locals[localidx], true
}

func (s moduleScope) GetGlobalType(globalidx uint32) (wasm.GlobalVar, bool) {
	if globalidx >= uint32(len(s.m.Globals)) {
		return wasm.GlobalVar{}, false
	}
	return s.m.Globals[globalidx].Type, true
}

func (s moduleScope) GetFunctionSignature(funcidx uint32) (wasm.FunctionSig, bool) {
	if funcidx >= uint32(len(s.m.Functions)) {
		return wasm.FunctionSig{}, false
	}
	return s.GetType(s.m.Functions[funcidx].TypeIndex)
}

func (s moduleScope) GetType(typeidx uint32) (wasm.FunctionSig, bool) {
	if typeidx >= uint32(len(s.m.Types)) {
		return wasm.FunctionSig{}, false
	}
	return s.m.Types[typeidx], true
}

func (s moduleScope) HasTable(tableidx uint32) bool {
	return tableidx < uint32(len(s.m.Tables))
}

func (s moduleScope) HasMemory(memoryidx uint32) bool {
	return memoryidx < uint32(len(s.m.Memories))
}
