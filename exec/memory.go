package exec

import (
	"fmt"

	"github.com/pgavlin/wasm2lua/wasm"
	lua "github.com/yuin/gopher-lua"
)

// Memory is a WASM linear memory held by the Lua runtime. Bytes that have never been written
// read as zero.
type Memory struct {
	t *lua.LTable
}

// NewMemory creates a new linear memory with the given limits that can be imported by instances
// of the module.
func (m *Module) NewMemory(min, max uint32) *Memory {
	t := m.l.NewTable()
	t.RawSetString("data", m.l.NewTable())
	t.RawSetString("pages", lua.LNumber(min))
	t.RawSetString("size", lua.LNumber(float64(min)*wasm.PageSize))
	t.RawSetString("max", lua.LNumber(max))
	return &Memory{t: t}
}

func (m *Memory) number(field string) uint32 {
	n, _ := m.t.RawGetString(field).(lua.LNumber)
	return uint32(n)
}

// data returns the byte table. Addresses start at 0, so reads and writes go through RawGet and
// RawSet: RawGetInt only sees the array part, which starts at 1.
func (m *Memory) data() *lua.LTable {
	return m.t.RawGetString("data").(*lua.LTable)
}

// Limits returns the current and maximum size of the memory in pages.
func (m *Memory) Limits() (size, max uint32) {
	return m.number("pages"), m.number("max")
}

// Size returns the current size of the memory in pages.
func (m *Memory) Size() uint32 {
	return m.number("pages")
}

// Len returns the current size of the memory in bytes.
func (m *Memory) Len() uint64 {
	n, _ := m.t.RawGetString("size").(lua.LNumber)
	return uint64(n)
}

func (m *Memory) check(offset uint32, n int) error {
	if uint64(offset)+uint64(n) > m.Len() {
		return TrapOutOfBoundsMemoryAccess
	}
	return nil
}

// Read copies len(buf) bytes starting at offset into buf.
func (m *Memory) Read(offset uint32, buf []byte) error {
	if err := m.check(offset, len(buf)); err != nil {
		return err
	}
	d := m.data()
	for i := range buf {
		v, _ := d.RawGet(lua.LNumber(int(offset) + i)).(lua.LNumber)
		buf[i] = byte(v)
	}
	return nil
}

// Write copies buf into the memory starting at offset.
func (m *Memory) Write(offset uint32, buf []byte) error {
	if err := m.check(offset, len(buf)); err != nil {
		return err
	}
	d := m.data()
	for i, b := range buf {
		d.RawSet(lua.LNumber(int(offset)+i), lua.LNumber(b))
	}
	return nil
}

// Uint32 reads a little-endian 32-bit value.
func (m *Memory) Uint32(offset uint32) (uint32, error) {
	var buf [4]byte
	if err := m.Read(offset, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// String reads n bytes starting at offset as a string.
func (m *Memory) String(offset, n uint32) (string, error) {
	buf := make([]byte, n)
	if err := m.Read(offset, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Table is a WASM table of function references held by the Lua runtime.
type Table struct {
	t *lua.LTable
}

// NewTable creates a new table with the given limits that can be imported by instances of the
// module.
func (m *Module) NewTable(min, max uint32) *Table {
	t := m.l.NewTable()
	t.RawSetString("elems", m.l.NewTable())
	t.RawSetString("size", lua.LNumber(min))
	t.RawSetString("max", lua.LNumber(max))
	return &Table{t: t}
}

// Size returns the current number of elements in the table.
func (t *Table) Size() uint32 {
	n, _ := t.t.RawGetString("size").(lua.LNumber)
	return uint32(n)
}

// Get returns the reference at index i, or nil if the element is uninitialized.
func (t *Table) Get(i uint32) (lua.LValue, error) {
	if i >= t.Size() {
		return nil, TrapOutOfBoundsTableAccess
	}
	v := t.t.RawGetString("elems").(*lua.LTable).RawGet(lua.LNumber(i))
	if v == lua.LNil {
		return nil, nil
	}
	return v, nil
}

// Signature returns the type key of the function stored at index i.
func (t *Table) Signature(i uint32) (string, error) {
	v, err := t.Get(i)
	if err != nil {
		return "", err
	}
	ref, ok := v.(*lua.LTable)
	if !ok {
		return "", TrapUninitializedElement
	}
	return lua.LVAsString(ref.RawGetString("sig")), nil
}

// Global is a WASM global cell shared between the Lua runtime and the host.
type Global struct {
	l    *lua.LState
	cell *lua.LTable
	typ  wasm.GlobalVar
}

// NewGlobal creates a new global cell with the given type and initial value that can be imported
// by instances of the module.
func (m *Module) NewGlobal(typ wasm.GlobalVar, value interface{}) (*Global, error) {
	g := &Global{l: m.l, cell: m.l.NewTable(), typ: typ}
	if err := g.set(value); err != nil {
		return nil, err
	}
	return g, nil
}

// Type returns the type of the global.
func (g *Global) Type() wasm.GlobalVar {
	return g.typ
}

// Get returns the current value of the global.
func (g *Global) Get() (interface{}, error) {
	return fromLua(g.typ.Type, g.cell.RawGetString("value"))
}

// Set sets the value of a mutable global.
func (g *Global) Set(v interface{}) error {
	if !g.typ.Mutable {
		return fmt.Errorf("global is immutable")
	}
	return g.set(v)
}

func (g *Global) set(v interface{}) error {
	lv, err := toLua(g.l, g.typ.Type, v)
	if err != nil {
		return err
	}
	g.cell.RawSetString("value", lv)
	return nil
}
