package lua_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/wasm2lua/exec"
	"github.com/pgavlin/wasm2lua/ir"
	"github.com/pgavlin/wasm2lua/wasm"
	"github.com/pgavlin/wasm2lua/wasm/code"
)

func offset(v int32) []code.Instruction {
	return []code.Instruction{code.I32Const(v), code.End()}
}

func memoryModule() *moduleBuilder {
	b := newModule()
	b.memory(1, 3, true)
	b.export("memory", wasm.ExternalMemory, 0)
	b.exportFunction("load", sig(types(i32), i32), nil,
		code.LocalGet(0),
		code.I32Load(0, 2),
	)
	b.exportFunction("load8_s", sig(types(i32), i32), nil,
		code.LocalGet(0),
		code.I32Load8S(0, 0),
	)
	b.exportFunction("load16_u", sig(types(i32), i32), nil,
		code.LocalGet(0),
		code.I32Load16U(0, 1),
	)
	b.exportFunction("load64", sig(types(i32), i64), nil,
		code.LocalGet(0),
		code.I64Load(0, 3),
	)
	b.exportFunction("store", sig(types(i32, i32)), nil,
		code.LocalGet(0),
		code.LocalGet(1),
		code.I32Store(0, 2),
	)
	b.exportFunction("store64", sig(types(i32, i64)), nil,
		code.LocalGet(0),
		code.LocalGet(1),
		code.I64Store(0, 3),
	)
	b.exportFunction("loadf64", sig(types(i32), f64), nil,
		code.LocalGet(0),
		code.F64Load(0, 3),
	)
	b.exportFunction("storef32", sig(types(i32, f32)), nil,
		code.LocalGet(0),
		code.LocalGet(1),
		code.F32Store(0, 2),
	)
	b.exportFunction("loadf32", sig(types(i32), f32), nil,
		code.LocalGet(0),
		code.F32Load(0, 2),
	)
	b.exportFunction("size", sig(nil, i32), nil,
		code.MemorySize(),
	)
	b.exportFunction("grow", sig(types(i32), i32), nil,
		code.LocalGet(0),
		code.MemoryGrow(),
	)
	b.exportFunction("fill", sig(types(i32, i32, i32)), nil,
		code.LocalGet(0),
		code.LocalGet(1),
		code.LocalGet(2),
		code.MemoryFill(),
	)
	b.exportFunction("copy", sig(types(i32, i32, i32)), nil,
		code.LocalGet(0),
		code.LocalGet(1),
		code.LocalGet(2),
		code.MemoryCopy(),
	)
	b.Data = append(b.Data, ir.DataSegment{Offset: offset(16), Init: []byte("hello, world")})
	return b
}

func TestMemoryLoadStore(t *testing.T) {
	_, inst := instantiate(t, &memoryModule().Module, nil)

	_, err := inst.Call("store", int32(100), int32(-2))
	require.NoError(t, err)

	results, err := inst.Call("load", int32(100))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(-2)}, results)

	results, err = inst.Call("load8_s", int32(100))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(-2)}, results)

	results, err = inst.Call("load16_u", int32(100))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(0xfffe)}, results)

	_, err = inst.Call("store64", int32(200), int64(-0x123456789abcdef))
	require.NoError(t, err)
	results, err = inst.Call("load64", int32(200))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(-0x123456789abcdef)}, results)

	// Untouched memory reads as zero.
	results, err = inst.Call("load64", int32(4096))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(0)}, results)

	mem, err := inst.Memory("memory")
	require.NoError(t, err)
	v, err := mem.Uint32(100)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xfffffffe), v)
}

func TestMemoryFloats(t *testing.T) {
	_, inst := instantiate(t, &memoryModule().Module, nil)

	_, err := inst.Call("store64", int32(8), int64(0x400921fb54442d18))
	require.NoError(t, err)
	results, err := inst.Call("loadf64", int32(8))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{3.141592653589793}, results)

	_, err = inst.Call("storef32", int32(32), float32(-1.5))
	require.NoError(t, err)
	results, err = inst.Call("load", int32(32))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(-0x40400000)}, results)
	results, err = inst.Call("loadf32", int32(32))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{float32(-1.5)}, results)
}

func TestMemoryBounds(t *testing.T) {
	_, inst := instantiate(t, &memoryModule().Module, nil)

	_, err := inst.Call("load", int32(wasm.PageSize-4))
	assert.NoError(t, err)

	_, err = inst.Call("load", int32(wasm.PageSize-3))
	assert.Equal(t, exec.TrapOutOfBoundsMemoryAccess, err)

	_, err = inst.Call("load", int32(-1))
	assert.Equal(t, exec.TrapOutOfBoundsMemoryAccess, err)

	_, err = inst.Call("load64", int32(wasm.PageSize-7))
	assert.Equal(t, exec.TrapOutOfBoundsMemoryAccess, err)

	_, err = inst.Call("store", int32(wasm.PageSize), int32(1))
	assert.Equal(t, exec.TrapOutOfBoundsMemoryAccess, err)

	_, err = inst.Call("store", int32(wasm.PageSize-4), int32(-1))
	assert.NoError(t, err)

	_, err = inst.Call("store", int32(wasm.PageSize-3), int32(0x01020304))
	assert.Equal(t, exec.TrapOutOfBoundsMemoryAccess, err)

	_, err = inst.Call("store64", int32(wasm.PageSize-8), int64(-1))
	assert.NoError(t, err)

	_, err = inst.Call("store64", int32(wasm.PageSize-7), int64(0))
	assert.Equal(t, exec.TrapOutOfBoundsMemoryAccess, err)

	// The trapping stores wrote nothing.
	mem, err := inst.Memory("memory")
	require.NoError(t, err)
	v, err := mem.Uint32(wasm.PageSize - 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xffffffff), v)
}

func TestMemoryHostView(t *testing.T) {
	_, inst := instantiate(t, &memoryModule().Module, nil)

	_, err := inst.Call("store", int32(0), int32(0x0000697f))
	require.NoError(t, err)

	mem, err := inst.Memory("memory")
	require.NoError(t, err)
	s, err := mem.String(0, 2)
	require.NoError(t, err)
	assert.Equal(t, "\x7fi", s)

	require.NoError(t, mem.Write(0, []byte("ok")))
	results, err := inst.Call("load16_u", int32(0))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32('o' | 'k'<<8)}, results)
}

func TestMemoryGrow(t *testing.T) {
	_, inst := instantiate(t, &memoryModule().Module, nil)

	results, err := inst.Call("size")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1)}, results)

	results, err = inst.Call("grow", int32(0))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1)}, results)

	results, err = inst.Call("grow", int32(1))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1)}, results)

	// Grown pages are zero-filled and addressable.
	results, err = inst.Call("load", int32(2*wasm.PageSize-4))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(0)}, results)

	// Growing beyond the maximum fails without changing the size.
	results, err = inst.Call("grow", int32(2))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(-1)}, results)

	results, err = inst.Call("grow", int32(1))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(2)}, results)

	results, err = inst.Call("size")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(3)}, results)

	mem, err := inst.Memory("memory")
	require.NoError(t, err)
	assert.Equal(t, uint64(3*wasm.PageSize), mem.Len())
}

func TestMemoryFillCopy(t *testing.T) {
	_, inst := instantiate(t, &memoryModule().Module, nil)
	mem, err := inst.Memory("memory")
	require.NoError(t, err)

	_, err = inst.Call("fill", int32(0), int32(0x1ab), int32(4))
	require.NoError(t, err)
	v, err := mem.Uint32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xabababab), v)

	// Overlapping copies behave like memmove.
	require.NoError(t, mem.Write(64, []byte{1, 2, 3, 4, 5}))
	_, err = inst.Call("copy", int32(65), int32(64), int32(4))
	require.NoError(t, err)
	buf := make([]byte, 5)
	require.NoError(t, mem.Read(64, buf))
	assert.Equal(t, []byte{1, 1, 2, 3, 4}, buf)

	_, err = inst.Call("copy", int32(64), int32(65), int32(4))
	require.NoError(t, err)
	require.NoError(t, mem.Read(64, buf))
	assert.Equal(t, []byte{1, 2, 3, 4, 4}, buf)

	_, err = inst.Call("fill", int32(wasm.PageSize-1), int32(0), int32(2))
	assert.Equal(t, exec.TrapOutOfBoundsMemoryAccess, err)

	_, err = inst.Call("copy", int32(0), int32(wasm.PageSize-1), int32(2))
	assert.Equal(t, exec.TrapOutOfBoundsMemoryAccess, err)
}

func TestDataSegments(t *testing.T) {
	_, inst := instantiate(t, &memoryModule().Module, nil)

	mem, err := inst.Memory("memory")
	require.NoError(t, err)
	s, err := mem.String(16, 12)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", s)
}

func TestDataSegmentGlobalOffset(t *testing.T) {
	b := newModule()
	b.Globals = append(b.Globals, ir.Global{
		Type:   wasm.GlobalVar{Type: i32},
		Import: &ir.Import{Module: "env", Field: "base"},
	})
	b.memory(1, 1, true)
	b.export("memory", wasm.ExternalMemory, 0)
	b.Data = append(b.Data, ir.DataSegment{
		Offset: []code.Instruction{code.GlobalGet(0), code.End()},
		Init:   []byte{0xde, 0xad},
	})

	mod, err := exec.Load("test", compileSource(t, &b.Module, nil), nil)
	require.NoError(t, err)
	defer mod.Close()

	base, err := mod.NewGlobal(wasm.GlobalVar{Type: i32}, int32(1000))
	require.NoError(t, err)
	inst, err := mod.Instantiate(exec.Imports{"env": {"base": base}})
	require.NoError(t, err)
	mem, err := inst.Memory("memory")
	require.NoError(t, err)
	buf := make([]byte, 2)
	require.NoError(t, mem.Read(1000, buf))
	assert.Equal(t, []byte{0xde, 0xad}, buf)
}

func TestDataSegmentOutOfBounds(t *testing.T) {
	b := newModule()
	b.memory(1, 1, true)
	b.table(2, 2)
	f := b.function(sig(nil), nil)
	b.Elements = append(b.Elements, ir.ElementSegment{Offset: offset(0), Init: []int64{int64(f)}})
	b.Data = append(b.Data,
		ir.DataSegment{Offset: offset(0), Init: []byte("ok")},
		ir.DataSegment{Offset: offset(wasm.PageSize - 1), Init: []byte("no")},
	)
	b.export("memory", wasm.ExternalMemory, 0)
	b.export("table", wasm.ExternalTable, 0)

	mod, err := exec.Load("test", compileSource(t, &b.Module, nil), nil)
	require.NoError(t, err)
	defer mod.Close()

	_, err = mod.Instantiate(nil)
	assert.Equal(t, exec.TrapOutOfBoundsMemoryAccess, err)
}
