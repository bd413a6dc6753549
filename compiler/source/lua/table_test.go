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

// dispatchModule builds a module whose table holds [double, negate, null, square, add] followed by
// an uninitialized element, with an export that calls through the table. add records each call in
// the exported global "hits".
func dispatchModule() *moduleBuilder {
	b := newModule()
	unary := sig(types(i32), i32)
	binary := sig(types(i32, i32), i32)

	b.table(6, 8)
	b.export("table", wasm.ExternalTable, 0)

	double := b.function(unary, nil, code.LocalGet(0), code.I32Const(2), code.I32Mul())
	negate := b.function(unary, nil, code.I32Const(0), code.LocalGet(0), code.I32Sub())
	hits := b.global(i32, true, code.I32Const(0))
	b.export("hits", wasm.ExternalGlobal, hits)
	add := b.function(binary, nil,
		code.GlobalGet(hits), code.I32Const(1), code.I32Add(), code.GlobalSet(hits),
		code.LocalGet(0), code.LocalGet(1), code.I32Add(),
	)
	square := b.function(unary, nil, code.LocalGet(0), code.LocalGet(0), code.I32Mul())

	b.Elements = append(b.Elements,
		ir.ElementSegment{Offset: offset(0), Init: []int64{int64(double), int64(negate), -1}},
		ir.ElementSegment{Offset: offset(3), Init: []int64{int64(square), int64(add)}},
	)

	b.exportFunction("dispatch", sig(types(i32, i32), i32), nil,
		code.LocalGet(1),
		code.LocalGet(0),
		code.CallIndirect(b.typeIndex(unary)),
	)
	b.exportFunction("size", sig(nil, i32), nil, code.TableSize(0))
	b.exportFunction("grow", sig(types(i32), i32), nil,
		code.RefNull(funcref),
		code.LocalGet(0),
		code.TableGrow(0),
	)
	b.exportFunction("is_null", sig(types(i32), i32), nil,
		code.LocalGet(0),
		code.TableGet(0),
		code.RefIsNull(),
	)
	b.exportFunction("set", sig(types(i32)), nil,
		code.LocalGet(0),
		code.RefFunc(double),
		code.TableSet(0),
	)
	return b
}

func TestCallIndirect(t *testing.T) {
	_, inst := instantiate(t, &dispatchModule().Module, nil)

	cases := []struct{ index, arg, want int32 }{
		{0, 21, 42},
		{1, 7, -7},
		{3, 9, 81},
	}
	for _, c := range cases {
		results, err := inst.Call("dispatch", c.index, c.arg)
		require.NoError(t, err)
		assert.Equal(t, []interface{}{c.want}, results, "dispatch(%v, %v)", c.index, c.arg)
	}
}

func TestCallIndirectTraps(t *testing.T) {
	_, inst := instantiate(t, &dispatchModule().Module, nil)

	_, err := inst.Call("dispatch", int32(2), int32(0))
	assert.Equal(t, exec.TrapUninitializedElement, err)

	_, err = inst.Call("dispatch", int32(5), int32(0))
	assert.Equal(t, exec.TrapUninitializedElement, err)

	_, err = inst.Call("dispatch", int32(4), int32(0))
	assert.Equal(t, exec.TrapIndirectCallTypeMismatch, err)

	// The mismatched function never ran.
	hits, err := inst.Global("hits")
	require.NoError(t, err)
	v, err := hits.Get()
	require.NoError(t, err)
	assert.Equal(t, int32(0), v)

	_, err = inst.Call("dispatch", int32(6), int32(0))
	assert.Equal(t, exec.TrapUndefinedElement, err)

	_, err = inst.Call("dispatch", int32(-1), int32(0))
	assert.Equal(t, exec.TrapUndefinedElement, err)
}

func TestTableOperations(t *testing.T) {
	_, inst := instantiate(t, &dispatchModule().Module, nil)

	results, err := inst.Call("size")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(6)}, results)

	results, err = inst.Call("is_null", int32(2))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1)}, results)

	_, err = inst.Call("set", int32(2))
	require.NoError(t, err)
	results, err = inst.Call("dispatch", int32(2), int32(4))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(8)}, results)

	_, err = inst.Call("is_null", int32(6))
	assert.Equal(t, exec.TrapOutOfBoundsTableAccess, err)

	results, err = inst.Call("grow", int32(2))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(6)}, results)

	results, err = inst.Call("grow", int32(1))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(-1)}, results)

	tbl, err := inst.Table("table")
	require.NoError(t, err)
	assert.Equal(t, uint32(8), tbl.Size())

	s, err := tbl.Signature(0)
	require.NoError(t, err)
	assert.Equal(t, "piri", s)
}

func TestImportedTable(t *testing.T) {
	b := newModule()
	unary := sig(types(i32), i32)
	b.Tables = append(b.Tables, ir.Table{
		ElementType: funcref,
		Limits:      wasm.Limits{Initial: 2},
		Import:      &ir.Import{Module: "env", Field: "table"},
	})
	inc := b.function(unary, nil, code.LocalGet(0), code.I32Const(1), code.I32Add())
	b.Elements = append(b.Elements, ir.ElementSegment{Offset: offset(1), Init: []int64{int64(inc)}})
	b.exportFunction("dispatch", sig(types(i32, i32), i32), nil,
		code.LocalGet(1),
		code.LocalGet(0),
		code.CallIndirect(b.typeIndex(unary)),
	)

	mod, err := exec.Load("test", compileSource(t, &b.Module, nil), nil)
	require.NoError(t, err)
	defer mod.Close()

	table := mod.NewTable(2, 4)
	inst, err := mod.Instantiate(exec.Imports{"env": {"table": table}})
	require.NoError(t, err)

	results, err := inst.Call("dispatch", int32(1), int32(41))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(42)}, results)

	// The segment writes through to the host's table.
	elem, err := table.Get(1)
	require.NoError(t, err)
	assert.NotNil(t, elem)

	// A table that is too small fails to link.
	_, err = mod.Instantiate(exec.Imports{"env": {"table": mod.NewTable(1, 4)}})
	var link exec.LinkError
	assert.ErrorAs(t, err, &link)
}
