package lua_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/wasm2lua/compiler/source/lua"
	"github.com/pgavlin/wasm2lua/wasm"
	"github.com/pgavlin/wasm2lua/wasm/code"
)

func TestLoopSum(t *testing.T) {
	b := newModule()
	// sum(n) = n + (n-1) + ... + 1
	b.exportFunction("sum", sig(types(i32), i32), types(i32),
		code.Block(),
		code.Loop(),
		code.LocalGet(0),
		code.I32Eqz(),
		code.BrIf(1),
		code.LocalGet(1),
		code.LocalGet(0),
		code.I32Add(),
		code.LocalSet(1),
		code.LocalGet(0),
		code.I32Const(1),
		code.I32Sub(),
		code.LocalSet(0),
		code.Br(0),
		code.End(),
		code.End(),
		code.LocalGet(1),
	)

	_, inst := instantiate(t, &b.Module, nil)
	for _, c := range []struct{ n, want int32 }{{0, 0}, {1, 1}, {10, 55}, {1000, 500500}} {
		results, err := inst.Call("sum", c.n)
		require.NoError(t, err)
		assert.Equal(t, []interface{}{c.want}, results)
	}
}

func TestNestedBranch(t *testing.T) {
	b := newModule()
	// Branches out of two blocks at once, carrying a value.
	b.exportFunction("pick", sig(types(i32), i32), nil,
		code.Block(code.BlockTypeI32),
		code.Block(),
		code.I32Const(7),
		code.LocalGet(0),
		code.BrIf(1),
		code.Drop(),
		code.End(),
		code.I32Const(9),
		code.End(),
	)

	_, inst := instantiate(t, &b.Module, nil)
	results, err := inst.Call("pick", int32(1))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(7)}, results)

	results, err = inst.Call("pick", int32(0))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(9)}, results)
}

func TestBrTable(t *testing.T) {
	b := newModule()
	b.exportFunction("switch", sig(types(i32), i32), nil,
		code.Block(),
		code.Block(),
		code.Block(),
		code.LocalGet(0),
		code.BrTable(0, 1, 2),
		code.End(),
		code.I32Const(100),
		code.Return(),
		code.End(),
		code.I32Const(200),
		code.Return(),
		code.End(),
		code.I32Const(300),
	)

	_, inst := instantiate(t, &b.Module, nil)
	cases := []struct{ in, want int32 }{
		{0, 100},
		{1, 200},
		{2, 300},
		{3, 300},
		{-1, 300},
	}
	for _, c := range cases {
		results, err := inst.Call("switch", c.in)
		require.NoError(t, err)
		assert.Equal(t, []interface{}{c.want}, results, "switch(%v)", c.in)
	}
}

func TestIfElse(t *testing.T) {
	b := newModule()
	b.exportFunction("abs", sig(types(i32), i32), nil,
		code.LocalGet(0),
		code.I32Const(0),
		code.I32LtS(),
		code.If(code.BlockTypeI32),
		code.I32Const(0),
		code.LocalGet(0),
		code.I32Sub(),
		code.Else(),
		code.LocalGet(0),
		code.End(),
	)
	b.exportFunction("clamp", sig(types(i32), i32), nil,
		code.LocalGet(0),
		code.I32Const(10),
		code.I32GtS(),
		code.If(),
		code.I32Const(10),
		code.LocalSet(0),
		code.End(),
		code.LocalGet(0),
	)

	_, inst := instantiate(t, &b.Module, nil)
	for _, c := range []struct{ in, want int32 }{{-5, 5}, {5, 5}, {0, 0}} {
		results, err := inst.Call("abs", c.in)
		require.NoError(t, err)
		assert.Equal(t, []interface{}{c.want}, results)
	}
	for _, c := range []struct{ in, want int32 }{{3, 3}, {10, 10}, {11, 10}} {
		results, err := inst.Call("clamp", c.in)
		require.NoError(t, err)
		assert.Equal(t, []interface{}{c.want}, results)
	}
}

func TestSelect(t *testing.T) {
	b := newModule()
	b.exportFunction("select_i32", sig(types(i32, i32, i32), i32), nil,
		code.LocalGet(0),
		code.LocalGet(1),
		code.LocalGet(2),
		code.Select(),
	)
	b.exportFunction("select_i64", sig(types(i64, i64, i32), i64), nil,
		code.LocalGet(0),
		code.LocalGet(1),
		code.LocalGet(2),
		code.SelectT(i64),
	)

	_, inst := instantiate(t, &b.Module, nil)
	results, err := inst.Call("select_i32", int32(1), int32(2), int32(1))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1)}, results)

	results, err = inst.Call("select_i32", int32(1), int32(2), int32(0))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(2)}, results)

	results, err = inst.Call("select_i64", int64(-1), int64(1<<40), int32(-7))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(-1)}, results)
}

func TestMultipleResults(t *testing.T) {
	b := newModule()
	pair := sig(types(i32, i64), i64, i32)
	b.exportFunction("swap", pair, nil,
		code.LocalGet(1),
		code.LocalGet(0),
	)
	b.exportFunction("swap_block", pair, nil,
		code.LocalGet(0),
		code.LocalGet(1),
		code.Block(code.BlockType(b.typeIndex(pair))),
		code.Call(0),
		code.End(),
	)

	_, inst := instantiate(t, &b.Module, nil)
	results, err := inst.Call("swap", int32(3), int64(-4))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(-4), int32(3)}, results)

	results, err = inst.Call("swap_block", int32(5), int64(6))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(6), int32(5)}, results)
}

func TestSpilledFunction(t *testing.T) {
	const count = 200

	body := make([]code.Instruction, 0, 4*count+1)
	for i := 0; i < count; i++ {
		body = append(body, code.I32Const(int32(i)), code.LocalSet(uint32(i+1)))
	}
	body = append(body, code.LocalGet(0))
	for i := 0; i < count; i++ {
		body = append(body, code.LocalGet(uint32(i+1)), code.I32Add())
	}

	b := newModule()
	decls := make([]wasm.ValueType, count)
	for i := range decls {
		decls[i] = i32
	}
	b.exportFunction("spill", sig(types(i32), i32), decls, body...)

	stats, err := lua.Analyze(&b.Module, nil)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.True(t, stats[0].Spilled)
	assert.Equal(t, count, stats[0].Locals)

	_, inst := instantiate(t, &b.Module, nil)
	results, err := inst.Call("spill", int32(1))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(1 + count*(count-1)/2)}, results)
}

func TestAnalyze(t *testing.T) {
	stats, err := lua.Analyze(FibRecursive(), nil)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	fib := stats[0]
	assert.Equal(t, uint32(0), fib.Index)
	assert.Equal(t, 1, fib.Params)
	assert.Equal(t, 1, fib.Results)
	assert.False(t, fib.Spilled)
	assert.Greater(t, fib.Instructions, 20)
	assert.GreaterOrEqual(t, fib.MaxDepth, 2)
	assert.Greater(t, fib.Bytes, 0)

	main := stats[1]
	assert.Equal(t, uint32(1), main.Index)
	assert.Equal(t, 0, main.Params)
	assert.Equal(t, 1, main.Results)
}
