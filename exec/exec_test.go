package exec

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/pgavlin/wasm2lua/wasm"
)

// handwritten is a minimal unit in the shape the compiler produces: a chunk that returns a
// module descriptor.
const handwritten = `
local function trap(kind) error("wasm trap: " .. kind, 0) end
return {
	name = "hand",
	imports = {
		{ module = "env", name = "double", kind = "func", type = "piri" },
		{ module = "env", name = "counter", kind = "global", type = "I", mutable = true },
	},
	exports = {
		{ name = "add", kind = "func", type = "piiri" },
		{ name = "add64", kind = "func", type = "pIIrI" },
		{ name = "quad", kind = "func", type = "piri" },
		{ name = "fail", kind = "func", type = "pr" },
		{ name = "counter", kind = "global", type = "I", mutable = true },
		{ name = "memory", kind = "memory" },
	},
	instantiate = function(imports)
		local env = imports.env
		if env == nil or env.double == nil then
			error("wasm link: unknown import env.double", 0)
		end
		local m = { exports = {} }
		m.exports.add = function(a, b) return (a + b) % 4294967296 end
		m.exports.add64 = function(a, b)
			local lo = a[1] + b[1]
			local carry = lo >= 4294967296 and 1 or 0
			return { lo % 4294967296, (a[2] + b[2] + carry) % 4294967296 }
		end
		m.exports.quad = function(x) return env.double(env.double(x)) end
		m.exports.fail = function() trap("unreachable") end
		m.exports.counter = env.counter
		m.exports.memory = { data = { [0] = 104, [1] = 105 }, pages = 1, size = 65536, max = 2 }
		return m
	end,
}
`

func loadHandwritten(t *testing.T) *Module {
	m, err := Load("hand", handwritten, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestLoadDescriptor(t *testing.T) {
	m := loadHandwritten(t)

	assert.Equal(t, "hand", m.Name)
	require.Len(t, m.Imports, 2)
	assert.Equal(t, Extern{Module: "env", Name: "double", Kind: wasm.ExternalFunction, Type: "piri"}, m.Imports[0])
	assert.Equal(t, Extern{Module: "env", Name: "counter", Kind: wasm.ExternalGlobal, Type: "I", Mutable: true}, m.Imports[1])

	require.Len(t, m.Exports, 6)
	sig, err := m.Exports[1].Signature()
	require.NoError(t, err)
	assert.Equal(t, "(i64, i64) -> (i64)", sig.String())

	vt, err := m.Exports[4].ValueType()
	require.NoError(t, err)
	assert.Equal(t, wasm.ValueTypeI64, vt)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("bad", "return 1 +", nil)
	assert.Error(t, err)

	_, err = Load("bad", "return 42", nil)
	assert.Error(t, err)

	_, err = Load("bad", `error("wasm trap: unreachable", 0)`, nil)
	assert.Equal(t, TrapUnreachable, err)

	_, err = Load("bad", `return { imports = {}, exports = { { name = "x", kind = "thing" } } }`, nil)
	assert.Error(t, err)
}

type hostModule struct {
	calls int
}

func (h *hostModule) Double(x int32) int32 {
	h.calls++
	return x * 2
}

func (h *hostModule) Fail() error {
	return TrapIntegerOverflow
}

func TestInstantiateAndCall(t *testing.T) {
	m := loadHandwritten(t)

	host := &hostModule{}
	env, err := NewHostModule(host)
	require.NoError(t, err)
	assert.Len(t, env, 2)

	counter, err := m.NewGlobal(wasm.GlobalVar{Type: wasm.ValueTypeI64, Mutable: true}, int64(-5))
	require.NoError(t, err)
	env["counter"] = counter

	inst, err := m.Instantiate(Imports{"env": env})
	require.NoError(t, err)

	results, err := inst.Call("add", int32(math.MaxInt32), int32(1))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(math.MinInt32)}, results)

	results, err = inst.Call("add64", int64(0xffffffff), int64(1))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int64(0x100000000)}, results)

	results, err = inst.Call("quad", int32(5))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{int32(20)}, results)
	assert.Equal(t, 2, host.calls)

	_, err = inst.Call("fail")
	assert.Equal(t, TrapUnreachable, err)

	_, err = inst.Call("add", int32(1))
	assert.Error(t, err)

	_, err = inst.Call("missing")
	var notFound *ExportNotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = inst.Call("counter")
	var mismatch *KindMismatchError
	assert.ErrorAs(t, err, &mismatch)

	g, err := inst.Global("counter")
	require.NoError(t, err)
	v, err := g.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(-5), v)
	require.NoError(t, counter.Set(int64(7)))
	v, err = g.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	mem, err := inst.Memory("memory")
	require.NoError(t, err)
	s, err := mem.String(0, 2)
	require.NoError(t, err)
	assert.Equal(t, "hi", s)
	size, max := mem.Limits()
	assert.Equal(t, uint32(1), size)
	assert.Equal(t, uint32(2), max)
}

func TestInstantiateLinkError(t *testing.T) {
	m := loadHandwritten(t)

	_, err := m.Instantiate(nil)
	assert.Equal(t, LinkError("unknown import env.double"), err)

	_, err = m.Instantiate(Imports{"env": {"double": 42}})
	assert.Error(t, err)
}

func TestTranslateError(t *testing.T) {
	apiError := func(msg string) error {
		return &lua.ApiError{Type: lua.ApiErrorRun, Object: lua.LString(msg)}
	}

	assert.Nil(t, translateError(nil))
	assert.Equal(t, TrapIntegerDivideByZero, translateError(apiError("wasm trap: integer divide by zero")))
	assert.Equal(t, LinkError("incompatible import type env.f"), translateError(apiError("wasm link: incompatible import type env.f")))
	assert.Equal(t, TrapCallStackExhausted, translateError(apiError("stack overflow")))
	assert.Equal(t, TrapCallStackExhausted, translateError(errors.New("registry overflow")))

	other := errors.New("attempt to index a nil value")
	assert.Equal(t, other, translateError(other))
}

func TestTrapMessages(t *testing.T) {
	assert.Equal(t, "wasm trap: unreachable", TrapUnreachable.Error())
	assert.Equal(t, "wasm link: unknown import a.b", LinkError("unknown import a.b").Error())
}

func TestValueConversion(t *testing.T) {
	l := lua.NewState()
	defer l.Close()

	cases := []struct {
		t   wasm.ValueType
		in  interface{}
		out interface{}
	}{
		{wasm.ValueTypeI32, int32(-1), int32(-1)},
		{wasm.ValueTypeI32, uint32(math.MaxUint32), int32(-1)},
		{wasm.ValueTypeI32, 7, int32(7)},
		{wasm.ValueTypeI64, int64(math.MinInt64), int64(math.MinInt64)},
		{wasm.ValueTypeI64, uint64(math.MaxUint64), int64(-1)},
		{wasm.ValueTypeI64, int64(0x123456789), int64(0x123456789)},
		{wasm.ValueTypeF32, float32(1.5), float32(1.5)},
		{wasm.ValueTypeF64, math.Inf(-1), math.Inf(-1)},
		{wasm.ValueTypeF64, float32(0.5), 0.5},
		{wasm.ValueTypeFuncref, nil, nil},
	}
	for _, c := range cases {
		lv, err := toLua(l, c.t, c.in)
		require.NoError(t, err)
		v, err := fromLua(c.t, lv)
		require.NoError(t, err)
		assert.Equal(t, c.out, v, "%v %v", c.t, c.in)
	}

	lv, err := toLua(l, wasm.ValueTypeI64, int64(-2))
	require.NoError(t, err)
	tbl := lv.(*lua.LTable)
	assert.Equal(t, lua.LNumber(0xfffffffe), tbl.RawGetInt(1))
	assert.Equal(t, lua.LNumber(0xffffffff), tbl.RawGetInt(2))

	_, err = toLua(l, wasm.ValueTypeI32, "one")
	assert.Error(t, err)
	_, err = fromLua(wasm.ValueTypeI64, lua.LNumber(1))
	assert.Error(t, err)
}

func TestNewHostFunction(t *testing.T) {
	f, err := NewHostFunction(func(a uint32, b int64, c float32) (float64, error) {
		return float64(a) + float64(b) + float64(c), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "piIfrF", f.Type.Key())

	results, err := f.Func([]interface{}{int32(1), int64(2), float32(0.5)})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{3.5}, results)

	_, err = NewHostFunction(func(s string) {})
	assert.Error(t, err)

	_, err = NewHostFunction(42)
	assert.Error(t, err)

	fail, err := NewHostFunction((&hostModule{}).Fail)
	require.NoError(t, err)
	_, err = fail.Func(nil)
	assert.Equal(t, TrapIntegerOverflow, err)
}

func TestMemoryAddressing(t *testing.T) {
	m := loadHandwritten(t)

	mem := m.NewMemory(1100, 1100)
	high := uint32(68 << 20)
	require.NoError(t, mem.Write(0, []byte{0x7f}))
	require.NoError(t, mem.Write(high, []byte{1, 2, 3, 4}))

	// The runtime indexes bytes from 0, so the host must write the same keys it does.
	assert.Equal(t, lua.LNumber(0x7f), mem.data().RawGet(lua.LNumber(0)))
	assert.Equal(t, lua.LNumber(4), mem.data().RawGet(lua.LNumber(high+3)))

	var buf [1]byte
	require.NoError(t, mem.Read(0, buf[:]))
	assert.Equal(t, byte(0x7f), buf[0])
	v, err := mem.Uint32(high)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x04030201), v)

	mem.data().RawSet(lua.LNumber(1), lua.LNumber('k'))
	s, err := mem.String(0, 2)
	require.NoError(t, err)
	assert.Equal(t, "\x7fk", s)

	tbl := m.NewTable(2, 2)
	ref := m.l.NewTable()
	ref.RawSetString("sig", lua.LString("pr"))
	tbl.t.RawGetString("elems").(*lua.LTable).RawSet(lua.LNumber(0), ref)
	sig, err := tbl.Signature(0)
	require.NoError(t, err)
	assert.Equal(t, "pr", sig)
	_, err = tbl.Signature(1)
	assert.Equal(t, TrapUninitializedElement, err)
}
