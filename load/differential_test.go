package load_test

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/pgavlin/wasm2lua/compiler/source/lua"
	"github.com/pgavlin/wasm2lua/exec"
	"github.com/pgavlin/wasm2lua/load"
	"github.com/pgavlin/wasm2lua/wasm"
)

type binaryOp struct {
	name   string
	typ    wasm.ValueType
	opcode byte
}

var binaryOps = []binaryOp{
	{"i32.add", wasm.ValueTypeI32, 0x6a},
	{"i32.sub", wasm.ValueTypeI32, 0x6b},
	{"i32.mul", wasm.ValueTypeI32, 0x6c},
	{"i32.div_s", wasm.ValueTypeI32, 0x6d},
	{"i32.div_u", wasm.ValueTypeI32, 0x6e},
	{"i32.rem_s", wasm.ValueTypeI32, 0x6f},
	{"i32.rem_u", wasm.ValueTypeI32, 0x70},
	{"i32.xor", wasm.ValueTypeI32, 0x73},
	{"i32.shl", wasm.ValueTypeI32, 0x74},
	{"i32.shr_s", wasm.ValueTypeI32, 0x75},
	{"i32.rotr", wasm.ValueTypeI32, 0x78},
	{"i64.add", wasm.ValueTypeI64, 0x7c},
	{"i64.sub", wasm.ValueTypeI64, 0x7d},
	{"i64.mul", wasm.ValueTypeI64, 0x7e},
	{"i64.div_s", wasm.ValueTypeI64, 0x7f},
	{"i64.div_u", wasm.ValueTypeI64, 0x80},
	{"i64.rem_s", wasm.ValueTypeI64, 0x81},
	{"i64.rem_u", wasm.ValueTypeI64, 0x82},
	{"i64.and", wasm.ValueTypeI64, 0x83},
	{"i64.shr_u", wasm.ValueTypeI64, 0x88},
	{"i64.rotl", wasm.ValueTypeI64, 0x89},
	{"f64.add", wasm.ValueTypeF64, 0xa0},
	{"f64.mul", wasm.ValueTypeF64, 0xa2},
	{"f64.div", wasm.ValueTypeF64, 0xa3},
	{"f64.min", wasm.ValueTypeF64, 0xa4},
	{"f64.max", wasm.ValueTypeF64, 0xa5},
}

func uleb(v uint32) []byte {
	var b []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b = append(b, c|0x80)
			continue
		}
		return append(b, c)
	}
}

func vector(n int, items ...[]byte) []byte {
	b := uleb(uint32(n))
	for _, item := range items {
		b = append(b, item...)
	}
	return b
}

func binarySection(id byte, contents []byte) []byte {
	return append(append([]byte{id}, uleb(uint32(len(contents)))...), contents...)
}

// opsModule encodes a module that exports one function per binary operator.
func opsModule() []byte {
	kinds := []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF64}
	typeIndex := map[wasm.ValueType]byte{}
	var types [][]byte
	for i, t := range kinds {
		typeIndex[t] = byte(i)
		types = append(types, []byte{0x60, 0x02, byte(t), byte(t), 0x01, byte(t)})
	}

	var funcs, exports, bodies [][]byte
	for i, op := range binaryOps {
		funcs = append(funcs, []byte{typeIndex[op.typ]})
		exports = append(exports, append(append(uleb(uint32(len(op.name))), op.name...), 0x00, byte(i)))
		bodies = append(bodies, []byte{0x07, 0x00, 0x20, 0x00, 0x20, 0x01, op.opcode, 0x0b})
	}

	var b bytes.Buffer
	b.WriteString("\x00asm\x01\x00\x00\x00")
	b.Write(binarySection(1, vector(len(types), types...)))
	b.Write(binarySection(3, vector(len(funcs), funcs...)))
	b.Write(binarySection(7, vector(len(exports), exports...)))
	b.Write(binarySection(10, vector(len(bodies), bodies...)))
	return b.Bytes()
}

func encode(t wasm.ValueType, v interface{}) uint64 {
	switch t {
	case wasm.ValueTypeI32:
		return api.EncodeI32(v.(int32))
	case wasm.ValueTypeI64:
		return api.EncodeI64(v.(int64))
	default:
		return api.EncodeF64(v.(float64))
	}
}

func decode(t wasm.ValueType, v uint64) interface{} {
	switch t {
	case wasm.ValueTypeI32:
		return api.DecodeI32(v)
	case wasm.ValueTypeI64:
		return int64(v)
	default:
		return api.DecodeF64(v)
	}
}

func operands(t wasm.ValueType) []interface{} {
	switch t {
	case wasm.ValueTypeI32:
		return []interface{}{int32(0), int32(1), int32(-1), int32(7), int32(-13), int32(31), int32(33), int32(math.MaxInt32), int32(math.MinInt32)}
	case wasm.ValueTypeI64:
		return []interface{}{int64(0), int64(1), int64(-1), int64(63), int64(-65), int64(0x1_0000_0001), int64(math.MaxInt64), int64(math.MinInt64)}
	default:
		return []interface{}{0.0, math.Copysign(0, -1), 1.5, -2.25, 1e300, math.Inf(1), math.Inf(-1), math.NaN()}
	}
}

// TestDifferential runs every operator over a grid of operands both in wazero and in the Lua
// translation of the same binary, and requires identical results and traps.
func TestDifferential(t *testing.T) {
	bin := opsModule()
	ctx := context.Background()

	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)
	reference, err := runtime.Instantiate(ctx, bin)
	require.NoError(t, err)

	def, err := load.LoadModule(bytes.NewReader(bin))
	require.NoError(t, err)
	var source bytes.Buffer
	require.NoError(t, lua.CompileModule(&source, def, nil))
	mod, err := exec.Load("ops", source.String(), nil)
	require.NoError(t, err)
	defer mod.Close()
	inst, err := mod.Instantiate(nil)
	require.NoError(t, err)

	for _, op := range binaryOps {
		op := op
		t.Run(op.name, func(t *testing.T) {
			fn := reference.ExportedFunction(op.name)
			require.NotNil(t, fn)

			for _, a := range operands(op.typ) {
				for _, b := range operands(op.typ) {
					want, wantErr := fn.Call(ctx, encode(op.typ, a), encode(op.typ, b))
					got, gotErr := inst.Call(op.name, a, b)
					if wantErr != nil {
						assert.Error(t, gotErr, "%s(%v, %v)", op.name, a, b)
						continue
					}
					if !assert.NoError(t, gotErr, "%s(%v, %v)", op.name, a, b) {
						continue
					}

					expected := decode(op.typ, want[0])
					if f, ok := expected.(float64); ok && math.IsNaN(f) {
						assert.True(t, math.IsNaN(got[0].(float64)), "%s(%v, %v)", op.name, a, b)
						continue
					}
					if op.typ == wasm.ValueTypeF64 {
						assert.Equal(t, math.Float64bits(expected.(float64)), math.Float64bits(got[0].(float64)), "%s(%v, %v)", op.name, a, b)
						continue
					}
					assert.Equal(t, expected, got[0], "%s(%v, %v)", op.name, a, b)
				}
			}
		})
	}
}
