package exec

import (
	"fmt"

	"github.com/pgavlin/wasm2lua/wasm"
	lua "github.com/yuin/gopher-lua"
)

// toLua converts a Go value to the Lua representation of a WASM value of the given type.
//
// i32, f32 and f64 values are Lua numbers. i64 values are tables holding the unsigned low and high
// halves of the value. References are passed through unchanged.
func toLua(l *lua.LState, t wasm.ValueType, v interface{}) (lua.LValue, error) {
	switch t {
	case wasm.ValueTypeI32:
		switch v := v.(type) {
		case int32:
			return lua.LNumber(v), nil
		case uint32:
			return lua.LNumber(int32(v)), nil
		case int:
			return lua.LNumber(int32(v)), nil
		}
	case wasm.ValueTypeI64:
		var x uint64
		switch v := v.(type) {
		case int64:
			x = uint64(v)
		case uint64:
			x = v
		case int:
			x = uint64(v)
		default:
			return nil, fmt.Errorf("expected an i64, got %T", v)
		}
		t := l.CreateTable(2, 0)
		t.RawSetInt(1, lua.LNumber(uint32(x)))
		t.RawSetInt(2, lua.LNumber(uint32(x>>32)))
		return t, nil
	case wasm.ValueTypeF32:
		if v, ok := v.(float32); ok {
			return lua.LNumber(v), nil
		}
	case wasm.ValueTypeF64:
		switch v := v.(type) {
		case float64:
			return lua.LNumber(v), nil
		case float32:
			return lua.LNumber(v), nil
		}
	case wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
		switch v := v.(type) {
		case nil:
			return lua.LNil, nil
		case lua.LValue:
			return v, nil
		}
	}
	return nil, fmt.Errorf("expected a value of type %v, got %T", t, v)
}

// fromLua converts the Lua representation of a WASM value of the given type to a Go value.
func fromLua(t wasm.ValueType, v lua.LValue) (interface{}, error) {
	switch t {
	case wasm.ValueTypeI32:
		if n, ok := v.(lua.LNumber); ok {
			return int32(int64(n)), nil
		}
	case wasm.ValueTypeI64:
		if tbl, ok := v.(*lua.LTable); ok {
			lo, lok := tbl.RawGetInt(1).(lua.LNumber)
			hi, hok := tbl.RawGetInt(2).(lua.LNumber)
			if lok && hok {
				return int64(uint64(hi)<<32 | uint64(lo)), nil
			}
		}
	case wasm.ValueTypeF32:
		if n, ok := v.(lua.LNumber); ok {
			return float32(n), nil
		}
	case wasm.ValueTypeF64:
		if n, ok := v.(lua.LNumber); ok {
			return float64(n), nil
		}
	case wasm.ValueTypeFuncref, wasm.ValueTypeExternref:
		if v == lua.LNil {
			return nil, nil
		}
		return v, nil
	}
	return nil, fmt.Errorf("expected a Lua value of type %v, got %v", t, v.Type())
}
