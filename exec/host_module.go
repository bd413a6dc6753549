package exec

import (
	"errors"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"github.com/pgavlin/wasm2lua/wasm"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

func wasmType(k reflect.Kind) wasm.ValueType {
	switch k {
	case reflect.Int32, reflect.Uint32:
		return wasm.ValueTypeI32
	case reflect.Int64, reflect.Uint64:
		return wasm.ValueTypeI64
	case reflect.Float32:
		return wasm.ValueTypeF32
	case reflect.Float64:
		return wasm.ValueTypeF64
	default:
		return 0
	}
}

// NewHostFunction wraps a Go function whose parameters and results are 32- or 64-bit integers or
// floats. The function may return a trailing error.
func NewHostFunction(fn interface{}) (HostFunction, error) {
	method := reflect.ValueOf(fn)
	t := method.Type()
	if t.Kind() != reflect.Func {
		return HostFunction{}, errors.New("host function must be a func")
	}

	params := make([]wasm.ValueType, t.NumIn())
	for i, n := 0, t.NumIn(); i < n; i++ {
		vt := wasmType(t.In(i).Kind())
		if vt == 0 {
			return HostFunction{}, fmt.Errorf("cannot export function with parameter type %v", t.In(i))
		}
		params[i] = vt
	}

	nout, hasError := t.NumOut(), false
	if nout > 0 && t.Out(nout-1) == errorType {
		nout, hasError = nout-1, true
	}
	returns := make([]wasm.ValueType, nout)
	for i := 0; i < nout; i++ {
		vt := wasmType(t.Out(i).Kind())
		if vt == 0 {
			return HostFunction{}, fmt.Errorf("cannot export function with return type %v", t.Out(i))
		}
		returns[i] = vt
	}

	call := func(args []interface{}) ([]interface{}, error) {
		vargs := make([]reflect.Value, len(args))
		for i, v := range args {
			vargs[i] = reflect.ValueOf(v).Convert(t.In(i))
		}

		vreturns := method.Call(vargs)
		if hasError {
			if err, _ := vreturns[nout].Interface().(error); err != nil {
				return nil, err
			}
		}

		returns := make([]interface{}, nout)
		for i, v := range vreturns[:nout] {
			switch t.Out(i).Kind() {
			case reflect.Uint32:
				returns[i] = int32(v.Uint())
			case reflect.Uint64:
				returns[i] = int64(v.Uint())
			case reflect.Int32:
				returns[i] = int32(v.Int())
			case reflect.Int64:
				returns[i] = v.Int()
			case reflect.Float32:
				returns[i] = float32(v.Float())
			default:
				returns[i] = v.Float()
			}
		}
		return returns, nil
	}

	return HostFunction{Type: wasm.FunctionSig{ParamTypes: params, ReturnTypes: returns}, Func: call}, nil
}

func isExported(n string) bool {
	r, _ := utf8.DecodeRuneInString(n)
	return unicode.IsUpper(r)
}

func exportName(n string) string {
	runes := []rune(n)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

// NewHostModule returns the import fields defined by the exported methods of v. Each method is
// exported under its name with the first letter lowered, so a method named Print_i32 is imported
// as print_i32.
func NewHostModule(v interface{}) (map[string]interface{}, error) {
	value := reflect.ValueOf(v)
	t := value.Type()

	fields := map[string]interface{}{}
	for i, n := 0, t.NumMethod(); i < n; i++ {
		name := t.Method(i).Name
		if !isExported(name) {
			continue
		}
		f, err := NewHostFunction(value.Method(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("%v: %w", name, err)
		}
		fields[exportName(name)] = f
	}
	return fields, nil
}
