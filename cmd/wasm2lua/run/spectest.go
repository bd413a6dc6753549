package run

import (
	"fmt"
	"io"

	"github.com/pgavlin/wasm2lua/exec"
	"github.com/pgavlin/wasm2lua/wasm"
)

// specTest implements the host functions of the spectest module.
type specTest struct {
	w io.Writer
}

func (st *specTest) Print() {
}

func (st *specTest) Print_i32(param int32) {
	fmt.Fprintf(st.w, "%d : i32\n", param)
}

func (st *specTest) Print_i64(param int64) {
	fmt.Fprintf(st.w, "%d : i64\n", param)
}

func (st *specTest) Print_f32(param float32) {
	fmt.Fprintf(st.w, "%v : f32\n", param)
}

func (st *specTest) Print_f64(param float64) {
	fmt.Fprintf(st.w, "%v : f64\n", param)
}

func (st *specTest) Print_i32_f32(param int32, param1 float32) {
	fmt.Fprintf(st.w, "%d : i32\n%v : f32\n", param, param1)
}

func (st *specTest) Print_f64_f64(param, param1 float64) {
	fmt.Fprintf(st.w, "%v : f64\n%v : f64\n", param, param1)
}

// SpecTest returns the import fields of the spectest host module for the given module. Printing
// functions write to w.
func SpecTest(m *exec.Module, w io.Writer) (map[string]interface{}, error) {
	fields, err := exec.NewHostModule(&specTest{w: w})
	if err != nil {
		return nil, err
	}

	globals := []struct {
		name  string
		typ   wasm.ValueType
		value interface{}
	}{
		{"global_i32", wasm.ValueTypeI32, int32(666)},
		{"global_i64", wasm.ValueTypeI64, int64(666)},
		{"global_f32", wasm.ValueTypeF32, float32(666.6)},
		{"global_f64", wasm.ValueTypeF64, float64(666.6)},
	}
	for _, g := range globals {
		global, err := m.NewGlobal(wasm.GlobalVar{Type: g.typ}, g.value)
		if err != nil {
			return nil, err
		}
		fields[g.name] = global
	}

	fields["table"] = m.NewTable(10, 20)
	fields["memory"] = m.NewMemory(1, 2)
	return fields, nil
}
