package run

import (
	"bytes"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/wasm2lua/cmd/wasm2lua/compile"
	"github.com/pgavlin/wasm2lua/cmd/wasm2lua/config"
	"github.com/pgavlin/wasm2lua/exec"
	"github.com/pgavlin/wasm2lua/wasm"
)

func section(id byte, contents ...byte) []byte {
	return append([]byte{id, byte(len(contents))}, contents...)
}

// greeterModule is the binary encoding of
//
//	(module
//	  (import "spectest" "print_i32" (func $print (param i32)))
//	  (func (export "add") (param i32 i32) (result i32)
//	    local.get 0
//	    local.get 1
//	    call $print
//	    local.get 1
//	    i32.add))
func greeterModule() []byte {
	var b bytes.Buffer
	b.WriteString("\x00asm\x01\x00\x00\x00")
	b.Write(section(1, 0x02,
		0x60, 0x01, 0x7f, 0x00,
		0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	))
	b.Write(section(2, 0x01,
		0x08, 's', 'p', 'e', 'c', 't', 'e', 's', 't',
		0x09, 'p', 'r', 'i', 'n', 't', '_', 'i', '3', '2',
		0x00, 0x00,
	))
	b.Write(section(3, 0x01, 0x01))
	b.Write(section(7, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x01))
	b.Write(section(10, 0x01, 0x0b, 0x00, 0x20, 0x00, 0x20, 0x01, 0x10, 0x00, 0x20, 0x01, 0x6a, 0x0b))
	return b.Bytes()
}

func testContext(t *testing.T) (*config.Context, *bytes.Buffer) {
	log := logrus.New()
	log.Out = io.Discard

	var stdout bytes.Buffer
	ctx := &config.Context{
		FS:     afero.NewMemMapFs(),
		Stdout: &stdout,
		Stderr: io.Discard,
		Log:    log,
		Config: config.Default(),
	}
	require.NoError(t, afero.WriteFile(ctx.FS, "greeter.wasm", greeterModule(), 0o644))
	return ctx, &stdout
}

func TestParseArg(t *testing.T) {
	cases := []struct {
		t    wasm.ValueType
		s    string
		want interface{}
	}{
		{wasm.ValueTypeI32, "-7", int32(-7)},
		{wasm.ValueTypeI32, "0x10", int32(16)},
		{wasm.ValueTypeI32, "4294967295", int32(-1)},
		{wasm.ValueTypeI64, "-9223372036854775808", int64(math.MinInt64)},
		{wasm.ValueTypeI64, "18446744073709551615", int64(-1)},
		{wasm.ValueTypeF32, "1.5", float32(1.5)},
		{wasm.ValueTypeF64, "-0.25", -0.25},
	}
	for _, c := range cases {
		v, err := ParseArg(c.t, c.s)
		require.NoError(t, err, c.s)
		assert.Equal(t, c.want, v, c.s)
	}

	for _, c := range []struct {
		t wasm.ValueType
		s string
	}{
		{wasm.ValueTypeI32, "4294967296"},
		{wasm.ValueTypeI32, "seven"},
		{wasm.ValueTypeF64, "pi"},
		{wasm.ValueTypeFuncref, "0"},
	} {
		_, err := ParseArg(c.t, c.s)
		assert.Error(t, err, c.s)
	}
}

func TestRunCommand(t *testing.T) {
	ctx, stdout := testContext(t)

	cmd := Command(ctx)
	cmd.SetArgs([]string{"greeter.wasm", "add", "40", "2"})
	cmd.SetOut(io.Discard)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "2 : i32\n42 : i32\n", stdout.String())
}

func TestRunCommandErrors(t *testing.T) {
	ctx, _ := testContext(t)

	for _, args := range [][]string{
		{"greeter.wasm"},
		{"missing.wasm", "add"},
		{"greeter.wasm", "sub", "1", "2"},
		{"greeter.wasm", "add", "1"},
		{"greeter.wasm", "add", "1", "two"},
	} {
		cmd := Command(ctx)
		cmd.SetArgs(args)
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		assert.Error(t, cmd.Execute(), strings.Join(args, " "))
	}
}

func TestCompileCommand(t *testing.T) {
	ctx, stdout := testContext(t)

	cmd := compile.Command(ctx)
	cmd.SetArgs([]string{"greeter.wasm"})
	require.NoError(t, cmd.Execute())

	source, err := afero.ReadFile(ctx.FS, "greeter.lua")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(source), "-- Code generated by wasm2lua. DO NOT EDIT."))

	mod, err := exec.Load("greeter", string(source), nil)
	require.NoError(t, err)
	defer mod.Close()
	require.Len(t, mod.Exports, 1)
	assert.Equal(t, "add", mod.Exports[0].Name)

	ctx.Config.NamePrefix = "greet"
	cmd = compile.Command(ctx)
	cmd.SetArgs([]string{"greeter", "--out=-"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "greet_module")
}

func TestSpecTest(t *testing.T) {
	mod, err := exec.Load("empty", `return { imports = {}, exports = {}, instantiate = function() return { exports = {} } end }`, nil)
	require.NoError(t, err)
	defer mod.Close()

	var out bytes.Buffer
	host, err := SpecTest(mod, &out)
	require.NoError(t, err)

	for _, name := range []string{"print", "print_i32", "print_i64", "print_f32", "print_f64", "print_i32_f32", "print_f64_f64"} {
		assert.IsType(t, exec.HostFunction{}, host[name], name)
	}
	for _, name := range []string{"global_i32", "global_i64", "global_f32", "global_f64"} {
		assert.IsType(t, &exec.Global{}, host[name], name)
	}
	assert.IsType(t, &exec.Table{}, host["table"])
	assert.IsType(t, &exec.Memory{}, host["memory"])

	printI64 := host["print_i64"].(exec.HostFunction)
	_, err = printI64.Func([]interface{}{int64(-3)})
	require.NoError(t, err)
	assert.Equal(t, "-3 : i64\n", out.String())
}
