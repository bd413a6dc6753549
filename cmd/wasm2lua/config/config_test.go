package config

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgavlin/wasm2lua/compiler/source/lua"
	"github.com/pgavlin/wasm2lua/ir"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestDefaults(t *testing.T) {
	conf, err := Load(afero.NewMemMapFs(), newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), conf)
	assert.True(t, *conf.DebugNames)
	assert.False(t, *conf.Verbose)
}

func TestLayering(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/wasm2lua.yaml", []byte(`
namePrefix: fromfile
debugNames: false
maxMemoryPages: 256
maxTableElements: 1024
`), 0o644))

	conf, err := Load(fs, newFlags(t, "--config", "/etc/wasm2lua.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "fromfile", conf.NamePrefix)
	assert.False(t, *conf.DebugNames)
	assert.Equal(t, uint32(256), conf.MaxMemoryPages)
	assert.Equal(t, uint32(1024), conf.MaxTableElements)

	t.Setenv("WASM2LUA_NAME_PREFIX", "fromenv")
	t.Setenv("WASM2LUA_MAX_MEMORY_PAGES", "128")

	conf, err = Load(fs, newFlags(t, "--config", "/etc/wasm2lua.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "fromenv", conf.NamePrefix)
	assert.Equal(t, uint32(128), conf.MaxMemoryPages)
	assert.Equal(t, uint32(1024), conf.MaxTableElements)

	conf, err = Load(fs, newFlags(t, "--config", "/etc/wasm2lua.yaml", "-n", "fromflag", "--max-memory-pages", "64", "-v"))
	require.NoError(t, err)
	assert.Equal(t, "fromflag", conf.NamePrefix)
	assert.Equal(t, uint32(64), conf.MaxMemoryPages)
	assert.True(t, *conf.Verbose)
	assert.False(t, *conf.DebugNames)

	conf, err = Load(fs, newFlags(t, "--no-debug-names=false"))
	require.NoError(t, err)
	assert.True(t, *conf.DebugNames)
}

func TestLoadErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := Load(fs, newFlags(t, "--config", "/missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("namePrefix: [1, 2"), 0o644))
	_, err = Load(fs, newFlags(t, "--config", "/bad.yaml"))
	assert.Error(t, err)

	t.Setenv("WASM2LUA_MAX_MEMORY_PAGES", "lots")
	_, err = Load(fs, newFlags(t))
	assert.Error(t, err)
}

func testContext() *Context {
	log := logrus.New()
	log.Out = io.Discard
	return &Context{FS: afero.NewMemMapFs(), Stdout: io.Discard, Stderr: io.Discard, Log: log, Config: Default()}
}

func TestConfigure(t *testing.T) {
	ctx := testContext()
	require.NoError(t, ctx.Configure(newFlags(t, "-v")))
	assert.Equal(t, logrus.DebugLevel, ctx.Log.Level)
}

func TestCompilerOptions(t *testing.T) {
	ctx := testContext()

	opts := ctx.CompilerOptions(&ir.Module{Name: "my-module"})
	assert.Equal(t, "my_module", opts.NamePrefix)
	assert.True(t, opts.IncludeDebugNames)
	assert.Equal(t, uint32(lua.DefaultMaxTableElements), opts.MaxTableElements)

	opts = ctx.CompilerOptions(&ir.Module{Name: "3d"})
	assert.Equal(t, "", opts.NamePrefix)

	opts = ctx.CompilerOptions(&ir.Module{})
	assert.Equal(t, "", opts.NamePrefix)

	ctx.Config.NamePrefix = "explicit"
	ctx.Config.DebugNames = boolPtr(false)
	opts = ctx.CompilerOptions(&ir.Module{Name: "ignored"})
	assert.Equal(t, "explicit", opts.NamePrefix)
	assert.False(t, opts.IncludeDebugNames)
}
