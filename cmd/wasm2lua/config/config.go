// Package config loads the settings shared by the wasm2lua subcommands.
//
// Settings are layered. Built-in defaults are overridden by the YAML file named by --config, which
// is overridden by WASM2LUA_* environment variables, which are overridden by explicitly set flags.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pgavlin/wasm2lua/compiler/source/lua"
	"github.com/pgavlin/wasm2lua/ir"
	"github.com/pgavlin/wasm2lua/load"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of a wasm2lua invocation. Zero values are unset.
type Config struct {
	NamePrefix       string `yaml:"namePrefix" envconfig:"NAME_PREFIX"`
	DebugNames       *bool  `yaml:"debugNames" envconfig:"DEBUG_NAMES"`
	MaxMemoryPages   uint32 `yaml:"maxMemoryPages" envconfig:"MAX_MEMORY_PAGES"`
	MaxTableElements uint32 `yaml:"maxTableElements" envconfig:"MAX_TABLE_ELEMENTS"`
	Verbose          *bool  `yaml:"verbose" envconfig:"VERBOSE"`
}

func boolPtr(b bool) *bool {
	return &b
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DebugNames:       boolPtr(true),
		MaxMemoryPages:   65536,
		MaxTableElements: lua.DefaultMaxTableElements,
		Verbose:          boolPtr(false),
	}
}

// Apply returns c with every setting that is set in cfg overridden.
func (c Config) Apply(cfg Config) Config {
	if cfg.NamePrefix != "" {
		c.NamePrefix = cfg.NamePrefix
	}
	if cfg.DebugNames != nil {
		c.DebugNames = cfg.DebugNames
	}
	if cfg.MaxMemoryPages != 0 {
		c.MaxMemoryPages = cfg.MaxMemoryPages
	}
	if cfg.MaxTableElements != 0 {
		c.MaxTableElements = cfg.MaxTableElements
	}
	if cfg.Verbose != nil {
		c.Verbose = cfg.Verbose
	}
	return c
}

// ReadFile reads a YAML configuration file. A missing file is an error.
func ReadFile(fs afero.Fs, path string) (Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Config{}, err
	}

	var conf Config
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return Config{}, fmt.Errorf("%v: %w", path, err)
	}
	return conf, nil
}

// ReadEnv reads the configuration from WASM2LUA_* environment variables.
func ReadEnv() (conf Config, err error) {
	err = envconfig.Process("wasm2lua", &conf)
	return conf, err
}

// Flag names bound by RegisterFlags.
const (
	FlagConfig         = "config"
	FlagVerbose        = "verbose"
	FlagNamePrefix     = "name-prefix"
	FlagNoDebugNames   = "no-debug-names"
	FlagMaxMemoryPages = "max-memory-pages"
)

// RegisterFlags adds the configuration flags to the given flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(FlagConfig, "", "path to a YAML configuration file")
	flags.BoolP(FlagVerbose, "v", false, "log debug output")
	flags.StringP(FlagNamePrefix, "n", "", "the prefix of every generated global name. Defaults to the module name, else "+lua.DefaultNamePrefix)
	flags.Bool(FlagNoDebugNames, false, "ignore the module's name section when naming functions")
	flags.Uint32(FlagMaxMemoryPages, 0, "the maximum number of pages of a memory without a declared maximum")
}

// ReadFlags returns the configuration set by explicitly changed flags.
func ReadFlags(flags *pflag.FlagSet) (Config, error) {
	var conf Config
	if flags.Changed(FlagNamePrefix) {
		v, err := flags.GetString(FlagNamePrefix)
		if err != nil {
			return Config{}, err
		}
		conf.NamePrefix = v
	}
	if flags.Changed(FlagNoDebugNames) {
		v, err := flags.GetBool(FlagNoDebugNames)
		if err != nil {
			return Config{}, err
		}
		conf.DebugNames = boolPtr(!v)
	}
	if flags.Changed(FlagMaxMemoryPages) {
		v, err := flags.GetUint32(FlagMaxMemoryPages)
		if err != nil {
			return Config{}, err
		}
		conf.MaxMemoryPages = v
	}
	if flags.Changed(FlagVerbose) {
		v, err := flags.GetBool(FlagVerbose)
		if err != nil {
			return Config{}, err
		}
		conf.Verbose = boolPtr(v)
	}
	return conf, nil
}

// Load layers the defaults, the configuration file named by the --config flag, the environment
// and the changed flags.
func Load(fs afero.Fs, flags *pflag.FlagSet) (Config, error) {
	conf := Default()

	path, err := flags.GetString(FlagConfig)
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		fileConf, err := ReadFile(fs, path)
		if err != nil {
			return Config{}, err
		}
		conf = conf.Apply(fileConf)
	}

	envConf, err := ReadEnv()
	if err != nil {
		return Config{}, err
	}
	conf = conf.Apply(envConf)

	flagConf, err := ReadFlags(flags)
	if err != nil {
		return Config{}, err
	}
	return conf.Apply(flagConf), nil
}

// Context carries the state shared by the subcommands.
type Context struct {
	FS     afero.Fs
	Stdout io.Writer
	Stderr io.Writer
	Log    *logrus.Logger
	Config Config
}

// NewContext returns a context for the host's filesystem and standard streams.
func NewContext() *Context {
	return &Context{
		FS:     afero.NewOsFs(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Log: &logrus.Logger{
			Out:       os.Stderr,
			Formatter: new(logrus.TextFormatter),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
		Config: Default(),
	}
}

// Configure loads the configuration from the given flags and applies it to the context.
func (c *Context) Configure(flags *pflag.FlagSet) error {
	conf, err := Load(c.FS, flags)
	if err != nil {
		return err
	}
	c.Config = conf
	if conf.Verbose != nil && *conf.Verbose {
		c.Log.SetLevel(logrus.DebugLevel)
	}
	return nil
}

// LoadModule loads the module at the given path.
func (c *Context) LoadModule(path string) (*ir.Module, error) {
	m, err := load.LoadFile(c.FS, path)
	if err != nil {
		return nil, err
	}
	c.Log.WithFields(logrus.Fields{
		"path":      path,
		"functions": len(m.Functions),
		"exports":   len(m.Exports),
	}).Debug("loaded module")
	return m, nil
}

// CompilerOptions returns the compiler options for the given module.
func (c *Context) CompilerOptions(m *ir.Module) *lua.Options {
	prefix := c.Config.NamePrefix
	if prefix == "" {
		if name := lua.SanitizeName(m.Name); lua.IsIdentifier(name) {
			prefix = name
		}
	}

	return &lua.Options{
		NamePrefix:        prefix,
		IncludeDebugNames: c.Config.DebugNames == nil || *c.Config.DebugNames,
		MaxMemoryPages:    c.Config.MaxMemoryPages,
		MaxTableElements:  c.Config.MaxTableElements,
		Logger:            c.Log,
	}
}
