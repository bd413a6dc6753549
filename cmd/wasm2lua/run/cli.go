package run

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/pgavlin/wasm2lua/cmd/wasm2lua/compile"
	"github.com/pgavlin/wasm2lua/cmd/wasm2lua/config"
	"github.com/pgavlin/wasm2lua/compiler/source/lua"
	"github.com/pgavlin/wasm2lua/exec"
	"github.com/pgavlin/wasm2lua/wasm"
	"github.com/spf13/cobra"
)

// ParseArg parses a command-line argument as a value of the given type. Integers may be written
// in any base accepted by strconv and may be unsigned.
func ParseArg(t wasm.ValueType, s string) (interface{}, error) {
	switch t {
	case wasm.ValueTypeI32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return int32(v), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		return int32(v), err
	case wasm.ValueTypeI64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return v, nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		return int64(v), err
	case wasm.ValueTypeF32:
		v, err := strconv.ParseFloat(s, 32)
		return float32(v), err
	case wasm.ValueTypeF64:
		return strconv.ParseFloat(s, 64)
	default:
		return nil, fmt.Errorf("cannot pass a %v argument from the command line", t)
	}
}

func Command(ctx *config.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "run [path to module] [export] [args...]",
		Short: "Compile and run a WebAssembly module",
		Long: "Compile a WebAssembly module, instantiate it in an embedded Lua interpreter with the spectest and env " +
			"host modules, call the named export and print its results",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return errors.New("expected a module path and an export name")
			}

			mod, err := ctx.LoadModule(args[0])
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := lua.CompileModule(&buf, mod, ctx.CompilerOptions(mod)); err != nil {
				return err
			}

			m, err := exec.Load(compile.BaseName(args[0]), buf.String(), &exec.Options{Logger: ctx.Log})
			if err != nil {
				return err
			}
			defer m.Close()

			host, err := SpecTest(m, ctx.Stdout)
			if err != nil {
				return err
			}
			inst, err := m.Instantiate(exec.Imports{"spectest": host, "env": host})
			if err != nil {
				return err
			}

			name := args[1]
			var sig wasm.FunctionSig
			found := false
			for _, e := range m.Exports {
				if e.Name == name && e.Kind == wasm.ExternalFunction {
					if sig, err = e.Signature(); err != nil {
						return err
					}
					found = true
				}
			}
			if !found {
				return fmt.Errorf("module does not export a function named %q", name)
			}

			callArgs := args[2:]
			if len(callArgs) != len(sig.ParamTypes) {
				return fmt.Errorf("%s expects %d arguments, got %d", name, len(sig.ParamTypes), len(callArgs))
			}
			values := make([]interface{}, len(callArgs))
			for i, t := range sig.ParamTypes {
				if values[i], err = ParseArg(t, callArgs[i]); err != nil {
					return fmt.Errorf("argument %d: %w", i, err)
				}
			}

			results, err := inst.Call(name, values...)
			if err != nil {
				return err
			}
			for i, r := range results {
				fmt.Fprintf(ctx.Stdout, "%v : %v\n", r, sig.ReturnTypes[i])
			}
			return nil
		},
	}
}
