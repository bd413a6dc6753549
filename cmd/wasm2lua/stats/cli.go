package stats

import (
	"encoding/csv"
	"errors"

	"github.com/jszwec/csvutil"
	"github.com/pgavlin/wasm2lua/cmd/wasm2lua/config"
	"github.com/pgavlin/wasm2lua/compiler/source/lua"
	"github.com/spf13/cobra"
)

func Command(ctx *config.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [path to module]",
		Short: "Print per-function code generation statistics",
		Long:  "Compile a WebAssembly module and print per-function statistics of the generated Lua as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}

			mod, err := ctx.LoadModule(args[0])
			if err != nil {
				return err
			}

			stats, err := lua.Analyze(mod, ctx.CompilerOptions(mod))
			if err != nil {
				return err
			}

			csvWriter := csv.NewWriter(ctx.Stdout)
			encoder := csvutil.NewEncoder(csvWriter)
			if len(stats) == 0 {
				if err := encoder.EncodeHeader(lua.FunctionStats{}); err != nil {
					return err
				}
			}
			for _, s := range stats {
				if err := encoder.Encode(s); err != nil {
					return err
				}
			}
			csvWriter.Flush()
			return csvWriter.Error()
		},
	}
}
