package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pgavlin/wasm2lua/cmd/wasm2lua/compile"
	"github.com/pgavlin/wasm2lua/cmd/wasm2lua/config"
	"github.com/pgavlin/wasm2lua/cmd/wasm2lua/run"
	"github.com/pgavlin/wasm2lua/cmd/wasm2lua/stats"
)

var version = "<unknown>"

func configureCLI(ctx *config.Context) *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "wasm2lua",
		Short:         "wasm2lua WebAssembly to Lua compiler",
		Long:          "wasm2lua - compile WebAssembly modules to self-contained Lua 5.1 source",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.Configure(cmd.Flags())
		},
	}

	rootCommand.AddCommand(compile.Command(ctx))
	rootCommand.AddCommand(stats.Command(ctx))
	rootCommand.AddCommand(run.Command(ctx))

	config.RegisterFlags(rootCommand.PersistentFlags())

	return rootCommand
}

func main() {
	ctx := config.NewContext()
	rootCommand := configureCLI(ctx)

	if err := rootCommand.Execute(); err != nil {
		color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "error: ")
		color.New(color.FgRed).Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
