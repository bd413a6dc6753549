package compile

import (
	"bytes"
	"errors"
	"path/filepath"

	"github.com/pgavlin/wasm2lua/cmd/wasm2lua/config"
	"github.com/pgavlin/wasm2lua/compiler/source/lua"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// BaseName returns the name of the given path without its directory or extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func Command(ctx *config.Context) *cobra.Command {
	var outputPath string

	command := &cobra.Command{
		Use:   "compile [path to module]",
		Short: "Compile a WebAssembly module to Lua source",
		Long:  "Compile a binary WebAssembly module to a self-contained Lua 5.1 source file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}

			mod, err := ctx.LoadModule(args[0])
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := lua.CompileModule(&buf, mod, ctx.CompilerOptions(mod)); err != nil {
				return err
			}

			switch outputPath {
			case "-":
				_, err = ctx.Stdout.Write(buf.Bytes())
				return err
			case "":
				outputPath = BaseName(args[0]) + ".lua"
			}
			ctx.Log.WithField("path", outputPath).Debug("writing output")
			return afero.WriteFile(ctx.FS, outputPath, buf.Bytes(), 0644)
		},
	}

	command.Flags().StringVarP(&outputPath, "out", "o", "", "the path for the output file, or '-' for stdout. Defaults to the name of the input file + '.lua'")

	return command
}
