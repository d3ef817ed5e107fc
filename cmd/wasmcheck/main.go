package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-stream/wasm"
)

var version = "<unknown>"

func configureCLI() *cobra.Command {
	var verbose bool

	rootCommand := &cobra.Command{
		Use:           "wasmcheck",
		Short:         "wasmcheck WebAssembly validator",
		Long:          "wasmcheck - streaming parser and validator for WebAssembly binaries",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logger, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				wasm.SetLogger(logger)
			}
			return nil
		},
	}

	rootCommand.AddCommand(checkCommand())
	rootCommand.AddCommand(statsCommand())

	rootCommand.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log parser progress")

	return rootCommand
}

func main() {
	rootCommand := configureCLI()

	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
