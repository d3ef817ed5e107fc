package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-stream/wasm"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func checkCommand() *cobra.Command {
	var chunkSize int
	var workers int

	command := &cobra.Command{
		Use:   "check [path to module]",
		Short: "Parse and validate a WebAssembly module",
		Long:  "Stream a WebAssembly binary through the parser in fixed-size chunks and report the validation outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}
			if chunkSize <= 0 {
				return fmt.Errorf("invalid chunk size %d", chunkSize)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			m, err := parseStream(f, chunkSize, workers)
			if err != nil {
				fmt.Printf("%s %s\n", failStyle.Render("FAIL"), args[0])
				return err
			}

			fmt.Printf("%s %s\n", okStyle.Render("OK"), args[0])
			fmt.Println(dimStyle.Render(fmt.Sprintf(
				"  %d types, %d functions (%d imported), %d tables, %d memories, %d globals, %d data segments",
				len(m.Types), m.NumFuncs(), m.NumImportedFuncs(),
				m.NumTables(), m.NumMemories(), m.NumGlobals(), len(m.Data),
			)))
			return nil
		},
	}

	command.Flags().IntVar(&chunkSize, "chunk", 64*1024, "chunk size in bytes for streaming the file")
	command.Flags().IntVar(&workers, "workers", 0, "body validation workers (0 = one per CPU)")

	return command
}

// parseStream pushes the reader's contents through a parser chunk by chunk.
func parseStream(r io.Reader, chunkSize, workers int) (*wasm.Module, error) {
	p := wasm.NewParser(wasm.WithWorkers(workers))
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if perr := p.Push(buf[:n]); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return p.Finish()
}
