package main

import (
	"errors"
	"os"

	"github.com/jszwec/csvutil"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-stream/wasm"
)

// statRow is one function's worth of stats output.
type statRow struct {
	Funcidx    uint32 `csv:"funcidx"`
	TypeIdx    uint32 `csv:"typeidx"`
	In         int    `csv:"in"`
	Out        int    `csv:"out"`
	LocalCount uint32 `csv:"local count"`
	BodyBytes  int    `csv:"body bytes"`
	Exported   bool   `csv:"exported"`
}

func statsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "stats [path to module]",
		Short: "Dump per-function statistics as CSV",
		Long:  "Validate a WebAssembly binary and emit one CSV row per declared function",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("expected exactly one argument")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			m, err := wasm.ParseModule(data)
			if err != nil {
				return err
			}

			exported := make(map[uint32]bool)
			for _, e := range m.Exports {
				if e.Kind == wasm.KindFunc {
					exported[e.Idx] = true
				}
			}

			rows := make([]statRow, 0, len(m.Code))
			for i, body := range m.Code {
				funcIdx := m.NumImportedFuncs() + uint32(i)
				typeIdx := m.Funcs[i]
				ft := m.Types[typeIdx]

				var localCount uint32
				for _, group := range body.Locals {
					localCount += group.Count
				}

				rows = append(rows, statRow{
					Funcidx:    funcIdx,
					TypeIdx:    typeIdx,
					In:         len(ft.Params),
					Out:        len(ft.Results),
					LocalCount: localCount,
					BodyBytes:  len(body.Code),
					Exported:   exported[funcIdx],
				})
			}

			out, err := csvutil.Marshal(rows)
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}

	return command
}
