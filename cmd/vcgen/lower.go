package main

import (
	"fmt"
	"io"

	"github.com/alecthomas/repr"
	"github.com/benbjohnson/vcgen"
	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
)

func (m *Main) lowerCommand() *cobra.Command {
	var (
		format   string
		function string
		split    bool
	)

	cmd := &cobra.Command{
		Use:   "lower [flags] PATH",
		Short: "Print the lowered form of each function",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			printFn, err := lowerPrinter(format)
			if err != nil {
				return err
			}

			ctx, err := m.load(args[0])
			if err != nil {
				return err
			}

			var fns []*vcgen.FunctionSst
			if function != "" {
				fn, err := ctx.LowerFunction(function, split)
				if err != nil {
					return err
				}
				fns = append(fns, fn)
			} else {
				for _, f := range ctx.Program().Functions {
					fn, err := ctx.LowerFunction(f.Name, split)
					if err != nil {
						return err
					}
					fns = append(fns, fn)
				}
			}

			w := cmd.OutOrStdout()
			for i, fn := range fns {
				if i > 0 {
					fmt.Fprintln(w)
				}
				printFn(w, fn)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&format, "format", "sexp", "output format: sexp, repr, spew")
	flags.StringVarP(&function, "function", "f", "", "lower a single function")
	flags.BoolVar(&split, "split", false, "lower with split assertions")
	return cmd
}

// lowerPrinter returns the function that writes a lowered function in format.
func lowerPrinter(format string) (func(io.Writer, *vcgen.FunctionSst), error) {
	switch format {
	case "", "sexp":
		return func(w io.Writer, fn *vcgen.FunctionSst) {
			fmt.Fprintln(w, fn.String())
		}, nil
	case "repr":
		return func(w io.Writer, fn *vcgen.FunctionSst) {
			fmt.Fprintln(w, repr.String(fn, repr.Indent("  "), repr.OmitEmpty(true)))
		}, nil
	case "spew":
		config := &spew.ConfigState{
			Indent:                  "  ",
			DisableMethods:          true,
			DisablePointerAddresses: true,
			DisableCapacities:       true,
			SortKeys:                true,
		}
		return func(w io.Writer, fn *vcgen.FunctionSst) {
			config.Fdump(w, fn)
		}, nil
	default:
		return nil, fmt.Errorf("unknown format: %q", format)
	}
}
