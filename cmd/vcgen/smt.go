package main

import (
	"strconv"

	"github.com/benbjohnson/vcgen/air"
	"github.com/spf13/cobra"
)

func (m *Main) smtCommand() *cobra.Command {
	var split bool

	cmd := &cobra.Command{
		Use:   "smt [flags] PATH",
		Short: "Print the SMT-LIB 2 commands for a program",
		Long: `
Prints the commands sent to the solver for each function. Only the first
check of each query is written; failing queries are checked again per
assertion by the verify command.
`[1:],
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := m.load(args[0])
			if err != nil {
				return err
			}

			w := air.NewWriter(cmd.OutOrStdout())
			if m.Config.RLimit > 0 {
				if err := w.SetOption("rlimit", strconv.FormatUint(m.Config.RLimit, 10)); err != nil {
					return err
				}
			}

			for _, fn := range ctx.Program().Functions {
				sst, err := ctx.LowerFunction(fn.Name, split)
				if err != nil {
					return err
				}
				cmds, err := ctx.Emit(sst, split)
				if err != nil {
					return err
				} else if len(cmds) == 0 {
					continue
				}

				if err := w.Comment("function " + fn.Name); err != nil {
					return err
				}
				runner := air.NewRunner(w)
				runner.Logger = m.Logger
				if _, err := runner.Run(cmd.Context(), cmds); err != nil {
					return err
				}
			}
			return w.Close()
		},
	}

	cmd.Flags().BoolVar(&split, "split", false, "emit split assertions")
	return cmd
}
