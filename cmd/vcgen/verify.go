package main

import (
	"errors"
	"fmt"
	"go/token"
	"io"
	"time"

	"github.com/benbjohnson/vcgen"
	"github.com/benbjohnson/vcgen/air"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	errorStyle   = color.New(color.FgRed, color.Bold)
	okStyle      = color.New(color.FgGreen, color.Bold)
	unknownStyle = color.New(color.FgHiYellow, color.Bold)
	fileStyle    = color.New(color.FgCyan, color.Bold)
	labelStyle   = color.New(color.FgHiBlue)
)

func (m *Main) verifyCommand() *cobra.Command {
	var (
		split      bool
		recommends bool
		rlimit     uint64
		workers    int
		backend    string
		function   string
	)

	cmd := &cobra.Command{
		Use:   "verify [flags] PATH",
		Short: "Verify every function of a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("split") {
				m.Config.Split = split
			}
			if flags.Changed("recommends") {
				m.Config.CheckingRecommends = recommends
			}
			if flags.Changed("rlimit") {
				m.Config.RLimit = rlimit
			}
			if flags.Changed("workers") {
				m.Config.Workers = workers
			}
			if flags.Changed("backend") {
				m.Config.Solver.Backend = backend
			}

			ctx, err := m.load(args[0])
			if err != nil {
				return err
			}

			v := vcgen.NewVerifier(ctx)
			v.NewBackend = m.newBackend
			v.Logger = m.Logger

			var report *vcgen.Report
			if function != "" {
				report = &vcgen.Report{Functions: []*vcgen.FunctionResult{v.VerifyFunction(cmd.Context(), function)}}
			} else if report, err = v.Verify(cmd.Context()); err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), report)
			if !report.OK() {
				return ErrVerificationFailed
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&split, "split", false, "report failing conjuncts of compound assertions")
	flags.BoolVar(&recommends, "recommends", false, "check recommendations instead of obligations")
	flags.Uint64Var(&rlimit, "rlimit", vcgen.DefaultRLimit, "solver resource limit per query (0 disables)")
	flags.IntVar(&workers, "workers", 1, "number of functions verified in parallel")
	flags.StringVar(&backend, "backend", "z3", `solver backend: "z3" or "process"`)
	flags.StringVarP(&function, "function", "f", "", "verify a single function")
	return cmd
}

// printReport writes one line per function followed by its diagnostics
// and a summary line.
func printReport(w io.Writer, report *vcgen.Report) {
	for _, fr := range report.Functions {
		switch {
		case fr.Skipped:
			continue
		case fr.Err != nil:
			errorStyle.Fprint(w, "error")
			fmt.Fprintf(w, ": %s: %s\n", fr.Name, fr.Err)
			var ie *vcgen.InternalError
			if errors.As(fr.Err, &ie) {
				for _, frame := range ie.Stack {
					labelStyle.Fprintf(w, "  at %s\n", frame)
				}
			}
		case fr.Status == air.StatusValid:
			okStyle.Fprint(w, "verified")
			fmt.Fprintf(w, ": %s (%s)\n", fr.Name, fr.Elapsed.Round(time.Millisecond))
		case fr.Status == air.StatusInvalid:
			errorStyle.Fprint(w, "failed")
			fmt.Fprintf(w, ": %s\n", fr.Name)
			for _, diag := range fr.Errors {
				printDiagnostic(w, diag)
			}
		default:
			unknownStyle.Fprint(w, "unknown")
			fmt.Fprintf(w, ": %s: %s\n", fr.Name, fr.Reason)
		}
	}

	verified, failed, unknown := report.Counts()
	fmt.Fprintf(w, "verification results: %d verified, %d failed, %d unknown\n", verified, failed, unknown)
}

func printDiagnostic(w io.Writer, diag *air.Diagnostic) {
	errorStyle.Fprint(w, "  error")
	fmt.Fprintf(w, ": %s\n", diag.Message)
	if diag.Span.IsValid() {
		fmt.Fprint(w, "    --> ")
		fileStyle.Fprintln(w, formatPos(diag.Span))
	}
	for _, label := range diag.Labels {
		fmt.Fprint(w, "    ")
		labelStyle.Fprintf(w, "%s", formatPos(label.Span))
		fmt.Fprintf(w, ": %s\n", label.Message)
	}
}

func formatPos(pos token.Position) string {
	if !pos.IsValid() {
		return "-"
	}
	return pos.String()
}
