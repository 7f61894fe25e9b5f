package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pyroscope-io/jitrec/eventpipe"
	"github.com/pyroscope-io/jitrec/jitlog"
)

var (
	methodColor  = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		dir        string
		tracePath  string
		uncompiled bool
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the methods recorded in a journal directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := jitlog.ReadDir(cmd.Context(), a.logDir(dir))
			if err != nil {
				return err
			}
			if err = a.symbolize(cmd.Context(), l, tracePath); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			methods, errs := l.Methods()
			for _, m := range methods {
				methodColor.Fprintf(out, "0x%X\t", m.FunctionID)
				if m.Name != "" {
					fmt.Fprintf(out, "%s\t%s\n", m, m.Name)
				} else {
					fmt.Fprintln(out, m)
				}
			}
			if uncompiled {
				for _, id := range l.Uncompiled() {
					warningColor.Fprintf(out, "0x%X\tentered without compilation record\n", id)
				}
			}
			for _, err := range append(l.Errors, errs...) {
				errorColor.Fprintln(out, err)
			}
			fmt.Fprintf(out, "%d methods, %d modules, %d errors\n", len(methods), len(l.Modules), len(l.Errors)+len(errs))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "journal directory (default from configuration)")
	cmd.Flags().StringVar(&tracePath, "trace", "", "NetTrace file naming the recorded methods")
	cmd.Flags().BoolVar(&uncompiled, "uncompiled", false, "also list entered functions missing from jit.json")
	return cmd
}

// symbolize names the methods of l from the NetTrace file at path, if any.
func (a *app) symbolize(ctx context.Context, l *jitlog.Log, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sym, err := eventpipe.ReadSymbols(ctx, f, a.log)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	n := l.Symbolize(sym)
	a.log.WithField("trace", path).WithField("named", n).Debug("methods symbolized")
	return nil
}
