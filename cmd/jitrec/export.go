package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pyroscope-io/jitrec/jitlog"
)

func newExportCmd(a *app) *cobra.Command {
	var dir, dbPath, tracePath string
	cmd := &cobra.Command{
		Use:   "export --db <file>",
		Short: "Write a journal directory into a SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			l, err := jitlog.ReadDir(cmd.Context(), a.logDir(dir))
			if err != nil {
				return err
			}
			if err = a.symbolize(cmd.Context(), l, tracePath); err != nil {
				return err
			}
			for _, err := range l.Errors {
				a.log.WithError(err).Warn("skipped")
			}
			db, err := jitlog.OpenDB(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			stats, err := jitlog.Export(cmd.Context(), db, l)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d modules, %d methods, %d type arguments to %s\n",
				stats.Modules, stats.Methods, stats.TypeArgs, dbPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "journal directory (default from configuration)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database file")
	cmd.Flags().StringVar(&tracePath, "trace", "", "NetTrace file naming the recorded methods")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}
