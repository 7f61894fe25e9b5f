package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pyroscope-io/jitrec/journal"
	"github.com/pyroscope-io/jitrec/memhost"
	"github.com/pyroscope-io/jitrec/recorder"
)

func newReplayCmd(a *app) *cobra.Command {
	var (
		fixture string
		dir     string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "replay --fixture <file>",
		Short: "Run a recorded or hand written event script through the recorder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fx, err := memhost.LoadFixture(fixture)
			if err != nil {
				return err
			}
			out := a.logDir(dir)
			j := journal.Setup(out, journal.WithLogger(a.log))
			defer j.Close()

			options := append(a.cfg.RecorderOptions(a.log), recorder.WithGate(fx.Gate))
			r := recorder.New(j, options...)
			if err = r.Initialize(fx.Source); err != nil {
				return err
			}
			defer r.Close()

			n, err := fx.Replay(cmd.Context(), workers)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events into %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&fixture, "fixture", "", "TOML fixture file")
	cmd.Flags().StringVar(&dir, "dir", "", "journal directory (default from configuration)")
	cmd.Flags().IntVar(&workers, "workers", 1, "concurrent event deliveries")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}
