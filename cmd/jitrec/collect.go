package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pyroscope-io/jitrec"
	"github.com/pyroscope-io/jitrec/eventpipe"
	"github.com/pyroscope-io/jitrec/journal"
	"github.com/pyroscope-io/jitrec/nettrace"
	"github.com/pyroscope-io/jitrec/recorder"
)

func newCollectCmd(a *app) *cobra.Command {
	var (
		pid       int
		dir       string
		tracePath string
		duration  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "collect --pid <pid>",
		Short: "Record JIT compilations of a running .NET process through EventPipe",
		Long: "Record JIT compilations of a running .NET process through EventPipe.\n" +
			"Methods compiled before the session started are reported by the rundown\n" +
			"when the session stops. Function entry is not recorded.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, addr, err := a.target(pid)
			if err != nil {
				return err
			}
			sess, err := jitrec.NewClient(addr).CollectTracing(jitrec.JITTracingConfig())
			if err != nil {
				return fmt.Errorf("start session in %d: %w", pid, err)
			}
			defer sess.Close()
			log = log.WithField("session", sess.ID)

			var r io.Reader = sess
			if tracePath != "" {
				f, err := os.Create(tracePath)
				if err != nil {
					return err
				}
				defer f.Close()
				r = io.TeeReader(sess, f)
			}

			// The rundown is only written once the session is stopped:
			// the stream is read to its end whatever stopped it.
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if duration > 0 {
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-ctx.Done():
					log.Debug("stopping session")
					if err := sess.Stop(); err != nil {
						log.WithError(err).Warn("session stop failed")
					}
				case <-done:
				}
			}()

			stream := nettrace.NewStream(r)
			tr, err := stream.Open()
			if err != nil {
				return err
			}
			log.WithField("trace_pid", tr.ProcessID).Info("session started")

			out := a.logDir(dir)
			j := journal.Setup(out, journal.WithLogger(a.log))
			defer j.Close()
			src := eventpipe.NewSource(stream, eventpipe.WithLogger(log))
			rec := recorder.New(j, a.cfg.RecorderOptions(a.log)...)
			if err = rec.Initialize(src); err != nil {
				return err
			}
			defer rec.Close()

			if err = src.Run(cmd.Context()); err != nil {
				return err
			}
			if n := src.Skipped(); n > 0 {
				log.WithField("skipped", n).Warn("malformed events skipped")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "collected %d compilations of %d methods from %d into %s\n",
				src.Compilations(), src.Symbols().Len(), pid, out)
			return nil
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "target process ID")
	cmd.Flags().StringVar(&dir, "dir", "", "journal directory (default from configuration)")
	cmd.Flags().StringVar(&tracePath, "trace", "", "also write the raw NetTrace stream to this file")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop the session after this long (default until interrupted)")
	_ = cmd.MarkFlagRequired("pid")
	return cmd
}
