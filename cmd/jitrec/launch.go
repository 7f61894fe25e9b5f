package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pyroscope-io/jitrec"
	"github.com/pyroscope-io/jitrec/config"
	"github.com/pyroscope-io/jitrec/jitlog"
	"github.com/pyroscope-io/jitrec/shmflag"
)

// stopGrace is how long a launched process keeps running after recording
// has been disabled on interrupt.
const stopGrace = time.Second

type launchOptions struct {
	dir      string
	mapName  string
	profiler string
	enable   bool
}

func newLaunchCmd(a *app) *cobra.Command {
	var o launchOptions
	cmd := &cobra.Command{
		Use:   "launch [flags] -- <program> [args...]",
		Short: "Start a .NET program with the JIT recorder profiler loaded",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.launch(cmd, o, args)
		},
	}
	cmd.Flags().StringVar(&o.dir, "dir", "", "journal directory (default from configuration)")
	cmd.Flags().StringVar(&o.mapName, "name", "", "flag region name (default from configuration)")
	cmd.Flags().StringVar(&o.profiler, "profiler", "", "profiler library path (default from configuration)")
	cmd.Flags().BoolVar(&o.enable, "enable", true, "start with recording enabled")
	return cmd
}

// profilerEnviron returns the variables that make the runtime load the
// profiler and configure it.
func profilerEnviron(cfg config.Config) []string {
	return append([]string{
		"CORECLR_ENABLE_PROFILING=1",
		"CORECLR_PROFILER=" + jitrec.ProfilerGUID,
		"CORECLR_PROFILER_PATH=" + cfg.ProfilerPath,
		"DOTNET_EnableDiagnostics=1",
		"DOTNET_EnableDiagnostics_Profiler=1",
	}, cfg.Environ()...)
}

func (a *app) launch(cmd *cobra.Command, o launchOptions, args []string) error {
	cfg := a.cfg
	cfg.LogDir = a.logDir(o.dir)
	if o.mapName != "" {
		cfg.MapName = o.mapName
	}
	if o.profiler != "" {
		cfg.ProfilerPath = o.profiler
	}
	if cfg.ProfilerPath == "" {
		return errors.New("profiler path is not configured, use --profiler")
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return err
	}

	region, err := shmflag.Create(cfg.MapName)
	if err != nil {
		return err
	}
	defer region.Close()
	region.Enable(o.enable)

	c := exec.Command(args[0], args[1:]...)
	c.Env = append(os.Environ(), profilerEnviron(cfg)...)
	c.Stdin = cmd.InOrStdin()
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()
	if err = c.Start(); err != nil {
		return err
	}
	log := a.log.WithFields(logrus.Fields{"pid": c.Process.Pid, "dir": cfg.LogDir, "map": cfg.MapName})
	log.Info("process started")

	done := make(chan error, 1)
	go func() { done <- c.Wait() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	select {
	case err = <-done:
	case <-ctx.Done():
		region.Enable(false)
		select {
		case err = <-done:
		case <-time.After(stopGrace):
			_ = c.Process.Kill()
			err = <-done
		}
	}
	if err != nil {
		log.WithError(err).Warn("process exited")
	}

	l, rerr := jitlog.ReadDir(context.Background(), cfg.LogDir)
	if rerr != nil {
		return rerr
	}
	methods, errs := l.Methods()
	fmt.Fprintf(cmd.OutOrStdout(), "%d methods recorded in %s (%d unresolved)\n", len(methods), cfg.LogDir, len(errs))
	return nil
}
