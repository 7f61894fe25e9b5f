package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pyroscope-io/jitrec"
)

func newAttachCmd(a *app) *cobra.Command {
	var (
		pid        int
		profiler   string
		timeout    time.Duration
		clientData string
	)
	cmd := &cobra.Command{
		Use:   "attach --pid <pid>",
		Short: "Load the profiler into a running .NET process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if profiler == "" {
				profiler = a.cfg.ProfilerPath
			}
			if profiler == "" {
				return errors.New("profiler path is not configured, use --profiler")
			}
			log, addr, err := a.target(pid)
			if err != nil {
				return err
			}
			log.Debug("attaching profiler")
			err = jitrec.NewClient(addr).AttachProfiler(jitrec.AttachProfilerConfig{
				AttachTimeout: timeout,
				ProfilerGUID:  jitrec.ProfilerGUID,
				ProfilerPath:  profiler,
				ClientData:    []byte(clientData),
			})
			if err != nil {
				return fmt.Errorf("attach to %d: %w", pid, err)
			}
			log.Info("profiler attached")
			fmt.Fprintf(cmd.OutOrStdout(), "profiler attached to %d\n", pid)
			return nil
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "target process ID")
	cmd.Flags().StringVar(&profiler, "profiler", "", "profiler library path (default from configuration)")
	cmd.Flags().DurationVar(&timeout, "timeout", jitrec.DefaultAttachTimeout, "time the runtime waits for the profiler to load")
	cmd.Flags().StringVar(&clientData, "client-data", "", "opaque data handed to the profiler")
	_ = cmd.MarkFlagRequired("pid")
	return cmd
}

// target checks that pid is running and returns its diagnostics endpoint.
func (a *app) target(pid int) (logrus.FieldLogger, string, error) {
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return nil, "", err
	}
	if !exists {
		return nil, "", fmt.Errorf("no process with pid %d", pid)
	}
	log := a.log.WithField("pid", pid)
	if p, err := process.NewProcess(int32(pid)); err == nil {
		if name, err := p.Name(); err == nil {
			log = log.WithField("process", name)
		}
	}
	addr := jitrec.DefaultServerAddress(pid)
	if addr == "" {
		return nil, "", fmt.Errorf("process %d has no diagnostics endpoint", pid)
	}
	return log.WithField("endpoint", addr), addr, nil
}
