package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pyroscope-io/jitrec/shmflag"
)

func newFlagCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "flag",
		Short: "Create, set or read the shared enablement flag",
	}
	cmd.PersistentFlags().StringVar(&name, "name", "", "flag region name (default from configuration)")
	mapName := func() string {
		if name != "" {
			return name
		}
		return a.cfg.MapName
	}

	var enable bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create the flag and hold it until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := shmflag.Create(mapName())
			if err != nil {
				return err
			}
			defer r.Close()
			r.Enable(enable)
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %d, interrupt to remove\n", r.Name(), r.Get())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			<-ctx.Done()
			return nil
		},
	}
	create.Flags().BoolVar(&enable, "enable", false, "start with recording enabled")

	set := &cobra.Command{
		Use:   "set <on|off|value>",
		Short: "Enable or disable recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseFlagValue(args[0])
			if err != nil {
				return err
			}
			r, err := shmflag.OpenRegion(mapName())
			if err != nil {
				return err
			}
			defer r.Close()
			r.Set(v)
			a.log.WithField("map", r.Name()).Debugf("flag set to %d", v)
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the flag value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := shmflag.OpenRegion(mapName())
			if err != nil {
				return err
			}
			defer r.Close()
			v := r.Get()
			state := "enabled"
			if v == 0 {
				state = "disabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %d (%s)\n", r.Name(), v, state)
			return nil
		},
	}

	cmd.AddCommand(create, set, get)
	return cmd
}

func parseFlagValue(s string) (int32, error) {
	switch strings.ToLower(s) {
	case "on", "true", "enable":
		return 1, nil
	case "off", "false", "disable":
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid flag value %q", s)
	}
	return int32(v), nil
}
