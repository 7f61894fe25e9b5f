package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pyroscope-io/jitrec/config"
)

// app holds what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	colorMode  string

	cfg config.Config
	log *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "jitrec",
		Short:        "Record which .NET methods get compiled and entered",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "TOML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "diagnostics log level (overrides configuration)")
	root.PersistentFlags().StringVar(&a.colorMode, "color", "auto", "colorize output (auto|on|off)")

	root.AddCommand(
		newFlagCmd(a),
		newLaunchCmd(a),
		newAttachCmd(a),
		newCollectCmd(a),
		newInspectCmd(a),
		newExportCmd(a),
		newReplayCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	var err error
	if a.configPath != "" {
		if a.cfg, err = config.LoadFile(a.configPath); err != nil {
			return err
		}
	} else {
		a.cfg, err = config.FromEnv()
	}
	if a.logLevel != "" {
		a.cfg.LogLevel = a.logLevel
	}
	a.log = a.cfg.NewLogger()
	a.log.SetOutput(cmd.ErrOrStderr())
	if err != nil {
		a.log.WithError(err).Warn("environment file ignored")
	}

	switch strings.ToLower(a.colorMode) {
	case "auto":
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("unsupported color mode %q (must be auto, on or off)", a.colorMode)
	}
	return nil
}

// logDir returns dir, or the configured log directory when dir is empty.
func (a *app) logDir(dir string) string {
	if dir != "" {
		return dir
	}
	return a.cfg.LogDir
}
