package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/readerline/notifyengine/cmd/config"
	"github.com/readerline/notifyengine/cmd/devserver"
	"github.com/readerline/notifyengine/cmd/evaluate"
	"github.com/readerline/notifyengine/cmd/listen"
	"github.com/readerline/notifyengine/cmd/prefs"
	"github.com/readerline/notifyengine/internal/buildinfo"
	"github.com/readerline/notifyengine/internal/conf"
	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/logger"
)

const sentryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command
func RootCommand(info *buildinfo.Context) *cobra.Command {
	settings := &conf.Settings{}
	var (
		configFile string
		debug      bool
		central    *logger.CentralLogger
	)

	rootCmd := &cobra.Command{
		Use:           "notifyengine",
		Short:         "Real-time notification delivery engine",
		Version:       info.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/notifyengine, /etc/notifyengine)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug output")

	versionCmd := &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{conf.SkipLoadAnnotation: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
		},
	}

	rootCmd.AddCommand(
		listen.Command(settings),
		evaluate.Command(settings),
		prefs.Command(settings),
		devserver.Command(settings),
		config.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[conf.SkipLoadAnnotation] == "true" {
			return nil
		}

		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		if debug {
			settings.Debug = true
			settings.Logging.DefaultLevel = "debug"
			settings.Logging.Console.Level = "debug"
		}

		central, err = logger.NewCentralLogger(&settings.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logger.SetGlobal(central)

		if err := errors.InitSentry(settings.Telemetry.SentryDSN, info.Release()); err != nil {
			// Telemetry is optional; keep running without it.
			logger.Global().Module("main").Warn("error reporting disabled", logger.Error(err))
		}
		return nil
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		errors.FlushSentry(sentryFlushTimeout)
		if central != nil {
			_ = central.Close()
		}
	}

	return rootCmd
}
