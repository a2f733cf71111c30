package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/readerline/notifyengine/internal/conf"
)

// Command returns the config command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(initCommand(), validateCommand(settings))
	return cmd
}

func initCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "init [path]",
		Short:       "Write the default configuration file",
		Long:        "Write the default configuration to path, or to ~/.config/notifyengine/config.yaml. An existing file is never overwritten.",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{conf.SkipLoadAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := conf.DefaultConfigFile()
			if len(args) == 1 {
				path = args[0]
			}
			if err := conf.WriteDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	}
}

func validateCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Loading already validated the settings.
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration OK (user %q, service %s)\n",
				settings.User.ID, settings.Service.APIURL)
			return nil
		},
	}
}
