// Package prefs implements commands that read and change the user's delivery
// preferences on the notification service.
package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/readerline/notifyengine/internal/app"
	"github.com/readerline/notifyengine/internal/backend"
	"github.com/readerline/notifyengine/internal/conf"
	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/notification"
)

// store is the slice of the REST client these commands use.
type store interface {
	GetPreferences(ctx context.Context) (*notification.Preferences, error)
	PutPreferences(ctx context.Context, prefs *notification.Preferences) error
}

// Command returns the prefs command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change delivery preferences",
	}

	open := func() (*backend.Client, error) {
		return app.NewBackendClient(settings, nil)
	}

	cmd.AddCommand(
		showCommand(open),
		quietHoursCommand(open),
		toggleCommand(open),
		setCommand(open),
	)
	return cmd
}

type opener func() (*backend.Client, error)

func showCommand(open opener) *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := open()
			if err != nil {
				return err
			}
			defer client.Close()

			prefs, err := client.GetPreferences(cmd.Context())
			if err != nil {
				return err
			}
			return printPreferences(cmd.OutOrStdout(), prefs, asYAML)
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print YAML instead of JSON")
	return cmd
}

func quietHoursCommand(open opener) *cobra.Command {
	var (
		disable  bool
		timezone string
	)
	cmd := &cobra.Command{
		Use:   "quiet-hours [start end]",
		Short: "Enable quiet hours between two HH:MM times, or disable them",
		Example: `  notifyengine prefs quiet-hours 22:00 07:00 --timezone Europe/Helsinki
  notifyengine prefs quiet-hours --disable`,
		Args: func(cmd *cobra.Command, args []string) error {
			if disable {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(cmd, open, func(p *notification.Preferences) error {
				return setQuietHours(p, args, disable, timezone)
			})
		},
	}
	cmd.Flags().BoolVar(&disable, "disable", false, "Turn quiet hours off")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone the schedule is evaluated in")
	return cmd
}

func toggleCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <email|push|in-app> [category] <on|off>",
		Short: "Turn a channel, or one category on a channel, on or off",
		Example: `  notifyengine prefs toggle push off
  notifyengine prefs toggle email promotion on`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(cmd, open, func(p *notification.Preferences) error {
				return toggle(p, args)
			})
		},
	}
}

func setCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "set <sound|desktop|weekend-pause> <on|off>",
		Short: "Change an in-app or schedule option",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return update(cmd, open, func(p *notification.Preferences) error {
				return setOption(p, args[0], args[1])
			})
		},
	}
}

// update fetches the preferences, applies change, validates and saves them.
func update(cmd *cobra.Command, open opener, change func(*notification.Preferences) error) error {
	client, err := open()
	if err != nil {
		return err
	}
	defer client.Close()
	return apply(cmd.Context(), client, cmd.OutOrStdout(), change)
}

func apply(ctx context.Context, s store, w io.Writer, change func(*notification.Preferences) error) error {
	prefs, err := s.GetPreferences(ctx)
	if err != nil {
		return err
	}
	if err := change(prefs); err != nil {
		return err
	}
	if err := prefs.Validate(); err != nil {
		return err
	}
	if err := s.PutPreferences(ctx, prefs); err != nil {
		return err
	}
	fmt.Fprintln(w, "Preferences saved.")
	return nil
}

func printPreferences(w io.Writer, p *notification.Preferences, asYAML bool) error {
	if asYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

func setQuietHours(p *notification.Preferences, args []string, disable bool, timezone string) error {
	if timezone != "" {
		p.Schedule.Timezone = timezone
	}
	if disable {
		p.Schedule.QuietHours.Enabled = false
		return nil
	}
	start, err := notification.ParseTimeOfDay(args[0])
	if err != nil {
		return usageError(err.Error())
	}
	end, err := notification.ParseTimeOfDay(args[1])
	if err != nil {
		return usageError(err.Error())
	}
	p.Schedule.QuietHours = notification.QuietHours{Enabled: true, Start: start, End: end}
	return nil
}

func toggle(p *notification.Preferences, args []string) error {
	enabled, err := parseSwitch(args[len(args)-1])
	if err != nil {
		return err
	}

	var channel *notification.ChannelPreferences
	switch strings.ToLower(args[0]) {
	case "email":
		channel = &p.Email
	case "push":
		channel = &p.Push
	case "in-app", "inapp", "in_app":
		channel = &p.InApp.ChannelPreferences
	default:
		return usageError(fmt.Sprintf("unknown channel %q: use email, push or in-app", args[0]))
	}

	if len(args) == 2 {
		channel.Enabled = enabled
		return nil
	}
	cat, ok := notification.ParseCategory(args[1])
	if !ok {
		return usageError(fmt.Sprintf("unknown category %q", args[1]))
	}
	channel.Set(cat, enabled)
	return nil
}

func setOption(p *notification.Preferences, option, value string) error {
	enabled, err := parseSwitch(value)
	if err != nil {
		return err
	}
	switch strings.ToLower(option) {
	case "sound":
		p.InApp.Sound = enabled
	case "desktop":
		p.InApp.Desktop = enabled
	case "weekend-pause", "weekend_pause":
		p.Schedule.WeekendPause = enabled
	default:
		return usageError(fmt.Sprintf("unknown option %q: use sound, desktop or weekend-pause", option))
	}
	return nil
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	}
	return false, usageError(fmt.Sprintf("expected on or off, got %q", s))
}

func usageError(msg string) error {
	return errors.Newf("%s", msg).
		Component("cli").
		Category(errors.CategoryValidation).
		Build()
}
