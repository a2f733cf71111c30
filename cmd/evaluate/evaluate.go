// Package evaluate implements a dry run of the delivery rules.
package evaluate

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/readerline/notifyengine/internal/app"
	"github.com/readerline/notifyengine/internal/conf"
	"github.com/readerline/notifyengine/internal/errors"
	"github.com/readerline/notifyengine/internal/notification"
)

// Command returns the evaluate command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		category    string
		priority    string
		at          string
		prefsFile   string
		fromBackend bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Show how a notification would be delivered",
		Long: `Evaluate a notification of the given category and priority against a
preference set and print whether it would surface, with sound, as a desktop
alert and for how long. Preferences come from --prefs-file, the service
(--from-backend) or the defaults.`,
		Example: `  notifyengine evaluate --category message --priority high --at 2024-06-08T23:30:00Z
  notifyengine evaluate --category promotion --prefs-file prefs.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, ok := notification.ParseCategory(category)
			if !ok {
				return errors.Newf("unknown category %q", category).
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}
			prio, ok := notification.ParsePriority(priority)
			if !ok {
				return errors.Newf("unknown priority %q", priority).
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}
			when := time.Now()
			if at != "" {
				var err error
				if when, err = time.Parse(time.RFC3339, at); err != nil {
					return errors.New(err).
						Component("cli").
						Category(errors.CategoryValidation).
						Context("flag", "at").
						Build()
				}
			}

			prefs, source, err := resolvePreferences(cmd.Context(), settings, prefsFile, fromBackend)
			if err != nil {
				return err
			}

			n := &notification.Notification{Category: cat, Priority: prio, CreatedAt: when}
			describe(cmd.OutOrStdout(), n, prefs, source, when)
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", string(notification.CategorySystem), "Notification category")
	cmd.Flags().StringVar(&priority, "priority", string(notification.PriorityMedium), "Priority: low, medium, high or urgent")
	cmd.Flags().StringVar(&at, "at", "", "Evaluation time in RFC3339 (default now)")
	cmd.Flags().StringVar(&prefsFile, "prefs-file", "", "Preferences file (JSON, or YAML by extension)")
	cmd.Flags().BoolVar(&fromBackend, "from-backend", false, "Fetch the user's preferences from the service")
	cmd.MarkFlagsMutuallyExclusive("prefs-file", "from-backend")

	return cmd
}

func resolvePreferences(ctx context.Context, settings *conf.Settings, path string, fromBackend bool) (*notification.Preferences, string, error) {
	switch {
	case path != "":
		prefs, err := LoadPreferencesFile(path)
		return prefs, path, err
	case fromBackend:
		client, err := app.NewBackendClient(settings, nil)
		if err != nil {
			return nil, "", err
		}
		defer client.Close()
		prefs, err := client.GetPreferences(ctx)
		return prefs, "service", err
	default:
		return notification.DefaultPreferences(), "defaults", nil
	}
}

// LoadPreferencesFile reads a preference set. JSON must be complete; YAML
// starts from the defaults and overrides the keys present.
func LoadPreferencesFile(path string) (*notification.Preferences, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("cli").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		prefs := notification.DefaultPreferences()
		if err := yaml.Unmarshal(data, prefs); err != nil {
			return nil, errors.New(fmt.Errorf("parsing %s: %w", path, err)).
				Component("cli").
				Category(errors.CategoryValidation).
				Build()
		}
		if err := prefs.Validate(); err != nil {
			return nil, err
		}
		return prefs, nil
	default:
		return notification.DecodePreferences(data)
	}
}

func describe(w io.Writer, n *notification.Notification, prefs *notification.Preferences, source string, at time.Time) {
	d := notification.Evaluate(n, prefs, at)

	fmt.Fprintf(w, "Category:     %s\n", n.Category)
	fmt.Fprintf(w, "Priority:     %s\n", n.Priority)
	fmt.Fprintf(w, "At:           %s\n", at.Format(time.RFC3339))
	fmt.Fprintf(w, "Preferences:  %s\n", source)
	if !d.Surface {
		fmt.Fprintf(w, "Surface:      no (%s)\n", d.Reason)
		return
	}
	fmt.Fprintln(w, "Surface:      yes")
	if d.ToastDuration == 0 {
		fmt.Fprintln(w, "Toast:        until dismissed")
	} else {
		fmt.Fprintf(w, "Toast:        %s\n", d.ToastDuration)
	}
	fmt.Fprintf(w, "Sound:        %s\n", yesNo(d.Sound))
	fmt.Fprintf(w, "Desktop:      %s\n", yesNo(d.Desktop))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
