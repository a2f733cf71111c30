// Package listen implements the listen command, an interactive console
// client of the notification engine.
package listen

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"github.com/readerline/notifyengine/internal/app"
	"github.com/readerline/notifyengine/internal/conf"
	"github.com/readerline/notifyengine/internal/logger"
	"github.com/readerline/notifyengine/internal/observability"
)

// Command returns the listen command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		userID      string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to the notification service and follow notifications",
		Long: `Connect to the realtime channel, load existing notifications and show
toasts as they arrive. Type "help" for the interactive commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := *settings
			if userID != "" {
				s.User.ID = userID
			}
			if metricsAddr != "" {
				s.Metrics.Enabled = true
				s.Metrics.Listen = metricsAddr
			}
			return run(cmd.Context(), &s, cmd)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id (overrides user.id)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	return cmd
}

func run(ctx context.Context, s *conf.Settings, cmd *cobra.Command) error {
	log := logger.Global().Module("listen")

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := app.Options{BellOut: cmd.OutOrStdout()}
	if s.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return err
		}
		opts.Metrics = m.Engine
		observability.NewEndpoint(s.Metrics.Listen, m).Start(ctx, &wg)
	}

	a, err := app.New(s, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	loc, err := conf.LoadLocation(s.Engine.Timezone)
	if err != nil {
		return err
	}

	c := newConsole(a.Engine, cmd.OutOrStdout(), loc)
	c.setLevel = logger.Global().SetModuleLevel
	wg.Go(func() { c.watch(ctx) })

	if err := a.Engine.Start(ctx); err != nil {
		return err
	}
	log.Info("listening for notifications", logger.String("user_id", s.User.ID))

	c.run(ctx, cmd.InOrStdin())
	return nil
}
