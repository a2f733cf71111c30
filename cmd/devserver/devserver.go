package devserver

import (
	"github.com/spf13/cobra"

	"github.com/readerline/notifyengine/internal/conf"
	"github.com/readerline/notifyengine/internal/devserver"
	"github.com/readerline/notifyengine/internal/logger"
)

// Command returns a cobra command that runs the local notification service.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		listen string
		dbType string
		dsn    string
	)

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local notification service for development",
		Long: `Run a local notification service that implements the REST API and
WebSocket channel the engine connects to.

Push events by hand with POST /dev/emit, for example:
  curl -X POST localhost:8085/dev/emit -d '{"type":"notification","notificationType":"payment","title":"Payment received","message":"$45.00","priority":"high"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := settings.DevServer
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}
			if cmd.Flags().Changed("db-type") {
				cfg.Database.Type = dbType
			}
			if cmd.Flags().Changed("dsn") {
				cfg.Database.DSN = dsn
			}

			log := logger.Global().Module("devserver")
			repo, err := devserver.OpenRepository(devserver.DatabaseConfig{
				Type: cfg.Database.Type,
				DSN:  cfg.Database.DSN,
			}, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := repo.Close(); err != nil {
					log.Warn("closing database", logger.Error(err))
				}
			}()

			srv, err := devserver.New(devserver.Config{
				Repository:    repo,
				Token:         cfg.Token,
				DefaultUserID: settings.User.ID,
				Logger:        log,
			})
			if err != nil {
				return err
			}
			return srv.Start(cmd.Context(), cfg.Listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from devserver.listen)")
	cmd.Flags().StringVar(&dbType, "db-type", "", "Database type: sqlite or mysql")
	cmd.Flags().StringVar(&dsn, "dsn", "", "Database file (sqlite) or DSN (mysql)")

	return cmd
}
