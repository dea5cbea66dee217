package main

import (
	"github.com/cuemby/conduit/pkg/api"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newDevServerCmd(opts *globalOptions) *cobra.Command {
	var (
		addr      string
		rateLimit float64
	)

	cmd := &cobra.Command{
		Use:   "dev-server",
		Short: "Run a local console API with a simulated migration hub",
		Long: `Run a local console API with a simulated migration hub.

The server seeds an admin account from dev_server.username and
CONDUIT_DEV_PASSWORD, stores data in an in-memory SQLite database
unless dev_server.dsn is set, and simulates migrations so the progress
stream can be followed end to end. Tables whose name starts with "fail"
make a migration fail partway through.

Examples:
  conduit dev-server
  conduit dev-server --addr :9090
  CONDUIT_DEV_DRIVER=postgres CONDUIT_DEV_DSN=postgres://... conduit dev-server`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds := opts.cfg.DevServer
			if addr != "" {
				ds.Addr = addr
			}
			if opts.cfg.Log.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			srv, err := api.NewServer(api.Config{
				Addr:            ds.Addr,
				Driver:          ds.Driver,
				DSN:             ds.DSN,
				Username:        ds.Username,
				Password:        ds.Password,
				StepInterval:    ds.StepInterval.Duration,
				JanitorSchedule: ds.JanitorSchedule,
				RetainFinished:  ds.RetainFinished.Duration,
				RateLimit:       rateLimit,
				Version:         Version,
			})
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides dev_server.addr)")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "Requests per second allowed on /api (0 disables)")
	return cmd
}
