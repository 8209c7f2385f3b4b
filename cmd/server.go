package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/rms-availability/internal/scheduler"
	"github.com/example/rms-availability/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Serve the availability API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, migrateUp)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Prewarm.Interval > 0 {
				s := &scheduler.Scheduler{
					Router:   a.router,
					Interval: a.cfg.Prewarm.Interval,
					Days:     a.cfg.Prewarm.Days,
					Log:      a.log,
				}
				go func() { _ = s.Run(ctx) }()
			}

			ws := &web.Server{
				Router:   a.router,
				Cache:    a.cache,
				Gatherer: a.registry,
				Log:      a.log,
			}
			return web.Start(ctx, a.cfg.ListenAddr, ws.Routes(), a.log)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
