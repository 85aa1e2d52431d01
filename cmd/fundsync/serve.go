package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync scheduler and the query API",
		Long: `Starts the eight per-venue cron jobs (history and online sync for each
venue) together with the HTTP query API. Blocks until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			log.Info().Msg("fundsync serving")
			return app.Run(cmd.Context())
		},
	}
}
