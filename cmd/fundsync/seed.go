package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the venue rows",
		Long:  "Idempotently creates the BINANCE, BYBIT, HYPERLIQUID and MEXC venue rows.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Seed(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("venues seeded")
			return nil
		},
	}
}
