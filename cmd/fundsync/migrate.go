package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQL schema",
		Long:  "Applies the idempotent DDL from the schema file to the configured database.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("schema applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "override the schema file path")
	return cmd
}
