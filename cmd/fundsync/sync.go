package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/fundsync/internal/models"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync job and exit",
	}
	cmd.AddCommand(syncHistoryCmd(), syncOnlineCmd())
	return cmd
}

func syncHistoryCmd() *cobra.Command {
	var venue string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Run one history sync job for a venue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := models.ParseVenueCode(venue)
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.SyncHistory(cmd.Context(), code)
		},
	}
	cmd.Flags().StringVar(&venue, "venue", "", fmt.Sprintf("venue code, one of %v", models.AllVenues()))
	cmd.MarkFlagRequired("venue") //nolint:errcheck
	return cmd
}

func syncOnlineCmd() *cobra.Command {
	var venue string
	cmd := &cobra.Command{
		Use:   "online",
		Short: "Run one online sync job for a venue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			code, err := models.ParseVenueCode(venue)
			if err != nil {
				return err
			}
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.SyncOnline(cmd.Context(), code)
		},
	}
	cmd.Flags().StringVar(&venue, "venue", "", fmt.Sprintf("venue code, one of %v", models.AllVenues()))
	cmd.MarkFlagRequired("venue") //nolint:errcheck
	return cmd
}
