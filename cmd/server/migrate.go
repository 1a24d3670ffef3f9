package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"medgate/internal/platform/config"
	"medgate/internal/platform/postgres"
)

func migrateCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending activity-log migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			db, err := postgres.Open(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			if db == nil {
				return errors.New("database.url is not configured")
			}
			defer db.Close()

			applied, err := postgres.Migrate(cmd.Context(), db.SQL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return nil
		},
	}
}
