package main

import (
	"errors"
	"log/slog"

	"github.com/MadHawkx/Synctelly/config"
	"github.com/MadHawkx/Synctelly/internal/postgres"

	"github.com/spf13/cobra"
)

func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the room snapshot table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cfg.Postgres.Enabled() {
				return errors.New("postgres.dsn is required for migrate")
			}
			db, err := postgres.New(cmd.Context(), cfg.Postgres.ToPGConfig())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			slog.Info("migrations applied")
			return nil
		},
	}
}
