package main

import (
	"log/slog"

	"github.com/MadHawkx/Synctelly/config"
	"github.com/MadHawkx/Synctelly/pkg/logger"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "synctelly",
		Short:         "Watch-party room sync server",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: $CONFIG_PATH or ./config/config.yaml)")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(logger.Config{
			Env:       logger.ParseEnv(cfg.Logging.Env),
			Service:   cfg.Logging.Service,
			Version:   cfg.Logging.Version,
			Shard:     cfg.Rooms.Shard,
			Backend:   logger.Backend(cfg.Logging.Backend),
			AddSource: cfg.Logging.AddSource,
			Debug:     cfg.Logging.Debug,
		})
		slog.Info("config loaded", "env", cfg.Logging.Env, "version", cfg.Logging.Version)
		return cfg, nil
	}

	root.AddCommand(newServeCmd(load), newMigrateCmd(load), newHashKeyCmd())
	return root
}
