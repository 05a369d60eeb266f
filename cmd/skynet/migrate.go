package main

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/skynetai/skynet/internal/config"
	"github.com/skynetai/skynet/internal/storage/sqlite"
)

// buildMigrateCmd opens the configured SQLite database, which runs the
// store's idempotent CREATE TABLE IF NOT EXISTS schema on open, and
// reports success. There is no separate migration step beyond opening the
// store — internal/storage/sqlite.Open owns schema creation inline.
func buildMigrateCmd(log zerolog.Logger) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the SQLite schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(configPath))
			if err != nil {
				return fmt.Errorf("migrate: load config: %w", err)
			}

			store, err := sqlite.Open(cfg.Storage.Path, log)
			if err != nil {
				return fmt.Errorf("migrate: open %s: %w", cfg.Storage.Path, err)
			}
			defer store.Close()

			log.Info().Str("path", cfg.Storage.Path).Msg("migrate: schema applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to skynet.toml (default: $SKYNET_CONFIG or ~/.skynet/skynet.toml)")
	return cmd
}
