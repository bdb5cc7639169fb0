package main

import (
	"github.com/spf13/cobra"

	"github.com/dietbot/entitlement/db/migrations"
	"github.com/dietbot/entitlement/pkg/config"
	"github.com/dietbot/entitlement/pkg/logger"
	"github.com/dietbot/entitlement/pkg/pg"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var logCfg logger.Config
			if err := config.Load(&logCfg); err != nil {
				return err
			}
			log := newLogger(logCfg)

			var cfg pg.Config
			if err := config.Load(&cfg); err != nil {
				return err
			}
			pool, err := pg.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := pg.Migrate(ctx, pool, migrations.FS, cfg, log); err != nil {
				return err
			}
			log.InfoContext(ctx, "migrations applied")
			return nil
		},
	}
}
