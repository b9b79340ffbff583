package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/issuesense/config"
	"github.com/mohammad-safakhou/issuesense/internal/store"
)

func migrateCMD(cfgPath *string) *cobra.Command {
	var (
		dir       string
		direction string
		steps     int
	)
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(*cfgPath)
			return store.Migrate(dir, cfg.Storage.Postgres.DSN(), direction, steps)
		},
	}
	migrate.Flags().StringVar(&dir, "dir", store.DefaultMigrationsDir, "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
