package main

import (
	"github.com/spf13/cobra"

	"github.com/noah-isme/sma-edo-api/pkg/database"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Apply every pending migration, or move by --steps (negative rolls back).",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logr, err := bootstrap()
		if err != nil {
			return err
		}
		defer logr.Sync() //nolint:errcheck

		return database.Migrate(cfg.Database, migrateSteps, logr)
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateSteps, "steps", 0, "number of migrations to apply; negative rolls back")
}
