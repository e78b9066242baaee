package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"jobmate/analysis-service/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the analysis tables and indexes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Migrations only need the database.
		viper.Set("events", false)

		log, cfg, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		pool, err := db.NewPostgresPool(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.Migrate(cmd.Context(), pool, log); err != nil {
			log.Error("migration failed", zap.Error(err))
			return err
		}
		log.Info("migrations applied", zap.Int("count", len(db.Migrations)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
