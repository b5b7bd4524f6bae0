package main

import (
	"fmt"

	"promptory/internal/db"

	"github.com/spf13/cobra"
)

var (
	migrateAuto  bool
	migrateSteps int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the SQL migrations in MIGRATIONS_DIR to DATABASE_URL.

The SQL migrations also install the change notification triggers the
realtime bridge listens to. --auto runs the ORM auto-migration instead, which
creates tables but no triggers; use it only for throwaway databases.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if migrateAuto {
			conn, err := db.Open(cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(conn); err != nil {
				return err
			}
			logger.Info("auto migration completed")
			return nil
		}
		version, err := db.Migrate(cfg.MigrationsDir, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", "version", version)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := db.Rollback(cfg.MigrationsDir, cfg.DatabaseURL, migrateSteps); err != nil {
			return err
		}
		logger.Info(fmt.Sprintf("reverted %d migration(s)", migrateSteps))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateAuto, "auto", false, "use ORM auto-migration (no triggers)")
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to revert")

	migrateCmd.AddCommand(migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}
