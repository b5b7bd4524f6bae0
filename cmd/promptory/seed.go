package main

import (
	"promptory/internal/db"
	"promptory/internal/store"

	"github.com/spf13/cobra"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load prompt and collection categories",
	Long: `Upsert the categories listed in the seed file (default: SEED_FILE).
Existing categories are matched by name, so the command can be re-run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		path := cfg.SeedFile
		if seedFile != "" {
			path = seedFile
		}
		sf, err := db.LoadSeed(path)
		if err != nil {
			return err
		}
		conn, err := db.Open(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		res, err := db.Seed(cmd.Context(), store.NewGormStore(conn), sf)
		if err != nil {
			return err
		}
		logger.Info("seed loaded", "file", path,
			"categories", res.Categories, "collection_categories", res.CollectionCategories)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "", "seed file to load")
	rootCmd.AddCommand(seedCmd)
}
