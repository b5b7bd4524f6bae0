package main

import (
	"log/slog"
	"os"

	"promptory/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "promptory",
	Short: "Share, like and collect prompts",
	Long: `Promptory is a prompt sharing site: people publish prompts, like them and
group them into collections.

Run "promptory serve" for the web app, or use the prompts, collections and
watch commands against a running server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./promptory.yaml if present)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
}

// loadConfig reads configuration and builds the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cfg.Logger(os.Stderr), nil
}
