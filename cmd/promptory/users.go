package main

import (
	"fmt"

	"promptory/internal/db"
	"promptory/internal/services"
	"promptory/internal/store"

	"github.com/spf13/cobra"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Account administration",
}

func setRoleCmd(use, short, role string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := db.Open(cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			svc := services.New(store.NewGormStore(conn), services.Options{Logger: logger})
			if err := svc.Accounts.SetRole(cmd.Context(), args[0], role); err != nil {
				return fmt.Errorf("%s %s: %w", use, args[0], err)
			}
			logger.Info("role updated", "email", args[0], "role", role)
			return nil
		},
	}
}

func init() {
	usersCmd.AddCommand(setRoleCmd("promote", "Grant the admin role", "admin"))
	usersCmd.AddCommand(setRoleCmd("demote", "Revoke the admin role", ""))
	rootCmd.AddCommand(usersCmd)
}
