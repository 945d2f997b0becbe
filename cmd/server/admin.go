package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"smartreply-crm/internal/auth"
	"smartreply-crm/internal/database"
)

func newCreateAdminCmd() *cobra.Command {
	var name, email, password string

	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a platform admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}

			svc := auth.NewService(db, cfg.JWTSecret, cfg.TokenTTL, cfg.GhostTokenTTL)
			u, err := svc.Register(cmd.Context(), auth.RegisterInput{Name: name, Email: email, Password: password})
			if err != nil {
				return err
			}
			log.Info().Str("user_id", u.ID).Str("email", u.Email).Msg("admin created")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "Admin", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "login password (min 6 characters)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}
