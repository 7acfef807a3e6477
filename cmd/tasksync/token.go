package main

import (
	"fmt"
	"time"

	"github.com/hiroki-koketsu/go-tasksync/internal/config"
	"github.com/hiroki-koketsu/go-tasksync/internal/session"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	var (
		user  string
		email string
		ttl   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a sign-in token for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			v := session.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
			token, err := v.Issue(user, email, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "User id (token subject)")
	cmd.Flags().StringVarP(&email, "email", "e", "", "User email")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
