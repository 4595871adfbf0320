// ABOUTME: token command: mints a JWT for API callers using the configured secret
// ABOUTME: The token's subject is the user ID its sessions are scoped to

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-concierge/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an API token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}

			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}

			verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
			if err != nil {
				return fmt.Errorf("creating JWT verifier: %w", err)
			}

			token, err := verifier.Generate(userID, ttl)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID the token acts for")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "Token lifetime")

	return cmd
}
