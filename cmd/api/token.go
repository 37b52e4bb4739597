package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pitchai/api/internal/auth"
	"pitchai/api/internal/config"
	"pitchai/api/internal/rbac"
)

// tokenCmd mints access tokens signed with SUPABASE_JWT_SECRET for local
// development against the API without the identity provider.
func tokenCmd() *cobra.Command {
	var (
		email string
		role  string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint a development access token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.JWTSecret == "" {
				return fmt.Errorf("SUPABASE_JWT_SECRET is not set")
			}
			userID := uuid.NewString()
			if len(args) == 1 {
				userID = args[0]
			}

			token, err := auth.IssueToken([]byte(cfg.JWTSecret), auth.Claims{
				Sub:       userID,
				Email:     email,
				Role:      role,
				SessionID: uuid.NewString(),
				Exp:       time.Now().Add(ttl).Unix(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleAuthenticated), "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
