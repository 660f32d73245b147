package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinicore/scheduling/libs/auth"
	"github.com/clinicore/scheduling/libs/config"
)

// tokenCmd mints a bearer token signed with JWT_SECRET for local testing.
func tokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a development bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.IsDev() {
				return errors.New("token minting is only available in development")
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			if ttl <= 0 {
				return errors.New("ttl must be positive")
			}
			switch role {
			case auth.RoleProvider, auth.RoleRequester:
			default:
				return errors.New(`role must be "provider" or "requester"`)
			}
			token, err := auth.SignHS256(cfg.JWTSecret, args[0], role, ttl)
			if err != nil {
				return err
			}
			cmd.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", auth.RoleRequester, "role claim: provider or requester")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
