package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"medgate/internal/auth"
	"medgate/internal/authz"
	"medgate/internal/platform/config"
	id "medgate/pkg/domain"
)

// tokenCmd mints access tokens for local development and smoke tests.
func tokenCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		userID string
		email  string
		roles  []string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cfg.IsDev() {
				return errors.New("token issuing is only available in development")
			}
			uid, err := id.ParseUserID(userID)
			if err != nil {
				return err
			}
			for _, r := range roles {
				if !authz.IsKnownRole(r) {
					return fmt.Errorf("unknown role %q", r)
				}
			}
			if ttl <= 0 {
				ttl = cfg.Security.AccessTokenTTL
			}
			token, err := auth.NewTokenService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer).
				Issue(id.Principal{UserID: uid, Email: email, Roles: roles}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "dev-user", "user id (token subject)")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringSliceVar(&roles, "role", []string{authz.RoleDoctor}, "role claim, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to security.access_token_ttl)")
	return cmd
}
