package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"radiocatalog/stationstore/internal/auth"
)

func (c *cli) tokenCmd() *cobra.Command {
	var (
		role    string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.Auth.JWTSecret == "" {
				return errors.New("no jwt secret configured (STATIONSTORE_AUTH_JWT_SECRET)")
			}
			r, ok := auth.NormalizeRole(role)
			if !ok {
				return fmt.Errorf("unknown role %q (editor or admin)", role)
			}
			token, err := auth.IssueJWT([]byte(c.cfg.Auth.JWTSecret), subject, r, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(auth.RoleEditor), "role to grant: editor or admin")
	cmd.Flags().StringVar(&subject, "subject", "stationctl", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
