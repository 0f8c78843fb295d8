package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"erp/ecommerce/internal/platform/config"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/httpx"
)

func newTokenCommand() *cobra.Command {
	v := config.New()
	var (
		tenant string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tenant == "" && role != httpx.RoleSuperAdmin {
				return errors.New(errors.EInvalid, "--tenant is required unless --role is "+httpx.RoleSuperAdmin)
			}
			tok, err := httpx.IssueToken(config.Load(v, "token").JWTSecret, tenant, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	config.BindFlags(cmd, v)
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant the token acts for")
	cmd.Flags().StringVar(&role, "role", "admin", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
