package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"erp/ecommerce/internal/app"
	"erp/ecommerce/internal/platform/config"
	"erp/ecommerce/internal/platform/sqlstore"
)

func newMigrateCommand() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			cfg := config.Load(v, "migrate")
			log, err := app.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			db, err := sqlstore.Open(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, db.Close()) }()

			m := sqlstore.NewMigrator(db, log)
			if err := m.Up(ctx, sqlstore.Migrations()); err != nil {
				return err
			}
			version, err := m.Version(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s schema at version %d\n", db.Mode, version)
			return err
		},
	}
	config.BindFlags(cmd, v)
	return cmd
}
