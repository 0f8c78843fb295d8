package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"erp/ecommerce/internal/app"
	"erp/ecommerce/internal/platform/config"
)

// runUnit is the RunE shared by the long-running commands.
func runUnit(v *viper.Viper, service string, u app.Unit) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load(v, service)
		log, err := app.NewLogger(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		ctx, stop := app.SignalContext(cmd.Context())
		defer stop()
		if err := app.Run(ctx, cfg, log, u); err != nil {
			log.Error("stopped", zap.Error(err))
			return err
		}
		return nil
	}
}

func newServeCommand() *cobra.Command {
	v := config.New()
	var groups []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve every API and run the notification worker",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runUnit(v, "erpctl", app.Unit{Groups: groups, Worker: true})(cmd, args)
	}
	config.BindFlags(cmd, v)
	cmd.Flags().StringSliceVar(&groups, "groups", nil, "handler groups to serve (default all)")
	return cmd
}

func newWorkerCommand() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:   "notify-worker",
		Short: "Deliver queued notifications and start scheduled campaigns",
		Args:  cobra.NoArgs,
		RunE:  runUnit(v, "notify-worker", app.Unit{NoHTTP: true}),
	}
	config.BindFlags(cmd, v)
	return cmd
}
