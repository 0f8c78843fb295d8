package app

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"erp/ecommerce/internal/platform/config"
	"erp/ecommerce/internal/platform/httpx"
	"erp/ecommerce/internal/platform/logging"
)

// Unit describes what one process runs.
type Unit struct {
	// Groups are the handler groups to serve. Empty serves all of them.
	Groups []string
	// Worker also runs the notification worker.
	Worker bool
	// NoHTTP runs the worker alone.
	NoHTTP bool
}

// Run builds the app and serves u until ctx is done.
func Run(ctx context.Context, cfg config.Config, log *zap.Logger, u Unit) (err error) {
	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	if !u.NoHTTP {
		h, err := a.Router(u.Groups...)
		if err != nil {
			return err
		}
		srv := httpx.NewServer(net.JoinHostPort("", cfg.Port), h)
		g.Go(func() error {
			return httpx.Serve(ctx, srv, cfg.ShutdownIn, log)
		})
	}
	if u.Worker || u.NoHTTP {
		g.Go(func() error {
			return a.Worker.Run(ctx)
		})
	}
	return g.Wait()
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	log, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return log.With(zap.String("service", cfg.Service)), nil
}

// ServiceCommand is the root command of a single-purpose service binary.
func ServiceCommand(service, short string, u Unit) *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:           service,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load(v, service)
			log, err := NewLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := SignalContext(cmd.Context())
			defer stop()
			if err := Run(ctx, cfg, log, u); err != nil {
				log.Error("service stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
	config.BindFlags(cmd, v)
	return cmd
}

// Main executes cmd and exits non-zero on error.
func Main(cmd *cobra.Command) {
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		cmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
