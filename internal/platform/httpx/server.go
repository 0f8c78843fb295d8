package httpx

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/metrics"
)

// Handler is a resource router mounted under its Prefix.
type Handler interface {
	http.Handler
	Prefix() string
}

type RouterConfig struct {
	Log       *zap.Logger
	Module    string
	Service   string
	Mode      string
	JWTSecret string
	Registry  *prometheus.Registry

	// Public handlers skip the tenant and auth middleware.
	Public []Handler
	// Tenant handlers require X-Tenant-ID and, when configured, a bearer token.
	Tenant []Handler
}

// NewRouter builds the root router with health, metrics and every handler mounted.
func NewRouter(cfg RouterConfig) chi.Router {
	api := NewAPI(cfg.Log)
	if cfg.Registry == nil {
		cfg.Registry = metrics.NewRegistry()
	}
	m := metrics.NewHTTP(cfg.Registry, MetricLabels)

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		middleware.RequestID,
		middleware.RealIP,
		SecurityHeaders,
		Metrics(cfg.Service, m.Requests, m.Duration),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.Err(w, r, errors.New(errors.ENotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.Err(w, r, errors.New(errors.EMethodNotAllowed, "method not allowed"))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		api.Respond(w, r, http.StatusOK, map[string]any{
			"status":  "healthy",
			"module":  cfg.Module,
			"service": cfg.Service,
			"mode":    cfg.Mode,
		})
	})
	r.Handle("/metrics", metrics.Handler(cfg.Registry))

	for _, h := range cfg.Public {
		r.Mount(h.Prefix(), h)
	}
	r.Group(func(r chi.Router) {
		r.Use(Tenant(api), Auth(api, cfg.JWTSecret))
		for _, h := range cfg.Tenant {
			r.Mount(h.Prefix(), h)
		}
	})
	return r
}

// NewServer returns a server with the read/write timeouts every service uses.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// Serve runs srv until ctx is done, then shuts it down within timeout.
func Serve(ctx context.Context, srv *http.Server, timeout time.Duration, log *zap.Logger) error {
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", zap.Duration("timeout", timeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
