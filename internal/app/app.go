// Package app builds the services of the back-office on one store and
// mounts their handlers. Every binary under services/ and cmd/ starts here.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"erp/ecommerce/internal/analytics"
	"erp/ecommerce/internal/catalog"
	"erp/ecommerce/internal/customer"
	"erp/ecommerce/internal/fulfillment"
	"erp/ecommerce/internal/invoice"
	"erp/ecommerce/internal/notify"
	"erp/ecommerce/internal/order"
	"erp/ecommerce/internal/payment"
	"erp/ecommerce/internal/platform/config"
	"erp/ecommerce/internal/platform/httpx"
	"erp/ecommerce/internal/platform/listcache"
	"erp/ecommerce/internal/platform/metrics"
	"erp/ecommerce/internal/platform/sqlstore"
	"erp/ecommerce/internal/production"
	"erp/ecommerce/internal/shop"
)

// Handler groups, one per resource family.
const (
	GroupShop        = "shop"
	GroupCatalog     = "catalog"
	GroupCustomer    = "customer"
	GroupOrder       = "order"
	GroupPayment     = "payment"
	GroupProduction  = "production"
	GroupInvoice     = "invoice"
	GroupFulfillment = "fulfillment"
	GroupAnalytics   = "analytics"
	GroupNotify      = "notify"
)

// AllGroups lists every handler group in mount order.
var AllGroups = []string{
	GroupShop, GroupCatalog, GroupCustomer, GroupOrder, GroupPayment,
	GroupProduction, GroupInvoice, GroupFulfillment, GroupAnalytics, GroupNotify,
}

type App struct {
	Config   config.Config
	Log      *zap.Logger
	DB       *sqlstore.DB
	Registry *prometheus.Registry

	Shops       *shop.Service
	Catalog     *catalog.Service
	Customers   *customer.Service
	Notify      *notify.Service
	Orders      order.OrderService
	Production  production.JobService
	Invoices    invoice.InvoiceService
	Payments    payment.PaymentService
	Fulfillment *fulfillment.Service
	Analytics   *analytics.Service

	Worker *notify.Worker
}

// New opens the store, applies pending migrations and builds every service.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	db, err := sqlstore.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := sqlstore.NewMigrator(db, log).Up(ctx, sqlstore.Migrations()); err != nil {
		return nil, multierr.Append(fmt.Errorf("migrating database: %w", err), db.Close())
	}
	return Build(cfg, log, db, metrics.NewRegistry()), nil
}

// Build wires the services on an already migrated db.
func Build(cfg config.Config, log *zap.Logger, db *sqlstore.DB, reg *prometheus.Registry) *App {
	a := &App{Config: cfg, Log: log, DB: db, Registry: reg}

	templates := notify.NewTemplates(db, log.Named("notify"))
	a.Shops = shop.NewService(db, log.Named("shop"), templates)
	a.Catalog = catalog.NewService(db, log.Named("catalog"), a.Shops,
		listcache.New[listcache.Result[catalog.Product]](cfg.CacheTTL))
	a.Customers = customer.NewService(db, log.Named("customer"),
		listcache.New[listcache.Result[customer.Customer]](cfg.CacheTTL))

	a.Notify = notify.NewService(db, log.Named("notify"), templates, a.Customers, a.Shops,
		notify.NewProviders(cfg.Notify, nil), notify.Options{
			RateLimit:    rate.Limit(cfg.Notify.RateLimit),
			RateBurst:    cfg.Notify.RateBurst,
			DedupeWindow: cfg.Notify.DedupeWindow,
			MaxAttempts:  cfg.Notify.MaxAttempts,
			RetryBackoff: cfg.Notify.RetryBackoff,
			Registry:     reg,
		})
	a.Worker = notify.NewWorker(a.Notify, log.Named("notify.worker"), cfg.Notify.WorkerInterval, cfg.Notify.BatchSize)

	orders := order.NewService(db, log.Named("order"), a.Catalog, a.Customers, a.Shops, a.Notify,
		listcache.New[listcache.Result[order.Order]](cfg.CacheTTL))
	a.Orders = order.NewLoggingService(log.Named("order"), orders)

	jobs := production.NewService(db, log.Named("production"), a.Orders, a.Customers, a.Notify, reg)
	orders.SetJobPlanner(jobs)
	a.Production = production.NewLoggingService(log.Named("production"), jobs)

	invoices := invoice.NewService(db, log.Named("invoice"), a.Orders, a.Customers, a.Shops, a.Notify)
	a.Invoices = invoice.NewLoggingService(log.Named("invoice"), invoices)

	a.Payments = payment.NewLoggingService(log.Named("payment"), payment.NewService(db, log.Named("payment"), payment.Deps{
		Gateway:   payment.NewHTTPGateway(cfg.Payment),
		Orders:    a.Orders,
		Customers: a.Customers,
		Invoices:  invoices,
		Notifier:  a.Notify,
		Registry:  reg,
	}))

	a.Fulfillment = fulfillment.NewService(db, log.Named("fulfillment"), a.Orders, a.Notify,
		listcache.New[listcache.Result[fulfillment.Shipment]](cfg.CacheTTL))
	a.Analytics = analytics.NewService(db, log.Named("analytics"))
	return a
}

// Handlers returns the public and tenant handlers of groups. No groups means all of them.
func (a *App) Handlers(groups ...string) (public, tenant []httpx.Handler, err error) {
	if len(groups) == 0 {
		groups = AllGroups
	}
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if seen[g] {
			continue
		}
		seen[g] = true
		switch g {
		case GroupShop:
			tenant = append(tenant, shop.NewHandler(a.Log, a.Shops))
		case GroupCatalog:
			tenant = append(tenant, catalog.NewHandler(a.Log, a.Catalog))
		case GroupCustomer:
			tenant = append(tenant, customer.NewHandler(a.Log, a.Customers))
		case GroupOrder:
			tenant = append(tenant, order.NewHandler(a.Log, a.Orders))
		case GroupPayment:
			public = append(public, payment.NewWebhookHandler(a.Log, a.Payments))
			tenant = append(tenant, payment.NewHandler(a.Log, a.Payments))
		case GroupProduction:
			tenant = append(tenant, production.NewHandlers(a.Log, a.Production)...)
		case GroupInvoice:
			tenant = append(tenant, invoice.NewHandler(a.Log, a.Invoices))
		case GroupFulfillment:
			tenant = append(tenant, fulfillment.NewHandler(a.Log, a.Fulfillment))
		case GroupAnalytics:
			tenant = append(tenant, analytics.NewHandler(a.Log, a.Analytics))
		case GroupNotify:
			tenant = append(tenant, notify.NewHandlers(a.Log, a.Notify)...)
		default:
			known := append([]string(nil), AllGroups...)
			sort.Strings(known)
			return nil, nil, fmt.Errorf("unknown handler group %q (known: %v)", g, known)
		}
	}
	return public, tenant, nil
}

// Router mounts groups behind the shared middleware. It registers the HTTP
// metrics on a.Registry, so build it once per App.
func (a *App) Router(groups ...string) (http.Handler, error) {
	public, tenant, err := a.Handlers(groups...)
	if err != nil {
		return nil, err
	}
	return httpx.NewRouter(httpx.RouterConfig{
		Log:       a.Log,
		Module:    a.Config.Module,
		Service:   a.Config.Service,
		Mode:      a.DB.Mode,
		JWTSecret: a.Config.JWTSecret,
		Registry:  a.Registry,
		Public:    public,
		Tenant:    tenant,
	}), nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
