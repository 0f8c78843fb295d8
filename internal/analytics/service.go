package analytics

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/money"
	"erp/ecommerce/internal/platform/sqlstore"
)

type Service struct {
	db  *sqlstore.DB
	log *zap.Logger
	now func() time.Time
}

// collected are the payment statuses that brought money in.
var collected = []string{"succeeded", "partially_refunded"}

func NewService(db *sqlstore.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: log, now: sqlstore.Now}
}

// Dashboard summarises activity in [from, to). A zero to means now and a
// zero from means DefaultWindow before to.
func (s *Service) Dashboard(ctx context.Context, tenantID string, from, to time.Time) (Dashboard, error) {
	now := s.now()
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-DefaultWindow)
	}
	if from.After(to) {
		return Dashboard{}, errors.New(errors.EInvalid, "from must not be after to")
	}
	d := Dashboard{From: from.UTC(), To: to.UTC()}
	inRange := func(col string) sq.And {
		return sq.And{sq.GtOrEq{col: d.From}, sq.Lt{col: d.To}}
	}
	b := s.db.Builder

	var (
		revenue               []Amount
		paid                  []string
		orders, jobs, notices []count
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sqlstore.Select(gctx, s.db, &revenue, b.
			Select("currency", "COALESCE(SUM(amount - refunded_amount), 0) AS amount").
			From("payments").
			Where(sq.Eq{"tenant_id": tenantID, "status": collected}).
			Where(inRange("paid_at")).
			GroupBy("currency").
			OrderBy("currency"))
	})
	g.Go(func() error {
		// an order counts when its last collected payment lands in range.
		return sqlstore.Select(gctx, s.db, &paid, b.
			Select("p.order_id").
			From("payments p").
			Join("orders o ON o.tenant_id = p.tenant_id AND o.id = p.order_id").
			Where(sq.Eq{"p.tenant_id": tenantID, "p.status": collected, "o.payment_status": "paid"}).
			GroupBy("p.order_id").
			Having(inRange("MAX(p.paid_at)")))
	})
	g.Go(func() error {
		return sqlstore.Select(gctx, s.db, &orders, b.
			Select("status AS k", "COUNT(*) AS n").
			From("orders").
			Where(sq.Eq{"tenant_id": tenantID}).
			Where(inRange("created_at")).
			GroupBy("status"))
	})
	g.Go(func() error {
		return sqlstore.Select(gctx, s.db, &jobs, b.
			Select("stage AS k", "COUNT(*) AS n").
			From("production_jobs").
			Where(sq.Eq{"tenant_id": tenantID}).
			GroupBy("stage"))
	})
	g.Go(func() error {
		return sqlstore.Get(gctx, s.db, &d.OverdueJobs, b.
			Select("COUNT(*)").
			From("production_jobs").
			Where(sq.Eq{"tenant_id": tenantID}).
			Where(sq.NotEq{"stage": []string{"ready", "delivered", "cancelled"}}).
			Where(sq.Lt{"due_date": now}))
	})
	g.Go(func() error {
		return sqlstore.Select(gctx, s.db, &d.TopProducts, b.
			Select("oi.product_id AS product_id", "MAX(oi.name) AS name",
				"SUM(oi.quantity) AS quantity", "COALESCE(SUM(oi.line_total), 0) AS revenue").
			From("order_items oi").
			Join("orders o ON o.tenant_id = oi.tenant_id AND o.id = oi.order_id").
			Where(sq.Eq{"oi.tenant_id": tenantID}).
			Where(sq.NotEq{"oi.product_id": "", "o.status": "cancelled"}).
			Where(inRange("o.created_at")).
			GroupBy("oi.product_id").
			OrderBy("quantity DESC", "product_id").
			Limit(topProducts))
	})
	g.Go(func() error {
		return sqlstore.Select(gctx, s.db, &notices, b.
			Select("status AS k", "COUNT(*) AS n").
			From("notification_logs").
			Where(sq.Eq{"tenant_id": tenantID}).
			Where(inRange("created_at")).
			GroupBy("status"))
	})
	g.Go(func() error {
		return sqlstore.Get(gctx, s.db, &d.NewCustomers, b.
			Select("COUNT(*)").
			From("customers").
			Where(sq.Eq{"tenant_id": tenantID}).
			Where(inRange("created_at")))
	})
	if err := g.Wait(); err != nil {
		return Dashboard{}, errors.Wrap("analytics.Dashboard", err)
	}

	for i := range revenue {
		revenue[i].Amount = money.Round(revenue[i].Amount)
		revenue[i].Display = money.Format(revenue[i].Amount, revenue[i].Currency)
	}
	for i := range d.TopProducts {
		d.TopProducts[i].Revenue = money.Round(d.TopProducts[i].Revenue)
	}
	if revenue == nil {
		revenue = []Amount{}
	}
	if d.TopProducts == nil {
		d.TopProducts = []TopProduct{}
	}
	d.Revenue = revenue
	d.PaidOrders = len(paid)
	d.OrdersBy = counts(orders)
	for _, n := range d.OrdersBy {
		d.Orders += n
	}
	d.JobsByStage = counts(jobs)
	d.Notifications = counts(notices)
	return d, nil
}
