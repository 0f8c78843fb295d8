package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"erp/ecommerce/internal/catalog"
	"erp/ecommerce/internal/customer"
	"erp/ecommerce/internal/order"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/httpx"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/sqlstore"
	"erp/ecommerce/internal/platform/sqlstore/sqlstoretest"
	"erp/ecommerce/internal/shop"
)

type env struct {
	db  *sqlstore.DB
	svc *Service
}

func exec(t *testing.T, db *sqlstore.DB, b sq.Sqlizer) {
	t.Helper()
	_, err := sqlstore.Exec(context.Background(), db, b)
	require.NoError(t, err)
}

// seed places three orders (one paid, one cancelled), two jobs and a few
// notification log rows.
func seed(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	db := sqlstoretest.New(t)
	log := zaptest.NewLogger(t)
	shops := shop.NewService(db, log, nil)
	customers := customer.NewService(db, log, nil)
	products := catalog.NewService(db, log, shops, nil)
	orders := order.NewService(db, log, products, customers, shops, nil, nil)

	_, _, err := shops.Put(ctx, "t1", shop.UpsertShopRequest{Name: "Adire House", Currency: "NGN"})
	require.NoError(t, err)
	c, err := customers.Create(ctx, "t1", customer.CreateCustomerRequest{Name: "Amina Bello", Phone: "+2348035550101"})
	require.NoError(t, err)
	_, err = customers.Create(ctx, "t2", customer.CreateCustomerRequest{Name: "Other tenant", Phone: "+2348035550102"})
	require.NoError(t, err)

	wrap, err := products.Create(ctx, "t1", catalog.CreateProductRequest{SKU: "wrap", Name: "Adire wrap", Price: "100", StockQuantity: 50, Status: catalog.StatusActive})
	require.NoError(t, err)
	fila, err := products.Create(ctx, "t1", catalog.CreateProductRequest{SKU: "cap", Name: "Fila cap", Price: "25.50", StockQuantity: 50, Status: catalog.StatusActive})
	require.NoError(t, err)

	paid, err := orders.Create(ctx, "t1", order.CreateOrderRequest{CustomerID: c.ID, Items: []order.ItemRequest{{ProductID: wrap.ID, Quantity: 3}, {ProductID: fila.ID, Quantity: 1}}})
	require.NoError(t, err)
	_, err = orders.ApplyPayment(ctx, "t1", paid.ID, order.PaymentUpdate{Status: order.PaymentPaid, Paid: paid.Total})
	require.NoError(t, err)
	_, err = orders.Create(ctx, "t1", order.CreateOrderRequest{CustomerID: c.ID, Items: []order.ItemRequest{{ProductID: fila.ID, Quantity: 2}}})
	require.NoError(t, err)
	cancelled, err := orders.Create(ctx, "t1", order.CreateOrderRequest{CustomerID: c.ID, Items: []order.ItemRequest{{ProductID: wrap.ID, Quantity: 10}}})
	require.NoError(t, err)
	_, err = orders.Cancel(ctx, "t1", cancelled.ID, order.CancelRequest{})
	require.NoError(t, err)

	now := sqlstore.Now()
	exec(t, db, db.Builder.Insert("payments").
		Columns("id", "tenant_id", "order_id", "reference", "provider", "amount", "currency", "status", "paid_at", "created_at", "updated_at").
		Values(ids.New("pay"), "t1", paid.ID, "T1-a", "cash", "325.50", "NGN", "succeeded", now, now, now).
		Values(ids.New("pay"), "t1", paid.ID, "T1-b", "gateway", "40", "NGN", "failed", nil, now, now).
		Values(ids.New("pay"), "t2", "ord_x", "T2-a", "cash", "999", "NGN", "succeeded", now, now, now))

	overdue := now.Add(-24 * time.Hour)
	later := now.Add(24 * time.Hour)
	exec(t, db, db.Builder.Insert("production_jobs").
		Columns("id", "tenant_id", "order_id", "customer_id", "title", "stage", "due_date", "created_at", "updated_at").
		Values(ids.New("job"), "t1", paid.ID, c.ID, "Agbada", "sewing", overdue, now, now).
		Values(ids.New("job"), "t1", paid.ID, c.ID, "Kaftan", "ready", overdue, now, now).
		Values(ids.New("job"), "t1", paid.ID, c.ID, "Buba", "sewing", later, now, now))

	exec(t, db, db.Builder.Insert("notification_logs").
		Columns("id", "tenant_id", "channel", "status", "created_at").
		Values(ids.New("nlg"), "t1", "sms", "sent", now).
		Values(ids.New("nlg"), "t1", "email", "sent", now).
		Values(ids.New("nlg"), "t1", "whatsapp", "failed", now))

	return &env{db: db, svc: NewService(db, log)}
}

func TestDashboard(t *testing.T) {
	e := seed(t)
	d, err := e.svc.Dashboard(context.Background(), "t1", time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, DefaultWindow, d.To.Sub(d.From))
	require.Len(t, d.Revenue, 1)
	assert.Equal(t, "NGN", d.Revenue[0].Currency)
	assert.Equal(t, "325.5", d.Revenue[0].Amount.String())
	assert.Equal(t, "325.50 NGN", d.Revenue[0].Display)
	assert.Equal(t, 1, d.PaidOrders)
	assert.Equal(t, 3, d.Orders)
	if diff := cmp.Diff(map[string]int{"confirmed": 1, "pending": 1, "cancelled": 1}, d.OrdersBy); diff != "" {
		t.Errorf("orders by status (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]int{"sewing": 2, "ready": 1}, d.JobsByStage); diff != "" {
		t.Errorf("jobs by stage (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, d.OverdueJobs)
	if diff := cmp.Diff(map[string]int{"sent": 2, "failed": 1}, d.Notifications); diff != "" {
		t.Errorf("notifications by status (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, d.NewCustomers)

	require.Len(t, d.TopProducts, 2)
	assert.Equal(t, "Adire wrap", d.TopProducts[0].Name)
	assert.Equal(t, 3, d.TopProducts[0].Quantity)
	assert.Equal(t, "300", d.TopProducts[0].Revenue.String())
	assert.Equal(t, "Fila cap", d.TopProducts[1].Name)
	assert.Equal(t, 3, d.TopProducts[1].Quantity)
}

func TestDashboardUsesPaymentTime(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	now := sqlstore.Now()

	// the paid order was placed long before the window but paid inside it.
	exec(t, e.db, e.db.Builder.Update("orders").
		Set("created_at", now.AddDate(0, -3, 0)).
		Where(sq.Eq{"tenant_id": "t1", "payment_status": "paid"}))
	exec(t, e.db, e.db.Builder.Insert("payments").
		Columns("id", "tenant_id", "order_id", "reference", "provider", "amount", "refunded_amount", "currency", "status", "paid_at", "created_at", "updated_at").
		Values(ids.New("pay"), "t1", "ord_other", "T1-c", "gateway", "100", "40", "NGN", "partially_refunded", now, now, now))

	d, err := e.svc.Dashboard(ctx, "t1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, d.PaidOrders)
	assert.Equal(t, 2, d.Orders)
	require.Len(t, d.Revenue, 1)
	assert.Equal(t, "385.5", d.Revenue[0].Amount.String())

	d, err = e.svc.Dashboard(ctx, "t1", now.AddDate(0, -4, 0), now.AddDate(0, -2, 0))
	require.NoError(t, err)
	assert.Zero(t, d.PaidOrders)
	assert.Empty(t, d.Revenue)
}

func TestDashboardRange(t *testing.T) {
	e := seed(t)
	ctx := context.Background()

	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	d, err := e.svc.Dashboard(ctx, "t1", past, past.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Empty(t, d.Revenue)
	assert.Zero(t, d.Orders)
	assert.Empty(t, d.TopProducts)
	assert.Zero(t, d.NewCustomers)
	assert.Equal(t, 2, d.JobsByStage["sewing"], "job stages are current, not ranged")

	_, err = e.svc.Dashboard(ctx, "t1", past.AddDate(0, 1, 0), past)
	assert.True(t, errors.Is(err, errors.EInvalid), err)

	d, err = e.svc.Dashboard(ctx, "t3", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, d.Revenue)
	assert.Empty(t, d.OrdersBy)
}

func TestHandler(t *testing.T) {
	e := seed(t)
	router := httpx.NewRouter(httpx.RouterConfig{
		Log:    zaptest.NewLogger(t),
		Tenant: []httpx.Handler{NewHandler(zaptest.NewLogger(t), e.svc)},
	})
	call := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(httpx.TenantHeader, "t1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := call("/v1/dashboard")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Item Dashboard `json:"item"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 3, out.Item.Orders)

	rec = call("/v1/dashboard?from=2020-01-01&to=2020-01-31")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), out.Item.To)

	assert.Equal(t, http.StatusBadRequest, call("/v1/dashboard?from=2020-02-01&to=2020-01-01").Code)
	assert.Equal(t, http.StatusBadRequest, call("/v1/dashboard?from=yesterday").Code)
}
