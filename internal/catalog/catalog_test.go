package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/httpx"
	"erp/ecommerce/internal/platform/listcache"
	"erp/ecommerce/internal/platform/sqlstore"
	"erp/ecommerce/internal/platform/sqlstore/sqlstoretest"
	"erp/ecommerce/internal/shop"
)

func newTestService(t *testing.T) (*Service, *sqlstore.DB) {
	t.Helper()
	db := sqlstoretest.New(t)
	log := zaptest.NewLogger(t)
	shops := shop.NewService(db, log, nil)
	return NewService(db, log, shops, listcache.New[listcache.Result[Product]](time.Minute)), db
}

func mustCreate(t *testing.T, svc *Service, tenantID string, req CreateProductRequest) Product {
	t.Helper()
	p, err := svc.Create(context.Background(), tenantID, req)
	require.NoError(t, err)
	return p
}

func TestCreateAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := mustCreate(t, svc, "t1", CreateProductRequest{
		SKU:            " boubou-01 ",
		Name:           "Grand Boubou",
		Category:       "Men",
		Price:          "45000",
		CompareAtPrice: "52000",
		StockQuantity:  4,
		Status:         StatusActive,
		Attributes:     map[string]string{"color": "indigo"},
	})
	assert.Equal(t, "BOUBOU-01", p.SKU)
	assert.Equal(t, KindReadyMade, p.Kind)
	assert.Equal(t, "USD", p.Currency)
	assert.True(t, p.TrackInventory)

	got, err := svc.Get(ctx, "t1", p.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(p, got, cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })); diff != "" {
		t.Fatalf("product mismatch (-want +got):\n%s", diff)
	}

	_, err = svc.Get(ctx, "t2", p.ID)
	require.True(t, errors.Is(err, errors.ENotFound), "cross-tenant read must not leak")

	_, err = svc.Create(ctx, "t1", CreateProductRequest{SKU: "BOUBOU-01", Name: "dup", Price: "1"})
	require.True(t, errors.Is(err, errors.EConflict))

	_, err = svc.Create(ctx, "t2", CreateProductRequest{SKU: "BOUBOU-01", Name: "other tenant", Price: "1"})
	require.NoError(t, err)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Create(context.Background(), "t1", CreateProductRequest{SKU: "A", Name: "A", Price: "10", CompareAtPrice: "5"})
	require.True(t, errors.Is(err, errors.EInvalid))

	p := mustCreate(t, svc, "t1", CreateProductRequest{SKU: "FIT", Name: "Fitting session", Kind: KindService, Price: "5000"})
	assert.False(t, p.TrackInventory)
}

func TestListFiltersPagingAndCache(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i, name := range []string{"Wax print", "Bazin riche", "Kente strip", "Linen suit"} {
		kind := KindFabric
		if name == "Linen suit" {
			kind = KindReadyMade
		}
		mustCreate(t, svc, "t1", CreateProductRequest{
			SKU: "SKU-" + string(rune('A'+i)), Name: name, Kind: kind, Price: "10", Status: StatusActive,
		})
	}
	mustCreate(t, svc, "t2", CreateProductRequest{SKU: "X", Name: "Wax other", Price: "1"})

	first, err := svc.List(ctx, "t1", ListFilter{Kind: KindFabric, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	require.False(t, first.Cached)
	assert.Equal(t, "Kente strip", first.Items[0].Name)

	second, err := svc.List(ctx, "t1", ListFilter{Kind: KindFabric, Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Empty(t, second.NextCursor)
	assert.Equal(t, "Wax print", second.Items[0].Name)

	cached, err := svc.List(ctx, "t1", ListFilter{Kind: KindFabric, Limit: 2})
	require.NoError(t, err)
	require.True(t, cached.Cached)

	mustCreate(t, svc, "t1", CreateProductRequest{SKU: "SKU-Z", Name: "Voile", Kind: KindFabric, Price: "3"})
	fresh, err := svc.List(ctx, "t1", ListFilter{Kind: KindFabric, Limit: 2})
	require.NoError(t, err)
	require.False(t, fresh.Cached)
	assert.Equal(t, "Voile", fresh.Items[0].Name)

	search, err := svc.List(ctx, "t1", ListFilter{Query: "WAX", Limit: 10})
	require.NoError(t, err)
	require.Len(t, search.Items, 1)

	_, err = svc.List(ctx, "t1", ListFilter{Cursor: "nope", Limit: 10})
	require.True(t, errors.Is(err, errors.EInvalid))
}

func TestAdjustStock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p := mustCreate(t, svc, "t1", CreateProductRequest{SKU: "S1", Name: "Shirt", Price: "10", StockQuantity: 2})

	p, err := svc.AdjustStock(ctx, "t1", p.ID, AdjustStockRequest{Delta: 3, Reason: "delivery"})
	require.NoError(t, err)
	assert.Equal(t, 5, p.StockQuantity)

	_, err = svc.AdjustStock(ctx, "t1", p.ID, AdjustStockRequest{Delta: -6})
	require.True(t, errors.Is(err, errors.EUnprocessableEntity))

	_, err = svc.AdjustStock(ctx, "t1", "prd_missing", AdjustStockRequest{Delta: 1})
	require.True(t, errors.Is(err, errors.ENotFound))
}

func TestReserveAndRelease(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	shirt := mustCreate(t, svc, "t1", CreateProductRequest{SKU: "SHIRT", Name: "Shirt", Price: "10", StockQuantity: 3, Status: StatusActive})
	service := mustCreate(t, svc, "t1", CreateProductRequest{SKU: "HEM", Name: "Hemming", Kind: KindService, Price: "2", Status: StatusActive})
	draft := mustCreate(t, svc, "t1", CreateProductRequest{SKU: "DRAFT", Name: "Draft", Price: "2", StockQuantity: 9})

	err := db.InTx(ctx, func(tx *sqlx.Tx) error {
		got, err := svc.Reserve(ctx, tx, "t1", []Line{{shirt.ID, 1}, {shirt.ID, 1}, {service.ID, 5}})
		if err != nil {
			return err
		}
		assert.Len(t, got, 2)
		assert.Equal(t, 1, got[shirt.ID].StockQuantity)
		return nil
	})
	require.NoError(t, err)

	err = db.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := svc.Reserve(ctx, tx, "t1", []Line{{shirt.ID, 2}})
		return err
	})
	require.True(t, errors.Is(err, errors.EConflict))
	assert.Contains(t, err.Error(), "SHIRT")

	err = db.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := svc.Reserve(ctx, tx, "t1", []Line{{draft.ID, 1}})
		return err
	})
	require.True(t, errors.Is(err, errors.EUnprocessableEntity))

	require.NoError(t, svc.Release(ctx, db, "t1", []Line{{shirt.ID, 2}, {service.ID, 5}}))
	got, err := svc.Get(ctx, "t1", shirt.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.StockQuantity)
	got, err = svc.Get(ctx, "t1", service.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.StockQuantity)
}

func TestReserveRollsBackEarlierLines(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "t1", CreateProductRequest{SKU: "A", Name: "A", Price: "1", StockQuantity: 5, Status: StatusActive})
	b := mustCreate(t, svc, "t1", CreateProductRequest{SKU: "B", Name: "B", Price: "1", StockQuantity: 0, Status: StatusActive})

	err := db.InTx(ctx, func(tx *sqlx.Tx) error {
		_, err := svc.Reserve(ctx, tx, "t1", []Line{{a.ID, 2}, {b.ID, 1}})
		return err
	})
	require.Error(t, err)
	got, err := svc.Get(ctx, "t1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)
}

func TestHandler(t *testing.T) {
	svc, _ := newTestService(t)
	router := httpx.NewRouter(httpx.RouterConfig{
		Log:    zaptest.NewLogger(t),
		Tenant: []httpx.Handler{NewHandler(zaptest.NewLogger(t), svc)},
	})
	call := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(httpx.TenantHeader, "t1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := call(http.MethodPost, "/v1/products", `{"sku":"k1","name":"Kaftan","price":"abc"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(http.MethodPost, "/v1/products", `{"sku":"k1","name":"Kaftan","price":"30.5","stock_quantity":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(http.MethodGet, "/v1/products?q=kaf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"event_topic":"erp.ecommerce.product.listed"`)
	assert.Contains(t, rec.Body.String(), `"sku":"K1"`)

	rec = call(http.MethodGet, "/v1/products/_explain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"memory"`)

	rec = call(http.MethodGet, "/v1/products/prd_nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errors.ENotFound, rec.Header().Get(httpx.PlatformErrorCodeHeader))
}
