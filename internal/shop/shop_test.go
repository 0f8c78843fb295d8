package shop

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/httpx"
	"erp/ecommerce/internal/platform/sqlstore/sqlstoretest"
)

type seederFunc func(ctx context.Context, tenantID string) error

func (f seederFunc) SeedDefaults(ctx context.Context, tenantID string) error { return f(ctx, tenantID) }

func TestGetReturnsDefaults(t *testing.T) {
	svc := NewService(sqlstoretest.New(t), zaptest.NewLogger(t), nil)
	sh, err := svc.Get(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "USD", sh.Currency)
	assert.Equal(t, "ORD", sh.OrderPrefix)
	assert.Equal(t, "INV", sh.InvoicePrefix)
	assert.True(t, sh.Active())
	assert.Empty(t, sh.ID)
}

func TestPutSeedsOnce(t *testing.T) {
	var seeded []string
	svc := NewService(sqlstoretest.New(t), zaptest.NewLogger(t), seederFunc(func(_ context.Context, tenantID string) error {
		seeded = append(seeded, tenantID)
		return nil
	}))
	ctx := context.Background()

	sh, created, err := svc.Put(ctx, "tenant-a", UpsertShopRequest{
		Name:     "Maison Adjoa Couture",
		Currency: "xof",
		TaxRate:  "0.18",
		Timezone: "Africa/Abidjan",
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, "maison-adjoa-couture", sh.Slug)
	assert.Equal(t, "XOF", sh.Currency)
	assert.True(t, decimal.RequireFromString("0.18").Equal(sh.TaxRate))

	sh2, created, err := svc.Put(ctx, "tenant-a", UpsertShopRequest{Name: "Maison Adjoa", OrderPrefix: "cmd"})
	require.NoError(t, err)
	require.False(t, created)
	assert.Equal(t, sh.ID, sh2.ID)
	assert.Equal(t, "CMD", sh2.OrderPrefix)
	assert.Equal(t, []string{"tenant-a"}, seeded)

	got, err := svc.Get(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "Maison Adjoa", got.Name)
	assert.Equal(t, "USD", got.Currency)
}

func TestUpdate(t *testing.T) {
	svc := NewService(sqlstoretest.New(t), zaptest.NewLogger(t), nil)
	ctx := context.Background()

	status := StatusSuspended
	_, err := svc.Update(ctx, "tenant-a", UpdateShopRequest{Status: &status})
	require.True(t, errors.Is(err, errors.ENotFound))

	_, _, err = svc.Put(ctx, "tenant-a", UpsertShopRequest{Name: "Shop"})
	require.NoError(t, err)

	_, err = svc.Update(ctx, "tenant-a", UpdateShopRequest{})
	require.True(t, errors.Is(err, errors.EInvalid))

	rate := "1.5"
	_, err = svc.Update(ctx, "tenant-a", UpdateShopRequest{TaxRate: &rate})
	require.True(t, errors.Is(err, errors.EInvalid))

	sh, err := svc.Update(ctx, "tenant-a", UpdateShopRequest{Status: &status})
	require.NoError(t, err)
	assert.False(t, sh.Active())
}

func TestSlugify(t *testing.T) {
	for in, want := range map[string]string{
		"Maison Adjoa Couture": "maison-adjoa-couture",
		"  Tailor & Co. ":      "tailor-co",
		"Élégance 2026!":       "élégance-2026",
		"":                     "",
	} {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestHandler(t *testing.T) {
	svc := NewService(sqlstoretest.New(t), zaptest.NewLogger(t), nil)
	router := httpx.NewRouter(httpx.RouterConfig{
		Log:    zaptest.NewLogger(t),
		Tenant: []httpx.Handler{NewHandler(zaptest.NewLogger(t), svc)},
	})

	req := httptest.NewRequest(http.MethodPut, "/v1/shop", strings.NewReader(`{"name":"Atelier","currency":"NGN","timezone":"Mars/Olympus"}`))
	req.Header.Set(httpx.TenantHeader, "t1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodPut, "/v1/shop", strings.NewReader(`{"name":"Atelier","currency":"NGN","timezone":"Africa/Lagos"}`))
	req.Header.Set(httpx.TenantHeader, "t1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"event_topic":"erp.ecommerce.shop.created"`)

	req = httptest.NewRequest(http.MethodGet, "/v1/shop", nil)
	req.Header.Set(httpx.TenantHeader, "t1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"currency":"NGN"`)
}
