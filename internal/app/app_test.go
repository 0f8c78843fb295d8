package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"erp/ecommerce/internal/platform/config"
	"erp/ecommerce/internal/platform/httpx"
	"erp/ecommerce/internal/platform/metrics"
	"erp/ecommerce/internal/platform/sqlstore/sqlstoretest"
)

func newApp(t *testing.T, secret string) *App {
	t.Helper()
	cfg := config.Load(config.New(), "test-service")
	cfg.JWTSecret = secret
	return Build(cfg, zaptest.NewLogger(t), sqlstoretest.New(t), metrics.NewRegistry())
}

type client struct {
	t     *testing.T
	h     http.Handler
	token string
}

func (c client) do(method, path, body string) (int, map[string]any) {
	c.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(httpx.TenantHeader, "t1")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func item(out map[string]any) map[string]any {
	m, _ := out["item"].(map[string]any)
	return m
}

func TestCustomOrderFlow(t *testing.T) {
	a := newApp(t, "")
	h, err := a.Router()
	require.NoError(t, err)
	c := client{t: t, h: h}

	code, out := c.do(http.MethodPut, "/v1/shop", `{"name":"Adire House","currency":"NGN"}`)
	require.Equal(t, http.StatusCreated, code, out)

	code, out = c.do(http.MethodPost, "/v1/customers", `{"name":"Amina Bello","phone":"+2348035550101","measurements":{"chest":"40"}}`)
	require.Equal(t, http.StatusCreated, code, out)
	customerID := item(out)["id"].(string)

	code, out = c.do(http.MethodPost, "/v1/orders", `{"customer_id":"`+customerID+`","items":[{"name":"Agbada","quantity":1,"unit_price":"50000","garment_type":"agbada"}]}`)
	require.Equal(t, http.StatusCreated, code, out)
	ord := item(out)
	orderID := ord["id"].(string)
	assert.Equal(t, "pending", ord["status"])

	code, out = c.do(http.MethodPost, "/v1/payments/manual", `{"order_id":"`+orderID+`","method":"cash","amount":"`+ord["total"].(string)+`"}`)
	require.Equal(t, http.StatusCreated, code, out)

	code, out = c.do(http.MethodGet, "/v1/orders/"+orderID, "")
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "confirmed", item(out)["status"])
	assert.Equal(t, "paid", item(out)["payment_status"])

	code, out = c.do(http.MethodGet, "/v1/production-board", "")
	require.Equal(t, http.StatusOK, code, out)
	assert.EqualValues(t, 1, item(out)["total"])

	code, out = c.do(http.MethodPost, "/v1/invoices", `{"order_id":"`+orderID+`","issue":true}`)
	require.Equal(t, http.StatusCreated, code, out)
	assert.Equal(t, "paid", item(out)["status"])

	code, out = c.do(http.MethodGet, "/v1/dashboard", "")
	require.Equal(t, http.StatusOK, code, out)
	assert.EqualValues(t, 1, item(out)["paid_orders"])
	assert.EqualValues(t, 1, item(out)["new_customers"])

	n, err := a.Notify.ProcessQueue(context.Background(), 50)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestRouterGroups(t *testing.T) {
	a := newApp(t, "")
	h, err := a.Router(GroupCustomer, GroupPayment)
	require.NoError(t, err)
	c := client{t: t, h: h}

	code, _ := c.do(http.MethodGet, "/v1/customers", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = c.do(http.MethodGet, "/v1/orders", "")
	assert.Equal(t, http.StatusNotFound, code)

	// the webhook is public and reaches the service without a tenant.
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/webhook", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusNotFound, rec.Code)
	assert.NotEqual(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	_, err = newApp(t, "").Router("loyalty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown handler group "loyalty"`)
}

func TestRouterAuth(t *testing.T) {
	a := newApp(t, "s3cret")
	h, err := a.Router(GroupShop)
	require.NoError(t, err)

	code, _ := client{t: t, h: h}.do(http.MethodGet, "/v1/shop", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	tok, err := httpx.IssueToken("s3cret", "t1", "admin", time.Hour)
	require.NoError(t, err)
	code, out := client{t: t, h: h, token: tok}.do(http.MethodPut, "/v1/shop", `{"name":"Adire House"}`)
	assert.Equal(t, http.StatusCreated, code, out)
}
