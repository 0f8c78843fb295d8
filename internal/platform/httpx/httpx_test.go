package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"erp/ecommerce/internal/platform/errors"
)

type echoHandler struct {
	chi.Router
	prefix string
}

func (h *echoHandler) Prefix() string { return h.prefix }

func newEcho(prefix string) *echoHandler {
	h := &echoHandler{Router: chi.NewRouter(), prefix: prefix}
	api := NewAPI(nil)
	h.Get("/", func(w http.ResponseWriter, r *http.Request) {
		api.Item(w, r, http.StatusOK, map[string]string{"tenant": TenantID(r.Context())}, "erp.ecommerce.echo.read")
	})
	h.Post("/", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name  string `json:"name" validate:"required"`
			Price string `json:"price" validate:"money"`
		}
		if err := api.DecodeJSON(r, &req); err != nil {
			api.Err(w, r, err)
			return
		}
		api.Item(w, r, http.StatusCreated, req, "erp.ecommerce.echo.created")
	})
	h.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		api.Err(w, r, errors.Wrap("echo.boom", assert.AnError))
	})
	return h
}

func newTestRouter(t *testing.T, secret string) http.Handler {
	return NewRouter(RouterConfig{
		Log:       zaptest.NewLogger(t),
		Module:    "ERP-eCommerce",
		Service:   "test-service",
		Mode:      "memory",
		JWTSecret: secret,
		Public:    []Handler{newEcho("/v1/echo/public")},
		Tenant:    []Handler{newEcho("/v1/echo")},
	})
}

func do(t *testing.T, h http.Handler, method, path, tenant, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tenant != "" {
		req.Header.Set(TenantHeader, tenant)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndSecurityHeaders(t *testing.T) {
	h := newTestRouter(t, "")
	rec := do(t, h, http.MethodGet, "/healthz", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	out := decode(t, rec)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, "memory", out["mode"])

	rec = do(t, h, http.MethodGet, "/metrics", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "erp_ecommerce_http_requests_total")
}

func TestTenantRequired(t *testing.T) {
	h := newTestRouter(t, "")
	rec := do(t, h, http.MethodGet, "/v1/echo", "", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.EInvalid, rec.Header().Get(PlatformErrorCodeHeader))
	assert.Equal(t, "missing X-Tenant-ID", decode(t, rec)["message"])

	rec = do(t, h, http.MethodGet, "/v1/echo", "tenant-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "erp.ecommerce.echo.read", out["event_topic"])
	assert.Equal(t, "tenant-1", out["item"].(map[string]any)["tenant"])

	rec = do(t, h, http.MethodGet, "/v1/echo/public", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestDecodeJSON(t *testing.T) {
	h := newTestRouter(t, "")
	for _, tt := range []struct {
		name string
		body string
		code int
		msg  string
	}{
		{"empty", "", http.StatusBadRequest, "request body is required"},
		{"malformed", "{", http.StatusBadRequest, "invalid JSON payload"},
		{"missing field", `{"price":"1"}`, http.StatusBadRequest, "name is required"},
		{"bad money", `{"name":"x","price":"-3"}`, http.StatusBadRequest, "price must be a non-negative amount"},
		{"too large", `{"name":"` + strings.Repeat("a", 1<<20) + `"}`, http.StatusRequestEntityTooLarge, "request body too large"},
		{"ok", `{"name":"kaftan","price":"12.50"}`, http.StatusCreated, ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/echo", "t1", "", tt.body)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.msg != "" {
				assert.Contains(t, decode(t, rec)["message"], tt.msg)
			}
		})
	}
}

func TestInternalErrorsAreHidden(t *testing.T) {
	h := newTestRouter(t, "")
	rec := do(t, h, http.MethodGet, "/v1/echo/boom", "t1", "", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "An internal error has occurred.", decode(t, rec)["message"])
}

func TestAuth(t *testing.T) {
	const secret = "s3cret"
	h := newTestRouter(t, secret)

	rec := do(t, h, http.MethodGet, "/v1/echo", "t1", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/echo", "t1", "garbage", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := IssueToken(secret, "t1", "admin", time.Hour)
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/v1/echo", "t1", tok, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/echo", "t2", tok, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	admin, err := IssueToken(secret, "", RoleSuperAdmin, time.Hour)
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/v1/echo", "t2", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)

	expired, err := IssueToken(secret, "t1", "admin", -time.Minute)
	require.NoError(t, err)
	rec = do(t, h, http.MethodGet, "/v1/echo", "t1", expired, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/echo/public", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLimit(t *testing.T) {
	for q, want := range map[string]int{"": 50, "?limit=0": 1, "?limit=500": 200, "?limit=x": 50, "?limit=20": 20} {
		r := httptest.NewRequest(http.MethodGet, "/"+q, nil)
		assert.Equal(t, want, Limit(r), q)
	}
}

func TestTimeParam(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?from=2026-01-02&to=2026-01-03T10:00:00Z&bad=yesterday", nil)
	from, err := TimeParam(r, "from")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), from)
	to, err := TimeParam(r, "to")
	require.NoError(t, err)
	assert.Equal(t, 10, to.Hour())
	_, err = TimeParam(r, "bad")
	require.True(t, errors.Is(err, errors.EInvalid))
}
