package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	ua "github.com/mileusna/useragent"
	"github.com/prometheus/client_golang/prometheus"

	"erp/ecommerce/internal/platform/errors"
)

// Middleware constructor.
type Middleware func(http.Handler) http.Handler

type ctxKey string

const tenantKey ctxKey = "tenant_id"

// TenantHeader identifies the shop a request acts on.
const TenantHeader = "X-Tenant-ID"

// SecurityHeaders sets the response headers every service sends.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// Tenant requires the X-Tenant-ID header and stores it in the request context.
func Tenant(api *API) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
			if tenantID == "" {
				api.Err(w, r, errors.New(errors.EInvalid, "missing X-Tenant-ID"))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
		})
	}
}

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantID returns the tenant stored by the Tenant middleware, or "".
func TenantID(ctx context.Context) string {
	v, _ := ctx.Value(tenantKey).(string)
	return v
}

// Metrics records request counts and durations for 2XX and 5XX responses.
func Metrics(name string, reqMetric *prometheus.CounterVec, durMetric *prometheus.HistogramVec) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func(start time.Time) {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				if !reportFromCode(status) {
					return
				}
				label := prometheus.Labels{
					"handler":       name,
					"method":        r.Method,
					"path":          routePattern(r),
					"status":        strconv.Itoa(status/100) + "XX",
					"response_code": strconv.Itoa(status),
					"user_agent":    UserAgent(r),
				}
				durMetric.With(label).Observe(time.Since(start).Seconds())
				reqMetric.With(label).Inc()
			}(time.Now())

			next.ServeHTTP(ww, r)
		})
	}
}

// MetricLabels are the label names Metrics expects on its vectors.
var MetricLabels = []string{"handler", "method", "path", "status", "response_code", "user_agent"}

func UserAgent(r *http.Request) string {
	header := r.Header.Get("User-Agent")
	if header == "" {
		return "unknown"
	}
	name := ua.Parse(header).Name
	if name == "" {
		return "other"
	}
	return name
}

// routePattern keeps the path label bounded by using the matched chi route
// instead of the raw path.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || len(rctx.RoutePatterns) == 0 {
		return "unmatched"
	}
	p := strings.Join(rctx.RoutePatterns, "")
	p = strings.ReplaceAll(p, "/*/", "/")
	return strings.TrimSuffix(p, "/*")
}

func reportFromCode(c int) bool {
	return (c >= 200 && c <= 299) || (c >= 500 && c <= 599)
}
