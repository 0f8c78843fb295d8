package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryServesDomainCounters(t *testing.T) {
	reg := NewRegistry()
	sent := Counter(reg, "notify", "messages_total", "Messages by channel and status.", "channel", "status")
	sent.WithLabelValues("sms", "sent").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `erp_ecommerce_notify_messages_total{channel="sms",status="sent"} 1`), body)
	require.Contains(t, body, "go_goroutines")
}
