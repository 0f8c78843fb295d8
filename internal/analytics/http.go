package analytics

import (
	"net/http"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/httpx"
)

const prefixDashboard = "/v1/dashboard"

type Handler struct {
	chi.Router

	api *httpx.API
	svc *Service
}

func NewHandler(log *zap.Logger, svc *Service) *Handler {
	h := &Handler{api: httpx.NewAPI(log), svc: svc}
	r := chi.NewRouter()
	r.Get("/", h.handleDashboard)
	h.Router = r
	return h
}

func (h *Handler) Prefix() string {
	return prefixDashboard
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	from, err := httpx.TimeParam(r, "from")
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	to, err := httpx.TimeParam(r, "to")
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	// a bare date covers the whole day.
	if raw := httpx.Query(r, "to"); len(raw) == len("2006-01-02") {
		to = to.AddDate(0, 0, 1)
	}
	d, err := h.svc.Dashboard(r.Context(), httpx.TenantID(r.Context()), from, to)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, d, "erp.ecommerce.analytics.dashboard.read")
}
