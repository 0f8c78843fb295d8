package order

import (
	"net/http"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/httpx"
)

const prefixOrders = "/v1/orders"

type Handler struct {
	chi.Router

	log *zap.Logger
	api *httpx.API
	svc OrderService
}

func NewHandler(log *zap.Logger, svc OrderService) *Handler {
	h := &Handler{
		log: log,
		api: httpx.NewAPI(log),
		svc: svc,
	}

	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Get("/_explain", h.handleExplain)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handleUpdate)
		r.Post("/status", h.handleStatus)
		r.Post("/cancel", h.handleCancel)
	})

	h.Router = r
	return h
}

func (h *Handler) Prefix() string {
	return prefixOrders
}

func listFilter(r *http.Request) ListFilter {
	return ListFilter{
		CustomerID:    httpx.Query(r, "customer_id"),
		Status:        normalizeStatus(httpx.Query(r, "status")),
		PaymentStatus: normalizePaymentStatus(httpx.Query(r, "payment_status")),
		Kind:          normalizeKind(httpx.Query(r, "kind")),
		Cursor:        httpx.Query(r, "cursor"),
		Limit:         httpx.Limit(r),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.List(r.Context(), httpx.TenantID(r.Context()), listFilter(r))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, res.Items, res.NextCursor, res.Cached, "erp.ecommerce.order.listed")
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.ExplainList(r.Context(), httpx.TenantID(r.Context()), listFilter(r))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, map[string]any{"plan": plan, "event_topic": "erp.ecommerce.order.explain.generated"})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	o, err := h.svc.Create(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusCreated, o, "erp.ecommerce.order.created")
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Get(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, o, "erp.ecommerce.order.read")
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	o, err := h.svc.Update(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, o, "erp.ecommerce.order.updated")
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	o, err := h.svc.Transition(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, o, "erp.ecommerce.order."+o.Status)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	// the reason is optional, so is the body.
	if r.ContentLength > 0 {
		if err := h.api.DecodeJSON(r, &req); err != nil {
			h.api.Err(w, r, err)
			return
		}
	}
	o, err := h.svc.Cancel(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, o, "erp.ecommerce.order.cancelled")
}
