package catalog

import (
	"net/http"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/httpx"
)

const prefixProducts = "/v1/products"

type Handler struct {
	chi.Router

	log *zap.Logger
	api *httpx.API
	svc *Service
}

func NewHandler(log *zap.Logger, svc *Service) *Handler {
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
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Post("/stock", h.handleAdjustStock)
	})

	h.Router = r
	return h
}

func (h *Handler) Prefix() string {
	return prefixProducts
}

func listFilter(r *http.Request) ListFilter {
	return ListFilter{
		Category: httpx.Query(r, "category"),
		Status:   normalizeStatus(httpx.Query(r, "status")),
		Kind:     normalizeKind(httpx.Query(r, "kind")),
		Query:    httpx.Query(r, "q"),
		Cursor:   httpx.Query(r, "cursor"),
		Limit:    httpx.Limit(r),
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.List(r.Context(), httpx.TenantID(r.Context()), listFilter(r))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, res.Items, res.NextCursor, res.Cached, "erp.ecommerce.product.listed")
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	plan, err := h.svc.ExplainList(r.Context(), httpx.TenantID(r.Context()), listFilter(r))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, map[string]any{"plan": plan, "event_topic": "erp.ecommerce.product.explain.generated"})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	p, err := h.svc.Create(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusCreated, p, "erp.ecommerce.product.created")
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, p, "erp.ecommerce.product.read")
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	p, err := h.svc.Update(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, p, "erp.ecommerce.product.updated")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := httpx.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), httpx.TenantID(r.Context()), id); err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, map[string]any{"id": id, "event_topic": "erp.ecommerce.product.deleted"})
}

func (h *Handler) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req AdjustStockRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	p, err := h.svc.AdjustStock(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, p, "erp.ecommerce.product.stock_adjusted")
}
