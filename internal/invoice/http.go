package invoice

import (
	"net/http"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/httpx"
)

const prefixInvoices = "/v1/invoices"

type Handler struct {
	chi.Router

	log *zap.Logger
	api *httpx.API
	svc InvoiceService
}

func NewHandler(log *zap.Logger, svc InvoiceService) *Handler {
	h := &Handler{
		log: log,
		api: httpx.NewAPI(log),
		svc: svc,
	}

	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/", h.handleCreate)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Post("/issue", h.handleIssue)
		r.Post("/void", h.handleVoid)
		r.Get("/document", h.handleDocument)
	})

	h.Router = r
	return h
}

func (h *Handler) Prefix() string {
	return prefixInvoices
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.List(r.Context(), httpx.TenantID(r.Context()), ListFilter{
		Status:     normalizeStatus(httpx.Query(r, "status")),
		CustomerID: httpx.Query(r, "customer_id"),
		OrderID:    httpx.Query(r, "order_id"),
		Cursor:     httpx.Query(r, "cursor"),
		Limit:      httpx.Limit(r),
	})
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, res.Items, res.NextCursor, res.Cached, "erp.ecommerce.invoice.listed")
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	inv, err := h.svc.Create(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusCreated, inv, "erp.ecommerce.invoice.created")
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.Get(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, inv, "erp.ecommerce.invoice.read")
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if r.ContentLength > 0 {
		if err := h.api.DecodeJSON(r, &req); err != nil {
			h.api.Err(w, r, err)
			return
		}
	}
	inv, err := h.svc.Issue(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, inv, "erp.ecommerce.invoice.issued")
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	var req VoidRequest
	if r.ContentLength > 0 {
		if err := h.api.DecodeJSON(r, &req); err != nil {
			h.api.Err(w, r, err)
			return
		}
	}
	inv, err := h.svc.Void(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, inv, "erp.ecommerce.invoice.voided")
}

func (h *Handler) handleDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Render(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), httpx.Query(r, "format"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	w.Header().Set("Content-Type", doc.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Body); err != nil {
		h.log.Debug("failed to write invoice document", zap.Error(err))
	}
}
