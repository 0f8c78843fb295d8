package payment

import (
	"io"
	"net/http"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/httpx"
)

const (
	prefixPayments = "/v1/payments"
	prefixWebhook  = "/v1/payments/webhook"
)

const maxWebhookBytes = 1 << 20

type Handler struct {
	chi.Router

	log *zap.Logger
	api *httpx.API
	svc PaymentService
}

func NewHandler(log *zap.Logger, svc PaymentService) *Handler {
	h := &Handler{
		log: log,
		api: httpx.NewAPI(log),
		svc: svc,
	}

	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Post("/initialize", h.handleInitialize)
	r.Post("/manual", h.handleManual)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/confirm", h.handleConfirm)

	h.Router = r
	return h
}

func (h *Handler) Prefix() string {
	return prefixPayments
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.List(r.Context(), httpx.TenantID(r.Context()), ListFilter{
		OrderID: httpx.Query(r, "order_id"),
		Status:  normalizeStatus(httpx.Query(r, "status")),
		Cursor:  httpx.Query(r, "cursor"),
		Limit:   httpx.Limit(r),
	})
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, res.Items, res.NextCursor, res.Cached, "erp.ecommerce.payment.listed")
}

func (h *Handler) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	p, err := h.svc.Initialize(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusCreated, p, "erp.ecommerce.payment.initialized")
}

func (h *Handler) handleManual(w http.ResponseWriter, r *http.Request) {
	var req ManualRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	p, err := h.svc.RecordManual(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusCreated, p, "erp.ecommerce.payment."+p.Status)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, p, "erp.ecommerce.payment.read")
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Confirm(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, p, "erp.ecommerce.payment."+p.Status)
}

// WebhookHandler receives gateway callbacks. It is mounted outside the
// tenant group: the signature authenticates the caller and the payment
// reference identifies the tenant.
type WebhookHandler struct {
	chi.Router

	log *zap.Logger
	api *httpx.API
	svc PaymentService
}

func NewWebhookHandler(log *zap.Logger, svc PaymentService) *WebhookHandler {
	h := &WebhookHandler{
		log: log,
		api: httpx.NewAPI(log),
		svc: svc,
	}
	r := chi.NewRouter()
	r.Post("/", h.handleWebhook)
	h.Router = r
	return h
}

func (h *WebhookHandler) Prefix() string {
	return prefixWebhook
}

func (h *WebhookHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		h.api.Err(w, r, errors.New(errors.EInvalid, "unreadable webhook body"))
		return
	}
	if len(body) > maxWebhookBytes {
		h.api.Err(w, r, errors.New(errors.ETooLarge, "request body too large"))
		return
	}
	res, err := h.svc.Webhook(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, res, "erp.ecommerce.payment.webhook.received")
}
