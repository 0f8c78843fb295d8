package shop

import (
	"net/http"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/httpx"
)

const prefixShop = "/v1/shop"

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
	r.Get("/", h.handleGet)
	r.Put("/", h.handlePut)
	r.Patch("/", h.handlePatch)

	h.Router = r
	return h
}

func (h *Handler) Prefix() string {
	return prefixShop
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sh, err := h.svc.Get(r.Context(), httpx.TenantID(r.Context()))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, sh, "erp.ecommerce.shop.read")
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	var req UpsertShopRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	sh, created, err := h.svc.Put(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	if created {
		h.api.Item(w, r, http.StatusCreated, sh, "erp.ecommerce.shop.created")
		return
	}
	h.api.Item(w, r, http.StatusOK, sh, "erp.ecommerce.shop.updated")
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	var req UpdateShopRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	sh, err := h.svc.Update(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, sh, "erp.ecommerce.shop.updated")
}
