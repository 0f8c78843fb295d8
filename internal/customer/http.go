package customer

import (
	"net/http"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/httpx"
)

const prefixCustomers = "/v1/customers"

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
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Put("/measurements", h.handleMeasurements)
		r.Get("/notes", h.handleListNotes)
		r.Post("/notes", h.handleAddNote)
		r.Post("/points", h.handlePoints)
	})

	h.Router = r
	return h
}

func (h *Handler) Prefix() string {
	return prefixCustomers
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.List(r.Context(), httpx.TenantID(r.Context()), ListFilter{
		Tag:    httpx.Query(r, "tag"),
		Tier:   httpx.Query(r, "tier"),
		Query:  httpx.Query(r, "q"),
		Cursor: httpx.Query(r, "cursor"),
		Limit:  httpx.Limit(r),
	})
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, res.Items, res.NextCursor, res.Cached, "erp.ecommerce.customer.listed")
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	c, err := h.svc.Create(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusCreated, c, "erp.ecommerce.customer.created")
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, c, "erp.ecommerce.customer.read")
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateCustomerRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	c, err := h.svc.Update(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, c, "erp.ecommerce.customer.updated")
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := httpx.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), httpx.TenantID(r.Context()), id); err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, map[string]any{"id": id, "event_topic": "erp.ecommerce.customer.deleted"})
}

func (h *Handler) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	var req MeasurementsRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	c, err := h.svc.SetMeasurements(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, c, "erp.ecommerce.customer.measured")
}

func (h *Handler) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.svc.Notes(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, notes, "", false, "erp.ecommerce.customer.note.listed")
}

func (h *Handler) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var req NoteRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	n, err := h.svc.AddNote(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusCreated, n, "erp.ecommerce.customer.note.created")
}

func (h *Handler) handlePoints(w http.ResponseWriter, r *http.Request) {
	var req PointsRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	c, err := h.svc.AdjustPoints(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, c, "erp.ecommerce.customer.points_adjusted")
}
