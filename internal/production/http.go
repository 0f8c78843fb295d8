package production

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/httpx"
)

const (
	prefixJobs  = "/v1/production-jobs"
	prefixBoard = "/v1/production-board"
)

type Handler struct {
	chi.Router

	log *zap.Logger
	api *httpx.API
	svc JobService
}

func NewHandler(log *zap.Logger, svc JobService) *Handler {
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
		r.Post("/move", h.handleMove)
		r.Post("/assign", h.handleAssign)
		r.Get("/history", h.handleHistory)
	})

	h.Router = r
	return h
}

func (h *Handler) Prefix() string {
	return prefixJobs
}

// BoardHandler serves the Kanban view.
type BoardHandler struct {
	chi.Router

	api *httpx.API
	svc JobService
}

func NewBoardHandler(log *zap.Logger, svc JobService) *BoardHandler {
	h := &BoardHandler{api: httpx.NewAPI(log), svc: svc}
	r := chi.NewRouter()
	r.Get("/", h.handleBoard)
	h.Router = r
	return h
}

func (h *BoardHandler) Prefix() string {
	return prefixBoard
}

// NewHandlers returns the job and board handlers.
func NewHandlers(log *zap.Logger, svc JobService) []httpx.Handler {
	return []httpx.Handler{NewHandler(log, svc), NewBoardHandler(log, svc)}
}

func (h *BoardHandler) handleBoard(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(httpx.Query(r, "include_cancelled"))
	b, err := h.svc.Board(r.Context(), httpx.TenantID(r.Context()), BoardFilter{
		AssignedTo:       httpx.Query(r, "assigned_to"),
		OrderID:          httpx.Query(r, "order_id"),
		IncludeCancelled: all,
	})
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, b, "erp.ecommerce.production.board.read")
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.List(r.Context(), httpx.TenantID(r.Context()), ListFilter{
		Stage:      normalizeStage(httpx.Query(r, "stage")),
		AssignedTo: httpx.Query(r, "assigned_to"),
		OrderID:    httpx.Query(r, "order_id"),
		Priority:   normalizePriority(httpx.Query(r, "priority")),
		Cursor:     httpx.Query(r, "cursor"),
		Limit:      httpx.Limit(r),
	})
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, res.Items, res.NextCursor, res.Cached, "erp.ecommerce.production.job.listed")
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	j, err := h.svc.Create(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusCreated, j, "erp.ecommerce.production.job.created")
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	j, err := h.svc.Get(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, j, "erp.ecommerce.production.job.read")
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateJobRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	j, err := h.svc.Update(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, j, "erp.ecommerce.production.job.updated")
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	var req MoveRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	j, err := h.svc.Move(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, j, "erp.ecommerce.production.job.moved")
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	j, err := h.svc.Assign(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, j, "erp.ecommerce.production.job.assigned")
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.svc.History(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, hist, "", false, "erp.ecommerce.production.job.history.read")
}
