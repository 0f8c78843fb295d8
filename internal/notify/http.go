package notify

import (
	"net/http"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/httpx"
)

const (
	prefixTemplates = "/v1/notification-templates"
	prefixMessages  = "/v1/notifications"
	prefixLogs      = "/v1/notification-logs"
	prefixCampaigns = "/v1/campaigns"
)

// Handler serves one notification resource under its prefix.
type Handler struct {
	chi.Router

	prefix string
	log    *zap.Logger
	api    *httpx.API
	svc    *Service
}

func (h *Handler) Prefix() string {
	return h.prefix
}

func newHandler(prefix string, log *zap.Logger, svc *Service) *Handler {
	return &Handler{prefix: prefix, log: log, api: httpx.NewAPI(log), svc: svc}
}

// NewHandlers returns the template, message, log and campaign handlers.
func NewHandlers(log *zap.Logger, svc *Service) []httpx.Handler {
	return []httpx.Handler{
		NewTemplateHandler(log, svc),
		NewMessageHandler(log, svc),
		NewLogHandler(log, svc),
		NewCampaignHandler(log, svc),
	}
}

func NewTemplateHandler(log *zap.Logger, svc *Service) *Handler {
	h := newHandler(prefixTemplates, log, svc)
	r := chi.NewRouter()
	r.Get("/", h.handleListTemplates)
	r.Post("/", h.handleCreateTemplate)
	r.Post("/_seed", h.handleSeedTemplates)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGetTemplate)
		r.Patch("/", h.handleUpdateTemplate)
		r.Delete("/", h.handleDeleteTemplate)
		r.Post("/preview", h.handlePreview)
	})
	h.Router = r
	return h
}

func NewMessageHandler(log *zap.Logger, svc *Service) *Handler {
	h := newHandler(prefixMessages, log, svc)
	r := chi.NewRouter()
	r.Post("/send", h.handleSend)
	r.Get("/queue/{id}", h.handleQueueItem)
	h.Router = r
	return h
}

func NewLogHandler(log *zap.Logger, svc *Service) *Handler {
	h := newHandler(prefixLogs, log, svc)
	r := chi.NewRouter()
	r.Get("/", h.handleLogs)
	h.Router = r
	return h
}

func NewCampaignHandler(log *zap.Logger, svc *Service) *Handler {
	h := newHandler(prefixCampaigns, log, svc)
	r := chi.NewRouter()
	r.Get("/", h.handleListCampaigns)
	r.Post("/", h.handleCreateCampaign)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGetCampaign)
		r.Patch("/", h.handleUpdateCampaign)
		r.Delete("/", h.handleDeleteCampaign)
		r.Post("/send", h.handleSendCampaign)
		r.Post("/cancel", h.handleCancelCampaign)
	})
	h.Router = r
	return h
}

func (h *Handler) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Templates().List(r.Context(), httpx.TenantID(r.Context()), TemplateFilter{
		Key:     httpx.Query(r, "key"),
		Channel: httpx.Query(r, "channel"),
	})
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, items, "", false, "erp.ecommerce.notification_template.listed")
}

func (h *Handler) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	tpl, err := h.svc.Templates().Create(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusCreated, tpl, "erp.ecommerce.notification_template.created")
}

func (h *Handler) handleSeedTemplates(w http.ResponseWriter, r *http.Request) {
	tenantID := httpx.TenantID(r.Context())
	if err := h.svc.Templates().SeedDefaults(r.Context(), tenantID); err != nil {
		h.api.Err(w, r, err)
		return
	}
	items, err := h.svc.Templates().List(r.Context(), tenantID, TemplateFilter{})
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, items, "", false, "erp.ecommerce.notification_template.seeded")
}

func (h *Handler) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.svc.Templates().Get(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, tpl, "erp.ecommerce.notification_template.read")
}

func (h *Handler) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req UpdateTemplateRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	tpl, err := h.svc.Templates().Update(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, tpl, "erp.ecommerce.notification_template.updated")
}

func (h *Handler) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := httpx.URLParam(r, "id")
	if err := h.svc.Templates().Delete(r.Context(), httpx.TenantID(r.Context()), id); err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, map[string]any{"id": id, "event_topic": "erp.ecommerce.notification_template.deleted"})
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	p, err := h.svc.Templates().Preview(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req.Vars)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, p, "erp.ecommerce.notification_template.previewed")
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	m := req.message(httpx.TenantID(r.Context()))
	if req.Queue {
		id, err := h.svc.Enqueue(r.Context(), m)
		if err != nil {
			h.api.Err(w, r, err)
			return
		}
		h.api.Item(w, r, http.StatusAccepted, map[string]string{"id": id, "status": QueueQueued}, "erp.ecommerce.notification.queued")
		return
	}
	d, err := h.svc.Send(r.Context(), m)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, d, "erp.ecommerce.notification."+d.Status)
}

func (h *Handler) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.QueueItem(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, q, "erp.ecommerce.notification.queue.read")
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Logs(r.Context(), httpx.TenantID(r.Context()), LogFilter{
		Channel:    httpx.Query(r, "channel"),
		Status:     httpx.Query(r, "status"),
		CustomerID: httpx.Query(r, "customer_id"),
		CampaignID: httpx.Query(r, "campaign_id"),
		Cursor:     httpx.Query(r, "cursor"),
		Limit:      httpx.Limit(r),
	})
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, res.Items, res.NextCursor, res.Cached, "erp.ecommerce.notification_log.listed")
}

func (h *Handler) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Campaigns(r.Context(), httpx.TenantID(r.Context()), CampaignFilter{
		Status: httpx.Query(r, "status"),
		Cursor: httpx.Query(r, "cursor"),
		Limit:  httpx.Limit(r),
	})
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.List(w, r, res.Items, res.NextCursor, res.Cached, "erp.ecommerce.campaign.listed")
}

func (h *Handler) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	c, err := h.svc.CreateCampaign(r.Context(), httpx.TenantID(r.Context()), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusCreated, c, "erp.ecommerce.campaign.created")
}

func (h *Handler) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Campaign(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, c, "erp.ecommerce.campaign.read")
}

func (h *Handler) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req UpdateCampaignRequest
	if err := h.api.DecodeJSON(r, &req); err != nil {
		h.api.Err(w, r, err)
		return
	}
	c, err := h.svc.UpdateCampaign(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"), req)
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, c, "erp.ecommerce.campaign.updated")
}

func (h *Handler) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := httpx.URLParam(r, "id")
	if err := h.svc.DeleteCampaign(r.Context(), httpx.TenantID(r.Context()), id); err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Respond(w, r, http.StatusOK, map[string]any{"id": id, "event_topic": "erp.ecommerce.campaign.deleted"})
}

func (h *Handler) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.SendCampaign(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, c, "erp.ecommerce.campaign.sent")
}

func (h *Handler) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.CancelCampaign(r.Context(), httpx.TenantID(r.Context()), httpx.URLParam(r, "id"))
	if err != nil {
		h.api.Err(w, r, err)
		return
	}
	h.api.Item(w, r, http.StatusOK, c, "erp.ecommerce.campaign.cancelled")
}
