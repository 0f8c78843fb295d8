package notify

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"erp/ecommerce/internal/customer"
	"erp/ecommerce/internal/platform/cursor"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/listcache"
	"erp/ecommerce/internal/platform/sqlstore"
)

const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
	CampaignFailed    = "failed"
)

// campaignFanOut bounds concurrent enqueues of one campaign.
const campaignFanOut = 8

type Campaign struct {
	ID            string             `json:"id" db:"id"`
	TenantID      string             `json:"tenant_id" db:"tenant_id"`
	Name          string             `json:"name" db:"name"`
	TemplateKey   string             `json:"template_key" db:"template_key"`
	Channels      sqlstore.Strings   `json:"channels" db:"channels"`
	AudienceType  string             `json:"audience_type" db:"audience_type"`
	AudienceValue string             `json:"audience_value,omitempty" db:"audience_value"`
	Vars          sqlstore.StringMap `json:"vars" db:"vars"`
	Status        string             `json:"status" db:"status"`
	ScheduledAt   *time.Time         `json:"scheduled_at,omitempty" db:"scheduled_at"`
	StartedAt     *time.Time         `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty" db:"completed_at"`
	Targeted      int                `json:"targeted" db:"targeted"`
	Queued        int                `json:"queued" db:"queued"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" db:"updated_at"`
}

type CreateCampaignRequest struct {
	Name          string            `json:"name" validate:"required,max=200"`
	TemplateKey   string            `json:"template_key" validate:"required,max=100"`
	Channels      []string          `json:"channels" validate:"max=4,dive,oneof=sms whatsapp push email"`
	AudienceType  string            `json:"audience_type" validate:"omitempty,oneof=all tag tier"`
	AudienceValue string            `json:"audience_value" validate:"max=100"`
	Vars          map[string]string `json:"vars"`
	ScheduledAt   *time.Time        `json:"scheduled_at"`
}

type UpdateCampaignRequest struct {
	Name          *string            `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	TemplateKey   *string            `json:"template_key,omitempty" validate:"omitempty,min=1,max=100"`
	Channels      *[]string          `json:"channels,omitempty" validate:"omitempty,max=4,dive,oneof=sms whatsapp push email"`
	AudienceType  *string            `json:"audience_type,omitempty" validate:"omitempty,oneof=all tag tier"`
	AudienceValue *string            `json:"audience_value,omitempty" validate:"omitempty,max=100"`
	Vars          *map[string]string `json:"vars,omitempty"`
	ScheduledAt   *time.Time         `json:"scheduled_at,omitempty"`
}

func (r UpdateCampaignRequest) empty() bool {
	return r.Name == nil && r.TemplateKey == nil && r.Channels == nil && r.AudienceType == nil &&
		r.AudienceValue == nil && r.Vars == nil && r.ScheduledAt == nil
}

type CampaignFilter struct {
	Status string
	Cursor string
	Limit  int
}

var campaignColumns = []string{
	"id", "tenant_id", "name", "template_key", "channels", "audience_type", "audience_value", "vars", "status",
	"scheduled_at", "started_at", "completed_at", "targeted", "queued", "created_at", "updated_at",
}

func normalizeAudience(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return customer.AudienceAll
	}
	return kind
}

func (s *Service) CreateCampaign(ctx context.Context, tenantID string, req CreateCampaignRequest) (Campaign, error) {
	channels, err := normalizeChannels(req.Channels)
	if err != nil {
		return Campaign{}, err
	}
	now := sqlstore.Now()
	c := Campaign{
		ID:            ids.New("cmp"),
		TenantID:      tenantID,
		Name:          strings.TrimSpace(req.Name),
		TemplateKey:   strings.ToLower(strings.TrimSpace(req.TemplateKey)),
		Channels:      channels,
		AudienceType:  normalizeAudience(req.AudienceType),
		AudienceValue: strings.TrimSpace(req.AudienceValue),
		Vars:          sqlstore.StringMap(req.Vars),
		Status:        CampaignDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if c.Vars == nil {
		c.Vars = sqlstore.StringMap{}
	}
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC().Truncate(time.Microsecond)
		c.ScheduledAt = &at
		c.Status = CampaignScheduled
	}
	if err := c.validate(); err != nil {
		return Campaign{}, err
	}
	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Insert("campaigns").
		Columns(campaignColumns...).
		Values(c.ID, c.TenantID, c.Name, c.TemplateKey, c.Channels, c.AudienceType, c.AudienceValue, c.Vars, c.Status,
			c.ScheduledAt, c.StartedAt, c.CompletedAt, c.Targeted, c.Queued, c.CreatedAt, c.UpdatedAt))
	if err != nil {
		return Campaign{}, errors.Wrap("notify.CreateCampaign", err)
	}
	return c, nil
}

func (c Campaign) validate() error {
	if c.Name == "" || c.TemplateKey == "" {
		return errors.New(errors.EInvalid, "name and template_key are required")
	}
	switch c.AudienceType {
	case customer.AudienceAll:
	case customer.AudienceTag, customer.AudienceTier:
		if c.AudienceValue == "" {
			return errors.Invalidf("audience_value is required for a %s audience", c.AudienceType)
		}
	default:
		return errors.Invalidf("unknown audience %q", c.AudienceType)
	}
	return nil
}

func (s *Service) Campaign(ctx context.Context, tenantID, id string) (Campaign, error) {
	var c Campaign
	err := sqlstore.Get(ctx, s.db, &c, s.db.Builder.
		Select(campaignColumns...).
		From("campaigns").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Campaign{}, errors.NotFound("campaign")
	}
	if err != nil {
		return Campaign{}, errors.Wrap("notify.Campaign", err)
	}
	return c, nil
}

func (s *Service) Campaigns(ctx context.Context, tenantID string, f CampaignFilter) (listcache.Result[Campaign], error) {
	b := s.db.Builder.Select(campaignColumns...).From("campaigns").Where(sq.Eq{"tenant_id": tenantID})
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": strings.ToLower(f.Status)})
	}
	b, err := sqlstore.Page(b, f.Cursor, f.Limit)
	if err != nil {
		return listcache.Result[Campaign]{}, err
	}
	var rows []Campaign
	if err := sqlstore.Select(ctx, s.db, &rows, b); err != nil {
		return listcache.Result[Campaign]{}, errors.Wrap("notify.Campaigns", err)
	}
	items, next := cursor.Page(rows, f.Limit, func(c Campaign) (time.Time, string) { return c.CreatedAt, c.ID })
	if items == nil {
		items = []Campaign{}
	}
	return listcache.Result[Campaign]{Items: items, NextCursor: next}, nil
}

// UpdateCampaign edits a campaign that has not started yet.
func (s *Service) UpdateCampaign(ctx context.Context, tenantID, id string, req UpdateCampaignRequest) (Campaign, error) {
	if req.empty() {
		return Campaign{}, errors.New(errors.EInvalid, "empty update payload")
	}
	c, err := s.Campaign(ctx, tenantID, id)
	if err != nil {
		return Campaign{}, err
	}
	if c.Status != CampaignDraft && c.Status != CampaignScheduled {
		return Campaign{}, errors.Invalidf("campaign is %s and can no longer be edited", c.Status)
	}
	if req.Name != nil {
		c.Name = strings.TrimSpace(*req.Name)
	}
	if req.TemplateKey != nil {
		c.TemplateKey = strings.ToLower(strings.TrimSpace(*req.TemplateKey))
	}
	if req.Channels != nil {
		if c.Channels, err = normalizeChannels(*req.Channels); err != nil {
			return Campaign{}, err
		}
	}
	if req.AudienceType != nil {
		c.AudienceType = normalizeAudience(*req.AudienceType)
	}
	if req.AudienceValue != nil {
		c.AudienceValue = strings.TrimSpace(*req.AudienceValue)
	}
	if req.Vars != nil {
		c.Vars = sqlstore.StringMap(*req.Vars)
	}
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC().Truncate(time.Microsecond)
		c.ScheduledAt = &at
		c.Status = CampaignScheduled
	}
	if err := c.validate(); err != nil {
		return Campaign{}, err
	}
	c.UpdatedAt = sqlstore.Now()
	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("campaigns").
		SetMap(map[string]any{
			"name":           c.Name,
			"template_key":   c.TemplateKey,
			"channels":       c.Channels,
			"audience_type":  c.AudienceType,
			"audience_value": c.AudienceValue,
			"vars":           c.Vars,
			"status":         c.Status,
			"scheduled_at":   c.ScheduledAt,
			"updated_at":     c.UpdatedAt,
		}).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if err != nil {
		return Campaign{}, errors.Wrap("notify.UpdateCampaign", err)
	}
	return c, nil
}

func (s *Service) CancelCampaign(ctx context.Context, tenantID, id string) (Campaign, error) {
	ok, err := s.moveCampaign(ctx, tenantID, id, []string{CampaignDraft, CampaignScheduled}, map[string]any{"status": CampaignCancelled})
	if err != nil {
		return Campaign{}, err
	}
	c, err := s.Campaign(ctx, tenantID, id)
	if err != nil {
		return Campaign{}, err
	}
	if !ok {
		return Campaign{}, errors.Invalidf("campaign is %s and cannot be cancelled", c.Status)
	}
	return c, nil
}

func (s *Service) DeleteCampaign(ctx context.Context, tenantID, id string) error {
	c, err := s.Campaign(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if c.Status == CampaignSending {
		return errors.New(errors.EConflict, "campaign is sending")
	}
	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.Delete("campaigns").Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	return errors.Wrap("notify.DeleteCampaign", err)
}

func (s *Service) moveCampaign(ctx context.Context, tenantID, id string, from []string, set map[string]any) (bool, error) {
	set["updated_at"] = sqlstore.Now()
	n, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("campaigns").
		SetMap(set).
		Where(sq.Eq{"tenant_id": tenantID, "id": id, "status": from}))
	if err != nil {
		return false, errors.Wrap("notify.moveCampaign", err)
	}
	return n == 1, nil
}

// SendCampaign queues one message per customer in the campaign's audience.
func (s *Service) SendCampaign(ctx context.Context, tenantID, id string) (Campaign, error) {
	c, err := s.Campaign(ctx, tenantID, id)
	if err != nil {
		return Campaign{}, err
	}
	started := sqlstore.Now()
	ok, err := s.moveCampaign(ctx, tenantID, id, []string{CampaignDraft, CampaignScheduled},
		map[string]any{"status": CampaignSending, "started_at": started})
	if err != nil {
		return Campaign{}, err
	}
	if !ok {
		return Campaign{}, errors.Invalidf("campaign is %s and cannot be sent", c.Status)
	}

	audience, err := s.contacts.Audience(ctx, tenantID, c.AudienceType, c.AudienceValue)
	if err != nil {
		_, _ = s.moveCampaign(ctx, tenantID, id, []string{CampaignSending}, map[string]any{"status": c.Status, "started_at": nil})
		return Campaign{}, err
	}

	var queued int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(campaignFanOut)
	for _, cu := range audience {
		g.Go(func() error {
			_, err := s.Enqueue(gctx, Message{
				TenantID:    tenantID,
				CustomerID:  cu.ID,
				TemplateKey: c.TemplateKey,
				Channels:    c.Channels,
				Vars:        c.Vars,
				CampaignID:  c.ID,
			})
			if err != nil {
				return err
			}
			atomic.AddInt64(&queued, 1)
			return nil
		})
	}
	gerr := g.Wait()

	status := CampaignCompleted
	if gerr != nil {
		status = CampaignFailed
	}
	// the outcome is recorded even when the caller has gone away.
	if _, err := s.moveCampaign(context.WithoutCancel(ctx), tenantID, id, []string{CampaignSending}, map[string]any{
		"status":       status,
		"completed_at": sqlstore.Now(),
		"targeted":     len(audience),
		"queued":       int(queued),
	}); err != nil {
		return Campaign{}, multierr.Append(gerr, err)
	}
	log := s.log.With(
		zap.String("tenant_id", tenantID),
		zap.String("campaign_id", id),
		zap.Int("targeted", len(audience)),
		zap.Int64("queued", queued))
	if gerr != nil {
		log.Warn("campaign failed", zap.Error(gerr))
		return Campaign{}, errors.Wrap("notify.SendCampaign", gerr)
	}
	log.Info("campaign queued")
	return s.Campaign(ctx, tenantID, id)
}

// StartDueCampaigns sends every scheduled campaign whose time has come.
func (s *Service) StartDueCampaigns(ctx context.Context) (int, error) {
	var due []Campaign
	err := sqlstore.Select(ctx, s.db, &due, s.db.Builder.
		Select(campaignColumns...).
		From("campaigns").
		Where(sq.Eq{"status": CampaignScheduled}).
		Where(sq.LtOrEq{"scheduled_at": sqlstore.Now()}).
		OrderBy("scheduled_at", "id"))
	if err != nil {
		return 0, errors.Wrap("notify.StartDueCampaigns", err)
	}
	var started int
	for _, c := range due {
		if _, err := s.SendCampaign(ctx, c.TenantID, c.ID); err != nil {
			s.log.Warn("scheduled campaign failed to start",
				zap.String("tenant_id", c.TenantID), zap.String("campaign_id", c.ID), zap.Error(err))
			continue
		}
		started++
	}
	return started, nil
}
