package customer

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/cursor"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/listcache"
	"erp/ecommerce/internal/platform/sqlstore"
)

// Audience kinds accepted by Audience.
const (
	AudienceAll  = "all"
	AudienceTag  = "tag"
	AudienceTier = "tier"
)

type Service struct {
	db    *sqlstore.DB
	log   *zap.Logger
	cache *listcache.Cache[listcache.Result[Customer]]
}

func NewService(db *sqlstore.DB, log *zap.Logger, cache *listcache.Cache[listcache.Result[Customer]]) *Service {
	return &Service{db: db, log: log, cache: cache}
}

var columns = []string{
	"id", "tenant_id", "name", "phone", "email", "whatsapp_opt_in", "sms_opt_in", "email_opt_in", "push_token",
	"tags", "notes", "loyalty_points", "tier", "measurements", "measured_at", "created_at", "updated_at",
}

func (s *Service) Create(ctx context.Context, tenantID string, req CreateCustomerRequest) (Customer, error) {
	c, err := buildCustomer(tenantID, req)
	if err != nil {
		return Customer{}, err
	}
	if s.phoneTaken(ctx, tenantID, c.Phone, "") {
		return Customer{}, errors.New(errors.EConflict, fmt.Sprintf("a customer with phone %s already exists", c.Phone))
	}
	c.ID = ids.New("cus")
	c.CreatedAt = sqlstore.Now()
	c.UpdatedAt = c.CreatedAt
	if len(c.Measurements) > 0 {
		at := c.CreatedAt
		c.MeasuredAt = &at
	}

	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Insert("customers").
		Columns(columns...).
		Values(c.ID, c.TenantID, c.Name, c.Phone, c.Email, c.WhatsAppOptIn, c.SMSOptIn, c.EmailOptIn, c.PushToken,
			c.Tags, c.Notes, c.LoyaltyPoints, c.Tier, c.Measurements, c.MeasuredAt, c.CreatedAt, c.UpdatedAt))
	if err != nil {
		return Customer{}, errors.Wrap("customer.Create", err)
	}
	s.cache.Invalidate(tenantID)
	return c, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Customer, error) {
	var c Customer
	err := sqlstore.Get(ctx, s.db, &c, s.db.Builder.
		Select(columns...).
		From("customers").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Customer{}, errors.NotFound("customer")
	}
	if err != nil {
		return Customer{}, errors.Wrap("customer.Get", err)
	}
	return c, nil
}

func (s *Service) filtered(tenantID string, tag, tier, q string) sq.SelectBuilder {
	b := s.db.Builder.Select(columns...).From("customers").Where(sq.Eq{"tenant_id": tenantID})
	if tag != "" {
		// tags is a JSON array of normalized strings.
		b = b.Where(sq.Like{"tags": `%"` + normalizeTag(tag) + `"%`})
	}
	if tier != "" {
		b = b.Where(sq.Eq{"tier": normalizeTier(tier)})
	}
	if q != "" {
		b = b.Where(sqlstore.Contains(q, "name", "phone", "email"))
	}
	return b
}

func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) (listcache.Result[Customer], error) {
	key := listcache.Key(tenantID, f.Tag, f.Tier, f.Query, strconv.Itoa(f.Limit))
	if f.Cursor == "" {
		if res, ok := s.cache.Get(key); ok {
			res.Cached = true
			return res, nil
		}
	}
	b, err := sqlstore.Page(s.filtered(tenantID, f.Tag, f.Tier, f.Query), f.Cursor, f.Limit)
	if err != nil {
		return listcache.Result[Customer]{}, err
	}
	var rows []Customer
	if err := sqlstore.Select(ctx, s.db, &rows, b); err != nil {
		return listcache.Result[Customer]{}, errors.Wrap("customer.List", err)
	}
	items, next := cursor.Page(rows, f.Limit, func(c Customer) (time.Time, string) { return c.CreatedAt, c.ID })
	if items == nil {
		items = []Customer{}
	}
	res := listcache.Result[Customer]{Items: items, NextCursor: next}
	if f.Cursor == "" {
		s.cache.Set(key, res)
	}
	return res, nil
}

// Audience returns every customer matching a campaign audience.
func (s *Service) Audience(ctx context.Context, tenantID, kind, value string) ([]Customer, error) {
	var b sq.SelectBuilder
	switch kind {
	case AudienceAll, "":
		b = s.filtered(tenantID, "", "", "")
	case AudienceTag:
		if value == "" {
			return nil, errors.New(errors.EInvalid, "audience tag is required")
		}
		b = s.filtered(tenantID, value, "", "")
	case AudienceTier:
		if normalizeTier(value) == "" {
			return nil, errors.Invalidf("unknown tier %q", value)
		}
		b = s.filtered(tenantID, "", value, "")
	default:
		return nil, errors.Invalidf("unknown audience %q", kind)
	}
	var out []Customer
	if err := sqlstore.Select(ctx, s.db, &out, b.OrderBy("created_at", "id")); err != nil {
		return nil, errors.Wrap("customer.Audience", err)
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, tenantID, id string, req UpdateCustomerRequest) (Customer, error) {
	if req.empty() {
		return Customer{}, errors.New(errors.EInvalid, "empty update payload")
	}
	c, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Customer{}, err
	}
	if err := req.apply(&c); err != nil {
		return Customer{}, err
	}
	if req.Phone != nil && s.phoneTaken(ctx, tenantID, c.Phone, c.ID) {
		return Customer{}, errors.New(errors.EConflict, fmt.Sprintf("a customer with phone %s already exists", c.Phone))
	}
	c.UpdatedAt = sqlstore.Now()
	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("customers").
		SetMap(map[string]any{
			"name":            c.Name,
			"phone":           c.Phone,
			"email":           c.Email,
			"whatsapp_opt_in": c.WhatsAppOptIn,
			"sms_opt_in":      c.SMSOptIn,
			"email_opt_in":    c.EmailOptIn,
			"push_token":      c.PushToken,
			"tags":            c.Tags,
			"notes":           c.Notes,
			"updated_at":      c.UpdatedAt,
		}).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if err != nil {
		return Customer{}, errors.Wrap("customer.Update", err)
	}
	s.cache.Invalidate(tenantID)
	return c, nil
}

func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		n, err := sqlstore.Exec(ctx, tx, s.db.Builder.Delete("customers").Where(sq.Eq{"tenant_id": tenantID, "id": id}))
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.NotFound("customer")
		}
		_, err = sqlstore.Exec(ctx, tx, s.db.Builder.Delete("customer_notes").Where(sq.Eq{"tenant_id": tenantID, "customer_id": id}))
		return err
	})
	if err != nil {
		return errors.Wrap("customer.Delete", err)
	}
	s.cache.Invalidate(tenantID)
	return nil
}

// SetMeasurements replaces the customer's measurements.
func (s *Service) SetMeasurements(ctx context.Context, tenantID, id string, req MeasurementsRequest) (Customer, error) {
	m, err := parseMeasurements(req.Measurements)
	if err != nil {
		return Customer{}, err
	}
	if len(m) == 0 {
		return Customer{}, errors.New(errors.EInvalid, "measurements are required")
	}
	now := sqlstore.Now()
	n, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("customers").
		Set("measurements", m).
		Set("measured_at", now).
		Set("updated_at", now).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if err != nil {
		return Customer{}, errors.Wrap("customer.SetMeasurements", err)
	}
	if n == 0 {
		return Customer{}, errors.NotFound("customer")
	}
	s.cache.Invalidate(tenantID)
	return s.Get(ctx, tenantID, id)
}

func (s *Service) AddNote(ctx context.Context, tenantID, id string, req NoteRequest) (Note, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return Note{}, err
	}
	n := Note{
		ID:         ids.New("note"),
		TenantID:   tenantID,
		CustomerID: id,
		Author:     req.Author,
		Body:       req.Body,
		CreatedAt:  sqlstore.Now(),
	}
	_, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Insert("customer_notes").
		Columns("id", "tenant_id", "customer_id", "author", "body", "created_at").
		Values(n.ID, n.TenantID, n.CustomerID, n.Author, n.Body, n.CreatedAt))
	if err != nil {
		return Note{}, errors.Wrap("customer.AddNote", err)
	}
	return n, nil
}

// Notes returns the customer's notes, newest first.
func (s *Service) Notes(ctx context.Context, tenantID, id string) ([]Note, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	out := []Note{}
	err := sqlstore.Select(ctx, s.db, &out, s.db.Builder.
		Select("id", "tenant_id", "customer_id", "author", "body", "created_at").
		From("customer_notes").
		Where(sq.Eq{"tenant_id": tenantID, "customer_id": id}).
		OrderBy("created_at DESC", "id DESC"))
	return out, errors.Wrap("customer.Notes", err)
}

// AdjustPoints adds delta to the loyalty balance and recomputes the tier.
// A balance may not go below zero.
func (s *Service) AdjustPoints(ctx context.Context, tenantID, id string, req PointsRequest) (Customer, error) {
	if req.Delta == 0 {
		return Customer{}, errors.New(errors.EInvalid, "delta must not be zero")
	}
	var c Customer
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		c, err = s.adjustPoints(ctx, tx, tenantID, id, req.Delta)
		return err
	})
	if err != nil {
		return Customer{}, errors.Wrap("customer.AdjustPoints", err)
	}
	s.cache.Invalidate(tenantID)
	s.log.Debug("loyalty points adjusted",
		zap.String("tenant_id", tenantID),
		zap.String("customer_id", id),
		zap.Int64("delta", req.Delta),
		zap.Int64("balance", c.LoyaltyPoints),
		zap.String("reason", req.Reason))
	return c, nil
}

// adjustPoints applies delta inside tx and recomputes the tier.
func (s *Service) adjustPoints(ctx context.Context, tx *sqlx.Tx, tenantID, id string, delta int64) (Customer, error) {
	var c Customer
	n, err := sqlstore.Exec(ctx, tx, s.db.Builder.
		Update("customers").
		Set("loyalty_points", sq.Expr("loyalty_points + ?", delta)).
		Set("updated_at", sqlstore.Now()).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}).
		Where(sq.GtOrEq{"loyalty_points": -delta}))
	if err != nil {
		return c, err
	}
	if err := sqlstore.Get(ctx, tx, &c, s.db.Builder.
		Select(columns...).
		From("customers").
		Where(sq.Eq{"tenant_id": tenantID, "id": id})); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return c, errors.NotFound("customer")
		}
		return c, err
	}
	if n == 0 {
		return c, errors.New(errors.EUnprocessableEntity,
			fmt.Sprintf("loyalty points cannot go below zero (have %d, delta %d)", c.LoyaltyPoints, delta))
	}
	if tier := TierFor(c.LoyaltyPoints); tier != c.Tier {
		c.Tier = tier
		_, err = sqlstore.Exec(ctx, tx, s.db.Builder.
			Update("customers").
			Set("tier", tier).
			Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	}
	return c, err
}

// AwardForOrder credits one point per whole currency unit of a paid order's
// total. Each order is credited at most once; later calls return the
// customer unchanged.
func (s *Service) AwardForOrder(ctx context.Context, tenantID, id, orderID string, total decimal.Decimal) (Customer, error) {
	points := total.Floor().IntPart()
	if points <= 0 {
		return s.Get(ctx, tenantID, id)
	}
	var (
		c       Customer
		awarded bool
	)
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		n, err := sqlstore.Exec(ctx, tx, s.db.Builder.
			Insert("loyalty_awards").
			Columns("tenant_id", "order_id", "customer_id", "points", "created_at").
			Values(tenantID, orderID, id, points, sqlstore.Now()).
			Suffix("ON CONFLICT (tenant_id, order_id) DO NOTHING"))
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		c, err = s.adjustPoints(ctx, tx, tenantID, id, points)
		awarded = err == nil
		return err
	})
	if err != nil {
		return Customer{}, errors.Wrap("customer.AwardForOrder", err)
	}
	if !awarded {
		return s.Get(ctx, tenantID, id)
	}
	s.cache.Invalidate(tenantID)
	s.log.Debug("loyalty points awarded",
		zap.String("tenant_id", tenantID),
		zap.String("customer_id", id),
		zap.String("order_id", orderID),
		zap.Int64("points", points))
	return c, nil
}

func (s *Service) phoneTaken(ctx context.Context, tenantID, phone, exceptID string) bool {
	b := s.db.Builder.Select("COUNT(*)").From("customers").Where(sq.Eq{"tenant_id": tenantID, "phone": phone})
	if exceptID != "" {
		b = b.Where(sq.NotEq{"id": exceptID})
	}
	var n int
	if err := sqlstore.Get(ctx, s.db, &n, b); err != nil {
		return false
	}
	return n > 0
}
