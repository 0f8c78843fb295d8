package fulfillment

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"erp/ecommerce/internal/notify"
	"erp/ecommerce/internal/order"
	"erp/ecommerce/internal/platform/cursor"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/listcache"
	"erp/ecommerce/internal/platform/sqlstore"
)

type Orders interface {
	Get(ctx context.Context, tenantID, id string) (order.Order, error)
	Transition(ctx context.Context, tenantID, id string, req order.StatusRequest) (order.Order, error)
}

type Notifier interface {
	Enqueue(ctx context.Context, m notify.Message) (string, error)
}

type Service struct {
	db       *sqlstore.DB
	log      *zap.Logger
	orders   Orders
	notifier Notifier
	cache    *listcache.Cache[listcache.Result[Shipment]]
	now      func() time.Time
}

func NewService(db *sqlstore.DB, log *zap.Logger, orders Orders, notifier Notifier, cache *listcache.Cache[listcache.Result[Shipment]]) *Service {
	return &Service{
		db:       db,
		log:      log,
		orders:   orders,
		notifier: notifier,
		cache:    cache,
		now:      sqlstore.Now,
	}
}

var columns = []string{
	"id", "tenant_id", "order_id", "carrier", "tracking_number", "service_type", "status", "notes",
	"packed_at", "shipped_at", "delivered_at", "created_at", "updated_at",
}

func (s *Service) Create(ctx context.Context, tenantID string, req CreateShipmentRequest) (Shipment, error) {
	o, err := s.orders.Get(ctx, tenantID, req.OrderID)
	if err != nil {
		if errors.Is(err, errors.ENotFound) {
			return Shipment{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("order %s not found", req.OrderID))
		}
		return Shipment{}, err
	}
	if o.Status == order.StatusCancelled || o.Status == order.StatusDelivered {
		return Shipment{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("order %s is %s", o.Number, o.Status))
	}
	now := s.now()
	sh := Shipment{
		ID:             ids.New("ful"),
		TenantID:       tenantID,
		OrderID:        o.ID,
		Carrier:        strings.TrimSpace(req.Carrier),
		TrackingNumber: strings.TrimSpace(req.TrackingNumber),
		ServiceType:    strings.ToLower(strings.TrimSpace(req.ServiceType)),
		Status:         StatusPending,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if sh.ServiceType == "" {
		sh.ServiceType = DefaultServiceType
	}
	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Insert("shipments").
		Columns(columns...).
		Values(sh.ID, sh.TenantID, sh.OrderID, sh.Carrier, sh.TrackingNumber, sh.ServiceType, sh.Status, sh.Notes,
			sh.PackedAt, sh.ShippedAt, sh.DeliveredAt, sh.CreatedAt, sh.UpdatedAt))
	if err != nil {
		return Shipment{}, errors.Wrap("fulfillment.Create", err)
	}
	s.cache.Invalidate(tenantID)
	return sh, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Shipment, error) {
	var sh Shipment
	err := sqlstore.Get(ctx, s.db, &sh, s.db.Builder.
		Select(columns...).
		From("shipments").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Shipment{}, errors.NotFound("shipment")
	}
	if err != nil {
		return Shipment{}, errors.Wrap("fulfillment.Get", err)
	}
	return sh, nil
}

func (s *Service) listQuery(tenantID string, f ListFilter) sq.SelectBuilder {
	b := s.db.Builder.Select(columns...).From("shipments").Where(sq.Eq{"tenant_id": tenantID})
	if f.OrderID != "" {
		b = b.Where(sq.Eq{"order_id": f.OrderID})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.Carrier != "" {
		b = b.Where(sq.Eq{"LOWER(carrier)": strings.ToLower(f.Carrier)})
	}
	return b
}

// List returns one page of shipments; first pages are served from the list cache.
func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) (listcache.Result[Shipment], error) {
	key := listcache.Key(tenantID, f.OrderID, f.Status, f.Carrier, strconv.Itoa(f.Limit))
	if f.Cursor == "" {
		if res, ok := s.cache.Get(key); ok {
			res.Cached = true
			return res, nil
		}
	}
	b, err := sqlstore.Page(s.listQuery(tenantID, f), f.Cursor, f.Limit)
	if err != nil {
		return listcache.Result[Shipment]{}, err
	}
	var rows []Shipment
	if err := sqlstore.Select(ctx, s.db, &rows, b); err != nil {
		return listcache.Result[Shipment]{}, errors.Wrap("fulfillment.List", err)
	}
	items, next := cursor.Page(rows, f.Limit, func(sh Shipment) (time.Time, string) { return sh.CreatedAt, sh.ID })
	if items == nil {
		items = []Shipment{}
	}
	res := listcache.Result[Shipment]{Items: items, NextCursor: next}
	if f.Cursor == "" {
		s.cache.Set(key, res)
	}
	return res, nil
}

func (s *Service) ExplainList(ctx context.Context, tenantID string, f ListFilter) (any, error) {
	b, err := sqlstore.Page(s.listQuery(tenantID, f), "", f.Limit)
	if err != nil {
		return nil, err
	}
	plan, err := s.db.Explain(ctx, b)
	return plan, errors.Wrap("fulfillment.ExplainList", err)
}

func (s *Service) Update(ctx context.Context, tenantID, id string, req UpdateShipmentRequest) (Shipment, error) {
	if req.empty() {
		return Shipment{}, errors.New(errors.EInvalid, "empty update payload")
	}
	sh, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Shipment{}, err
	}
	if closed(sh.Status) {
		return Shipment{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("shipment is %s", sh.Status))
	}
	req.apply(&sh)
	sh.UpdatedAt = s.now()
	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("shipments").
		SetMap(map[string]any{
			"carrier":         sh.Carrier,
			"tracking_number": sh.TrackingNumber,
			"service_type":    sh.ServiceType,
			"notes":           sh.Notes,
			"updated_at":      sh.UpdatedAt,
		}).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if err != nil {
		return Shipment{}, errors.Wrap("fulfillment.Update", err)
	}
	s.cache.Invalidate(tenantID)
	return sh, nil
}

// Delete removes a shipment that never left the shop.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	n, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Delete("shipments").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}).
		Where(sq.Eq{"status": []string{StatusPending, StatusPacked, StatusCancelled}}))
	if err != nil {
		return errors.Wrap("fulfillment.Delete", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, tenantID, id); err != nil {
			return err
		}
		return errors.New(errors.EUnprocessableEntity, "shipment has already left")
	}
	s.cache.Invalidate(tenantID)
	return nil
}

// SetStatus moves a shipment along. Shipping moves the order to shipped,
// first walking it to ready if it is still being prepared, and delivering
// moves it to delivered. The customer is told in both cases.
func (s *Service) SetStatus(ctx context.Context, tenantID, id string, req StatusRequest) (Shipment, error) {
	to := normalizeStatus(req.Status)
	if to == "" {
		return Shipment{}, errors.Invalidf("unknown status %q", req.Status)
	}
	sh, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Shipment{}, err
	}
	if !CanTransition(sh.Status, to) {
		return Shipment{}, errors.New(errors.EUnprocessableEntity,
			fmt.Sprintf("shipment cannot move from %s to %s", sh.Status, to))
	}

	target := orderTarget(to)
	if target != "" {
		o, err := s.orders.Get(ctx, tenantID, sh.OrderID)
		if err != nil {
			return Shipment{}, err
		}
		if err := canAdvance(o); err != nil {
			return Shipment{}, err
		}
	}

	prev := sh
	from := sh.Status
	now := s.now()
	set := map[string]any{"status": to, "updated_at": now}
	switch to {
	case StatusPacked:
		sh.PackedAt = &now
		set["packed_at"] = now
	case StatusShipped:
		sh.ShippedAt = &now
		set["shipped_at"] = now
	case StatusDelivered:
		sh.DeliveredAt = &now
		set["delivered_at"] = now
	}
	if note := strings.TrimSpace(req.Note); note != "" {
		sh.Notes = strings.TrimSpace(sh.Notes + "\n" + note)
		set["notes"] = sh.Notes
	}
	sh.Status = to
	sh.UpdatedAt = now
	n, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("shipments").
		SetMap(set).
		Where(sq.Eq{"tenant_id": tenantID, "id": id, "status": from}))
	if err != nil {
		return Shipment{}, errors.Wrap("fulfillment.SetStatus", err)
	}
	if n == 0 {
		return Shipment{}, errors.New(errors.EConflict, "shipment changed concurrently")
	}

	// the order moves only once this writer owns the shipment transition.
	var o order.Order
	if target != "" {
		if o, err = s.advanceOrder(ctx, tenantID, sh.OrderID, target, req.Note); err != nil {
			s.revert(ctx, prev, set, to)
			return Shipment{}, err
		}
	}

	s.cache.Invalidate(tenantID)
	s.log.Info("shipment status changed",
		zap.String("tenant_id", tenantID),
		zap.String("shipment_id", id),
		zap.String("order_id", sh.OrderID),
		zap.String("from", from),
		zap.String("to", to))

	switch to {
	case StatusShipped:
		s.notify(ctx, sh, o, notify.EventOrderShipped)
	case StatusDelivered:
		s.notify(ctx, sh, o, notify.EventOrderDelivered)
	}
	return sh, nil
}

// orderTarget is the order status a shipment status implies, if any.
func orderTarget(status string) string {
	switch status {
	case StatusShipped:
		return order.StatusShipped
	case StatusDelivered:
		return order.StatusDelivered
	}
	return ""
}

func canAdvance(o order.Order) error {
	if o.Status == order.StatusPending || o.Status == order.StatusCancelled {
		return errors.New(errors.EUnprocessableEntity, fmt.Sprintf("order %s is %s", o.Number, o.Status))
	}
	return nil
}

// revert restores the columns a status change wrote, as long as nobody has
// moved the shipment since.
func (s *Service) revert(ctx context.Context, prev Shipment, set map[string]any, to string) {
	undo := map[string]any{"status": prev.Status, "updated_at": prev.UpdatedAt}
	for col := range set {
		switch col {
		case "packed_at":
			undo[col] = prev.PackedAt
		case "shipped_at":
			undo[col] = prev.ShippedAt
		case "delivered_at":
			undo[col] = prev.DeliveredAt
		case "notes":
			undo[col] = prev.Notes
		}
	}
	if _, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("shipments").
		SetMap(undo).
		Where(sq.Eq{"tenant_id": prev.TenantID, "id": prev.ID, "status": to})); err != nil {
		s.log.Error("failed to revert shipment status",
			zap.String("tenant_id", prev.TenantID),
			zap.String("shipment_id", prev.ID),
			zap.String("to", to),
			zap.Error(err))
	}
}

// advanceOrder walks the order forward until it reaches target. An order
// already at or past target is left as is.
func (s *Service) advanceOrder(ctx context.Context, tenantID, orderID, target, note string) (order.Order, error) {
	o, err := s.orders.Get(ctx, tenantID, orderID)
	if err != nil {
		return order.Order{}, err
	}
	path := []string{order.StatusConfirmed, order.StatusProcessing, order.StatusReady, order.StatusShipped, order.StatusDelivered}
	rank := func(st string) int {
		for i, p := range path {
			if p == st {
				return i
			}
		}
		return -1
	}
	if err := canAdvance(o); err != nil {
		return order.Order{}, err
	}
	for rank(o.Status) < rank(target) {
		next := path[rank(o.Status)+1]
		// a ready order may be delivered by hand without shipping.
		if o.Status == order.StatusReady && target == order.StatusDelivered {
			next = order.StatusDelivered
		}
		req := order.StatusRequest{Status: next}
		if next == target {
			req.Note = note
		}
		if o, err = s.orders.Transition(ctx, tenantID, o.ID, req); err != nil {
			return order.Order{}, err
		}
	}
	return o, nil
}

func (s *Service) notify(ctx context.Context, sh Shipment, o order.Order, event string) {
	if s.notifier == nil {
		return
	}
	vars := order.OrderVars(o)
	vars["carrier"] = sh.Carrier
	vars["tracking_number"] = sh.TrackingNumber
	vars["service_type"] = sh.ServiceType
	_, err := s.notifier.Enqueue(ctx, notify.Message{
		TenantID:    sh.TenantID,
		CustomerID:  o.CustomerID,
		TemplateKey: event,
		Vars:        vars,
	})
	if err != nil {
		s.log.Warn("failed to queue notification",
			zap.String("shipment_id", sh.ID),
			zap.String("event", event),
			zap.Error(err))
	}
}
