package order

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"erp/ecommerce/internal/catalog"
	"erp/ecommerce/internal/customer"
	"erp/ecommerce/internal/notify"
	"erp/ecommerce/internal/platform/cursor"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/listcache"
	"erp/ecommerce/internal/platform/money"
	"erp/ecommerce/internal/platform/sqlstore"
	"erp/ecommerce/internal/shop"
)

// Stock reserves and releases tracked inventory inside the order's transaction.
type Stock interface {
	Reserve(ctx context.Context, q sqlstore.Queryer, tenantID string, lines []catalog.Line) (map[string]catalog.Product, error)
	Release(ctx context.Context, q sqlstore.Queryer, tenantID string, lines []catalog.Line) error
}

type Customers interface {
	Get(ctx context.Context, tenantID, id string) (customer.Customer, error)
}

type Shops interface {
	Get(ctx context.Context, tenantID string) (shop.Shop, error)
}

// Notifier queues customer messages.
type Notifier interface {
	Enqueue(ctx context.Context, m notify.Message) (string, error)
}

// JobPlanner opens production work for a confirmed custom order.
type JobPlanner interface {
	PlanJobs(ctx context.Context, o Order) error
}

// OrderService is the order API used by handlers and the other modules.
type OrderService interface {
	Create(ctx context.Context, tenantID string, req CreateOrderRequest) (Order, error)
	Get(ctx context.Context, tenantID, id string) (Order, error)
	List(ctx context.Context, tenantID string, f ListFilter) (listcache.Result[Order], error)
	ExplainList(ctx context.Context, tenantID string, f ListFilter) (any, error)
	Update(ctx context.Context, tenantID, id string, req UpdateOrderRequest) (Order, error)
	Transition(ctx context.Context, tenantID, id string, req StatusRequest) (Order, error)
	Cancel(ctx context.Context, tenantID, id string, req CancelRequest) (Order, error)
	ApplyPayment(ctx context.Context, tenantID, id string, u PaymentUpdate) (Order, error)
}

var _ OrderService = (*Service)(nil)

type Service struct {
	db        *sqlstore.DB
	log       *zap.Logger
	stock     Stock
	customers Customers
	shops     Shops
	notifier  Notifier
	planner   JobPlanner
	cache     *listcache.Cache[listcache.Result[Order]]
}

func NewService(db *sqlstore.DB, log *zap.Logger, stock Stock, customers Customers, shops Shops, notifier Notifier, cache *listcache.Cache[listcache.Result[Order]]) *Service {
	return &Service{
		db:        db,
		log:       log,
		stock:     stock,
		customers: customers,
		shops:     shops,
		notifier:  notifier,
		cache:     cache,
	}
}

// SetJobPlanner registers the production planner. Production depends on
// orders, so it is attached after both services exist.
func (s *Service) SetJobPlanner(p JobPlanner) {
	s.planner = p
}

var columns = []string{
	"id", "tenant_id", "number", "customer_id", "kind", "status", "payment_status", "currency",
	"subtotal", "discount", "shipping", "tax", "total", "amount_paid", "shipping_address", "notes",
	"due_date", "confirmed_at", "cancelled_at", "delivered_at", "created_at", "updated_at",
}

var itemColumns = []string{
	"id", "tenant_id", "order_id", "position", "product_id", "sku", "name", "quantity",
	"unit_price", "line_total", "custom", "garment_type", "fabric", "notes",
}

func (s *Service) Create(ctx context.Context, tenantID string, req CreateOrderRequest) (Order, error) {
	settings, err := s.shops.Get(ctx, tenantID)
	if err != nil {
		return Order{}, err
	}
	if !settings.Active() {
		return Order{}, errors.New(errors.EForbidden, "shop is suspended and cannot take orders")
	}
	cust, err := s.customers.Get(ctx, tenantID, req.CustomerID)
	if err != nil {
		if errors.Is(err, errors.ENotFound) {
			return Order{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("customer %s not found", req.CustomerID))
		}
		return Order{}, err
	}
	discount, err := money.Parse(req.Discount)
	if err != nil {
		return Order{}, errors.Invalidf("discount: %v", err)
	}
	shipping, err := money.Parse(req.Shipping)
	if err != nil {
		return Order{}, errors.Invalidf("shipping: %v", err)
	}

	o := Order{
		ID:              ids.New("ord"),
		TenantID:        tenantID,
		CustomerID:      cust.ID,
		Kind:            normalizeKind(req.Kind),
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		Currency:        settings.Currency,
		ShippingAddress: sqlstore.StringMap(req.ShippingAddress),
		Notes:           strings.TrimSpace(req.Notes),
		DueDate:         utc(req.DueDate),
	}
	items, lines, err := buildItems(o, req.Items)
	if err != nil {
		return Order{}, err
	}
	if o.Kind == "" {
		o.Kind = KindStandard
	}
	for _, it := range items {
		if it.Custom {
			o.Kind = KindCustom
		}
	}
	o.CreatedAt = sqlstore.Now()
	o.UpdatedAt = o.CreatedAt

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		products, err := s.stock.Reserve(ctx, tx, tenantID, lines)
		if err != nil {
			return err
		}
		for i := range items {
			if items[i].Custom && items[i].ProductID == "" {
				continue
			}
			p := products[items[i].ProductID]
			items[i].SKU = p.SKU
			if items[i].Name == "" {
				items[i].Name = p.Name
			}
			if items[i].UnitPrice.IsZero() || !items[i].Custom {
				items[i].UnitPrice = p.Price
			}
		}
		t, err := ComputeTotals(items, discount, shipping, settings.TaxRate)
		if err != nil {
			return err
		}
		o.Subtotal, o.Discount, o.Shipping, o.Tax, o.Total = t.Subtotal, t.Discount, t.Shipping, t.Tax, t.Total
		o.Items = items

		seq, err := s.db.NextSequence(ctx, tx, tenantID, "order")
		if err != nil {
			return err
		}
		o.Number = fmt.Sprintf("%s-%06d", settings.OrderPrefix, seq)
		return s.insert(ctx, tx, o)
	})
	if err != nil {
		return Order{}, errors.Wrap("order.Create", err)
	}
	s.cache.Invalidate(tenantID)
	s.log.Info("order created",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", o.ID),
		zap.String("number", o.Number),
		zap.String("total", o.Total.StringFixed(2)))
	s.notify(ctx, o, notify.EventOrderCreated)
	return o, nil
}

// buildItems validates the requested lines and returns the stock lines to reserve.
func buildItems(o Order, reqs []ItemRequest) ([]Item, []catalog.Line, error) {
	items := make([]Item, 0, len(reqs))
	var lines []catalog.Line
	for i, r := range reqs {
		price, err := money.Parse(r.UnitPrice)
		if err != nil {
			return nil, nil, errors.Invalidf("items[%d].unit_price: %v", i, err)
		}
		it := Item{
			ID:          ids.New("itm"),
			TenantID:    o.TenantID,
			OrderID:     o.ID,
			Position:    i + 1,
			ProductID:   strings.TrimSpace(r.ProductID),
			Name:        strings.TrimSpace(r.Name),
			Quantity:    r.Quantity,
			UnitPrice:   price,
			Custom:      r.custom(),
			GarmentType: strings.ToLower(strings.TrimSpace(r.GarmentType)),
			Fabric:      strings.TrimSpace(r.Fabric),
			Notes:       strings.TrimSpace(r.Notes),
		}
		if it.Quantity <= 0 {
			return nil, nil, errors.Invalidf("items[%d].quantity must be positive", i)
		}
		if it.ProductID == "" {
			if it.Name == "" {
				return nil, nil, errors.Invalidf("items[%d] needs a product_id or a name", i)
			}
			if price.IsZero() {
				return nil, nil, errors.Invalidf("items[%d] needs a unit_price", i)
			}
		} else {
			lines = append(lines, catalog.Line{ProductID: it.ProductID, Quantity: it.Quantity})
		}
		items = append(items, it)
	}
	return items, lines, nil
}

func (s *Service) insert(ctx context.Context, q sqlstore.Queryer, o Order) error {
	_, err := sqlstore.Exec(ctx, q, s.db.Builder.
		Insert("orders").
		Columns(columns...).
		Values(o.ID, o.TenantID, o.Number, o.CustomerID, o.Kind, o.Status, o.PaymentStatus, o.Currency,
			o.Subtotal, o.Discount, o.Shipping, o.Tax, o.Total, o.AmountPaid, o.ShippingAddress, o.Notes,
			o.DueDate, o.ConfirmedAt, o.CancelledAt, o.DeliveredAt, o.CreatedAt, o.UpdatedAt))
	if err != nil {
		return err
	}
	b := s.db.Builder.Insert("order_items").Columns(itemColumns...)
	for _, it := range o.Items {
		b = b.Values(it.ID, it.TenantID, it.OrderID, it.Position, it.ProductID, it.SKU, it.Name, it.Quantity,
			it.UnitPrice, it.LineTotal, it.Custom, it.GarmentType, it.Fabric, it.Notes)
	}
	_, err = sqlstore.Exec(ctx, q, b)
	return err
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Order, error) {
	return s.get(ctx, s.db, tenantID, id)
}

func (s *Service) get(ctx context.Context, q sqlstore.Queryer, tenantID, id string) (Order, error) {
	var o Order
	err := sqlstore.Get(ctx, q, &o, s.db.Builder.
		Select(columns...).
		From("orders").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Order{}, errors.NotFound("order")
	}
	if err != nil {
		return Order{}, errors.Wrap("order.Get", err)
	}
	items, err := s.items(ctx, q, tenantID, []string{o.ID})
	if err != nil {
		return Order{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (s *Service) items(ctx context.Context, q sqlstore.Queryer, tenantID string, orderIDs []string) (map[string][]Item, error) {
	out := make(map[string][]Item, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	var rows []Item
	err := sqlstore.Select(ctx, q, &rows, s.db.Builder.
		Select(itemColumns...).
		From("order_items").
		Where(sq.Eq{"tenant_id": tenantID, "order_id": orderIDs}).
		OrderBy("order_id", "position"))
	if err != nil {
		return nil, errors.Wrap("order.items", err)
	}
	for _, it := range rows {
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, nil
}

func (s *Service) listQuery(tenantID string, f ListFilter) sq.SelectBuilder {
	b := s.db.Builder.Select(columns...).From("orders").Where(sq.Eq{"tenant_id": tenantID})
	if f.CustomerID != "" {
		b = b.Where(sq.Eq{"customer_id": f.CustomerID})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.PaymentStatus != "" {
		b = b.Where(sq.Eq{"payment_status": f.PaymentStatus})
	}
	if f.Kind != "" {
		b = b.Where(sq.Eq{"kind": f.Kind})
	}
	return b
}

// List returns one page of orders with their items; first pages are cached.
func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) (listcache.Result[Order], error) {
	key := listcache.Key(tenantID, f.CustomerID, f.Status, f.PaymentStatus, f.Kind, strconv.Itoa(f.Limit))
	if f.Cursor == "" {
		if res, ok := s.cache.Get(key); ok {
			res.Cached = true
			return res, nil
		}
	}
	b, err := sqlstore.Page(s.listQuery(tenantID, f), f.Cursor, f.Limit)
	if err != nil {
		return listcache.Result[Order]{}, err
	}
	var rows []Order
	if err := sqlstore.Select(ctx, s.db, &rows, b); err != nil {
		return listcache.Result[Order]{}, errors.Wrap("order.List", err)
	}
	orders, next := cursor.Page(rows, f.Limit, func(o Order) (time.Time, string) { return o.CreatedAt, o.ID })
	idList := make([]string, 0, len(orders))
	for _, o := range orders {
		idList = append(idList, o.ID)
	}
	items, err := s.items(ctx, s.db, tenantID, idList)
	if err != nil {
		return listcache.Result[Order]{}, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	if orders == nil {
		orders = []Order{}
	}
	res := listcache.Result[Order]{Items: orders, NextCursor: next}
	if f.Cursor == "" {
		s.cache.Set(key, res)
	}
	return res, nil
}

// ExplainList returns the query plan of List for f.
func (s *Service) ExplainList(ctx context.Context, tenantID string, f ListFilter) (any, error) {
	b, err := sqlstore.Page(s.listQuery(tenantID, f), "", f.Limit)
	if err != nil {
		return nil, err
	}
	plan, err := s.db.Explain(ctx, b)
	return plan, errors.Wrap("order.ExplainList", err)
}

// Update edits notes at any open stage; the shipping address and due date
// only while the order is pending.
func (s *Service) Update(ctx context.Context, tenantID, id string, req UpdateOrderRequest) (Order, error) {
	if req.empty() {
		return Order{}, errors.New(errors.EInvalid, "empty update payload")
	}
	o, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Order{}, err
	}
	if o.Status == StatusCancelled || o.Status == StatusDelivered {
		return Order{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("order %s is %s", o.Number, o.Status))
	}
	if (req.ShippingAddress != nil || req.DueDate != nil) && o.Status != StatusPending {
		return Order{}, errors.New(errors.EUnprocessableEntity, "shipping address and due date can only change while the order is pending")
	}
	if req.Notes != nil {
		o.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.ShippingAddress != nil {
		o.ShippingAddress = sqlstore.StringMap(*req.ShippingAddress)
	}
	if req.DueDate != nil {
		o.DueDate = utc(req.DueDate)
	}
	o.UpdatedAt = sqlstore.Now()

	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("orders").
		SetMap(map[string]any{
			"notes":            o.Notes,
			"shipping_address": o.ShippingAddress,
			"due_date":         o.DueDate,
			"updated_at":       o.UpdatedAt,
		}).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if err != nil {
		return Order{}, errors.Wrap("order.Update", err)
	}
	s.cache.Invalidate(tenantID)
	return o, nil
}

// Transition moves the order along its lifecycle. Cancelling returns reserved
// stock; confirming a custom order plans its production jobs.
func (s *Service) Transition(ctx context.Context, tenantID, id string, req StatusRequest) (Order, error) {
	to := normalizeStatus(req.Status)
	if to == "" {
		return Order{}, errors.Invalidf("unknown order status %q", req.Status)
	}
	var o Order
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		o, err = s.transition(ctx, tx, tenantID, id, to)
		return err
	})
	if err != nil {
		return Order{}, errors.Wrap("order.Transition", err)
	}
	s.cache.Invalidate(tenantID)
	s.log.Info("order status changed",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", o.ID),
		zap.String("status", o.Status),
		zap.String("note", req.Note))
	s.afterTransition(ctx, o)
	return o, nil
}

func (s *Service) transition(ctx context.Context, q sqlstore.Queryer, tenantID, id, to string) (Order, error) {
	o, err := s.get(ctx, q, tenantID, id)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(o.Status, to) {
		return Order{}, errors.New(errors.EUnprocessableEntity,
			fmt.Sprintf("order %s cannot move from %s to %s", o.Number, o.Status, to))
	}
	now := sqlstore.Now()
	set := map[string]any{"status": to, "updated_at": now}
	switch to {
	case StatusConfirmed:
		set["confirmed_at"] = now
		o.ConfirmedAt = &now
	case StatusCancelled:
		set["cancelled_at"] = now
		o.CancelledAt = &now
	case StatusDelivered:
		set["delivered_at"] = now
		o.DeliveredAt = &now
	}
	n, err := sqlstore.Exec(ctx, q, s.db.Builder.
		Update("orders").
		SetMap(set).
		Where(sq.Eq{"tenant_id": tenantID, "id": id, "status": o.Status}))
	if err != nil {
		return Order{}, err
	}
	if n == 0 {
		return Order{}, errors.New(errors.EConflict, fmt.Sprintf("order %s changed concurrently", o.Number))
	}
	if to == StatusCancelled {
		if err := s.stock.Release(ctx, q, tenantID, stockLines(o.Items)); err != nil {
			return Order{}, err
		}
	}
	o.Status = to
	o.UpdatedAt = now
	return o, nil
}

func (s *Service) afterTransition(ctx context.Context, o Order) {
	if o.Status != StatusConfirmed || o.Kind != KindCustom || s.planner == nil {
		return
	}
	if err := s.planner.PlanJobs(ctx, o); err != nil {
		s.log.Error("failed to plan production jobs",
			zap.String("tenant_id", o.TenantID),
			zap.String("order_id", o.ID),
			zap.Error(err))
	}
}

func (s *Service) Cancel(ctx context.Context, tenantID, id string, req CancelRequest) (Order, error) {
	return s.Transition(ctx, tenantID, id, StatusRequest{Status: StatusCancelled, Note: req.Reason})
}

// ApplyPayment records a reconciled payment. A paid pending order is confirmed.
func (s *Service) ApplyPayment(ctx context.Context, tenantID, id string, u PaymentUpdate) (Order, error) {
	status := normalizePaymentStatus(u.Status)
	if status == "" {
		return Order{}, errors.Invalidf("unknown payment status %q", u.Status)
	}
	var (
		o         Order
		confirmed bool
	)
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		o, err = s.get(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if o.PaymentStatus == PaymentPaid && (status == PaymentPending || status == PaymentFailed || status == PaymentUnpaid) {
			// a late failure for another attempt never downgrades a paid order.
			return nil
		}
		paid := o.AmountPaid.Add(u.Paid).Sub(u.Refunded)
		if paid.IsNegative() {
			paid = decimal.Zero
		}
		o.PaymentStatus = status
		o.AmountPaid = money.Round(paid)
		o.UpdatedAt = sqlstore.Now()
		_, err = sqlstore.Exec(ctx, tx, s.db.Builder.
			Update("orders").
			Set("payment_status", o.PaymentStatus).
			Set("amount_paid", o.AmountPaid).
			Set("updated_at", o.UpdatedAt).
			Where(sq.Eq{"tenant_id": tenantID, "id": id}))
		if err != nil {
			return err
		}
		if status == PaymentPaid && o.Status == StatusPending {
			o, err = s.transition(ctx, tx, tenantID, id, StatusConfirmed)
			confirmed = err == nil
			return err
		}
		return nil
	})
	if err != nil {
		return Order{}, errors.Wrap("order.ApplyPayment", err)
	}
	s.cache.Invalidate(tenantID)
	if confirmed {
		s.afterTransition(ctx, o)
	}
	return o, nil
}

func (s *Service) notify(ctx context.Context, o Order, event string) {
	if s.notifier == nil {
		return
	}
	m := notify.Message{
		TenantID:    o.TenantID,
		CustomerID:  o.CustomerID,
		TemplateKey: event,
		Vars:        OrderVars(o),
	}
	if _, err := s.notifier.Enqueue(ctx, m); err != nil {
		s.log.Warn("failed to queue notification",
			zap.String("tenant_id", o.TenantID),
			zap.String("order_id", o.ID),
			zap.String("event", event),
			zap.Error(err))
	}
}

// OrderVars are the template variables every order notification carries.
func OrderVars(o Order) map[string]string {
	vars := map[string]string{
		"order_id":       o.ID,
		"order_number":   o.Number,
		"order_total":    money.Format(o.Total, o.Currency),
		"order_status":   o.Status,
		"amount_paid":    money.Format(o.AmountPaid, o.Currency),
		"balance_due":    money.Format(o.Balance(), o.Currency),
		"currency":       o.Currency,
		"payment_status": o.PaymentStatus,
	}
	if o.DueDate != nil {
		vars["due_date"] = o.DueDate.Format("2006-01-02")
	}
	return vars
}

func stockLines(items []Item) []catalog.Line {
	var lines []catalog.Line
	for _, it := range items {
		if it.ProductID != "" {
			lines = append(lines, catalog.Line{ProductID: it.ProductID, Quantity: it.Quantity})
		}
	}
	return lines
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC().Truncate(time.Microsecond)
	return &u
}
