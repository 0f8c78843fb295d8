package invoice

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"erp/ecommerce/internal/customer"
	"erp/ecommerce/internal/notify"
	"erp/ecommerce/internal/order"
	"erp/ecommerce/internal/platform/cursor"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/listcache"
	"erp/ecommerce/internal/platform/money"
	"erp/ecommerce/internal/platform/sqlstore"
	"erp/ecommerce/internal/shop"
)

type Orders interface {
	Get(ctx context.Context, tenantID, id string) (order.Order, error)
}

type Customers interface {
	Get(ctx context.Context, tenantID, id string) (customer.Customer, error)
}

type Shops interface {
	Get(ctx context.Context, tenantID string) (shop.Shop, error)
}

type Notifier interface {
	Enqueue(ctx context.Context, m notify.Message) (string, error)
}

// InvoiceService is the invoice API used by handlers.
type InvoiceService interface {
	Create(ctx context.Context, tenantID string, req CreateInvoiceRequest) (Invoice, error)
	Get(ctx context.Context, tenantID, id string) (Invoice, error)
	List(ctx context.Context, tenantID string, f ListFilter) (listcache.Result[Invoice], error)
	Issue(ctx context.Context, tenantID, id string, req IssueRequest) (Invoice, error)
	Void(ctx context.Context, tenantID, id string, req VoidRequest) (Invoice, error)
	MarkPaidForOrder(ctx context.Context, tenantID, orderID string, paidAt time.Time) error
	Render(ctx context.Context, tenantID, id, format string) (Document, error)
}

var _ InvoiceService = (*Service)(nil)

type Service struct {
	db        *sqlstore.DB
	log       *zap.Logger
	orders    Orders
	customers Customers
	shops     Shops
	notifier  Notifier
	now       func() time.Time
}

func NewService(db *sqlstore.DB, log *zap.Logger, orders Orders, customers Customers, shops Shops, notifier Notifier) *Service {
	return &Service{
		db:        db,
		log:       log,
		orders:    orders,
		customers: customers,
		shops:     shops,
		notifier:  notifier,
		now:       sqlstore.Now,
	}
}

var columns = []string{
	"id", "tenant_id", "number", "order_id", "customer_id", "customer_name", "customer_phone", "customer_email",
	"lines", "currency", "subtotal", "discount", "shipping", "tax", "total", "status", "notes",
	"issued_at", "due_at", "paid_at", "voided_at", "created_at", "updated_at",
}

// Number formats the n-th invoice of year for a shop.
func Number(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%04d-%06d", prefix, year, n)
}

// Create drafts an invoice copying the order's lines and totals. An order
// has at most one invoice that is not void.
func (s *Service) Create(ctx context.Context, tenantID string, req CreateInvoiceRequest) (Invoice, error) {
	o, err := s.orders.Get(ctx, tenantID, req.OrderID)
	if err != nil {
		if errors.Is(err, errors.ENotFound) {
			return Invoice{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("order %s not found", req.OrderID))
		}
		return Invoice{}, err
	}
	if o.Status == order.StatusCancelled {
		return Invoice{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("order %s is cancelled", o.Number))
	}
	sh, err := s.shops.Get(ctx, tenantID)
	if err != nil {
		return Invoice{}, err
	}
	c, err := s.customers.Get(ctx, tenantID, o.CustomerID)
	if err != nil && !errors.Is(err, errors.ENotFound) {
		return Invoice{}, err
	}

	now := s.now()
	inv := Invoice{
		ID:            ids.New("inv"),
		TenantID:      tenantID,
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		CustomerName:  c.Name,
		CustomerPhone: c.Phone,
		CustomerEmail: c.Email,
		Lines:         make(Lines, 0, len(o.Items)),
		Currency:      o.Currency,
		Subtotal:      o.Subtotal,
		Discount:      o.Discount,
		Shipping:      o.Shipping,
		Tax:           o.Tax,
		Total:         o.Total,
		Status:        StatusDraft,
		Notes:         strings.TrimSpace(req.Notes),
		DueAt:         dueAt(req.DueAt, now),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, it := range o.Items {
		inv.Lines = append(inv.Lines, Line{
			SKU:       it.SKU,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			LineTotal: it.LineTotal,
		})
	}

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var live int
		err := sqlstore.Get(ctx, tx, &live, s.db.Builder.
			Select("COUNT(*)").
			From("invoices").
			Where(sq.Eq{"tenant_id": tenantID, "order_id": o.ID}).
			Where(sq.NotEq{"status": StatusVoid}))
		if err != nil {
			return err
		}
		if live > 0 {
			return errors.New(errors.EConflict, fmt.Sprintf("order %s already has an invoice", o.Number))
		}
		year := now.In(location(sh.Timezone)).Year()
		n, err := s.db.NextSequence(ctx, tx, tenantID, fmt.Sprintf("invoice:%d", year))
		if err != nil {
			return err
		}
		inv.Number = Number(sh.InvoicePrefix, year, n)
		_, err = sqlstore.Exec(ctx, tx, s.db.Builder.
			Insert("invoices").
			Columns(columns...).
			Values(inv.ID, inv.TenantID, inv.Number, inv.OrderID, inv.CustomerID, inv.CustomerName, inv.CustomerPhone,
				inv.CustomerEmail, inv.Lines, inv.Currency, inv.Subtotal, inv.Discount, inv.Shipping, inv.Tax, inv.Total,
				inv.Status, inv.Notes, inv.IssuedAt, inv.DueAt, inv.PaidAt, inv.VoidedAt, inv.CreatedAt, inv.UpdatedAt))
		return err
	})
	if err != nil {
		return Invoice{}, errors.Wrap("invoice.Create", err)
	}
	s.log.Info("invoice created",
		zap.String("tenant_id", tenantID),
		zap.String("invoice_id", inv.ID),
		zap.String("number", inv.Number),
		zap.String("order_id", o.ID))

	if req.Issue {
		return s.Issue(ctx, tenantID, inv.ID, IssueRequest{DueAt: req.DueAt})
	}
	return inv, nil
}

func dueAt(requested *time.Time, now time.Time) *time.Time {
	d := now.AddDate(0, 0, DefaultTermDays)
	if requested != nil {
		d = requested.UTC().Truncate(time.Microsecond)
	}
	return &d
}

func location(tz string) *time.Location {
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc
	}
	return time.UTC
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Invoice, error) {
	return s.get(ctx, s.db, tenantID, id)
}

func (s *Service) get(ctx context.Context, q sqlstore.Queryer, tenantID, id string) (Invoice, error) {
	var inv Invoice
	err := sqlstore.Get(ctx, q, &inv, s.db.Builder.
		Select(columns...).
		From("invoices").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Invoice{}, errors.NotFound("invoice")
	}
	if err != nil {
		return Invoice{}, errors.Wrap("invoice.Get", err)
	}
	return inv, nil
}

func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) (listcache.Result[Invoice], error) {
	b := s.db.Builder.Select(columns...).From("invoices").Where(sq.Eq{"tenant_id": tenantID})
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.CustomerID != "" {
		b = b.Where(sq.Eq{"customer_id": f.CustomerID})
	}
	if f.OrderID != "" {
		b = b.Where(sq.Eq{"order_id": f.OrderID})
	}
	b, err := sqlstore.Page(b, f.Cursor, f.Limit)
	if err != nil {
		return listcache.Result[Invoice]{}, err
	}
	var rows []Invoice
	if err := sqlstore.Select(ctx, s.db, &rows, b); err != nil {
		return listcache.Result[Invoice]{}, errors.Wrap("invoice.List", err)
	}
	items, next := cursor.Page(rows, f.Limit, func(inv Invoice) (time.Time, string) { return inv.CreatedAt, inv.ID })
	if items == nil {
		items = []Invoice{}
	}
	return listcache.Result[Invoice]{Items: items, NextCursor: next}, nil
}

// move applies a status change guarded by the current status.
func (s *Service) move(ctx context.Context, tenantID, id, to string, allowed []string, set func(inv *Invoice, now time.Time) map[string]any) (Invoice, error) {
	var inv Invoice
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		inv, err = s.get(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		ok := false
		for _, st := range allowed {
			ok = ok || inv.Status == st
		}
		if !ok {
			return errors.New(errors.EUnprocessableEntity,
				fmt.Sprintf("invoice %s cannot move from %s to %s", inv.Number, inv.Status, to))
		}
		now := s.now()
		fields := set(&inv, now)
		fields["status"] = to
		fields["updated_at"] = now
		inv.Status = to
		inv.UpdatedAt = now
		_, err = sqlstore.Exec(ctx, tx, s.db.Builder.
			Update("invoices").
			SetMap(fields).
			Where(sq.Eq{"tenant_id": tenantID, "id": id}))
		return err
	})
	return inv, err
}

// Issue makes a draft invoice payable and sends it to the customer. An
// invoice for an order that is already settled is issued as paid.
func (s *Service) Issue(ctx context.Context, tenantID, id string, req IssueRequest) (Invoice, error) {
	inv, err := s.move(ctx, tenantID, id, StatusIssued, []string{StatusDraft}, func(inv *Invoice, now time.Time) map[string]any {
		inv.IssuedAt = &now
		if req.DueAt != nil || inv.DueAt == nil {
			inv.DueAt = dueAt(req.DueAt, now)
		}
		return map[string]any{"issued_at": inv.IssuedAt, "due_at": inv.DueAt}
	})
	if err != nil {
		return Invoice{}, errors.Wrap("invoice.Issue", err)
	}
	s.log.Info("invoice issued",
		zap.String("tenant_id", tenantID),
		zap.String("invoice_id", inv.ID),
		zap.String("number", inv.Number))
	s.notifyIssued(ctx, inv)

	o, err := s.orders.Get(ctx, tenantID, inv.OrderID)
	if err == nil && o.PaymentStatus == order.PaymentPaid {
		if err := s.MarkPaidForOrder(ctx, tenantID, inv.OrderID, s.now()); err != nil {
			return Invoice{}, err
		}
		return s.Get(ctx, tenantID, id)
	}
	return inv, nil
}

func (s *Service) notifyIssued(ctx context.Context, inv Invoice) {
	if s.notifier == nil {
		return
	}
	vars := map[string]string{
		"invoice_id":     inv.ID,
		"invoice_number": inv.Number,
		"invoice_total":  money.Format(inv.Total, inv.Currency),
		"currency":       inv.Currency,
	}
	if inv.DueAt != nil {
		vars["due_date"] = inv.DueAt.Format("2006-01-02")
	}
	_, err := s.notifier.Enqueue(ctx, notify.Message{
		TenantID:    inv.TenantID,
		CustomerID:  inv.CustomerID,
		TemplateKey: notify.EventInvoiceIssued,
		Vars:        vars,
	})
	if err != nil {
		s.log.Warn("failed to queue notification",
			zap.String("invoice_id", inv.ID),
			zap.String("event", notify.EventInvoiceIssued),
			zap.Error(err))
	}
}

// MarkPaidForOrder settles the order's issued invoice. Orders without one,
// or whose invoice is still a draft, are left alone.
func (s *Service) MarkPaidForOrder(ctx context.Context, tenantID, orderID string, paidAt time.Time) error {
	paidAt = paidAt.UTC().Truncate(time.Microsecond)
	n, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("invoices").
		Set("status", StatusPaid).
		Set("paid_at", paidAt).
		Set("updated_at", s.now()).
		Where(sq.Eq{"tenant_id": tenantID, "order_id": orderID, "status": StatusIssued}))
	if err != nil {
		return errors.Wrap("invoice.MarkPaidForOrder", err)
	}
	if n > 0 {
		s.log.Info("invoice paid",
			zap.String("tenant_id", tenantID),
			zap.String("order_id", orderID))
	}
	return nil
}

func (s *Service) Void(ctx context.Context, tenantID, id string, req VoidRequest) (Invoice, error) {
	inv, err := s.move(ctx, tenantID, id, StatusVoid, []string{StatusDraft, StatusIssued}, func(inv *Invoice, now time.Time) map[string]any {
		inv.VoidedAt = &now
		fields := map[string]any{"voided_at": inv.VoidedAt}
		if r := strings.TrimSpace(req.Reason); r != "" {
			inv.Notes = strings.TrimSpace(inv.Notes + "\nvoid: " + r)
			fields["notes"] = inv.Notes
		}
		return fields
	})
	if err != nil {
		return Invoice{}, errors.Wrap("invoice.Void", err)
	}
	s.log.Info("invoice voided",
		zap.String("tenant_id", tenantID),
		zap.String("invoice_id", inv.ID),
		zap.String("number", inv.Number))
	return inv, nil
}

// Render produces the printable document for an invoice.
func (s *Service) Render(ctx context.Context, tenantID, id, format string) (Document, error) {
	inv, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Document{}, err
	}
	sh, err := s.shops.Get(ctx, tenantID)
	if err != nil {
		return Document{}, err
	}
	return render(sh, inv, format)
}
