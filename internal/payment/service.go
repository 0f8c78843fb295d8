package payment

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"erp/ecommerce/internal/customer"
	"erp/ecommerce/internal/notify"
	"erp/ecommerce/internal/order"
	"erp/ecommerce/internal/platform/cursor"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/listcache"
	"erp/ecommerce/internal/platform/metrics"
	"erp/ecommerce/internal/platform/money"
	"erp/ecommerce/internal/platform/sqlstore"
)

type Orders interface {
	Get(ctx context.Context, tenantID, id string) (order.Order, error)
	ApplyPayment(ctx context.Context, tenantID, id string, u order.PaymentUpdate) (order.Order, error)
}

type Customers interface {
	Get(ctx context.Context, tenantID, id string) (customer.Customer, error)
	AwardForOrder(ctx context.Context, tenantID, id, orderID string, total decimal.Decimal) (customer.Customer, error)
}

// Invoices settles the issued invoice of a fully paid order.
type Invoices interface {
	MarkPaidForOrder(ctx context.Context, tenantID, orderID string, paidAt time.Time) error
}

type Notifier interface {
	Enqueue(ctx context.Context, m notify.Message) (string, error)
}

// PaymentService is the payment API used by handlers.
type PaymentService interface {
	Initialize(ctx context.Context, tenantID string, req InitializeRequest) (Payment, error)
	Confirm(ctx context.Context, tenantID, reference string) (Payment, error)
	Webhook(ctx context.Context, body []byte, signature string) (WebhookResult, error)
	RecordManual(ctx context.Context, tenantID string, req ManualRequest) (Payment, error)
	Get(ctx context.Context, tenantID, idOrReference string) (Payment, error)
	List(ctx context.Context, tenantID string, f ListFilter) (listcache.Result[Payment], error)
}

var _ PaymentService = (*Service)(nil)

type Deps struct {
	Gateway   Gateway
	Orders    Orders
	Customers Customers
	Invoices  Invoices
	Notifier  Notifier
	Registry  prometheus.Registerer
}

type Service struct {
	db        *sqlstore.DB
	log       *zap.Logger
	gateway   Gateway
	orders    Orders
	customers Customers
	invoices  Invoices
	notifier  Notifier

	reconciled *prometheus.CounterVec
	webhooks   *prometheus.CounterVec
}

func NewService(db *sqlstore.DB, log *zap.Logger, deps Deps) *Service {
	return &Service{
		db:        db,
		log:       log,
		gateway:   deps.Gateway,
		orders:    deps.Orders,
		customers: deps.Customers,
		invoices:  deps.Invoices,
		notifier:  deps.Notifier,
		reconciled: metrics.Counter(deps.Registry, "payments", "reconciled_total",
			"Payment state changes by provider and resulting status.", "provider", "status"),
		webhooks: metrics.Counter(deps.Registry, "payments", "webhooks_total",
			"Gateway webhook deliveries by result.", "result"),
	}
}

var columns = []string{
	"id", "tenant_id", "order_id", "reference", "provider", "amount", "currency", "status", "refunded_amount",
	"provider_txn_id", "authorization_url", "channel", "failure_reason", "paid_at", "created_at", "updated_at",
}

// Initialize starts an online payment for the order's outstanding balance.
// An open payment for the same amount is returned instead of a new one.
func (s *Service) Initialize(ctx context.Context, tenantID string, req InitializeRequest) (Payment, error) {
	if s.gateway == nil {
		return Payment{}, errors.New(errors.EUnavailable, "online payments are not configured")
	}
	o, err := s.payableOrder(ctx, tenantID, req.OrderID)
	if err != nil {
		return Payment{}, err
	}
	amount := o.Balance()

	var open []Payment
	err = sqlstore.Select(ctx, s.db, &open, s.db.Builder.
		Select(columns...).
		From("payments").
		Where(sq.Eq{
			"tenant_id": tenantID,
			"order_id":  o.ID,
			"provider":  ProviderGateway,
			"status":    []string{StatusInitialized, StatusPending},
		}).
		OrderBy("created_at DESC"))
	if err != nil {
		return Payment{}, errors.Wrap("payment.Initialize", err)
	}
	for _, p := range open {
		if p.Amount.Equal(amount) && p.Currency == o.Currency && p.AuthorizationURL != "" {
			return p, nil
		}
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		c, err := s.customers.Get(ctx, tenantID, o.CustomerID)
		if err != nil {
			return Payment{}, err
		}
		email = c.Email
	}
	if email == "" {
		return Payment{}, errors.New(errors.EInvalid, "email is required for online payment")
	}

	now := sqlstore.Now()
	p := Payment{
		ID:        ids.New("pay"),
		TenantID:  tenantID,
		OrderID:   o.ID,
		Reference: NewReference(tenantID),
		Provider:  ProviderGateway,
		Amount:    amount,
		Currency:  o.Currency,
		Status:    StatusInitialized,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.insert(ctx, s.db, p); err != nil {
		return Payment{}, errors.Wrap("payment.Initialize", err)
	}

	res, err := s.gateway.Initialize(ctx, InitRequest{
		Reference:   p.Reference,
		Email:       email,
		Amount:      p.Amount,
		Currency:    p.Currency,
		CallbackURL: req.CallbackURL,
		Metadata:    map[string]string{"tenant_id": tenantID, "order_id": o.ID, "order_number": o.Number},
	})
	if err != nil {
		if _, _, rerr := s.reconcile(ctx, p, Outcome{Status: StatusFailed, Reason: errors.ErrorMessage(err)}, nil); rerr != nil {
			s.log.Error("failed to record gateway error", zap.String("reference", p.Reference), zap.Error(rerr))
		}
		return Payment{}, err
	}
	p.AuthorizationURL = res.AuthorizationURL
	p.UpdatedAt = sqlstore.Now()
	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("payments").
		Set("authorization_url", p.AuthorizationURL).
		Set("updated_at", p.UpdatedAt).
		Where(sq.Eq{"id": p.ID}))
	if err != nil {
		return Payment{}, errors.Wrap("payment.Initialize", err)
	}
	if _, err := s.orders.ApplyPayment(ctx, tenantID, o.ID, order.PaymentUpdate{Status: order.PaymentPending}); err != nil {
		s.log.Warn("failed to mark order payment pending", zap.String("order_id", o.ID), zap.Error(err))
	}
	s.log.Info("payment initialized",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", o.ID),
		zap.String("reference", p.Reference),
		zap.String("amount", p.Amount.StringFixed(2)))
	return p, nil
}

func (s *Service) payableOrder(ctx context.Context, tenantID, orderID string) (order.Order, error) {
	o, err := s.orders.Get(ctx, tenantID, orderID)
	if err != nil {
		return order.Order{}, err
	}
	if o.Status == order.StatusCancelled {
		return order.Order{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("order %s is cancelled", o.Number))
	}
	if o.PaymentStatus == order.PaymentPaid || !o.Balance().IsPositive() {
		return order.Order{}, errors.New(errors.EConflict, fmt.Sprintf("order %s is already paid", o.Number))
	}
	if !o.Open() {
		return order.Order{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("order %s cannot take payments", o.Number))
	}
	return o, nil
}

// Confirm asks the gateway for the transaction's state and reconciles it.
func (s *Service) Confirm(ctx context.Context, tenantID, reference string) (Payment, error) {
	p, err := s.Get(ctx, tenantID, reference)
	if err != nil {
		return Payment{}, err
	}
	if p.Provider != ProviderGateway || rank[p.Status] >= rank[StatusSucceeded] {
		return p, nil
	}
	if s.gateway == nil {
		return Payment{}, errors.New(errors.EUnavailable, "online payments are not configured")
	}
	v, err := s.gateway.Verify(ctx, p.Reference)
	if err != nil {
		return Payment{}, err
	}
	p, _, err = s.reconcile(ctx, p, v.Outcome, nil)
	return p, err
}

// Webhook authenticates and applies a gateway event. Replayed events and
// unknown references are acknowledged without effect.
func (s *Service) Webhook(ctx context.Context, body []byte, signature string) (WebhookResult, error) {
	if s.gateway == nil {
		return WebhookResult{}, errors.New(errors.EUnavailable, "online payments are not configured")
	}
	if !s.gateway.VerifySignature(body, signature) {
		s.webhooks.WithLabelValues("rejected").Inc()
		return WebhookResult{}, errors.New(errors.EUnauthorized, "invalid webhook signature")
	}
	ev, err := s.gateway.ParseEvent(body)
	if err != nil {
		s.webhooks.WithLabelValues("rejected").Inc()
		return WebhookResult{}, err
	}
	res := WebhookResult{EventID: ev.ID, Reference: ev.Reference}
	if ev.Status == "" {
		res.Ignored = true
		s.webhooks.WithLabelValues("ignored").Inc()
		return res, nil
	}

	var p Payment
	err = sqlstore.Get(ctx, s.db, &p, s.db.Builder.
		Select(columns...).
		From("payments").
		Where(sq.Eq{"reference": ev.Reference}))
	if stderrors.Is(err, sql.ErrNoRows) {
		s.log.Warn("webhook for unknown payment reference",
			zap.String("event_id", ev.ID),
			zap.String("reference", ev.Reference))
		res.Ignored = true
		s.webhooks.WithLabelValues("ignored").Inc()
		return res, nil
	}
	if err != nil {
		return WebhookResult{}, errors.Wrap("payment.Webhook", err)
	}

	stored := &Event{
		ID:         ids.New("pev"),
		EventID:    ev.ID,
		TenantID:   p.TenantID,
		Reference:  p.Reference,
		Type:       ev.Type,
		Status:     ev.Status,
		Payload:    string(body),
		ReceivedAt: sqlstore.Now(),
	}
	p, dup, err := s.reconcile(ctx, p, ev.Outcome, stored)
	if err != nil {
		return WebhookResult{}, err
	}
	res.Duplicate = dup
	res.Status = p.Status
	if dup {
		s.webhooks.WithLabelValues("duplicate").Inc()
	} else {
		s.webhooks.WithLabelValues("processed").Inc()
	}
	return res, nil
}

// RecordManual records a cash, transfer or mobile money payment taken by staff.
func (s *Service) RecordManual(ctx context.Context, tenantID string, req ManualRequest) (Payment, error) {
	amount, err := money.Parse(req.Amount)
	if err != nil {
		return Payment{}, errors.Invalidf("amount: %v", err)
	}
	if !amount.IsPositive() {
		return Payment{}, errors.New(errors.EInvalid, "amount must be positive")
	}
	o, err := s.payableOrder(ctx, tenantID, req.OrderID)
	if err != nil {
		return Payment{}, err
	}
	if amount.GreaterThan(o.Balance()) {
		return Payment{}, errors.New(errors.EUnprocessableEntity,
			fmt.Sprintf("amount %s exceeds the balance of %s", money.Format(amount, o.Currency), money.Format(o.Balance(), o.Currency)))
	}
	now := sqlstore.Now()
	p := Payment{
		ID:        ids.New("pay"),
		TenantID:  tenantID,
		OrderID:   o.ID,
		Reference: NewReference(tenantID),
		Provider:  req.Method,
		Amount:    money.Round(amount),
		Currency:  o.Currency,
		Status:    StatusPending,
		Channel:   req.Method,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.insert(ctx, s.db, p); err != nil {
		return Payment{}, errors.Wrap("payment.RecordManual", err)
	}
	s.log.Info("manual payment recorded",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", o.ID),
		zap.String("method", req.Method),
		zap.String("note", req.Note))
	p, _, err = s.reconcile(ctx, p, Outcome{Status: StatusSucceeded, Amount: p.Amount, Currency: p.Currency, PaidAt: now}, nil)
	return p, err
}

// reconcile applies out to p, recording ev in the same transaction when given.
// It reports whether ev had been seen before.
func (s *Service) reconcile(ctx context.Context, p Payment, out Outcome, ev *Event) (Payment, bool, error) {
	var (
		dup      bool
		changed  bool
		prev     string
		refunded decimal.Decimal
	)
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if ev != nil {
			var n int
			err := sqlstore.Get(ctx, tx, &n, s.db.Builder.
				Select("COUNT(*)").
				From("payment_events").
				Where(sq.Eq{"event_id": ev.EventID}))
			if err != nil {
				return err
			}
			if n > 0 {
				dup = true
				return nil
			}
			_, err = sqlstore.Exec(ctx, tx, s.db.Builder.
				Insert("payment_events").
				Columns("id", "event_id", "tenant_id", "reference", "type", "status", "payload", "received_at").
				Values(ev.ID, ev.EventID, ev.TenantID, ev.Reference, ev.Type, ev.Status, ev.Payload, ev.ReceivedAt))
			if err != nil {
				return err
			}
		}
		cur, err := s.get(ctx, tx, p.TenantID, p.ID)
		if err != nil {
			return err
		}
		next, ok := resolve(cur, out)
		if !ok {
			p = cur
			return nil
		}
		n, err := sqlstore.Exec(ctx, tx, s.db.Builder.
			Update("payments").
			SetMap(map[string]any{
				"status":          next.Status,
				"refunded_amount": next.RefundedAmount,
				"provider_txn_id": next.ProviderTxnID,
				"channel":         next.Channel,
				"failure_reason":  next.FailureReason,
				"paid_at":         next.PaidAt,
				"updated_at":      next.UpdatedAt,
			}).
			Where(sq.Eq{"id": cur.ID, "status": cur.Status}))
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New(errors.EConflict, fmt.Sprintf("payment %s changed concurrently", cur.Reference))
		}
		prev, p, changed = cur.Status, next, true
		refunded = next.RefundedAmount.Sub(cur.RefundedAmount)
		return nil
	})
	if err != nil {
		return Payment{}, false, errors.Wrap("payment.reconcile", err)
	}
	if dup {
		p, err = s.get(ctx, s.db, p.TenantID, p.ID)
		return p, true, err
	}
	if changed {
		s.reconciled.WithLabelValues(p.Provider, p.Status).Inc()
		s.log.Info("payment reconciled",
			zap.String("tenant_id", p.TenantID),
			zap.String("reference", p.Reference),
			zap.String("from", prev),
			zap.String("to", p.Status))
		s.afterReconcile(ctx, p, refunded)
	}
	return p, false, nil
}

// resolve returns cur updated by out and whether anything changed. Outcomes
// never move a payment backwards.
func resolve(cur Payment, out Outcome) (Payment, bool) {
	status := normalizeStatus(out.Status)
	if status == StatusRefunded || status == StatusPartiallyRefunded {
		return resolveRefund(cur, out)
	}
	if status == "" || status == cur.Status {
		return cur, false
	}
	next := cur
	if status == StatusSucceeded {
		switch {
		case !out.Amount.IsZero() && !out.Amount.Equal(cur.Amount):
			status = StatusFailed
			out.Reason = fmt.Sprintf("amount mismatch: expected %s, got %s", cur.Amount.StringFixed(2), out.Amount.StringFixed(2))
		case out.Currency != "" && !strings.EqualFold(out.Currency, cur.Currency):
			status = StatusFailed
			out.Reason = fmt.Sprintf("currency mismatch: expected %s, got %s", cur.Currency, strings.ToUpper(out.Currency))
		}
	}
	if !CanMove(cur.Status, status) {
		return cur, false
	}
	now := sqlstore.Now()
	next.Status = status
	next.UpdatedAt = now
	if out.ProviderTxnID != "" {
		next.ProviderTxnID = out.ProviderTxnID
	}
	if out.Channel != "" && cur.Provider == ProviderGateway {
		next.Channel = out.Channel
	}
	switch status {
	case StatusSucceeded:
		at := now
		if !out.PaidAt.IsZero() {
			at = out.PaidAt.UTC().Truncate(time.Microsecond)
		}
		next.PaidAt = &at
		next.FailureReason = ""
	case StatusFailed, StatusAbandoned:
		next.FailureReason = out.Reason
		if next.FailureReason == "" {
			next.FailureReason = status
		}
	}
	return next, true
}

// resolveRefund adds out.Refunded to the refunded total, capped at the amount
// paid. The payment is refunded once nothing is left and partially refunded
// before that.
func resolveRefund(cur Payment, out Outcome) (Payment, bool) {
	if cur.Status != StatusSucceeded && cur.Status != StatusPartiallyRefunded {
		return cur, false
	}
	left := cur.Amount.Sub(cur.RefundedAmount)
	amount := money.Round(out.Refunded)
	if !amount.IsPositive() || amount.GreaterThan(left) {
		amount = left
	}
	if !amount.IsPositive() {
		return cur, false
	}
	next := cur
	next.RefundedAmount = cur.RefundedAmount.Add(amount)
	next.Status = StatusPartiallyRefunded
	if !next.RefundedAmount.LessThan(cur.Amount) {
		next.Status = StatusRefunded
	}
	next.UpdatedAt = sqlstore.Now()
	return next, true
}

// afterReconcile carries a payment's new state into the order, invoice,
// loyalty balance and customer notifications. refunded is the amount a
// refund returned in this step.
func (s *Service) afterReconcile(ctx context.Context, p Payment, refunded decimal.Decimal) {
	log := s.log.With(zap.String("tenant_id", p.TenantID), zap.String("reference", p.Reference), zap.String("order_id", p.OrderID))
	switch p.Status {
	case StatusSucceeded:
		o, err := s.orders.Get(ctx, p.TenantID, p.OrderID)
		if err != nil {
			log.Error("failed to load order for payment", zap.Error(err))
			return
		}
		status := order.PaymentPending
		if !o.AmountPaid.Add(p.Amount).LessThan(o.Total) {
			status = order.PaymentPaid
		}
		o, err = s.orders.ApplyPayment(ctx, p.TenantID, p.OrderID, order.PaymentUpdate{Status: status, Paid: p.Amount})
		if err != nil {
			log.Error("failed to apply payment to order", zap.Error(err))
			return
		}
		if o.PaymentStatus == order.PaymentPaid && s.invoices != nil {
			paidAt := sqlstore.Now()
			if p.PaidAt != nil {
				paidAt = *p.PaidAt
			}
			if err := s.invoices.MarkPaidForOrder(ctx, p.TenantID, p.OrderID, paidAt); err != nil {
				log.Warn("failed to mark invoice paid", zap.Error(err))
			}
		}
		if o.PaymentStatus == order.PaymentPaid {
			if _, err := s.customers.AwardForOrder(ctx, p.TenantID, o.CustomerID, o.ID, o.Total); err != nil {
				log.Warn("failed to award loyalty points", zap.Error(err))
			}
		}
		s.notify(ctx, log, o, p)
	case StatusFailed, StatusAbandoned:
		if _, err := s.orders.ApplyPayment(ctx, p.TenantID, p.OrderID, order.PaymentUpdate{Status: order.PaymentFailed}); err != nil {
			log.Warn("failed to mark order payment failed", zap.Error(err))
		}
	case StatusRefunded, StatusPartiallyRefunded:
		o, err := s.orders.Get(ctx, p.TenantID, p.OrderID)
		if err != nil {
			log.Error("failed to load order for refund", zap.Error(err))
			return
		}
		status := order.PaymentRefunded
		if o.AmountPaid.Sub(refunded).IsPositive() {
			status = order.PaymentPartiallyRefunded
		}
		if _, err := s.orders.ApplyPayment(ctx, p.TenantID, p.OrderID, order.PaymentUpdate{Status: status, Refunded: refunded}); err != nil {
			log.Warn("failed to apply refund to order", zap.Error(err))
		}
	}
}

func (s *Service) notify(ctx context.Context, log *zap.Logger, o order.Order, p Payment) {
	if s.notifier == nil {
		return
	}
	vars := order.OrderVars(o)
	vars["payment_amount"] = money.Format(p.Amount, p.Currency)
	vars["payment_reference"] = p.Reference
	vars["payment_method"] = strings.ReplaceAll(p.Channel, "_", " ")
	_, err := s.notifier.Enqueue(ctx, notify.Message{
		TenantID:    p.TenantID,
		CustomerID:  o.CustomerID,
		TemplateKey: notify.EventPaymentReceived,
		Vars:        vars,
	})
	if err != nil {
		log.Warn("failed to queue notification", zap.String("event", notify.EventPaymentReceived), zap.Error(err))
	}
}

func (s *Service) insert(ctx context.Context, q sqlstore.Queryer, p Payment) error {
	_, err := sqlstore.Exec(ctx, q, s.db.Builder.
		Insert("payments").
		Columns(columns...).
		Values(p.ID, p.TenantID, p.OrderID, p.Reference, p.Provider, p.Amount, p.Currency, p.Status, p.RefundedAmount,
			p.ProviderTxnID, p.AuthorizationURL, p.Channel, p.FailureReason, p.PaidAt, p.CreatedAt, p.UpdatedAt))
	return err
}

func (s *Service) get(ctx context.Context, q sqlstore.Queryer, tenantID, id string) (Payment, error) {
	var p Payment
	err := sqlstore.Get(ctx, q, &p, s.db.Builder.
		Select(columns...).
		From("payments").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Payment{}, errors.NotFound("payment")
	}
	return p, err
}

// Get finds a payment by id or reference.
func (s *Service) Get(ctx context.Context, tenantID, idOrReference string) (Payment, error) {
	var p Payment
	err := sqlstore.Get(ctx, s.db, &p, s.db.Builder.
		Select(columns...).
		From("payments").
		Where(sq.Eq{"tenant_id": tenantID}).
		Where(sq.Or{sq.Eq{"id": idOrReference}, sq.Eq{"reference": idOrReference}}))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Payment{}, errors.NotFound("payment")
	}
	if err != nil {
		return Payment{}, errors.Wrap("payment.Get", err)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) (listcache.Result[Payment], error) {
	b := s.db.Builder.Select(columns...).From("payments").Where(sq.Eq{"tenant_id": tenantID})
	if f.OrderID != "" {
		b = b.Where(sq.Eq{"order_id": f.OrderID})
	}
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	b, err := sqlstore.Page(b, f.Cursor, f.Limit)
	if err != nil {
		return listcache.Result[Payment]{}, err
	}
	var rows []Payment
	if err := sqlstore.Select(ctx, s.db, &rows, b); err != nil {
		return listcache.Result[Payment]{}, errors.Wrap("payment.List", err)
	}
	items, next := cursor.Page(rows, f.Limit, func(p Payment) (time.Time, string) { return p.CreatedAt, p.ID })
	if items == nil {
		items = []Payment{}
	}
	return listcache.Result[Payment]{Items: items, NextCursor: next}, nil
}
