package invoice

import (
	"context"
	"time"

	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/listcache"
)

// NewLoggingService logs every call to underlying with its duration.
func NewLoggingService(logger *zap.Logger, underlying InvoiceService) InvoiceService {
	return &loggingService{
		logger:     logger,
		underlying: underlying,
	}
}

type loggingService struct {
	logger     *zap.Logger
	underlying InvoiceService
}

var _ InvoiceService = (*loggingService)(nil)

func (l loggingService) Create(ctx context.Context, tenantID string, req CreateInvoiceRequest) (inv Invoice, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to create invoice", zap.String("order_id", req.OrderID), zap.Error(err), dur)
			return
		}
		l.logger.Debug("invoice create", zap.String("invoice_id", inv.ID), zap.String("number", inv.Number), dur)
	}(time.Now())
	return l.underlying.Create(ctx, tenantID, req)
}

func (l loggingService) Get(ctx context.Context, tenantID, id string) (inv Invoice, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to find invoice", zap.String("invoice_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("invoice find", zap.String("invoice_id", id), dur)
	}(time.Now())
	return l.underlying.Get(ctx, tenantID, id)
}

func (l loggingService) List(ctx context.Context, tenantID string, f ListFilter) (res listcache.Result[Invoice], err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to list invoices", zap.String("tenant_id", tenantID), zap.Error(err), dur)
			return
		}
		l.logger.Debug("invoices list", zap.String("tenant_id", tenantID), zap.Int("count", len(res.Items)), dur)
	}(time.Now())
	return l.underlying.List(ctx, tenantID, f)
}

func (l loggingService) Issue(ctx context.Context, tenantID, id string, req IssueRequest) (inv Invoice, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to issue invoice", zap.String("invoice_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("invoice issue", zap.String("invoice_id", id), zap.String("status", inv.Status), dur)
	}(time.Now())
	return l.underlying.Issue(ctx, tenantID, id, req)
}

func (l loggingService) Void(ctx context.Context, tenantID, id string, req VoidRequest) (inv Invoice, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to void invoice", zap.String("invoice_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("invoice void", zap.String("invoice_id", id), dur)
	}(time.Now())
	return l.underlying.Void(ctx, tenantID, id, req)
}

func (l loggingService) MarkPaidForOrder(ctx context.Context, tenantID, orderID string, paidAt time.Time) (err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to mark invoice paid", zap.String("order_id", orderID), zap.Error(err), dur)
			return
		}
		l.logger.Debug("invoice mark paid", zap.String("order_id", orderID), dur)
	}(time.Now())
	return l.underlying.MarkPaidForOrder(ctx, tenantID, orderID, paidAt)
}

func (l loggingService) Render(ctx context.Context, tenantID, id, format string) (doc Document, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to render invoice", zap.String("invoice_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("invoice render", zap.String("invoice_id", id), zap.String("format", format), zap.Int("bytes", len(doc.Body)), dur)
	}(time.Now())
	return l.underlying.Render(ctx, tenantID, id, format)
}
