package payment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/listcache"
)

// NewLoggingService logs every call to underlying with its duration.
func NewLoggingService(logger *zap.Logger, underlying PaymentService) PaymentService {
	return &loggingService{
		logger:     logger,
		underlying: underlying,
	}
}

type loggingService struct {
	logger     *zap.Logger
	underlying PaymentService
}

var _ PaymentService = (*loggingService)(nil)

func (l loggingService) Initialize(ctx context.Context, tenantID string, req InitializeRequest) (p Payment, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to initialize payment", zap.String("order_id", req.OrderID), zap.Error(err), dur)
			return
		}
		l.logger.Debug("payment initialize", zap.String("order_id", req.OrderID), zap.String("reference", p.Reference), dur)
	}(time.Now())
	return l.underlying.Initialize(ctx, tenantID, req)
}

func (l loggingService) Confirm(ctx context.Context, tenantID, reference string) (p Payment, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to confirm payment", zap.String("reference", reference), zap.Error(err), dur)
			return
		}
		l.logger.Debug("payment confirm", zap.String("reference", reference), zap.String("status", p.Status), dur)
	}(time.Now())
	return l.underlying.Confirm(ctx, tenantID, reference)
}

func (l loggingService) Webhook(ctx context.Context, body []byte, signature string) (res WebhookResult, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to handle payment webhook", zap.Error(err), dur)
			return
		}
		l.logger.Debug("payment webhook", zap.String("event_id", res.EventID), zap.Bool("duplicate", res.Duplicate), dur)
	}(time.Now())
	return l.underlying.Webhook(ctx, body, signature)
}

func (l loggingService) RecordManual(ctx context.Context, tenantID string, req ManualRequest) (p Payment, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to record manual payment", zap.String("order_id", req.OrderID), zap.Error(err), dur)
			return
		}
		l.logger.Debug("payment record manual", zap.String("order_id", req.OrderID), zap.String("reference", p.Reference), dur)
	}(time.Now())
	return l.underlying.RecordManual(ctx, tenantID, req)
}

func (l loggingService) Get(ctx context.Context, tenantID, idOrReference string) (p Payment, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to find payment", zap.String("payment", idOrReference), zap.Error(err), dur)
			return
		}
		l.logger.Debug("payment find", zap.String("payment", idOrReference), dur)
	}(time.Now())
	return l.underlying.Get(ctx, tenantID, idOrReference)
}

func (l loggingService) List(ctx context.Context, tenantID string, f ListFilter) (res listcache.Result[Payment], err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to list payments", zap.Error(err), dur)
			return
		}
		l.logger.Debug("payments list", zap.Int("count", len(res.Items)), dur)
	}(time.Now())
	return l.underlying.List(ctx, tenantID, f)
}
