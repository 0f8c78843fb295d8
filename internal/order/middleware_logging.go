package order

import (
	"context"
	"time"

	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/listcache"
)

// NewLoggingService logs every call to underlying with its duration.
func NewLoggingService(logger *zap.Logger, underlying OrderService) OrderService {
	return &loggingService{
		logger:     logger,
		underlying: underlying,
	}
}

type loggingService struct {
	logger     *zap.Logger
	underlying OrderService
}

var _ OrderService = (*loggingService)(nil)

func (l loggingService) Create(ctx context.Context, tenantID string, req CreateOrderRequest) (o Order, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to create order", zap.String("tenant_id", tenantID), zap.Error(err), dur)
			return
		}
		l.logger.Debug("order create", zap.String("tenant_id", tenantID), zap.String("order_id", o.ID), dur)
	}(time.Now())
	return l.underlying.Create(ctx, tenantID, req)
}

func (l loggingService) Get(ctx context.Context, tenantID, id string) (o Order, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to find order", zap.String("order_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("order find", zap.String("order_id", id), dur)
	}(time.Now())
	return l.underlying.Get(ctx, tenantID, id)
}

func (l loggingService) List(ctx context.Context, tenantID string, f ListFilter) (res listcache.Result[Order], err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to list orders", zap.String("tenant_id", tenantID), zap.Error(err), dur)
			return
		}
		l.logger.Debug("orders list", zap.String("tenant_id", tenantID), zap.Int("count", len(res.Items)), zap.Bool("cached", res.Cached), dur)
	}(time.Now())
	return l.underlying.List(ctx, tenantID, f)
}

func (l loggingService) ExplainList(ctx context.Context, tenantID string, f ListFilter) (plan any, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to explain orders list", zap.Error(err), dur)
			return
		}
		l.logger.Debug("orders list explain", dur)
	}(time.Now())
	return l.underlying.ExplainList(ctx, tenantID, f)
}

func (l loggingService) Update(ctx context.Context, tenantID, id string, req UpdateOrderRequest) (o Order, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to update order", zap.String("order_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("order update", zap.String("order_id", id), dur)
	}(time.Now())
	return l.underlying.Update(ctx, tenantID, id, req)
}

func (l loggingService) Transition(ctx context.Context, tenantID, id string, req StatusRequest) (o Order, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to transition order", zap.String("order_id", id), zap.String("to", req.Status), zap.Error(err), dur)
			return
		}
		l.logger.Debug("order transition", zap.String("order_id", id), zap.String("to", o.Status), dur)
	}(time.Now())
	return l.underlying.Transition(ctx, tenantID, id, req)
}

func (l loggingService) Cancel(ctx context.Context, tenantID, id string, req CancelRequest) (o Order, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to cancel order", zap.String("order_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("order cancel", zap.String("order_id", id), dur)
	}(time.Now())
	return l.underlying.Cancel(ctx, tenantID, id, req)
}

func (l loggingService) ApplyPayment(ctx context.Context, tenantID, id string, u PaymentUpdate) (o Order, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to apply payment to order", zap.String("order_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("order payment apply", zap.String("order_id", id), zap.String("payment_status", o.PaymentStatus), dur)
	}(time.Now())
	return l.underlying.ApplyPayment(ctx, tenantID, id, u)
}
