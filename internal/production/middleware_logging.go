package production

import (
	"context"
	"time"

	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/listcache"
)

// NewLoggingService logs every call to underlying with its duration.
func NewLoggingService(logger *zap.Logger, underlying JobService) JobService {
	return &loggingService{
		logger:     logger,
		underlying: underlying,
	}
}

type loggingService struct {
	logger     *zap.Logger
	underlying JobService
}

var _ JobService = (*loggingService)(nil)

func (l loggingService) Create(ctx context.Context, tenantID string, req CreateJobRequest) (j Job, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to create production job", zap.String("order_id", req.OrderID), zap.Error(err), dur)
			return
		}
		l.logger.Debug("production job create", zap.String("job_id", j.ID), zap.String("order_id", j.OrderID), dur)
	}(time.Now())
	return l.underlying.Create(ctx, tenantID, req)
}

func (l loggingService) Get(ctx context.Context, tenantID, id string) (j Job, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to find production job", zap.String("job_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("production job find", zap.String("job_id", id), dur)
	}(time.Now())
	return l.underlying.Get(ctx, tenantID, id)
}

func (l loggingService) List(ctx context.Context, tenantID string, f ListFilter) (res listcache.Result[Job], err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to list production jobs", zap.String("tenant_id", tenantID), zap.Error(err), dur)
			return
		}
		l.logger.Debug("production jobs list", zap.String("tenant_id", tenantID), zap.Int("count", len(res.Items)), dur)
	}(time.Now())
	return l.underlying.List(ctx, tenantID, f)
}

func (l loggingService) Update(ctx context.Context, tenantID, id string, req UpdateJobRequest) (j Job, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to update production job", zap.String("job_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("production job update", zap.String("job_id", id), dur)
	}(time.Now())
	return l.underlying.Update(ctx, tenantID, id, req)
}

func (l loggingService) Move(ctx context.Context, tenantID, id string, req MoveRequest) (j Job, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to move production job", zap.String("job_id", id), zap.String("stage", req.Stage), zap.Error(err), dur)
			return
		}
		l.logger.Debug("production job move", zap.String("job_id", id), zap.String("stage", j.Stage), zap.Int("position", j.Position), dur)
	}(time.Now())
	return l.underlying.Move(ctx, tenantID, id, req)
}

func (l loggingService) Assign(ctx context.Context, tenantID, id string, req AssignRequest) (j Job, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to assign production job", zap.String("job_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("production job assign", zap.String("job_id", id), zap.String("assigned_to", j.AssignedTo), dur)
	}(time.Now())
	return l.underlying.Assign(ctx, tenantID, id, req)
}

func (l loggingService) History(ctx context.Context, tenantID, id string) (h []History, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to load production job history", zap.String("job_id", id), zap.Error(err), dur)
			return
		}
		l.logger.Debug("production job history", zap.String("job_id", id), zap.Int("count", len(h)), dur)
	}(time.Now())
	return l.underlying.History(ctx, tenantID, id)
}

func (l loggingService) Board(ctx context.Context, tenantID string, f BoardFilter) (b Board, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to build production board", zap.String("tenant_id", tenantID), zap.Error(err), dur)
			return
		}
		l.logger.Debug("production board", zap.String("tenant_id", tenantID), zap.Int("total", b.Total), zap.Int("overdue", b.Overdue), dur)
	}(time.Now())
	return l.underlying.Board(ctx, tenantID, f)
}
