package notify

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/ids"
	"erp/ecommerce/internal/platform/sqlstore"
)

// Queue statuses.
const (
	QueueQueued  = "queued"
	QueueSending = "sending"
	QueueSent    = "sent"
	QueueSkipped = "skipped"
	QueueFailed  = "failed"
)

type QueueItem struct {
	ID            string             `json:"id" db:"id"`
	TenantID      string             `json:"tenant_id" db:"tenant_id"`
	CustomerID    string             `json:"customer_id,omitempty" db:"customer_id"`
	Recipient     string             `json:"recipient,omitempty" db:"recipient"`
	TemplateKey   string             `json:"template_key" db:"template_key"`
	Channels      sqlstore.Strings   `json:"channels" db:"channels"`
	Vars          sqlstore.StringMap `json:"vars" db:"vars"`
	CampaignID    string             `json:"campaign_id,omitempty" db:"campaign_id"`
	Status        string             `json:"status" db:"status"`
	Attempts      int                `json:"attempts" db:"attempts"`
	LastError     string             `json:"last_error,omitempty" db:"last_error"`
	NextAttemptAt time.Time          `json:"next_attempt_at" db:"next_attempt_at"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at" db:"updated_at"`
}

func (q QueueItem) message() Message {
	return Message{
		ID:          q.ID,
		TenantID:    q.TenantID,
		CustomerID:  q.CustomerID,
		Recipient:   q.Recipient,
		TemplateKey: q.TemplateKey,
		Channels:    q.Channels,
		Vars:        q.Vars,
		CampaignID:  q.CampaignID,
	}
}

var queueColumns = []string{
	"id", "tenant_id", "customer_id", "recipient", "template_key", "channels", "vars", "campaign_id",
	"status", "attempts", "last_error", "next_attempt_at", "created_at", "updated_at",
}

// Enqueue stores m for the worker and returns the queue item id.
func (s *Service) Enqueue(ctx context.Context, m Message) (string, error) {
	if err := m.validate(); err != nil {
		return "", err
	}
	channels, err := normalizeChannels(m.Channels)
	if err != nil {
		return "", err
	}
	vars := sqlstore.StringMap(m.Vars)
	if vars == nil {
		vars = sqlstore.StringMap{}
	}
	now := sqlstore.Now()
	item := QueueItem{
		ID:            ids.New("msg"),
		TenantID:      m.TenantID,
		CustomerID:    m.CustomerID,
		Recipient:     m.Recipient,
		TemplateKey:   m.TemplateKey,
		Channels:      channels,
		Vars:          vars,
		CampaignID:    m.CampaignID,
		Status:        QueueQueued,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Insert("notification_queue").
		Columns(queueColumns...).
		Values(item.ID, item.TenantID, item.CustomerID, item.Recipient, item.TemplateKey, item.Channels, item.Vars,
			item.CampaignID, item.Status, item.Attempts, item.LastError, item.NextAttemptAt, item.CreatedAt, item.UpdatedAt))
	if err != nil {
		return "", errors.Wrap("notify.Enqueue", err)
	}
	return item.ID, nil
}

func (s *Service) QueueItem(ctx context.Context, tenantID, id string) (QueueItem, error) {
	var q QueueItem
	err := sqlstore.Get(ctx, s.db, &q, s.db.Builder.
		Select(queueColumns...).
		From("notification_queue").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if stderrors.Is(err, sql.ErrNoRows) {
		return QueueItem{}, errors.NotFound("queued message")
	}
	if err != nil {
		return QueueItem{}, errors.Wrap("notify.QueueItem", err)
	}
	return q, nil
}

// ProcessQueue delivers up to batch due messages and returns how many it handled.
func (s *Service) ProcessQueue(ctx context.Context, batch int) (int, error) {
	var due []QueueItem
	err := sqlstore.Select(ctx, s.db, &due, s.db.Builder.
		Select(queueColumns...).
		From("notification_queue").
		Where(sq.Eq{"status": QueueQueued}).
		Where(sq.LtOrEq{"next_attempt_at": sqlstore.Now()}).
		OrderBy("next_attempt_at", "id").
		Limit(uint64(batch)))
	if err != nil {
		return 0, errors.Wrap("notify.ProcessQueue", err)
	}

	var handled int
	for _, item := range due {
		if ctx.Err() != nil {
			break
		}
		claimed, err := s.setQueueStatus(ctx, item.ID, QueueQueued, sq.Eq{"status": QueueSending})
		if err != nil {
			return handled, err
		}
		if !claimed {
			continue
		}
		handled++
		if err := s.deliver(ctx, item); err != nil {
			return handled, err
		}
	}
	return handled, nil
}

func (s *Service) deliver(ctx context.Context, item QueueItem) error {
	d, err := s.Send(ctx, item.message())
	attempts := item.Attempts + 1
	log := s.log.With(zap.String("tenant_id", item.TenantID), zap.String("message_id", item.ID), zap.Int("attempts", attempts))

	var permanent bool
	switch {
	case errors.Is(err, errors.EInvalid), errors.Is(err, errors.ENotFound):
		permanent = true
	case err != nil:
	case d.Status == StatusSent:
		log.Debug("queued message sent", zap.String("channel", d.Channel))
		_, err := s.setQueueStatus(ctx, item.ID, QueueSending, sq.Eq{"status": QueueSent, "attempts": attempts, "last_error": ""})
		return err
	case d.Status == StatusSkipped:
		_, err := s.setQueueStatus(ctx, item.ID, QueueSending, sq.Eq{"status": QueueSkipped, "attempts": attempts, "last_error": ""})
		return err
	default:
		err = stderrors.New(d.Error)
	}

	if permanent || attempts >= s.opts.MaxAttempts {
		log.Warn("queued message failed", zap.Error(err))
		_, uerr := s.setQueueStatus(ctx, item.ID, QueueSending, sq.Eq{"status": QueueFailed, "attempts": attempts, "last_error": err.Error()})
		return uerr
	}
	log.Debug("queued message will be retried", zap.Error(err))
	_, uerr := s.setQueueStatus(ctx, item.ID, QueueSending, sq.Eq{
		"status":          QueueQueued,
		"attempts":        attempts,
		"last_error":      err.Error(),
		"next_attempt_at": sqlstore.Now().Add(time.Duration(attempts) * s.opts.RetryBackoff),
	})
	return uerr
}

// setQueueStatus applies set to item id when it is still in status from.
func (s *Service) setQueueStatus(ctx context.Context, id, from string, set sq.Eq) (bool, error) {
	set["updated_at"] = sqlstore.Now()
	n, err := sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("notification_queue").
		SetMap(set).
		Where(sq.Eq{"id": id, "status": from}))
	if err != nil {
		return false, errors.Wrap("notify.setQueueStatus", err)
	}
	return n == 1, nil
}

// Worker delivers queued messages and starts due campaigns on every tick.
type Worker struct {
	svc      *Service
	log      *zap.Logger
	interval time.Duration
	batch    int
}

func NewWorker(svc *Service, log *zap.Logger, interval time.Duration, batch int) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 20
	}
	return &Worker{svc: svc, log: log, interval: interval, batch: batch}
}

// Run processes the queue until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("notification worker started", zap.Duration("interval", w.interval), zap.Int("batch", w.batch))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("notification worker stopped")
			return nil
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one worker pass.
func (w *Worker) Tick(ctx context.Context) {
	if n, err := w.svc.StartDueCampaigns(ctx); err != nil {
		w.log.Error("starting scheduled campaigns", zap.Error(err))
	} else if n > 0 {
		w.log.Info("scheduled campaigns started", zap.Int("count", n))
	}
	for {
		n, err := w.svc.ProcessQueue(ctx, w.batch)
		if err != nil {
			w.log.Error("processing notification queue", zap.Error(err))
			return
		}
		if n < w.batch || ctx.Err() != nil {
			return
		}
	}
}
