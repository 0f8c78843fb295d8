package production

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sort"
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
	"erp/ecommerce/internal/platform/sqlstore"
)

type Orders interface {
	Get(ctx context.Context, tenantID, id string) (order.Order, error)
	Transition(ctx context.Context, tenantID, id string, req order.StatusRequest) (order.Order, error)
}

type Customers interface {
	Get(ctx context.Context, tenantID, id string) (customer.Customer, error)
}

type Notifier interface {
	Enqueue(ctx context.Context, m notify.Message) (string, error)
}

// JobService is the production API used by handlers.
type JobService interface {
	Create(ctx context.Context, tenantID string, req CreateJobRequest) (Job, error)
	Get(ctx context.Context, tenantID, id string) (Job, error)
	List(ctx context.Context, tenantID string, f ListFilter) (listcache.Result[Job], error)
	Update(ctx context.Context, tenantID, id string, req UpdateJobRequest) (Job, error)
	Move(ctx context.Context, tenantID, id string, req MoveRequest) (Job, error)
	Assign(ctx context.Context, tenantID, id string, req AssignRequest) (Job, error)
	History(ctx context.Context, tenantID, id string) ([]History, error)
	Board(ctx context.Context, tenantID string, f BoardFilter) (Board, error)
}

var _ JobService = (*Service)(nil)

type Service struct {
	db        *sqlstore.DB
	log       *zap.Logger
	orders    Orders
	customers Customers
	notifier  Notifier
	now       func() time.Time

	moves *prometheus.CounterVec
}

func NewService(db *sqlstore.DB, log *zap.Logger, orders Orders, customers Customers, notifier Notifier, reg prometheus.Registerer) *Service {
	return &Service{
		db:        db,
		log:       log,
		orders:    orders,
		customers: customers,
		notifier:  notifier,
		now:       sqlstore.Now,
		moves: metrics.Counter(reg, "production", "moves_total",
			"Production job moves by destination stage.", "stage"),
	}
}

var columns = []string{
	"id", "tenant_id", "order_id", "order_item_id", "customer_id", "title", "garment_type", "fabric", "description",
	"measurements", "stage", "held_from", "assigned_to", "priority", "position", "due_date", "started_at",
	"completed_at", "created_at", "updated_at",
}

// PlanJobs opens one backlog job per custom line of o. Lines that already
// have a job are skipped, so planning twice is harmless.
func (s *Service) PlanJobs(ctx context.Context, o order.Order) error {
	items := o.CustomItems()
	if len(items) == 0 {
		return nil
	}
	var measurements customer.Measurements
	if c, err := s.customers.Get(ctx, o.TenantID, o.CustomerID); err == nil {
		measurements = c.Measurements
	} else {
		s.log.Warn("planning jobs without measurements", zap.String("customer_id", o.CustomerID), zap.Error(err))
	}

	var planned int
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var existing []string
		err := sqlstore.Select(ctx, tx, &existing, s.db.Builder.
			Select("order_item_id").
			From("production_jobs").
			Where(sq.Eq{"tenant_id": o.TenantID, "order_id": o.ID}))
		if err != nil {
			return err
		}
		have := make(map[string]bool, len(existing))
		for _, id := range existing {
			have[id] = true
		}
		pos, err := s.nextPosition(ctx, tx, o.TenantID, StageBacklog)
		if err != nil {
			return err
		}
		for _, it := range items {
			if have[it.ID] {
				continue
			}
			title := it.Name
			if it.Quantity > 1 {
				title = fmt.Sprintf("%s x%d", it.Name, it.Quantity)
			}
			j := s.newJob(o.TenantID, o.ID, o.CustomerID)
			j.OrderItemID = it.ID
			j.Title = title
			j.GarmentType = it.GarmentType
			j.Fabric = it.Fabric
			j.Description = it.Notes
			j.Measurements = measurements
			j.DueDate = o.DueDate
			j.Position = pos
			pos++
			if err := s.insert(ctx, tx, j, "order "+o.Number); err != nil {
				return err
			}
			planned++
		}
		return nil
	})
	if err != nil {
		return errors.Wrap("production.PlanJobs", err)
	}
	if planned > 0 {
		s.log.Info("production jobs planned",
			zap.String("tenant_id", o.TenantID),
			zap.String("order_id", o.ID),
			zap.Int("jobs", planned))
	}
	return nil
}

func (s *Service) newJob(tenantID, orderID, customerID string) Job {
	now := s.now()
	return Job{
		ID:         ids.New("job"),
		TenantID:   tenantID,
		OrderID:    orderID,
		CustomerID: customerID,
		Stage:      StageBacklog,
		Priority:   PriorityNormal,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Create opens a job by hand for an existing order.
func (s *Service) Create(ctx context.Context, tenantID string, req CreateJobRequest) (Job, error) {
	o, err := s.orders.Get(ctx, tenantID, req.OrderID)
	if err != nil {
		if errors.Is(err, errors.ENotFound) {
			return Job{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("order %s not found", req.OrderID))
		}
		return Job{}, err
	}
	if o.Status == order.StatusCancelled {
		return Job{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("order %s is cancelled", o.Number))
	}
	j := s.newJob(tenantID, o.ID, o.CustomerID)
	j.OrderItemID = strings.TrimSpace(req.OrderItemID)
	j.Title = strings.TrimSpace(req.Title)
	j.GarmentType = strings.ToLower(strings.TrimSpace(req.GarmentType))
	j.Fabric = strings.TrimSpace(req.Fabric)
	j.Description = strings.TrimSpace(req.Description)
	j.AssignedTo = strings.TrimSpace(req.AssignedTo)
	if p := normalizePriority(req.Priority); p != "" {
		j.Priority = p
	}
	if req.DueDate != nil {
		d := req.DueDate.UTC().Truncate(time.Microsecond)
		j.DueDate = &d
	} else {
		j.DueDate = o.DueDate
	}
	if len(req.Measurements) > 0 {
		m := make(customer.Measurements, len(req.Measurements))
		for k, v := range req.Measurements {
			d, err := decimal.NewFromString(strings.TrimSpace(v))
			if err != nil || !d.IsPositive() {
				return Job{}, errors.Invalidf("measurement %s must be a positive number", k)
			}
			m[strings.ToLower(strings.TrimSpace(k))] = d.Round(1)
		}
		j.Measurements = m
	} else if c, err := s.customers.Get(ctx, tenantID, o.CustomerID); err == nil {
		j.Measurements = c.Measurements
	}

	err = s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		pos, err := s.nextPosition(ctx, tx, tenantID, StageBacklog)
		if err != nil {
			return err
		}
		j.Position = pos
		return s.insert(ctx, tx, j, "created")
	})
	if err != nil {
		return Job{}, errors.Wrap("production.Create", err)
	}
	return j, nil
}

func (s *Service) insert(ctx context.Context, q sqlstore.Queryer, j Job, note string) error {
	_, err := sqlstore.Exec(ctx, q, s.db.Builder.
		Insert("production_jobs").
		Columns(columns...).
		Values(j.ID, j.TenantID, j.OrderID, j.OrderItemID, j.CustomerID, j.Title, j.GarmentType, j.Fabric, j.Description,
			j.Measurements, j.Stage, j.HeldFrom, j.AssignedTo, j.Priority, j.Position, j.DueDate, j.StartedAt,
			j.CompletedAt, j.CreatedAt, j.UpdatedAt))
	if err != nil {
		return err
	}
	return s.record(ctx, q, History{
		TenantID: j.TenantID,
		JobID:    j.ID,
		ToStage:  j.Stage,
		Note:     note,
	})
}

func (s *Service) record(ctx context.Context, q sqlstore.Queryer, h History) error {
	h.ID = ids.New("jbh")
	h.CreatedAt = s.now()
	_, err := sqlstore.Exec(ctx, q, s.db.Builder.
		Insert("production_history").
		Columns("id", "tenant_id", "job_id", "from_stage", "to_stage", "actor", "note", "created_at").
		Values(h.ID, h.TenantID, h.JobID, h.FromStage, h.ToStage, h.Actor, h.Note, h.CreatedAt))
	return err
}

func (s *Service) nextPosition(ctx context.Context, q sqlstore.Queryer, tenantID, stage string) (int, error) {
	var top sql.NullInt64
	err := sqlstore.Get(ctx, q, &top, s.db.Builder.
		Select("MAX(position)").
		From("production_jobs").
		Where(sq.Eq{"tenant_id": tenantID, "stage": stage}))
	if err != nil {
		return 0, err
	}
	if !top.Valid {
		return 0, nil
	}
	return int(top.Int64) + 1, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (Job, error) {
	return s.get(ctx, s.db, tenantID, id)
}

func (s *Service) get(ctx context.Context, q sqlstore.Queryer, tenantID, id string) (Job, error) {
	var j Job
	err := sqlstore.Get(ctx, q, &j, s.db.Builder.
		Select(columns...).
		From("production_jobs").
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Job{}, errors.NotFound("production job")
	}
	if err != nil {
		return Job{}, errors.Wrap("production.Get", err)
	}
	return j, nil
}

func (s *Service) filtered(tenantID string, stage, assignedTo, orderID, priority string) sq.SelectBuilder {
	b := s.db.Builder.Select(columns...).From("production_jobs").Where(sq.Eq{"tenant_id": tenantID})
	if stage != "" {
		b = b.Where(sq.Eq{"stage": stage})
	}
	if assignedTo != "" {
		b = b.Where(sq.Eq{"assigned_to": assignedTo})
	}
	if orderID != "" {
		b = b.Where(sq.Eq{"order_id": orderID})
	}
	if priority != "" {
		b = b.Where(sq.Eq{"priority": priority})
	}
	return b
}

func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) (listcache.Result[Job], error) {
	b, err := sqlstore.Page(s.filtered(tenantID, f.Stage, f.AssignedTo, f.OrderID, f.Priority), f.Cursor, f.Limit)
	if err != nil {
		return listcache.Result[Job]{}, err
	}
	var rows []Job
	if err := sqlstore.Select(ctx, s.db, &rows, b); err != nil {
		return listcache.Result[Job]{}, errors.Wrap("production.List", err)
	}
	items, next := cursor.Page(rows, f.Limit, func(j Job) (time.Time, string) { return j.CreatedAt, j.ID })
	if items == nil {
		items = []Job{}
	}
	return listcache.Result[Job]{Items: items, NextCursor: next}, nil
}

func (s *Service) Update(ctx context.Context, tenantID, id string, req UpdateJobRequest) (Job, error) {
	if req.empty() {
		return Job{}, errors.New(errors.EInvalid, "empty update payload")
	}
	j, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Job{}, err
	}
	if Terminal(j.Stage) {
		return Job{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("job is %s", j.Stage))
	}
	req.apply(&j)
	j.UpdatedAt = s.now()
	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("production_jobs").
		SetMap(map[string]any{
			"title":        j.Title,
			"garment_type": j.GarmentType,
			"fabric":       j.Fabric,
			"description":  j.Description,
			"priority":     j.Priority,
			"due_date":     j.DueDate,
			"updated_at":   j.UpdatedAt,
		}).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if err != nil {
		return Job{}, errors.Wrap("production.Update", err)
	}
	return j, nil
}

// Move puts a job in another stage, or reorders it within its stage when the
// stage is unchanged.
func (s *Service) Move(ctx context.Context, tenantID, id string, req MoveRequest) (Job, error) {
	to := normalizeStage(req.Stage)
	if to == "" {
		return Job{}, errors.Invalidf("unknown stage %q", req.Stage)
	}
	var (
		j    Job
		from string
	)
	err := s.db.InTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		j, err = s.get(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		from = j.Stage
		now := s.now()
		if to == from {
			if req.Position == nil || *req.Position == j.Position {
				return nil
			}
			j.Position = *req.Position
			j.UpdatedAt = now
			_, err = sqlstore.Exec(ctx, tx, s.db.Builder.
				Update("production_jobs").
				Set("position", j.Position).
				Set("updated_at", now).
				Where(sq.Eq{"tenant_id": tenantID, "id": id}))
			return err
		}
		if !CanMove(from, to, j.HeldFrom) {
			return errors.New(errors.EUnprocessableEntity, fmt.Sprintf("job cannot move from %s to %s", from, to))
		}

		switch {
		case to == StageOnHold:
			j.HeldFrom = from
		case from == StageOnHold:
			j.HeldFrom = ""
		}
		if j.StartedAt == nil && stageIndex(to) > 0 {
			j.StartedAt = &now
		}
		if to == StageDelivered {
			j.CompletedAt = &now
		}
		if req.Position != nil {
			j.Position = *req.Position
		} else if j.Position, err = s.nextPosition(ctx, tx, tenantID, to); err != nil {
			return err
		}
		j.Stage = to
		j.UpdatedAt = now

		n, err := sqlstore.Exec(ctx, tx, s.db.Builder.
			Update("production_jobs").
			SetMap(map[string]any{
				"stage":        j.Stage,
				"held_from":    j.HeldFrom,
				"position":     j.Position,
				"started_at":   j.StartedAt,
				"completed_at": j.CompletedAt,
				"updated_at":   j.UpdatedAt,
			}).
			Where(sq.Eq{"tenant_id": tenantID, "id": id, "stage": from}))
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.New(errors.EConflict, "job changed concurrently")
		}
		return s.record(ctx, tx, History{
			TenantID:  tenantID,
			JobID:     id,
			FromStage: from,
			ToStage:   to,
			Actor:     strings.TrimSpace(req.Actor),
			Note:      strings.TrimSpace(req.Note),
		})
	})
	if err != nil {
		return Job{}, errors.Wrap("production.Move", err)
	}
	if from != to {
		s.moves.WithLabelValues(to).Inc()
		s.afterMove(ctx, j, from)
	}
	return j, nil
}

// afterMove advances the order as its jobs progress and tells the customer
// when a garment is ready. Leaving the open stages for ready, delivered or
// cancelled may finish the order.
func (s *Service) afterMove(ctx context.Context, j Job, from string) {
	log := s.log.With(zap.String("tenant_id", j.TenantID), zap.String("job_id", j.ID), zap.String("order_id", j.OrderID))
	o, err := s.orders.Get(ctx, j.TenantID, j.OrderID)
	if err != nil {
		log.Warn("failed to load order for job", zap.Error(err))
		return
	}
	if from == StageBacklog && o.Status == order.StatusConfirmed && stageIndex(j.Stage) > 0 {
		if o, err = s.orders.Transition(ctx, j.TenantID, o.ID, order.StatusRequest{Status: order.StatusProcessing, Note: "production started"}); err != nil {
			log.Warn("failed to move order to processing", zap.Error(err))
			return
		}
	}
	switch j.Stage {
	case StageReady:
		s.notifyReady(ctx, log, j, o)
	case StageDelivered, StageCancelled:
	default:
		return
	}

	done, err := s.orderDone(ctx, j.TenantID, j.OrderID)
	if err != nil {
		log.Warn("failed to check order jobs", zap.Error(err))
		return
	}
	if !done {
		return
	}
	if o.Status == order.StatusConfirmed {
		if o, err = s.orders.Transition(ctx, j.TenantID, o.ID, order.StatusRequest{Status: order.StatusProcessing}); err != nil {
			log.Warn("failed to move order to processing", zap.Error(err))
			return
		}
	}
	if o.Status == order.StatusProcessing {
		if _, err := s.orders.Transition(ctx, j.TenantID, o.ID, order.StatusRequest{Status: order.StatusReady, Note: "all production jobs ready"}); err != nil {
			log.Warn("failed to move order to ready", zap.Error(err))
		}
	}
}

// orderDone reports whether every live job of the order is ready or
// delivered. An order whose jobs are all cancelled is never done.
func (s *Service) orderDone(ctx context.Context, tenantID, orderID string) (bool, error) {
	var stages []string
	err := sqlstore.Select(ctx, s.db, &stages, s.db.Builder.
		Select("stage").
		From("production_jobs").
		Where(sq.Eq{"tenant_id": tenantID, "order_id": orderID}).
		Where(sq.NotEq{"stage": StageCancelled}))
	if err != nil {
		return false, err
	}
	if len(stages) == 0 {
		return false, nil
	}
	for _, st := range stages {
		if st != StageReady && st != StageDelivered {
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) notifyReady(ctx context.Context, log *zap.Logger, j Job, o order.Order) {
	if s.notifier == nil {
		return
	}
	vars := order.OrderVars(o)
	vars["job_title"] = j.Title
	vars["garment_type"] = j.GarmentType
	_, err := s.notifier.Enqueue(ctx, notify.Message{
		TenantID:    j.TenantID,
		CustomerID:  j.CustomerID,
		TemplateKey: notify.EventProductionReady,
		Vars:        vars,
	})
	if err != nil {
		log.Warn("failed to queue notification", zap.String("event", notify.EventProductionReady), zap.Error(err))
	}
}

func (s *Service) Assign(ctx context.Context, tenantID, id string, req AssignRequest) (Job, error) {
	j, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Job{}, err
	}
	if Terminal(j.Stage) {
		return Job{}, errors.New(errors.EUnprocessableEntity, fmt.Sprintf("job is %s", j.Stage))
	}
	j.AssignedTo = strings.TrimSpace(req.AssignedTo)
	j.UpdatedAt = s.now()
	_, err = sqlstore.Exec(ctx, s.db, s.db.Builder.
		Update("production_jobs").
		Set("assigned_to", j.AssignedTo).
		Set("updated_at", j.UpdatedAt).
		Where(sq.Eq{"tenant_id": tenantID, "id": id}))
	if err != nil {
		return Job{}, errors.Wrap("production.Assign", err)
	}
	s.log.Info("production job assigned",
		zap.String("tenant_id", tenantID),
		zap.String("job_id", id),
		zap.String("assigned_to", j.AssignedTo),
		zap.String("actor", req.Actor))
	return j, nil
}

// History returns the job's stage changes, oldest first.
func (s *Service) History(ctx context.Context, tenantID, id string) ([]History, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	out := []History{}
	err := sqlstore.Select(ctx, s.db, &out, s.db.Builder.
		Select("id", "tenant_id", "job_id", "from_stage", "to_stage", "actor", "note", "created_at").
		From("production_history").
		Where(sq.Eq{"tenant_id": tenantID, "job_id": id}).
		OrderBy("created_at", "id"))
	return out, errors.Wrap("production.History", err)
}

// Board groups jobs into stage columns, each ordered by position then due date.
func (s *Service) Board(ctx context.Context, tenantID string, f BoardFilter) (Board, error) {
	var jobs []Job
	b := s.filtered(tenantID, "", f.AssignedTo, f.OrderID, "")
	if !f.IncludeCancelled {
		b = b.Where(sq.NotEq{"stage": StageCancelled})
	}
	if err := sqlstore.Select(ctx, s.db, &jobs, b); err != nil {
		return Board{}, errors.Wrap("production.Board", err)
	}
	stages := append(append([]string{}, Stages...), StageOnHold)
	if f.IncludeCancelled {
		stages = append(stages, StageCancelled)
	}
	now := s.now()
	board := Board{AsOf: now, Columns: make([]Column, 0, len(stages))}
	byStage := make(map[string][]BoardJob, len(stages))
	for _, j := range jobs {
		byStage[j.Stage] = append(byStage[j.Stage], BoardJob{Job: j, Overdue: j.Overdue(now)})
	}
	for _, st := range stages {
		col := Column{Stage: st, Jobs: byStage[st]}
		if col.Jobs == nil {
			col.Jobs = []BoardJob{}
		}
		sort.SliceStable(col.Jobs, func(a, b int) bool {
			ja, jb := col.Jobs[a], col.Jobs[b]
			if ja.Position != jb.Position {
				return ja.Position < jb.Position
			}
			switch {
			case ja.DueDate == nil:
				return false
			case jb.DueDate == nil:
				return true
			default:
				return ja.DueDate.Before(*jb.DueDate)
			}
		})
		col.Count = len(col.Jobs)
		for _, j := range col.Jobs {
			if j.Overdue {
				col.Overdue++
			}
		}
		board.Total += col.Count
		board.Overdue += col.Overdue
		board.Columns = append(board.Columns, col)
	}
	return board, nil
}
