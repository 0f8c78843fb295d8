package production

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"erp/ecommerce/internal/catalog"
	"erp/ecommerce/internal/customer"
	"erp/ecommerce/internal/notify"
	"erp/ecommerce/internal/order"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/httpx"
	"erp/ecommerce/internal/platform/sqlstore/sqlstoretest"
	"erp/ecommerce/internal/shop"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (n *recordingNotifier) Enqueue(_ context.Context, m notify.Message) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return "ntf_test", nil
}

func (n *recordingNotifier) count(key string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var c int
	for _, m := range n.sent {
		if m.TemplateKey == key {
			c++
		}
	}
	return c
}

type env struct {
	svc       *Service
	orders    *order.Service
	customers *customer.Service
	notifier  *recordingNotifier
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := sqlstoretest.New(t)
	log := zaptest.NewLogger(t)
	shops := shop.NewService(db, log, nil)
	e := &env{
		customers: customer.NewService(db, log, nil),
		notifier:  &recordingNotifier{},
	}
	e.orders = order.NewService(db, log, catalog.NewService(db, log, shops, nil), e.customers, shops, e.notifier, nil)
	e.svc = NewService(db, log, e.orders, e.customers, e.notifier, nil)
	e.orders.SetJobPlanner(e.svc)

	_, _, err := shops.Put(context.Background(), "t1", shop.UpsertShopRequest{Name: "Adire House", OrderPrefix: "ADR", Currency: "NGN"})
	require.NoError(t, err)
	return e
}

// confirmedOrder places a two-line tailoring order and confirms it.
func (e *env) confirmedOrder(t *testing.T) order.Order {
	t.Helper()
	ctx := context.Background()
	c, err := e.customers.Create(ctx, "t1", customer.CreateCustomerRequest{
		Name: "Amina Bello", Phone: "+2348035550101",
		Measurements: map[string]string{"chest": "102", "sleeve": "64.5"},
	})
	require.NoError(t, err)
	due := time.Now().UTC().Add(14 * 24 * time.Hour)
	o, err := e.orders.Create(ctx, "t1", order.CreateOrderRequest{
		CustomerID: c.ID,
		DueDate:    &due,
		Items: []order.ItemRequest{
			{Name: "Agbada", Quantity: 1, UnitPrice: "300", GarmentType: "Agbada", Fabric: "aso oke"},
			{Name: "Kaftan", Quantity: 2, UnitPrice: "120", GarmentType: "kaftan"},
		},
	})
	require.NoError(t, err)
	o, err = e.orders.Transition(ctx, "t1", o.ID, order.StatusRequest{Status: order.StatusConfirmed})
	require.NoError(t, err)
	return o
}

func (e *env) jobs(t *testing.T, orderID string) []Job {
	t.Helper()
	res, err := e.svc.List(context.Background(), "t1", ListFilter{OrderID: orderID, Limit: 50})
	require.NoError(t, err)
	return res.Items
}

func (e *env) advance(t *testing.T, id string, stages ...string) Job {
	t.Helper()
	var j Job
	for _, st := range stages {
		var err error
		j, err = e.svc.Move(context.Background(), "t1", id, MoveRequest{Stage: st, Actor: "tunde"})
		require.NoError(t, err, "move to %s", st)
	}
	return j
}

var toReady = []string{
	StageMeasuring, StageCutting, StageSewing, StageFitting, StageAlterations,
	StageFinishing, StageQualityCheck, StageReady,
}

func TestCanMove(t *testing.T) {
	for _, tt := range []struct {
		from, to, held string
		ok             bool
	}{
		{StageBacklog, StageMeasuring, "", true},
		{StageBacklog, StageCutting, "", false},
		{StageSewing, StageCutting, "", false},
		{StageFitting, StageAlterations, "", true},
		{StageAlterations, StageFitting, "", true},
		{StageAlterations, StageFinishing, "", true},
		{StageQualityCheck, StageAlterations, "", true},
		{StageReady, StageDelivered, "", true},
		{StageCutting, StageOnHold, "", true},
		{StageOnHold, StageCutting, StageCutting, true},
		{StageOnHold, StageSewing, StageCutting, false},
		{StageOnHold, StageCancelled, StageCutting, true},
		{StageSewing, StageCancelled, "", true},
		{StageDelivered, StageCancelled, "", false},
		{StageCancelled, StageBacklog, "", false},
		{StageSewing, StageSewing, "", false},
	} {
		assert.Equal(t, tt.ok, CanMove(tt.from, tt.to, tt.held), "%s -> %s", tt.from, tt.to)
	}
}

func TestConfirmingCustomOrderPlansJobsOnce(t *testing.T) {
	e := newEnv(t)
	o := e.confirmedOrder(t)

	jobs := e.jobs(t, o.ID)
	require.Len(t, jobs, 2)
	byType := map[string]Job{}
	for _, j := range jobs {
		byType[j.GarmentType] = j
	}
	agbada := byType["agbada"]
	assert.Equal(t, "Agbada", agbada.Title)
	assert.Equal(t, "aso oke", agbada.Fabric)
	assert.Equal(t, StageBacklog, agbada.Stage)
	assert.Equal(t, PriorityNormal, agbada.Priority)
	assert.Equal(t, o.CustomerID, agbada.CustomerID)
	assert.NotEmpty(t, agbada.OrderItemID)
	require.NotNil(t, agbada.DueDate)
	assert.True(t, agbada.Measurements["chest"].Equal(decimal.NewFromInt(102)))
	assert.Equal(t, "Kaftan x2", byType["kaftan"].Title)

	require.NoError(t, e.svc.PlanJobs(context.Background(), o))
	assert.Len(t, e.jobs(t, o.ID), 2)
}

func TestMovesDriveTheOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.confirmedOrder(t)
	jobs := e.jobs(t, o.ID)
	require.Len(t, jobs, 2)
	first, second := jobs[0], jobs[1]

	j := e.advance(t, first.ID, StageMeasuring)
	require.NotNil(t, j.StartedAt)
	got, err := e.orders.Get(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status)

	_, err = e.svc.Move(ctx, "t1", first.ID, MoveRequest{Stage: StageSewing})
	assert.True(t, errors.Is(err, errors.EUnprocessableEntity), err)
	_, err = e.svc.Move(ctx, "t1", first.ID, MoveRequest{Stage: "ironing"})
	assert.True(t, errors.Is(err, errors.EInvalid), err)

	j = e.advance(t, first.ID, toReady[1:]...)
	assert.Equal(t, StageReady, j.Stage)
	assert.Equal(t, 1, e.notifier.count(notify.EventProductionReady))
	got, err = e.orders.Get(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status, "one job still open")

	j = e.advance(t, second.ID, StageOnHold)
	assert.Equal(t, StageBacklog, j.HeldFrom)
	_, err = e.svc.Move(ctx, "t1", second.ID, MoveRequest{Stage: StageMeasuring})
	assert.True(t, errors.Is(err, errors.EUnprocessableEntity), err)
	j = e.advance(t, second.ID, StageBacklog)
	assert.Empty(t, j.HeldFrom)

	e.advance(t, second.ID, toReady...)
	assert.Equal(t, 2, e.notifier.count(notify.EventProductionReady))
	got, err = e.orders.Get(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusReady, got.Status)

	j = e.advance(t, first.ID, StageDelivered)
	require.NotNil(t, j.CompletedAt)
	_, err = e.svc.Move(ctx, "t1", first.ID, MoveRequest{Stage: StageCancelled})
	assert.True(t, errors.Is(err, errors.EUnprocessableEntity), err)

	hist, err := e.svc.History(ctx, "t1", first.ID)
	require.NoError(t, err)
	require.Len(t, hist, 1+len(toReady)+1)
	assert.Empty(t, hist[0].FromStage)
	assert.Equal(t, StageBacklog, hist[0].ToStage)
	assert.Equal(t, StageBacklog, hist[1].FromStage)
	assert.Equal(t, StageMeasuring, hist[1].ToStage)
	assert.Equal(t, "tunde", hist[1].Actor)
	assert.Equal(t, StageDelivered, hist[len(hist)-1].ToStage)

	ready := e.notifier.sent[len(e.notifier.sent)-1]
	assert.Equal(t, notify.EventProductionReady, ready.TemplateKey)
	assert.Equal(t, o.Number, ready.Vars["order_number"])
	assert.NotEmpty(t, ready.Vars["job_title"])
}

func TestCancellingLastOpenJobReadiesOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.confirmedOrder(t)
	jobs := e.jobs(t, o.ID)
	require.Len(t, jobs, 2)
	first, second := jobs[0], jobs[1]

	e.advance(t, first.ID, toReady...)
	e.advance(t, second.ID, StageMeasuring)
	got, err := e.orders.Get(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status)

	_, err = e.svc.Move(ctx, "t1", second.ID, MoveRequest{Stage: StageCancelled})
	require.NoError(t, err)
	got, err = e.orders.Get(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusReady, got.Status)
	assert.Equal(t, 1, e.notifier.count(notify.EventProductionReady))
}

func TestCancellingEveryJobLeavesOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.confirmedOrder(t)
	jobs := e.jobs(t, o.ID)
	require.Len(t, jobs, 2)

	e.advance(t, jobs[0].ID, StageMeasuring)
	for _, j := range jobs {
		_, err := e.svc.Move(ctx, "t1", j.ID, MoveRequest{Stage: StageCancelled})
		require.NoError(t, err)
	}
	got, err := e.orders.Get(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status)
}

func TestCreateAssignUpdateAndBoard(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.confirmedOrder(t)

	past := time.Now().UTC().Add(-48 * time.Hour)
	manual, err := e.svc.Create(ctx, "t1", CreateJobRequest{
		OrderID: o.ID, Title: "Cap", GarmentType: "Fila", Priority: "urgent",
		DueDate: &past, Measurements: map[string]string{"head": "56"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fila", manual.GarmentType)
	assert.Equal(t, PriorityUrgent, manual.Priority)
	assert.Equal(t, 2, manual.Position)
	assert.True(t, manual.Measurements["head"].Equal(decimal.NewFromInt(56)))

	_, err = e.svc.Create(ctx, "t1", CreateJobRequest{OrderID: "ord_missing", Title: "x"})
	assert.True(t, errors.Is(err, errors.EUnprocessableEntity), err)
	_, err = e.svc.Create(ctx, "t1", CreateJobRequest{OrderID: o.ID, Title: "x", Measurements: map[string]string{"waist": "-2"}})
	assert.True(t, errors.Is(err, errors.EInvalid), err)

	j, err := e.svc.Assign(ctx, "t1", manual.ID, AssignRequest{AssignedTo: "kemi"})
	require.NoError(t, err)
	assert.Equal(t, "kemi", j.AssignedTo)

	title := "Fila cap"
	j, err = e.svc.Update(ctx, "t1", manual.ID, UpdateJobRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Fila cap", j.Title)
	_, err = e.svc.Update(ctx, "t1", manual.ID, UpdateJobRequest{})
	assert.True(t, errors.Is(err, errors.EInvalid), err)

	pos := 0
	j, err = e.svc.Move(ctx, "t1", manual.ID, MoveRequest{Stage: StageBacklog, Position: &pos})
	require.NoError(t, err)
	assert.Equal(t, 0, j.Position)

	board, err := e.svc.Board(ctx, "t1", BoardFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, board.Total)
	assert.Equal(t, 1, board.Overdue)
	require.Len(t, board.Columns, len(Stages)+1)
	backlog := board.Columns[0]
	assert.Equal(t, StageBacklog, backlog.Stage)
	assert.Equal(t, 3, backlog.Count)
	assert.Equal(t, 1, backlog.Overdue)
	require.Len(t, backlog.Jobs, 3)
	assert.True(t, backlog.Jobs[0].Overdue)
	assert.Equal(t, StageOnHold, board.Columns[len(board.Columns)-1].Stage)

	mine, err := e.svc.Board(ctx, "t1", BoardFilter{AssignedTo: "kemi"})
	require.NoError(t, err)
	assert.Equal(t, 1, mine.Total)

	_, err = e.svc.Move(ctx, "t1", manual.ID, MoveRequest{Stage: StageCancelled})
	require.NoError(t, err)
	board, err = e.svc.Board(ctx, "t1", BoardFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, board.Total)
	board, err = e.svc.Board(ctx, "t1", BoardFilter{IncludeCancelled: true})
	require.NoError(t, err)
	assert.Equal(t, 3, board.Total)
	assert.Equal(t, StageCancelled, board.Columns[len(board.Columns)-1].Stage)
	assert.Equal(t, 1, board.Columns[len(board.Columns)-1].Count)

	_, err = e.svc.Assign(ctx, "t1", manual.ID, AssignRequest{AssignedTo: "kemi"})
	assert.True(t, errors.Is(err, errors.EUnprocessableEntity), err)
}

func TestHandlers(t *testing.T) {
	e := newEnv(t)
	o := e.confirmedOrder(t)
	router := httpx.NewRouter(httpx.RouterConfig{
		Log:    zaptest.NewLogger(t),
		Tenant: NewHandlers(zaptest.NewLogger(t), NewLoggingService(zaptest.NewLogger(t), e.svc)),
	})
	do := func(method, path, body string) (int, map[string]any) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(httpx.TenantHeader, "t1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		var out map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
		return rec.Code, out
	}

	code, out := do(http.MethodGet, "/v1/production-jobs?order_id="+o.ID, "")
	require.Equal(t, http.StatusOK, code)
	items := out["items"].([]any)
	require.Len(t, items, 2)
	id := items[0].(map[string]any)["id"].(string)

	code, out = do(http.MethodPost, "/v1/production-jobs/"+id+"/move", `{"stage":"measuring","note":"booked fitting"}`)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "erp.ecommerce.production.job.moved", out["event_topic"])

	code, _ = do(http.MethodPost, "/v1/production-jobs/"+id+"/move", `{"stage":"delivered"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, out = do(http.MethodGet, "/v1/production-jobs/"+id+"/history", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["items"], 2)

	code, out = do(http.MethodGet, "/v1/production-board", "")
	require.Equal(t, http.StatusOK, code)
	board := out["item"].(map[string]any)
	assert.EqualValues(t, 2, board["total"])

	code, _ = do(http.MethodGet, "/v1/production-jobs/job_missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(http.MethodPost, "/v1/production-jobs", `{"title":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
