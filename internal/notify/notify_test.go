package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"erp/ecommerce/internal/customer"
	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/httpx"
	"erp/ecommerce/internal/platform/sqlstore"
	"erp/ecommerce/internal/platform/sqlstore/sqlstoretest"
	"erp/ecommerce/internal/shop"
)

type fakeProvider struct {
	name    string
	channel string
	err     error

	mu   sync.Mutex
	sent []Outbound
}

func (p *fakeProvider) Name() string    { return p.name }
func (p *fakeProvider) Channel() string { return p.channel }

func (p *fakeProvider) Send(_ context.Context, m Outbound) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, m)
	return p.name + "-id", nil
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type env struct {
	svc       *Service
	customers *customer.Service
	wa        *fakeProvider
	sms1      *fakeProvider
	sms2      *fakeProvider
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	ctx := context.Background()
	db := sqlstoretest.New(t)
	log := zaptest.NewLogger(t)

	templates := NewTemplates(db, log)
	shops := shop.NewService(db, log, templates)
	_, created, err := shops.Put(ctx, "t1", shop.UpsertShopRequest{Name: "Adire House"})
	require.NoError(t, err)
	require.True(t, created)

	e := &env{
		customers: customer.NewService(db, log, nil),
		wa:        &fakeProvider{name: "whatsapp-cloud", channel: ChannelWhatsApp},
		sms1:      &fakeProvider{name: "sms-primary", channel: ChannelSMS},
		sms2:      &fakeProvider{name: "sms-backup", channel: ChannelSMS},
	}
	providers := Providers{}.Add(e.wa).Add(e.sms1).Add(e.sms2)
	e.svc = NewService(db, log, templates, e.customers, shops, providers, opts)
	return e
}

func (e *env) customer(t *testing.T, req customer.CreateCustomerRequest) customer.Customer {
	t.Helper()
	c, err := e.customers.Create(context.Background(), "t1", req)
	require.NoError(t, err)
	return c
}

func TestRender(t *testing.T) {
	out, missing := Render("Hi {{customer_name}}, order {{ order_number }} {{  total }} {{ total}}", map[string]string{
		"customer_name": "Amina",
		"order_number":  "ORD-000001",
	})
	assert.Equal(t, "Hi Amina, order ORD-000001", out)
	assert.Equal(t, []string{"total"}, missing)

	out, missing = Render("no placeholders", nil)
	assert.Equal(t, "no placeholders", out)
	assert.Empty(t, missing)

	assert.Equal(t, []string{"a", "b"}, Variables("{{ a }} {{b}} {{ a }}"))
}

func TestDefaults(t *testing.T) {
	defaults, err := Defaults()
	require.NoError(t, err)
	require.NotEmpty(t, defaults)
	events := map[string]bool{
		EventOrderCreated: true, EventPaymentReceived: true, EventProductionReady: true,
		EventInvoiceIssued: true, EventOrderShipped: true, EventOrderDelivered: true,
	}
	seen := map[string]bool{}
	for _, d := range defaults {
		assert.True(t, events[d.Key], d.Key)
		assert.NotEmpty(t, normalizeChannel(d.Channel), d.Channel)
		assert.NotEmpty(t, d.Body)
		seen[d.Key] = true
	}
	assert.Len(t, seen, len(events))
}

func TestSeedDefaultsIsIdempotent(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	before, err := e.svc.Templates().List(ctx, "t1", TemplateFilter{})
	require.NoError(t, err)
	require.NoError(t, e.svc.Templates().SeedDefaults(ctx, "t1"))
	after, err := e.svc.Templates().List(ctx, "t1", TemplateFilter{})
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	_, err = e.svc.Templates().Create(ctx, "t1", CreateTemplateRequest{Key: "order_created", Channel: "sms", Body: "x"})
	require.True(t, errors.Is(err, errors.EConflict))
}

func TestSendFailsOverBetweenProviders(t *testing.T) {
	e := newEnv(t, Options{DedupeWindow: 10 * time.Minute})
	off := false
	c := e.customer(t, customer.CreateCustomerRequest{Name: "Amina Bello", Phone: "+2348000000001", WhatsAppOptIn: &off})
	e.sms1.err = assert.AnError

	d, err := e.svc.Send(context.Background(), Message{
		TenantID:    "t1",
		CustomerID:  c.ID,
		TemplateKey: EventOrderCreated,
		Vars:        map[string]string{"order_number": "ORD-000001", "order_total": "1,500.00 USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSent, d.Status)
	assert.Equal(t, ChannelSMS, d.Channel)
	assert.Equal(t, "sms-backup", d.Provider)
	assert.Equal(t, "sms-backup-id", d.ProviderMessageID)

	require.Len(t, d.Logs, 3)
	assert.Equal(t, []string{StatusSkipped, StatusFailed, StatusSent}, []string{d.Logs[0].Status, d.Logs[1].Status, d.Logs[2].Status})
	assert.Equal(t, "customer opted out of whatsapp", d.Logs[0].Error)
	assert.Equal(t, 0, e.wa.count())

	require.Equal(t, 1, e.sms2.count())
	sent := e.sms2.sent[0]
	assert.Equal(t, "+2348000000001", sent.Recipient)
	assert.Equal(t, "Adire House", sent.Sender)
	assert.Equal(t, "Adire House: order ORD-000001 received. Total 1,500.00 USD.", sent.Body)

	logs, err := e.svc.Logs(context.Background(), "t1", LogFilter{CustomerID: c.ID, Status: StatusFailed, Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs.Items, 1)
	assert.Equal(t, "sms-primary", logs.Items[0].Provider)
}

func TestSendDedupesIdenticalMessages(t *testing.T) {
	e := newEnv(t, Options{DedupeWindow: 10 * time.Minute})
	c := e.customer(t, customer.CreateCustomerRequest{Name: "Kofi", Phone: "+2338000000001"})
	m := Message{TenantID: "t1", CustomerID: c.ID, TemplateKey: EventOrderDelivered, Vars: map[string]string{"order_number": "ORD-000007"}}

	first, err := e.svc.Send(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, first.Status)
	assert.Equal(t, ChannelWhatsApp, first.Channel)

	second, err := e.svc.Send(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Equal(t, 1, e.wa.count())

	m.Vars = map[string]string{"order_number": "ORD-000008"}
	third, err := e.svc.Send(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, third.Status)
	assert.Equal(t, 2, e.wa.count())
}

func TestSendSkipsWithoutTemplateOrProvider(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()

	d, err := e.svc.Send(ctx, Message{TenantID: "t1", Recipient: "amina@example.com", TemplateKey: EventOrderCreated, Channels: []string{"email", "PUSH"}})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, d.Status)
	require.Len(t, d.Logs, 2)
	assert.Equal(t, "no provider configured", d.Logs[0].Error)
	assert.Equal(t, ChannelPush, d.Logs[1].Channel)

	d, err = e.svc.Send(ctx, Message{TenantID: "t1", Recipient: "+2348000000001", TemplateKey: "birthday", Channels: []string{"sms"}})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, d.Status)
	assert.Equal(t, "no active template", d.Logs[0].Error)

	_, err = e.svc.Send(ctx, Message{TenantID: "t1", TemplateKey: EventOrderCreated})
	require.True(t, errors.Is(err, errors.EInvalid))
	_, err = e.svc.Send(ctx, Message{TenantID: "t1", Recipient: "x", TemplateKey: EventOrderCreated, Channels: []string{"fax"}})
	require.True(t, errors.Is(err, errors.EInvalid))
	_, err = e.svc.Send(ctx, Message{TenantID: "t1", CustomerID: "cus_missing", TemplateKey: EventOrderCreated})
	require.True(t, errors.Is(err, errors.ENotFound))
}

func TestQueueRetriesThenFails(t *testing.T) {
	e := newEnv(t, Options{MaxAttempts: 2})
	ctx := context.Background()
	e.sms1.err = assert.AnError
	e.sms2.err = assert.AnError

	id, err := e.svc.Enqueue(ctx, Message{TenantID: "t1", Recipient: "+2348000000001", TemplateKey: EventOrderShipped, Channels: []string{"sms"}})
	require.NoError(t, err)

	n, err := e.svc.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	item, err := e.svc.QueueItem(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, QueueQueued, item.Status)
	assert.Equal(t, 1, item.Attempts)
	assert.NotEmpty(t, item.LastError)

	n, err = e.svc.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	item, err = e.svc.QueueItem(ctx, "t1", id)
	require.NoError(t, err)
	assert.Equal(t, QueueFailed, item.Status)
	assert.Equal(t, 2, item.Attempts)

	n, err = e.svc.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorkerTickDeliversQueue(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	c := e.customer(t, customer.CreateCustomerRequest{Name: "Ada", Phone: "+2348000000001"})

	ok, err := e.svc.Enqueue(ctx, Message{TenantID: "t1", CustomerID: c.ID, TemplateKey: EventProductionReady, Vars: map[string]string{"job_title": "Agbada"}})
	require.NoError(t, err)
	gone, err := e.svc.Enqueue(ctx, Message{TenantID: "t1", CustomerID: "cus_missing", TemplateKey: EventProductionReady})
	require.NoError(t, err)

	NewWorker(e.svc, zaptest.NewLogger(t), time.Second, 1).Tick(ctx)

	item, err := e.svc.QueueItem(ctx, "t1", ok)
	require.NoError(t, err)
	assert.Equal(t, QueueSent, item.Status)
	assert.Equal(t, 1, e.wa.count())
	assert.Contains(t, e.wa.sent[0].Body, "Agbada")

	item, err = e.svc.QueueItem(ctx, "t1", gone)
	require.NoError(t, err)
	assert.Equal(t, QueueFailed, item.Status)
	assert.Contains(t, item.LastError, "customer not found")
}

func TestCampaigns(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	e.customer(t, customer.CreateCustomerRequest{Name: "A", Phone: "+2348000000001", Tags: []string{"vip"}})
	e.customer(t, customer.CreateCustomerRequest{Name: "B", Phone: "+2348000000002", Tags: []string{"vip"}})
	e.customer(t, customer.CreateCustomerRequest{Name: "C", Phone: "+2348000000003"})

	_, err := e.svc.CreateCampaign(ctx, "t1", CreateCampaignRequest{Name: "x", TemplateKey: "promo", AudienceType: "tag"})
	require.True(t, errors.Is(err, errors.EInvalid))

	c, err := e.svc.CreateCampaign(ctx, "t1", CreateCampaignRequest{
		Name: "VIP preview", TemplateKey: "order_delivered", AudienceType: "tag", AudienceValue: "vip",
		Channels: []string{"sms"},
	})
	require.NoError(t, err)
	assert.Equal(t, CampaignDraft, c.Status)

	c, err = e.svc.SendCampaign(ctx, "t1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, CampaignCompleted, c.Status)
	assert.Equal(t, 2, c.Targeted)
	assert.Equal(t, 2, c.Queued)
	require.NotNil(t, c.CompletedAt)

	_, err = e.svc.SendCampaign(ctx, "t1", c.ID)
	require.True(t, errors.Is(err, errors.EInvalid))
	_, err = e.svc.UpdateCampaign(ctx, "t1", c.ID, UpdateCampaignRequest{Name: strPtr("renamed")})
	require.True(t, errors.Is(err, errors.EInvalid))

	n, err := e.svc.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, e.sms1.count())
	logs, err := e.svc.Logs(ctx, "t1", LogFilter{CampaignID: c.ID, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, logs.Items, 2)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	due, err := e.svc.CreateCampaign(ctx, "t1", CreateCampaignRequest{Name: "due", TemplateKey: "order_delivered", ScheduledAt: &past})
	require.NoError(t, err)
	assert.Equal(t, CampaignScheduled, due.Status)
	later, err := e.svc.CreateCampaign(ctx, "t1", CreateCampaignRequest{Name: "later", TemplateKey: "order_delivered", ScheduledAt: &future})
	require.NoError(t, err)

	started, err := e.svc.StartDueCampaigns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	due, err = e.svc.Campaign(ctx, "t1", due.ID)
	require.NoError(t, err)
	assert.Equal(t, CampaignCompleted, due.Status)
	assert.Equal(t, 3, due.Targeted)

	later, err = e.svc.CancelCampaign(ctx, "t1", later.ID)
	require.NoError(t, err)
	assert.Equal(t, CampaignCancelled, later.Status)
	_, err = e.svc.CancelCampaign(ctx, "t1", later.ID)
	require.True(t, errors.Is(err, errors.EInvalid))

	list, err := e.svc.Campaigns(ctx, "t1", CampaignFilter{Status: CampaignCompleted, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list.Items, 2)
}

func TestCampaignEnqueueFailureMarksFailed(t *testing.T) {
	e := newEnv(t, Options{})
	ctx := context.Background()
	e.customer(t, customer.CreateCustomerRequest{Name: "A", Phone: "+2348000000001"})
	e.customer(t, customer.CreateCustomerRequest{Name: "B", Phone: "+2348000000002"})

	c, err := e.svc.CreateCampaign(ctx, "t1", CreateCampaignRequest{Name: "Broken", TemplateKey: "order_delivered"})
	require.NoError(t, err)
	// a channel retired after the campaign was drafted.
	_, err = sqlstore.Exec(ctx, e.svc.db, e.svc.db.Builder.
		Update("campaigns").
		Set("channels", sqlstore.Strings{"pigeon"}).
		Where(sq.Eq{"tenant_id": "t1", "id": c.ID}))
	require.NoError(t, err)

	_, err = e.svc.SendCampaign(ctx, "t1", c.ID)
	require.True(t, errors.Is(err, errors.EInvalid), err)

	c, err = e.svc.Campaign(ctx, "t1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, CampaignFailed, c.Status)
	assert.Equal(t, 2, c.Targeted)
	assert.Zero(t, c.Queued)
	require.NotNil(t, c.CompletedAt)

	_, err = e.svc.SendCampaign(ctx, "t1", c.ID)
	require.True(t, errors.Is(err, errors.EInvalid), err)
	n, err := e.svc.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func strPtr(s string) *string { return &s }

func TestHandlers(t *testing.T) {
	e := newEnv(t, Options{})
	router := httpx.NewRouter(httpx.RouterConfig{
		Log:    zaptest.NewLogger(t),
		Tenant: NewHandlers(zaptest.NewLogger(t), e.svc),
	})
	call := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(httpx.TenantHeader, "t1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := call(http.MethodPost, "/v1/notification-templates", `{"key":"birthday","channel":"sms","body":"Happy birthday {{ customer_name }} from {{ shop_name }}"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tpls, err := e.svc.Templates().List(context.Background(), "t1", TemplateFilter{Key: "birthday"})
	require.NoError(t, err)
	require.Len(t, tpls, 1)

	rec = call(http.MethodPost, "/v1/notification-templates/"+tpls[0].ID+"/preview", `{"vars":{"customer_name":"Ada"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Happy birthday Ada from")
	assert.Contains(t, rec.Body.String(), `"missing":["shop_name"]`)

	rec = call(http.MethodPost, "/v1/notifications/send", `{"recipient":"+2348000000001","template_key":"birthday","channels":["sms"],"vars":{"customer_name":"Ada"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"event_topic":"erp.ecommerce.notification.sent"`)

	rec = call(http.MethodPost, "/v1/notifications/send", `{"recipient":"+2348000000001","template_key":"birthday","queue":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = call(http.MethodPost, "/v1/notifications/send", `{"template_key":"birthday"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(http.MethodGet, "/v1/notification-logs?channel=sms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Happy birthday Ada from Adire House")

	rec = call(http.MethodPost, "/v1/campaigns", `{"name":"All","template_key":"birthday"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}
