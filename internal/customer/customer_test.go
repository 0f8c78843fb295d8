package customer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"erp/ecommerce/internal/platform/errors"
	"erp/ecommerce/internal/platform/httpx"
	"erp/ecommerce/internal/platform/listcache"
	"erp/ecommerce/internal/platform/sqlstore/sqlstoretest"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService(sqlstoretest.New(t), zaptest.NewLogger(t), listcache.New[listcache.Result[Customer]](time.Minute))
}

func mustCreate(t *testing.T, svc *Service, tenantID string, req CreateCustomerRequest) Customer {
	t.Helper()
	c, err := svc.Create(context.Background(), tenantID, req)
	require.NoError(t, err)
	return c
}

func TestNormalizePhone(t *testing.T) {
	for in, want := range map[string]string{
		"+234 803 555 0101":  "+2348035550101",
		"00234-803-555-0101": "+2348035550101",
		"(212) 555-0199 12":  "+212555019912",
	} {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "12345", "+1234567890123456"} {
		_, err := NormalizePhone(in)
		assert.True(t, errors.Is(err, errors.EInvalid), in)
	}
}

func TestTierFor(t *testing.T) {
	for points, want := range map[int64]string{0: TierBronze, 499: TierBronze, 500: TierSilver, 1999: TierSilver, 2000: TierGold, 5000: TierPlatinum} {
		assert.Equal(t, want, TierFor(points), points)
	}
}

func TestCreateDefaultsAndConflict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	c := mustCreate(t, svc, "t1", CreateCustomerRequest{
		Name:         " Amina Bello ",
		Phone:        "+234 803 555 0101",
		Email:        "Amina@Example.com",
		Tags:         []string{"VIP", "vip", " bridal "},
		Measurements: map[string]string{"Chest": "96.54", "waist": "80"},
	})
	assert.Equal(t, "Amina Bello", c.Name)
	assert.Equal(t, "amina@example.com", c.Email)
	assert.True(t, c.WhatsAppOptIn)
	assert.True(t, c.SMSOptIn)
	assert.True(t, c.EmailOptIn)
	assert.Equal(t, []string{"vip", "bridal"}, []string(c.Tags))
	assert.Equal(t, TierBronze, c.Tier)
	require.NotNil(t, c.MeasuredAt)
	assert.True(t, c.Measurements["chest"].Equal(decimal.RequireFromString("96.5")))

	got, err := svc.Get(ctx, "t1", c.ID)
	require.NoError(t, err)
	assert.True(t, got.HasTag("VIP"))
	assert.True(t, got.Measurements["waist"].Equal(decimal.NewFromInt(80)))

	_, err = svc.Create(ctx, "t1", CreateCustomerRequest{Name: "Dup", Phone: "002348035550101"})
	require.True(t, errors.Is(err, errors.EConflict))

	other := mustCreate(t, svc, "t2", CreateCustomerRequest{Name: "Other", Phone: "+2348035550101"})
	assert.False(t, other.EmailOptIn)

	_, err = svc.Create(ctx, "t1", CreateCustomerRequest{Name: "Bad", Phone: "+2348035550199", Measurements: map[string]string{"hip": "-1"}})
	require.True(t, errors.Is(err, errors.EInvalid))
}

func TestUpdate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	a := mustCreate(t, svc, "t1", CreateCustomerRequest{Name: "A", Phone: "+2348000000001"})
	mustCreate(t, svc, "t1", CreateCustomerRequest{Name: "B", Phone: "+2348000000002"})

	_, err := svc.Update(ctx, "t1", a.ID, UpdateCustomerRequest{})
	require.True(t, errors.Is(err, errors.EInvalid))

	taken := "+2348000000002"
	_, err = svc.Update(ctx, "t1", a.ID, UpdateCustomerRequest{Phone: &taken})
	require.True(t, errors.Is(err, errors.EConflict))

	off := false
	tags := []string{"Wholesale"}
	u, err := svc.Update(ctx, "t1", a.ID, UpdateCustomerRequest{WhatsAppOptIn: &off, Tags: &tags})
	require.NoError(t, err)
	assert.False(t, u.WhatsAppOptIn)
	assert.Equal(t, []string{"wholesale"}, []string(u.Tags))

	_, err = svc.Update(ctx, "t2", a.ID, UpdateCustomerRequest{WhatsAppOptIn: &off})
	require.True(t, errors.Is(err, errors.ENotFound))
}

func TestListAndAudience(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	mustCreate(t, svc, "t1", CreateCustomerRequest{Name: "Ada", Phone: "+2348000000001", Tags: []string{"vip"}})
	mustCreate(t, svc, "t1", CreateCustomerRequest{Name: "Bola", Phone: "+2348000000002", Tags: []string{"vipish"}})
	c := mustCreate(t, svc, "t1", CreateCustomerRequest{Name: "Chidi", Phone: "+2348000000003"})
	mustCreate(t, svc, "t2", CreateCustomerRequest{Name: "Other", Phone: "+2348000000004", Tags: []string{"vip"}})

	_, err := svc.AdjustPoints(ctx, "t1", c.ID, PointsRequest{Delta: 600})
	require.NoError(t, err)

	res, err := svc.List(ctx, "t1", ListFilter{Tag: "VIP", Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Ada", res.Items[0].Name)

	res, err = svc.List(ctx, "t1", ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.NotEmpty(t, res.NextCursor)
	assert.Equal(t, "Chidi", res.Items[0].Name)

	res, err = svc.List(ctx, "t1", ListFilter{Query: "bol", Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	all, err := svc.Audience(ctx, "t1", AudienceAll, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	silver, err := svc.Audience(ctx, "t1", AudienceTier, "Silver")
	require.NoError(t, err)
	require.Len(t, silver, 1)
	assert.Equal(t, c.ID, silver[0].ID)

	_, err = svc.Audience(ctx, "t1", "region", "lagos")
	require.True(t, errors.Is(err, errors.EInvalid))
	_, err = svc.Audience(ctx, "t1", AudienceTag, "")
	require.True(t, errors.Is(err, errors.EInvalid))
}

func TestPoints(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, "t1", CreateCustomerRequest{Name: "A", Phone: "+2348000000001"})

	c, err := svc.AwardForOrder(ctx, "t1", c.ID, "ord_1", decimal.RequireFromString("2499.99"))
	require.NoError(t, err)
	assert.EqualValues(t, 2499, c.LoyaltyPoints)
	assert.Equal(t, TierGold, c.Tier)

	// an order is credited once.
	c, err = svc.AwardForOrder(ctx, "t1", c.ID, "ord_1", decimal.RequireFromString("2499.99"))
	require.NoError(t, err)
	assert.EqualValues(t, 2499, c.LoyaltyPoints)

	_, err = svc.AwardForOrder(ctx, "t1", "cus_missing", "ord_2", decimal.RequireFromString("10"))
	require.True(t, errors.Is(err, errors.ENotFound))

	_, err = svc.AdjustPoints(ctx, "t1", c.ID, PointsRequest{Delta: -3000})
	require.True(t, errors.Is(err, errors.EUnprocessableEntity))

	c, err = svc.AdjustPoints(ctx, "t1", c.ID, PointsRequest{Delta: -2000, Reason: "redeemed"})
	require.NoError(t, err)
	assert.EqualValues(t, 499, c.LoyaltyPoints)
	assert.Equal(t, TierBronze, c.Tier)

	_, err = svc.AdjustPoints(ctx, "t1", "cus_missing", PointsRequest{Delta: 1})
	require.True(t, errors.Is(err, errors.ENotFound))
}

func TestMeasurementsAndNotes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	c := mustCreate(t, svc, "t1", CreateCustomerRequest{Name: "A", Phone: "+2348000000001"})
	assert.Nil(t, c.MeasuredAt)

	c, err := svc.SetMeasurements(ctx, "t1", c.ID, MeasurementsRequest{Measurements: map[string]string{"sleeve": "61.25"}})
	require.NoError(t, err)
	require.NotNil(t, c.MeasuredAt)
	assert.Equal(t, "61.3", c.Measurements["sleeve"].String())

	_, err = svc.SetMeasurements(ctx, "t1", "cus_missing", MeasurementsRequest{Measurements: map[string]string{"sleeve": "1"}})
	require.True(t, errors.Is(err, errors.ENotFound))

	_, err = svc.AddNote(ctx, "t1", c.ID, NoteRequest{Body: "prefers slim fit", Author: "desk"})
	require.NoError(t, err)
	_, err = svc.AddNote(ctx, "t1", c.ID, NoteRequest{Body: "called about hem"})
	require.NoError(t, err)
	notes, err := svc.Notes(ctx, "t1", c.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "called about hem", notes[0].Body)

	require.NoError(t, svc.Delete(ctx, "t1", c.ID))
	_, err = svc.Notes(ctx, "t1", c.ID)
	require.True(t, errors.Is(err, errors.ENotFound))
	require.True(t, errors.Is(svc.Delete(ctx, "t1", c.ID), errors.ENotFound))
}

func TestHandler(t *testing.T) {
	svc := newTestService(t)
	router := httpx.NewRouter(httpx.RouterConfig{
		Log:    zaptest.NewLogger(t),
		Tenant: []httpx.Handler{NewHandler(zaptest.NewLogger(t), svc)},
	})
	call := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(httpx.TenantHeader, "t1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := call(http.MethodPost, "/v1/customers", `{"name":"Ada","phone":"+2348000000001","email":"bad"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(http.MethodPost, "/v1/customers", `{"name":"Ada","phone":"+2348000000001"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"event_topic":"erp.ecommerce.customer.created"`)

	res, err := svc.List(context.Background(), "t1", ListFilter{Limit: 1})
	require.NoError(t, err)
	id := res.Items[0].ID

	rec = call(http.MethodPost, "/v1/customers/"+id+"/points", `{"delta":700}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"tier":"silver"`)

	rec = call(http.MethodPost, "/v1/customers/"+id+"/notes", `{"body":"likes agbada"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = call(http.MethodGet, "/v1/customers/"+id+"/notes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "likes agbada")

	rec = call(http.MethodPut, "/v1/customers/"+id+"/measurements", `{"measurements":{"chest":"100"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
