package echoapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
	"github.com/trezcool/roofest/core/project"
	"github.com/trezcool/roofest/core/user"
	testutil "github.com/trezcool/roofest/tests"
)

func TestClientAPI_CRUD(t *testing.T) {
	app := newTestApp(t)
	admin := app.token(t, app.createUser(t, "admin", user.RoleAdmin, "", true))
	estimator := app.token(t, app.createUser(t, "estimator", user.RoleEstimator, "", true))

	body := []byte(`{"name": " Acme Roofing ", "email": "OPS@acme.test", "currency": "NOK", "timeZone": "Europe/Oslo"}`)

	app.run(t, []httpTest{
		{name: "estimators cannot create", method: http.MethodPost, path: "/v1/clients", token: estimator, body: body, wantCode: http.StatusForbidden},
		{
			name: "invalid fields", method: http.MethodPost, path: "/v1/clients", token: admin,
			body:     []byte(`{"name": "X", "currency": "JPY", "timeZone": "Mars/Olympus"}`),
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"currency": "currency must be one of AUD, USD, EUR or NOK", "timeZone": "timeZone must be a valid IANA time zone"}`),
		},
	})

	rec := app.do(http.MethodPost, "/v1/clients", admin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var c loyalty.Client
	decode(t, rec, &c)
	assert.Equal(t, "Acme Roofing", c.Name)
	assert.Equal(t, "ops@acme.test", c.Email)
	assert.Equal(t, pricing.NOK, c.Currency)
	assert.Equal(t, loyalty.TierCasual, c.LoyaltyTier)

	t.Run("read", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/v1/clients/"+c.ID, estimator)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = app.do(http.MethodGet, "/v1/clients?search=acme", estimator)
		require.Equal(t, http.StatusOK, rec.Code)
		var clients []loyalty.Client
		decode(t, rec, &clients)
		require.Len(t, clients, 1)
		assert.Equal(t, c.ID, clients[0].ID)

		rec = app.do(http.MethodGet, "/v1/clients/"+c.ID+"x", estimator)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("client users only see their own client", func(t *testing.T) {
		other := testutil.CreateClient(t, app.clients, "Other", pricing.AUD, "Australia/Sydney", loyalty.TierCasual)
		member := app.token(t, app.createUser(t, "member", user.RoleUser, c.ID, true))

		assert.Equal(t, http.StatusOK, app.do(http.MethodGet, "/v1/clients/"+c.ID, member).Code)
		assert.Equal(t, http.StatusNotFound, app.do(http.MethodGet, "/v1/clients/"+other.ID, member).Code)
		assert.Equal(t, http.StatusForbidden, app.do(http.MethodGet, "/v1/clients", member).Code)
	})

	t.Run("update", func(t *testing.T) {
		rec := app.do(http.MethodPut, "/v1/clients/"+c.ID, admin, []byte(`{"billingCustomerId": "cus_123"}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated loyalty.Client
		decode(t, rec, &updated)
		assert.Equal(t, "cus_123", updated.BillingCustomerID)
		assert.Equal(t, "Acme Roofing", updated.Name)
	})
}

func TestClientAPI_Loyalty(t *testing.T) {
	app := newTestApp(t)
	admin := app.token(t, app.createUser(t, "admin", user.RoleAdmin, "", true))
	c := testutil.CreateClient(t, app.clients, "Acme", pricing.AUD, "Australia/Sydney", loyalty.TierCasual)
	path := "/v1/clients/" + c.ID

	t.Run("override", func(t *testing.T) {
		rec := app.do(http.MethodPut, path+"/tier-override", admin, []byte(`{"tier": "Elite"}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got loyalty.Client
		decode(t, rec, &got)
		assert.Equal(t, loyalty.TierElite, got.LoyaltyTier)
		require.NotNil(t, got.TierOverride)

		rec = app.do(http.MethodPut, path+"/tier-override", admin, []byte(`{"tier": "Gold"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = app.do(http.MethodDelete, path+"/tier-override", admin)
		require.Equal(t, http.StatusOK, rec.Code)
		decode(t, rec, &got)
		assert.Nil(t, got.TierOverride)
		assert.Equal(t, loyalty.TierElite, got.LoyaltyTier)
	})

	t.Run("protection and cashback", func(t *testing.T) {
		rec := app.do(http.MethodPost, path+"/protection", admin, []byte(`{"points": 12, "months": 2}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var got loyalty.Client
		decode(t, rec, &got)
		assert.Equal(t, 12, got.ProtectionPoints)
		assert.Equal(t, 2, got.ProtectionMonths)

		rec = app.do(http.MethodPost, path+"/protection", admin, []byte(`{"months": 4}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = app.do(http.MethodPost, path+"/cashback", admin, []byte(`{"amount": "25.50"}`))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		decode(t, rec, &got)
		assert.True(t, decimal.RequireFromString("25.5").Equal(got.CashbackBalance))

		rec = app.do(http.MethodPost, path+"/cashback", admin, []byte(`{"amount": "-30"}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"amount": "cashback balance cannot go below zero"}`, rec.Body.String())
	})

	t.Run("evaluate", func(t *testing.T) {
		// 6 units sent in March (Sydney time) make the client Pro at the April evaluation
		sentAt := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
		p := testutil.CreateProject(t, app.projects, c.ID, "1 George St", pricing.PlanStandard, 6)
		p.EstimateStatus = project.StatusSent
		p.PricingSnapshot = &project.PricingSnapshot{
			PlanType: pricing.PlanStandard, Qty: 6,
			PriceEach: decimal.NewFromInt(100), TotalPrice: decimal.NewFromInt(600),
			LoyaltyTier: loyalty.TierCasual, Currency: pricing.AUD, CapturedAt: sentAt,
		}
		_, err := app.projects.UpdateProject(context.Background(), p)
		require.NoError(t, err)

		body := []byte(`{"asOf": "2024-04-02T00:00:00Z"}`)
		rec := app.do(http.MethodPost, path+"/evaluate", admin, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var ev loyalty.Evaluation
		decode(t, rec, &ev)
		assert.Equal(t, "2024-03", ev.Month)
		assert.Equal(t, 6, ev.Units)
		assert.Equal(t, loyalty.TierPro, ev.Computed)

		rec = app.do(http.MethodPost, path+"/evaluate", admin, body)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.JSONEq(t, `{"error": "this month has already been evaluated"}`, rec.Body.String())

		rec = app.do(http.MethodPost, "/v1/clients/evaluate", admin, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var all EvaluateAllResponse
		decode(t, rec, &all)
		assert.Empty(t, all.Evaluations)
		assert.Empty(t, all.Failures)
	})
}
