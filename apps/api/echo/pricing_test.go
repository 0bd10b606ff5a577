package echoapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
)

func TestPricingAPI(t *testing.T) {
	app := newTestApp(t)

	app.run(t, []httpTest{
		{
			name: "standard pro AUD", path: "/v1/pricing/price?plan_type=Standard&tier=Pro",
			wantData: []byte(`{"planType": "Standard", "tier": "Pro", "discountPercent": 20, "currency": "AUD", "priceEach": "80"}`),
		},
		{
			name: "standard casual NOK", path: "/v1/pricing/price?plan_type=Standard&currency=nok",
			wantData: []byte(`{"planType": "Standard", "tier": "Casual", "discountPercent": 0, "currency": "NOK", "priceEach": "850"}`),
		},
		{
			name: "rebate is never discounted", path: "/v1/pricing/price?plan_type=Nearmap%20Rebate&tier=Elite",
			wantData: []byte(`{"planType": "Nearmap Rebate", "tier": "Elite", "discountPercent": 0, "currency": "AUD", "priceEach": "-15"}`),
		},
		{
			name: "unknown plan type", path: "/v1/pricing/price?plan_type=Igloo",
			wantCode: http.StatusBadRequest, wantData: []byte(`{"plan_type": "must be a known plan type"}`),
		},
		{
			name: "unknown tier", path: "/v1/pricing/price?plan_type=Standard&tier=Gold",
			wantCode: http.StatusBadRequest, wantData: []byte(`{"tier": "must be one of Casual, Pro or Elite"}`),
		},
		{
			name: "unknown currency", path: "/v1/pricing/price?plan_type=Standard&currency=JPY",
			wantCode: http.StatusBadRequest, wantData: []byte(`{"currency": "must be one of AUD, USD, EUR or NOK"}`),
		},
		{
			name: "convert", path: "/v1/pricing/convert?amount=100&from=AUD&to=USD",
			wantData: []byte(`{"amount": "100", "from": "AUD", "to": "USD", "converted": "75"}`),
		},
		{
			name: "convert bad amount", path: "/v1/pricing/convert?amount=lots&to=USD",
			wantCode: http.StatusBadRequest, wantData: []byte(`{"amount": "must be a decimal number"}`),
		},
		{name: "currencies", path: "/v1/pricing/currencies", wantData: []byte(`["AUD", "EUR", "NOK", "USD"]`)},
	})

	t.Run("plan types", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/v1/pricing/plan-types", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var pts []pricing.PlanType
		decode(t, rec, &pts)
		require.Len(t, pts, len(pricing.DefaultPlanTypes))
		assert.Equal(t, pricing.PlanStandard, pts[0].Label)
	})

	t.Run("tiers", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/v1/pricing/tiers", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var defs []loyalty.TierDefinition
		decode(t, rec, &defs)
		require.Len(t, defs, 3)
		assert.Equal(t, loyalty.TierElite, defs[2].Name)
		assert.Equal(t, 11, defs[2].MinMonthlyUnits)
	})
}
