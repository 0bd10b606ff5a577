package pricing

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_UnitPrice(t *testing.T) {
	table := NewTable(nil)

	tests := []struct {
		name     string
		label    string
		discount int
		currency Currency
		want     string
	}{
		{name: "standard casual", label: PlanStandard, discount: 0, currency: AUD, want: "100"},
		{name: "standard pro", label: PlanStandard, discount: 20, currency: AUD, want: "80"},
		{name: "standard elite", label: PlanStandard, discount: 30, currency: AUD, want: "70"},
		{name: "complex pro rounds", label: PlanComplex, discount: 20, currency: AUD, want: "115"}, // 112 -> 115
		{name: "drafting elite", label: PlanDrafting, discount: 30, currency: AUD, want: "60"},    // 56 -> 60
		{name: "rebate is not discounted", label: PlanNearmapRebate, discount: 30, currency: AUD, want: "-15"},
		{name: "manual price is not discounted", label: PlanManualPrice, discount: 30, currency: AUD, want: "5"}, // 1 -> 5
		{name: "standard elite in usd", label: PlanStandard, discount: 30, currency: USD, want: "55"},              // 51.744
		{name: "standard in usd", label: PlanStandard, discount: 0, currency: USD, want: "75"},  // 73.92
		{name: "standard in eur", label: PlanStandard, discount: 0, currency: EUR, want: "65"},  // 63.44
		{name: "standard in nok", label: PlanStandard, discount: 0, currency: NOK, want: "850"}, // 831.9
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := table.UnitPrice(tc.label, tc.discount, tc.currency)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tc.want).Equal(got), "want %s, got %s", tc.want, got)
		})
	}
}

func TestTable_UnknownPlanType(t *testing.T) {
	table := NewTable(nil)

	_, err := table.UnitPrice("Skylight", 0, AUD)
	assert.True(t, errors.Is(err, ErrUnknownPlanType))

	_, err = table.Get("")
	assert.True(t, errors.Is(err, ErrUnknownPlanType))
}

func TestTable_PlanTypes(t *testing.T) {
	table := NewTable(nil)

	pts := table.PlanTypes()
	require.Len(t, pts, len(DefaultPlanTypes))
	assert.Equal(t, PlanStandard, pts[0].Label)
	assert.Equal(t, UnitHour, pts[5].UnitOfMeasure)

	custom := NewTable(nil, PlanType{Label: "Gutter", BaseAUD: decimal.NewFromInt(40), UnitOfMeasure: UnitEach})
	assert.True(t, custom.Has("Gutter"))
	assert.False(t, custom.Has(PlanStandard))
}
