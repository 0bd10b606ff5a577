package loyalty

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roofest/core/pricing"
)

func newTestEvaluator(t *testing.T, policy OverridePolicy) *Evaluator {
	t.Helper()
	tiers, err := NewTiers()
	require.NoError(t, err)
	return NewEvaluator(tiers, pricing.NewTable(nil), policy, pricing.PlanStandard)
}

func tierPtr(t Tier) *Tier { return &t }

func TestTiers_Lookup(t *testing.T) {
	tiers, err := NewTiers()
	require.NoError(t, err)

	tests := []struct {
		units int
		want  Tier
	}{
		{0, TierCasual},
		{5, TierCasual},
		{6, TierPro},
		{10, TierPro},
		{11, TierElite},
		{250, TierElite},
		{-3, TierCasual},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tiers.Lookup(tc.units).Name, "units=%d", tc.units)
	}
}

func TestNewTiers(t *testing.T) {
	_, err := NewTiers(DefaultTierDefinitions[:2]...)
	assert.Error(t, err, "all three tiers are required")

	_, err = NewTiers(
		TierDefinition{Name: TierCasual, MinMonthlyUnits: 1},
		TierDefinition{Name: TierPro, MinMonthlyUnits: 6},
		TierDefinition{Name: TierElite, MinMonthlyUnits: 11},
	)
	assert.Error(t, err, "casual must start at 0")

	_, err = NewTiers(
		TierDefinition{Name: TierCasual},
		TierDefinition{Name: TierElite, MinMonthlyUnits: 6},
		TierDefinition{Name: TierPro, MinMonthlyUnits: 11},
	)
	assert.Error(t, err, "elite must be the highest threshold")

	tiers, err := NewTiers(
		TierDefinition{Name: TierElite, MinMonthlyUnits: 20, DiscountPercent: 35},
		TierDefinition{Name: TierCasual},
		TierDefinition{Name: TierPro, MinMonthlyUnits: 8, DiscountPercent: 15},
	)
	require.NoError(t, err)
	assert.Equal(t, TierPro, tiers.Lookup(19).Name)
	assert.Equal(t, TierElite, tiers.Lookup(20).Name)
	assert.Equal(t, 2, tiers.Rank(TierElite))
}

func TestEvaluator_AlwaysYieldsKnownTier(t *testing.T) {
	ev := newTestEvaluator(t, OverrideOneShot)

	starts := []Tier{"", "Platinum", TierCasual, TierPro, TierElite}
	for _, start := range starts {
		for units := 0; units <= 20; units++ {
			for points := 0; points <= 12; points += 6 {
				for months := 0; months <= MaxProtectedMonths; months++ {
					for streak := 0; streak <= MaxProtectedMonths; streak++ {
						st := State{Tier: start, ProtectionPoints: points, ProtectionMonths: months, ProtectedStreak: streak}
						got := ev.Evaluate(st, units)
						assert.True(t, got.Tier.IsValid(), "state %+v units %d gave %q", st, units, got.Tier)
						assert.Equal(t, got.Tier, got.State.Tier)
						assert.GreaterOrEqual(t, got.State.ProtectionPoints, 0)
						assert.GreaterOrEqual(t, got.State.ProtectionMonths, 0)
						assert.LessOrEqual(t, got.State.ProtectedStreak, MaxProtectedMonths)
					}
				}
			}
		}
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	tests := []struct {
		name          string
		state         State
		units         int
		wantTier      Tier
		wantDiscount  int
		wantPrice     string
		wantProtected bool
		wantState     State
	}{
		{
			name:         "casual stays casual",
			state:        State{Tier: TierCasual},
			units:        5,
			wantTier:     TierCasual,
			wantDiscount: 0,
			wantPrice:    "100",
			wantState:    State{Tier: TierCasual},
		},
		{
			name:         "upgrade to pro earns points above threshold",
			state:        State{Tier: TierCasual},
			units:        8,
			wantTier:     TierPro,
			wantDiscount: 20,
			wantPrice:    "80",
			wantState:    State{Tier: TierPro, ProtectionPoints: 2},
		},
		{
			name:         "elite accrues points",
			state:        State{Tier: TierElite, ProtectionPoints: 3, ProtectedStreak: 2},
			units:        15,
			wantTier:     TierElite,
			wantDiscount: 30,
			wantPrice:    "70",
			wantState:    State{Tier: TierElite, ProtectionPoints: 7},
		},
		{
			name:          "banked month protects a downgrade",
			state:         State{Tier: TierElite, ProtectionMonths: 2},
			units:         2,
			wantTier:      TierElite,
			wantDiscount:  30,
			wantPrice:     "70",
			wantProtected: true,
			wantState:     State{Tier: TierElite, ProtectionMonths: 1, ProtectedStreak: 1},
		},
		{
			name:          "points protect a downgrade when no month is banked",
			state:         State{Tier: TierPro, ProtectionPoints: 7},
			units:         1,
			wantTier:      TierPro,
			wantDiscount:  20,
			wantPrice:     "80",
			wantProtected: true,
			wantState:     State{Tier: TierPro, ProtectionPoints: 2, ProtectedStreak: 1},
		},
		{
			name:         "not enough points downgrades",
			state:        State{Tier: TierElite, ProtectionPoints: 9},
			units:        7,
			wantTier:     TierPro,
			wantDiscount: 20,
			wantPrice:    "80",
			wantState:    State{Tier: TierPro, ProtectionPoints: 9},
		},
		{
			name:         "protection cannot stretch past the cap",
			state:        State{Tier: TierElite, ProtectionMonths: 3, ProtectionPoints: 50, ProtectedStreak: 3},
			units:        0,
			wantTier:     TierCasual,
			wantDiscount: 0,
			wantPrice:    "100",
			wantState:    State{Tier: TierCasual, ProtectionMonths: 3, ProtectionPoints: 50},
		},
	}
	ev := newTestEvaluator(t, OverrideOneShot)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ev.Evaluate(tc.state, tc.units)
			assert.Equal(t, tc.wantTier, got.Tier)
			assert.Equal(t, tc.wantDiscount, got.DiscountPercent)
			assert.True(t, decimal.RequireFromString(tc.wantPrice).Equal(got.PricePerUnit), "price %s", got.PricePerUnit)
			assert.Equal(t, tc.wantProtected, got.Protected)
			assert.Equal(t, tc.wantState, got.State)
		})
	}
}

func TestEvaluator_Override(t *testing.T) {
	st := State{Tier: TierPro, Override: tierPtr(TierElite), ProtectedStreak: 1}

	oneShot := newTestEvaluator(t, OverrideOneShot).Evaluate(st, 0)
	assert.True(t, oneShot.Overridden)
	assert.Equal(t, TierElite, oneShot.Tier)
	assert.Nil(t, oneShot.State.Override, "one-shot overrides are consumed")
	assert.Equal(t, 0, oneShot.State.ProtectedStreak)

	sticky := newTestEvaluator(t, OverrideSticky).Evaluate(st, 0)
	assert.Equal(t, TierElite, sticky.Tier)
	require.NotNil(t, sticky.State.Override)
	assert.Equal(t, TierElite, *sticky.State.Override)

	// the input state is left untouched
	require.NotNil(t, st.Override)
	assert.Equal(t, TierPro, st.Tier)

	invalid := newTestEvaluator(t, OverrideSticky).Evaluate(State{Tier: TierPro, Override: tierPtr("Gold")}, 12)
	assert.False(t, invalid.Overridden)
	assert.Equal(t, TierElite, invalid.Tier)
	assert.Nil(t, invalid.State.Override)
}

func TestEvaluator_Current(t *testing.T) {
	ev := newTestEvaluator(t, OverrideOneShot)

	got := ev.Current(Client{ID: "c1", LoyaltyTier: TierPro, MonthlyHistory: []MonthlyRecord{{Month: "2024-05", Units: 3, Tier: TierPro}}})
	assert.Equal(t, TierPro, got.Tier)
	assert.Equal(t, TierCasual, got.Computed)
	assert.Equal(t, 20, got.DiscountPercent)
	assert.True(t, decimal.NewFromInt(80).Equal(got.PricePerUnit))
	assert.Equal(t, "2024-05", got.Month)

	got = ev.Current(Client{ID: "c2"})
	assert.Equal(t, TierCasual, got.Tier)
}
