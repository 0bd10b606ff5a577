package loyalty

import (
	"github.com/shopspring/decimal"

	"github.com/trezcool/roofest/core/pricing"
)

type OverridePolicy string

const (
	// OverrideOneShot overrides are consumed by the next evaluation.
	OverrideOneShot OverridePolicy = "one_shot"
	// OverrideSticky overrides hold until an admin clears them.
	OverrideSticky OverridePolicy = "sticky"
)

func ParseOverridePolicy(s string) OverridePolicy {
	if OverridePolicy(s) == OverrideSticky {
		return OverrideSticky
	}
	return OverrideOneShot
}

// State is the part of a client the evaluation reads and rewrites.
type State struct {
	Tier             Tier
	Override         *Tier
	ProtectionPoints int
	ProtectionMonths int
	ProtectedStreak  int
}

type Evaluation struct {
	ClientID        string          `json:"clientId,omitempty"`
	Month           string          `json:"month,omitempty"`
	Units           int             `json:"units"`
	Computed        Tier            `json:"computedTier"` // tier the units alone reach
	Tier            Tier            `json:"tier"`
	DiscountPercent int             `json:"discountPercent"`
	PricePerUnit    decimal.Decimal `json:"pricePerUnit"` // reference plan, AUD
	Protected       bool            `json:"protected"`
	Overridden      bool            `json:"overridden"`
	PointsEarned    int             `json:"pointsEarned"`
	State           State           `json:"-"`
}

// Evaluator applies one monthly evaluation cycle to a client's loyalty state.
type Evaluator struct {
	tiers         *Tiers
	table         *pricing.Table
	policy        OverridePolicy
	referencePlan string
}

func NewEvaluator(tiers *Tiers, table *pricing.Table, policy OverridePolicy, referencePlan string) *Evaluator {
	if referencePlan == "" {
		referencePlan = pricing.PlanStandard
	}
	return &Evaluator{tiers: tiers, table: table, policy: policy, referencePlan: referencePlan}
}

func (e *Evaluator) Tiers() *Tiers { return e.tiers }

// Evaluate computes the tier for a month with `units` sent, starting from `st`. It does not mutate `st`.
func (e *Evaluator) Evaluate(st State, units int) Evaluation {
	if units < 0 {
		units = 0
	}
	computed := e.tiers.Lookup(units)
	next := st
	if !next.Tier.IsValid() {
		next.Tier = TierCasual
	}
	ev := Evaluation{Units: units, Computed: computed.Name}

	switch {
	case st.Override != nil && st.Override.IsValid():
		next.Tier = *st.Override
		next.ProtectedStreak = 0
		if e.policy != OverrideSticky {
			next.Override = nil
		}
		ev.Overridden = true

	case e.tiers.Rank(computed.Name) < e.tiers.Rank(next.Tier):
		held, _ := e.tiers.Get(next.Tier)
		switch {
		case next.ProtectedStreak >= MaxProtectedMonths:
			next.Tier = computed.Name
			next.ProtectedStreak = 0
		case next.ProtectionMonths > 0:
			next.ProtectionMonths--
			next.ProtectedStreak++
			ev.Protected = true
		case held.PointsPerMonth > 0 && next.ProtectionPoints >= held.PointsPerMonth:
			next.ProtectionPoints -= held.PointsPerMonth
			next.ProtectedStreak++
			ev.Protected = true
		default:
			next.Tier = computed.Name
			next.ProtectedStreak = 0
		}

	default:
		next.Tier = computed.Name
		next.ProtectedStreak = 0
		if computed.MinMonthlyUnits > 0 {
			ev.PointsEarned = units - computed.MinMonthlyUnits
			next.ProtectionPoints += ev.PointsEarned
		}
	}

	if next.Override != nil && !next.Override.IsValid() {
		next.Override = nil
	}

	def, _ := e.tiers.Get(next.Tier)
	ev.Tier = def.Name
	ev.DiscountPercent = def.DiscountPercent
	ev.PricePerUnit, _ = e.table.UnitPrice(e.referencePlan, def.DiscountPercent, pricing.BaseCurrency)
	ev.State = next
	return ev
}

// Current describes the client's standing tier without running a cycle.
func (e *Evaluator) Current(c Client) Evaluation {
	tier := c.LoyaltyTier
	if !tier.IsValid() {
		tier = TierCasual
	}
	def, _ := e.tiers.Get(tier)
	ev := Evaluation{
		ClientID:        c.ID,
		Computed:        tier,
		Tier:            tier,
		DiscountPercent: def.DiscountPercent,
		Overridden:      c.TierOverride != nil,
		State:           c.state(),
	}
	if len(c.MonthlyHistory) > 0 {
		ev.Month = c.MonthlyHistory[0].Month
		ev.Units = c.MonthlyHistory[0].Units
		ev.Computed = e.tiers.Lookup(ev.Units).Name
	}
	ev.PricePerUnit, _ = e.table.UnitPrice(e.referencePlan, def.DiscountPercent, pricing.BaseCurrency)
	return ev
}
