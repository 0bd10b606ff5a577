// Package loyalty computes client loyalty tiers from monthly estimate volume
// and manages the buffers that delay a downgrade.
package loyalty

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/roofest/core"
)

type Tier string

const (
	TierCasual Tier = "Casual"
	TierPro    Tier = "Pro"
	TierElite  Tier = "Elite"
)

var AllTiers = []Tier{TierCasual, TierPro, TierElite}

func (t Tier) IsValid() bool {
	switch t {
	case TierCasual, TierPro, TierElite:
		return true
	}
	return false
}

type TierDefinition struct {
	Name            Tier `json:"name"`
	MinMonthlyUnits int  `json:"min_monthly_units"`
	DiscountPercent int  `json:"discount_percent"`
	// PointsPerMonth is the protection points cost of holding the tier one month without volume.
	PointsPerMonth int `json:"points_per_month"`
}

var DefaultTierDefinitions = []TierDefinition{
	{Name: TierCasual, MinMonthlyUnits: 0, DiscountPercent: 0, PointsPerMonth: 0},
	{Name: TierPro, MinMonthlyUnits: 6, DiscountPercent: 20, PointsPerMonth: 5},
	{Name: TierElite, MinMonthlyUnits: 11, DiscountPercent: 30, PointsPerMonth: 10},
}

// Tiers is the ordered threshold table.
type Tiers struct {
	defs []TierDefinition // ascending by MinMonthlyUnits
}

// NewTiers validates and orders the tier definitions; DefaultTierDefinitions are used when none are given.
func NewTiers(defs ...TierDefinition) (*Tiers, error) {
	if len(defs) == 0 {
		defs = DefaultTierDefinitions
	}
	if len(defs) != len(AllTiers) {
		return nil, errors.Errorf("expected %d tier definitions, got %d", len(AllTiers), len(defs))
	}

	sorted := make([]TierDefinition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinMonthlyUnits < sorted[j].MinMonthlyUnits })

	for i, def := range sorted {
		if def.Name != AllTiers[i] {
			return nil, errors.Errorf("tier %d must be %s, got %q", i, AllTiers[i], def.Name)
		}
		if i > 0 && def.MinMonthlyUnits == sorted[i-1].MinMonthlyUnits {
			return nil, errors.Errorf("tiers %s and %s share a threshold", sorted[i-1].Name, def.Name)
		}
		if def.DiscountPercent < 0 || def.DiscountPercent >= 100 {
			return nil, errors.Errorf("invalid discount for %s: %d", def.Name, def.DiscountPercent)
		}
		if def.PointsPerMonth < 0 {
			return nil, errors.Errorf("invalid points per month for %s: %d", def.Name, def.PointsPerMonth)
		}
	}
	if sorted[0].MinMonthlyUnits != 0 {
		return nil, errors.New("the lowest tier must start at 0 units")
	}
	return &Tiers{defs: sorted}, nil
}

// NewTiersFromConfig builds the tier table from the loyalty config section.
func NewTiersFromConfig(conf *core.Config) (*Tiers, error) {
	lc := conf.Loyalty
	return NewTiers(
		TierDefinition{Name: TierCasual},
		TierDefinition{Name: TierPro, MinMonthlyUnits: lc.ProMinUnits, DiscountPercent: lc.ProDiscountPercent, PointsPerMonth: lc.ProPointsPerMonth},
		TierDefinition{Name: TierElite, MinMonthlyUnits: lc.EliteMinUnits, DiscountPercent: lc.EliteDiscountPercent, PointsPerMonth: lc.ElitePointsPerMonth},
	)
}

// Lookup returns the highest tier whose threshold `units` reaches.
func (t *Tiers) Lookup(units int) TierDefinition {
	for i := len(t.defs) - 1; i > 0; i-- {
		if units >= t.defs[i].MinMonthlyUnits {
			return t.defs[i]
		}
	}
	return t.defs[0]
}

func (t *Tiers) Get(name Tier) (TierDefinition, bool) {
	for _, def := range t.defs {
		if def.Name == name {
			return def, true
		}
	}
	return TierDefinition{}, false
}

// Rank orders tiers: Casual 0, Pro 1, Elite 2. Unknown names rank as Casual.
func (t *Tiers) Rank(name Tier) int {
	for i, def := range t.defs {
		if def.Name == name {
			return i
		}
	}
	return 0
}

// All returns the definitions, lowest tier first.
func (t *Tiers) All() []TierDefinition {
	defs := make([]TierDefinition, len(t.defs))
	copy(defs, t.defs)
	return defs
}
