// Package pricing holds the plan-type price list and converts prices between the supported currencies.
package pricing

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roofest/core"
)

type UnitOfMeasure string

const (
	UnitEach UnitOfMeasure = "ea"
	UnitHour UnitOfMeasure = "hr"
	UnitNone UnitOfMeasure = ""
)

// Plan type labels
const (
	PlanStandard      = "Standard"
	PlanComplex       = "Complex"
	PlanMultiDwelling = "Multi-Dwelling"
	PlanCommercial    = "Commercial"
	PlanReQuote       = "Re-Quote"
	PlanDrafting      = "Drafting"
	PlanManualPrice   = "Manual Price"
	PlanNearmapRebate = "Nearmap Rebate"
)

var ErrUnknownPlanType = core.NewNotFoundError("unknown plan type")

type PlanType struct {
	Label         string          `json:"label"`
	BaseAUD       decimal.Decimal `json:"base_aud"`
	UnitOfMeasure UnitOfMeasure   `json:"unit_of_measure"`
}

// Discountable reports whether loyalty discounts apply to the plan.
func (pt PlanType) Discountable() bool {
	return pt.Label != PlanManualPrice && pt.Label != PlanNearmapRebate
}

// IsManual reports whether the price is entered by the estimator instead of read from the table.
func (pt PlanType) IsManual() bool {
	return pt.Label == PlanManualPrice
}

var DefaultPlanTypes = []PlanType{
	{Label: PlanStandard, BaseAUD: decimal.NewFromInt(100), UnitOfMeasure: UnitEach},
	{Label: PlanComplex, BaseAUD: decimal.NewFromInt(140), UnitOfMeasure: UnitEach},
	{Label: PlanMultiDwelling, BaseAUD: decimal.NewFromInt(200), UnitOfMeasure: UnitEach},
	{Label: PlanCommercial, BaseAUD: decimal.NewFromInt(300), UnitOfMeasure: UnitEach},
	{Label: PlanReQuote, BaseAUD: decimal.NewFromInt(50), UnitOfMeasure: UnitEach},
	{Label: PlanDrafting, BaseAUD: decimal.NewFromInt(80), UnitOfMeasure: UnitHour},
	{Label: PlanManualPrice, BaseAUD: decimal.NewFromInt(1), UnitOfMeasure: UnitNone},
	{Label: PlanNearmapRebate, BaseAUD: decimal.NewFromInt(-15), UnitOfMeasure: UnitNone},
}

// Table is the immutable plan-type price list.
type Table struct {
	plans     map[string]PlanType
	order     []string
	converter *Converter
}

// NewTable returns a table over `plans`, or DefaultPlanTypes when none are given.
func NewTable(conv *Converter, plans ...PlanType) *Table {
	if len(plans) == 0 {
		plans = DefaultPlanTypes
	}
	if conv == nil {
		conv = NewConverter(nil)
	}
	t := &Table{
		plans:     make(map[string]PlanType, len(plans)),
		order:     make([]string, 0, len(plans)),
		converter: conv,
	}
	for _, pt := range plans {
		if _, dup := t.plans[pt.Label]; !dup {
			t.order = append(t.order, pt.Label)
		}
		t.plans[pt.Label] = pt
	}
	return t
}

func (t *Table) Converter() *Converter { return t.converter }

// PlanTypes returns the plan types in table order.
func (t *Table) PlanTypes() []PlanType {
	pts := make([]PlanType, 0, len(t.order))
	for _, label := range t.order {
		pts = append(pts, t.plans[label])
	}
	return pts
}

func (t *Table) Get(label string) (PlanType, error) {
	pt, ok := t.plans[label]
	if !ok {
		return PlanType{}, errors.Wrapf(ErrUnknownPlanType, "%q", label)
	}
	return pt, nil
}

// Has reports whether `label` is a known plan type.
func (t *Table) Has(label string) bool {
	_, ok := t.plans[label]
	return ok
}

// Discounted returns the AUD base price of a plan with `discountPercent` applied, before rounding.
func (t *Table) Discounted(label string, discountPercent int) (decimal.Decimal, error) {
	pt, err := t.Get(label)
	if err != nil {
		return decimal.Zero, err
	}
	if !pt.Discountable() || discountPercent == 0 {
		return pt.BaseAUD, nil
	}
	factor := decimal.NewFromInt(int64(100 - discountPercent)).Div(decimal.NewFromInt(100))
	return pt.BaseAUD.Mul(factor), nil
}

// UnitPrice returns the discounted price of one unit of a plan in `cur`, rounded to the currency increment.
func (t *Table) UnitPrice(label string, discountPercent int, cur Currency) (decimal.Decimal, error) {
	amount, err := t.Discounted(label, discountPercent)
	if err != nil {
		return decimal.Zero, err
	}
	return t.converter.Convert(amount, BaseCurrency, cur)
}
