package pricing

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roofest/core"
)

type Currency string

const (
	AUD Currency = "AUD"
	USD Currency = "USD"
	EUR Currency = "EUR"
	NOK Currency = "NOK"
)

// BaseCurrency is the currency the plan table is priced in.
const BaseCurrency = AUD

var ErrUnknownCurrency = core.NewNotFoundError("unknown currency")

// ParseCurrency accepts currency codes in any case.
func ParseCurrency(s string) (Currency, error) {
	cur := Currency(strings.ToUpper(core.CleanString(s)))
	if _, ok := DefaultRates[cur]; !ok {
		return "", errors.Wrapf(ErrUnknownCurrency, "%q", s)
	}
	return cur, nil
}

// Rate describes a currency relative to AUD.
type Rate struct {
	FXRate       decimal.Decimal // units of the currency per 1 AUD
	CostOfLiving decimal.Decimal // index, AUD = 100
	Increment    decimal.Decimal // prices are rounded to a multiple of this
}

var DefaultRates = map[Currency]Rate{
	AUD: {FXRate: decimal.NewFromInt(1), CostOfLiving: decimal.NewFromInt(100), Increment: decimal.NewFromInt(5)},
	USD: {FXRate: decimal.RequireFromString("0.66"), CostOfLiving: decimal.NewFromInt(112), Increment: decimal.NewFromInt(5)},
	EUR: {FXRate: decimal.RequireFromString("0.61"), CostOfLiving: decimal.NewFromInt(104), Increment: decimal.NewFromInt(5)},
	NOK: {FXRate: decimal.RequireFromString("7.05"), CostOfLiving: decimal.NewFromInt(118), Increment: decimal.NewFromInt(50)},
}

// Converter converts prices between currencies using FX x cost-of-living ratios.
type Converter struct {
	rates map[Currency]Rate
}

// NewConverter returns a converter over DefaultRates, with `overrides` replacing the non-zero fields.
func NewConverter(overrides map[Currency]Rate) *Converter {
	rates := make(map[Currency]Rate, len(DefaultRates))
	for cur, rate := range DefaultRates {
		rates[cur] = rate
	}
	for cur, o := range overrides {
		rate := rates[cur]
		if !o.FXRate.IsZero() {
			rate.FXRate = o.FXRate
		}
		if !o.CostOfLiving.IsZero() {
			rate.CostOfLiving = o.CostOfLiving
		}
		if !o.Increment.IsZero() {
			rate.Increment = o.Increment
		}
		rates[cur] = rate
	}
	return &Converter{rates: rates}
}

// NewConverterFromConfig reads rate overrides from the pricing config; malformed numbers are rejected.
func NewConverterFromConfig(conf *core.Config) (*Converter, error) {
	overrides := make(map[Currency]Rate)
	for code, r := range conf.Pricing.Rates {
		cur := Currency(strings.ToUpper(code))
		var rate Rate
		for _, f := range []struct {
			src string
			dst *decimal.Decimal
		}{
			{r.FXRate, &rate.FXRate},
			{r.CostOfLiving, &rate.CostOfLiving},
			{r.Increment, &rate.Increment},
		} {
			if f.src == "" {
				continue
			}
			d, err := decimal.NewFromString(f.src)
			if err != nil || !d.IsPositive() {
				return nil, errors.Errorf("invalid %s rate value %q", cur, f.src)
			}
			*f.dst = d
		}
		overrides[cur] = rate
	}
	conv := NewConverter(overrides)
	for cur, rate := range conv.rates {
		if !rate.FXRate.IsPositive() || !rate.CostOfLiving.IsPositive() || !rate.Increment.IsPositive() {
			return nil, errors.Errorf("incomplete rate for %s", cur)
		}
	}
	return conv, nil
}

func (c *Converter) rate(cur Currency) (Rate, error) {
	rate, ok := c.rates[cur]
	if !ok {
		return Rate{}, errors.Wrapf(ErrUnknownCurrency, "%q", cur)
	}
	return rate, nil
}

// Currencies returns the supported currency codes, sorted.
func (c *Converter) Currencies() []Currency {
	curs := make([]Currency, 0, len(c.rates))
	for cur := range c.rates {
		curs = append(curs, cur)
	}
	sort.Slice(curs, func(i, j int) bool { return curs[i] < curs[j] })
	return curs
}

// Increment returns the rounding increment of `cur`.
func (c *Converter) Increment(cur Currency) (decimal.Decimal, error) {
	rate, err := c.rate(cur)
	if err != nil {
		return decimal.Zero, err
	}
	return rate.Increment, nil
}

// Factor returns the multiplier applied to an amount converted from `from` to `to`, before rounding.
func (c *Converter) Factor(from, to Currency) (decimal.Decimal, error) {
	src, err := c.rate(from)
	if err != nil {
		return decimal.Zero, err
	}
	dst, err := c.rate(to)
	if err != nil {
		return decimal.Zero, err
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	col := dst.CostOfLiving.Div(src.CostOfLiving)
	fx := dst.FXRate.Div(src.FXRate)
	return col.Mul(fx), nil
}

// Convert converts `amount` and rounds the result to the increment of `to`.
func (c *Converter) Convert(amount decimal.Decimal, from, to Currency) (decimal.Decimal, error) {
	factor, err := c.Factor(from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Round(amount.Mul(factor), to)
}

// Round rounds `amount` up to the next multiple of the increment of `cur`.
// Negative amounts are rounded by magnitude, so rebates never shrink.
func (c *Converter) Round(amount decimal.Decimal, cur Currency) (decimal.Decimal, error) {
	inc, err := c.Increment(cur)
	if err != nil {
		return decimal.Zero, err
	}
	rounded := amount.Abs().Div(inc).Ceil().Mul(inc)
	if amount.IsNegative() {
		rounded = rounded.Neg()
	}
	return rounded, nil
}
