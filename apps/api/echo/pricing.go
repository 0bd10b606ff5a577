package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
)

type pricingApi struct {
	table     *pricing.Table
	clientSvc *loyalty.Service
}

func registerPricingAPI(g *echo.Group, deps *Deps) {
	api := pricingApi{table: deps.Pricing, clientSvc: deps.ClientSvc}

	pg := g.Group("/pricing")
	pg.GET("/plan-types", api.planTypes)
	pg.GET("/tiers", api.tiers)
	pg.GET("/currencies", api.currencies)
	pg.GET("/price", api.price)
	pg.GET("/convert", api.convert)
}

type (
	PriceResponse struct {
		PlanType        string           `json:"planType"`
		Tier            loyalty.Tier     `json:"tier"`
		DiscountPercent int              `json:"discountPercent"`
		Currency        pricing.Currency `json:"currency"`
		PriceEach       decimal.Decimal  `json:"priceEach"`
	}

	ConvertResponse struct {
		Amount    decimal.Decimal  `json:"amount"`
		From      pricing.Currency `json:"from"`
		To        pricing.Currency `json:"to"`
		Converted decimal.Decimal  `json:"converted"`
	}
)

func invalidParam(err error, field, msg string) error {
	return core.NewValidationError(err, core.FieldError{Field: field, Error: msg})
}

func parseCurrencyParam(ctx echo.Context, name string) (pricing.Currency, error) {
	val := ctx.QueryParam(name)
	if val == "" {
		return pricing.BaseCurrency, nil
	}
	cur, err := pricing.ParseCurrency(val)
	if err != nil {
		return "", invalidParam(err, name, "must be one of AUD, USD, EUR or NOK")
	}
	return cur, nil
}

func (api *pricingApi) planTypes(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.table.PlanTypes())
}

func (api *pricingApi) tiers(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.clientSvc.Tiers())
}

func (api *pricingApi) currencies(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.table.Converter().Currencies())
}

// price quotes one unit of `plan_type` at `tier` (default Casual) in `currency` (default AUD).
func (api *pricingApi) price(ctx echo.Context) error {
	label := core.CleanString(ctx.QueryParam("plan_type"))
	pt, err := api.table.Get(label)
	if err != nil {
		return invalidParam(err, "plan_type", "must be a known plan type")
	}

	tier := loyalty.TierCasual
	if t := core.CleanString(ctx.QueryParam("tier")); t != "" {
		tier = loyalty.Tier(t)
	}
	var def *loyalty.TierDefinition
	for _, d := range api.clientSvc.Tiers() {
		if d.Name == tier {
			d := d
			def = &d
		}
	}
	if def == nil {
		return invalidParam(errors.Errorf("unknown tier %q", tier), "tier", "must be one of Casual, Pro or Elite")
	}

	cur, err := parseCurrencyParam(ctx, "currency")
	if err != nil {
		return err
	}

	discount := def.DiscountPercent
	if !pt.Discountable() {
		discount = 0
	}
	priceEach, err := api.table.UnitPrice(pt.Label, discount, cur)
	if err != nil {
		return errors.Wrap(err, "pricing plan")
	}
	return ctx.JSON(http.StatusOK, PriceResponse{
		PlanType:        pt.Label,
		Tier:            tier,
		DiscountPercent: discount,
		Currency:        cur,
		PriceEach:       priceEach,
	})
}

func (api *pricingApi) convert(ctx echo.Context) error {
	amount, err := decimal.NewFromString(ctx.QueryParam("amount"))
	if err != nil {
		return invalidParam(err, "amount", "must be a decimal number")
	}
	from, err := parseCurrencyParam(ctx, "from")
	if err != nil {
		return err
	}
	to, err := parseCurrencyParam(ctx, "to")
	if err != nil {
		return err
	}

	converted, err := api.table.Converter().Convert(amount, from, to)
	if err != nil {
		return errors.Wrap(err, "converting amount")
	}
	return ctx.JSON(http.StatusOK, ConvertResponse{Amount: amount, From: from, To: to, Converted: converted})
}
