package project

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
)

var (
	ErrQtyRequired         = errors.New("Qty or EstQty must be greater than 0")
	ErrManualPriceRequired = errors.New("manualPrice is required for the Manual Price plan")
	ErrSnapshotMissing     = errors.New("sent project has no pricing snapshot")
)

// Pricer prices one unit of a plan; *pricing.Table satisfies it.
type Pricer interface {
	Get(label string) (pricing.PlanType, error)
	UnitPrice(label string, discountPercent int, cur pricing.Currency) (decimal.Decimal, error)
}

// Capturer computes pricing snapshots and live quotes.
type Capturer struct {
	pricer Pricer
	tiers  *loyalty.Tiers
}

func NewCapturer(pricer Pricer, tiers *loyalty.Tiers) *Capturer {
	return &Capturer{pricer: pricer, tiers: tiers}
}

// Quote prices the project for the client as it stands now. CapturedAt is set to `now`.
func (c *Capturer) Quote(p Project, client loyalty.Client, now time.Time) (PricingSnapshot, error) {
	qty := p.Units()
	if qty <= 0 {
		return PricingSnapshot{}, core.NewValidationError(ErrQtyRequired,
			core.FieldError{Field: "Qty", Error: ErrQtyRequired.Error()})
	}

	pt, err := c.pricer.Get(p.PlanType)
	if err != nil {
		return PricingSnapshot{}, core.NewValidationError(err,
			core.FieldError{Field: "PlanType", Error: "PlanType must be a known plan type"})
	}

	tier := client.LoyaltyTier
	if !tier.IsValid() {
		tier = loyalty.TierCasual
	}
	def, _ := c.tiers.Get(tier)
	discount := def.DiscountPercent
	if !pt.Discountable() {
		discount = 0
	}

	cur := client.Currency
	if cur == "" {
		cur = pricing.BaseCurrency
	}

	var priceEach decimal.Decimal
	if pt.IsManual() {
		if !p.ManualPrice.Valid {
			return PricingSnapshot{}, core.NewValidationError(ErrManualPriceRequired,
				core.FieldError{Field: "manualPrice", Error: ErrManualPriceRequired.Error()})
		}
		priceEach = p.ManualPrice.Decimal
	} else {
		priceEach, err = c.pricer.UnitPrice(pt.Label, discount, cur)
		if err != nil {
			return PricingSnapshot{}, errors.Wrap(err, "pricing plan")
		}
	}

	return PricingSnapshot{
		PlanType:        pt.Label,
		Qty:             qty,
		PriceEach:       priceEach,
		TotalPrice:      priceEach.Mul(decimal.NewFromInt(int64(qty))),
		LoyaltyTier:     tier,
		DiscountPercent: discount,
		Currency:        cur,
		CapturedAt:      now.UTC(),
	}, nil
}

// Capture freezes the project's pricing for the client at `now`.
func (c *Capturer) Capture(p Project, client loyalty.Client, now time.Time) (*PricingSnapshot, error) {
	snap, err := c.Quote(p, client, now)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

type QuoteSource string

const (
	SourceSnapshot QuoteSource = "snapshot"
	SourceLive     QuoteSource = "live"
)

type EffectivePricing struct {
	Source QuoteSource `json:"source"`
	PricingSnapshot
}

// EffectivePricing returns the snapshot of a sent project, or a live quote otherwise.
// A sent project without a snapshot is an error, never silently re-priced.
func (c *Capturer) EffectivePricing(p Project, client loyalty.Client, now time.Time) (EffectivePricing, error) {
	if p.EstimateStatus == StatusSent {
		if p.PricingSnapshot == nil {
			return EffectivePricing{}, errors.Wrapf(ErrSnapshotMissing, "project %s", p.ID)
		}
		return EffectivePricing{Source: SourceSnapshot, PricingSnapshot: *p.PricingSnapshot}, nil
	}
	snap, err := c.Quote(p, client, now)
	if err != nil {
		return EffectivePricing{}, err
	}
	return EffectivePricing{Source: SourceLive, PricingSnapshot: snap}, nil
}

// InvoiceLine is a billable line built from a pricing snapshot.
type InvoiceLine struct {
	ProjectID   string           `json:"projectId"`
	Description string           `json:"description"`
	Qty         int              `json:"qty"`
	PriceEach   decimal.Decimal  `json:"priceEach"`
	Amount      decimal.Decimal  `json:"amount"`
	Currency    pricing.Currency `json:"currency"`
	CapturedAt  time.Time        `json:"capturedAt"`
}

// IdempotencyKey identifies the line for billing backends: one line per project per snapshot.
func (l InvoiceLine) IdempotencyKey() string {
	return "project:" + l.ProjectID + ":" + l.CapturedAt.UTC().Format(time.RFC3339Nano)
}

// InvoiceLines builds invoice lines from the snapshots of sent projects; other projects are skipped.
func InvoiceLines(projects []Project) ([]InvoiceLine, error) {
	lines := make([]InvoiceLine, 0, len(projects))
	for _, p := range projects {
		if p.EstimateStatus != StatusSent {
			continue
		}
		snap := p.PricingSnapshot
		if snap == nil {
			return nil, errors.Wrapf(ErrSnapshotMissing, "project %s", p.ID)
		}
		lines = append(lines, InvoiceLine{
			ProjectID:   p.ID,
			Description: p.Name + " (" + snap.PlanType + ")",
			Qty:         snap.Qty,
			PriceEach:   snap.PriceEach,
			Amount:      snap.TotalPrice,
			Currency:    snap.Currency,
			CapturedAt:  snap.CapturedAt,
		})
	}
	return lines, nil
}
