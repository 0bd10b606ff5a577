// Package billingsvc pushes invoice lines built from pricing snapshots to Stripe.
package billingsvc

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/invoiceitem"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/project"
)

var (
	ErrNoBillingCustomer = errors.New("client has no billing customer")
	ErrBillingDisabled   = errors.New("billing is not configured")

	hundred = decimal.NewFromInt(100)
)

// StripeInvoicer creates one pending Stripe invoice item per invoice line.
// Each item carries the line's idempotency key, so pushing the same snapshot twice bills it once.
type StripeInvoicer struct {
	secretKey string
	logger    core.Logger

	newItem func(params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error) // mockable
}

func NewStripeInvoicer(conf *core.Config, logger core.Logger) *StripeInvoicer {
	return &StripeInvoicer{
		secretKey: conf.Stripe.SecretKey,
		logger:    logger,
		newItem:   invoiceitem.New,
	}
}

// minorUnits converts an amount to cents; every supported currency has two decimals.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func itemParams(customerID string, line project.InvoiceLine) *stripe.InvoiceItemParams {
	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Amount:      stripe.Int64(minorUnits(line.Amount)),
		Currency:    stripe.String(strings.ToLower(string(line.Currency))),
		Description: stripe.String(line.Description),
	}
	params.AddMetadata("project_id", line.ProjectID)
	params.AddMetadata("qty", decimal.NewFromInt(int64(line.Qty)).String())
	params.AddMetadata("price_each", line.PriceEach.StringFixed(2))
	params.AddMetadata("captured_at", core.FormatTime(line.CapturedAt))
	params.IdempotencyKey = stripe.String(line.IdempotencyKey())
	return params
}

// Push creates invoice items for `lines` on the Stripe customer and returns their ids.
// It stops at the first failure; items already created stay pending and are deduplicated on retry.
func (inv *StripeInvoicer) Push(ctx context.Context, customerID string, lines []project.InvoiceLine) ([]string, error) {
	if inv.secretKey == "" {
		return nil, ErrBillingDisabled
	}
	if customerID == "" {
		return nil, ErrNoBillingCustomer
	}

	// Stripe uses a global API key.
	stripe.Key = inv.secretKey

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		params := itemParams(customerID, line)
		params.Context = ctx
		item, err := inv.newItem(params)
		if err != nil {
			inv.logger.Error("stripe invoice item create failed", err, map[string]interface{}{"project_id": line.ProjectID})
			return ids, errors.Wrapf(err, "creating invoice item for project %s", line.ProjectID)
		}
		ids = append(ids, item.ID)
	}
	inv.logger.Info("invoice items pushed", map[string]interface{}{"customer_id": customerID, "count": len(ids)})
	return ids, nil
}
