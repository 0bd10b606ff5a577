package billingsvc

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/pricing"
	"github.com/trezcool/roofest/core/project"
	testutil "github.com/trezcool/roofest/tests"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{"140", 14000},
		{"123.45", 12345},
		{"0.005", 1},
		{"-15", -1500},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, minorUnits(decimal.RequireFromString(tc.amount)), tc.amount)
	}
}

func TestStripeInvoicer_Push(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Stripe.SecretKey = "sk_test_123"
	inv := NewStripeInvoicer(conf, &testutil.Logger{})

	var got []*stripe.InvoiceItemParams
	inv.newItem = func(params *stripe.InvoiceItemParams) (*stripe.InvoiceItem, error) {
		got = append(got, params)
		if *params.Description == "fails" {
			return nil, errors.New("card declined")
		}
		return &stripe.InvoiceItem{ID: "ii_" + params.Metadata["project_id"]}, nil
	}

	capturedAt := time.Date(2024, 5, 1, 2, 3, 4, 0, time.UTC)
	lines := []project.InvoiceLine{
		{ProjectID: "p1", Description: "1 George St (Standard)", Qty: 2, PriceEach: decimal.NewFromInt(70), Amount: decimal.NewFromInt(140), Currency: pricing.AUD, CapturedAt: capturedAt},
		{ProjectID: "p2", Description: "Storgata 1 (Complex)", Qty: 1, PriceEach: decimal.NewFromInt(1200), Amount: decimal.NewFromInt(1200), Currency: pricing.NOK, CapturedAt: capturedAt},
	}

	ids, err := inv.Push(context.Background(), "cus_1", lines)
	require.NoError(t, err)
	assert.Equal(t, []string{"ii_p1", "ii_p2"}, ids)
	require.Len(t, got, 2)
	assert.Equal(t, "cus_1", *got[0].Customer)
	assert.Equal(t, int64(14000), *got[0].Amount)
	assert.Equal(t, "aud", *got[0].Currency)
	assert.Equal(t, "nok", *got[1].Currency)
	assert.Equal(t, lines[0].IdempotencyKey(), *got[0].IdempotencyKey)
	assert.Equal(t, "70.00", got[0].Metadata["price_each"])

	t.Run("stops at first failure", func(t *testing.T) {
		got = nil
		failing := append([]project.InvoiceLine{{ProjectID: "p0", Description: "fails", Amount: decimal.NewFromInt(1), Currency: pricing.AUD}}, lines...)
		ids, err := inv.Push(context.Background(), "cus_1", failing)
		assert.Error(t, err)
		assert.Empty(t, ids)
		assert.Len(t, got, 1)
	})

	t.Run("guards", func(t *testing.T) {
		_, err := inv.Push(context.Background(), "", lines)
		assert.Equal(t, ErrNoBillingCustomer, err)

		disabled := NewStripeInvoicer(core.NewTestConfig(), &testutil.Logger{})
		_, err = disabled.Push(context.Background(), "cus_1", lines)
		assert.Equal(t, ErrBillingDisabled, err)
	})
}
