package loyalty

import (
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/pricing"
)

const (
	// MaxProtectedMonths caps how long a downgrade can be postponed, and how many months can be banked.
	MaxProtectedMonths = 3

	monthLayout = "2006-01"
	dateLayout  = "2006-01-02"
)

var nowFunc = time.Now // mockable

type MonthlyRecord struct {
	Month string `json:"month"` // YYYY-MM
	Units int    `json:"units"`
	Tier  Tier   `json:"tier"`
}

type Client struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Email             string           `json:"email"`
	Currency          pricing.Currency `json:"currency"`
	TimeZone          string           `json:"timeZone"`
	LoyaltyTier       Tier             `json:"loyaltyTier"`
	TierOverride      *Tier            `json:"tierOverride"`
	MonthlyHistory    []MonthlyRecord  `json:"monthlyHistory"` // newest first
	ProtectionPoints  int              `json:"protectionPoints"`
	ProtectionMonths  int              `json:"protectionMonths"`
	ProtectedStreak   int              `json:"protectedStreak"`
	CashbackBalance   decimal.Decimal  `json:"cashbackBalance"`
	BillingCustomerID string           `json:"billingCustomerId,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// Location returns the client's time zone, UTC when it cannot be loaded.
func (c Client) Location() *time.Location {
	if c.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LocalDate formats `t` as a calendar date in the client's time zone.
func (c Client) LocalDate(t time.Time) string {
	return t.In(c.Location()).Format(dateLayout)
}

// HasMonth reports whether `month` (YYYY-MM) already has a history entry.
func (c Client) HasMonth(month string) bool {
	for _, rec := range c.MonthlyHistory {
		if rec.Month == month {
			return true
		}
	}
	return false
}

// RecordMonth adds a history entry, keeping the history newest first. History is append-only.
func (c *Client) RecordMonth(rec MonthlyRecord) error {
	if c.HasMonth(rec.Month) {
		return ErrMonthRecorded
	}
	c.MonthlyHistory = append(c.MonthlyHistory, rec)
	sort.SliceStable(c.MonthlyHistory, func(i, j int) bool {
		return c.MonthlyHistory[i].Month > c.MonthlyHistory[j].Month
	})
	return nil
}

func (c Client) state() State {
	return State{
		Tier:             c.LoyaltyTier,
		Override:         c.TierOverride,
		ProtectionPoints: c.ProtectionPoints,
		ProtectionMonths: c.ProtectionMonths,
		ProtectedStreak:  c.ProtectedStreak,
	}
}

func (c *Client) apply(st State) {
	c.LoyaltyTier = st.Tier
	c.TierOverride = st.Override
	c.ProtectionPoints = st.ProtectionPoints
	c.ProtectionMonths = st.ProtectionMonths
	c.ProtectedStreak = st.ProtectedStreak
}

// LastClosedMonth returns the calendar month before `asOf` in the client's time zone,
// as its YYYY-MM label and its [from, to) bounds in UTC.
func (c Client) LastClosedMonth(asOf time.Time) (month string, from, to time.Time) {
	local := asOf.In(c.Location())
	thisMonth := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, local.Location())
	prevMonth := thisMonth.AddDate(0, -1, 0)
	return prevMonth.Format(monthLayout), prevMonth.UTC(), thisMonth.UTC()
}

type NewClient struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Currency string `json:"currency" validate:"omitempty,currency"`
	TimeZone string `json:"timeZone" validate:"omitempty,timezone"`
}

func (nc *NewClient) Validate(validate *validator.Validate) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Email = core.CleanString(nc.Email, true /* lower */)
	nc.Currency = core.CleanString(nc.Currency)
	nc.TimeZone = core.CleanString(nc.TimeZone)
	return validate.Struct(nc)
}

type UpdateClient struct {
	Name              *string `json:"name" validate:"omitempty,min=1"`
	Email             *string `json:"email" validate:"omitempty,email"`
	Currency          *string `json:"currency" validate:"omitempty,currency"`
	TimeZone          *string `json:"timeZone" validate:"omitempty,timezone"`
	BillingCustomerID *string `json:"billingCustomerId"`
}

func (uc *UpdateClient) Validate(validate *validator.Validate) error {
	for _, s := range []*string{uc.Name, uc.Currency, uc.TimeZone, uc.BillingCustomerID} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	if uc.Email != nil {
		*uc.Email = core.CleanString(*uc.Email, true /* lower */)
	}
	return validate.Struct(uc)
}

// SetProtection replaces the protection buffers; nil fields are left unchanged.
type SetProtection struct {
	Points *int `json:"points" validate:"omitempty,min=0"`
	Months *int `json:"months" validate:"omitempty,min=0,max=3"`
}

func (sp SetProtection) Validate(validate *validator.Validate) error {
	return validate.Struct(sp)
}

type AdjustCashback struct {
	Amount decimal.Decimal `json:"amount"`
}

type SetOverride struct {
	Tier string `json:"tier" validate:"required,oneof=Casual Pro Elite"`
}

func (so *SetOverride) Validate(validate *validator.Validate) error {
	so.Tier = core.CleanString(so.Tier)
	return validate.Struct(so)
}

type QueryFilter struct {
	Search string // case-insensitive match on Name or Email
	Tier   Tier
}
