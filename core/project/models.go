// Package project manages roofing jobs: their estimate status workflow and the pricing frozen when an estimate is sent.
package project

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
)

type Status string

// Estimate statuses
const (
	StatusRequested      Status = "Estimate Requested"
	StatusAssigned       Status = "Assigned"
	StatusInProgress     Status = "In Progress"
	StatusAwaitingReview Status = "Awaiting Review"
	StatusCompleted      Status = "Estimate Completed"
	StatusSent           Status = "Sent"
	StatusCancelled      Status = "Cancelled"
	StatusHold           Status = "HOLD"
)

var Statuses = []Status{
	StatusRequested,
	StatusAssigned,
	StatusInProgress,
	StatusAwaitingReview,
	StatusCompleted,
	StatusSent,
	StatusCancelled,
	StatusHold,
}

// ParseStatus matches a status name, ignoring case and surrounding whitespace.
func ParseStatus(s string) (Status, error) {
	s = core.CleanString(s)
	for _, st := range Statuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", errors.Wrapf(ErrInvalidStatus, "%q", s)
}

func (s Status) IsValid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// ClientStatus is the client-facing project status; internal-only states carry the "ART: " prefix.
func (s Status) ClientStatus() string {
	switch s {
	case StatusSent, StatusCompleted:
		return string(StatusCompleted)
	case StatusCancelled:
		return string(StatusCancelled)
	default:
		return "ART: " + string(s)
	}
}

// LegacyStatus is the value older consumers read from `status` and `jobBoardStatus`.
func (s Status) LegacyStatus() string {
	if s == StatusSent {
		return string(StatusCompleted)
	}
	return string(s)
}

// PricingSnapshot freezes the price of an estimate at the moment it is sent.
type PricingSnapshot struct {
	PlanType        string           `json:"planType"`
	Qty             int              `json:"qty"`
	PriceEach       decimal.Decimal  `json:"priceEach"`
	TotalPrice      decimal.Decimal  `json:"totalPrice"`
	LoyaltyTier     loyalty.Tier     `json:"loyaltyTier"`
	DiscountPercent int              `json:"discountPercent"`
	Currency        pricing.Currency `json:"currency"`
	CapturedAt      time.Time        `json:"capturedAt"`
}

type Project struct {
	ID              string
	ClientID        string
	Name            string
	Address         string
	PlanType        string
	Qty             int
	EstQty          int
	ManualPrice     decimal.NullDecimal
	EstimateStatus  Status
	PricingSnapshot *PricingSnapshot
	DateCompleted   string // YYYY-MM-DD in the client's time zone
	EstimateSent    []time.Time
	AssignedTo      string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Units is the billable quantity: Qty, falling back to EstQty.
func (p Project) Units() int {
	if p.Qty > 0 {
		return p.Qty
	}
	return p.EstQty
}

// IsLocked reports whether the project's pricing fields are frozen.
func (p Project) IsLocked() bool {
	return p.EstimateStatus == StatusSent
}

// SentAt is when the estimate was first sent under the current snapshot.
func (p Project) SentAt() *time.Time {
	if p.PricingSnapshot == nil {
		return nil
	}
	t := p.PricingSnapshot.CapturedAt
	return &t
}

type projectJSON struct {
	ID              string           `json:"id"`
	ClientID        string           `json:"clientId"`
	Name            string           `json:"name"`
	Address         string           `json:"address"`
	PlanType        string           `json:"PlanType"`
	Qty             int              `json:"Qty"`
	EstQty          int              `json:"EstQty"`
	ManualPrice     *decimal.Decimal `json:"manualPrice"`
	EstimateStatus  Status           `json:"estimateStatus"`
	ProjectStatus   string           `json:"projectStatus"`
	Status          string           `json:"status"`
	JobBoardStatus  string           `json:"jobBoardStatus"`
	PricingSnapshot *PricingSnapshot `json:"pricingSnapshot"`
	DateCompleted   *string          `json:"DateCompleted"`
	EstimateSent    []string         `json:"estimateSent"`
	AssignedTo      string           `json:"assignedTo,omitempty"`
	Version         int              `json:"version"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// MarshalJSON writes the legacy document shape; the client-facing and legacy status fields are derived.
func (p Project) MarshalJSON() ([]byte, error) {
	pj := projectJSON{
		ID:              p.ID,
		ClientID:        p.ClientID,
		Name:            p.Name,
		Address:         p.Address,
		PlanType:        p.PlanType,
		Qty:             p.Qty,
		EstQty:          p.EstQty,
		EstimateStatus:  p.EstimateStatus,
		ProjectStatus:   p.EstimateStatus.ClientStatus(),
		Status:          p.EstimateStatus.LegacyStatus(),
		JobBoardStatus:  p.EstimateStatus.LegacyStatus(),
		PricingSnapshot: p.PricingSnapshot,
		EstimateSent:    make([]string, 0, len(p.EstimateSent)),
		AssignedTo:      p.AssignedTo,
		Version:         p.Version,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.ManualPrice.Valid {
		pj.ManualPrice = &p.ManualPrice.Decimal
	}
	if p.DateCompleted != "" {
		pj.DateCompleted = &p.DateCompleted
	}
	for _, ts := range p.EstimateSent {
		pj.EstimateSent = append(pj.EstimateSent, ts.UTC().Format(time.RFC3339Nano))
	}
	return json.Marshal(pj)
}

// Actor is the authenticated user a request acts for.
type Actor struct {
	UserID   string
	Role     string
	ClientID string // for role User: the client the user belongs to
}

type NewProject struct {
	ClientID    string              `json:"clientId" validate:"omitempty,uuid"`
	Name        string              `json:"name" validate:"required"`
	Address     string              `json:"address"`
	PlanType    string              `json:"PlanType" validate:"required,plantype"`
	Qty         int                 `json:"Qty" validate:"min=0"`
	EstQty      int                 `json:"EstQty" validate:"min=0"`
	ManualPrice decimal.NullDecimal `json:"manualPrice"`
	AssignedTo  string              `json:"assignedTo" validate:"omitempty,uuid"`
}

func (np *NewProject) Validate(validate *validator.Validate) error {
	np.ClientID = core.CleanString(np.ClientID)
	np.Name = core.CleanString(np.Name)
	np.Address = core.CleanString(np.Address)
	np.PlanType = core.CleanString(np.PlanType)
	np.AssignedTo = core.CleanString(np.AssignedTo)
	return validate.Struct(np)
}

type UpdateProject struct {
	Name        *string              `json:"name" validate:"omitempty,min=1"`
	Address     *string              `json:"address"`
	PlanType    *string              `json:"PlanType" validate:"omitempty,plantype"`
	Qty         *int                 `json:"Qty" validate:"omitempty,min=0"`
	EstQty      *int                 `json:"EstQty" validate:"omitempty,min=0"`
	ManualPrice *decimal.NullDecimal `json:"manualPrice"`
	AssignedTo  *string              `json:"assignedTo" validate:"omitempty,uuid"`
	Version     int                  `json:"version" validate:"min=0"` // 0 skips the optimistic check
}

func (up *UpdateProject) Validate(validate *validator.Validate) error {
	for _, s := range []*string{up.Name, up.Address, up.PlanType, up.AssignedTo} {
		if s != nil {
			*s = core.CleanString(*s)
		}
	}
	return validate.Struct(up)
}

type ChangeStatus struct {
	Status  string `json:"status" validate:"required"`
	Version int    `json:"version" validate:"min=0"`
}

func (cs *ChangeStatus) Validate(validate *validator.Validate) error {
	cs.Status = core.CleanString(cs.Status)
	return validate.Struct(cs)
}

type QueryFilter struct {
	ClientID   string
	Status     Status
	AssignedTo string
	Search     string // case-insensitive match on Name or Address
}
