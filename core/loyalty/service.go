package loyalty

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/pricing"
)

var (
	// errors
	ErrNotFound             = core.NewNotFoundError("client not found")
	ErrMonthRecorded        = core.NewConflictError("this month has already been evaluated")
	ErrInsufficientCashback = errors.New("cashback balance cannot go below zero")

	tracer = otel.Tracer("github.com/trezcool/roofest/core/loyalty")
)

type (
	Repository interface {
		CreateClient(ctx context.Context, c Client, exec ...core.DBExecutor) (Client, error)
		// GetClient loads the client with its monthly history.
		GetClient(ctx context.Context, id string, exec ...core.DBExecutor) (Client, error)
		// QueryClients applies AND operation on available QueryFilter fields. History is not loaded.
		QueryClients(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Client, error)
		UpdateClient(ctx context.Context, c Client, exec ...core.DBExecutor) (Client, error)
		// AddMonthlyRecord returns ErrMonthRecorded if the month already has an entry.
		AddMonthlyRecord(ctx context.Context, clientID string, rec MonthlyRecord, exec ...core.DBExecutor) error
	}

	// UnitCounter sums the snapshot quantities of a client's estimates sent within [from, to).
	UnitCounter interface {
		SumSentUnits(ctx context.Context, clientID string, from, to time.Time, exec ...core.DBExecutor) (int, error)
	}

	Service struct {
		db        core.Transactor
		repo      Repository
		units     UnitCounter
		evaluator *Evaluator
		logger    core.Logger
		timeZone  string
	}
)

func NewService(conf *core.Config, db core.Transactor, repo Repository, units UnitCounter, evaluator *Evaluator, logger core.Logger) *Service {
	return &Service{
		db:        db,
		repo:      repo,
		units:     units,
		evaluator: evaluator,
		logger:    logger,
		timeZone:  conf.DefaultTimeZone,
	}
}

func (svc *Service) Tiers() []TierDefinition {
	return svc.evaluator.Tiers().All()
}

func (svc *Service) Create(ctx context.Context, nc NewClient) (Client, error) {
	now := nowFunc().UTC()
	c := Client{
		ID:              core.NewID(),
		Name:            nc.Name,
		Email:           nc.Email,
		Currency:        pricing.Currency(nc.Currency),
		TimeZone:        nc.TimeZone,
		LoyaltyTier:     TierCasual,
		CashbackBalance: decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if c.Currency == "" {
		c.Currency = pricing.BaseCurrency
	}
	if c.TimeZone == "" {
		c.TimeZone = svc.timeZone
	}
	return svc.repo.CreateClient(ctx, c)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Client, error) {
	if !core.IsUUID(id) {
		return Client{}, ErrNotFound
	}
	return svc.repo.GetClient(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Client, error) {
	return svc.repo.QueryClients(ctx, filter, ordering)
}

// update loads the client in a transaction, applies `fn` and saves the result.
func (svc *Service) update(ctx context.Context, id string, fn func(c *Client) error) (Client, error) {
	if !core.IsUUID(id) {
		return Client{}, ErrNotFound
	}
	var updated Client
	err := svc.db.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		c, err := svc.repo.GetClient(ctx, id, exec)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		c.UpdatedAt = nowFunc().UTC()
		updated, err = svc.repo.UpdateClient(ctx, c, exec)
		return err
	})
	return updated, err
}

func (svc *Service) Update(ctx context.Context, id string, uc UpdateClient) (Client, error) {
	return svc.update(ctx, id, func(c *Client) error {
		if uc.Name != nil {
			c.Name = *uc.Name
		}
		if uc.Email != nil {
			c.Email = *uc.Email
		}
		if uc.Currency != nil && *uc.Currency != "" {
			c.Currency = pricing.Currency(*uc.Currency)
		}
		if uc.TimeZone != nil && *uc.TimeZone != "" {
			c.TimeZone = *uc.TimeZone
		}
		if uc.BillingCustomerID != nil {
			c.BillingCustomerID = *uc.BillingCustomerID
		}
		return nil
	})
}

// Evaluation describes the client's standing tier.
func (svc *Service) Evaluation(ctx context.Context, id string) (Evaluation, error) {
	c, err := svc.GetByID(ctx, id)
	if err != nil {
		return Evaluation{}, err
	}
	return svc.evaluator.Current(c), nil
}

// EvaluateClient runs the monthly cycle for the last month closed before `asOf` in the client's time zone.
func (svc *Service) EvaluateClient(ctx context.Context, id string, asOf time.Time) (Evaluation, error) {
	ctx, span := tracer.Start(ctx, "loyalty.EvaluateClient")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", id))

	if !core.IsUUID(id) {
		return Evaluation{}, ErrNotFound
	}

	var ev Evaluation
	err := svc.db.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		c, err := svc.repo.GetClient(ctx, id, exec)
		if err != nil {
			return err
		}

		month, from, to := c.LastClosedMonth(asOf)
		if c.HasMonth(month) {
			return ErrMonthRecorded
		}
		units, err := svc.units.SumSentUnits(ctx, c.ID, from, to, exec)
		if err != nil {
			return errors.Wrap(err, "counting sent units")
		}

		ev = svc.evaluator.Evaluate(c.state(), units)
		ev.ClientID = c.ID
		ev.Month = month

		rec := MonthlyRecord{Month: month, Units: units, Tier: ev.Tier}
		if err := c.RecordMonth(rec); err != nil {
			return err
		}
		if err := svc.repo.AddMonthlyRecord(ctx, c.ID, rec, exec); err != nil {
			return err
		}
		c.apply(ev.State)
		c.UpdatedAt = nowFunc().UTC()
		_, err = svc.repo.UpdateClient(ctx, c, exec)
		return err
	})
	if err != nil {
		return Evaluation{}, err
	}

	span.SetAttributes(attribute.String("loyalty.month", ev.Month), attribute.String("loyalty.tier", string(ev.Tier)))
	svc.logger.Info("client tier evaluated", map[string]interface{}{
		"client_id": ev.ClientID,
		"month":     ev.Month,
		"units":     ev.Units,
		"tier":      ev.Tier,
		"protected": ev.Protected,
	})
	return ev, nil
}

// EvaluateAll evaluates every client; clients already evaluated for the month are skipped.
// Evaluation continues past failures; the returned error lists them.
func (svc *Service) EvaluateAll(ctx context.Context, asOf time.Time) ([]Evaluation, error) {
	clients, err := svc.repo.QueryClients(ctx, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying clients")
	}

	evs := make([]Evaluation, 0, len(clients))
	var errs []error
	for _, c := range clients {
		ev, err := svc.EvaluateClient(ctx, c.ID, asOf)
		switch {
		case err == nil:
			evs = append(evs, ev)
		case errors.Is(err, ErrMonthRecorded):
			continue
		default:
			errs = append(errs, errors.Wrapf(err, "evaluating client %s", c.ID))
		}
	}
	if len(errs) > 0 {
		return evs, stderrors.Join(errs...)
	}
	return evs, nil
}

// SetOverride forces the client's tier until the next evaluation (or until cleared, with the sticky policy).
func (svc *Service) SetOverride(ctx context.Context, id string, tier Tier) (Client, error) {
	if !tier.IsValid() {
		return Client{}, core.NewValidationError(
			errors.Errorf("invalid tier %q", tier),
			core.FieldError{Field: "tier", Error: "tier must be one of Casual, Pro or Elite"},
		)
	}
	return svc.update(ctx, id, func(c *Client) error {
		c.TierOverride = &tier
		c.LoyaltyTier = tier
		c.ProtectedStreak = 0
		return nil
	})
}

// ClearOverride removes the override; the tier itself is recomputed at the next evaluation.
func (svc *Service) ClearOverride(ctx context.Context, id string) (Client, error) {
	return svc.update(ctx, id, func(c *Client) error {
		c.TierOverride = nil
		return nil
	})
}

func (svc *Service) SetProtection(ctx context.Context, id string, sp SetProtection) (Client, error) {
	return svc.update(ctx, id, func(c *Client) error {
		if sp.Points != nil {
			if *sp.Points < 0 {
				return core.NewValidationError(errors.New("invalid points"), core.FieldError{Field: "points", Error: "points must be 0 or greater"})
			}
			c.ProtectionPoints = *sp.Points
		}
		if sp.Months != nil {
			if *sp.Months < 0 || *sp.Months > MaxProtectedMonths {
				return core.NewValidationError(errors.New("invalid months"), core.FieldError{Field: "months", Error: "months must be between 0 and 3"})
			}
			c.ProtectionMonths = *sp.Months
		}
		return nil
	})
}

// AdjustCashback adds `amount` (negative to redeem) to the cashback balance.
func (svc *Service) AdjustCashback(ctx context.Context, id string, amount decimal.Decimal) (Client, error) {
	return svc.update(ctx, id, func(c *Client) error {
		balance := c.CashbackBalance.Add(amount)
		if balance.IsNegative() {
			return core.NewValidationError(ErrInsufficientCashback, core.FieldError{Field: "amount", Error: ErrInsufficientCashback.Error()})
		}
		c.CashbackBalance = balance
		return nil
	})
}
