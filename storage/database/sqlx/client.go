package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/roofest/core"
	"github.com/trezcool/roofest/core/loyalty"
	"github.com/trezcool/roofest/core/pricing"
)

var clientColumns = []string{
	"id", "name", "email", "currency", "time_zone", "loyalty_tier", "tier_override",
	"protection_points", "protection_months", "protected_streak", "cashback_balance",
	"billing_customer_id", "created_at", "updated_at",
}

type clientRow struct {
	ID                string          `db:"id"`
	Name              string          `db:"name"`
	Email             string          `db:"email"`
	Currency          string          `db:"currency"`
	TimeZone          string          `db:"time_zone"`
	LoyaltyTier       string          `db:"loyalty_tier"`
	TierOverride      null.String     `db:"tier_override"`
	ProtectionPoints  int             `db:"protection_points"`
	ProtectionMonths  int             `db:"protection_months"`
	ProtectedStreak   int             `db:"protected_streak"`
	CashbackBalance   decimal.Decimal `db:"cashback_balance"`
	BillingCustomerID null.String     `db:"billing_customer_id"`
	CreatedAt         string          `db:"created_at"`
	UpdatedAt         string          `db:"updated_at"`
}

type historyRow struct {
	Month string `db:"month"`
	Units int    `db:"units"`
	Tier  string `db:"tier"`
}

func toClientRow(c loyalty.Client) clientRow {
	row := clientRow{
		ID:                c.ID,
		Name:              c.Name,
		Email:             c.Email,
		Currency:          string(c.Currency),
		TimeZone:          c.TimeZone,
		LoyaltyTier:       string(c.LoyaltyTier),
		ProtectionPoints:  c.ProtectionPoints,
		ProtectionMonths:  c.ProtectionMonths,
		ProtectedStreak:   c.ProtectedStreak,
		CashbackBalance:   c.CashbackBalance,
		BillingCustomerID: null.NewString(c.BillingCustomerID, c.BillingCustomerID != ""),
		CreatedAt:         formatTime(c.CreatedAt),
		UpdatedAt:         formatTime(c.UpdatedAt),
	}
	if c.TierOverride != nil {
		row.TierOverride = null.StringFrom(string(*c.TierOverride))
	}
	return row
}

func (row clientRow) client() loyalty.Client {
	c := loyalty.Client{
		ID:                row.ID,
		Name:              row.Name,
		Email:             row.Email,
		Currency:          pricing.Currency(row.Currency),
		TimeZone:          row.TimeZone,
		LoyaltyTier:       loyalty.Tier(row.LoyaltyTier),
		MonthlyHistory:    []loyalty.MonthlyRecord{},
		ProtectionPoints:  row.ProtectionPoints,
		ProtectionMonths:  row.ProtectionMonths,
		ProtectedStreak:   row.ProtectedStreak,
		CashbackBalance:   row.CashbackBalance,
		BillingCustomerID: row.BillingCustomerID.String,
		CreatedAt:         parseTime(row.CreatedAt),
		UpdatedAt:         parseTime(row.UpdatedAt),
	}
	if row.TierOverride.Valid {
		t := loyalty.Tier(row.TierOverride.String)
		c.TierOverride = &t
	}
	return c
}

type clientRepository struct {
	repo
}

var (
	_ loyalty.Repository  = (*clientRepository)(nil) // interface compliance check
	_ loyalty.UnitCounter = (*projectRepository)(nil)
)

func NewClientRepository(db *sqlx.DB) *clientRepository {
	return &clientRepository{repo{db: db}}
}

func (r clientRepository) CreateClient(ctx context.Context, c loyalty.Client, exec ...core.DBExecutor) (loyalty.Client, error) {
	if c.ID == "" {
		c.ID = core.NewID()
	}
	row := toClientRow(c)
	exe := r.getExec(exec)
	q := builder(exe).Insert("clients").Columns(clientColumns...).Values(
		row.ID, row.Name, row.Email, row.Currency, row.TimeZone, row.LoyaltyTier, row.TierOverride,
		row.ProtectionPoints, row.ProtectionMonths, row.ProtectedStreak, row.CashbackBalance,
		row.BillingCustomerID, row.CreatedAt, row.UpdatedAt,
	)
	if _, err := execute(ctx, exe, q); err != nil {
		return loyalty.Client{}, errors.Wrap(err, "inserting client")
	}
	for _, rec := range c.MonthlyHistory {
		if err := r.AddMonthlyRecord(ctx, c.ID, rec, exe); err != nil {
			return loyalty.Client{}, err
		}
	}
	created := row.client()
	created.MonthlyHistory = append(created.MonthlyHistory, c.MonthlyHistory...)
	return created, nil
}

func (r clientRepository) GetClient(ctx context.Context, id string, exec ...core.DBExecutor) (loyalty.Client, error) {
	if !core.IsUUID(id) {
		return loyalty.Client{}, loyalty.ErrNotFound
	}
	exe := r.getExec(exec)

	var row clientRow
	q := builder(exe).Select(clientColumns...).From("clients").Where(sq.Eq{"id": id})
	if err := get(ctx, exe, &row, q); err != nil {
		return loyalty.Client{}, trapNoRows(err, loyalty.ErrNotFound, "finding client")
	}

	var history []historyRow
	hq := builder(exe).Select("month", "units", "tier").From("client_monthly_history").
		Where(sq.Eq{"client_id": id}).OrderBy("month DESC")
	if err := selectAll(ctx, exe, &history, hq); err != nil {
		return loyalty.Client{}, errors.Wrap(err, "loading client history")
	}

	c := row.client()
	for _, h := range history {
		c.MonthlyHistory = append(c.MonthlyHistory, loyalty.MonthlyRecord{Month: h.Month, Units: h.Units, Tier: loyalty.Tier(h.Tier)})
	}
	return c, nil
}

func (r clientRepository) QueryClients(ctx context.Context, filter *loyalty.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]loyalty.Client, error) {
	exe := r.getExec(exec)
	q := builder(exe).Select(clientColumns...).From("clients")
	if filter != nil {
		if filter.Search != "" {
			q = q.Where(likeAny(filter.Search, "name", "email"))
		}
		if filter.Tier != "" {
			q = q.Where(sq.Eq{"loyalty_tier": string(filter.Tier)})
		}
	}
	q = orderBy(q, ordering, "name ASC")

	var rows []clientRow
	if err := selectAll(ctx, exe, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying clients")
	}
	clients := make([]loyalty.Client, 0, len(rows))
	for _, row := range rows {
		clients = append(clients, row.client())
	}
	return clients, nil
}

// UpdateClient writes the client's own columns; history is only ever appended with AddMonthlyRecord.
func (r clientRepository) UpdateClient(ctx context.Context, c loyalty.Client, exec ...core.DBExecutor) (loyalty.Client, error) {
	row := toClientRow(c)
	exe := r.getExec(exec)
	q := builder(exe).Update("clients").SetMap(map[string]interface{}{
		"name":                row.Name,
		"email":               row.Email,
		"currency":            row.Currency,
		"time_zone":           row.TimeZone,
		"loyalty_tier":        row.LoyaltyTier,
		"tier_override":       row.TierOverride,
		"protection_points":   row.ProtectionPoints,
		"protection_months":   row.ProtectionMonths,
		"protected_streak":    row.ProtectedStreak,
		"cashback_balance":    row.CashbackBalance,
		"billing_customer_id": row.BillingCustomerID,
		"updated_at":          row.UpdatedAt,
	}).Where(sq.Eq{"id": row.ID})

	res, err := execute(ctx, exe, q)
	if err != nil {
		return loyalty.Client{}, errors.Wrap(err, "updating client")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return loyalty.Client{}, loyalty.ErrNotFound
	}
	return c, nil
}

func (r clientRepository) AddMonthlyRecord(ctx context.Context, clientID string, rec loyalty.MonthlyRecord, exec ...core.DBExecutor) error {
	exe := r.getExec(exec)
	q := builder(exe).Insert("client_monthly_history").
		Columns("client_id", "month", "units", "tier").
		Values(clientID, rec.Month, rec.Units, string(rec.Tier))
	if _, err := execute(ctx, exe, q); err != nil {
		if isUnique, _ := uniqueViolation(err, "month"); isUnique {
			return loyalty.ErrMonthRecorded
		}
		return errors.Wrap(err, "recording monthly history")
	}
	return nil
}
