// Package sqlxrepos implements the core repositories with sqlx and squirrel, on postgres or sqlite.
package sqlxrepos

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/roofest/core"
)

const pgUniqueViolation = "23505"

// repo holds what every repository shares: the default executor.
type repo struct {
	db *sqlx.DB
}

func (r repo) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 && svcExec[0] != nil {
		return svcExec[0]
	}
	return r.db
}

// builder returns a statement builder using the placeholders of the executor's driver.
func builder(exec core.DBExecutor) sq.StatementBuilderType {
	if exec.DriverName() == "postgres" {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func get(ctx context.Context, exec core.DBExecutor, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return exec.GetContext(ctx, dest, query, args...)
}

func selectAll(ctx context.Context, exec core.DBExecutor, dest interface{}, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return exec.SelectContext(ctx, dest, query, args...)
}

func execute(ctx context.Context, exec core.DBExecutor, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	return exec.ExecContext(ctx, query, args...)
}

// uniqueViolation reports whether err is a unique constraint error, and whether it names `column`.
func uniqueViolation(err error, column string) (isUnique, onColumn bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code != pgUniqueViolation {
			return false, false
		}
		return true, strings.Contains(pqErr.Constraint, column) || strings.Contains(pqErr.Detail, "("+column+")")
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true, strings.Contains(msg, "."+column)
	}
	return false, false
}

// trapNoRows maps "no rows" to `notFound`.
func trapNoRows(err error, notFound error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// likeAny matches `search` case-insensitively against any of `columns`.
func likeAny(search string, columns ...string) sq.Or {
	val := "%" + strings.ToLower(search) + "%"
	or := make(sq.Or, 0, len(columns))
	for _, col := range columns {
		or = append(or, sq.Expr("LOWER("+col+") LIKE ?", val))
	}
	return or
}

func orderBy(b sq.SelectBuilder, ordering []core.DBOrdering, fallback string) sq.SelectBuilder {
	if len(ordering) == 0 {
		return b.OrderBy(fallback)
	}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	return b.OrderBy(orderList...)
}

func formatTime(t time.Time) string { return core.FormatTime(t) }

func nullTime(t *time.Time) null.String {
	if t == nil || t.IsZero() {
		return null.String{}
	}
	return null.StringFrom(core.FormatTime(*t))
}

func parseTime(s string) time.Time {
	t, _ := core.ParseTime(s)
	return t
}

func parseNullTime(s null.String) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := core.ParseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
