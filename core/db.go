package core

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type (
	// DBExecutor is satisfied by both *sqlx.DB and *sqlx.Tx.
	DBExecutor interface {
		sqlx.ExtContext
		GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
		SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	}

	// Transactor runs fn inside a single database transaction:
	// committed when fn returns nil, rolled back on error or panic.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(ctx context.Context, exec DBExecutor) error) error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// Event is a domain event recorded in the outbox within the transaction that produced it.
type Event struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// EventRecorder stores events alongside the state change that produced them.
type EventRecorder interface {
	AddEvent(ctx context.Context, evt Event, exec ...DBExecutor) error
}
