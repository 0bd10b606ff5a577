package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/roofest/core"
)

var nowFunc = time.Now // mockable

type eventRow struct {
	ID            string `db:"id"`
	AggregateType string `db:"aggregate_type"`
	AggregateID   string `db:"aggregate_id"`
	EventType     string `db:"event_type"`
	Payload       string `db:"payload"`
	CreatedAt     string `db:"created_at"`
}

// OutboxRepository stores domain events until a publisher relays them.
type OutboxRepository struct {
	repo
}

var _ core.EventRecorder = (*OutboxRepository)(nil) // interface compliance check

func NewOutboxRepository(db *sqlx.DB) *OutboxRepository {
	return &OutboxRepository{repo{db: db}}
}

func (r OutboxRepository) AddEvent(ctx context.Context, evt core.Event, exec ...core.DBExecutor) error {
	if evt.ID == "" {
		evt.ID = core.NewID()
	}
	exe := r.getExec(exec)
	q := builder(exe).Insert("outbox_events").
		Columns("id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at").
		Values(evt.ID, evt.AggregateType, evt.AggregateID, evt.EventType, string(evt.Payload), formatTime(nowFunc()))
	if _, err := execute(ctx, exe, q); err != nil {
		return errors.Wrap(err, "inserting outbox event")
	}
	return nil
}

// FetchUnpublished returns up to `limit` unpublished events, oldest first.
func (r OutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]core.Event, error) {
	exe := r.getExec(nil)
	q := builder(exe).
		Select("id", "aggregate_type", "aggregate_id", "event_type", "payload", "created_at").
		From("outbox_events").
		Where(sq.Eq{"published_at": nil}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit))

	var rows []eventRow
	if err := selectAll(ctx, exe, &rows, q); err != nil {
		return nil, errors.Wrap(err, "fetching outbox events")
	}
	events := make([]core.Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, core.Event{
			ID:            row.ID,
			AggregateType: row.AggregateType,
			AggregateID:   row.AggregateID,
			EventType:     row.EventType,
			Payload:       []byte(row.Payload),
		})
	}
	return events, nil
}

func (r OutboxRepository) MarkPublished(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	exe := r.getExec(nil)
	q := builder(exe).Update("outbox_events").
		Set("published_at", formatTime(nowFunc())).
		Where(sq.Eq{"id": ids})
	if _, err := execute(ctx, exe, q); err != nil {
		return errors.Wrap(err, "marking outbox events published")
	}
	return nil
}
