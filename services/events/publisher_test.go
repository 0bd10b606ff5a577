package eventsvc

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/roofest/core"
	testutil "github.com/trezcool/roofest/tests"
)

type fakeOutbox struct {
	events    []core.Event
	published []string
}

func (o *fakeOutbox) FetchUnpublished(_ context.Context, limit int) ([]core.Event, error) {
	var out []core.Event
	for _, e := range o.events {
		if len(out) == limit {
			break
		}
		if !o.isPublished(e.ID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (o *fakeOutbox) isPublished(id string) bool {
	for _, p := range o.published {
		if p == id {
			return true
		}
	}
	return false
}

func (o *fakeOutbox) MarkPublished(_ context.Context, ids ...string) error {
	o.published = append(o.published, ids...)
	return nil
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func newTestPublisher(outbox Outbox) *Publisher {
	conf := core.NewTestConfig()
	conf.Kafka.BatchSize = 2
	return NewPublisher(conf, outbox, &testutil.Logger{})
}

func TestPublisher_PublishBatch(t *testing.T) {
	ctx := context.Background()
	outbox := &fakeOutbox{events: []core.Event{
		{ID: "1", AggregateType: "project", AggregateID: "p1", EventType: "project.status_changed", Payload: []byte(`{"a":1}`)},
		{ID: "2", AggregateType: "project", AggregateID: "p1", EventType: "project.estimate_sent", Payload: []byte(`{"a":2}`)},
		{ID: "3", AggregateType: "project", AggregateID: "p2", EventType: "project.status_changed", Payload: []byte(`{"a":3}`)},
	}}
	pub := newTestPublisher(outbox)
	writer := &fakeWriter{}

	n, err := pub.PublishBatch(ctx, writer)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, writer.msgs, 2)
	assert.Equal(t, "project.estimate_sent", writer.msgs[1].Topic)
	assert.Equal(t, []byte("p1"), writer.msgs[1].Key)
	assert.Equal(t, kafka.Header{Key: "event_id", Value: []byte("2")}, writer.msgs[1].Headers[0])

	n, err = pub.PublishBatch(ctx, writer)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = pub.PublishBatch(ctx, writer)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []string{"1", "2", "3"}, outbox.published)
}

func TestPublisher_WriteFailureKeepsEvents(t *testing.T) {
	outbox := &fakeOutbox{events: []core.Event{{ID: "1", EventType: "project.status_changed"}}}
	pub := newTestPublisher(outbox)

	_, err := pub.PublishBatch(context.Background(), &fakeWriter{err: errors.New("broker down")})
	assert.Error(t, err)
	assert.Empty(t, outbox.published)
}

func TestPublisher_RunWithoutBrokers(t *testing.T) {
	logger := &testutil.Logger{}
	conf := core.NewTestConfig()
	pub := NewPublisher(conf, &fakeOutbox{}, logger)

	pub.Run(context.Background()) // returns at once
	assert.Equal(t, []string{"outbox publisher disabled (no kafka brokers configured)"}, logger.Messages("warn"))
}
