// Package eventsvc relays outbox events to Kafka.
package eventsvc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trezcool/roofest/core"
)

// Outbox is where events wait until published; sqlxrepos.OutboxRepository satisfies it.
type Outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]core.Event, error)
	MarkPublished(ctx context.Context, ids ...string) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher polls the outbox and writes events to Kafka, one topic per event type, keyed by aggregate.
// Delivery is at-least-once: events are marked published only after Kafka acknowledged them.
type Publisher struct {
	outbox    Outbox
	logger    core.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int

	newWriter func(brokers []string) messageWriter // mockable
}

func NewPublisher(conf *core.Config, outbox Outbox, logger core.Logger) *Publisher {
	pollEvery := conf.Kafka.PollEvery
	if pollEvery <= 0 {
		pollEvery = 2 * time.Second
	}
	batchSize := conf.Kafka.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Publisher{
		outbox:    outbox,
		logger:    logger,
		brokers:   conf.Kafka.Brokers,
		pollEvery: pollEvery,
		batchSize: batchSize,
		newWriter: func(brokers []string) messageWriter {
			return &kafka.Writer{
				Addr:                   kafka.TCP(brokers...),
				Balancer:               &kafka.Hash{},
				AllowAutoTopicCreation: true,
			}
		},
	}
}

// Run publishes until ctx is done. It returns immediately when no brokers are configured.
func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := p.newWriter(p.brokers)
	defer func() { _ = writer.Close() }()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", err)
			}
		}
	}
}

var tracer = otel.Tracer("github.com/trezcool/roofest/services/events")

// PublishBatch relays one batch of unpublished events and returns how many were published.
func (p *Publisher) PublishBatch(ctx context.Context, writer messageWriter) (n int, err error) {
	events, err := p.outbox.FetchUnpublished(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ctx, span := tracer.Start(ctx, "outbox.PublishBatch", trace.WithSpanKind(trace.SpanKindProducer))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("messaging.system", "kafka"), attribute.Int("messaging.batch.message_count", len(events)))

	msgs := make([]kafka.Message, 0, len(events))
	ids := make([]string, 0, len(events))
	for _, evt := range events {
		msg := kafka.Message{
			Topic: evt.EventType,
			Key:   []byte(evt.AggregateID),
			Value: evt.Payload,
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(evt.ID)},
				{Key: "event_type", Value: []byte(evt.EventType)},
				{Key: "aggregate_type", Value: []byte(evt.AggregateType)},
			},
		}
		carrier := &headerCarrier{headers: msg.Headers}
		otel.GetTextMapPropagator().Inject(ctx, carrier)
		msg.Headers = carrier.headers

		msgs = append(msgs, msg)
		ids = append(ids, evt.ID)
	}

	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, errors.Wrap(err, "writing kafka messages")
	}
	if err := p.outbox.MarkPublished(ctx, ids...); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// headerCarrier adapts Kafka headers to an otel TextMapCarrier.
type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}
