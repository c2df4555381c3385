package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	kafkax "github.com/ariefcatur/go-canteen-orders/internal/kafka"
)

// TopicOrderChanges carries every committed change to orders and their lines.
const TopicOrderChanges = "canteen.order.changes"

const (
	EventOrderChanged = "order.changed"
	EnvelopeVersion   = 1
)

// Envelope wraps an Event on the wire.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// PartitionKey keeps all events of one order on one partition, in order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }

// NewEnvelope wraps ev, stamping the trace of ctx when there is one.
func NewEnvelope(ctx context.Context, producer string, ev Event) Envelope {
	env := Envelope{
		EventID:       ev.ID,
		EventType:     EventOrderChanged,
		EventVersion:  EnvelopeVersion,
		OccurredAt:    ev.OccurredAt,
		Producer:      producer,
		CorrelationID: ev.OrderID,
		Payload:       kafkax.MustMarshal(ev),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env
}

// DecodeEnvelope parses a message value into its envelope and event.
func DecodeEnvelope(b []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType != EventOrderChanged {
		return env, Event{}, nil
	}
	ev, err := kafkax.UnwrapPayload[Event](env.Payload)
	if err != nil {
		return env, Event{}, err
	}
	if ev.ID == "" {
		ev.ID = env.EventID
	}
	return env, ev, nil
}

// Producer is the part of kafka.Producer the feed needs.
type Producer interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

// Kafka publishes events to TopicOrderChanges for the relay to fan out.
type Kafka struct {
	p       Producer
	service string
}

func NewKafka(p Producer, service string) *Kafka {
	return &Kafka{p: p, service: service}
}

func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	env := NewEnvelope(ctx, k.service, ev)
	return k.p.Publish(ctx, PartitionKey(ev.OrderID), kafkax.MustMarshal(env),
		kafkax.TypeHeaders(env.EventType, env.EventVersion)...)
}
