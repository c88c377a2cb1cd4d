// Package events publishes import lifecycle events to Kafka so downstream publishers can pick
// up changed occurrences.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Ramsey-B/lichen/pkg/metrics"
	"github.com/Ramsey-B/lichen/pkg/tracing"
)

const (
	TypeOccurrenceImported = "occurrence.imported"
	TypeOccurrenceDeleted  = "occurrence.deleted"
)

// Config holds Kafka configuration
type Config struct {
	Brokers []string
	Topic   string
}

// ParseConfig parses a comma-separated broker string
func ParseConfig(brokers string, topic string) Config {
	var brokerList []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokerList = append(brokerList, broker)
		}
	}

	return Config{
		Brokers: brokerList,
		Topic:   topic,
	}
}

// Enabled reports whether brokers and a topic are configured
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0 && c.Topic != ""
}

// ImportEvent describes one occurrence that was written or removed
type ImportEvent struct {
	Type           string    `json:"type"`
	GlobalObjectID string    `json:"global_object_id"`
	ObjectType     string    `json:"object_type,omitempty"`
	OccurrenceID   string    `json:"occurrence_id,omitempty"`
	Outcome        string    `json:"outcome,omitempty"`
	Actor          string    `json:"actor,omitempty"`
	JobID          string    `json:"job_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`

	TraceID string `json:"trace_id,omitempty"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer handles producing import events to Kafka
type Producer struct {
	writer messageWriter
	logger ectologger.Logger
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg Config, logger ectologger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Publish writes one event, keyed by global object id so events for a record stay ordered.
func (p *Producer) Publish(ctx context.Context, evt *ImportEvent) error {
	if evt == nil {
		return fmt.Errorf("import event is nil")
	}

	ctx, span := tracing.StartSpan(ctx, "Kafka.Publish",
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("global_object_id", evt.GlobalObjectID),
	)
	defer span.End()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal import event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(evt.Type)},
		{Key: "object_type", Value: []byte(evt.ObjectType)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}
	if tracestate := tracing.GetTraceState(ctx); tracestate != "" {
		headers = append(headers, kafka.Header{Key: "tracestate", Value: []byte(tracestate)})
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(evt.GlobalObjectID),
		Value:   data,
		Headers: headers,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "error").Inc()
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish import event to Kafka topic %s", p.topic)
		return err
	}

	metrics.KafkaMessagesPublished.WithLabelValues(p.topic, "success").Inc()
	span.SetStatus(codes.Ok, "event published")
	p.logger.WithContext(ctx).Debugf("Published %s for %s", evt.Type, evt.GlobalObjectID)
	return nil
}
