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

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ParseBrokers splits a comma-separated broker string
func ParseBrokers(brokers string) []string {
	var out []string
	for _, broker := range strings.Split(brokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			out = append(out, broker)
		}
	}
	return out
}

// messageWriter is the part of kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic, keyed by movement id so a
// movement's events stay in order on one partition.
type KafkaPublisher struct {
	writer messageWriter
	logger ectologger.Logger
	topic  string
}

// NewKafkaPublisher creates a new Kafka producer
func NewKafkaPublisher(cfg KafkaConfig, logger ectologger.Logger) *KafkaPublisher {
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

	return newKafkaPublisher(writer, cfg.Topic, logger)
}

func newKafkaPublisher(writer messageWriter, topic string, logger ectologger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

// Close closes the producer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Publish writes evt with trace context headers
func (p *KafkaPublisher) Publish(ctx context.Context, evt *Event) error {
	if evt == nil {
		return fmt.Errorf("event is nil")
	}

	ctx, span := tracing.StartSpan(ctx, "Kafka.Publish")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", p.topic),
		attribute.String("messaging.operation", "publish"),
		attribute.String("movement_id", evt.MovementID.String()),
		attribute.String("event_type", evt.Type),
	)

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.TraceID = tracing.GetTraceID(ctx)

	data, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal event")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "type", Value: []byte(evt.Type)},
		{Key: "movement_id", Value: []byte(evt.MovementID.String())},
		{Key: "actor", Value: []byte(evt.Actor)},
	}
	if traceparent := tracing.GetTraceParent(ctx); traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(traceparent)})
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(evt.MovementID.String()),
		Value:   data,
		Headers: headers,
	})
	metrics.RecordEvent(evt.Type, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish event")
		p.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish event to Kafka topic %s", p.topic)
		return err
	}

	span.SetStatus(codes.Ok, "event published")
	p.logger.WithContext(ctx).Debugf("Published %s for movement %s (version %d)", evt.Type, evt.MovementID, evt.Version)
	return nil
}
