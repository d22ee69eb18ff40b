package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Event types carried in the event_type header.
const (
	EventObservation  = "observation"
	EventNotification = "notification"
)

// messageWriter is the subset of *kafkago.Writer used by Publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces observations and sent notifications to a Kafka topic
// so downstream consumers can follow the monitor without reading SQLite.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, logger: logger}
}

// PublishObservations publishes a cycle's observations in a single
// WriteMessages call.
func (p *Publisher) PublishObservations(ctx context.Context, observations []domain.Observation) error {
	if len(observations) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(observations))
	for i := range observations {
		msg, err := observationMessage(observations[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish observations: %w", err)
	}
	p.logger.Debug("observations published", "count", len(msgs))
	return nil
}

// PublishNotification publishes one sent notification.
func (p *Publisher) PublishNotification(ctx context.Context, rec domain.NotificationRecord) error {
	msg, err := notificationMessage(rec)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func observationMessage(obs domain.Observation) (kafkago.Message, error) {
	data, err := json.Marshal(obs)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(obs.PointName),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(EventObservation)},
			{Key: "recorded_at", Value: []byte(obs.RecordedAt.Format(time.RFC3339))},
		},
	}, nil
}

func notificationMessage(rec domain.NotificationRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(rec.PointName),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(EventNotification)},
			{Key: "notification_type", Value: []byte(rec.Kind)},
			{Key: "recorded_at", Value: []byte(rec.SentAt.Format(time.RFC3339))},
		},
	}, nil
}
