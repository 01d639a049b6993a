package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/msaedi/instructly-sub008/internal/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes jobs to a topic keyed by recipient so one
// recipient's notifications stay ordered.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger:  kafka.LoggerFunc(logger.Errorf),
	}
	return &KafkaPublisher{writer: writer, timeout: 10 * time.Second}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, job Job) error {
	value, err := json.Marshal(job)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   recipientKey(job.RecipientID),
		Value: value,
		Time:  job.Created,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(job.Kind)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher is used when no broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, job Job) error {
	logger.Info("notification",
		"kind", job.Kind,
		"recipient_id", job.RecipientID,
		"data", job.Data,
	)
	return nil
}
