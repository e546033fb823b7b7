package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BradenHooton/fleetgate/internal/models"
	"github.com/segmentio/kafka-go"
)

// ReviewPublisher hands flagged attempts to the moderation workflow.
type ReviewPublisher interface {
	PublishFlagged(ctx context.Context, attempt models.RegistrationAttempt) error
	Close() error
}

// MessageWriter is the subset of kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ReviewMessage is the payload published for a flagged attempt.
type ReviewMessage struct {
	AttemptID       string    `json:"attempt_id"`
	SourceKey       string    `json:"source_key"`
	DeviceName      string    `json:"device_name"`
	FingerprintHash string    `json:"fingerprint_hash,omitempty"`
	RiskScore       float64   `json:"risk_score"`
	RiskLevel       string    `json:"risk_level"`
	Degraded        bool      `json:"degraded"`
	Markers         []string  `json:"markers"`
	Outcome         string    `json:"outcome"`
	Timestamp       time.Time `json:"timestamp"`
}

// KafkaReviewPublisher publishes flagged attempts to a Kafka topic keyed by source key.
type KafkaReviewPublisher struct {
	writer MessageWriter
	topic  string
}

// NewKafkaReviewPublisher creates a publisher writing to topic on brokers.
func NewKafkaReviewPublisher(brokers []string, topic string) (*KafkaReviewPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka review publisher requires at least one broker")
	}
	return NewReviewPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}, topic), nil
}

// NewReviewPublisherWithWriter creates a publisher around an existing writer.
func NewReviewPublisherWithWriter(writer MessageWriter, topic string) *KafkaReviewPublisher {
	return &KafkaReviewPublisher{writer: writer, topic: topic}
}

// PublishFlagged implements ReviewPublisher.
func (p *KafkaReviewPublisher) PublishFlagged(ctx context.Context, attempt models.RegistrationAttempt) error {
	msg := ReviewMessage{
		AttemptID:  attempt.ID,
		SourceKey:  attempt.SourceKey,
		DeviceName: attempt.DeviceName,
		RiskScore:  attempt.RiskScore,
		RiskLevel:  string(attempt.RiskLevel),
		Degraded:   attempt.Degraded,
		Markers:    []string{models.MarkerFlaggedForReview},
		Outcome:    string(attempt.Outcome),
		Timestamp:  attempt.Timestamp.UTC(),
	}
	if attempt.Fingerprint != nil {
		msg.FingerprintHash = attempt.Fingerprint.Hash()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode review message: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(attempt.SourceKey),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

// Close flushes and closes the writer.
func (p *KafkaReviewPublisher) Close() error {
	return p.writer.Close()
}
