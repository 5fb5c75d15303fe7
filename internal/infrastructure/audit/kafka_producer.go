// Package audit publishes key rotation audit events.
package audit

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/internal/domain/service"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// SignatureHeader is the Kafka header carrying the HMAC of the message value.
const SignatureHeader = "x-audit-signature"

// MessageWriter is the subset of *kafka.Writer used by KafkaProducer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ service.RotationAuditor = (*KafkaProducer)(nil)

// KafkaProducer publishes rotation audit events to a Kafka topic, keyed by key id.
type KafkaProducer struct {
	writer MessageWriter
	secret string
	logger logger.Logger
}

// NewKafkaProducer creates a KafkaProducer writing to cfg.AuditTopic.
func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AuditTopic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
	}
	return NewKafkaProducerWithWriter(writer, cfg.SigningSecret, log)
}

// NewKafkaProducerWithWriter creates a KafkaProducer over an existing writer.
func NewKafkaProducerWithWriter(writer MessageWriter, secret string, log logger.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer: writer,
		secret: secret,
		logger: log.WithComponent("KafkaProducer"),
	}
}

// RecordRotation sends event to the audit topic.
func (p *KafkaProducer) RecordRotation(ctx context.Context, event models.AuditEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error(ctx, "failed to marshal audit event", err)
		return errors.Wrap(err, errors.KindInternal, "failed to marshal audit event")
	}

	msg := kafka.Message{
		Key:   []byte(event.KeyID),
		Value: value,
	}
	if p.secret != "" {
		msg.Headers = []kafka.Header{{Key: SignatureHeader, Value: []byte(Sign(value, p.secret))}}
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error(ctx, "failed to write message to Kafka", err,
			logger.String("event_type", string(event.EventType)),
		)
		return errors.Wrap(err, errors.KindInternal, "failed to publish audit event")
	}
	return nil
}

// Close closes the underlying Kafka writer.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// ================================================================================
// Log auditor
// ================================================================================

// LogAuditor writes audit events to the application log. Used when Kafka is disabled.
type LogAuditor struct {
	logger logger.Logger
}

// NewLogAuditor creates a LogAuditor.
func NewLogAuditor(log logger.Logger) *LogAuditor {
	return &LogAuditor{logger: log.WithComponent("audit")}
}

// RecordRotation logs event.
func (a *LogAuditor) RecordRotation(ctx context.Context, event models.AuditEvent) error {
	a.logger.Info(ctx, "Audit event",
		logger.String("event_type", string(event.EventType)),
		logger.String("key_id", event.KeyID),
		logger.String("previous_key_id", event.PreviousKeyID),
		logger.Bool("success", event.Success),
		logger.String("error", event.Error),
	)
	return nil
}

//Personal.AI order the ending
