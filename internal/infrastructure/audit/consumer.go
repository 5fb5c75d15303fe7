package audit

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/sharedauth/internal/config"
	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/pkg/errors"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// MessageReader is the subset of *kafka.Reader used by Consumer.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Record is one audit event read back from the topic.
type Record struct {
	Event     models.AuditEvent `json:"event" yaml:"event"`
	Partition int               `json:"partition" yaml:"partition"`
	Offset    int64             `json:"offset" yaml:"offset"`
	// Signed reports whether the message carried a signature header
	Signed bool `json:"signed" yaml:"signed"`
	// Verified is set when the signature matches the configured secret
	Verified bool `json:"verified" yaml:"verified"`
}

// Consumer reads rotation audit events from the audit topic and checks their signatures.
type Consumer struct {
	reader MessageReader
	secret string
	logger logger.Logger
}

// NewConsumer creates a Consumer over cfg.AuditTopic. Every consumer group starts at the oldest
// retained message, so a fresh groupID replays the whole topic.
func NewConsumer(cfg config.KafkaConfig, groupID string, log logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.AuditTopic,
		GroupID:     groupID,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
	})
	return NewConsumerWithReader(reader, cfg.SigningSecret, log)
}

// NewConsumerWithReader creates a Consumer over an existing reader.
func NewConsumerWithReader(reader MessageReader, secret string, log logger.Logger) *Consumer {
	return &Consumer{
		reader: reader,
		secret: secret,
		logger: log.WithComponent("AuditConsumer"),
	}
}

// Consume hands every decoded record to handle until ctx ends, the reader is exhausted, or
// handle fails. Undecodable messages are logged and skipped. Ending through ctx is not an error.
//
// Parameters:
//   - ctx: bounds the consumption
//   - handle: called once per record, in topic order within a partition
//
// Returns:
//   - error: a reader failure or the error returned by handle
func (c *Consumer) Consume(ctx context.Context, handle func(Record) error) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, errors.KindInternal, "failed to fetch audit message")
		}

		record, err := c.decode(msg)
		if err != nil {
			c.logger.Error(ctx, "failed to decode audit message, skipping", err,
				logger.Int("partition", msg.Partition),
				logger.Int64("offset", msg.Offset),
			)
			continue
		}
		if c.secret != "" && !record.Verified {
			c.logger.Warn(ctx, "audit message failed signature check",
				logger.String("key_id", record.Event.KeyID),
				logger.Bool("signed", record.Signed),
				logger.Int64("offset", msg.Offset),
			)
		}
		if err := handle(record); err != nil {
			return err
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) decode(msg kafka.Message) (Record, error) {
	record := Record{Partition: msg.Partition, Offset: msg.Offset}
	if err := json.Unmarshal(msg.Value, &record.Event); err != nil {
		return record, errors.Wrap(err, errors.KindInternal, "invalid audit event")
	}
	for _, h := range msg.Headers {
		if h.Key != SignatureHeader {
			continue
		}
		record.Signed = true
		if c.secret != "" {
			record.Verified = VerifySignature(msg.Value, string(h.Value), c.secret)
		}
	}
	return record, nil
}
