package audit

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/sharedauth/internal/domain/models"
	"github.com/turtacn/sharedauth/pkg/constants"
	"github.com/turtacn/sharedauth/pkg/logger"
)

// MockKafkaWriter is a mock of the Kafka writer
type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func testEvent() models.AuditEvent {
	return models.AuditEvent{
		EventType:     constants.AuditEventKeyRotated,
		KeyID:         "5b0e7c1a-8d7e-4d4b-9f7e-2f1c3e1a9b10",
		PreviousKeyID: "0d6b4a43-2a0a-4a57-8d52-3b1f6f2b5c11",
		Success:       true,
		Timestamp:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaProducer_RecordRotation(t *testing.T) {
	mockWriter := new(MockKafkaWriter)
	producer := NewKafkaProducerWithWriter(mockWriter, "", logger.NewNoopLogger())

	event := testEvent()
	eventBytes, err := json.Marshal(event)
	require.NoError(t, err)

	mockWriter.On("WriteMessages", mock.Anything, []kafka.Message{{
		Key:   []byte(event.KeyID),
		Value: eventBytes,
	}}).Return(nil)

	assert.NoError(t, producer.RecordRotation(context.Background(), event))
	mockWriter.AssertExpectations(t)
}

func TestKafkaProducer_SignsMessages(t *testing.T) {
	mockWriter := new(MockKafkaWriter)
	producer := NewKafkaProducerWithWriter(mockWriter, "audit-secret", logger.NewNoopLogger())

	mockWriter.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 || len(msgs[0].Headers) != 1 {
			return false
		}
		h := msgs[0].Headers[0]
		return h.Key == SignatureHeader && VerifySignature(msgs[0].Value, string(h.Value), "audit-secret")
	})).Return(nil)

	assert.NoError(t, producer.RecordRotation(context.Background(), testEvent()))
	mockWriter.AssertExpectations(t)
}

func TestKafkaProducer_WriteFailure(t *testing.T) {
	mockWriter := new(MockKafkaWriter)
	producer := NewKafkaProducerWithWriter(mockWriter, "", logger.NewNoopLogger())

	mockWriter.On("WriteMessages", mock.Anything, mock.Anything).Return(stderrors.New("broker unavailable"))

	err := producer.RecordRotation(context.Background(), testEvent())
	assert.ErrorContains(t, err, "broker unavailable")
}

func TestKafkaProducer_Close(t *testing.T) {
	mockWriter := new(MockKafkaWriter)
	mockWriter.On("Close").Return(nil)

	assert.NoError(t, NewKafkaProducerWithWriter(mockWriter, "", logger.NewNoopLogger()).Close())
	mockWriter.AssertExpectations(t)
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event_type":"key.rotated"}`)
	sig := Sign(payload, "k")

	assert.True(t, VerifySignature(payload, sig, "k"))
	assert.False(t, VerifySignature(payload, sig, "other"))
	assert.False(t, VerifySignature([]byte(`{}`), sig, "k"))
	assert.False(t, VerifySignature(payload, "%%%", "k"))
}

func TestLogAuditor_NeverFails(t *testing.T) {
	assert.NoError(t, NewLogAuditor(logger.NewNoopLogger()).RecordRotation(context.Background(), testEvent()))
}
