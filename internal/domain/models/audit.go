package models

import (
	"time"

	"github.com/turtacn/sharedauth/pkg/constants"
)

// AuditEvent describes one key rotation attempt.
type AuditEvent struct {
	EventType     constants.AuditEventType `json:"event_type"`
	KeyID         string                   `json:"key_id,omitempty"`
	PreviousKeyID string                   `json:"previous_key_id,omitempty"`
	Success       bool                     `json:"success"`
	Error         string                   `json:"error,omitempty"`
	Timestamp     time.Time                `json:"timestamp"`
}
