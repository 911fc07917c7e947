package models

import (
	"time"
)

// EventType enumerates every event that can cross the notification wire.
// The set is closed: subscribers may switch exhaustively over these values.
type EventType string

const (
	EventTaskStarted           EventType = "task_started"
	EventTaskCompleted         EventType = "task_completed"
	EventTaskFailed            EventType = "task_failed"
	EventTaskRetrying          EventType = "task_retrying"
	EventInvestigationProgress EventType = "investigation_progress"
	EventCircuitBreakerOpened  EventType = "circuit_breaker_opened"
	EventCircuitBreakerClosed  EventType = "circuit_breaker_closed"
	EventSystemAlert           EventType = "system_alert"
)

// NotificationEvent is the wire-level unit pushed through the event hub.
// Events are immutable once created; SequenceNumber is assigned atomically by
// the hub at publish time, never by producers, so ordering per investigation
// is total regardless of producer interleaving.
type NotificationEvent struct {
	Type            EventType   `json:"type"`
	InvestigationID string      `json:"investigation_id"`
	SourceID        string      `json:"source_id,omitempty"`
	Payload         interface{} `json:"payload"`
	Timestamp       time.Time   `json:"timestamp"`
	SequenceNumber  uint64      `json:"sequence_number"`
}

// TaskStartedPayload accompanies task_started events
type TaskStartedPayload struct {
	TaskID       string `json:"task_id"`
	AttemptCount int    `json:"attempt_count"`
}

// TaskCompletedPayload accompanies task_completed events
type TaskCompletedPayload struct {
	TaskID string `json:"task_id"`
	Result []byte `json:"result,omitempty"`
}

// TaskFailedPayload accompanies task_failed events
type TaskFailedPayload struct {
	TaskID       string        `json:"task_id"`
	Error        string        `json:"error,omitempty"`
	Reason       FailureReason `json:"reason"`
	AttemptCount int           `json:"attempt_count"`
}

// TaskRetryingPayload accompanies task_retrying events
type TaskRetryingPayload struct {
	TaskID       string `json:"task_id"`
	Error        string `json:"error,omitempty"`
	AttemptCount int    `json:"attempt_count"`
	MaxAttempts  int    `json:"max_attempts"`
	NextRetryMs  int64  `json:"next_retry_ms"`
}

// CircuitBreakerPayload accompanies circuit_breaker_opened and
// circuit_breaker_closed events
type CircuitBreakerPayload struct {
	SourceID string `json:"source_id"`
	State    string `json:"state"`
	Failures uint32 `json:"failures,omitempty"`
}

// SystemAlertPayload accompanies system_alert events
type SystemAlertPayload struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// NewEvent creates an unsequenced notification event. Investigation-level
// events pass an empty sourceID.
func NewEvent(eventType EventType, investigationID, sourceID string, payload interface{}) NotificationEvent {
	return NotificationEvent{
		Type:            eventType,
		InvestigationID: investigationID,
		SourceID:        sourceID,
		Payload:         payload,
		Timestamp:       time.Now(),
	}
}
