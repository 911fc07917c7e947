package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current state of a collection task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusRetrying  TaskStatus = "RETRYING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// IsTerminal reports whether no further transition can occur from this status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// FailureReason distinguishes why a task ended up FAILED
type FailureReason string

const (
	FailureReasonError             FailureReason = "error"
	FailureReasonCancelled         FailureReason = "cancelled"
	FailureReasonSourceUnavailable FailureReason = "source_unavailable"
)

// Task is the unit of work pairing one investigation with one external source.
// A Task is owned exclusively by its supervisor; every other component only
// ever sees immutable TaskSnapshot values.
type Task struct {
	ID              string
	InvestigationID string
	SourceID        string
	Status          TaskStatus
	AttemptCount    int
	MaxAttempts     int
	LastError       string
	FailureReason   FailureReason
	Result          []byte
	StartedAt       time.Time
	FinishedAt      *time.Time
}

// NewTask creates a new pending task for (investigation, source)
func NewTask(investigationID, sourceID string, maxAttempts int) *Task {
	return &Task{
		ID:              uuid.New().String(),
		InvestigationID: investigationID,
		SourceID:        sourceID,
		Status:          TaskStatusPending,
		MaxAttempts:     maxAttempts,
		StartedAt:       time.Now(),
	}
}

// TaskSnapshot is an immutable copy of a task's state, safe to hand to
// concurrent readers.
type TaskSnapshot struct {
	ID              string        `json:"id"`
	InvestigationID string        `json:"investigation_id"`
	SourceID        string        `json:"source_id"`
	Status          TaskStatus    `json:"status"`
	AttemptCount    int           `json:"attempt_count"`
	MaxAttempts     int           `json:"max_attempts"`
	LastError       string        `json:"last_error,omitempty"`
	FailureReason   FailureReason `json:"failure_reason,omitempty"`
	Result          []byte        `json:"result,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      *time.Time    `json:"finished_at,omitempty"`
}

// Snapshot returns a deep copy of the task's current state.
func (t *Task) Snapshot() TaskSnapshot {
	snap := TaskSnapshot{
		ID:              t.ID,
		InvestigationID: t.InvestigationID,
		SourceID:        t.SourceID,
		Status:          t.Status,
		AttemptCount:    t.AttemptCount,
		MaxAttempts:     t.MaxAttempts,
		LastError:       t.LastError,
		FailureReason:   t.FailureReason,
		StartedAt:       t.StartedAt,
	}
	if t.Result != nil {
		snap.Result = make([]byte, len(t.Result))
		copy(snap.Result, t.Result)
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		snap.FinishedAt = &finished
	}
	return snap
}
