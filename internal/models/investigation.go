package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InvestigationStatus represents the current state of an investigation
type InvestigationStatus string

const (
	InvestigationStatusPending   InvestigationStatus = "PENDING"
	InvestigationStatusRunning   InvestigationStatus = "RUNNING"
	InvestigationStatusCompleted InvestigationStatus = "COMPLETED"
	InvestigationStatusCancelled InvestigationStatus = "CANCELLED"
)

// InvestigationRequest asks the orchestrator to run the data-collection tasks
// for one investigation against the listed sources.
type InvestigationRequest struct {
	InvestigationID string    `json:"investigation_id"`
	Sources         []string  `json:"sources"`
	RequestedAt     time.Time `json:"requested_at"`
}

// NewInvestigationRequest creates a request, generating an ID when the caller
// did not supply one.
func NewInvestigationRequest(investigationID string, sources []string) *InvestigationRequest {
	if investigationID == "" {
		investigationID = uuid.New().String()
	}
	return &InvestigationRequest{
		InvestigationID: investigationID,
		Sources:         sources,
		RequestedAt:     time.Now(),
	}
}

// ToJSON converts the request to JSON
func (r *InvestigationRequest) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON populates the request from JSON
func (r *InvestigationRequest) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}

// InvestigationState provides the current state of one investigation: its
// aggregate progress plus a snapshot of every task.
type InvestigationState struct {
	InvestigationID string                `json:"investigation_id"`
	Status          InvestigationStatus   `json:"status"`
	Progress        InvestigationProgress `json:"progress"`
	Tasks           []TaskSnapshot        `json:"tasks"`
	StartedAt       time.Time             `json:"started_at"`
	FinishedAt      *time.Time            `json:"finished_at,omitempty"`
}
