package models

import (
	"time"
)

// StatusMessage represents a status update message for the orchestrator and
// its investigations, published on the status subject for operators.
type StatusMessage struct {
	Type      string      `json:"type"`      // "orchestrator" or "investigation"
	ID        string      `json:"id"`        // unique identifier of the entity
	Status    string      `json:"status"`    // current status of the entity
	Timestamp time.Time   `json:"timestamp"` // when the status was updated
	Metadata  interface{} `json:"metadata"`  // additional entity-specific information
}

type OrchestratorEventType string

const (
	OrchestratorStarted  OrchestratorEventType = "STARTED"
	OrchestratorStopping OrchestratorEventType = "STOPPING"
	OrchestratorStopped  OrchestratorEventType = "STOPPED"
	OrchestratorHealthy  OrchestratorEventType = "HEALTHY"
)

type OrchestratorStatus struct {
	ID                   string                `json:"id"`
	Event                OrchestratorEventType `json:"event"`
	Timestamp            time.Time             `json:"timestamp"`
	ActiveInvestigations int                   `json:"activeInvestigations"`
	KnownSources         int                   `json:"knownSources"`
}

// SystemState represents the current state of the entire orchestrator
type SystemState struct {
	ActiveInvestigations []InvestigationProgress `json:"activeInvestigations"`
	OpenBreakers         []string                `json:"openBreakers"`
	UpdatedAt            time.Time               `json:"updatedAt"`
}
