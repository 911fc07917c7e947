package leveldb

import (
	"testing"
	"time"

	"github.com/m-karlsen/inquest/internal/config"
	"github.com/m-karlsen/inquest/internal/models"
)

func newTestClient(t *testing.T, ttl time.Duration) *Client {
	t.Helper()

	client, err := NewClient(config.LevelDBConfig{Path: t.TempDir()}, ttl)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func finishedState(investigationID string) models.InvestigationState {
	now := time.Now()
	tasks := []models.TaskSnapshot{
		{InvestigationID: investigationID, SourceID: "registry", Status: models.TaskStatusCompleted},
		{InvestigationID: investigationID, SourceID: "permits", Status: models.TaskStatusFailed, FailureReason: models.FailureReasonError},
	}
	return models.InvestigationState{
		InvestigationID: investigationID,
		Status:          models.InvestigationStatusCompleted,
		Progress:        models.ComputeProgress(investigationID, tasks),
		Tasks:           tasks,
		StartedAt:       now.Add(-time.Minute),
		FinishedAt:      &now,
	}
}

func TestPutAndGetState(t *testing.T) {
	client := newTestClient(t, time.Hour)

	want := finishedState("inv-1")
	if err := client.PutState(want); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	got, err := client.GetState("inv-1")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got.InvestigationID != want.InvestigationID {
		t.Errorf("investigation id = %s, want %s", got.InvestigationID, want.InvestigationID)
	}
	if got.Status != models.InvestigationStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("task count = %d, want 2", len(got.Tasks))
	}
	if got.Progress.CompletedTasks != 1 || got.Progress.FailedTasks != 1 {
		t.Errorf("completed/failed = %d/%d, want 1/1", got.Progress.CompletedTasks, got.Progress.FailedTasks)
	}
}

func TestGetStateUnknownInvestigation(t *testing.T) {
	client := newTestClient(t, time.Hour)

	if _, err := client.GetState("no-such-investigation"); err == nil {
		t.Fatal("GetState for unknown investigation succeeded, want error")
	}
}

func TestExpiredStateIsNotReturned(t *testing.T) {
	client := newTestClient(t, 10*time.Millisecond)

	if err := client.PutState(finishedState("inv-1")); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := client.GetState("inv-1"); err == nil {
		t.Fatal("GetState for expired investigation succeeded, want error")
	}
}

func TestListStatesSkipsExpired(t *testing.T) {
	client := newTestClient(t, time.Hour)

	if err := client.PutState(finishedState("inv-1")); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	if err := client.PutState(finishedState("inv-2")); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	states, err := client.ListStates()
	if err != nil {
		t.Fatalf("ListStates: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("state count = %d, want 2", len(states))
	}
}

func TestDeleteState(t *testing.T) {
	client := newTestClient(t, time.Hour)

	if err := client.PutState(finishedState("inv-1")); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	if err := client.DeleteState("inv-1"); err != nil {
		t.Fatalf("DeleteState: %v", err)
	}
	if _, err := client.GetState("inv-1"); err == nil {
		t.Fatal("GetState after delete succeeded, want error")
	}
}
