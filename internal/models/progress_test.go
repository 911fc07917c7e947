package models

import "testing"

func tasksWithStatuses(statuses ...TaskStatus) []TaskSnapshot {
	tasks := make([]TaskSnapshot, len(statuses))
	for i, status := range statuses {
		tasks[i] = TaskSnapshot{
			InvestigationID: "inv-1",
			SourceID:        "source",
			Status:          status,
		}
	}
	return tasks
}

func TestComputeProgress(t *testing.T) {
	tests := []struct {
		name           string
		statuses       []TaskStatus
		wantCompleted  int
		wantFailed     int
		wantRunning    int
		wantPending    int
		wantPercentage int
		wantDone       bool
	}{
		{
			name:     "no tasks",
			statuses: nil,
		},
		{
			name:        "all pending",
			statuses:    []TaskStatus{TaskStatusPending, TaskStatusPending},
			wantPending: 2,
		},
		{
			name:           "two of three complete one failed",
			statuses:       []TaskStatus{TaskStatusCompleted, TaskStatusCompleted, TaskStatusFailed},
			wantCompleted:  2,
			wantFailed:     1,
			wantPercentage: 67,
			wantDone:       true,
		},
		{
			name:        "retrying counts as running",
			statuses:    []TaskStatus{TaskStatusRetrying, TaskStatusRunning},
			wantRunning: 2,
		},
		{
			name:           "one of three complete rounds down",
			statuses:       []TaskStatus{TaskStatusCompleted, TaskStatusRunning, TaskStatusPending},
			wantCompleted:  1,
			wantRunning:    1,
			wantPending:    1,
			wantPercentage: 33,
		},
		{
			name:           "all failed is done at zero percent",
			statuses:       []TaskStatus{TaskStatusFailed, TaskStatusFailed},
			wantFailed:     2,
			wantPercentage: 0,
			wantDone:       true,
		},
		{
			name:           "all complete",
			statuses:       []TaskStatus{TaskStatusCompleted, TaskStatusCompleted},
			wantCompleted:  2,
			wantPercentage: 100,
			wantDone:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ComputeProgress("inv-1", tasksWithStatuses(tt.statuses...))

			if p.TotalTasks != len(tt.statuses) {
				t.Errorf("TotalTasks = %d, want %d", p.TotalTasks, len(tt.statuses))
			}
			if p.CompletedTasks != tt.wantCompleted {
				t.Errorf("CompletedTasks = %d, want %d", p.CompletedTasks, tt.wantCompleted)
			}
			if p.FailedTasks != tt.wantFailed {
				t.Errorf("FailedTasks = %d, want %d", p.FailedTasks, tt.wantFailed)
			}
			if p.RunningTasks != tt.wantRunning {
				t.Errorf("RunningTasks = %d, want %d", p.RunningTasks, tt.wantRunning)
			}
			if p.PendingTasks != tt.wantPending {
				t.Errorf("PendingTasks = %d, want %d", p.PendingTasks, tt.wantPending)
			}
			if p.Percentage != tt.wantPercentage {
				t.Errorf("Percentage = %d, want %d", p.Percentage, tt.wantPercentage)
			}
			if p.Done() != tt.wantDone {
				t.Errorf("Done() = %v, want %v", p.Done(), tt.wantDone)
			}

			sum := p.CompletedTasks + p.FailedTasks + p.RunningTasks + p.PendingTasks
			if sum != p.TotalTasks {
				t.Errorf("task counts sum to %d, want %d", sum, p.TotalTasks)
			}
		})
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	terminal := map[TaskStatus]bool{
		TaskStatusPending:   false,
		TaskStatusRunning:   false,
		TaskStatusRetrying:  false,
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
	}
	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	task := NewTask("inv-1", "registry", 3)
	task.Result = []byte(`{"a":1}`)

	snap := task.Snapshot()
	task.Result[0] = 'X'
	task.Status = TaskStatusFailed

	if snap.Result[0] == 'X' {
		t.Error("snapshot shares the task's result buffer")
	}
	if snap.Status != TaskStatusPending {
		t.Errorf("snapshot status = %s, want PENDING", snap.Status)
	}
}
