package models

import (
	"math"
	"time"
)

// InvestigationProgress is the aggregate view over all tasks of one
// investigation. It is always derived by folding over current task snapshots,
// never stored and incremented independently, so the counting invariant
// TotalTasks == Completed+Failed+Running+Pending holds by construction.
type InvestigationProgress struct {
	InvestigationID string    `json:"investigation_id"`
	TotalTasks      int       `json:"total_tasks"`
	CompletedTasks  int       `json:"completed_tasks"`
	FailedTasks     int       `json:"failed_tasks"`
	RunningTasks    int       `json:"running_tasks"`
	PendingTasks    int       `json:"pending_tasks"`
	Percentage      int       `json:"percentage"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ComputeProgress folds the given task snapshots into an aggregate progress
// figure. RETRYING counts as running: a retry does not undo the "not yet
// complete" allocation, so only COMPLETED moves the percentage.
func ComputeProgress(investigationID string, tasks []TaskSnapshot) InvestigationProgress {
	p := InvestigationProgress{
		InvestigationID: investigationID,
		TotalTasks:      len(tasks),
		UpdatedAt:       time.Now(),
	}

	for _, t := range tasks {
		switch t.Status {
		case TaskStatusCompleted:
			p.CompletedTasks++
		case TaskStatusFailed:
			p.FailedTasks++
		case TaskStatusRunning, TaskStatusRetrying:
			p.RunningTasks++
		default:
			p.PendingTasks++
		}
	}

	if p.TotalTasks > 0 {
		p.Percentage = int(math.Round(100 * float64(p.CompletedTasks) / float64(p.TotalTasks)))
	}

	return p
}

// Done reports whether every task has reached a terminal state. Done is
// distinct from "all succeeded": a cancelled investigation is done at 100%
// task allocation with zero completed tasks.
func (p InvestigationProgress) Done() bool {
	return p.TotalTasks > 0 && p.CompletedTasks+p.FailedTasks == p.TotalTasks
}
