package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m-karlsen/inquest/internal/breaker"
	"github.com/m-karlsen/inquest/internal/logging"
	"github.com/m-karlsen/inquest/internal/models"
	"github.com/m-karlsen/inquest/internal/retry"
	"github.com/m-karlsen/inquest/internal/source"
)

// EventSink is the slice of the event hub a coordinator needs
type EventSink interface {
	EventPublisher
	MarkFinished(investigationID string)
}

// Coordinator owns the full set of tasks for one investigation. It launches
// them concurrently, folds their snapshots into an aggregate progress figure
// on every transition, and detects investigation-level completion.
type Coordinator struct {
	req  *models.InvestigationRequest
	sink EventSink

	supervisors map[string]*Supervisor

	mu         sync.RWMutex
	snapshots  map[string]models.TaskSnapshot
	status     models.InvestigationStatus
	startedAt  time.Time
	finishedAt *time.Time
	finalized  bool

	cancelOnce sync.Once
	cancelFn   context.CancelFunc
	done       chan struct{}
	onFinished func(models.InvestigationState)
}

// NewCoordinator creates a coordinator for the given investigation request.
// onFinished, if non-nil, runs once after every task has reached a terminal
// state.
func NewCoordinator(req *models.InvestigationRequest, sink EventSink, onFinished func(models.InvestigationState)) *Coordinator {
	return &Coordinator{
		req:         req,
		sink:        sink,
		supervisors: make(map[string]*Supervisor),
		snapshots:   make(map[string]models.TaskSnapshot),
		status:      models.InvestigationStatusPending,
		startedAt:   time.Now(),
		done:        make(chan struct{}),
		onFinished:  onFinished,
	}
}

// AddTask registers a task for a source. Must be called before Run; at most
// one task per source per investigation.
func (c *Coordinator) AddTask(sourceID string, adapter source.Adapter, breakers *breaker.Breakers, policy retry.Policy, cfg SupervisorConfig) error {
	if _, exists := c.supervisors[sourceID]; exists {
		return fmt.Errorf("task for source %s already registered", sourceID)
	}

	sup := NewSupervisor(c.req, sourceID, adapter, breakers, policy, cfg, c.sink, c.handleTransition)
	c.supervisors[sourceID] = sup
	c.snapshots[sourceID] = sup.Snapshot()
	return nil
}

// Run launches every task concurrently and blocks until all of them reach a
// terminal state. Tasks have no ordering dependency on each other.
func (c *Coordinator) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelFn = cancel
	cancelledEarly := c.status == models.InvestigationStatusCancelled
	if !cancelledEarly {
		c.status = models.InvestigationStatusRunning
	}
	c.mu.Unlock()
	if cancelledEarly {
		cancel()
	}

	logging.Info().
		Str("investigation_id", c.req.InvestigationID).
		Int("tasks", len(c.supervisors)).
		Msg("starting investigation")

	var wg sync.WaitGroup
	for _, sup := range c.supervisors {
		wg.Add(1)
		go func(sup *Supervisor) {
			defer wg.Done()
			sup.Run(runCtx)
		}(sup)
	}

	wg.Wait()
	cancel()
	close(c.done)
}

// Cancel propagates cancellation to every non-terminal task. Cancelling an
// already-finished investigation is a no-op and emits no further events.
func (c *Coordinator) Cancel() {
	c.cancelOnce.Do(func() {
		c.mu.Lock()
		cancelFn := c.cancelFn
		finished := c.finalized
		if !finished {
			c.status = models.InvestigationStatusCancelled
		}
		c.mu.Unlock()

		if finished || cancelFn == nil {
			return
		}

		logging.Info().Str("investigation_id", c.req.InvestigationID).Msg("cancelling investigation")
		cancelFn()
	})
}

// Done returns a channel closed once the investigation reached its terminal
// state.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Progress returns the current aggregate progress, derived from task
// snapshots.
func (c *Coordinator) Progress() models.InvestigationProgress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.ComputeProgress(c.req.InvestigationID, c.taskListLocked())
}

// State returns the investigation's full current state
func (c *Coordinator) State() models.InvestigationState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := models.InvestigationState{
		InvestigationID: c.req.InvestigationID,
		Status:          c.status,
		Tasks:           c.taskListLocked(),
		StartedAt:       c.startedAt,
	}
	state.Progress = models.ComputeProgress(c.req.InvestigationID, state.Tasks)
	if c.finishedAt != nil {
		finished := *c.finishedAt
		state.FinishedAt = &finished
	}
	return state
}

// handleTransition recomputes aggregate progress from current task snapshots
// on every child transition and publishes it. Progress is never incremented
// in place; it is always derived, so the counting invariant holds by
// construction.
func (c *Coordinator) handleTransition(snap models.TaskSnapshot) {
	c.mu.Lock()
	c.snapshots[snap.SourceID] = snap

	progress := models.ComputeProgress(c.req.InvestigationID, c.taskListLocked())
	c.sink.Publish(models.NewEvent(models.EventInvestigationProgress, c.req.InvestigationID, "", progress))

	becameFinal := false
	if progress.Done() && !c.finalized {
		c.finalized = true
		becameFinal = true
		now := time.Now()
		c.finishedAt = &now
		if c.status != models.InvestigationStatusCancelled {
			c.status = models.InvestigationStatusCompleted
		}
	}
	c.mu.Unlock()

	if !becameFinal {
		return
	}

	logging.Info().
		Str("investigation_id", c.req.InvestigationID).
		Int("completed", progress.CompletedTasks).
		Int("failed", progress.FailedTasks).
		Msg("investigation finished")

	c.sink.MarkFinished(c.req.InvestigationID)

	if c.onFinished != nil {
		c.onFinished(c.State())
	}
}

// taskListLocked returns the current task snapshots; callers hold c.mu
func (c *Coordinator) taskListLocked() []models.TaskSnapshot {
	tasks := make([]models.TaskSnapshot, 0, len(c.snapshots))
	for _, snap := range c.snapshots {
		tasks = append(tasks, snap)
	}
	return tasks
}
