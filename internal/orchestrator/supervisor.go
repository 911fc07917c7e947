package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/m-karlsen/inquest/internal/breaker"
	"github.com/m-karlsen/inquest/internal/logging"
	"github.com/m-karlsen/inquest/internal/models"
	"github.com/m-karlsen/inquest/internal/retry"
	"github.com/m-karlsen/inquest/internal/source"
)

// EventPublisher is the slice of the event hub the orchestrator needs
type EventPublisher interface {
	Publish(event models.NotificationEvent) models.NotificationEvent
}

// SupervisorConfig tunes one task supervisor
type SupervisorConfig struct {
	Timeout  time.Duration // per adapter invocation
	ParkTick time.Duration // recheck cadence while the breaker denies attempts
	GiveUp   time.Duration // sustained denial beyond this fails the task
}

// Supervisor owns the lifecycle of one task: one source, one investigation.
// It schedules attempts through the retry policy and the source's circuit
// breaker and reports every state transition to its coordinator and the hub.
// The task itself is mutated only from the supervisor's goroutine; everything
// that leaves does so as an immutable snapshot.
type Supervisor struct {
	task         *models.Task
	req          *models.InvestigationRequest
	adapter      source.Adapter
	breakers     *breaker.Breakers
	policy       retry.Policy
	cfg          SupervisorConfig
	publisher    EventPublisher
	onTransition func(models.TaskSnapshot)
	started      atomic.Bool
}

// NewSupervisor creates a supervisor for one (investigation, source) task.
// onTransition is invoked with a fresh snapshot after every state change.
func NewSupervisor(
	req *models.InvestigationRequest,
	sourceID string,
	adapter source.Adapter,
	breakers *breaker.Breakers,
	policy retry.Policy,
	cfg SupervisorConfig,
	publisher EventPublisher,
	onTransition func(models.TaskSnapshot),
) *Supervisor {
	if cfg.ParkTick <= 0 {
		cfg.ParkTick = 500 * time.Millisecond
	}
	if cfg.GiveUp <= 0 {
		cfg.GiveUp = 2 * time.Minute
	}

	return &Supervisor{
		task:         models.NewTask(req.InvestigationID, sourceID, policy.MaxAttempts),
		req:          req,
		adapter:      adapter,
		breakers:     breakers,
		policy:       policy,
		cfg:          cfg,
		publisher:    publisher,
		onTransition: onTransition,
	}
}

// Snapshot returns the task's creation-time snapshot. Once Run has started,
// current state flows through onTransition instead.
func (s *Supervisor) Snapshot() models.TaskSnapshot {
	return s.task.Snapshot()
}

// Run drives the task to a terminal state. Re-entrant calls are no-ops; the
// adapter is never invoked concurrently for the same task and never more than
// MaxAttempts times.
func (s *Supervisor) Run(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}

	backoffSchedule := s.policy.NewBackOff()
	var parkedSince time.Time

	for {
		if ctx.Err() != nil {
			s.fail(models.FailureReasonCancelled, "investigation cancelled")
			return
		}

		report, err := s.breakers.Allow(s.task.SourceID)
		if err != nil {
			// Breaker open before the first attempt: the source is known to
			// be systemically down, so fail fast instead of queueing work
			// against a broken dependency.
			if s.task.AttemptCount == 0 && errors.Is(err, breaker.ErrOpen) {
				s.fail(models.FailureReasonSourceUnavailable, "circuit breaker open for source")
				return
			}

			// Parked: half-open trial in flight elsewhere, or the breaker
			// opened between our retries. Re-check on a coarse tick until
			// the give-up threshold.
			if parkedSince.IsZero() {
				parkedSince = time.Now()
			}
			if time.Since(parkedSince) >= s.cfg.GiveUp {
				s.fail(models.FailureReasonSourceUnavailable, "circuit breaker denied attempts beyond give-up threshold")
				return
			}
			if err := retry.Wait(ctx, s.cfg.ParkTick); err != nil {
				s.fail(models.FailureReasonCancelled, "investigation cancelled")
				return
			}
			continue
		}
		parkedSince = time.Time{}

		s.task.AttemptCount++
		s.task.Status = models.TaskStatusRunning
		s.publish(models.EventTaskStarted, models.TaskStartedPayload{
			TaskID:       s.task.ID,
			AttemptCount: s.task.AttemptCount,
		})
		s.notify()

		result, attemptErr := s.attempt(ctx)
		report(attemptErr)

		if attemptErr == nil {
			s.complete(result)
			return
		}

		s.task.LastError = attemptErr.Error()
		logging.Warn().
			Str("investigation_id", s.task.InvestigationID).
			Str("source_id", s.task.SourceID).
			Int("attempt", s.task.AttemptCount).
			Int("max_attempts", s.task.MaxAttempts).
			Err(attemptErr).
			Msg("task attempt failed")

		if ctx.Err() != nil {
			s.fail(models.FailureReasonCancelled, "investigation cancelled")
			return
		}

		if s.task.AttemptCount >= s.task.MaxAttempts {
			s.fail(models.FailureReasonError, s.task.LastError)
			return
		}

		delay := backoffSchedule.NextBackOff()
		s.task.Status = models.TaskStatusRetrying
		s.publish(models.EventTaskRetrying, models.TaskRetryingPayload{
			TaskID:       s.task.ID,
			Error:        s.task.LastError,
			AttemptCount: s.task.AttemptCount,
			MaxAttempts:  s.task.MaxAttempts,
			NextRetryMs:  delay.Milliseconds(),
		})
		s.notify()

		if err := retry.Wait(ctx, delay); err != nil {
			s.fail(models.FailureReasonCancelled, "investigation cancelled")
			return
		}
	}
}

// attempt invokes the adapter once with the per-source timeout. Exceeding the
// timeout is indistinguishable from an explicit adapter failure.
func (s *Supervisor) attempt(ctx context.Context) ([]byte, error) {
	attemptCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	return s.adapter.Execute(attemptCtx, s.req)
}

func (s *Supervisor) complete(result []byte) {
	now := time.Now()
	s.task.Result = result
	s.task.FinishedAt = &now
	s.task.Status = models.TaskStatusCompleted
	s.publish(models.EventTaskCompleted, models.TaskCompletedPayload{
		TaskID: s.task.ID,
		Result: result,
	})
	s.notify()
}

func (s *Supervisor) fail(reason models.FailureReason, message string) {
	now := time.Now()
	if s.task.LastError == "" {
		s.task.LastError = message
	}
	s.task.FailureReason = reason
	s.task.FinishedAt = &now
	s.task.Status = models.TaskStatusFailed
	s.publish(models.EventTaskFailed, models.TaskFailedPayload{
		TaskID:       s.task.ID,
		Error:        s.task.LastError,
		Reason:       reason,
		AttemptCount: s.task.AttemptCount,
	})
	s.notify()
}

// notify hands the coordinator a fresh immutable snapshot of the task
func (s *Supervisor) notify() {
	if s.onTransition != nil {
		s.onTransition(s.task.Snapshot())
	}
}

func (s *Supervisor) publish(eventType models.EventType, payload interface{}) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(models.NewEvent(eventType, s.task.InvestigationID, s.task.SourceID, payload))
}
