package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m-karlsen/inquest/internal/breaker"
	"github.com/m-karlsen/inquest/internal/config"
	"github.com/m-karlsen/inquest/internal/logging"
	"github.com/m-karlsen/inquest/internal/models"
	"github.com/m-karlsen/inquest/internal/retry"
	"github.com/m-karlsen/inquest/internal/source"
)

// Errors returned by the manager's control operations
var (
	ErrNotFound       = errors.New("investigation not found")
	ErrAlreadyRunning = errors.New("investigation already running")
	ErrAtCapacity     = errors.New("orchestrator at capacity")
	ErrShuttingDown   = errors.New("orchestrator shutting down")
)

// SnapshotStore persists terminal investigation states so snapshots stay
// queryable after the coordinator is torn down.
type SnapshotStore interface {
	PutState(state models.InvestigationState) error
	GetState(investigationID string) (*models.InvestigationState, error)
}

// StatusPublisher pushes orchestrator lifecycle status messages to operators
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status *models.StatusMessage) error
}

// Manager is the orchestrator's control surface. It owns one coordinator per
// active investigation, bounds how many run concurrently, and serves the
// start/cancel/snapshot operations.
type Manager struct {
	id       string
	cfg      *config.Config
	registry *source.Registry
	breakers *breaker.Breakers
	sink     EventSink
	store    SnapshotStore
	status   StatusPublisher

	slots        chan struct{}
	mu           sync.RWMutex
	coords       map[string]*Coordinator
	workers      sync.WaitGroup
	stopChan     chan struct{}
	isShutdown   bool
	shutdownLock sync.RWMutex
	healthTicker *time.Ticker
}

// NewManager creates a manager. store and status may be nil.
func NewManager(cfg *config.Config, registry *source.Registry, breakers *breaker.Breakers, sink EventSink, store SnapshotStore, status StatusPublisher) *Manager {
	maxInvestigations := cfg.Orchestrator.MaxInvestigations
	if maxInvestigations <= 0 {
		maxInvestigations = config.DefaultMaxInvestigations
	}

	return &Manager{
		id:       uuid.New().String(),
		cfg:      cfg,
		registry: registry,
		breakers: breakers,
		sink:     sink,
		store:    store,
		status:   status,
		slots:    make(chan struct{}, maxInvestigations),
		coords:   make(map[string]*Coordinator),
		stopChan: make(chan struct{}),
	}
}

// Start launches the data-collection tasks for one investigation. All tasks
// run concurrently; the call returns as soon as they are scheduled.
func (m *Manager) Start(ctx context.Context, req *models.InvestigationRequest) error {
	if m.IsShutdown() {
		return ErrShuttingDown
	}
	if req == nil || req.InvestigationID == "" {
		return fmt.Errorf("investigation id is required")
	}
	if len(req.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}

	// Resolve every adapter up front so a typoed source fails the request,
	// not a task at runtime
	adapters := make(map[string]source.Adapter, len(req.Sources))
	for _, sourceID := range req.Sources {
		if _, dup := adapters[sourceID]; dup {
			return fmt.Errorf("duplicate source %s in request", sourceID)
		}
		adapter, err := m.registry.Get(sourceID)
		if err != nil {
			return fmt.Errorf("unknown source %s: %w", sourceID, err)
		}
		adapters[sourceID] = adapter
	}

	select {
	case m.slots <- struct{}{}:
	default:
		return ErrAtCapacity
	}

	m.mu.Lock()
	if _, exists := m.coords[req.InvestigationID]; exists {
		m.mu.Unlock()
		<-m.slots
		return ErrAlreadyRunning
	}

	coord := NewCoordinator(req, m.sink, m.persistFinished)
	for sourceID, adapter := range adapters {
		policy, supCfg := m.sourceSettings(sourceID)
		if err := coord.AddTask(sourceID, adapter, m.breakers, policy, supCfg); err != nil {
			m.mu.Unlock()
			<-m.slots
			return err
		}
	}
	m.coords[req.InvestigationID] = coord
	m.mu.Unlock()

	m.workers.Add(1)
	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.coords, req.InvestigationID)
			m.mu.Unlock()
			<-m.slots
			m.workers.Done()
		}()
		coord.Run(ctx)
	}()

	return nil
}

// Cancel propagates cancellation to the investigation's tasks. Cancelling an
// unknown investigation is an error; cancelling a finished one is a no-op.
func (m *Manager) Cancel(investigationID string) error {
	m.mu.RLock()
	coord, active := m.coords[investigationID]
	m.mu.RUnlock()

	if active {
		coord.Cancel()
		return nil
	}

	if m.store != nil {
		if state, err := m.store.GetState(investigationID); err == nil && state != nil {
			return nil // already terminal, nothing to do
		}
	}

	return ErrNotFound
}

// Snapshot returns the investigation's current aggregate progress, falling
// back to the snapshot store for finished investigations.
func (m *Manager) Snapshot(investigationID string) (models.InvestigationProgress, error) {
	m.mu.RLock()
	coord, active := m.coords[investigationID]
	m.mu.RUnlock()

	if active {
		return coord.Progress(), nil
	}

	if m.store != nil {
		if state, err := m.store.GetState(investigationID); err == nil && state != nil {
			return state.Progress, nil
		}
	}

	return models.InvestigationProgress{}, ErrNotFound
}

// State returns the investigation's full state including per-task snapshots
func (m *Manager) State(investigationID string) (models.InvestigationState, error) {
	m.mu.RLock()
	coord, active := m.coords[investigationID]
	m.mu.RUnlock()

	if active {
		return coord.State(), nil
	}

	if m.store != nil {
		if state, err := m.store.GetState(investigationID); err == nil && state != nil {
			return *state, nil
		}
	}

	return models.InvestigationState{}, ErrNotFound
}

// SystemState summarizes the orchestrator for the status endpoint
func (m *Manager) SystemState() models.SystemState {
	m.mu.RLock()
	active := make([]models.InvestigationProgress, 0, len(m.coords))
	for _, coord := range m.coords {
		active = append(active, coord.Progress())
	}
	m.mu.RUnlock()

	return models.SystemState{
		ActiveInvestigations: active,
		OpenBreakers:         m.breakers.OpenSources(),
		UpdatedAt:            time.Now(),
	}
}

// ActiveCount returns the number of investigations currently running
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.coords)
}

// Run consumes investigation requests from the intake channel until the
// context is cancelled or the manager shuts down.
func (m *Manager) Run(ctx context.Context, requests <-chan *models.InvestigationRequest) error {
	logging.Info().
		Str("orchestrator_id", m.id).
		Int("max_investigations", cap(m.slots)).
		Msg("starting orchestrator")

	if err := m.publishStatus(models.OrchestratorStarted); err != nil {
		logging.Warn().Err(err).Msg("failed to publish start status")
	}

	m.healthTicker = time.NewTicker(time.Minute)
	go m.runHealthChecks()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopChan:
			return nil
		case req, ok := <-requests:
			if !ok {
				return fmt.Errorf("requests channel closed")
			}
			if err := m.Start(ctx, req); err != nil {
				logging.Error().
					Err(err).
					Str("investigation_id", req.InvestigationID).
					Msg("failed to start investigation from intake")
			}
		}
	}
}

// Shutdown initiates a graceful shutdown: stop the intake loop and wait for
// in-flight investigations up to the timeout.
func (m *Manager) Shutdown(timeout time.Duration) error {
	m.shutdownLock.Lock()
	if m.isShutdown {
		m.shutdownLock.Unlock()
		return nil
	}
	m.isShutdown = true
	m.shutdownLock.Unlock()

	if err := m.publishStatus(models.OrchestratorStopping); err != nil {
		logging.Warn().Err(err).Msg("failed to publish stopping status")
	}

	if m.healthTicker != nil {
		m.healthTicker.Stop()
	}

	close(m.stopChan)

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
	case <-time.After(timeout):
		shutdownErr = fmt.Errorf("shutdown timed out after %v", timeout)
	}

	if err := m.publishStatus(models.OrchestratorStopped); err != nil {
		logging.Warn().Err(err).Msg("failed to publish stopped status")
	}

	return shutdownErr
}

// IsShutdown returns the current shutdown status
func (m *Manager) IsShutdown() bool {
	m.shutdownLock.RLock()
	defer m.shutdownLock.RUnlock()
	return m.isShutdown
}

// sourceSettings resolves the retry policy and supervisor tuning for a source
func (m *Manager) sourceSettings(sourceID string) (retry.Policy, SupervisorConfig) {
	policy := retry.Policy{
		BaseDelay:   time.Duration(m.cfg.Retry.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(m.cfg.Retry.MaxDelayMs) * time.Millisecond,
		MaxAttempts: m.cfg.Retry.MaxAttempts,
	}

	supCfg := SupervisorConfig{
		Timeout:  time.Duration(config.DefaultSourceTimeout) * time.Second,
		ParkTick: time.Duration(m.cfg.Breaker.ParkTickMs) * time.Millisecond,
		GiveUp:   time.Duration(m.cfg.Breaker.GiveUpSeconds) * time.Second,
	}

	if src, ok := m.cfg.Source(sourceID); ok {
		policy = policy.WithMaxAttempts(src.MaxAttempts)
		supCfg.Timeout = time.Duration(src.TimeoutSeconds) * time.Second
	}

	return policy, supCfg
}

// persistFinished stores the terminal investigation state once all its tasks
// are done
func (m *Manager) persistFinished(state models.InvestigationState) {
	if m.store == nil {
		return
	}
	if err := m.store.PutState(state); err != nil {
		logging.Error().
			Err(err).
			Str("investigation_id", state.InvestigationID).
			Msg("failed to persist terminal investigation state")
	}
}

func (m *Manager) publishStatus(event models.OrchestratorEventType) error {
	if m.status == nil {
		return nil
	}

	orchStatus := &models.OrchestratorStatus{
		ID:                   m.id,
		Event:                event,
		Timestamp:            time.Now(),
		ActiveInvestigations: m.ActiveCount(),
		KnownSources:         len(m.registry.Sources()),
	}

	statusMsg := &models.StatusMessage{
		Type:      "orchestrator",
		ID:        m.id,
		Status:    string(event),
		Timestamp: time.Now(),
		Metadata:  orchStatus,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return m.status.PublishStatus(ctx, statusMsg)
}

// Health check routine
func (m *Manager) runHealthChecks() {
	for {
		select {
		case <-m.stopChan:
			return
		case <-m.healthTicker.C:
			if err := m.publishStatus(models.OrchestratorHealthy); err != nil {
				logging.Warn().Err(err).Msg("failed to publish health status")
			}
		}
	}
}
