package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/m-karlsen/inquest/internal/models"
)

// Adapter is the single operation exposed by every external data source.
// The orchestrator treats it as opaque and potentially slow or unreliable;
// implementations must honor context cancellation and may be called
// repeatedly, with each retried call treated as a fresh attempt.
type Adapter interface {
	Execute(ctx context.Context, req *models.InvestigationRequest) ([]byte, error)
}

// AdapterFunc adapts a plain function to the Adapter interface
type AdapterFunc func(ctx context.Context, req *models.InvestigationRequest) ([]byte, error)

// Execute implements Adapter
func (f AdapterFunc) Execute(ctx context.Context, req *models.InvestigationRequest) ([]byte, error) {
	return f(ctx, req)
}

// Registry manages the adapters available to the orchestrator, one per source
type Registry struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
}

// NewRegistry creates a new source adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter for a source ID
func (r *Registry) Register(sourceID string, adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[sourceID]; exists {
		return fmt.Errorf("adapter for source %s already registered", sourceID)
	}

	r.adapters[sourceID] = adapter
	return nil
}

// Get retrieves the adapter for a source ID
func (r *Registry) Get(sourceID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[sourceID]
	if !exists {
		return nil, fmt.Errorf("adapter for source %s not found", sourceID)
	}

	return adapter, nil
}

// Sources returns the IDs of all registered sources
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}
