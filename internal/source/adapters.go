package source

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/m-karlsen/inquest/internal/logging"
	"github.com/m-karlsen/inquest/internal/models"
)

// Reference adapters. Real deployments register adapters that talk to the
// actual registries; these stand in for them during development and demos by
// returning a canned payload after a short delay.

// SimulatedAdapter returns a canned payload for a source after the configured
// delay, honoring context cancellation.
func SimulatedAdapter(sourceID string, delay time.Duration) Adapter {
	return AdapterFunc(func(ctx context.Context, req *models.InvestigationRequest) ([]byte, error) {
		logging.Debug().
			Str("source_id", sourceID).
			Str("investigation_id", req.InvestigationID).
			Msg("executing simulated source adapter")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		return json.Marshal(map[string]interface{}{
			"source_id":        sourceID,
			"investigation_id": req.InvestigationID,
			"records":          0,
			"collected_at":     time.Now().UTC().Format(time.RFC3339),
		})
	})
}

// RegisterSimulated registers a simulated adapter for each given source ID
func RegisterSimulated(registry *Registry, sourceIDs []string, delay time.Duration) error {
	for _, id := range sourceIDs {
		if err := registry.Register(id, SimulatedAdapter(id, delay)); err != nil {
			return err
		}
	}
	return nil
}
