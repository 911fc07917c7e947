package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/m-karlsen/inquest/internal/models"
	"github.com/m-karlsen/inquest/internal/orchestrator"
)

type InvestigationHandler struct {
	manager *orchestrator.Manager
}

func NewInvestigationHandler(manager *orchestrator.Manager) *InvestigationHandler {
	return &InvestigationHandler{
		manager: manager,
	}
}

type createInvestigationRequest struct {
	InvestigationID string   `json:"investigation_id"`
	Sources         []string `json:"sources"`
}

func (h *InvestigationHandler) CreateInvestigation(w http.ResponseWriter, r *http.Request) {
	var body createInvestigationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(body.Sources) == 0 {
		http.Error(w, "at least one source is required", http.StatusBadRequest)
		return
	}

	req := models.NewInvestigationRequest(body.InvestigationID, body.Sources)

	// The investigation outlives this HTTP request, so it must not inherit
	// the request context.
	if err := h.manager.Start(context.Background(), req); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrAtCapacity):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		case errors.Is(err, orchestrator.ErrAlreadyRunning):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, orchestrator.ErrShuttingDown):
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"message":         "Investigation started",
		"investigationId": req.InvestigationID,
	})
}

func (h *InvestigationHandler) CancelInvestigation(w http.ResponseWriter, r *http.Request) {
	investigationID := chi.URLParam(r, "id")

	if err := h.manager.Cancel(investigationID); err != nil {
		if errors.Is(err, orchestrator.ErrNotFound) {
			http.Error(w, "investigation not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to cancel investigation", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{
		"message":         "Investigation cancelled",
		"investigationId": investigationID,
	})
}

func (h *InvestigationHandler) GetInvestigation(w http.ResponseWriter, r *http.Request) {
	investigationID := chi.URLParam(r, "id")

	state, err := h.manager.State(investigationID)
	if err != nil {
		http.Error(w, "investigation not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(state)
}

func (h *InvestigationHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	investigationID := chi.URLParam(r, "id")

	progress, err := h.manager.Snapshot(investigationID)
	if err != nil {
		http.Error(w, "investigation not found", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(progress)
}
