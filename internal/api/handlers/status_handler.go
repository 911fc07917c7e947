package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/m-karlsen/inquest/internal/config"
	"github.com/m-karlsen/inquest/internal/orchestrator"
)

type StatusHandler struct {
	manager *orchestrator.Manager
	cfg     *config.Config
}

func NewStatusHandler(manager *orchestrator.Manager, cfg *config.Config) *StatusHandler {
	return &StatusHandler{
		manager: manager,
		cfg:     cfg,
	}
}

func (h *StatusHandler) GetSystemStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.manager.SystemState())
}

func (h *StatusHandler) GetSources(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.cfg.Sources)
}
