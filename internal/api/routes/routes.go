package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/m-karlsen/inquest/internal/api/handlers"
	"github.com/m-karlsen/inquest/internal/config"
	"github.com/m-karlsen/inquest/internal/gateway"
	"github.com/m-karlsen/inquest/internal/orchestrator"
)

func SetupRouter(cfg *config.Config, manager *orchestrator.Manager, gw *gateway.Gateway) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Initialize handlers
	investigationHandler := handlers.NewInvestigationHandler(manager)
	statusHandler := handlers.NewStatusHandler(manager, cfg)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// JSON endpoints get the timeout and content-type middleware; the
		// websocket endpoint must stay off both.
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				next.ServeHTTP(w, r)
			})
		})

		// Investigation endpoints
		r.Route("/investigations", func(r chi.Router) {
			r.Post("/", investigationHandler.CreateInvestigation)
			r.Get("/{id}", investigationHandler.GetInvestigation)
			r.Get("/{id}/progress", investigationHandler.GetProgress)
			r.Post("/{id}/cancel", investigationHandler.CancelInvestigation)
		})

		// System Status endpoints
		r.Get("/system/status", statusHandler.GetSystemStatus)
		r.Get("/system/sources", statusHandler.GetSources)
	})

	// Event stream subscription endpoint
	r.Get("/ws", gw.Subscribe)

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	return r
}
