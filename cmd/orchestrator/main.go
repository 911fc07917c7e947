package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-karlsen/inquest/internal/api/routes"
	"github.com/m-karlsen/inquest/internal/breaker"
	"github.com/m-karlsen/inquest/internal/config"
	"github.com/m-karlsen/inquest/internal/gateway"
	"github.com/m-karlsen/inquest/internal/hub"
	"github.com/m-karlsen/inquest/internal/logging"
	"github.com/m-karlsen/inquest/internal/models"
	"github.com/m-karlsen/inquest/internal/orchestrator"
	"github.com/m-karlsen/inquest/internal/queue"
	"github.com/m-karlsen/inquest/internal/source"
	"github.com/m-karlsen/inquest/internal/storage/leveldb"
)

func main() {
	logging.Init(logging.Config{
		Level:  os.Getenv("INQUEST_LOG_LEVEL"),
		Format: os.Getenv("INQUEST_LOG_FORMAT"),
	})

	configPath := os.Getenv("INQUEST_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize the snapshot store for finished investigations
	store, err := leveldb.NewClient(cfg.LevelDB, 72*time.Hour)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize snapshot store")
	}
	defer store.Close()

	// Initialize NATS for request intake and status publishing
	nats, err := queue.NewNATS(cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to NATS")
	}
	defer nats.Close()

	// Event hub with per-investigation sequenced streams
	events := hub.NewHub(hub.Config{
		BufferSize:      cfg.Hub.BufferSize,
		SubscriberQueue: cfg.Hub.SubscriberQueue,
		Retention:       time.Duration(cfg.Hub.RetentionSeconds) * time.Second,
	})
	defer events.Close()

	// Per-source circuit breakers; transitions are broadcast to every live
	// investigation stream
	breakers := breaker.New(breaker.Options{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           time.Duration(cfg.Breaker.WindowSeconds) * time.Second,
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
	}, func(change breaker.StateChange) {
		var eventType models.EventType
		switch change.To {
		case breaker.StateOpen:
			eventType = models.EventCircuitBreakerOpened
		case breaker.StateClosed:
			eventType = models.EventCircuitBreakerClosed
		default:
			return
		}
		events.Broadcast(models.NewEvent(eventType, "", change.SourceID, models.CircuitBreakerPayload{
			SourceID: change.SourceID,
			State:    change.To,
		}))
	})

	// Register an adapter per configured source
	registry := source.NewRegistry()
	for _, src := range cfg.Sources {
		if err := registry.Register(src.ID, source.SimulatedAdapter(src.ID, 2*time.Second)); err != nil {
			logging.Fatal().Err(err).Str("source_id", src.ID).Msg("failed to register source adapter")
		}
	}
	if len(cfg.Sources) == 0 {
		logging.Warn().Msg("no sources configured, every investigation request will be rejected")
	}

	// Create the orchestrator manager
	manager := orchestrator.NewManager(cfg, registry, breakers, events, store, nats)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Consume investigation requests from NATS
	requests, err := nats.ConsumeRequests(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to subscribe to investigation requests")
	}

	go func() {
		if err := manager.Run(ctx, requests); err != nil && err != context.Canceled {
			logging.Error().Err(err).Msg("orchestrator stopped with error")
			cancel()
		}
	}()

	// HTTP server: control API plus the websocket event stream
	router := routes.SetupRouter(cfg, manager, gateway.New(events))
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logging.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error().Err(err).Msg("http server stopped with error")
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
	}

	// Initiate shutdown
	shutdownTimeout := time.Duration(cfg.Orchestrator.ShutdownTimeout) * time.Second
	if err := manager.Shutdown(shutdownTimeout); err != nil {
		logging.Error().Err(err).Msg("error during orchestrator shutdown")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("error during http server shutdown")
	}

	logging.Info().Msg("orchestrator shutdown complete")
}
