package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"proctorwire/internal/api"
	"proctorwire/internal/config"
	"proctorwire/internal/database"
	"proctorwire/internal/hub"
	"proctorwire/internal/monitor"
	"proctorwire/internal/router"
	"proctorwire/internal/session"
	"proctorwire/internal/websocket"
	pkgdatabase "proctorwire/pkg/database"
	"proctorwire/pkg/types"
)

// Application coordinates all relay components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config         *config.Config
	dbManager      *database.Manager
	sessionManager *session.Manager
	registry       *websocket.Registry
	monitor        *monitor.Monitor
	messageRouter  *router.Router
	messageHub     *hub.Hub
	apiServer      *api.Server
	httpServer     *http.Server
	listener       net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Registry → Session → Monitor → Router → Hub → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer); migrations run inside
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	defer cancel()

	// STEP 2: Initialize WebSocket registry for connection tracking
	registry := websocket.NewRegistry()

	// STEP 3: Initialize session manager; the registry carries end-of-session
	// broadcasts and close frames
	sessionManager := session.NewManager(dbManager, session.WithBroadcaster(registry))
	if err := sessionManager.LoadActiveSessions(ctx); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	// STEP 4: Initialize session monitor and resume from snapshots
	sessionMonitor := monitor.New(monitor.Config{
		StatsInterval: cfg.Relay.StatsInterval,
		Pipeline:      cfg.PipelineOptions(),
	}, dbManager, registry)
	if err := sessionMonitor.Restore(ctx); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to restore session projections: %w", err)
	}
	sessionManager.OnCreated(sessionMonitor.Track)
	sessionManager.OnEnded(sessionMonitor.Finish)

	// STEP 5: Initialize message router; the monitor observes every delivery
	messageRouter := router.NewRouter(registry,
		router.WithRateLimit(cfg.Relay.RateLimit, cfg.Relay.RateWindow),
		router.WithObserver(sessionMonitor),
	)

	// STEP 6: Initialize message hub for coordination
	messageHub := hub.NewHub(registry, messageRouter)

	// STEP 7: Initialize WebSocket handler feeding the hub
	wsHandler := websocket.NewHandler(sessionManager, messageHub, websocket.HandlerConfig{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})

	// STEP 8: API server owns the route table, including /ws
	apiServer := api.NewServer(sessionManager, dbManager, registry,
		api.WithProjections(sessionMonitor),
		api.WithWebSocket(wsHandler.HandleWebSocket),
	)

	httpServer := &http.Server{
		Addr:         cfg.Address(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		dbManager:      dbManager,
		sessionManager: sessionManager,
		registry:       registry,
		monitor:        sessionMonitor,
		messageRouter:  messageRouter,
		messageHub:     messageHub,
		apiServer:      apiServer,
		httpServer:     httpServer,
	}, nil
}

// Start begins application execution
// Hub and monitor start first to handle messages, then the HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting proctorwire relay on %s", app.httpServer.Addr)

	// STEP 1: Start message hub (background message processing)
	if err := app.messageHub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 2: Start periodic session_stats and snapshots
	app.monitor.Start()

	// STEP 3: Bind before returning so callers can connect immediately
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.monitor.Stop(ctx)
		_ = app.messageHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	log.Printf("proctorwire relay started: addr=%s sessions=%d", app.GetAddr(), app.monitor.Sessions())
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → connections → Hub → Monitor → Database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down proctorwire relay")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// STEP 2: Tell live clients the relay is going away; 1001 is retryable
	for _, s := range app.sessionIDs(ctx) {
		app.registry.CloseSession(s, 1001, "relay shutting down")
	}

	// STEP 3: Stop message processing
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		log.Printf("Message hub shutdown error: %v", err)
	}

	// STEP 4: Flush projections and write final snapshots
	app.monitor.Stop(ctx)

	// STEP 5: Close database connections
	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("proctorwire relay shutdown complete")
	return nil
}

func (app *Application) sessionIDs(ctx context.Context) []string {
	sessions, err := app.sessionManager.ListActiveSessions(ctx)
	if err != nil {
		log.Printf("Failed to list sessions on shutdown: %v", err)
		return nil
	}
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Sessions exposes the session manager for in-process callers and tests.
func (app *Application) Sessions() *session.Manager {
	return app.sessionManager
}

// Stats returns the monitor's current stats for a session.
func (app *Application) Stats(sessionID string) (*types.SessionStats, bool) {
	return app.monitor.Stats(sessionID)
}

// ShutdownTimeout bounds Stop when the caller has no deadline of its own.
const ShutdownTimeout = 30 * time.Second
