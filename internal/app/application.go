package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"lockstep/internal/api"
	"lockstep/internal/barrier"
	"lockstep/internal/config"
	"lockstep/internal/database"
	"lockstep/internal/hub"
	"lockstep/internal/router"
	"lockstep/internal/session"
	"lockstep/internal/websocket"
	pkgdatabase "lockstep/pkg/database"
)

// Application assembles and owns every component. Initialization follows
// dependency order: Database, Session, Registry, Barrier, Router, Hub, API,
// HTTP. Shutdown runs the same chain in reverse.
type Application struct {
	config         *config.Config
	dbManager      *database.Manager
	sessionManager *session.Manager
	registry       *websocket.Registry
	ticks          *barrier.Barrier
	lifecycle      *router.Router
	coordinator    *hub.Hub
	apiServer      *api.Server
	httpServer     *http.Server
}

// NewApplication builds the component graph from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  10,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
	}

	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrationManager := pkgdatabase.NewMigrationManager(dbManager.GetDB())
	if err := migrationManager.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	codes := session.NewCodeRegistry()

	// Audit rows are keyed by session id, so the counter must continue from
	// where the previous run stopped.
	lastID, err := dbManager.MaxSessionID(context.Background())
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to read last session id: %w", err)
	}
	codes.SeedIDs(lastID)

	sessionManager := session.NewManager(codes, dbManager, cfg.Session.MaxSessions, cfg.Session.MaxDevicesPerSession)

	registry := websocket.NewRegistry()
	ticks := barrier.New()

	lifecycle := router.NewRouter(sessionManager, registry, ticks, cfg.Session.StallWarning, cfg.Session.RateLimitPerMinute)
	coordinator := hub.NewHub(registry, lifecycle, cfg.Session.StallCheckInterval)

	apiServer := api.NewServer(sessionManager, dbManager, registry)

	wsHandler := websocket.NewHandler(coordinator, websocket.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		dbManager:      dbManager,
		sessionManager: sessionManager,
		registry:       registry,
		ticks:          ticks,
		lifecycle:      lifecycle,
		coordinator:    coordinator,
		apiServer:      apiServer,
		httpServer:     httpServer,
	}, nil
}

// Start launches the hub and the HTTP server. The hub must be consuming
// before the first WebSocket upgrade can deliver a message.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting lockstep coordinator on %s", app.httpServer.Addr)

	app.coordinator.Start()

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.coordinator.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Lockstep coordinator started")
		return nil
	case <-ctx.Done():
		app.coordinator.Stop()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP, Hub, Database.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down lockstep coordinator")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.coordinator.Stop()

	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("Lockstep coordinator shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
