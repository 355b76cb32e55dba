package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"classpulse/internal/api"
	"classpulse/internal/config"
	"classpulse/internal/router"
	"classpulse/internal/session"
	"classpulse/internal/store"
	"classpulse/internal/websocket"
)

// Application coordinates all system components with explicit
// dependency injection and a fixed initialization order:
// store -> registry -> router -> coordinator -> handlers -> HTTP.
type Application struct {
	config      *config.Config
	eventStore  *store.Store
	registry    *websocket.Registry
	broadcaster *router.Router
	coordinator *session.Coordinator
	httpServer  *http.Server
}

func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	opts := store.DefaultOptions(cfg.Store.Path)
	opts.ConnMaxLifetime = cfg.Store.Timeout
	eventStore, err := store.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}

	registry := websocket.NewRegistry()
	broadcaster := router.NewRouter(registry, cfg.Session.AlertFeedSize, cfg.Session.ActivityFeedSize)

	coordinator := session.NewCoordinator(eventStore, registry, broadcaster, session.Config{
		IdleThreshold:   cfg.Session.IdleThreshold,
		TutorPassword:   cfg.Session.TutorPassword,
		LearnerPassword: cfg.Session.LearnerPassword,
	})

	wsHandler := websocket.NewHandler(coordinator)
	apiServer := api.NewServer(coordinator, cfg.HTTP.CORSOrigins, wsHandler.HandleLiveChannel)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		eventStore:  eventStore,
		registry:    registry,
		broadcaster: broadcaster,
		coordinator: coordinator,
		httpServer:  httpServer,
	}, nil
}

// Start warms the coordinator, then brings the HTTP listener up. The
// coordinator must be live first so the listener never accepts a
// connection the push pipeline cannot serve.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting classpulse on %s", app.httpServer.Addr)

	if err := app.coordinator.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session coordinator: %w", err)
	}

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
		log.Printf("classpulse started")
		return nil
	case <-ctx.Done():
		app.coordinator.Stop()
		return ctx.Err()
	}
}

// Stop tears down in reverse dependency order: HTTP listener, then the
// coordinator's feed subscription, then the store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down classpulse")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	app.coordinator.Stop()

	if err := app.eventStore.Close(); err != nil {
		log.Printf("Store shutdown error: %v", err)
	}

	log.Printf("classpulse shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := os.Getenv("CLASSPULSE_CONFIG_FILE")
	cfg := config.Load(configPath)

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := app.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		log.Printf("Received signal %v, shutting down gracefully", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := app.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	}
}
