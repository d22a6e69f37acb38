package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"xrlink/internal/api"
	"xrlink/internal/config"
	"xrlink/internal/history"
	"xrlink/internal/liveness"
	"xrlink/internal/presence"
	"xrlink/internal/router"
	"xrlink/internal/websocket"
)

// Application wires the relay's components in dependency order:
// registry and history first, then the notifier, routing engine,
// transport handler, liveness monitor, and finally the HTTP server.
type Application struct {
	config     *config.Config
	registry   *websocket.Registry
	hist       *history.Buffer
	notifier   *presence.Notifier
	monitor    *liveness.Monitor
	httpServer *http.Server
	log        zerolog.Logger
}

// NewApplication assembles the relay from a validated configuration.
func NewApplication(cfg *config.Config, log zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	registry := websocket.NewRegistry()
	hist := history.NewBuffer(cfg.History.Capacity)
	notifier := presence.NewNotifier(registry, log)

	frameRouter := router.NewRouter(registry, hist, notifier, cfg.Roles.RoleMap(), log)

	wsHandler := websocket.NewHandler(registry, frameRouter, hist, websocket.HandlerConfig{
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteBuffer:  cfg.WebSocket.WriteBuffer,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		ReplayCount:  cfg.History.ReplayCount,
	}, notifier.Broadcast, log)

	monitor := liveness.NewMonitor(registry, notifier, cfg.WebSocket.PingInterval, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      api.NewRouter(log, wsHandler, registry, notifier),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		registry:   registry,
		hist:       hist,
		notifier:   notifier,
		monitor:    monitor,
		httpServer: httpServer,
		log:        log,
	}, nil
}

// Start launches the liveness monitor and the HTTP listener.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info().Str("addr", app.httpServer.Addr).Msg("starting relay")

	if err := app.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start liveness monitor: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.monitor.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.log.Info().Msg("relay started")
		return nil
	case <-ctx.Done():
		_ = app.monitor.Stop()
		return ctx.Err()
	}
}

// Stop shuts the relay down in reverse order: stop accepting requests,
// stop probing, then close every open connection.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info().Msg("shutting down relay")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn().Err(err).Msg("http server shutdown error")
	}

	if err := app.monitor.Stop(); err != nil {
		app.log.Warn().Err(err).Msg("liveness monitor shutdown error")
	}

	app.registry.CloseAll()

	app.log.Info().Msg("relay shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load(os.Getenv("XRLINK_CONFIG_FILE"))

	var log zerolog.Logger
	if cfg.IsDevelopment() {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		log = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	app, err := NewApplication(cfg, log)
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
		log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := app.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	}
}
