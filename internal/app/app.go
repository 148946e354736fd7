// Package app provides application lifecycle management for the triage server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/edgevision/triage-server/internal/config"
)

// TriageApp encapsulates all components needed to run the triage API
// server. It provides lifecycle management and graceful shutdown
// capabilities.
type TriageApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start starts the application components (HTTP server and background
// jobs). This method blocks until the HTTP server stops or encounters
// an error.
func (app *TriageApp) Start() error {
	// Start the job coordinator in background
	go func() {
		if err := app.components.Coordinator.Start(app.ctx); err != nil {
			slog.Error("Job coordinator failed", "error", err)
		}
	}()

	// Start HTTP server (blocks until stopped)
	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application with the given timeout. It
// stops the job coordinator, shuts down the HTTP server and closes the
// record store.
func (app *TriageApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	// Stop background jobs first so no run races the shutdown
	if err := app.components.Coordinator.Stop(); err != nil {
		slog.Error("Failed to stop job coordinator", "error", err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	// Graceful HTTP server shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	if err := app.components.Records.Close(); err != nil {
		slog.Error("Failed to close record store", "error", err)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *TriageApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *TriageApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
