// ABOUTME: Gateway orchestrator that runs the HTTP server and wires handlers
// ABOUTME: Manages the engine, store, and health endpoints lifecycle

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sibyl-sh/sibyl/internal/auth"
	"github.com/sibyl-sh/sibyl/internal/chat"
	"github.com/sibyl-sh/sibyl/internal/config"
	"github.com/sibyl-sh/sibyl/internal/engine"
	"github.com/sibyl-sh/sibyl/internal/store"
	"github.com/sibyl-sh/sibyl/internal/stream"
)

// turnEngine is the subset of the engine the gateway needs.
// This allows injecting a fake implementation for testing.
type turnEngine interface {
	SubmitTurn(ctx context.Context, st *chat.State, content string, skip bool) (*engine.TurnHandle, *stream.Streamable[[]string])
	HistoryLimit() int
}

// Gateway coordinates the HTTP server, the turn engine, and the chat store.
type Gateway struct {
	config     *config.Config
	engine     turnEngine
	store      store.Store
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Gateway with its routes registered.
func New(cfg *config.Config, eng turnEngine, st store.Store, verifier auth.TokenVerifier, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		config: cfg,
		engine: eng,
		store:  st,
		logger: logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	// Shared chats are public by definition
	mux.HandleFunc("GET /api/share/{id}", g.handleGetSharedChat)

	// Chat API - auth is optional for sending, required for history
	mux.HandleFunc("POST /api/chat", g.handleChat)
	mux.HandleFunc("GET /api/chats", g.handleListChats)
	mux.HandleFunc("DELETE /api/chats", g.handleClearChats)
	mux.HandleFunc("GET /api/chats/{id}", g.handleGetChat)
	mux.HandleFunc("DELETE /api/chats/{id}", g.handleDeleteChat)
	mux.HandleFunc("POST /api/chats/{id}/share", g.handleShareChat)

	handler := auth.Middleware(verifier)(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g
}

// Handler exposes the configured HTTP handler, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run serves HTTP until the context is canceled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListChats(r.Context(), "readiness-probe", 1); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
