// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/spamm/internal/api"
	"github.com/starford/spamm/internal/fitservice"
	"github.com/starford/spamm/internal/mcpserver"
	"github.com/starford/spamm/internal/models"
	"github.com/starford/spamm/internal/results"
	"github.com/starford/spamm/internal/sse"
	"github.com/starford/spamm/internal/storage"
	"github.com/starford/spamm/internal/templates"
)

var errConfigRequired = errors.New("config is required")

// NewLogger returns a structured JSON logger writing to w (stdout when nil).
func NewLogger(level slog.Level, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// runtime holds the collaborators shared by the HTTP server and the MCP server.
type runtime struct {
	lib *templates.Library
	db  *results.DB
	svc *fitservice.Service
}

func newRuntime(cfg *Config, events fitservice.EventPublisher, logger *slog.Logger) (*runtime, error) {
	// Ensure template root exists.
	if err := os.MkdirAll(cfg.Templates.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create template root: %w", err)
	}

	store, err := storage.NewFS(cfg.Templates.Root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	lib := templates.NewLibrary(store, cfg.Templates.Sets, logger)

	db, err := results.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init results: %w", err)
	}

	svc := fitservice.NewService(cfg.FitSettings(), lib, db, events, logger)
	return &runtime{lib: lib, db: db, svc: svc}, nil
}

// close cancels in-flight fits before the database goes away.
func (rt *runtime) close() {
	rt.svc.Close()
	_ = rt.db.Close()
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if err := app.init(); err != nil {
		return err
	}

	cfg := app.config
	logger := app.logger

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("templates_root", cfg.Templates.Root),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// SSE broker.
	broker := sse.NewBroker(time.Second)
	defer broker.Close()

	rt, err := newRuntime(cfg, broker, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	apiRouter := api.NewRouter(rt.svc, rt.lib, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := rt.db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Template watcher with SSE callback.
	if cfg.Templates.Watch {
		g.Go(func() error {
			err := templates.Watch(gCtx, rt.lib, logger, func(path string, dropped int) {
				broker.PublishTemplatesChanged(path, dropped)
			})
			if err != nil {
				logger.Warn("template watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if err := app.init(); err != nil {
		return err
	}

	rt, err := newRuntime(app.config, nil, app.logger)
	if err != nil {
		return err
	}
	defer rt.close()

	app.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.svc, rt.lib).ServeStdio()
}

// Fit runs one synchronous fit, stores it in the results database and
// returns its posterior summary.
func Fit(ctx context.Context, req fitservice.FitRequest, opts ...Option) (*fitservice.Summary, error) {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if err := app.init(); err != nil {
		return nil, err
	}

	rt, err := newRuntime(app.config, nil, app.logger)
	if err != nil {
		return nil, err
	}
	defer rt.close()

	run, err := rt.svc.Fit(ctx, req)
	if err != nil {
		return nil, err
	}
	if run.Status != models.StatusCompleted {
		return nil, fmt.Errorf("fit %s %s: %s", run.ID, run.Status, run.Error)
	}
	return rt.svc.Summary(ctx, run.ID, -1)
}
