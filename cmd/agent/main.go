// umemo agent - universal memory sidecar for third-party chat sites
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/joho/godotenv"

	"github.com/umemo/agent/internal/adapter"
	"github.com/umemo/agent/internal/agent"
	"github.com/umemo/agent/internal/bridge"
	"github.com/umemo/agent/internal/browserenv"
	"github.com/umemo/agent/internal/capture"
	"github.com/umemo/agent/internal/classify"
	"github.com/umemo/agent/internal/config"
	"github.com/umemo/agent/internal/control"
	"github.com/umemo/agent/internal/dom"
	"github.com/umemo/agent/internal/inject"
	"github.com/umemo/agent/internal/memoryapi"
	"github.com/umemo/agent/internal/middleware"
	"github.com/umemo/agent/internal/poll"
	"github.com/umemo/agent/internal/session"
	"github.com/umemo/agent/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting agent", "control_port", cfg.ControlPort, "api_url", cfg.APIURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	sess := session.NewManager(repo, logger)
	if err := sess.Load(context.Background()); err != nil {
		slog.Error("Failed to load session state", "error", err)
		os.Exit(1)
	}

	client := memoryapi.NewClient(cfg.APIURL, logger)
	registry := adapter.NewRegistry(adapter.Defaults())

	// Remote override is best-effort; built-in defaults carry the agent
	// until it lands.
	go adapter.LoadRemoteOverride(ctx, client, registry, logger)

	// Browser: connect to an existing instance or provision one.
	endpoint := cfg.BrowserURL
	if endpoint == "" {
		mgr, err := browserenv.NewDockerManager(cfg.BrowserImage)
		if err != nil {
			slog.Error("Failed to initialize browser manager", "error", err)
			os.Exit(1)
		}
		if _, err := mgr.EnsureBrowser(ctx); err != nil {
			slog.Error("Failed to provision browser", "error", err)
			os.Exit(1)
		}
		browserenv.StartWatchdog(ctx, mgr, nil)
		endpoint = mgr.Endpoint()
	}

	controlURL, err := launcher.ResolveURL(endpoint)
	if err != nil {
		slog.Error("Failed to resolve DevTools endpoint", "endpoint", endpoint, "error", err)
		os.Exit(1)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		slog.Error("Failed to connect to browser", "error", err)
		os.Exit(1)
	}
	slog.Info("Browser connected", "endpoint", endpoint)

	// Control API event stream.
	hub := control.NewEventHub(logger)

	// Wire the keystroke pipeline.
	classifier := classify.New(registry, sess)
	engine := inject.NewEngine(client, sess, classifier, cfg.PasteSettleDelay, logger)
	extractor := capture.NewExtractor(client, sess, cfg.CaptureRetryDelay, logger)
	poller := poll.New(cfg.PollInterval, cfg.PollTimeout,
		func(ctx context.Context, doc dom.Document, desc *adapter.Descriptor) {
			hub.Broadcast("turn_complete", map[string]string{"host": doc.Hostname()})
			extractor.Capture(ctx, doc, desc)
		}, logger)
	ag := agent.New(classifier, engine, poller, client, sess, logger)
	ag.SetNotifier(hub)

	b := bridge.New(browser, ag, registry, logger)
	go b.Run(ctx)
	sess.OnChange(func(snap session.Snapshot) {
		hub.Broadcast("session", map[string]interface{}{
			"authenticated": snap.AuthToken != "",
			"project_id":    snap.ProjectID,
			"ready":         snap.Ready(),
		})
	})

	handler := control.NewHandler(client, sess, registry, logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	handler.RegisterRoutes(r)
	r.Get("/ws/events", hub.ServeHTTP)

	srv := &http.Server{
		Addr:         "127.0.0.1:" + cfg.ControlPort,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket clients hold their connection open
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Control API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Control API failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Control API forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Agent stopped")
}
