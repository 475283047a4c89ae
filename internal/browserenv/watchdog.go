package browserenv

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const (
	watchdogInterval = 15 * time.Second
	probeTimeout     = 5 * time.Second

	// failureThreshold tolerates transient probe misses; Chrome stalls
	// briefly under load without the DevTools endpoint being gone.
	failureThreshold = 3
)

// RestartCallback is called after the watchdog recreates the browser, so
// page sessions can be re-established.
type RestartCallback func(containerID string)

// StartWatchdog runs a background goroutine that probes the DevTools
// endpoint and recreates the browser container when it stops answering.
func StartWatchdog(ctx context.Context, mgr Manager, onRestart RestartCallback) {
	ticker := time.NewTicker(watchdogInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Browser watchdog started", "interval", watchdogInterval, "endpoint", mgr.Endpoint())

		failures := 0
		for {
			select {
			case <-ticker.C:
				if probe(ctx, mgr.Endpoint()) {
					failures = 0
					continue
				}
				failures++
				slog.Warn("DevTools probe failed", "consecutive", failures)
				if failures < failureThreshold {
					continue
				}

				failures = 0
				slog.Error("Browser unresponsive, recreating container")
				id, err := mgr.EnsureBrowser(ctx)
				if err != nil {
					slog.Error("Watchdog failed to recreate browser", "error", err)
					continue
				}
				if onRestart != nil {
					onRestart(id)
				}
			case <-ctx.Done():
				slog.Info("Browser watchdog shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func probe(ctx context.Context, endpoint string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint+"/json/version", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
