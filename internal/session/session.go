// Package session caches the process-wide credentials and active-project
// selection. The cache is written only by the settings change path (the
// control surface persisting a new value); the pipeline reads snapshots.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/umemo/agent/internal/store"
)

// Snapshot is a point-in-time read of the session state.
type Snapshot struct {
	AuthToken string
	ProjectID string
}

// Ready reports whether injection and capture may run. Missing either
// credential fails closed.
func (s Snapshot) Ready() bool {
	return s.AuthToken != "" && s.ProjectID != ""
}

// Manager owns the cached session state and fans out change notifications.
type Manager struct {
	repo   store.Repository
	logger *slog.Logger

	mu        sync.RWMutex
	state     Snapshot
	listeners []func(Snapshot)
}

// NewManager creates a manager bound to the settings repository.
func NewManager(repo store.Repository, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{repo: repo, logger: logger}
}

// Load reads persisted settings into the cache. Called once at startup.
func (m *Manager) Load(ctx context.Context) error {
	token, err := m.repo.Get(ctx, store.KeyAuthToken)
	if err != nil {
		return fmt.Errorf("load auth token: %w", err)
	}
	project, err := m.repo.Get(ctx, store.KeySelectedProjectID)
	if err != nil {
		return fmt.Errorf("load project selection: %w", err)
	}

	m.apply(Snapshot{AuthToken: token, ProjectID: project})
	m.logger.Info("Session state loaded", "logged_in", token != "", "has_project", project != "")
	return nil
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetAuthToken persists and applies a new token; empty clears it.
func (m *Manager) SetAuthToken(ctx context.Context, token string) error {
	if err := m.repo.Set(ctx, store.KeyAuthToken, token); err != nil {
		return fmt.Errorf("persist auth token: %w", err)
	}
	next := m.Snapshot()
	next.AuthToken = token
	m.apply(next)
	return nil
}

// SetProjectID persists and applies a new project selection; empty clears.
func (m *Manager) SetProjectID(ctx context.Context, projectID string) error {
	if err := m.repo.Set(ctx, store.KeySelectedProjectID, projectID); err != nil {
		return fmt.Errorf("persist project selection: %w", err)
	}
	next := m.Snapshot()
	next.ProjectID = projectID
	m.apply(next)
	return nil
}

// OnChange registers a listener invoked after every applied change.
// Listeners must not block; they run on the mutating goroutine.
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

func (m *Manager) apply(next Snapshot) {
	m.mu.Lock()
	m.state = next
	listeners := make([]func(Snapshot), len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
}
