// Package control provides the local HTTP API the popup UI talks to. It
// proxies account and project operations to the remote backend so the UI
// never handles the auth token itself.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/umemo/agent/internal/adapter"
	"github.com/umemo/agent/internal/domain"
	"github.com/umemo/agent/internal/memoryapi"
	"github.com/umemo/agent/internal/session"
)

// Backend is the remote API surface the control handlers proxy to.
// Implemented by memoryapi.Client.
type Backend interface {
	Login(ctx context.Context, username, password string) (string, error)
	Register(ctx context.Context, username, password string) error
	Projects(ctx context.Context, token string) ([]domain.Project, error)
	CreateProject(ctx context.Context, token, name string) (*domain.Project, error)
	ExportReport(ctx context.Context, token, projectID string) ([]byte, error)
}

// Handler serves the control API.
type Handler struct {
	backend   Backend
	session   *session.Manager
	registry  *adapter.Registry
	logger    *slog.Logger
	startedAt time.Time
}

// NewHandler creates a control handler.
func NewHandler(backend Backend, sess *session.Manager, registry *adapter.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		backend:   backend,
		session:   sess,
		registry:  registry,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// RegisterRoutes mounts the control API on the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/status", h.Status)
	r.Post("/api/login", h.Login)
	r.Post("/api/register", h.Register)
	r.Post("/api/logout", h.Logout)
	r.Get("/api/projects", h.ListProjects)
	r.Post("/api/projects", h.CreateProject)
	r.Put("/api/project", h.SelectProject)
	r.Get("/api/export", h.Export)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Status reports whether the agent holds credentials and which sites the
// active adapter table covers. The token itself never leaves the process.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()
	JSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": snap.AuthToken != "",
		"project_id":    snap.ProjectID,
		"ready":         snap.Ready(),
		"sites":         h.registry.Sites(),
		"uptime":        time.Since(h.startedAt).String(),
	})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a token and persists it.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	token, err := h.backend.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, memoryapi.ErrUnauthorized) {
			Error(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("Login proxy failed", "error", err)
		Error(w, http.StatusBadGateway, "backend unavailable")
		return
	}

	if err := h.session.SetAuthToken(r.Context(), token); err != nil {
		h.logger.Error("Failed to persist auth token", "error", err)
		Error(w, http.StatusInternalServerError, "failed to persist session")
		return
	}

	h.logger.Info("Login succeeded", "username", req.Username)
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Register creates an account on the backend.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		Error(w, http.StatusBadRequest, "username and password are required")
		return
	}

	if err := h.backend.Register(r.Context(), req.Username, req.Password); err != nil {
		h.logger.Error("Register proxy failed", "error", err)
		Error(w, http.StatusBadGateway, "registration failed")
		return
	}

	JSON(w, http.StatusCreated, map[string]bool{"success": true})
}

// Logout clears the persisted session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.SetAuthToken(r.Context(), ""); err != nil {
		h.logger.Error("Failed to clear auth token", "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	if err := h.session.SetProjectID(r.Context(), ""); err != nil {
		h.logger.Error("Failed to clear project", "error", err)
		Error(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ListProjects proxies the project list for the signed-in account.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()
	if snap.AuthToken == "" {
		Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	projects, err := h.backend.Projects(r.Context(), snap.AuthToken)
	if err != nil {
		if errors.Is(err, memoryapi.ErrUnauthorized) {
			Error(w, http.StatusUnauthorized, "session expired")
			return
		}
		h.logger.Error("Project list proxy failed", "error", err)
		Error(w, http.StatusBadGateway, "backend unavailable")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
		"selected": snap.ProjectID,
	})
}

type createProjectRequest struct {
	Name string `json:"name"`
}

// CreateProject proxies project creation.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()
	if snap.AuthToken == "" {
		Error(w, http.StatusUnauthorized, "not signed in")
		return
	}

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		Error(w, http.StatusBadRequest, "project name is required")
		return
	}

	project, err := h.backend.CreateProject(r.Context(), snap.AuthToken, req.Name)
	if err != nil {
		h.logger.Error("Project create proxy failed", "error", err)
		Error(w, http.StatusBadGateway, "backend unavailable")
		return
	}

	JSON(w, http.StatusCreated, project)
}

type selectProjectRequest struct {
	ProjectID string `json:"project_id"`
}

// SelectProject persists the active project.
func (h *Handler) SelectProject(w http.ResponseWriter, r *http.Request) {
	var req selectProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == "" {
		Error(w, http.StatusBadRequest, "project_id is required")
		return
	}

	if err := h.session.SetProjectID(r.Context(), req.ProjectID); err != nil {
		h.logger.Error("Failed to persist project selection", "error", err)
		Error(w, http.StatusInternalServerError, "failed to persist selection")
		return
	}

	h.logger.Info("Project selected", "project_id", req.ProjectID)
	JSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Export streams the project report for the active project.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	snap := h.session.Snapshot()
	if !snap.Ready() {
		Error(w, http.StatusUnauthorized, "sign in and select a project first")
		return
	}

	report, err := h.backend.ExportReport(r.Context(), snap.AuthToken, snap.ProjectID)
	if err != nil {
		h.logger.Error("Export proxy failed", "error", err)
		Error(w, http.StatusBadGateway, "backend unavailable")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="memory-report.txt"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(report); err != nil {
		h.logger.Debug("Export write failed", "error", err)
	}
}
