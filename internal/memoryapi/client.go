// Package memoryapi is the HTTP client for the remote memory service.
package memoryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/umemo/agent/internal/domain"
)

// ErrUnauthorized signals expired or invalid credentials (HTTP 401). The
// injection path treats it as abort-silently; everything else logs it.
var ErrUnauthorized = errors.New("memory service: unauthorized")

const defaultTimeout = 30 * time.Second

// Client calls the memory service. Methods that act on user data take the
// bearer token per call because credentials can change while the process
// runs.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the service rooted at baseURL
// (".../api", no trailing slash required).
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

type retrieveRequest struct {
	Query     string `json:"query"`
	ProjectID string `json:"project_id"`
}

type retrieveResponse struct {
	Results []domain.Memory `json:"results"`
}

// Retrieve fetches memories matching the query within a project.
func (c *Client) Retrieve(ctx context.Context, token, projectID, query string) ([]domain.Memory, error) {
	var resp retrieveResponse
	err := c.post(ctx, "/memories/retrieve/", token, retrieveRequest{Query: query, ProjectID: projectID}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

type storeRequest struct {
	Text      string `json:"text"`
	ProjectID string `json:"project_id"`
}

// Store persists a captured turn. Best-effort: callers log and move on.
func (c *Client) Store(ctx context.Context, token, projectID, text string) error {
	return c.post(ctx, "/memories/store/", token, storeRequest{Text: text, ProjectID: projectID}, nil)
}

type deleteRequest struct {
	ProjectID  string `json:"project_id"`
	TargetText string `json:"target_text"`
}

// DeleteResult is the delete endpoint's response body.
type DeleteResult struct {
	Success     bool   `json:"success"`
	DeletedText string `json:"deleted_text"`
	Message     string `json:"message"`
}

// Delete removes the memory best matching targetText within a project.
func (c *Client) Delete(ctx context.Context, token, projectID, targetText string) (*DeleteResult, error) {
	var resp DeleteResult
	err := c.post(ctx, "/memories/delete/", token, deleteRequest{ProjectID: projectID, TargetText: targetText}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SiteConfig fetches the raw adapter-descriptor override. Returns the body
// bytes; decoding belongs to the adapter package.
func (c *Client) SiteConfig(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/config/sites/", nil)
	if err != nil {
		return nil, fmt.Errorf("build site config request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch site config: %w", err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("site config returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read site config body: %w", err)
	}
	return body, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for an API token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp loginResponse
	if err := c.post(ctx, "/login/", "", loginRequest{Username: username, Password: password}, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", errors.New("login response missing token")
	}
	return resp.Token, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, password string) error {
	return c.post(ctx, "/register/", "", loginRequest{Username: username, Password: password}, nil)
}

// Projects lists the user's projects.
func (c *Client) Projects(ctx context.Context, token string) ([]domain.Project, error) {
	var projects []domain.Project
	if err := c.get(ctx, "/projects/", token, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

type createProjectRequest struct {
	Name string `json:"name"`
}

// CreateProject creates a project and returns it.
func (c *Client) CreateProject(ctx context.Context, token, name string) (*domain.Project, error) {
	var project domain.Project
	if err := c.post(ctx, "/projects/", token, createProjectRequest{Name: name}, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

type exportRequest struct {
	ProjectID string `json:"project_id"`
}

// ExportReport fetches the project report document as raw bytes.
func (c *Client) ExportReport(ctx context.Context, token, projectID string) ([]byte, error) {
	body, err := json.Marshal(exportRequest{ProjectID: projectID})
	if err != nil {
		return nil, fmt.Errorf("encode export request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/projects/export/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build export request: %w", err)
	}
	c.setHeaders(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export report: %w", err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("export report returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, path, token string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	c.setHeaders(req, token)

	return c.do(req, path, out)
}

func (c *Client) get(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	c.setHeaders(req, token)

	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
}

func (c *Client) closeBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, io.LimitReader(body, 4096)); err != nil {
		c.logger.Debug("Drain response body failed", "error", err)
	}
	if err := body.Close(); err != nil {
		c.logger.Debug("Close response body failed", "error", err)
	}
}
