// Package browserenv provides Docker lifecycle management for the headless
// Chrome instance the agent drives.
package browserenv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	containerName   = "umemo-browser"
	devtoolsPort    = "9222"
	stopTimeoutSecs = 10

	// Resource limits. Headless Chrome under memory pressure kills its
	// renderer and drops the DevTools session mid-stream.
	memoryLimitBytes = 1024 * 1024 * 1024
	pidsLimit        = 512

	createRetryAttempts = 20
	createRetryDelay    = 250 * time.Millisecond
)

// Manager defines the browser container lifecycle.
type Manager interface {
	// EnsureBrowser ensures a headless Chrome container is running and
	// returns its ID.
	EnsureBrowser(ctx context.Context) (string, error)

	// StopBrowser stops and removes the browser container.
	StopBrowser(ctx context.Context, containerID string) error

	// IsRunning checks if the browser container is currently running.
	IsRunning(ctx context.Context, containerID string) (bool, error)

	// Endpoint returns the DevTools HTTP endpoint on the host.
	Endpoint() string

	// Client returns the underlying Docker client.
	Client() *client.Client
}

// DockerManager implements Manager using the Docker API.
type DockerManager struct {
	cli   *client.Client
	image string
}

// NewDockerManager creates a Docker-backed browser manager running the
// given headless Chrome image.
func NewDockerManager(image string) (Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Docker client initialized", "browser_image", image)
	return &DockerManager{cli: cli, image: image}, nil
}

// EnsureBrowser ensures a headless Chrome container is running.
func (m *DockerManager) EnsureBrowser(ctx context.Context) (string, error) {
	inspect, err := m.cli.ContainerInspect(ctx, containerName)
	if err == nil {
		if inspect.State.Running {
			slog.Info("Browser container already running", "container_id", inspect.ID)
			return inspect.ID, nil
		}

		// A stopped browser holds no state worth keeping; recreate so
		// the DevTools endpoint comes up clean.
		slog.Info("Found stopped browser container, recreating", "container_id", inspect.ID)
		if err := m.StopBrowser(ctx, inspect.ID); err != nil {
			slog.Warn("Failed to remove stale browser container", "error", err, "container_id", inspect.ID)
		}
	}

	slog.Info("Creating browser container", "image", m.image)

	port := nat.Port(devtoolsPort + "/tcp")
	config := &container.Config{
		Image: m.image,
		Cmd: []string{
			"--remote-debugging-address=0.0.0.0",
			"--remote-debugging-port=" + devtoolsPort,
			"--no-first-run",
			"--disable-gpu",
		},
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: devtoolsPort}},
		},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			PidsLimit: ptr(int64(pidsLimit)),
		},
		ShmSize: 256 * 1024 * 1024,
		DNS:     []string{"8.8.8.8", "8.8.4.4"},
	}

	var resp container.CreateResponse
	var createErr error
	for i := 0; i < createRetryAttempts; i++ {
		resp, createErr = m.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
		if createErr == nil {
			break
		}

		errStr := strings.ToLower(createErr.Error())
		if !strings.Contains(errStr, "is already in use") && !strings.Contains(errStr, "conflict") {
			return "", fmt.Errorf("create browser container: %w", createErr)
		}

		// A delayed removal can leave the old named container briefly.
		// Force-remove by name and retry shortly.
		slog.Warn("Browser container name conflict during create, retrying",
			"container_name", containerName,
			"attempt", i+1,
			"error", createErr,
		)

		if inspect, inspectErr := m.cli.ContainerInspect(ctx, containerName); inspectErr == nil {
			if stopErr := m.StopBrowser(ctx, inspect.ID); stopErr != nil {
				slog.Warn("Failed to stop conflicting container before retry", "container_id", inspect.ID, "error", stopErr)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(createRetryDelay):
		}
	}
	if createErr != nil {
		return "", fmt.Errorf("create browser container after retries: %w", createErr)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := m.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errors.Is(removeErr, context.Canceled) {
			slog.Warn("Failed to remove container after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start browser container %s: %w", resp.ID, err)
	}

	slog.Info("Browser container created and started", "container_id", resp.ID)
	return resp.ID, nil
}

// StopBrowser stops and removes the browser container.
// It is idempotent and handles concurrent calls gracefully.
func (m *DockerManager) StopBrowser(ctx context.Context, containerID string) error {
	slog.Info("Stopping browser container", "container_id", containerID)

	_, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Browser container already removed", "container_id", containerID)
			return nil
		}
		return fmt.Errorf("inspect container %s: %w", containerID, err)
	}

	timeout := stopTimeoutSecs
	if err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Browser container already stopped/removed", "container_id", containerID)
		} else if ctx.Err() != nil {
			slog.Debug("Context canceled during stop, continuing with force removal", "container_id", containerID)
		} else {
			slog.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
		}
	}

	if err := m.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			slog.Debug("Browser container already removed", "container_id", containerID)
			return nil
		}
		if strings.Contains(err.Error(), "is already in progress") {
			slog.Debug("Browser container removal already in progress", "container_id", containerID)
			return nil
		}
		if ctx.Err() != nil {
			slog.Debug("Context canceled during remove, container may still be removed", "container_id", containerID, "error", err)
			return nil
		}
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}

	slog.Info("Browser container stopped and removed", "container_id", containerID)
	return nil
}

// IsRunning checks if the browser container is currently running.
func (m *DockerManager) IsRunning(ctx context.Context, containerID string) (bool, error) {
	inspect, err := m.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	return inspect.State.Running, nil
}

// Endpoint returns the DevTools HTTP endpoint on the host.
func (m *DockerManager) Endpoint() string {
	return "http://127.0.0.1:" + devtoolsPort
}

// Client returns the underlying Docker client.
func (m *DockerManager) Client() *client.Client {
	return m.cli
}

func ptr[T any](v T) *T {
	return &v
}
