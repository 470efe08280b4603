package runtime

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/aurbuild/aurbuild/pkg/log"
)

// Container states reported by the Docker Engine.
const (
	StateCreated    = "created"
	StateRunning    = "running"
	StatePaused     = "paused"
	StateRestarting = "restarting"
	StateRemoving   = "removing"
	StateExited     = "exited"
	StateDead       = "dead"
)

// Status is the supervised view of one container.
type Status struct {
	State    string
	ExitCode int
}

// DockerRuntime drives build containers through the Docker Engine API on
// the local socket.
type DockerRuntime struct {
	client *client.Client
	image  string
	log    zerolog.Logger
}

// NewDockerRuntime connects to the Docker daemon and verifies that the
// builder image is available. A missing daemon or image is a fatal
// startup error for the coordinator.
func NewDockerRuntime(ctx context.Context, image string) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the Docker daemon: %w", err)
	}

	if _, err := cli.ImageInspect(ctx, image); err != nil {
		return nil, fmt.Errorf("builder image %s is not available: %w", image, err)
	}

	return &DockerRuntime{client: cli, image: image, log: log.WithComponent("runtime")}, nil
}

// Close closes the connection to the daemon.
func (r *DockerRuntime) Close() error {
	return r.client.Close()
}

// Create creates a build container named after the package. memoryLimit of
// zero means no cap. The returned ID is the full container ID.
func (r *DockerRuntime) Create(ctx context.Context, name string, env []string, memoryLimit int64) (string, error) {
	hostConfig := &container.HostConfig{}
	if memoryLimit > 0 {
		hostConfig.Resources = container.Resources{Memory: memoryLimit}
	}

	resp, err := r.client.ContainerCreate(ctx, &container.Config{
		Image: r.image,
		Env:   env,
	}, hostConfig, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container for %s: %w", name, err)
	}
	for _, warning := range resp.Warnings {
		r.log.Warn().Str("container", name).Msg(warning)
	}

	return resp.ID, nil
}

// Start starts a created container.
func (r *DockerRuntime) Start(ctx context.Context, id string) error {
	if err := r.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

// Inspect returns the container's current state and exit code.
func (r *DockerRuntime) Inspect(ctx context.Context, id string) (Status, error) {
	resp, err := r.client.ContainerInspect(ctx, id)
	if err != nil {
		return Status{}, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}
	if resp.State == nil {
		return Status{}, fmt.Errorf("container %s has no state", id)
	}
	return Status{State: string(resp.State.Status), ExitCode: resp.State.ExitCode}, nil
}

// Logs fetches the container's combined stdout and stderr.
func (r *DockerRuntime) Logs(ctx context.Context, id string) (string, error) {
	reader, err := r.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch logs for container %s: %w", id, err)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", fmt.Errorf("failed to read logs for container %s: %w", id, err)
	}
	return buf.String(), nil
}

// Stop stops a container, killing it after the given grace period.
func (r *DockerRuntime) Stop(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout / time.Second)
	if err := r.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	return nil
}

// Remove deletes a stopped container.
func (r *DockerRuntime) Remove(ctx context.Context, id string) error {
	if err := r.client.ContainerRemove(ctx, id, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}
