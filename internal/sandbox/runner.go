// Package sandbox runs untrusted code snippets in ephemeral Docker containers.
package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/google/uuid"

	"github.com/Amoako419/Agentic-coder/internal/config"
)

const (
	containerNamePrefix = "coder-sandbox-"
	sandboxUser         = "1000"
	sandboxWorkDir      = "/tmp/snippet"
	stopTimeoutSecs     = 5
)

// ErrUnsupportedLanguage is returned for languages the sandbox cannot run.
var ErrUnsupportedLanguage = fmt.Errorf("unsupported language")

// RunResult is the outcome of executing one snippet.
type RunResult struct {
	Output   string        `json:"output"`
	ExitCode int64         `json:"exit_code"`
	Duration time.Duration `json:"-"`
	TimedOut bool          `json:"timed_out"`
}

// Runner executes code snippets in isolated containers.
type Runner interface {
	// RunSnippet executes code in a one-shot container and returns its
	// combined output. The container has no network access.
	RunSnippet(ctx context.Context, language, code string) (*RunResult, error)

	// Ping verifies the container runtime is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying client.
	Close() error
}

// DockerRunner implements Runner using the Docker API.
type DockerRunner struct {
	cli *client.Client
	cfg config.SandboxConfig
}

// NewDockerRunner creates a Docker-backed snippet runner.
func NewDockerRunner(cfg config.SandboxConfig) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	slog.Info("Sandbox docker client initialized", "image", cfg.Image)
	return &DockerRunner{cli: cli, cfg: cfg}, nil
}

// commandForLanguage maps a language to the container command that runs the
// snippet. Languages without an -e/-c style flag receive the code through the
// SNIPPET environment variable.
func commandForLanguage(language, code string) (cmd []string, env []string, err error) {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "python", "python3", "py":
		return []string{"python3", "-c", code}, nil, nil
	case "javascript", "js", "node":
		return []string{"node", "-e", code}, nil, nil
	case "bash", "sh", "shell":
		return []string{"bash", "-c", code}, nil, nil
	case "go", "golang":
		script := `mkdir -p ` + sandboxWorkDir + ` && cd ` + sandboxWorkDir +
			` && printf '%s' "$SNIPPET" > main.go && go run main.go`
		return []string{"sh", "-c", script}, []string{"SNIPPET=" + code}, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, language)
	}
}

// RunSnippet executes code in a one-shot container.
func (r *DockerRunner) RunSnippet(ctx context.Context, language, code string) (*RunResult, error) {
	cmd, env, err := commandForLanguage(language, code)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()

	containerName := containerNamePrefix + uuid.NewString()

	cfg := &container.Config{
		Image:      r.cfg.Image,
		Cmd:        cmd,
		Env:        env,
		User:       sandboxUser,
		WorkingDir: "/tmp",
		Tty:        true,
	}
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:    r.cfg.MemoryLimitBytes,
			CPUQuota:  r.cfg.CPUQuota,
			PidsLimit: ptr(r.cfg.PidsLimit),
		},
		ReadonlyRootfs: false,
	}

	resp, err := r.cli.ContainerCreate(runCtx, cfg, hostConfig, nil, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("create sandbox container: %w", err)
	}
	// Cleanup uses a fresh context so a timed-out run still gets removed.
	defer r.removeContainer(resp.ID)

	start := time.Now()
	if err := r.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start sandbox container: %w", err)
	}

	waitCh, errCh := r.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)

	var exitCode int64
	timedOut := false
	select {
	case status := <-waitCh:
		exitCode = status.StatusCode
	case err := <-errCh:
		if runCtx.Err() != nil {
			timedOut = true
			exitCode = -1
		} else {
			return nil, fmt.Errorf("wait for sandbox container: %w", err)
		}
	case <-runCtx.Done():
		timedOut = true
		exitCode = -1
	}
	duration := time.Since(start)

	output, err := r.readLogs(resp.ID)
	if err != nil {
		slog.Warn("Failed to read sandbox logs", "container_id", resp.ID, "error", err)
	}

	slog.Info("Sandbox run finished",
		"container_id", resp.ID,
		"language", language,
		"exit_code", exitCode,
		"timed_out", timedOut,
		"duration", duration,
	)

	return &RunResult{
		Output:   output,
		ExitCode: exitCode,
		Duration: duration,
		TimedOut: timedOut,
	}, nil
}

// readLogs fetches combined stdout/stderr. Logs are unmultiplexed because the
// container runs with a TTY.
func (r *DockerRunner) readLogs(containerID string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reader, err := r.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("fetch sandbox logs: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read sandbox logs: %w", err)
	}
	return string(data), nil
}

// removeContainer force-removes a sandbox container, tolerating containers
// that are already gone.
func (r *DockerRunner) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	timeout := stopTimeoutSecs
	if err := r.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		slog.Debug("Sandbox container stop returned error, continuing to remove", "container_id", containerID, "error", err)
	}

	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return
		}
		if strings.Contains(err.Error(), "is already in progress") {
			return
		}
		slog.Warn("Failed to remove sandbox container", "container_id", containerID, "error", err)
	}
}

// Ping verifies the docker daemon is reachable.
func (r *DockerRunner) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	return nil
}

// Close releases the docker client.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

func ptr[T any](v T) *T {
	return &v
}
