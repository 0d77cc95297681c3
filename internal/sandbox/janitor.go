package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"

	"github.com/Amoako419/Agentic-coder/internal/shared"
	"github.com/Amoako419/Agentic-coder/internal/store"
)

const janitorInterval = 5 * time.Minute

// leakGracePeriod is how long past its run timeout a sandbox container may
// exist before the janitor treats it as leaked.
const leakGracePeriod = time.Minute

// StartJanitor runs a background goroutine that periodically removes expired
// chat sessions and force-removes leaked sandbox containers. runner may be
// nil when the sandbox is disabled; session cleanup still runs.
func StartJanitor(ctx context.Context, repo store.Repository, runner *DockerRunner, sessionTTL time.Duration) {
	ticker := time.NewTicker(janitorInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Janitor started", "interval", janitorInterval, "session_ttl", sessionTTL)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, runner, sessionTTL)
			case <-ctx.Done():
				slog.Info("Janitor shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, repo store.Repository, runner *DockerRunner, sessionTTL time.Duration) {
	if deleted, err := cleanupSessionsWithRetry(ctx, repo, sessionTTL); err != nil {
		slog.Error("Janitor failed to cleanup expired sessions", "error", err)
	} else if deleted > 0 {
		slog.Info("Janitor removed expired sessions", "count", deleted)
	}

	if runner == nil {
		return
	}
	if removed, err := runner.SweepLeaked(ctx); err != nil {
		slog.Error("Janitor failed to sweep leaked sandbox containers", "error", err)
	} else if removed > 0 {
		slog.Info("Janitor removed leaked sandbox containers", "count", removed)
	}
}

// cleanupSessionsWithRetry deletes expired sessions with exponential backoff
// to handle SQLITE_BUSY errors from concurrent chat writes.
func cleanupSessionsWithRetry(ctx context.Context, repo store.Repository, ttl time.Duration) (int64, error) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		deleted, err := repo.CleanupExpiredSessions(ctx, ttl)
		if err == nil {
			return deleted, nil
		}
		lastErr = err

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("Janitor session cleanup hit SQLITE_BUSY, retrying",
				"attempt", i+1,
				"delay", delay,
			)
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		break
	}
	return 0, fmt.Errorf("cleanup expired sessions after retries: %w", lastErr)
}

// SweepLeaked force-removes sandbox containers that outlived their run
// timeout, which can happen when the server restarts mid-run.
func (r *DockerRunner) SweepLeaked(ctx context.Context) (int, error) {
	listFilters := filters.NewArgs(filters.Arg("name", containerNamePrefix))
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: listFilters,
	})
	if err != nil {
		return 0, fmt.Errorf("list sandbox containers: %w", err)
	}

	maxAge := r.cfg.RunTimeout + leakGracePeriod
	removed := 0
	for _, c := range containers {
		if !hasSandboxName(c.Names) {
			continue
		}
		age := time.Since(time.Unix(c.Created, 0))
		if age < maxAge {
			continue
		}
		slog.Info("Removing leaked sandbox container", "container_id", c.ID, "age", age)
		r.removeContainer(c.ID)
		removed++
	}
	return removed, nil
}

// hasSandboxName guards against the name filter's substring matching by
// checking the exact prefix. Docker reports names with a leading slash.
func hasSandboxName(names []string) bool {
	for _, name := range names {
		if strings.HasPrefix(strings.TrimPrefix(name, "/"), containerNamePrefix) {
			return true
		}
	}
	return false
}
