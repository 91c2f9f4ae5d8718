package engine

import (
	"context"
	"io"
)

// Handler is the contract every concrete engine binding (Docker, Podman)
// satisfies. It operates on a single engine family; the factory caches one
// instance per Kind. Handlers hold no cross-workspace state of their own —
// everything they need to answer a query comes from the engine CLI itself.
type Handler interface {
	// Initialize probes for the engine binary. Returns ErrEngineUnavailable if absent.
	Initialize(ctx context.Context) error
	// IsAvailable is a non-throwing probe with an internal short timeout.
	IsAvailable(ctx context.Context) bool
	// Version returns the engine's reported version string.
	Version(ctx context.Context) (string, error)

	// RunContainer creates (if needed) and starts a workspace container,
	// waiting for it to become ready. See §4.1 for the full contract.
	RunContainer(ctx context.Context, opts RunOptions) (*RunResult, error)
	// StopContainer stops a workspace's container. Idempotent.
	StopContainer(ctx context.Context, workspaceID int64) error
	// GetContainerStatus reports the live state of a workspace's container.
	GetContainerStatus(ctx context.Context, workspaceID int64) (*Status, error)
	// ContainerExists reports whether a container for workspaceID exists (any state).
	ContainerExists(ctx context.Context, workspaceID int64) (bool, error)
	// IsContainerRunning reports whether the container is currently running.
	IsContainerRunning(ctx context.Context, workspaceID int64) (bool, error)
	// IsContainerReady reports whether the dev server inside the container looks ready.
	IsContainerReady(ctx context.Context, workspaceID int64) (bool, error)
	// HasDependenciesInstalled reports whether /app/node_modules exists in the container.
	HasDependenciesInstalled(ctx context.Context, workspaceID int64) (bool, error)
	// SyncFilesToContainer is a no-op under a bind mount; present for engines that require copy-in.
	SyncFilesToContainer(ctx context.Context, workspaceID int64, filePaths []string) error
	// ExecInContainer runs a one-shot command inside the workspace's running container.
	ExecInContainer(ctx context.Context, workspaceID int64, argv []string) (*ExecResult, error)
	// Shell runs an interactive command inside the workspace's running container,
	// pumping stdin/stdout/stderr through a pty when needed. Reached through
	// containersvc.Service.Shell, not by the stream processor.
	Shell(ctx context.Context, workspaceID int64, shellCmd string, stdin io.Reader, stdout, stderr io.Writer) error
	// GetContainerLogs returns up to `lines` trailing log lines (0 means all available).
	GetContainerLogs(ctx context.Context, workspaceID int64, lines int) (string, error)
	// RemoveContainer removes the workspace's container.
	RemoveContainer(ctx context.Context, workspaceID int64, force bool) error
	// CleanupVolumes removes the workspace's persistent dependency-cache volume.
	CleanupVolumes(ctx context.Context, workspaceID int64) error
	// GetContainerName returns the invariant container name "dyad-app-{id}" (I3).
	GetContainerName(workspaceID int64) string
	// GetEngineInfo returns free-form engine metadata for diagnostics.
	GetEngineInfo(ctx context.Context) Info
	// ListWorkspaceContainers lists all containers matching the dyad-app-* naming
	// convention, for lifecycle discovery (§4.4 Discover).
	ListWorkspaceContainers(ctx context.Context) ([]Container, error)
	// Stats returns live CPU% and cumulative network I/O bytes for a running
	// container, used by the reaper's activity heuristic (§4.4).
	Stats(ctx context.Context, workspaceID int64) (cpuPercent float64, netIOBytes uint64, err error)
}
