// Package engine defines the pluggable container-engine contract (C1) and
// shared helpers for concrete handlers (C2). Concrete handlers live in
// sibling packages (engine/docker, engine/podman); engine/factory selects
// between them at process start based on configuration.
package engine

import "time"

// Kind identifies an engine family.
type Kind string

const (
	Docker Kind = "docker"
	Podman Kind = "podman"
)

// RunOptions describes a workspace container start request.
type RunOptions struct {
	WorkspaceID    int64
	WorkspacePath  string
	Port           int
	Image          string
	InstallCommand string
	StartCommand   string
	CPULimit       string
	MemoryLimit    string
	EnvVars        map[string]string
	ForceRecreate  bool
	SkipInstall    bool
	// Command is the full shell command run as the container's process
	// (normally the startup script emitted by startupscript.Generate).
	Command []string
}

// RunResult is returned on a successful RunContainer call.
type RunResult struct {
	ContainerName string
	Port          int
}

// Status mirrors GetContainerStatus's output (§4.1).
type Status struct {
	IsRunning               bool
	IsReady                 bool
	HasDependenciesInstalled bool
	ContainerName           string
	Port                    int
	StatusText              string
}

// ExecResult carries the result of a one-shot ExecInContainer call.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Info is free-form engine metadata returned by GetEngineInfo.
type Info struct {
	Kind      Kind
	Version   string
	Available bool
}

// Container is the subset of engine inspect output the handlers need,
// normalized across Docker and Podman's differing JSON shapes.
type Container struct {
	ID         string
	Name       string
	Running    bool
	StartedAt  time.Time
	Ports      map[int]int // container port -> host port
	Mounts     []MountInfo
	Labels     map[string]string
}

// MountInfo describes one bind or volume mount observed on an inspected container.
type MountInfo struct {
	Type        string // "bind" or "volume"
	Source      string
	Destination string
	ReadOnly    bool
}

const (
	// DefaultReadyTimeout bounds RunContainer's readiness poll (§4.1).
	DefaultReadyTimeout = 60 * time.Second
	// DefaultCommandTimeout bounds a single engine CLI invocation (§5).
	DefaultCommandTimeout = 30 * time.Second
	// DefaultProbeTimeout bounds IsAvailable (§4.1).
	DefaultProbeTimeout = 2 * time.Second
)
