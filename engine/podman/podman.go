// Package podman implements engine.Handler against the podman CLI (§4.1 C4).
// Podman's inspect/run/ps surface is close enough to Docker's that this
// package largely mirrors engine/docker, including its inspect JSON shapes.
// It differs in mounting the workspace with --volume and the :Z relabel
// option, and in falling back to {{.Client.Version}} when reading the
// engine version.
package podman

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dyad/orchestrator/engine"
	"github.com/dyad/orchestrator/engine/cliflags"
)

// Handler binds engine.Handler to the podman CLI.
type Handler struct {
	engine.Abstract
}

// New constructs a Podman engine handler.
func New() *Handler {
	return &Handler{Abstract: engine.Abstract{Binary: "podman"}}
}

func (h *Handler) Initialize(ctx context.Context) error {
	if !h.CommandExists(ctx) {
		return engine.ErrEngineUnavailable
	}
	return nil
}

func (h *Handler) IsAvailable(ctx context.Context) bool {
	return h.CommandExists(ctx)
}

func (h *Handler) Version(ctx context.Context) (string, error) {
	res, err := h.Run(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil || strings.TrimSpace(res.Stdout) == "" {
		res, err = h.Run(ctx, "version", "--format", "{{.Client.Version}}")
		if err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (h *Handler) GetContainerName(workspaceID int64) string {
	return engine.ContainerName(workspaceID)
}

type runFlags struct {
	Detach  bool              `flag:"--detach"`
	Name    string            `flag:"--name"`
	Publish string            `flag:"--publish"`
	Volume  []string          `flag:"--volume"`
	Workdir string            `flag:"--workdir"`
	Env     map[string]string `flag:"--env"`
	CPUs    string            `flag:"--cpus"`
	Memory  string            `flag:"--memory"`
}

func (h *Handler) RunContainer(ctx context.Context, opts engine.RunOptions) (*engine.RunResult, error) {
	name := h.GetContainerName(opts.WorkspaceID)

	if !opts.ForceRecreate {
		running, err := h.IsContainerRunning(ctx, opts.WorkspaceID)
		if err == nil && running {
			slog.InfoContext(ctx, "podman.RunContainer: already running", "workspace", opts.WorkspaceID)
			return &engine.RunResult{ContainerName: name, Port: opts.Port}, nil
		}
	}

	if err := h.ensureVolume(ctx, opts.WorkspaceID); err != nil {
		return nil, fmt.Errorf("ensure volume: %w", err)
	}

	if err := h.removeStale(ctx, opts); err != nil {
		return nil, err
	}

	env := map[string]string{
		"PORT": strconv.Itoa(opts.Port),
		"HOST": "0.0.0.0",
	}
	for k, v := range opts.EnvVars {
		env[k] = v
	}

	flags := runFlags{
		Detach:  true,
		Name:    name,
		Publish: fmt.Sprintf("%d:%d", opts.Port, opts.Port),
		Volume: []string{
			fmt.Sprintf("%s:/app:Z", opts.WorkspacePath),
			fmt.Sprintf("%s:/app/node_modules", engine.VolumeName(opts.WorkspaceID)),
		},
		Workdir: "/app",
		Env:     env,
		CPUs:    opts.CPULimit,
		Memory:  opts.MemoryLimit,
	}

	if opts.Image != "" {
		engine.LogImageDigest(ctx, opts.Image)
	}

	args := append([]string{"run"}, cliflags.ToArgs(&flags)...)
	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	if _, err := h.Run(ctx, args...); err != nil {
		return nil, fmt.Errorf("podman run: %w", err)
	}

	if err := h.waitReady(ctx, opts.WorkspaceID); err != nil {
		logs, _ := h.GetContainerLogs(ctx, opts.WorkspaceID, 100)
		return nil, &engine.NotReadyError{Workspace: name, LogTail: logs}
	}

	return &engine.RunResult{ContainerName: name, Port: opts.Port}, nil
}

func (h *Handler) ensureVolume(ctx context.Context, workspaceID int64) error {
	vol := engine.VolumeName(workspaceID)
	res, err := h.Run(ctx, "volume", "inspect", vol)
	if err == nil && strings.TrimSpace(res.Stdout) != "" {
		return nil
	}
	_, err = h.Run(ctx, "volume", "create", vol)
	return err
}

func (h *Handler) removeStale(ctx context.Context, opts engine.RunOptions) error {
	name := h.GetContainerName(opts.WorkspaceID)

	exists, _ := h.ContainerExists(ctx, opts.WorkspaceID)
	if exists {
		h.Run(ctx, "stop", name)
		h.Run(ctx, "rm", name)
	}

	conflictID, err := h.findPortOwner(ctx, opts.Port)
	if err != nil {
		return err
	}
	if conflictID != "" && conflictID != name {
		if !opts.ForceRecreate {
			return engine.ErrPortConflict
		}
		h.Run(ctx, "stop", conflictID)
		h.Run(ctx, "rm", conflictID)
	}
	return nil
}

func (h *Handler) findPortOwner(ctx context.Context, port int) (string, error) {
	res, err := h.Run(ctx, "ps", "--format", "{{.ID}}\t{{.Ports}}")
	if err != nil {
		return "", nil
	}
	needle := fmt.Sprintf(":%d->", port)
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) == 2 && strings.Contains(parts[1], needle) {
			return parts[0], nil
		}
	}
	return "", nil
}

func (h *Handler) waitReady(ctx context.Context, workspaceID int64) error {
	return engine.WaitForCondition(ctx, engine.DefaultReadyTimeout, time.Second, func(ctx context.Context) (bool, error) {
		return h.IsContainerReady(ctx, workspaceID)
	})
}

func (h *Handler) StopContainer(ctx context.Context, workspaceID int64) error {
	name := h.GetContainerName(workspaceID)
	exists, err := h.ContainerExists(ctx, workspaceID)
	if err != nil || !exists {
		return nil
	}
	_, err = h.Run(ctx, "stop", name)
	return err
}

type inspectOutput struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	State struct {
		Running   bool      `json:"Running"`
		StartedAt time.Time `json:"StartedAt"`
	} `json:"State"`
	NetworkSettings struct {
		Ports map[string][]struct {
			HostPort string `json:"HostPort"`
		} `json:"Ports"`
	} `json:"NetworkSettings"`
	Mounts []struct {
		Type        string `json:"Type"`
		Source      string `json:"Source"`
		Destination string `json:"Destination"`
		RW          bool   `json:"RW"`
	} `json:"Mounts"`
	Config struct {
		Labels map[string]string `json:"Labels"`
	} `json:"Config"`
}

func (h *Handler) inspect(ctx context.Context, workspaceID int64) (*inspectOutput, error) {
	name := h.GetContainerName(workspaceID)
	res, err := h.Run(ctx, "inspect", name)
	if err != nil {
		return nil, engine.ErrNotFound
	}
	var out []inspectOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("parse podman inspect: %w", err)
	}
	if len(out) == 0 {
		return nil, engine.ErrNotFound
	}
	return &out[0], nil
}

func (h *Handler) toContainer(o *inspectOutput) engine.Container {
	ports := map[int]int{}
	for containerPort, bindings := range o.NetworkSettings.Ports {
		cp, _, _ := strings.Cut(containerPort, "/")
		cpInt, err := strconv.Atoi(cp)
		if err != nil || len(bindings) == 0 {
			continue
		}
		hp, err := strconv.Atoi(bindings[0].HostPort)
		if err != nil {
			continue
		}
		ports[cpInt] = hp
	}
	var mounts []engine.MountInfo
	for _, m := range o.Mounts {
		mounts = append(mounts, engine.MountInfo{
			Type: strings.ToLower(m.Type), Source: m.Source, Destination: m.Destination, ReadOnly: !m.RW,
		})
	}
	return engine.Container{
		ID: o.ID, Name: strings.TrimPrefix(o.Name, "/"), Running: o.State.Running,
		StartedAt: o.State.StartedAt, Ports: ports, Mounts: mounts, Labels: o.Config.Labels,
	}
}

func (h *Handler) GetContainerStatus(ctx context.Context, workspaceID int64) (*engine.Status, error) {
	o, err := h.inspect(ctx, workspaceID)
	if err != nil {
		if err == engine.ErrNotFound {
			return &engine.Status{StatusText: "absent"}, nil
		}
		return nil, err
	}
	c := h.toContainer(o)
	ready, _ := h.IsContainerReady(ctx, workspaceID)
	deps, _ := h.HasDependenciesInstalled(ctx, workspaceID)

	port := 0
	for _, hostPort := range c.Ports {
		port = hostPort
		break
	}

	status := "stopped"
	if c.Running {
		status = "running"
	}
	return &engine.Status{
		IsRunning: c.Running, IsReady: ready, HasDependenciesInstalled: deps,
		ContainerName: c.Name, Port: port, StatusText: status,
	}, nil
}

func (h *Handler) ContainerExists(ctx context.Context, workspaceID int64) (bool, error) {
	_, err := h.inspect(ctx, workspaceID)
	if err == engine.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (h *Handler) IsContainerRunning(ctx context.Context, workspaceID int64) (bool, error) {
	o, err := h.inspect(ctx, workspaceID)
	if err == engine.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return o.State.Running, nil
}

func (h *Handler) IsContainerReady(ctx context.Context, workspaceID int64) (bool, error) {
	running, err := h.IsContainerRunning(ctx, workspaceID)
	if err != nil || !running {
		return false, nil
	}

	logs, err := h.GetContainerLogs(ctx, workspaceID, 200)
	if err == nil && engine.LogsLookReady(logs) {
		return true, nil
	}

	status, err := h.GetContainerStatus(ctx, workspaceID)
	if err != nil || status.Port == 0 {
		return false, nil
	}
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", status.Port), 500*time.Millisecond)
	if err != nil {
		return false, nil
	}
	conn.Close()
	return true, nil
}

func (h *Handler) HasDependenciesInstalled(ctx context.Context, workspaceID int64) (bool, error) {
	res, err := h.ExecInContainer(ctx, workspaceID, []string{"test", "-d", "/app/node_modules"})
	if err != nil {
		return false, nil
	}
	return res.ExitCode == 0, nil
}

func (h *Handler) SyncFilesToContainer(ctx context.Context, workspaceID int64, filePaths []string) error {
	slog.DebugContext(ctx, "podman.SyncFilesToContainer: no-op under bind mount", "workspace", workspaceID, "files", len(filePaths))
	return nil
}

func (h *Handler) ExecInContainer(ctx context.Context, workspaceID int64, argv []string) (*engine.ExecResult, error) {
	name := h.GetContainerName(workspaceID)
	args := append([]string{"exec", name}, argv...)
	res, err := h.Run(ctx, args...)
	if res == nil {
		return &engine.ExecResult{ExitCode: -1}, err
	}
	if err != nil {
		return &engine.ExecResult{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}, nil
	}
	return &engine.ExecResult{ExitCode: 0, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

func (h *Handler) Shell(ctx context.Context, workspaceID int64, shellCmd string, stdin io.Reader, stdout, stderr io.Writer) error {
	name := h.GetContainerName(workspaceID)
	return h.RunInteractive(ctx, []string{"exec", "-it", name, "/bin/sh", "-c", shellCmd}, stdin, stdout, stderr)
}

func (h *Handler) GetContainerLogs(ctx context.Context, workspaceID int64, lines int) (string, error) {
	name := h.GetContainerName(workspaceID)
	args := []string{"logs"}
	if lines > 0 {
		args = append(args, "--tail", strconv.Itoa(lines))
	}
	args = append(args, name)
	res, err := h.Run(ctx, args...)
	if res == nil {
		return "", err
	}
	return res.Stdout + res.Stderr, nil
}

func (h *Handler) RemoveContainer(ctx context.Context, workspaceID int64, force bool) error {
	name := h.GetContainerName(workspaceID)
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, name)
	_, err := h.Run(ctx, args...)
	return err
}

func (h *Handler) CleanupVolumes(ctx context.Context, workspaceID int64) error {
	for _, vol := range []string{engine.VolumeName(workspaceID), engine.LegacyVolumeName(workspaceID)} {
		h.Run(ctx, "volume", "rm", vol)
	}
	return nil
}

func (h *Handler) GetEngineInfo(ctx context.Context) engine.Info {
	v, err := h.Version(ctx)
	return engine.Info{Kind: engine.Podman, Version: v, Available: err == nil}
}

func (h *Handler) ListWorkspaceContainers(ctx context.Context) ([]engine.Container, error) {
	res, err := h.Run(ctx, "ps", "-a", "--filter", "name="+engine.ContainerNamePrefix, "--format", "{{.Names}}")
	if err != nil {
		return nil, err
	}
	var out []engine.Container
	for _, name := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if name == "" {
			continue
		}
		wid, ok := workspaceIDFromName(name)
		if !ok {
			continue
		}
		o, err := h.inspect(ctx, wid)
		if err != nil {
			continue
		}
		out = append(out, h.toContainer(o))
	}
	return out, nil
}

func workspaceIDFromName(name string) (int64, bool) {
	if !strings.HasPrefix(name, engine.ContainerNamePrefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(name, engine.ContainerNamePrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (h *Handler) Stats(ctx context.Context, workspaceID int64) (float64, uint64, error) {
	name := h.GetContainerName(workspaceID)
	res, err := h.Run(ctx, "stats", "--no-stream", "--format", "{{.CPUPerc}}\t{{.NetIO}}", name)
	if err != nil {
		return 0, 0, err
	}
	parts := strings.SplitN(strings.TrimSpace(res.Stdout), "\t", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("unexpected podman stats output: %q", res.Stdout)
	}
	cpu, err := strconv.ParseFloat(strings.TrimSuffix(parts[0], "%"), 64)
	if err != nil {
		return 0, 0, err
	}
	return cpu, parseNetIO(parts[1]), nil
}

func parseNetIO(s string) uint64 {
	halves := strings.Split(s, "/")
	var total uint64
	for _, half := range halves {
		total += parseHumanBytes(strings.TrimSpace(half))
	}
	return total
}

func parseHumanBytes(s string) uint64 {
	// Longer suffixes first, so "kB" is matched before its trailing "B".
	units := []struct {
		suffix string
		mult   float64
	}{{"TB", 1e12}, {"GB", 1e9}, {"MB", 1e6}, {"kB", 1e3}, {"KB", 1e3}, {"B", 1}}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			n := strings.TrimSuffix(s, u.suffix)
			var f float64
			fmt.Sscanf(n, "%f", &f)
			return uint64(f * u.mult)
		}
	}
	return 0
}
