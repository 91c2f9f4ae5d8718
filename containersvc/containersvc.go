// Package containersvc implements the containerization facade (C6): a
// process-wide service gating every container operation on an enabled flag,
// normalizing handler errors into a uniform OperationResult, and notifying
// lifecycle of observed activity. Generalizes box.go's Box (which bundled a
// single container's lifecycle methods behind one struct) into a facade in
// front of the pluggable engine.Handler.
package containersvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dyad/orchestrator/engine"
	"github.com/dyad/orchestrator/lifecycle"
)

// OperationResult is the uniform return shape for every facade method (§4.3).
type OperationResult struct {
	Success bool
	Message string
	Data    any
	Error   string
}

func ok(msg string, data any) OperationResult {
	return OperationResult{Success: true, Message: msg, Data: data}
}

func disabled() OperationResult {
	return OperationResult{Success: true, Message: "containerization disabled"}
}

func fail(err error) OperationResult {
	return OperationResult{Success: false, Error: err.Error()}
}

// HandlerResolver resolves the engine handler current configuration selects.
// Supplied by engine/factory at the composition root.
type HandlerResolver func(ctx context.Context) (engine.Handler, error)

// Service is the C6 singleton, held by the composition root and passed
// explicitly to request handlers and the reaper (§9 "Singletons").
type Service struct {
	enabled      bool
	resolve      HandlerResolver
	defaultImage string
	Lifecycle    *lifecycle.Manager
}

// New constructs the facade. enabled mirrors CONTAINERIZATION_ENABLED;
// defaultImage is config.Config.Image(), used to fill RunOptions.Image
// whenever a caller leaves it blank so every RunContainer call (restart,
// preview cold-start) issues a valid `docker run <image>` without every
// caller having to thread the configured image through itself.
func New(enabled bool, resolve HandlerResolver, lc *lifecycle.Manager, defaultImage string) *Service {
	return &Service{enabled: enabled, resolve: resolve, Lifecycle: lc, defaultImage: defaultImage}
}

// IsEnabled reports the enabled flag.
func (s *Service) IsEnabled() bool { return s.enabled }

// GetServiceStatus returns free-form status for diagnostics endpoints.
func (s *Service) GetServiceStatus(ctx context.Context) OperationResult {
	if !s.enabled {
		return disabled()
	}
	h, err := s.resolve(ctx)
	if err != nil {
		return fail(err)
	}
	return ok("ok", h.GetEngineInfo(ctx))
}

func (s *Service) handler(ctx context.Context) (engine.Handler, error) {
	if !s.enabled {
		return nil, nil
	}
	return s.resolve(ctx)
}

// RunContainer starts or reuses a workspace container (§4.1).
func (s *Service) RunContainer(ctx context.Context, opts engine.RunOptions) OperationResult {
	if !s.enabled {
		return disabled()
	}
	h, err := s.handler(ctx)
	if err != nil {
		return fail(err)
	}
	if opts.Image == "" {
		opts.Image = s.defaultImage
	}
	res, err := h.RunContainer(ctx, opts)
	if err != nil {
		return s.convert(err)
	}
	s.Lifecycle.RecordActivity(opts.WorkspaceID)
	return ok("container running", res)
}

// StopContainer stops a workspace's container; idempotent.
func (s *Service) StopContainer(ctx context.Context, wid int64) OperationResult {
	if !s.enabled {
		return disabled()
	}
	h, err := s.handler(ctx)
	if err != nil {
		return fail(err)
	}
	if err := h.StopContainer(ctx, wid); err != nil {
		return s.convert(err)
	}
	s.Lifecycle.ReleasePort(wid)
	return ok("stopped", nil)
}

// GetContainerStatus reports live container status and records activity on
// success, per §4.3's "single touchpoint that keeps a container alive".
func (s *Service) GetContainerStatus(ctx context.Context, wid int64) OperationResult {
	if !s.enabled {
		return disabled()
	}
	h, err := s.handler(ctx)
	if err != nil {
		return fail(err)
	}
	status, err := h.GetContainerStatus(ctx, wid)
	if err != nil {
		return s.convert(err)
	}
	if status.IsRunning {
		s.Lifecycle.RecordActivity(wid)
	}
	return ok("status", status)
}

// GetContainerLogs returns trailing logs and records activity on success.
func (s *Service) GetContainerLogs(ctx context.Context, wid int64, lines int) OperationResult {
	if !s.enabled {
		return disabled()
	}
	h, err := s.handler(ctx)
	if err != nil {
		return fail(err)
	}
	logs, err := h.GetContainerLogs(ctx, wid, lines)
	if err != nil {
		return s.convert(err)
	}
	s.Lifecycle.RecordActivity(wid)
	return ok("logs", logs)
}

// ExecInContainer runs a one-shot command and records activity on success.
func (s *Service) ExecInContainer(ctx context.Context, wid int64, argv []string) OperationResult {
	if !s.enabled {
		return disabled()
	}
	h, err := s.handler(ctx)
	if err != nil {
		return fail(err)
	}
	res, err := h.ExecInContainer(ctx, wid, argv)
	if err != nil {
		return s.convert(err)
	}
	s.Lifecycle.RecordActivity(wid)
	return ok("exec complete", res)
}

// Shell runs an interactive command inside the workspace's container.
// Records activity on success, same as ExecInContainer.
func (s *Service) Shell(ctx context.Context, wid int64, shellCmd string, stdin io.Reader, stdout, stderr io.Writer) OperationResult {
	if !s.enabled {
		return disabled()
	}
	h, err := s.handler(ctx)
	if err != nil {
		return fail(err)
	}
	if err := h.Shell(ctx, wid, shellCmd, stdin, stdout, stderr); err != nil {
		return s.convert(err)
	}
	s.Lifecycle.RecordActivity(wid)
	return ok("shell session ended", nil)
}

// RemoveContainer removes the container and its volumes.
func (s *Service) RemoveContainer(ctx context.Context, wid int64, force bool) OperationResult {
	if !s.enabled {
		return disabled()
	}
	h, err := s.handler(ctx)
	if err != nil {
		return fail(err)
	}
	if err := h.RemoveContainer(ctx, wid, force); err != nil {
		return s.convert(err)
	}
	if err := h.CleanupVolumes(ctx, wid); err != nil {
		slog.WarnContext(ctx, "containersvc.RemoveContainer: volume cleanup failed", "workspace", wid, "error", err)
	}
	s.Lifecycle.ReleasePort(wid)
	return ok("removed", nil)
}

// ListContainers lists all workspace containers (used by the diagnostics
// endpoints, §6 GET /api/containers/info).
func (s *Service) ListContainers(ctx context.Context) OperationResult {
	if !s.enabled {
		return disabled()
	}
	h, err := s.handler(ctx)
	if err != nil {
		return fail(err)
	}
	list, err := h.ListWorkspaceContainers(ctx)
	if err != nil {
		return s.convert(err)
	}
	return ok("containers", list)
}

// convert maps a handler error into the taxonomy of §7, logging anything
// unrecognized rather than throwing (only unknown-engine misconfiguration
// is allowed to propagate as a hard error, per §7 "Propagation policy").
func (s *Service) convert(err error) OperationResult {
	switch {
	case errors.Is(err, engine.ErrEngineUnavailable):
		return OperationResult{Success: false, Error: "EngineUnavailable: " + err.Error()}
	case errors.Is(err, engine.ErrNotReady):
		var nre *engine.NotReadyError
		if errors.As(err, &nre) {
			return OperationResult{Success: false, Error: "NotReady", Data: nre.LogTail}
		}
		return OperationResult{Success: false, Error: "NotReady"}
	case errors.Is(err, engine.ErrPortConflict):
		return OperationResult{Success: false, Error: "PortConflict"}
	case errors.Is(err, engine.ErrNoPortsAvailable):
		return OperationResult{Success: false, Error: "NoPortsAvailable"}
	case errors.Is(err, engine.ErrNotFound):
		return OperationResult{Success: false, Error: "NotFound"}
	default:
		slog.Warn("containersvc: unhandled handler error", "error", err)
		return OperationResult{Success: false, Error: fmt.Sprintf("internal: %v", err)}
	}
}
