// Package previewproxy implements the preview router (C10, §4.7): an
// on-demand reverse proxy that starts a workspace's container if needed and
// forwards HTTP/WebSocket traffic to its dev server. Concurrent requests for
// the same workspace during startup are coalesced through
// lifecycle.Manager's MarkStarting/ClearStarting, following §9's "Reverse
// proxy with WebSocket upgrade" guidance: one handler pumps bytes both ways
// after an upgrade.
package previewproxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dyad/orchestrator/containersvc"
	"github.com/dyad/orchestrator/engine"
	"github.com/dyad/orchestrator/lifecycle"
	"github.com/dyad/orchestrator/startupscript"
)

// Workspace is the subset of workspace data a cold-start needs to build a
// full RunOptions, mirroring stream.Workspace so previewproxy doesn't have
// to import the store package directly.
type Workspace struct {
	Path           string
	InstallCommand string
	StartCommand   string
}

// WorkspaceResolver looks up a workspace's on-disk path and command
// overrides by id. Supplied by the composition root, backed by the same
// store the chat stream processor uses.
type WorkspaceResolver func(ctx context.Context, wid int64) (Workspace, error)

// Router serves ANY /app/preview/{workspaceId}/** by proxying to the
// workspace's dev server (§4.7, §6).
type Router struct {
	Container  *containersvc.Service
	Lifecycle  *lifecycle.Manager
	Resolve    WorkspaceResolver
	GraceDelay time.Duration
	StartWait  time.Duration
}

// New constructs a Router with the spec's default grace period (~3s).
func New(container *containersvc.Service, lc *lifecycle.Manager, resolve WorkspaceResolver) *Router {
	return &Router{Container: container, Lifecycle: lc, Resolve: resolve, GraceDelay: 3 * time.Second, StartWait: engine.DefaultReadyTimeout}
}

// ServeHTTP implements the §4.7 per-request algorithm.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	wid, rest, ok := parsePreviewPath(req.URL.Path)
	if !ok {
		http.NotFound(w, req)
		return
	}

	ctx := req.Context()
	r.Lifecycle.RecordActivity(wid)

	port, err := r.ensureRunning(ctx, wid)
	if err != nil {
		if err == engine.ErrNotReady {
			http.Error(w, "dev server did not become ready in time", http.StatusGatewayTimeout)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	target := &url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", port)}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.WarnContext(r.Context(), "previewproxy: upstream error", "workspace", wid, "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}

	req.URL.Path = rest
	proxy.ServeHTTP(w, req)
}

// ensureRunning implements §4.7 steps 1-3, coalescing concurrent starts for
// the same workspace via Lifecycle.MarkStarting.
func (r *Router) ensureRunning(ctx context.Context, wid int64) (int, error) {
	status := r.Container.GetContainerStatus(ctx, wid)
	if data, ok := status.Data.(*engine.Status); ok && data.IsRunning {
		if p, ok := r.Lifecycle.GetPort(wid); ok {
			return p, nil
		}
		if data.Port != 0 {
			return data.Port, nil
		}
	}

	wait, first := r.Lifecycle.MarkStarting(wid)
	if !first {
		select {
		case <-wait:
		case <-time.After(r.StartWait):
			return 0, engine.ErrNotReady
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		if p, ok := r.Lifecycle.GetPort(wid); ok {
			return p, nil
		}
		return 0, engine.ErrNotReady
	}
	defer r.Lifecycle.ClearStarting(wid)

	ws, err := r.Resolve(ctx, wid)
	if err != nil {
		return 0, fmt.Errorf("previewproxy: resolve workspace %d: %w", wid, err)
	}

	port, err := r.Lifecycle.AllocatePort(ctx, wid, true)
	if err != nil {
		return 0, err
	}

	pm := startupscript.DetectPackageManager(ws.Path)
	script := startupscript.Generate(startupscript.Options{WorkspacePath: ws.Path, DevPort: port, PackageManager: pm})

	res := r.Container.RunContainer(ctx, engine.RunOptions{
		WorkspaceID:    wid,
		WorkspacePath:  ws.Path,
		Port:           port,
		InstallCommand: ws.InstallCommand,
		StartCommand:   ws.StartCommand,
		Command:        []string{"/bin/sh", "-c", script},
	})
	if !res.Success {
		return 0, fmt.Errorf("previewproxy: start failed: %s", res.Error)
	}

	time.Sleep(r.GraceDelay)
	return port, nil
}

// parsePreviewPath extracts the workspace id and remaining path from a
// /app/preview/{id}/** request path.
func parsePreviewPath(path string) (int64, string, bool) {
	const prefix = "/app/preview/"
	if !strings.HasPrefix(path, prefix) {
		return 0, "", false
	}
	remainder := path[len(prefix):]
	idStr, rest, _ := strings.Cut(remainder, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, "", false
	}
	if rest == "" {
		rest = "/"
	} else {
		rest = "/" + rest
	}
	return id, rest, true
}
