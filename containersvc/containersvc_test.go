package containersvc

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/dyad/orchestrator/engine"
	"github.com/dyad/orchestrator/lifecycle"
)

// stubHandler implements engine.Handler with function-field overrides so
// each test wires only the method it exercises.
type stubHandler struct {
	runContainerFn func(ctx context.Context, opts engine.RunOptions) (*engine.RunResult, error)
	stopContainerFn func(ctx context.Context, wid int64) error
	statusFn        func(ctx context.Context, wid int64) (*engine.Status, error)
	listFn          func(ctx context.Context) ([]engine.Container, error)
}

func (s *stubHandler) Initialize(ctx context.Context) error       { return nil }
func (s *stubHandler) IsAvailable(ctx context.Context) bool       { return true }
func (s *stubHandler) Version(ctx context.Context) (string, error) { return "stub", nil }
func (s *stubHandler) RunContainer(ctx context.Context, opts engine.RunOptions) (*engine.RunResult, error) {
	if s.runContainerFn != nil {
		return s.runContainerFn(ctx, opts)
	}
	return &engine.RunResult{}, nil
}
func (s *stubHandler) StopContainer(ctx context.Context, wid int64) error {
	if s.stopContainerFn != nil {
		return s.stopContainerFn(ctx, wid)
	}
	return nil
}
func (s *stubHandler) GetContainerStatus(ctx context.Context, wid int64) (*engine.Status, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, wid)
	}
	return &engine.Status{}, nil
}
func (s *stubHandler) ContainerExists(ctx context.Context, wid int64) (bool, error) { return false, nil }
func (s *stubHandler) IsContainerRunning(ctx context.Context, wid int64) (bool, error) {
	return false, nil
}
func (s *stubHandler) IsContainerReady(ctx context.Context, wid int64) (bool, error) {
	return false, nil
}
func (s *stubHandler) HasDependenciesInstalled(ctx context.Context, wid int64) (bool, error) {
	return false, nil
}
func (s *stubHandler) SyncFilesToContainer(ctx context.Context, wid int64, filePaths []string) error {
	return nil
}
func (s *stubHandler) ExecInContainer(ctx context.Context, wid int64, argv []string) (*engine.ExecResult, error) {
	return &engine.ExecResult{}, nil
}
func (s *stubHandler) Shell(ctx context.Context, wid int64, shellCmd string, stdin io.Reader, stdout, stderr io.Writer) error {
	return nil
}
func (s *stubHandler) GetContainerLogs(ctx context.Context, wid int64, lines int) (string, error) {
	return "logs", nil
}
func (s *stubHandler) RemoveContainer(ctx context.Context, wid int64, force bool) error { return nil }
func (s *stubHandler) CleanupVolumes(ctx context.Context, wid int64) error              { return nil }
func (s *stubHandler) GetContainerName(wid int64) string {
	return engine.ContainerNamePrefix + "0"
}
func (s *stubHandler) GetEngineInfo(ctx context.Context) engine.Info { return engine.Info{Kind: engine.Docker} }
func (s *stubHandler) ListWorkspaceContainers(ctx context.Context) ([]engine.Container, error) {
	if s.listFn != nil {
		return s.listFn(ctx)
	}
	return nil, nil
}
func (s *stubHandler) Stats(ctx context.Context, wid int64) (float64, uint64, error) { return 0, 0, nil }

func newTestService(t *testing.T, enabled bool, h engine.Handler) *Service {
	t.Helper()
	return newTestServiceWithImage(t, enabled, h, "")
}

func newTestServiceWithImage(t *testing.T, enabled bool, h engine.Handler, image string) *Service {
	t.Helper()
	lc := lifecycle.New(lifecycle.DefaultConfig(), func(ctx context.Context) (engine.Handler, error) {
		return h, nil
	})
	return New(enabled, func(ctx context.Context) (engine.Handler, error) { return h, nil }, lc, image)
}

func TestServiceDisabledShortCircuits(t *testing.T) {
	svc := newTestService(t, false, &stubHandler{})
	ctx := context.Background()

	res := svc.RunContainer(ctx, engine.RunOptions{WorkspaceID: 1})
	if !res.Success || res.Error != "" {
		t.Errorf("disabled RunContainer = %+v, want success with no error", res)
	}
	if res.Message != "containerization disabled" {
		t.Errorf("disabled message = %q", res.Message)
	}
}

func TestRunContainerSucceedsAndReturnsHandlerResult(t *testing.T) {
	h := &stubHandler{
		runContainerFn: func(ctx context.Context, opts engine.RunOptions) (*engine.RunResult, error) {
			return &engine.RunResult{ContainerName: engine.ContainerNamePrefix + "7", Port: 32100}, nil
		},
	}
	svc := newTestService(t, true, h)
	res := svc.RunContainer(context.Background(), engine.RunOptions{WorkspaceID: 7})
	if !res.Success {
		t.Fatalf("RunContainer failed: %+v", res)
	}
	result, ok := res.Data.(*engine.RunResult)
	if !ok || result.Port != 32100 {
		t.Errorf("RunContainer.Data = %#v, want *RunResult with Port 32100", res.Data)
	}
}

func TestRunContainerFillsDefaultImageWhenUnset(t *testing.T) {
	var gotImage string
	h := &stubHandler{
		runContainerFn: func(ctx context.Context, opts engine.RunOptions) (*engine.RunResult, error) {
			gotImage = opts.Image
			return &engine.RunResult{}, nil
		},
	}
	svc := newTestServiceWithImage(t, true, h, "node:20-bookworm")

	if res := svc.RunContainer(context.Background(), engine.RunOptions{WorkspaceID: 1}); !res.Success {
		t.Fatalf("RunContainer failed: %+v", res)
	}
	if gotImage != "node:20-bookworm" {
		t.Errorf("RunOptions.Image = %q, want the configured default image", gotImage)
	}
}

func TestRunContainerKeepsExplicitImage(t *testing.T) {
	var gotImage string
	h := &stubHandler{
		runContainerFn: func(ctx context.Context, opts engine.RunOptions) (*engine.RunResult, error) {
			gotImage = opts.Image
			return &engine.RunResult{}, nil
		},
	}
	svc := newTestServiceWithImage(t, true, h, "node:20-bookworm")

	if res := svc.RunContainer(context.Background(), engine.RunOptions{WorkspaceID: 1, Image: "custom:latest"}); !res.Success {
		t.Fatalf("RunContainer failed: %+v", res)
	}
	if gotImage != "custom:latest" {
		t.Errorf("RunOptions.Image = %q, want the caller-specified image to win", gotImage)
	}
}

func TestStopContainerReleasesPort(t *testing.T) {
	h := &stubHandler{}
	svc := newTestService(t, true, h)
	svc.Lifecycle.AllocatePort(context.Background(), 3, false)
	if _, ok := svc.Lifecycle.GetPort(3); !ok {
		t.Fatalf("expected port allocated before stop")
	}

	res := svc.StopContainer(context.Background(), 3)
	if !res.Success {
		t.Fatalf("StopContainer failed: %+v", res)
	}
	if _, ok := svc.Lifecycle.GetPort(3); ok {
		t.Errorf("expected port released after StopContainer")
	}
}

func TestConvertMapsKnownErrors(t *testing.T) {
	svc := newTestService(t, true, &stubHandler{})

	tests := []struct {
		name    string
		err     error
		wantErr string
	}{
		{"engine unavailable", engine.ErrEngineUnavailable, "EngineUnavailable: " + engine.ErrEngineUnavailable.Error()},
		{"not ready without detail", engine.ErrNotReady, "NotReady"},
		{"not ready with log tail", &engine.NotReadyError{Workspace: "w1", LogTail: "boom"}, "NotReady"},
		{"port conflict", engine.ErrPortConflict, "PortConflict"},
		{"no ports available", engine.ErrNoPortsAvailable, "NoPortsAvailable"},
		{"not found", engine.ErrNotFound, "NotFound"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := svc.convert(tt.err)
			if got.Success {
				t.Fatalf("convert(%v).Success = true, want false", tt.err)
			}
			if got.Error != tt.wantErr {
				t.Errorf("convert(%v).Error = %q, want %q", tt.err, got.Error, tt.wantErr)
			}
		})
	}
}

func TestConvertUnknownErrorFallsBackToInternal(t *testing.T) {
	svc := newTestService(t, true, &stubHandler{})
	err := errors.New("boom")
	got := svc.convert(err)
	if got.Success {
		t.Fatalf("expected failure result")
	}
	if got.Error != "internal: boom" {
		t.Errorf("convert(unknown) = %q, want %q", got.Error, "internal: boom")
	}
}

func TestGetContainerStatusReturnsHandlerStatus(t *testing.T) {
	h := &stubHandler{
		statusFn: func(ctx context.Context, wid int64) (*engine.Status, error) {
			return &engine.Status{IsRunning: wid == 1, Port: 32100}, nil
		},
	}
	svc := newTestService(t, true, h)

	res := svc.GetContainerStatus(context.Background(), 1)
	if !res.Success {
		t.Fatalf("GetContainerStatus failed: %+v", res)
	}
	status, ok := res.Data.(*engine.Status)
	if !ok || !status.IsRunning {
		t.Errorf("GetContainerStatus.Data = %#v, want running status", res.Data)
	}
}

func TestRunContainerPropagatesHandlerError(t *testing.T) {
	h := &stubHandler{
		runContainerFn: func(ctx context.Context, opts engine.RunOptions) (*engine.RunResult, error) {
			return nil, engine.ErrPortConflict
		},
	}
	svc := newTestService(t, true, h)
	res := svc.RunContainer(context.Background(), engine.RunOptions{WorkspaceID: 1})
	if res.Success {
		t.Fatalf("expected failure result")
	}
	if res.Error != "PortConflict" {
		t.Errorf("Error = %q, want %q", res.Error, "PortConflict")
	}
}

func TestListContainersReturnsHandlerList(t *testing.T) {
	h := &stubHandler{
		listFn: func(ctx context.Context) ([]engine.Container, error) {
			return []engine.Container{{Name: engine.ContainerNamePrefix + "9"}}, nil
		},
	}
	svc := newTestService(t, true, h)
	res := svc.ListContainers(context.Background())
	if !res.Success {
		t.Fatalf("ListContainers failed: %+v", res)
	}
	list, ok := res.Data.([]engine.Container)
	if !ok || len(list) != 1 {
		t.Fatalf("ListContainers.Data = %#v, want one container", res.Data)
	}
}
