package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// ContainerNamePrefix is the invariant container-name prefix (I3).
const ContainerNamePrefix = "dyad-app-"

// VolumeNamePrefix is the invariant per-workspace dependency-cache volume prefix (I3).
const VolumeNamePrefix = "dyad-app-"

// VolumeNameSuffix is appended to VolumeNamePrefix+id to form the volume name.
const VolumeNameSuffix = "-data"

// LegacyVolumePrefix names the older per-workspace volume convention (I3),
// recognized by CleanupVolumes for workspaces provisioned before the rename.
const LegacyVolumePrefix = "dyad-pnpm-"

// ContainerName returns the invariant container name for a workspace (I3).
func ContainerName(workspaceID int64) string {
	return fmt.Sprintf("%s%d", ContainerNamePrefix, workspaceID)
}

// VolumeName returns the invariant dependency-cache volume name for a workspace (I3).
func VolumeName(workspaceID int64) string {
	return fmt.Sprintf("%s%d%s", VolumeNamePrefix, workspaceID, VolumeNameSuffix)
}

// LegacyVolumeName returns the pre-rename volume name, kept for migration lookups.
func LegacyVolumeName(workspaceID int64) string {
	return fmt.Sprintf("%s%d", LegacyVolumePrefix, workspaceID)
}

// Abstract bundles the command-execution and polling helpers shared by every
// concrete handler. Concrete handlers embed it and supply their own binary
// name and argument translation; the logic for running a command, waiting
// for a condition, and probing for the binary lives here exactly once.
//
// This generalizes containers.go's ContainerSvc (bare package-level exec
// wrappers tied to one specific CLI) into something two engine families can
// share.
type Abstract struct {
	// Binary is the CLI executable name ("docker" or "podman").
	Binary string
}

// CommandResult is the captured output of a single CLI invocation.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes `{Binary} args...` with a command-level deadline, capturing
// stdout and stderr separately. Mirrors containers.go's consistent
// exec.CommandContext + slog.InfoContext pattern, generalized across binaries.
func (a *Abstract) Run(ctx context.Context, args ...string) (*CommandResult, error) {
	cctx, cancel := context.WithTimeout(ctx, DefaultCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, a.Binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.InfoContext(ctx, "engine.Abstract.Run", "cmd", strings.Join(cmd.Args, " "))
	err := cmd.Run()

	result := &CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	}
	if err != nil {
		slog.WarnContext(ctx, "engine.Abstract.Run failed", "cmd", strings.Join(cmd.Args, " "),
			"error", err, "stderr", strings.TrimSpace(stderr.String()))
		return result, fmt.Errorf("%s %s: %w: %s", a.Binary, args[0], err, strings.TrimSpace(stderr.String()))
	}
	return result, nil
}

// RunInteractive runs a command with stdin/stdout/stderr wired for an
// interactive exec session (e.g. a debug shell into a workspace container).
// When stdin is not already a TTY, a pseudo-terminal is allocated so curses
// programs (editors, REPLs) inside the container still behave correctly.
// Mirrors containers.go's ContainerSvc.Exec pty fallback.
func (a *Abstract) RunInteractive(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, a.Binary, args...)

	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr
		return cmd.Run()
	}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("starting pty: %w", err)
	}
	defer ptmx.Close()

	go io.Copy(ptmx, stdin)
	go io.Copy(stdout, ptmx)

	return cmd.Wait()
}

// CommandExists probes whether Binary is resolvable on PATH.
func (a *Abstract) CommandExists(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()
	_, err := exec.LookPath(a.Binary)
	if err != nil {
		return false
	}
	// A present binary that hangs on --version still counts as unavailable.
	cmd := exec.CommandContext(cctx, a.Binary, "--version")
	return cmd.Run() == nil
}

// WaitForCondition polls cb until it returns true, an error, or the timeout
// elapses. This is C2's generic readiness primitive, used by RunContainer's
// ~60s poll. The preview router's grace period is a plain sleep and does
// not use it.
func WaitForCondition(ctx context.Context, timeout, pollInterval time.Duration, cb func(ctx context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := cb(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNotReady
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReadyMarkers are substrings of dev-server log output that indicate the
// server has started accepting connections. The set is intentionally broad
// (§9 open question: "precise set... is engine/framework dependent").
var ReadyMarkers = []string{
	"Local:",
	"ready in",
	"ready - started server",
	"compiled successfully",
	"webpack compiled",
}

// LogsLookReady reports whether any ReadyMarkers substring appears in logText.
func LogsLookReady(logText string) bool {
	for _, marker := range ReadyMarkers {
		if strings.Contains(logText, marker) {
			return true
		}
	}
	return false
}
