// Package stream implements the streaming response processor (C9, §4.6):
// it drives one model stream per request, incrementally parses the
// <dyad-*> tag language out of the accumulating text, and after the model
// finishes applies the queued file operations, triggers dependency install,
// and restarts or starts the workspace container.
//
// Concurrency model follows §5: single-threaded cooperative within one
// stream (the suspension points are the model channel receive, filesystem
// writes, and engine CLI calls via containersvc), with independent streams
// running as separate goroutines/requests.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dyad/orchestrator/containersvc"
	"github.com/dyad/orchestrator/engine"
	"github.com/dyad/orchestrator/internal/workspacefs"
	"github.com/dyad/orchestrator/startupscript"
)

// Processor wires together the model provider, the tag parser, workspace
// filesystem operations, dependency install, and container lifecycle.
type Processor struct {
	Provider  Provider
	Store     ChatStore
	Container *containersvc.Service
	Cancels   *CancelRegistry

	// PortResolver allocates (or looks up) the port a restarted container
	// should bind to. Supplied by the composition root, backed by
	// lifecycle.Manager.AllocatePort, kept as a narrow func seam so this
	// package never imports lifecycle directly.
	PortResolver func(ctx context.Context, wid int64) (int, error)

	// contextCache carries file contents across Run calls so repeated
	// turns against the same workspace don't reread unchanged files.
	contextCache *workspacefs.ContextCache
}

// New constructs a Processor.
func New(provider Provider, store ChatStore, container *containersvc.Service, cancels *CancelRegistry, portResolver func(ctx context.Context, wid int64) (int, error)) *Processor {
	return &Processor{Provider: provider, Store: store, Container: container, Cancels: cancels, PortResolver: portResolver, contextCache: workspacefs.NewContextCache()}
}

// Run executes one full stream lifecycle per §4.6, writing SSE events to w
// as they occur. Run blocks until the stream completes, errors, or is
// canceled via p.Cancels.Cancel(req.ChatID).
func (p *Processor) Run(ctx context.Context, w *Writer, req Request) error {
	ctx, release := p.Cancels.Register(ctx, req.ChatID)
	defer release()

	if err := w.Send(Event{Name: EventConnected, Data: map[string]any{"timestamp": nowRFC3339()}}); err != nil {
		return err
	}

	ws, err := p.Store.GetWorkspaceForChat(ctx, req.ChatID)
	if err != nil {
		return p.emitError(w, req.ChatID, fmt.Errorf("resolve workspace: %w", err))
	}

	var userMsgID int64
	if req.Prompt != "" {
		userMsgID, err = p.Store.AppendMessage(ctx, Message{ChatID: req.ChatID, Role: "user", Content: req.Prompt})
		if err != nil {
			return p.emitError(w, req.ChatID, fmt.Errorf("persist user message: %w", err))
		}
	}
	if err := w.Send(Event{Name: EventChatStart, Data: map[string]any{"chatId": req.ChatID, "messageId": userMsgID}}); err != nil {
		return err
	}

	parser := NewParser()
	var fullText strings.Builder

	req.Context = p.buildModelContext(ctx, ws)

	chunks, err := p.Provider.Stream(ctx, req)
	if err != nil {
		return p.emitError(w, req.ChatID, fmt.Errorf("start model stream: %w", err))
	}

	var modelErr error
consume:
	for {
		select {
		case <-ctx.Done():
			return p.emitError(w, req.ChatID, errCanceled)
		case chunk, more := <-chunks:
			if !more {
				break consume
			}
			switch chunk.Type {
			case ChunkError:
				modelErr = chunk.Err
				break consume
			case ChunkText:
				fullText.WriteString(chunk.Text)
				parser.Feed(fullText.String())
				if err := w.Send(Event{Name: EventChatChunk, Data: map[string]any{
					"chatId": req.ChatID, "chunk": chunk.Text, "fullText": fullText.String(),
				}}); err != nil {
					return err
				}
			default:
				// reasoning/thinking/tool-call/tool-result are consumed for
				// parsing continuity but are not part of the written tag
				// surface (§6 documents only chat:chunk for prose).
			}
		}
	}

	if modelErr != nil {
		return p.emitError(w, req.ChatID, fmt.Errorf("model error: %w", modelErr))
	}

	if parser.Unterminated(fullText.String()) {
		return p.emitError(w, req.ChatID, fmt.Errorf("%w: unterminated tag at stream end", errTagParse))
	}

	assistantMsgID, err := p.Store.AppendMessage(ctx, Message{
		ChatID: req.ChatID, Role: "assistant", Content: fullText.String(), Model: req.Model,
	})
	if err != nil {
		return p.emitError(w, req.ChatID, fmt.Errorf("persist assistant message: %w", err))
	}

	ops := parser.Pending()
	result, err := p.applyOperations(ctx, w, ws, ops)
	if err != nil {
		return p.emitError(w, req.ChatID, err)
	}

	if err := w.Send(Event{Name: EventChatComplete, Data: map[string]any{
		"chatId": req.ChatID, "messageId": assistantMsgID, "content": fullText.String(),
		"changedFiles": result.changedFiles,
	}}); err != nil {
		return err
	}
	return nil
}

// buildModelContext implements §4.6 step 3: assembles the serialized
// codebase block a Provider prepends to the first user message. Read
// failures are logged and swallowed rather than failing the stream — a
// best-effort codebase snapshot beats refusing to answer at all.
func (p *Processor) buildModelContext(ctx context.Context, ws Workspace) string {
	block, err := workspacefs.New(ws.Path).BuildContext(p.contextCache)
	if err != nil {
		slog.WarnContext(ctx, "stream: build model context failed, continuing without it", "workspace", ws.ID, "error", err)
		return ""
	}
	return block
}

var (
	errCanceled = fmt.Errorf("canceled")
	errTagParse = fmt.Errorf("tag parse error")
)

func (p *Processor) emitError(w *Writer, chatID int64, err error) error {
	reason := "error"
	switch {
	case err == errCanceled || isCanceled(err):
		reason = "canceled"
	case isTagParse(err):
		reason = "tag_parse_error"
	}
	sendErr := w.Send(Event{Name: EventChatError, Data: map[string]any{"chatId": chatID, "error": reason, "detail": err.Error()}})
	if sendErr != nil {
		return sendErr
	}
	return err
}

func isCanceled(err error) bool { return err != nil && (err == errCanceled || strings.Contains(err.Error(), "canceled")) }
func isTagParse(err error) bool { return err != nil && strings.Contains(err.Error(), errTagParse.Error()) }

// applyResult summarizes the outcome of applyOperations for the final
// chat:complete event.
type applyResult struct {
	changedFiles []string
}

// applyOperations implements §4.6 steps 6b-6d: dependencies first, then
// writes/renames/deletes/search-replaces, then conditional install and
// container restart.
func (p *Processor) applyOperations(ctx context.Context, w *Writer, ws Workspace, ops []FileOperation) (applyResult, error) {
	fs := workspacefs.New(ws.Path)
	var changed []string
	var addedPackages []string
	var packageJSONTouched bool

	// Ordering per §4.6.1: dependencies first.
	for _, op := range ops {
		if op.Kind == OpAddDependency && op.DepType == "" {
			addedPackages = append(addedPackages, op.Packages...)
		}
	}
	if len(addedPackages) > 0 {
		if err := p.installDependencies(ctx, w, ws, addedPackages); err != nil {
			return applyResult{}, fmt.Errorf("install dependencies: %w", err)
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case OpWrite:
			if err := fs.Write(op.Path, op.Content); err != nil {
				return applyResult{}, fmt.Errorf("write %s: %w", op.Path, err)
			}
			changed = append(changed, op.Path)
			if strings.HasSuffix(op.Path, "package.json") {
				packageJSONTouched = true
			}
		case OpRename:
			if err := fs.Rename(op.From, op.To); err != nil {
				return applyResult{}, fmt.Errorf("rename %s->%s: %w", op.From, op.To, err)
			}
			changed = append(changed, op.To)
		case OpDelete:
			if err := fs.Delete(op.Path); err != nil {
				return applyResult{}, fmt.Errorf("delete %s: %w", op.Path, err)
			}
			changed = append(changed, op.Path)
		case OpSearchReplace:
			res, err := fs.SearchReplace(op.Path, op.Find, op.Replace)
			if err != nil {
				return applyResult{}, fmt.Errorf("search-replace %s: %w", op.Path, err)
			}
			if res.Applied {
				changed = append(changed, op.Path)
			} else {
				slog.WarnContext(ctx, "stream.applyOperations: search-replace did not apply cleanly",
					"path", op.Path, "occurrences", res.Occurrences)
			}
		case OpAddDependency, OpExecuteSQL:
			// handled above / explicitly out-of-scope hook (§6).
		}
	}

	depChanged, err := p.maybeInstall(ctx, w, ws, packageJSONTouched)
	if err != nil {
		return applyResult{}, err
	}

	if p.Container.IsEnabled() && (len(changed) > 0 || depChanged) {
		if err := p.restartContainer(ctx, w, ws, len(addedPackages) > 0 || packageJSONTouched); err != nil {
			return applyResult{}, err
		}
	}

	return applyResult{changedFiles: changed}, nil
}

// installDependencies implements §4.6.1 AddDependencies: if the container
// is running, install inside it via exec. Otherwise nothing is installed
// and the packages are not recorded: a later (re)start runs the startup
// script, which installs only what package.json already lists.
func (p *Processor) installDependencies(ctx context.Context, w *Writer, ws Workspace, packages []string) error {
	if err := w.Send(Event{Name: EventDependenciesInstall, Data: map[string]any{"chatId": ws.ID, "packages": packages}}); err != nil {
		return err
	}

	pm := startupscript.DetectPackageManager(ws.Path)
	argv := addCommand(pm, packages)

	if p.Container.IsEnabled() {
		status := p.Container.GetContainerStatus(ctx, ws.ID)
		if data, ok := status.Data.(*engine.Status); ok && data.IsRunning {
			res := p.Container.ExecInContainer(ctx, ws.ID, argv)
			if !res.Success {
				return fmt.Errorf("exec install: %s", res.Error)
			}
		}
	}

	return w.Send(Event{Name: EventDependenciesInstalled, Data: map[string]any{"chatId": ws.ID, "packages": packages}})
}

func addCommand(pm startupscript.PackageManager, packages []string) []string {
	switch pm {
	case startupscript.PNPM:
		return append([]string{"pnpm", "add"}, packages...)
	case startupscript.Yarn:
		return append([]string{"yarn", "add"}, packages...)
	default:
		return append([]string{"npm", "install"}, packages...)
	}
}

// maybeInstall implements §4.6.2: install runs when package.json's hash
// changed, whether due to a manual write or an add-dependency exec.
func (p *Processor) maybeInstall(ctx context.Context, w *Writer, ws Workspace, packageJSONTouched bool) (bool, error) {
	needs, err := startupscript.NeedsInstall(ws.Path)
	if err != nil {
		return false, nil // package.json absent or unreadable; nothing to install
	}
	if !needs {
		return false, nil
	}
	if err := startupscript.WriteHash(ws.Path); err != nil {
		return false, fmt.Errorf("write dependency hash: %w", err)
	}
	return true, nil
}

// restartContainer implements §4.6.3.
func (p *Processor) restartContainer(ctx context.Context, w *Writer, ws Workspace, forceRestart bool) error {
	status := p.Container.GetContainerStatus(ctx, ws.ID)
	statusData, _ := status.Data.(*engine.Status)
	alreadyRunning := statusData != nil && statusData.IsRunning

	if alreadyRunning && !forceRestart {
		// Bind-mounted file watcher picks up the change; nothing to do.
		return nil
	}

	if alreadyRunning {
		if res := p.Container.StopContainer(ctx, ws.ID); !res.Success {
			return fmt.Errorf("stop before restart: %s", res.Error)
		}
	}

	if err := w.Send(Event{Name: EventDockerStarting, Data: map[string]any{"chatId": ws.ID, "appId": ws.ID}}); err != nil {
		return err
	}

	port, err := p.PortResolver(ctx, ws.ID)
	if err != nil {
		return fmt.Errorf("allocate port: %w", err)
	}

	pm := startupscript.DetectPackageManager(ws.Path)
	script := startupscript.Generate(startupscript.Options{
		WorkspacePath: ws.Path, DevPort: port, PackageManager: pm, Update: forceRestart,
	})

	res := p.Container.RunContainer(ctx, engine.RunOptions{
		WorkspaceID:   ws.ID,
		WorkspacePath: ws.Path,
		Port:          port,
		// Image left blank: containersvc.Service.RunContainer fills in the
		// configured default image.
		InstallCommand: ws.InstallCommand,
		StartCommand:   ws.StartCommand,
		Command:        []string{"/bin/sh", "-c", script},
	})
	if !res.Success {
		w.Send(Event{Name: EventDockerError, Data: map[string]any{"appId": ws.ID, "error": res.Error}})
		return fmt.Errorf("restart container: %s", res.Error)
	}

	runResult, _ := res.Data.(*engine.RunResult)
	url := ""
	if runResult != nil {
		url = fmt.Sprintf("http://localhost:%d", runResult.Port)
	}
	return w.Send(Event{Name: EventDockerStarted, Data: map[string]any{
		"chatId": ws.ID, "appId": ws.ID, "port": port, "url": url,
	}})
}

func nowRFC3339() string {
	return time.Now().Format(time.RFC3339)
}
