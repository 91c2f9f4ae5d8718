package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dyad/orchestrator/containersvc"
	"github.com/dyad/orchestrator/engine"
	"github.com/dyad/orchestrator/engine/factory"
	"github.com/dyad/orchestrator/lifecycle"
	"github.com/dyad/orchestrator/previewproxy"
	"github.com/dyad/orchestrator/store"
	"github.com/dyad/orchestrator/stream"
	"github.com/dyad/orchestrator/telemetry"
)

// ServeCmd starts the long-lived process: the stream/preview HTTP server,
// the lifecycle reaper, and boot-time container discovery (§4.4 Discover).
// This is the composition root named by §9 — one place owns the Container
// service and Lifecycle manager instances; nothing here is a package-level
// global.
type ServeCmd struct {
	Addr   string `default:":8085" help:"listen address for the HTTP server"`
	DBPath string `default:"./orchestrator.db" help:"path to the sqlite database file"`

	OTLPEndpoint string `default:"" help:"OTLP/gRPC endpoint for trace export (leave empty to disable tracing)"`
}

func (c *ServeCmd) Run(cctx *Context) error {
	ctx := context.Background()
	cfg := cctx.Config

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:        c.OTLPEndpoint != "",
		OTLPEndpoint:   c.OTLPEndpoint,
		ServiceName:    "orchestrator",
		ServiceVersion: "dev",
	})
	if err != nil {
		return fmt.Errorf("serve: telemetry setup: %w", err)
	}
	defer shutdown(ctx)

	db, err := store.Open(c.DBPath)
	if err != nil {
		return fmt.Errorf("serve: open store: %w", err)
	}
	defer db.Close()

	resolve := func(ctx context.Context) (engine.Handler, error) {
		return factory.Get(ctx, cfg.Engine)
	}

	lcCfg := lifecycle.DefaultConfig()
	lcCfg.InactivityTimeout = cfg.ContainerInactivityTimeout
	lc := lifecycle.New(lcCfg, resolve)

	svc := containersvc.New(cfg.ContainerizationEnabled, resolve, lc, cfg.Image())

	if cfg.ContainerizationEnabled {
		if err := lc.Discover(ctx); err != nil {
			slog.WarnContext(ctx, "serve: discovery failed, continuing with empty state", "error", err)
		}
		lc.StartReaper(ctx, func(ctx context.Context, wid int64) error {
			res := svc.StopContainer(ctx, wid)
			if !res.Success {
				return fmt.Errorf("%s", res.Error)
			}
			return nil
		})
		defer lc.StopReaper()
	}

	processor := stream.New(unconfiguredProvider{}, store.StreamAdapter{Store: db}, svc, stream.NewCancelRegistry(),
		func(ctx context.Context, wid int64) (int, error) {
			return lc.AllocatePort(ctx, wid, false)
		})

	proxy := previewproxy.New(svc, lc, func(ctx context.Context, wid int64) (previewproxy.Workspace, error) {
		w, err := db.GetWorkspace(ctx, wid)
		if err != nil {
			return previewproxy.Workspace{}, err
		}
		return previewproxy.Workspace{Path: w.Path, InstallCommand: w.InstallCommand, StartCommand: w.StartCommand}, nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/stream/chat", streamChatHandler(processor))
	mux.HandleFunc("POST /api/stream/chat/{chatId}/cancel", cancelHandler(processor))
	mux.HandleFunc("GET /api/containers/info", containersInfoHandler(svc))
	mux.HandleFunc("GET /api/containers/info/{appId}", containerInfoHandler(svc))
	mux.HandleFunc("GET /api/containers/ports", containerPortsHandler(lc))
	mux.HandleFunc("POST /api/containers/{appId}/stop", containerStopHandler(svc))
	mux.Handle("/app/preview/", proxy)

	slog.InfoContext(ctx, "serve: listening", "addr", c.Addr)
	server := &http.Server{Addr: c.Addr, Handler: mux}
	return server.ListenAndServe()
}

// unconfiguredProvider is the default stream.Provider: model-provider SDK
// bindings are out of scope here, so it fails loudly instead of leaving
// Processor.Run to dereference a nil Provider. A real deployment wires its
// own stream.Provider in place of this before calling ServeCmd.Run.
type unconfiguredProvider struct{}

func (unconfiguredProvider) Stream(ctx context.Context, req stream.Request) (<-chan stream.Chunk, error) {
	return nil, fmt.Errorf("serve: no model provider configured")
}

// streamChatHandler implements POST /api/stream/chat (§6).
func streamChatHandler(p *stream.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ChatID int64  `json:"chatId"`
			Prompt string `json:"prompt"`
			Model  string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		sw := &flushWriter{w: w, f: flusher}

		err := p.Run(r.Context(), stream.NewWriter(sw), stream.Request{
			ChatID: body.ChatID, Prompt: body.Prompt, Model: body.Model,
		})
		if err != nil {
			slog.WarnContext(r.Context(), "serve: stream ended with error", "chatId", body.ChatID, "error", err)
		}
	}
}

// flushWriter adapts an http.ResponseWriter+http.Flusher pair to the plain
// io.Writer stream.Writer expects, while still flushing after every write
// so chat:chunk events reach the client incrementally (§5).
type flushWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}

func (fw *flushWriter) Flush() { fw.f.Flush() }

func cancelHandler(p *stream.Processor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, err := strconv.ParseInt(r.PathValue("chatId"), 10, 64)
		if err != nil {
			http.Error(w, "bad chat id", http.StatusBadRequest)
			return
		}
		if !p.Cancels.Cancel(chatID) {
			http.Error(w, "no active stream", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func containersInfoHandler(svc *containersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, svc.ListContainers(r.Context()))
	}
}

func containerInfoHandler(svc *containersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wid, err := strconv.ParseInt(r.PathValue("appId"), 10, 64)
		if err != nil {
			http.Error(w, "bad app id", http.StatusBadRequest)
			return
		}
		writeResult(w, svc.GetContainerStatus(r.Context(), wid))
	}
}

// containerPortsHandler implements GET /api/containers/ports (§6): the
// live workspace-id -> host-port map, read straight from lifecycle since
// it's the single source of truth for port allocation (§4.4).
func containerPortsHandler(lc *lifecycle.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(lc.Ports())
	}
}

func containerStopHandler(svc *containersvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wid, err := strconv.ParseInt(r.PathValue("appId"), 10, 64)
		if err != nil {
			http.Error(w, "bad app id", http.StatusBadRequest)
			return
		}
		writeResult(w, svc.StopContainer(r.Context(), wid))
	}
}

func writeResult(w http.ResponseWriter, res containersvc.OperationResult) {
	w.Header().Set("Content-Type", "application/json")
	if !res.Success {
		w.WriteHeader(http.StatusBadGateway)
	}
	json.NewEncoder(w).Encode(res)
}
