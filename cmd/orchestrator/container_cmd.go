package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dyad/orchestrator/containersvc"
	"github.com/dyad/orchestrator/engine"
	"github.com/dyad/orchestrator/engine/factory"
	"github.com/dyad/orchestrator/lifecycle"
)

// ContainerCmd exposes the read-only diagnostics surface described in §6
// ("Container info... used by UI diagnostics") as a CLI, for operators
// debugging a workspace without the HTTP API running.
type ContainerCmd struct {
	Status StatusCmd `cmd:"" help:"show container status for a workspace"`
	Stop   StopCmd   `cmd:"" help:"stop a workspace's container"`
	Logs   LogsCmd   `cmd:"" help:"print a workspace's container logs"`
}

type StatusCmd struct {
	WorkspaceID int64 `arg:"" help:"workspace id"`
}

func (c *StatusCmd) Run(cctx *Context) error {
	svc := newService(cctx)
	res := svc.GetContainerStatus(context.Background(), c.WorkspaceID)
	return printJSON(res)
}

type StopCmd struct {
	WorkspaceID int64 `arg:"" help:"workspace id"`
}

func (c *StopCmd) Run(cctx *Context) error {
	svc := newService(cctx)
	res := svc.StopContainer(context.Background(), c.WorkspaceID)
	return printJSON(res)
}

type LogsCmd struct {
	WorkspaceID int64 `arg:"" help:"workspace id"`
	Lines       int   `default:"200" help:"number of trailing log lines"`
}

func (c *LogsCmd) Run(cctx *Context) error {
	svc := newService(cctx)
	res := svc.GetContainerLogs(context.Background(), c.WorkspaceID, c.Lines)
	if res.Success {
		fmt.Println(res.Data)
		return nil
	}
	return printJSON(res)
}

// newService wires a one-shot containersvc.Service for CLI diagnostics
// subcommands; the long-lived daemon process instead builds this once at
// startup and shares it across requests (serve_cmd.go).
func newService(cctx *Context) *containersvc.Service {
	cfg := cctx.Config
	resolve := func(ctx context.Context) (engine.Handler, error) {
		return factory.Get(ctx, cfg.Engine)
	}
	lc := lifecycle.New(lifecycle.DefaultConfig(), resolve)
	return containersvc.New(cfg.ContainerizationEnabled, resolve, lc, cfg.Image())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
