// Package factory selects and caches one engine.Handler per engine kind,
// mirroring applecontainer's package-level singleton services (containers.go,
// system.go expose one ContainerSvc/SystemSvc per binary) but generalized to
// choose between Docker and Podman handlers at runtime (§4.1 C5).
package factory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dyad/orchestrator/engine"
	"github.com/dyad/orchestrator/engine/docker"
	"github.com/dyad/orchestrator/engine/podman"
)

var (
	mu       sync.Mutex
	cached   = map[engine.Kind]engine.Handler{}
	builders = map[engine.Kind]func() engine.Handler{
		engine.Docker: func() engine.Handler { return docker.New() },
		engine.Podman: func() engine.Handler { return podman.New() },
	}
)

// Get returns the cached handler for kind, constructing and initializing it
// on first use. Concurrent calls for the same kind share one instance.
func Get(ctx context.Context, kind engine.Kind) (engine.Handler, error) {
	mu.Lock()
	defer mu.Unlock()

	if h, ok := cached[kind]; ok {
		return h, nil
	}

	build, ok := builders[kind]
	if !ok {
		return nil, fmt.Errorf("factory: unknown engine kind %q", kind)
	}

	h := build()
	if err := h.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("factory: initialize %s: %w", kind, err)
	}
	cached[kind] = h
	return h, nil
}

// Reset clears the handler cache. Used by tests that need a fresh handler
// per kind between runs.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = map[engine.Kind]engine.Handler{}
}

// Detect probes both engine kinds and returns the first available one,
// preferring Docker when both are installed. Config resolution does not
// call it: an unset engine setting defaults to Docker there.
func Detect(ctx context.Context) (engine.Kind, error) {
	for _, kind := range []engine.Kind{engine.Docker, engine.Podman} {
		h, err := Get(ctx, kind)
		if err != nil {
			continue
		}
		if h.IsAvailable(ctx) {
			return kind, nil
		}
	}
	return "", engine.ErrEngineUnavailable
}
