package factory

import (
	"context"
	"testing"

	"github.com/dyad/orchestrator/engine"
)

func TestGetUnknownKindReturnsError(t *testing.T) {
	Reset()
	_, err := Get(context.Background(), engine.Kind("bogus"))
	if err == nil {
		t.Fatalf("expected an error for an unregistered engine kind")
	}
}

func TestResetClearsCache(t *testing.T) {
	Reset()

	mu.Lock()
	cached[engine.Docker] = nil
	mu.Unlock()

	Reset()

	mu.Lock()
	_, ok := cached[engine.Docker]
	mu.Unlock()
	if ok {
		t.Errorf("Reset() left a stale cache entry for %q", engine.Docker)
	}
}
