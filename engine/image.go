package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// ResolveImageDigest queries the image's registry directly (no docker/podman
// daemon involved) and returns its content digest, generalizing
// applecontainer's ImagesSvc.Inspect (images.go) from a CLI-shelling lookup
// into a registry-API one. Handlers call this as a best-effort pre-flight
// before RunContainer so a resolved digest can be logged alongside the
// mutable tag actually requested; callers must not treat a failure here as
// fatal, since private registries or offline dev hosts are expected to fail
// this lookup while the CLI pull still succeeds.
func ResolveImageDigest(ctx context.Context, image string) (string, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return "", fmt.Errorf("engine.ResolveImageDigest: parse %q: %w", image, err)
	}
	desc, err := remote.Get(ref, remote.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("engine.ResolveImageDigest: %q: %w", image, err)
	}
	return desc.Digest.String(), nil
}

// LogImageDigest resolves and logs image's digest, swallowing any error as a
// debug-level log line rather than propagating it.
func LogImageDigest(ctx context.Context, image string) {
	digest, err := ResolveImageDigest(ctx, image)
	if err != nil {
		slog.DebugContext(ctx, "engine: image digest lookup skipped", "image", image, "error", err)
		return
	}
	slog.InfoContext(ctx, "engine: resolved image digest", "image", image, "digest", digest)
}
