// Package config loads the environment variables recognized by the core
// (§6 "Environment variables") into a typed Config. It reads only the
// environment; the CLI's kong-yaml configuration files are wired separately
// in cmd/orchestrator/main.go through kong.Configuration(kongyaml.Loader).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/dyad/orchestrator/engine"
)

// Config holds every environment-tunable recognized by the core (§6).
type Config struct {
	ContainerizationEnabled bool
	Engine                  engine.Kind

	DockerImage string
	PodmanImage string

	DockerDefaultPort int
	PodmanDefaultPort int

	ContainerInactivityTimeout time.Duration
	ContainerCPULimit          string
	ContainerMemoryLimit       string

	AutoKillPort bool

	AppsBaseDir string
}

// Load reads Config fields from the process environment, applying the
// defaults named in §6.
func Load() Config {
	return Config{
		ContainerizationEnabled:    envBool("CONTAINERIZATION_ENABLED", true),
		Engine:                     engine.Kind(envString("CONTAINERIZATION_ENGINE", string(engine.Docker))),
		DockerImage:                envString("DOCKER_IMAGE", "node:20-bookworm"),
		PodmanImage:                envString("PODMAN_IMAGE", "node:20-bookworm"),
		DockerDefaultPort:          envInt("DOCKER_DEFAULT_PORT", 32100),
		PodmanDefaultPort:          envInt("PODMAN_DEFAULT_PORT", 32100),
		ContainerInactivityTimeout: envDuration("CONTAINER_INACTIVITY_TIMEOUT", 600_000*time.Millisecond),
		ContainerCPULimit:          envString("CONTAINER_CPU_LIMIT", ""),
		ContainerMemoryLimit:       envString("CONTAINER_MEMORY_LIMIT", ""),
		AutoKillPort:               envBool("AUTO_KILL_PORT", false),
		AppsBaseDir:                envString("APPS_BASE_DIR", "./apps"),
	}
}

// Image returns the configured image for the active engine kind.
func (c Config) Image() string {
	if c.Engine == engine.Podman {
		return c.PodmanImage
	}
	return c.DockerImage
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
