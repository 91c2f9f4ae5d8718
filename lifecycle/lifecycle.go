// Package lifecycle implements the process-wide port pool and activity
// tracker (C7). It owns the only mutable cross-workspace state in the
// process; the containerization facade and preview router consult it but
// never mutate engine state directly without going through here first.
//
// The concurrency pattern — one package-level struct behind a mutex, guarding
// a handful of maps — follows boxer.go's Boxer, generalized from a single
// sqlite-backed struct into an in-memory pool manager with its own
// background reaper goroutine.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dyad/orchestrator/engine"
	"github.com/goombaio/namegenerator"
	"golang.org/x/sync/errgroup"
)

// Config holds the tunables from §4.4.
type Config struct {
	BasePort            int
	MaxPort             int
	InactivityTimeout   time.Duration
	PreviewInactivity   time.Duration
	CheckInterval       time.Duration
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		BasePort:          32100,
		MaxPort:           32200,
		InactivityTimeout: 600 * time.Second,
		PreviewInactivity: 900 * time.Second,
		CheckInterval:     120 * time.Second,
	}
}

// Manager is the C7 singleton. One instance is created at the composition
// root and passed explicitly to the facade and preview router — there is no
// package-level global (§9 "Singletons").
type Manager struct {
	cfg     Config
	handler func(ctx context.Context) (engine.Handler, error)

	mu       sync.Mutex
	activity map[int64]time.Time
	ports    map[int64]int
	starting map[int64]chan struct{}

	namegen namegenerator.Generator

	netBaselines map[int64]uint64

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// New constructs a Manager. handler resolves the current engine handler
// lazily (supplied by the containerization facade so lifecycle never
// imports engine/factory directly, keeping the dependency direction C6→C7
// and C7→engine, not C7→C5).
func New(cfg Config, handler func(ctx context.Context) (engine.Handler, error)) *Manager {
	return &Manager{
		cfg:      cfg,
		handler:  handler,
		activity:     map[int64]time.Time{},
		ports:        map[int64]int{},
		starting:     map[int64]chan struct{}{},
		namegen:      namegenerator.NewNameGenerator(time.Now().UnixNano()),
		netBaselines: map[int64]uint64{},
	}
}

// GenerateName returns a human-readable workspace name candidate.
func (m *Manager) GenerateName() string {
	return m.namegen.Generate()
}

// RecordActivity sets activity[wid] to now, never decreasing it (P3).
func (m *Manager) RecordActivity(wid int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if prev, ok := m.activity[wid]; !ok || now.After(prev) {
		m.activity[wid] = now
	}
}

// GetPort returns the in-memory port allocation for wid, if any.
func (m *Manager) GetPort(wid int64) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.ports[wid]
	return p, ok
}

// ReleasePort removes wid's port mapping. Idempotent.
func (m *Manager) ReleasePort(wid int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ports, wid)
}

// Ports returns a snapshot of every workspace's current port allocation
// (§6 GET /api/containers/ports).
func (m *Manager) Ports() map[int64]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[int64]int, len(m.ports))
	for wid, p := range m.ports {
		snapshot[wid] = p
	}
	return snapshot
}

// AllocatePort implements §4.4 AllocatePort, verifying candidates against
// the engine's live container listing so a crashed-but-remembered mapping
// never collides with a port actually in use by another container.
func (m *Manager) AllocatePort(ctx context.Context, wid int64, forceNew bool) (int, error) {
	h, err := m.handler(ctx)
	if err != nil {
		return 0, err
	}
	live, err := h.ListWorkspaceContainers(ctx)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: list containers: %w", err)
	}
	usedByOthers := map[int]bool{}
	for _, c := range live {
		wid2, ok := containerWorkspaceID(c.Name)
		if !ok || wid2 == wid {
			continue
		}
		for _, hostPort := range c.Ports {
			usedByOthers[hostPort] = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !forceNew {
		if p, ok := m.ports[wid]; ok {
			if !usedByOthers[p] {
				return p, nil
			}
			delete(m.ports, wid)
		}
	}

	reserved := map[int]bool{}
	for other, p := range m.ports {
		if other != wid {
			reserved[p] = true
		}
	}

	for p := m.cfg.BasePort; p <= m.cfg.MaxPort; p++ {
		if reserved[p] || usedByOthers[p] {
			continue
		}
		m.ports[wid] = p
		return p, nil
	}
	return 0, engine.ErrNoPortsAvailable
}

func containerWorkspaceID(name string) (int64, bool) {
	var id int64
	n, err := fmt.Sscanf(name, engine.ContainerNamePrefix+"%d", &id)
	if err != nil || n != 1 {
		return 0, false
	}
	return id, true
}

// MarkStarting registers wid as starting and returns a channel that is
// closed by ClearStarting, letting concurrent callers (the preview router's
// start-coalescing path) wait for the in-flight start instead of racing it.
// Returns ok==false if a start is already in flight.
func (m *Manager) MarkStarting(wid int64) (wait <-chan struct{}, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, exists := m.starting[wid]; exists {
		return ch, false
	}
	ch := make(chan struct{})
	m.starting[wid] = ch
	return ch, true
}

// ClearStarting signals waiters and clears the starting flag for wid.
func (m *Manager) ClearStarting(wid int64) {
	m.mu.Lock()
	ch, ok := m.starting[wid]
	delete(m.starting, wid)
	m.mu.Unlock()
	if ok {
		close(ch)
	}
}

// IsStarting reports whether wid currently has a start in flight.
func (m *Manager) IsStarting(wid int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.starting[wid]
	return ok
}

// Discover implements §4.4 Discover, run once at process start to rebuild
// activity/ports from the engine's actual container listing.
func (m *Manager) Discover(ctx context.Context) error {
	h, err := m.handler(ctx)
	if err != nil {
		return err
	}
	containers, err := h.ListWorkspaceContainers(ctx)
	if err != nil {
		return fmt.Errorf("lifecycle: discover: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range containers {
		wid, ok := containerWorkspaceID(c.Name)
		if !ok {
			continue
		}
		if c.Running {
			m.activity[wid] = time.Now()
			for _, hostPort := range c.Ports {
				m.ports[wid] = hostPort
				break
			}
		} else {
			m.activity[wid] = time.Now().Add(-m.cfg.InactivityTimeout)
		}
	}
	slog.InfoContext(ctx, "lifecycle.Discover complete", "containers", len(containers))
	return nil
}

// StartReaper launches the periodic reaper goroutine (§4.4 Reaper). stop
// halts it; callers should defer manager.StopReaper() at the composition
// root.
func (m *Manager) StartReaper(ctx context.Context, stopFn func(ctx context.Context, wid int64) error) {
	m.stopReaper = make(chan struct{})
	m.reaperDone = make(chan struct{})

	go func() {
		defer close(m.reaperDone)
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopReaper:
				return
			case <-ticker.C:
				m.reapOnce(ctx, stopFn)
			}
		}
	}()
}

// StopReaper halts the background reaper and waits for it to exit.
func (m *Manager) StopReaper() {
	if m.stopReaper == nil {
		return
	}
	close(m.stopReaper)
	<-m.reaperDone
}

func (m *Manager) reapOnce(ctx context.Context, stopFn func(ctx context.Context, wid int64) error) {
	m.mu.Lock()
	candidates := make([]int64, 0, len(m.activity))
	now := time.Now()
	for wid, last := range m.activity {
		if now.Sub(last) >= m.cfg.InactivityTimeout {
			candidates = append(candidates, wid)
		}
	}
	m.mu.Unlock()

	// Stats probing is pure I/O per candidate and safe to parallelize; the
	// stop/evict step below still runs sequentially since it mutates shared
	// activity state.
	used := make([]bool, len(candidates))
	var g errgroup.Group
	for i, wid := range candidates {
		i, wid := i, wid
		g.Go(func() error {
			active, err := m.IsContainerActivelyUsed(ctx, wid)
			if err != nil {
				slog.WarnContext(ctx, "lifecycle.reaper: stats probe failed, treating as active", "workspace", wid, "error", err)
				active = true
			}
			used[i] = active
			return nil
		})
	}
	g.Wait()

	for i, wid := range candidates {
		if used[i] {
			m.RecordActivity(wid)
			continue
		}
		if err := stopFn(ctx, wid); err != nil {
			slog.WarnContext(ctx, "lifecycle.reaper: stop failed", "workspace", wid, "error", err)
			continue
		}
		m.mu.Lock()
		delete(m.activity, wid)
		m.mu.Unlock()
		slog.InfoContext(ctx, "lifecycle.reaper: reaped idle workspace", "workspace", wid)
	}
}

// activeCPUThreshold and activeNetIOThreshold are the §4.4 thresholds for
// IsContainerActivelyUsed.
const (
	activeCPUThreshold   = 1.0
	activeNetIOThreshold = 10 * 1024
)

// IsContainerActivelyUsed queries live engine stats. On stats failure it
// returns true, biasing toward keeping the container alive (§4.4).
func (m *Manager) IsContainerActivelyUsed(ctx context.Context, wid int64) (bool, error) {
	h, err := m.handler(ctx)
	if err != nil {
		return true, nil
	}
	cpu, netIO, err := h.Stats(ctx, wid)
	if err != nil {
		return true, nil
	}
	if cpu > activeCPUThreshold {
		return true, nil
	}

	m.mu.Lock()
	baseline, hadBaseline := m.netBaselines[wid]
	m.netBaselines[wid] = netIO
	m.mu.Unlock()

	if !hadBaseline {
		return true, nil
	}
	delta := int64(netIO) - int64(baseline)
	if delta < 0 {
		delta = 0
	}
	return delta > activeNetIOThreshold, nil
}
