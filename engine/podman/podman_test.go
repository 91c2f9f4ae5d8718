package podman

import (
	"reflect"
	"testing"
	"time"

	"github.com/dyad/orchestrator/engine"
)

func TestToContainer(t *testing.T) {
	h := &Handler{}
	o := &inspectOutput{ID: "def456", Name: "/dyad-app-9"}
	o.State.Running = false
	started := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	o.State.StartedAt = started
	o.NetworkSettings.Ports = map[string][]struct {
		HostPort string `json:"HostPort"`
	}{
		"5173/tcp": {{HostPort: "32150"}},
	}
	o.Mounts = []struct {
		Type        string `json:"Type"`
		Source      string `json:"Source"`
		Destination string `json:"Destination"`
		RW          bool   `json:"RW"`
	}{
		{Type: "volume", Source: "dyad-app-9-data", Destination: "/app/node_modules", RW: true},
	}
	o.Config.Labels = nil

	got := h.toContainer(o)

	want := engine.Container{
		ID:        "def456",
		Name:      "dyad-app-9",
		Running:   false,
		StartedAt: started,
		Ports:     map[int]int{5173: 32150},
		Mounts: []engine.MountInfo{
			{Type: "volume", Source: "dyad-app-9-data", Destination: "/app/node_modules", ReadOnly: false},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("toContainer() = %+v, want %+v", got, want)
	}
}

func TestWorkspaceIDFromName(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		wantID int64
		wantOK bool
	}{
		{name: "valid", input: "dyad-app-3", wantID: 3, wantOK: true},
		{name: "unrelated name", input: "other", wantOK: false},
		{name: "prefix but non-numeric suffix", input: "dyad-app-x", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := workspaceIDFromName(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("workspaceIDFromName(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && id != tt.wantID {
				t.Errorf("workspaceIDFromName(%q) = %d, want %d", tt.input, id, tt.wantID)
			}
		})
	}
}

func TestParseNetIOAndHumanBytes(t *testing.T) {
	if got, want := parseHumanBytes("2GB"), uint64(2_000_000_000); got != want {
		t.Errorf("parseHumanBytes(2GB) = %d, want %d", got, want)
	}
	if got, want := parseNetIO("1kB / 2kB"), uint64(3000); got != want {
		t.Errorf("parseNetIO(1kB / 2kB) = %d, want %d", got, want)
	}
}
