package docker

import (
	"reflect"
	"testing"
	"time"

	"github.com/dyad/orchestrator/engine"
)

func TestToContainer(t *testing.T) {
	h := &Handler{}
	o := &inspectOutput{ID: "abc123", Name: "/dyad-app-7"}
	o.State.Running = true
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o.State.StartedAt = started
	o.NetworkSettings.Ports = map[string][]struct {
		HostPort string `json:"HostPort"`
	}{
		"3000/tcp": {{HostPort: "32100"}},
		"9229/tcp": {}, // no binding: should be skipped
	}
	o.Mounts = []struct {
		Type        string `json:"Type"`
		Source      string `json:"Source"`
		Destination string `json:"Destination"`
		RW          bool   `json:"RW"`
	}{
		{Type: "bind", Source: "/workspaces/7", Destination: "/app", RW: true},
	}
	o.Config.Labels = map[string]string{"app": "dyad"}

	got := h.toContainer(o)

	want := engine.Container{
		ID:        "abc123",
		Name:      "dyad-app-7",
		Running:   true,
		StartedAt: started,
		Ports:     map[int]int{3000: 32100},
		Mounts: []engine.MountInfo{
			{Type: "bind", Source: "/workspaces/7", Destination: "/app", ReadOnly: false},
		},
		Labels: map[string]string{"app": "dyad"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("toContainer() = %+v, want %+v", got, want)
	}
}

func TestWorkspaceIDFromName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantID  int64
		wantOK  bool
	}{
		{name: "valid", input: "dyad-app-42", wantID: 42, wantOK: true},
		{name: "unrelated name", input: "some-other-container", wantOK: false},
		{name: "prefix but non-numeric suffix", input: "dyad-app-abc", wantOK: false},
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

func TestParseHumanBytes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  uint64
	}{
		{name: "bytes", input: "500B", want: 500},
		{name: "kilobytes", input: "1.5kB", want: 1500},
		{name: "megabytes", input: "2MB", want: 2_000_000},
		{name: "no recognized unit falls back to an empty total", input: "garbage", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseHumanBytes(tt.input); got != tt.want {
				t.Errorf("parseHumanBytes(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseNetIO(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  uint64
	}{
		{name: "in and out", input: "1.2MB / 3.4MB", want: 1_200_000 + 3_400_000},
		{name: "zero", input: "0B / 0B", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseNetIO(tt.input); got != tt.want {
				t.Errorf("parseNetIO(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}
