package startupscript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDetectPackageManager(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  PackageManager
	}{
		{name: "no lockfile defaults to npm", files: nil, want: NPM},
		{name: "pnpm lockfile present", files: []string{"pnpm-lock.yaml"}, want: PNPM},
		{name: "yarn lockfile present", files: []string{"yarn.lock"}, want: Yarn},
		{name: "pnpm takes precedence over yarn", files: []string{"pnpm-lock.yaml", "yarn.lock"}, want: PNPM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, f := range tt.files {
				if err := os.WriteFile(filepath.Join(dir, f), nil, 0o644); err != nil {
					t.Fatalf("write %s: %v", f, err)
				}
			}
			if got := DetectPackageManager(dir); got != tt.want {
				t.Errorf("DetectPackageManager() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHashPackageJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"x"}`), 0o644); err != nil {
		t.Fatalf("write package.json: %v", err)
	}

	got, err := HashPackageJSON(dir)
	if err != nil {
		t.Fatalf("HashPackageJSON: %v", err)
	}
	if len(got) != 32 {
		t.Errorf("HashPackageJSON returned %q, want a 32-char MD5 hex digest", got)
	}

	got2, err := HashPackageJSON(dir)
	if err != nil {
		t.Fatalf("HashPackageJSON (2nd read): %v", err)
	}
	if got != got2 {
		t.Errorf("HashPackageJSON not deterministic: %q != %q", got, got2)
	}
}

func TestHashPackageJSONMissingFile(t *testing.T) {
	if _, err := HashPackageJSON(t.TempDir()); err == nil {
		t.Errorf("expected an error when package.json is absent")
	}
}

func TestGenerateProducesExpectedScriptShape(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "npm dev server",
			opts: Options{WorkspacePath: "/app", DevPort: 32100, PackageManager: NPM},
			want: []string{
				"#!/bin/sh",
				"npm install --legacy-peer-deps",
				"exec npm run dev -- --host 0.0.0.0 --port 32100",
			},
		},
		{
			name: "pnpm dev server with update install",
			opts: Options{WorkspacePath: "/app", DevPort: 32101, PackageManager: PNPM, Update: true},
			want: []string{
				"pnpm install --no-frozen-lockfile",
				"exec pnpm run dev --host 0.0.0.0 --port 32101",
			},
		},
		{
			name: "yarn dev server",
			opts: Options{WorkspacePath: "/app", DevPort: 32102, PackageManager: Yarn},
			want: []string{
				"yarn install",
				"exec yarn dev --host 0.0.0.0 --port 32102",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Generate(tt.opts)
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("Generate() missing %q in script:\n%s", want, got)
				}
			}
		})
	}
}

func TestNeedsInstall(t *testing.T) {
	t.Run("no node_modules means install needed", func(t *testing.T) {
		dir := t.TempDir()
		got, err := NeedsInstall(dir)
		if err != nil {
			t.Fatalf("NeedsInstall: %v", err)
		}
		if !got {
			t.Errorf("NeedsInstall() = false, want true when node_modules is absent")
		}
	})

	t.Run("node_modules present but no stored hash means install needed", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.Mkdir(filepath.Join(dir, "node_modules"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		got, err := NeedsInstall(dir)
		if err != nil {
			t.Fatalf("NeedsInstall: %v", err)
		}
		if !got {
			t.Errorf("NeedsInstall() = false, want true when no .dependency-hash exists")
		}
	})

	t.Run("matching hash means no install needed", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.Mkdir(filepath.Join(dir, "node_modules"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"x"}`), 0o644); err != nil {
			t.Fatalf("write package.json: %v", err)
		}
		if err := WriteHash(dir); err != nil {
			t.Fatalf("WriteHash: %v", err)
		}
		got, err := NeedsInstall(dir)
		if err != nil {
			t.Fatalf("NeedsInstall: %v", err)
		}
		if got {
			t.Errorf("NeedsInstall() = true, want false when the stored hash matches")
		}
	})

	t.Run("changed package.json means install needed", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.Mkdir(filepath.Join(dir, "node_modules"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"x"}`), 0o644); err != nil {
			t.Fatalf("write package.json: %v", err)
		}
		if err := WriteHash(dir); err != nil {
			t.Fatalf("WriteHash: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"x","version":"2"}`), 0o644); err != nil {
			t.Fatalf("rewrite package.json: %v", err)
		}
		got, err := NeedsInstall(dir)
		if err != nil {
			t.Fatalf("NeedsInstall: %v", err)
		}
		if !got {
			t.Errorf("NeedsInstall() = false, want true after package.json changed")
		}
	})
}
