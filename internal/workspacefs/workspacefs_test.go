package workspacefs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dyad/orchestrator/engine"
)

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()
	fs := New(root)

	tests := []struct {
		name    string
		rel     string
		wantErr bool
	}{
		{name: "simple relative path", rel: "src/a.ts", wantErr: false},
		{name: "leading slash treated as relative", rel: "/src/a.ts", wantErr: false},
		{name: "root itself", rel: "", wantErr: false},
		{name: "traversal escapes root", rel: "../escape.ts", wantErr: true},
		{name: "nested traversal escapes root", rel: "src/../../escape.ts", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fs.SafeJoin(tt.rel)
			if tt.wantErr {
				if !errors.Is(err, engine.ErrPathViolation) {
					t.Fatalf("SafeJoin(%q) error = %v, want ErrPathViolation", tt.rel, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SafeJoin(%q) unexpected error: %v", tt.rel, err)
			}
			want := filepath.Clean(filepath.Join(root, tt.rel))
			if got != want {
				t.Errorf("SafeJoin(%q) = %q, want %q", tt.rel, got, want)
			}
		})
	}
}

func TestWriteThenReadFile(t *testing.T) {
	fs := New(t.TempDir())

	if err := fs.Write("src/a.ts", "const x = 1;"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := fs.ReadFile("src/a.ts")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "const x = 1;" {
		t.Errorf("ReadFile = %q, want %q", got, "const x = 1;")
	}
	if !fs.Exists("src/a.ts") {
		t.Error("Exists = false, want true")
	}
}

func TestRenameMissingSourceIsSoftFail(t *testing.T) {
	fs := New(t.TempDir())
	if err := fs.Rename("missing.ts", "also-missing.ts"); err != nil {
		t.Errorf("Rename of missing source should be a no-op, got error: %v", err)
	}
}

func TestRenameMovesFile(t *testing.T) {
	fs := New(t.TempDir())
	if err := fs.Write("old.ts", "content"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.Rename("old.ts", "sub/new.ts"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if fs.Exists("old.ts") {
		t.Error("old.ts should no longer exist")
	}
	got, err := fs.ReadFile("sub/new.ts")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "content" {
		t.Errorf("ReadFile = %q, want %q", got, "content")
	}
}

func TestDeleteMissingIsSoftFail(t *testing.T) {
	fs := New(t.TempDir())
	if err := fs.Delete("missing.ts"); err != nil {
		t.Errorf("Delete of missing file should be a no-op, got error: %v", err)
	}
}

func TestSearchReplace(t *testing.T) {
	tests := []struct {
		name        string
		initial     string
		find        string
		replace     string
		wantApplied bool
		wantOccur   int
		wantContent string
	}{
		{
			name:        "single occurrence applies",
			initial:     "const x = 1;",
			find:        "1",
			replace:     "2",
			wantApplied: true,
			wantOccur:   1,
			wantContent: "const x = 2;",
		},
		{
			name:        "zero occurrences does not apply",
			initial:     "const x = 1;",
			find:        "missing",
			replace:     "y",
			wantApplied: false,
			wantOccur:   0,
			wantContent: "const x = 1;",
		},
		{
			name:        "multiple occurrences does not apply",
			initial:     "x = 1; y = 1;",
			find:        "1",
			replace:     "2",
			wantApplied: false,
			wantOccur:   2,
			wantContent: "x = 1; y = 1;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := New(t.TempDir())
			if err := fs.Write("a.ts", tt.initial); err != nil {
				t.Fatalf("Write: %v", err)
			}
			res, err := fs.SearchReplace("a.ts", tt.find, tt.replace)
			if err != nil {
				t.Fatalf("SearchReplace: %v", err)
			}
			if res.Applied != tt.wantApplied || res.Occurrences != tt.wantOccur {
				t.Errorf("SearchReplace result = %+v, want {Occurrences:%d Applied:%v}", res, tt.wantOccur, tt.wantApplied)
			}
			got, err := fs.ReadFile("a.ts")
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if string(got) != tt.wantContent {
				t.Errorf("content = %q, want %q", got, tt.wantContent)
			}
		})
	}
}

func TestExistsFalseForPathViolation(t *testing.T) {
	fs := New(t.TempDir())
	if fs.Exists("../escape.ts") {
		t.Error("Exists should be false for a path that escapes the workspace root")
	}
}

func TestWriteCreatesParentDirs(t *testing.T) {
	root := t.TempDir()
	fs := New(root)
	if err := fs.Write("deeply/nested/dir/file.ts", "hi"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "deeply", "nested", "dir", "file.ts")); err != nil {
		t.Errorf("expected file on disk: %v", err)
	}
}
