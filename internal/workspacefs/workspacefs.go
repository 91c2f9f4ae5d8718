// Package workspacefs implements workspace-scoped filesystem operations
// (§4.6.1) behind a safe-join that enforces invariant I4: no resulting path
// may escape workspace.path. FS is a plain struct holding the root; its
// methods call the os package directly, with no injected interface.
package workspacefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyad/orchestrator/engine"
)

// FS scopes all operations to root, the workspace's absolute path.
type FS struct {
	Root string
}

// New returns an FS rooted at root. root must already exist.
func New(root string) *FS {
	return &FS{Root: root}
}

// SafeJoin resolves rel against root, rejecting any result that escapes it
// (I4, P5). rel is interpreted as workspace-relative; absolute rel paths are
// treated as relative by stripping the leading separator.
func (f *FS) SafeJoin(rel string) (string, error) {
	rel = strings.TrimPrefix(rel, string(filepath.Separator))
	joined := filepath.Join(f.Root, rel)
	cleanRoot := filepath.Clean(f.Root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes workspace root", engine.ErrPathViolation, rel)
	}
	return joined, nil
}

// Write implements §4.6.1 Write: ensures the parent directory exists and
// overwrites the file with content.
func (f *FS) Write(rel, content string) error {
	path, err := f.SafeJoin(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("workspacefs.Write: mkdir: %w", err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// Rename implements §4.6.1 Rename: fails softly (returns nil) if the source
// is missing, otherwise moves atomically.
func (f *FS) Rename(fromRel, toRel string) error {
	from, err := f.SafeJoin(fromRel)
	if err != nil {
		return err
	}
	to, err := f.SafeJoin(toRel)
	if err != nil {
		return err
	}
	if _, err := os.Stat(from); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
		return fmt.Errorf("workspacefs.Rename: mkdir: %w", err)
	}
	return os.Rename(from, to)
}

// Delete implements §4.6.1 Delete: fails softly if absent.
func (f *FS) Delete(rel string) error {
	path, err := f.SafeJoin(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// SearchReplaceResult reports how many occurrences of find were located, so
// the caller can decide whether to record an "issue" per §4.6.1.
type SearchReplaceResult struct {
	Occurrences int
	Applied     bool
}

// SearchReplace implements §4.6.1 SearchReplace: requires exactly one
// occurrence of find in the current file contents; applies and writes only
// in that case. Zero or multiple occurrences are reported but not applied.
func (f *FS) SearchReplace(rel, find, replace string) (SearchReplaceResult, error) {
	path, err := f.SafeJoin(rel)
	if err != nil {
		return SearchReplaceResult{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SearchReplaceResult{}, fmt.Errorf("workspacefs.SearchReplace: read: %w", err)
	}
	content := string(data)
	count := strings.Count(content, find)
	if count != 1 {
		return SearchReplaceResult{Occurrences: count}, nil
	}
	updated := strings.Replace(content, find, replace, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return SearchReplaceResult{}, fmt.Errorf("workspacefs.SearchReplace: write: %w", err)
	}
	return SearchReplaceResult{Occurrences: 1, Applied: true}, nil
}

// ReadFile reads a workspace-relative file through the safe-join.
func (f *FS) ReadFile(rel string) ([]byte, error) {
	path, err := f.SafeJoin(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Exists reports whether a workspace-relative path exists.
func (f *FS) Exists(rel string) bool {
	path, err := f.SafeJoin(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
