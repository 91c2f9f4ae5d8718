package workspacefs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// contextExcludeDirs are skipped outright during the workspace walk:
// dependency/build output and VCS metadata that never belongs in a model's
// codebase context. Mirrors the directories sandboxer.go's List walk would
// have had to skip had it ever needed to read file contents instead of just
// enumerating sandbox IDs.
var contextExcludeDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"vendor":       true,
	".turbo":       true,
	"coverage":     true,
}

// contextExcludeFiles are noisy or low-signal even though they'd otherwise
// match a context glob (lockfiles are valid JSON/YAML but huge and
// uninformative to a model reasoning about application code).
var contextExcludeFiles = map[string]bool{
	"package-lock.json": true,
	"pnpm-lock.yaml":    true,
	"yarn.lock":         true,
}

// contextGlobs are the glob patterns (matched against the file's base name)
// that qualify a file for inclusion in the model context block.
var contextGlobs = []string{
	"*.ts", "*.tsx", "*.js", "*.jsx", "*.mjs", "*.cjs",
	"*.json", "*.css", "*.scss", "*.html", "*.md",
}

// maxContextFileBytes skips any single file larger than this from the
// context block; oversized files are far more likely to be generated
// artifacts than hand-authored source.
const maxContextFileBytes = 64 * 1024

// maxContextTotalBytes bounds the overall serialized block so one large
// workspace can't balloon a model request without limit.
const maxContextTotalBytes = 256 * 1024

// ContextCache caches file contents across BuildContext calls, keyed by
// absolute path and invalidated by size+mtime, so a long-lived Processor
// doesn't reread every workspace file on every chat turn.
type ContextCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	modTime time.Time
	size    int64
	content string
}

// NewContextCache returns an empty cache ready to use.
func NewContextCache() *ContextCache {
	return &ContextCache{entries: map[string]cacheEntry{}}
}

func (c *ContextCache) get(path string, info os.FileInfo) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok || !e.modTime.Equal(info.ModTime()) || e.size != info.Size() {
		return "", false
	}
	return e.content, true
}

func (c *ContextCache) put(path string, info os.FileInfo, content string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = cacheEntry{modTime: info.ModTime(), size: info.Size(), content: content}
}

// BuildContext implements §4.6 step 3's "Build model context" operation: it
// resolves workspace files via the glob patterns above, applies the
// exclusions as a smart-context filter (skipping dependency directories,
// lockfiles, and oversized files), reads the survivors (through cache when
// given one), and serializes the result into one codebase block suitable
// for prepending to the first user message. cache may be nil to always
// read fresh.
func (f *FS) BuildContext(cache *ContextCache) (string, error) {
	root := os.DirFS(f.Root)

	type fileBlock struct {
		path    string
		content string
	}
	var blocks []fileBlock
	total := 0

	err := fs.WalkDir(root, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if contextExcludeDirs[name] || (strings.HasPrefix(name, ".") && name != ".") {
				return fs.SkipDir
			}
			return nil
		}
		if contextExcludeFiles[name] || !matchesContextGlob(name) {
			return nil
		}
		if total >= maxContextTotalBytes {
			return nil
		}

		abs := filepath.Join(f.Root, path)
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("workspacefs.BuildContext: stat %s: %w", path, err)
		}
		if info.Size() > maxContextFileBytes {
			return nil
		}

		content, ok := cache.get(abs, info)
		if !ok {
			data, err := os.ReadFile(abs)
			if err != nil {
				return fmt.Errorf("workspacefs.BuildContext: read %s: %w", path, err)
			}
			content = string(data)
			cache.put(abs, info, content)
		}

		blocks = append(blocks, fileBlock{path: filepath.ToSlash(path), content: content})
		total += len(content)
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(blocks) == 0 {
		return "", nil
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].path < blocks[j].path })

	var b strings.Builder
	b.WriteString("## Workspace files\n\n")
	for _, blk := range blocks {
		fmt.Fprintf(&b, "### %s\n\n```\n%s\n```\n\n", blk.path, blk.content)
	}
	return b.String(), nil
}

func matchesContextGlob(name string) bool {
	for _, g := range contextGlobs {
		if ok, _ := filepath.Match(g, name); ok {
			return true
		}
	}
	return false
}
