// Package startupscript generates the in-container shell script that a
// workspace container runs as its entrypoint (C8, §4.5). It detects the
// package manager from lockfiles present in the workspace, decides whether
// a dependency install is needed by comparing a stored hash of package.json,
// and execs the dev server bound to the assigned port.
package startupscript

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PackageManager identifies which Node package manager a workspace uses.
type PackageManager string

const (
	PNPM PackageManager = "pnpm"
	Yarn PackageManager = "yarn"
	NPM  PackageManager = "npm"
)

// DetectPackageManager inspects workspacePath for lockfiles per §4.5: pnpm
// if pnpm-lock.yaml is present, yarn if yarn.lock is present, npm otherwise.
func DetectPackageManager(workspacePath string) PackageManager {
	if fileExists(filepath.Join(workspacePath, "pnpm-lock.yaml")) {
		return PNPM
	}
	if fileExists(filepath.Join(workspacePath, "yarn.lock")) {
		return Yarn
	}
	return NPM
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// HashPackageJSON returns the MD5 hex digest of package.json's contents,
// matching the source's dep-hash choice (§9 open question: MD5 vs a
// stronger digest is left to implementations; this follows the original).
func HashPackageJSON(workspacePath string) (string, error) {
	data, err := os.ReadFile(filepath.Join(workspacePath, "package.json"))
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// devCommand returns the package-manager-specific dev invocation (§4.5).
func devCommand(pm PackageManager, port int) string {
	switch pm {
	case PNPM:
		return fmt.Sprintf("pnpm run dev --host 0.0.0.0 --port %d", port)
	case Yarn:
		return fmt.Sprintf("yarn dev --host 0.0.0.0 --port %d", port)
	default:
		return fmt.Sprintf("npm run dev -- --host 0.0.0.0 --port %d", port)
	}
}

// installCommand returns the package-manager-specific install invocation.
// update selects the "--no-frozen-lockfile"/refresh variant used after an
// add-dependency tag mutates the lockfile (§4.6.1).
func installCommand(pm PackageManager, update bool) string {
	switch pm {
	case PNPM:
		if update {
			return "pnpm install --no-frozen-lockfile"
		}
		return "pnpm install"
	case Yarn:
		if update {
			return "yarn install --no-frozen-lockfile"
		}
		return "yarn install"
	default:
		return "npm install --legacy-peer-deps"
	}
}

// Options parameterizes Generate.
type Options struct {
	WorkspacePath string
	DevPort       int
	PackageManager PackageManager
	// Update, when true, requests the lockfile-refreshing install variant
	// (used right after an add-dependency tag was applied).
	Update bool
}

// Generate emits the shell script described by §4.5: a structured log line,
// a hash-gated dependency install, then an exec'd dev server.
func Generate(opts Options) string {
	var b strings.Builder
	devCmd := devCommand(opts.PackageManager, opts.DevPort)
	installCmd := installCommand(opts.PackageManager, opts.Update)

	fmt.Fprintf(&b, "#!/bin/sh\n")
	fmt.Fprintf(&b, "set -e\n")
	fmt.Fprintf(&b, "cd /app\n")
	fmt.Fprintf(&b, `echo '{"level":"info","msg":"startup script begin","packageManager":"%s","devPort":%d}'`+"\n", opts.PackageManager, opts.DevPort)
	b.WriteString("\n")
	b.WriteString("NEEDS_INSTALL=0\n")
	b.WriteString("if [ ! -d node_modules ]; then NEEDS_INSTALL=1; fi\n")
	b.WriteString("if [ ! -f .dependency-hash ]; then NEEDS_INSTALL=1; fi\n")
	b.WriteString(`NEW_HASH=$(md5sum package.json | cut -d " " -f1)` + "\n")
	b.WriteString(`if [ -f .dependency-hash ] && [ "$(cat .dependency-hash)" != "$NEW_HASH" ]; then NEEDS_INSTALL=1; fi` + "\n")
	b.WriteString("\n")
	b.WriteString("if [ \"$NEEDS_INSTALL\" = \"1\" ]; then\n")
	fmt.Fprintf(&b, "  %s\n", installCmd)
	b.WriteString("  echo \"$NEW_HASH\" > .dependency-hash\n")
	b.WriteString("fi\n")
	b.WriteString("\n")
	b.WriteString("export CHOKIDAR_USEPOLLING=true\n")
	fmt.Fprintf(&b, "exec %s\n", devCmd)
	return b.String()
}

// NeedsInstall decides §4.5 step 2's NEEDS_INSTALL predicate from the host
// side (used by the stream processor to decide whether to trigger an
// out-of-band install via ExecInContainer, §4.6.2, without waiting for a
// full container restart).
func NeedsInstall(workspacePath string) (bool, error) {
	nodeModules := filepath.Join(workspacePath, "node_modules")
	if !fileExists(nodeModules) {
		return true, nil
	}
	hashPath := filepath.Join(workspacePath, ".dependency-hash")
	stored, err := os.ReadFile(hashPath)
	if err != nil {
		return true, nil
	}
	current, err := HashPackageJSON(workspacePath)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(stored)) != current, nil
}

// WriteHash persists the current package.json hash to .dependency-hash.
func WriteHash(workspacePath string) error {
	hash, err := HashPackageJSON(workspacePath)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workspacePath, ".dependency-hash"), []byte(hash), 0o644)
}
