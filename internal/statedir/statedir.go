// Package statedir resolves the per-project state directory that holds the
// result cache, baseline, trend history and remote-config cache. Inside a git
// repository the state lives under .git/sloc-guard so it never shows up in the
// working tree; elsewhere a .sloc-guard directory is used.
package statedir

import (
	"os"
	"path/filepath"
)

const (
	dirName          = "sloc-guard"
	fallbackDirName  = ".sloc-guard"
	CacheFileName    = "cache.json"
	BaselineFileName = "baseline.json"
	HistoryFileName  = "history.json"
	remoteDirName    = "remote-configs"

	// EnvStateDir overrides the resolved state directory entirely.
	EnvStateDir = "SLOC_GUARD_STATE_DIR"
)

// Resolve returns the state directory for the project rooted at root,
// creating it if needed.
func Resolve(root string) (string, error) {
	if env := os.Getenv(EnvStateDir); env != "" {
		return env, os.MkdirAll(env, 0o755)
	}
	dir := fallback(root)
	if gitDir, ok := findGitDir(root); ok {
		dir = filepath.Join(gitDir, dirName)
	}
	return dir, os.MkdirAll(dir, 0o755)
}

// CachePath returns the result-cache file path inside dir.
func CachePath(dir string) string { return filepath.Join(dir, CacheFileName) }

// BaselinePath returns the baseline file path inside dir.
func BaselinePath(dir string) string { return filepath.Join(dir, BaselineFileName) }

// HistoryPath returns the trend-history file path inside dir.
func HistoryPath(dir string) string { return filepath.Join(dir, HistoryFileName) }

// RemoteConfigDir returns (and creates) the remote-config cache directory.
func RemoteConfigDir(dir string) (string, error) {
	rc := filepath.Join(dir, remoteDirName)
	return rc, os.MkdirAll(rc, 0o755)
}

func fallback(root string) string {
	return filepath.Join(root, fallbackDirName)
}

// findGitDir walks up from root looking for a .git directory.
func findGitDir(root string) (string, bool) {
	dir, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, ".git")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
