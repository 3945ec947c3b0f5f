package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doraemonkeys/sloc-guard/internal/errs"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadPath(t *testing.T, path string) (*Config, error) {
	t.Helper()
	return Load(LoadOptions{Path: path, WorkDir: filepath.Dir(path), Logger: quietLogger()})
}

func TestLoadNoConfig(t *testing.T) {
	cfg, err := Load(LoadOptions{NoConfig: true, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxLines, cfg.Content.GlobalMaxLines())
	assert.Equal(t, []string{"builtin:defaults"}, cfg.Sources)
}

func TestLoadDiscoveryFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(LoadOptions{WorkDir: t.TempDir(), Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, "builtin:defaults", cfg.Origin())
}

func TestLoadSingleFile(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), ConfigFileName, `
version = "2"

[content]
max_lines = 250
warn_threshold = 0.9
`)
	cfg, err := loadPath(t, path)
	require.NoError(t, err)
	assert.Equal(t, 250, cfg.Content.GlobalMaxLines())
	assert.Equal(t, 0.9, *cfg.Content.WarnThreshold)
	assert.Equal(t, []string{path}, cfg.Sources)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "nope.toml"), Logger: quietLogger()})
	require.Error(t, err)
	assert.Equal(t, errs.KindFileAccess, errs.KindOf(err))
}

func TestLoadSyntaxError(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "bad.toml", "[content\nmax_lines = 10\n")
	_, err := loadPath(t, path)
	require.Error(t, err)
	assert.Equal(t, errs.KindSyntax, errs.KindOf(err))

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Contains(t, e.Detail, "line 1")
}

func TestLoadTypeMismatch(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "bad.toml", `
[content]
max_lines = "lots"
`)
	_, err := loadPath(t, path)
	require.Error(t, err)
	assert.Equal(t, errs.KindTypeMismatch, errs.KindOf(err))
}

func TestLoadVersionCheck(t *testing.T) {
	t.Run("version 1 gets a migration hint", func(t *testing.T) {
		path := writeConfigFile(t, t.TempDir(), "v1.toml", `version = "1"`)
		_, err := loadPath(t, path)
		require.Error(t, err)
		assert.Equal(t, errs.KindConfig, errs.KindOf(err))

		var e *errs.Error
		require.ErrorAs(t, err, &e)
		assert.Contains(t, e.Suggestion, "version = \"2\"")
	})

	t.Run("unknown version is rejected", func(t *testing.T) {
		path := writeConfigFile(t, t.TempDir(), "v9.toml", `version = "9"`)
		_, err := loadPath(t, path)
		require.Error(t, err)
		assert.Equal(t, errs.KindConfig, errs.KindOf(err))
	})

	t.Run("missing version is accepted", func(t *testing.T) {
		path := writeConfigFile(t, t.TempDir(), "nv.toml", "[content]\nmax_lines = 10\n")
		_, err := loadPath(t, path)
		require.NoError(t, err)
	})
}

func TestLoadExtendsMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "parent.toml", `
version = "2"

[content]
max_lines = 1000
exclude = ["a/**"]
`)
	child := writeConfigFile(t, dir, "child.toml", `
version = "2"
extends = "parent.toml"

[content]
warn_threshold = 0.5
exclude = ["b/**"]
`)

	cfg, err := loadPath(t, child)
	require.NoError(t, err)

	// Tables merge, scalars from the child win, arrays append parent-first.
	assert.Equal(t, 1000, *cfg.Content.MaxLines)
	assert.Equal(t, 0.5, *cfg.Content.WarnThreshold)
	assert.Equal(t, []string{"a/**", "b/**"}, cfg.Content.Exclude)
	assert.Equal(t, []string{child, filepath.Join(dir, "parent.toml")}, cfg.Sources)
}

func TestLoadExtendsResetSentinel(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "parent.toml", `
[content]
exclude = ["a/**"]

[[content.rules]]
pattern = "legacy/**"
max_lines = 900
`)
	child := writeConfigFile(t, dir, "child.toml", `
extends = "parent.toml"

[content]
exclude = ["$reset", "b/**"]

[[content.rules]]
pattern = "$reset"

[[content.rules]]
pattern = "src/**"
max_lines = 300
`)

	cfg, err := loadPath(t, child)
	require.NoError(t, err)
	assert.Equal(t, []string{"b/**"}, cfg.Content.Exclude)
	require.Len(t, cfg.Content.Rules, 1)
	assert.Equal(t, "src/**", cfg.Content.Rules[0].Pattern)
}

func TestLoadSentinelMustBeFirst(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "bad.toml", `
[content]
exclude = ["a/**", "$reset"]
`)
	_, err := loadPath(t, path)
	require.Error(t, err)
	assert.Equal(t, errs.KindSemantic, errs.KindOf(err))
}

func TestLoadStraySentinelStripped(t *testing.T) {
	// A leading sentinel with no extends chain to consume it is dropped.
	path := writeConfigFile(t, t.TempDir(), "lone.toml", `
[content]
exclude = ["$reset", "x/**"]
`)
	cfg, err := loadPath(t, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"x/**"}, cfg.Content.Exclude)
}

func TestLoadExtendsCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.toml", `extends = "b.toml"`)
	writeConfigFile(t, dir, "b.toml", `extends = "a.toml"`)

	_, err := loadPath(t, filepath.Join(dir, "a.toml"))
	require.Error(t, err)
	assert.Equal(t, errs.KindCircularExtends, errs.KindOf(err))

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Contains(t, e.Detail, "a.toml")
	assert.Contains(t, e.Detail, "b.toml")
}

func TestLoadExtendsSelf(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "self.toml", `extends = "self.toml"`)
	_, err := loadPath(t, filepath.Join(dir, "self.toml"))
	require.Error(t, err)
	assert.Equal(t, errs.KindCircularExtends, errs.KindOf(err))
}

func TestLoadExtendsTooDeep(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "c11.toml", "[content]\nmax_lines = 10\n")
	for i := 10; i >= 0; i-- {
		writeConfigFile(t, dir, fmt.Sprintf("c%d.toml", i),
			fmt.Sprintf("extends = \"c%d.toml\"\n", i+1))
	}

	_, err := loadPath(t, filepath.Join(dir, "c0.toml"))
	require.Error(t, err)
	assert.Equal(t, errs.KindExtendsTooDeep, errs.KindOf(err))
}

func TestLoadExtendsPreset(t *testing.T) {
	dir := t.TempDir()
	child := writeConfigFile(t, dir, "child.toml", `
extends = "preset:rust-strict"

[content]
warn_threshold = 0.9
`)
	cfg, err := loadPath(t, child)
	require.NoError(t, err)
	assert.Equal(t, 400, *cfg.Content.MaxLines)
	assert.Equal(t, 0.9, *cfg.Content.WarnThreshold)
	assert.Equal(t, []string{"rs"}, cfg.Content.Extensions)
	assert.Contains(t, cfg.Sources, "preset:rust-strict")
}

func TestLoadExtendsUnknownPreset(t *testing.T) {
	dir := t.TempDir()
	child := writeConfigFile(t, dir, "child.toml", `extends = "preset:go-lenient"`)
	_, err := loadPath(t, child)
	require.Error(t, err)
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Contains(t, e.Suggestion, "rust-strict")
}

func TestLoadNoExtendsFlag(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "parent.toml", `
[content]
warn_threshold = 0.5
`)
	child := writeConfigFile(t, dir, "child.toml", `
extends = "parent.toml"

[content]
max_lines = 100
`)
	cfg, err := Load(LoadOptions{Path: child, NoExtends: true, Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, 100, *cfg.Content.MaxLines)
	assert.Nil(t, cfg.Content.WarnThreshold)
}

const remoteParent = `
version = "2"

[content]
max_lines = 777
`

func remoteServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(remoteParent))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadRemoteExtends(t *testing.T) {
	srv := remoteServer(t)
	dir := t.TempDir()
	child := writeConfigFile(t, dir, "child.toml",
		fmt.Sprintf("extends = %q\n\n[content]\nwarn_threshold = 0.7\n", srv.URL))

	cfg, err := Load(LoadOptions{
		Path:           child,
		Policy:         FetchNormal,
		RemoteCacheDir: t.TempDir(),
		Logger:         quietLogger(),
	})
	require.NoError(t, err)
	assert.Equal(t, 777, *cfg.Content.MaxLines)
	assert.Equal(t, 0.7, *cfg.Content.WarnThreshold)
	assert.Contains(t, cfg.Sources, srv.URL)
}

func TestLoadRemoteExtendsHashPin(t *testing.T) {
	srv := remoteServer(t)
	sum := sha256.Sum256([]byte(remoteParent))
	goodPin := hex.EncodeToString(sum[:])

	t.Run("matching pin", func(t *testing.T) {
		dir := t.TempDir()
		child := writeConfigFile(t, dir, "child.toml",
			fmt.Sprintf("extends = %q\nextends_sha256 = %q\n", srv.URL, goodPin))
		cfg, err := Load(LoadOptions{
			Path:           child,
			Policy:         FetchNormal,
			RemoteCacheDir: t.TempDir(),
			Logger:         quietLogger(),
		})
		require.NoError(t, err)
		assert.Equal(t, 777, *cfg.Content.MaxLines)
	})

	t.Run("mismatched pin leaves the cache untouched", func(t *testing.T) {
		dir := t.TempDir()
		cacheDir := t.TempDir()
		badPin := hex.EncodeToString(make([]byte, 32))
		child := writeConfigFile(t, dir, "child.toml",
			fmt.Sprintf("extends = %q\nextends_sha256 = %q\n", srv.URL, badPin))

		_, err := Load(LoadOptions{
			Path:           child,
			Policy:         FetchNormal,
			RemoteCacheDir: cacheDir,
			Logger:         quietLogger(),
		})
		require.Error(t, err)
		assert.Equal(t, errs.KindRemoteConfigHash, errs.KindOf(err))

		entries, readErr := os.ReadDir(cacheDir)
		require.NoError(t, readErr)
		assert.Empty(t, entries)
	})
}

func TestLoadRemoteOfflinePolicy(t *testing.T) {
	srv := remoteServer(t)
	cacheDir := t.TempDir()
	dir := t.TempDir()
	child := writeConfigFile(t, dir, "child.toml",
		fmt.Sprintf("extends = %q\n", srv.URL))

	t.Run("uncached offline fails", func(t *testing.T) {
		_, err := Load(LoadOptions{
			Path:           child,
			Policy:         FetchOffline,
			RemoteCacheDir: cacheDir,
			Logger:         quietLogger(),
		})
		require.Error(t, err)
		assert.Equal(t, errs.KindConfig, errs.KindOf(err))
	})

	t.Run("offline serves from cache after one normal fetch", func(t *testing.T) {
		_, err := Load(LoadOptions{
			Path:           child,
			Policy:         FetchNormal,
			RemoteCacheDir: cacheDir,
			Logger:         quietLogger(),
		})
		require.NoError(t, err)
		srv.Close()

		cfg, err := Load(LoadOptions{
			Path:           child,
			Policy:         FetchOffline,
			RemoteCacheDir: cacheDir,
			Logger:         quietLogger(),
		})
		require.NoError(t, err)
		assert.Equal(t, 777, *cfg.Content.MaxLines)
	})
}

func TestLoadRemoteCannotExtendRelativePath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("extends = \"local.toml\"\n"))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	child := writeConfigFile(t, dir, "child.toml", fmt.Sprintf("extends = %q\n", srv.URL))
	_, err := Load(LoadOptions{
		Path:           child,
		Policy:         FetchRefresh,
		RemoteCacheDir: t.TempDir(),
		Logger:         quietLogger(),
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindExtendsResolution, errs.KindOf(err))
}

func TestParseFetchPolicy(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want FetchPolicy
		ok   bool
	}{
		{"", FetchNormal, true},
		{"normal", FetchNormal, true},
		{"offline", FetchOffline, true},
		{"refresh", FetchRefresh, true},
		{"eager", "", false},
	} {
		got, err := ParseFetchPolicy(tt.in)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got)
		} else {
			require.Error(t, err, tt.in)
		}
	}
}

func TestCountingFingerprint(t *testing.T) {
	base := Default()
	withLang := Default()
	withLang.Languages = map[string]CustomLanguage{
		"fennel": {Extensions: []string{"fnl"}, LinePrefixes: []string{";"}},
	}

	// Thresholds do not participate; only custom language syntax does.
	tweaked := Default()
	limit := 9999
	tweaked.Content.MaxLines = &limit

	assert.Equal(t, base.CountingFingerprint(), tweaked.CountingFingerprint())
	assert.NotEqual(t, base.CountingFingerprint(), withLang.CountingFingerprint())
}
