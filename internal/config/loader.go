package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/doraemonkeys/sloc-guard/internal/errs"
)

const (
	// ConfigFileName is the project-local config discovered in the work dir.
	ConfigFileName = ".sloc-guard.toml"

	// MaxExtendsDepth bounds the extends chain. Presets are terminal and do
	// not count.
	MaxExtendsDepth = 10
)

// LoadOptions parameterise config discovery and resolution.
type LoadOptions struct {
	// Path forces a config file (--config). Empty means discover.
	Path string
	// NoConfig skips discovery entirely and uses built-in defaults.
	NoConfig bool
	// NoExtends ignores any extends key in the loaded config.
	NoExtends bool
	// Policy selects the remote fetch mode.
	Policy FetchPolicy
	// WorkDir anchors discovery and relative extends paths.
	WorkDir string
	// RemoteCacheDir holds cached remote configs; empty disables caching.
	RemoteCacheDir string
	Logger         *logrus.Logger
}

// Load discovers, resolves, merges and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if opts.NoConfig {
		cfg := Default()
		return cfg, Validate(cfg)
	}

	path, err := discover(opts)
	if err != nil {
		return nil, err
	}
	if path == "" {
		cfg := Default()
		return cfg, Validate(cfg)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindFileAccess, err, fmt.Sprintf("cannot read config %s", path)).
			WithSuggestion("check the path passed to --config")
	}

	raw, err := parseRaw(string(content), path)
	if err != nil {
		return nil, err
	}

	hasExtends := !opts.NoExtends && rawHasExtends(raw)
	hasSentinels := rawHasSentinel(raw)

	var cfg *Config
	if !hasExtends && !hasSentinels {
		// Single-file fast path: type errors keep precise line numbers.
		cfg, err = decodeTyped(string(content), path, logger)
		if err != nil {
			return nil, err
		}
		if err := checkVersion(cfg.Version, path); err != nil {
			return nil, err
		}
		cfg.Sources = []string{path}
	} else {
		r := &resolver{
			opts:    opts,
			logger:  logger,
			visited: map[string]bool{},
		}
		merged, err := r.resolveFile(path, raw, 0)
		if err != nil {
			return nil, err
		}
		stripStraySentinels(merged)
		cfg, err = decodeMerged(merged, r.chain)
		if err != nil {
			return nil, err
		}
		cfg.Sources = r.chain
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// discover applies the lookup order: explicit path, work dir, user config
// dir, built-in defaults (empty return).
func discover(opts LoadOptions) (string, error) {
	if opts.Path != "" {
		if _, err := os.Stat(opts.Path); err != nil {
			return "", errs.Wrap(errs.KindFileAccess, err, fmt.Sprintf("config %s not found", opts.Path)).
				WithSuggestion("check the path passed to --config")
		}
		return opts.Path, nil
	}
	local := filepath.Join(opts.WorkDir, ConfigFileName)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	if userDir, err := os.UserConfigDir(); err == nil {
		user := filepath.Join(userDir, "sloc-guard", "config.toml")
		if _, err := os.Stat(user); err == nil {
			return user, nil
		}
	}
	return "", nil
}

// parseRaw parses one file into a raw value tree. Only syntax errors can
// surface here, and they carry 1-based line and column from the source.
func parseRaw(content, origin string) (map[string]any, error) {
	var raw map[string]any
	if _, err := toml.Decode(content, &raw); err != nil {
		return nil, syntaxError(err, content, origin)
	}
	return normalizeRaw(raw).(map[string]any), nil
}

func syntaxError(err error, content, origin string) error {
	var pe toml.ParseError
	if ok := asParseError(err, &pe); ok {
		line, col := positionOf(content, pe.Position)
		return errs.Newf(errs.KindSyntax, "TOML syntax error in %s", origin).
			WithDetail("line %d, column %d: %s", line, col, pe.Message).
			WithSuggestion("fix the TOML syntax near line %d", line)
	}
	return errs.Wrap(errs.KindSyntax, err, fmt.Sprintf("TOML syntax error in %s", origin))
}

func asParseError(err error, target *toml.ParseError) bool {
	if pe, ok := err.(toml.ParseError); ok {
		*target = pe
		return true
	}
	return false
}

// positionOf converts a parser position into 1-based line and column.
func positionOf(content string, pos toml.Position) (int, int) {
	line := pos.Line
	if line < 1 {
		line = 1
	}
	col := 1
	if pos.Start > 0 && pos.Start <= len(content) {
		lastNL := strings.LastIndexByte(content[:pos.Start], '\n')
		col = pos.Start - lastNL
	}
	return line, col
}

// decodeTyped decodes a syntactically valid single file into the typed
// config. Failures here are type mismatches with precise positions.
func decodeTyped(content, origin string, logger *logrus.Logger) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(content, &cfg)
	if err != nil {
		var pe toml.ParseError
		if asParseError(err, &pe) {
			line, _ := positionOf(content, pe.Position)
			return nil, errs.Newf(errs.KindTypeMismatch, "invalid value for %s in %s", pe.LastKey, origin).
				WithDetail("line %d: %s", line, pe.Message).
				WithSuggestion("check the expected type of %s", pe.LastKey)
		}
		return nil, errs.Wrap(errs.KindTypeMismatch, err, fmt.Sprintf("cannot decode config %s", origin))
	}
	warnUndecoded(md, origin, logger)
	return &cfg, nil
}

// decodeMerged converts a merged raw tree into the typed config. Positions
// are meaningless after merging, so errors carry the origin chain instead.
func decodeMerged(merged map[string]any, chain []string) (*Config, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(merged); err != nil {
		return nil, errs.Wrap(errs.KindConfig, err, "cannot re-encode merged config").
			WithDetail("origin chain: %s", strings.Join(chain, " -> "))
	}
	var cfg Config
	if _, err := toml.Decode(buf.String(), &cfg); err != nil {
		var pe toml.ParseError
		if asParseError(err, &pe) {
			return nil, errs.Newf(errs.KindTypeMismatch, "invalid value for %s", pe.LastKey).
				WithDetail("origin chain: %s", strings.Join(chain, " -> ")).
				WithSuggestion("check the expected type of %s in the configs above", pe.LastKey)
		}
		return nil, errs.Wrap(errs.KindTypeMismatch, err, "cannot decode merged config").
			WithDetail("origin chain: %s", strings.Join(chain, " -> "))
	}
	return &cfg, nil
}

func checkVersionRaw(raw map[string]any, origin string) error {
	v, _ := raw["version"].(string)
	return checkVersion(v, origin)
}

func checkVersion(version, origin string) error {
	switch version {
	case "", CurrentVersion:
		return nil
	case "1":
		return errs.Newf(errs.KindConfig, "config %s uses schema version 1", origin).
			WithSuggestion("migrate to version 2: rename [limits] to [content] and set version = \"2\"")
	default:
		return errs.Newf(errs.KindConfig, "unsupported config version %q in %s", version, origin).
			WithSuggestion("this build understands version %q only", CurrentVersion)
	}
}

// normalizeRaw flattens the parser's concrete array types into []any so the
// merge logic sees one shape.
func normalizeRaw(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = normalizeRaw(child)
		}
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = normalizeRaw(m)
		}
		return out
	case []any:
		for i, child := range t {
			t[i] = normalizeRaw(child)
		}
		return t
	default:
		return v
	}
}

func rawHasExtends(raw map[string]any) bool {
	_, ok := raw["extends"]
	return ok
}

func rawHasSentinel(raw map[string]any) bool {
	found := false
	_ = walkArrays(raw, "", func(_ string, arr []any) error {
		for _, v := range arr {
			if isResetSentinel(v) {
				found = true
			}
		}
		return nil
	})
	return found
}

// resolver walks the extends chain, merging parent-first.
type resolver struct {
	opts    LoadOptions
	logger  *logrus.Logger
	fetcher *remoteFetcher
	visited map[string]bool
	chain   []string
}

// resolveFile resolves the config at path (already parsed as raw) together
// with everything it extends. depth counts non-preset steps taken so far.
func (r *resolver) resolveFile(path string, raw map[string]any, depth int) (map[string]any, error) {
	canonical := canonicalPath(path)
	if r.visited[canonical] {
		return nil, r.cycleError(canonical)
	}
	r.visited[canonical] = true
	r.chain = append(r.chain, path)

	if err := validateSentinelPositions(raw, path); err != nil {
		return nil, err
	}
	if err := checkVersionRaw(raw, path); err != nil {
		return nil, err
	}
	return r.resolveExtends(raw, filepath.Dir(path), false, depth)
}

// resolveExtends consumes the extends key of raw (if any), resolves the
// parent, and merges raw over it.
func (r *resolver) resolveExtends(raw map[string]any, baseDir string, fromRemote bool, depth int) (map[string]any, error) {
	spec, _ := raw["extends"].(string)
	if spec == "" || r.opts.NoExtends {
		delete(raw, "extends")
		delete(raw, "extends_sha256")
		return raw, nil
	}
	pin, _ := raw["extends_sha256"].(string)
	delete(raw, "extends")
	delete(raw, "extends_sha256")

	parent, err := r.resolveSpec(spec, pin, baseDir, fromRemote, depth)
	if err != nil {
		return nil, err
	}
	return mergeMaps(parent, raw), nil
}

func (r *resolver) resolveSpec(spec, pin, baseDir string, fromRemote bool, depth int) (map[string]any, error) {
	// Presets are terminal and free of depth accounting.
	if name, ok := strings.CutPrefix(spec, PresetPrefix); ok {
		src, err := presetSource(name)
		if err != nil {
			return nil, err
		}
		r.chain = append(r.chain, spec)
		raw, err := parseRaw(src, spec)
		if err != nil {
			return nil, err
		}
		return raw, nil
	}

	depth++
	if depth > MaxExtendsDepth {
		return nil, errs.Newf(errs.KindExtendsTooDeep, "extends chain exceeds %d levels", MaxExtendsDepth).
			WithDetail("chain: %s", strings.Join(append(r.chain, spec), " -> ")).
			WithSuggestion("flatten the extends chain or extend a preset directly")
	}

	if strings.HasPrefix(spec, "http://") || strings.HasPrefix(spec, "https://") {
		return r.resolveRemote(spec, pin, depth)
	}

	// Filesystem path; relative specs resolve against the extending file.
	if fromRemote && !filepath.IsAbs(spec) {
		return nil, errs.Newf(errs.KindExtendsResolution, "remote config extends relative path %q", spec).
			WithSuggestion("remote configs may extend only URLs, presets or absolute paths")
	}
	path := spec
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindFileAccess, err, fmt.Sprintf("cannot read extended config %s", path)).
			WithDetail("chain: %s", strings.Join(r.chain, " -> "))
	}
	raw, err := parseRaw(string(content), path)
	if err != nil {
		return nil, err
	}
	return r.resolveFile(path, raw, depth)
}

func (r *resolver) resolveRemote(url, pin string, depth int) (map[string]any, error) {
	canonical := url
	if r.visited[canonical] {
		return nil, r.cycleError(canonical)
	}
	r.visited[canonical] = true
	r.chain = append(r.chain, url)

	if r.fetcher == nil {
		cacheDir := r.opts.RemoteCacheDir
		if cacheDir == "" {
			cacheDir = filepath.Join(os.TempDir(), "sloc-guard-remote")
		}
		r.fetcher = newRemoteFetcher(r.opts.Policy, cacheDir, r.logger)
	}
	body, err := r.fetcher.Fetch(url, pin)
	if err != nil {
		return nil, err
	}
	raw, err := parseRaw(body, url)
	if err != nil {
		return nil, err
	}
	if err := validateSentinelPositions(raw, url); err != nil {
		return nil, err
	}
	if err := checkVersionRaw(raw, url); err != nil {
		return nil, err
	}
	return r.resolveExtends(raw, "", true, depth)
}

func (r *resolver) cycleError(at string) error {
	return errs.Newf(errs.KindCircularExtends, "circular extends detected at %s", at).
		WithDetail("chain: %s", strings.Join(append(r.chain, at), " -> ")).
		WithSuggestion("break the cycle by removing one extends link")
}

func canonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
