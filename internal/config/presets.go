package config

import (
	"sort"

	"github.com/doraemonkeys/sloc-guard/internal/errs"
)

// PresetPrefix introduces a built-in preset in an extends spec.
const PresetPrefix = "preset:"

// presets are the built-in terminal configs reachable via extends. They never
// extend anything themselves and do not count toward the extends depth.
var presets = map[string]string{
	"rust-strict": `
version = "2"

[content]
max_lines = 400
warn_threshold = 0.75
extensions = ["rs"]

[[content.rules]]
pattern = "**/tests/**"
max_lines = 800
reason = "integration tests may carry large fixtures"

[structure]
max_files = 30
max_subdirs = 10
`,
	"node-strict": `
version = "2"

[content]
max_lines = 300
warn_threshold = 0.8
extensions = ["js", "jsx", "ts", "tsx", "mjs", "cjs"]
exclude = ["**/node_modules/**", "**/dist/**", "**/coverage/**"]

[[content.rules]]
pattern = "**/*.test.*"
max_lines = 600
reason = "test suites grow with the surface they cover"

[structure]
max_files = 25
max_subdirs = 12
`,
	"python-strict": `
version = "2"

[content]
max_lines = 400
warn_threshold = 0.8
extensions = ["py", "pyi"]
exclude = ["**/.venv/**", "**/venv/**", "**/__pycache__/**"]

[[content.rules]]
pattern = "**/test_*.py"
max_lines = 800
reason = "test modules may exceed the source budget"

[structure]
max_files = 30
max_subdirs = 10
`,
	"monorepo-base": `
version = "2"

[scanner]
exclude = ["vendor/**", "**/node_modules/**", "**/target/**", "**/build/**"]

[content]
max_lines = 600
warn_threshold = 0.85

[structure]
max_files = 50
max_subdirs = 20
max_depth = 8
`,
}

// PresetNames lists the available preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// presetSource returns the raw TOML of a named preset.
func presetSource(name string) (string, error) {
	src, ok := presets[name]
	if !ok {
		return "", errs.Newf(errs.KindConfig, "unknown preset %q", name).
			WithSuggestion("available presets: %v", PresetNames())
	}
	return src, nil
}
