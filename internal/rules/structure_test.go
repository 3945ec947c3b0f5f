package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doraemonkeys/sloc-guard/internal/config"
)

func names(n int, prefix string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + string(rune('a'+i))
	}
	return out
}

func TestStructureLimitSemantics(t *testing.T) {
	t.Run("unlimited skips the check", func(t *testing.T) {
		cfg := &config.StructureConfig{MaxFiles: intPtr(-1)}
		ev := NewStructureEvaluator(cfg)
		got := ev.Evaluate(Directory{Path: "src", Files: names(20, "f"), Depth: 1})
		assert.Empty(t, got)
	})

	t.Run("zero prohibits any occurrence", func(t *testing.T) {
		cfg := &config.StructureConfig{MaxFiles: intPtr(0)}
		ev := NewStructureEvaluator(cfg)
		got := ev.Evaluate(Directory{Path: "src", Files: []string{"one.go"}, Depth: 1})
		require.Len(t, got, 1)
		assert.Equal(t, FileCount, got[0].Kind)
		assert.Equal(t, StatusFailed, got[0].Severity)
	})

	t.Run("positive cap with warn band", func(t *testing.T) {
		cfg := &config.StructureConfig{MaxFiles: intPtr(10)}
		ev := NewStructureEvaluator(cfg)

		assert.Empty(t, ev.Evaluate(Directory{Path: "src", Files: names(8, "f")}))

		warn := ev.Evaluate(Directory{Path: "src", Files: names(9, "f")})
		require.Len(t, warn, 1)
		assert.Equal(t, StatusWarning, warn[0].Severity)

		fail := ev.Evaluate(Directory{Path: "src", Files: names(11, "f")})
		require.Len(t, fail, 1)
		assert.Equal(t, StatusFailed, fail[0].Severity)
		assert.Equal(t, 11, fail[0].Actual)
		assert.Equal(t, 10, fail[0].Limit)
	})

	t.Run("unset limits are unlimited", func(t *testing.T) {
		ev := NewStructureEvaluator(&config.StructureConfig{})
		assert.Empty(t, ev.Evaluate(Directory{Path: "x", Files: names(26, "f"), Depth: 9}))
	})
}

func TestStructureRuleWarnThreshold(t *testing.T) {
	t.Run("shared warn_threshold on a rule", func(t *testing.T) {
		cfg := &config.StructureConfig{
			Rules: []config.StructureRule{
				{Scope: "src", MaxFiles: intPtr(10), WarnThreshold: floatPtr(0.5)},
			},
		}
		ev := NewStructureEvaluator(cfg)

		assert.Empty(t, ev.Evaluate(Directory{Path: "src", Files: names(5, "f")}))

		got := ev.Evaluate(Directory{Path: "src", Files: names(6, "f")})
		require.Len(t, got, 1)
		assert.Equal(t, StatusWarning, got[0].Severity)
	})

	t.Run("specific threshold beats shared", func(t *testing.T) {
		cfg := &config.StructureConfig{
			Rules: []config.StructureRule{
				{Scope: "src", MaxFiles: intPtr(10), WarnThreshold: floatPtr(0.5), WarnFilesThreshold: floatPtr(0.9)},
			},
		}
		ev := NewStructureEvaluator(cfg)
		assert.Empty(t, ev.Evaluate(Directory{Path: "src", Files: names(9, "f")}))
	})

	t.Run("shared beats global warn_files_at", func(t *testing.T) {
		cfg := &config.StructureConfig{
			WarnFilesAt: intPtr(3),
			Rules: []config.StructureRule{
				{Scope: "src", MaxFiles: intPtr(10), WarnThreshold: floatPtr(0.5)},
			},
		}
		ev := NewStructureEvaluator(cfg)
		assert.Empty(t, ev.Evaluate(Directory{Path: "src", Files: names(4, "f")}))
	})
}

func TestStructureRuleResolution(t *testing.T) {
	cfg := &config.StructureConfig{
		MaxFiles: intPtr(5),
		Rules: []config.StructureRule{
			{Scope: "src/**", MaxFiles: intPtr(10)},
			{Scope: "src/big/**", MaxFiles: intPtr(50)},
		},
	}
	ev := NewStructureEvaluator(cfg)

	t.Run("last matching scope wins", func(t *testing.T) {
		assert.Empty(t, ev.Evaluate(Directory{Path: "src/big/gen", Files: names(20, "f")}))
		got := ev.Evaluate(Directory{Path: "src/lib", Files: names(20, "f")})
		require.Len(t, got, 1)
		assert.Equal(t, 10, got[0].Limit)
	})

	t.Run("globals when no scope matches", func(t *testing.T) {
		got := ev.Evaluate(Directory{Path: "docs", Files: names(6, "f")})
		require.Len(t, got, 1)
		assert.Equal(t, 5, got[0].Limit)
	})

	t.Run("override pins a directory", func(t *testing.T) {
		withOverride := &config.StructureConfig{
			MaxFiles: intPtr(5),
			Overrides: []config.StructureOverride{
				{Path: "docs", MaxFiles: intPtr(100), Reason: "generated docs"},
			},
		}
		got := NewStructureEvaluator(withOverride).Evaluate(Directory{Path: "docs", Files: names(20, "f")})
		assert.Empty(t, got)
	})
}

func TestStructureDepth(t *testing.T) {
	t.Run("absolute depth", func(t *testing.T) {
		cfg := &config.StructureConfig{MaxDepth: intPtr(2)}
		ev := NewStructureEvaluator(cfg)
		assert.Empty(t, ev.Evaluate(Directory{Path: "a/b", Depth: 2}))
		got := ev.Evaluate(Directory{Path: "a/b/c", Depth: 3})
		require.Len(t, got, 1)
		assert.Equal(t, MaxDepth, got[0].Kind)
	})

	t.Run("relative depth measures from scope prefix", func(t *testing.T) {
		cfg := &config.StructureConfig{
			Rules: []config.StructureRule{
				{Scope: "src/nested/**", MaxDepth: intPtr(2), RelativeDepth: true},
			},
		}
		ev := NewStructureEvaluator(cfg)
		// src/nested has two literal components, so depth 4 is relative 2.
		assert.Empty(t, ev.Evaluate(Directory{Path: "src/nested/a/b", Depth: 4}))
		got := ev.Evaluate(Directory{Path: "src/nested/a/b/c", Depth: 5})
		require.Len(t, got, 1)
		assert.Equal(t, 3, got[0].Actual)
	})
}

func TestStructureAllowDeny(t *testing.T) {
	t.Run("allowlist mode", func(t *testing.T) {
		cfg := &config.StructureConfig{
			Rules: []config.StructureRule{
				{Scope: "src/**", AllowExtensions: []string{".go"}, AllowFiles: []string{"README*"}},
			},
		}
		ev := NewStructureEvaluator(cfg)
		got := ev.Evaluate(Directory{
			Path:  "src/pkg",
			Files: []string{"main.go", "README.md", "notes.txt"},
		})
		require.Len(t, got, 1)
		assert.Equal(t, DisallowedFile, got[0].Kind)
		assert.Equal(t, "src/pkg/notes.txt", got[0].Path)
	})

	t.Run("denylist mode", func(t *testing.T) {
		cfg := &config.StructureConfig{
			Rules: []config.StructureRule{
				{Scope: "src/**", DenyExtensions: []string{"tmp"}, DenyDirs: []string{"node_modules"}},
			},
		}
		ev := NewStructureEvaluator(cfg)
		got := ev.Evaluate(Directory{
			Path:    "src/pkg",
			Files:   []string{"main.go", "scratch.tmp"},
			Subdirs: []string{"api", "node_modules"},
		})
		require.Len(t, got, 2)
		assert.Equal(t, DisallowedDir, got[0].Kind)
		assert.Equal(t, "src/pkg/node_modules", got[0].Path)
		assert.Equal(t, DisallowedFile, got[1].Kind)
		assert.Equal(t, "src/pkg/scratch.tmp", got[1].Path)
	})
}

func TestStructureNamingPattern(t *testing.T) {
	cfg := &config.StructureConfig{
		Rules: []config.StructureRule{
			{Scope: "src/**", FileNamingPattern: `^[a-z_]+\.go$`},
		},
	}
	ev := NewStructureEvaluator(cfg)
	got := ev.Evaluate(Directory{Path: "src/pkg", Files: []string{"ok_name.go", "BadName.go"}})
	require.Len(t, got, 1)
	assert.Equal(t, NamingPattern, got[0].Kind)
	assert.Equal(t, "src/pkg/BadName.go", got[0].Path)
}

func TestStructureSiblings(t *testing.T) {
	t.Run("single sibling present", func(t *testing.T) {
		cfg := &config.StructureConfig{
			Rules: []config.StructureRule{
				{Scope: "src/**", FilePattern: "*.c", RequireSibling: []string{"{stem}.h"}},
			},
		}
		ev := NewStructureEvaluator(cfg)
		assert.Empty(t, ev.Evaluate(Directory{Path: "src/lib", Files: []string{"util.c", "util.h"}}))

		got := ev.Evaluate(Directory{Path: "src/lib", Files: []string{"util.c"}})
		require.Len(t, got, 1)
		assert.Equal(t, MissingSibling, got[0].Kind)
		assert.Contains(t, got[0].Detail, "util.h")
	})

	t.Run("group picks the most complete stem", func(t *testing.T) {
		cfg := &config.StructureConfig{
			Rules: []config.StructureRule{
				{
					Scope:          "app/**",
					FilePattern:    "*.ts",
					RequireSibling: []string{"{stem}.ts", "{stem}.test.ts", "{stem}.css"},
				},
			},
		}
		ev := NewStructureEvaluator(cfg)

		// widget.test.ts anchors on stem "widget", not "widget.test".
		got := ev.Evaluate(Directory{
			Path:  "app/ui",
			Files: []string{"widget.ts", "widget.test.ts", "widget.css"},
		})
		assert.Empty(t, got)

		got = ev.Evaluate(Directory{
			Path:  "app/ui",
			Files: []string{"widget.ts", "widget.css"},
		})
		require.NotEmpty(t, got)
		assert.Equal(t, GroupIncomplete, got[0].Kind)
		assert.Contains(t, got[0].Detail, "widget.test.ts")
	})
}

func TestStructureExplainExactlyOneMatched(t *testing.T) {
	cfg := &config.StructureConfig{
		MaxFiles: intPtr(5),
		Rules: []config.StructureRule{
			{Scope: "src/**", MaxFiles: intPtr(10)},
			{Scope: "src/big/**", MaxFiles: intPtr(50)},
		},
		Overrides: []config.StructureOverride{
			{Path: "src/pinned", MaxFiles: intPtr(99)},
		},
	}
	ev := NewStructureEvaluator(cfg)

	for _, path := range []string{"src/lib", "src/big/gen", "src/pinned", "docs"} {
		t.Run(path, func(t *testing.T) {
			trace := ev.Explain(path)
			matched := 0
			for _, cand := range trace.Candidates {
				if cand.Status == Matched {
					matched++
				}
			}
			assert.Equal(t, 1, matched, "trace: %+v", trace.Candidates)
		})
	}
}
