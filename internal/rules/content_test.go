package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doraemonkeys/sloc-guard/internal/classify"
	"github.com/doraemonkeys/sloc-guard/internal/config"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func TestContentDecideLastMatchWins(t *testing.T) {
	cfg := &config.ContentConfig{
		MaxLines: intPtr(500),
		Rules: []config.ContentRule{
			{Pattern: "src/**", MaxLines: 500},
			{Pattern: "src/legacy/**", MaxLines: 1500},
		},
	}
	ev := NewContentEvaluator(cfg, testNow)

	t.Run("more specific later rule wins", func(t *testing.T) {
		d := ev.Decide("src/legacy/x.rs")
		assert.Equal(t, 1500, d.Limit)
		assert.Equal(t, StatusPassed, d.Judge(1200))
	})

	t.Run("swapped order flips the winner", func(t *testing.T) {
		swapped := &config.ContentConfig{
			MaxLines: intPtr(500),
			Rules: []config.ContentRule{
				{Pattern: "src/legacy/**", MaxLines: 1500},
				{Pattern: "src/**", MaxLines: 500},
			},
		}
		d := NewContentEvaluator(swapped, testNow).Decide("src/legacy/x.rs")
		assert.Equal(t, 500, d.Limit)
		assert.Equal(t, StatusFailed, d.Judge(1200))
	})
}

func TestContentDecideLayers(t *testing.T) {
	cfg := &config.ContentConfig{
		MaxLines: intPtr(500),
		Exclude:  []string{"**/generated/**"},
		Languages: map[string]config.LanguageLimits{
			"go": {MaxLines: intPtr(600)},
		},
		Rules: []config.ContentRule{
			{Pattern: "**/*.go", MaxLines: 700, Reason: "team policy"},
		},
		Overrides: []config.ContentOverride{
			{Path: "pkg/big.go", MaxLines: 2000, Reason: "legacy"},
		},
	}
	ev := NewContentEvaluator(cfg, testNow)

	t.Run("exclude short-circuits", func(t *testing.T) {
		d := ev.Decide("pkg/generated/api.go")
		assert.True(t, d.Excluded)
	})

	t.Run("override beats rules", func(t *testing.T) {
		d := ev.Decide("pkg/big.go")
		assert.Equal(t, 2000, d.Limit)
		assert.Equal(t, "legacy", d.Reason)
	})

	t.Run("user rule beats language rule", func(t *testing.T) {
		d := ev.Decide("pkg/small.go")
		assert.Equal(t, 700, d.Limit)
		assert.Equal(t, "team policy", d.Reason)
	})

	t.Run("language rule beats defaults", func(t *testing.T) {
		langOnly := &config.ContentConfig{
			MaxLines:  intPtr(500),
			Languages: map[string]config.LanguageLimits{"go": {MaxLines: intPtr(600)}},
		}
		d := NewContentEvaluator(langOnly, testNow).Decide("pkg/x.go")
		assert.Equal(t, 600, d.Limit)
	})

	t.Run("defaults when nothing matches", func(t *testing.T) {
		d := ev.Decide("README.md")
		assert.Equal(t, 500, d.Limit)
		assert.Equal(t, "default", d.Source)
	})
}

func TestWarnAtFallbackChain(t *testing.T) {
	t.Run("rule absolute wins", func(t *testing.T) {
		cfg := &config.ContentConfig{
			MaxLines:      intPtr(500),
			WarnAt:        intPtr(450),
			WarnThreshold: floatPtr(0.5),
			Rules: []config.ContentRule{
				{Pattern: "**/*.go", MaxLines: 100, WarnAt: intPtr(90), WarnThreshold: floatPtr(0.5)},
			},
		}
		d := NewContentEvaluator(cfg, testNow).Decide("a.go")
		assert.Equal(t, 90, d.WarnAt)
		assert.True(t, d.WarnOrigin.FromRule)
		assert.True(t, d.WarnOrigin.Absolute)
	})

	t.Run("rule percentage next", func(t *testing.T) {
		cfg := &config.ContentConfig{
			MaxLines: intPtr(500),
			Rules: []config.ContentRule{
				{Pattern: "**/*.go", MaxLines: 100, WarnThreshold: floatPtr(0.5)},
			},
		}
		d := NewContentEvaluator(cfg, testNow).Decide("a.go")
		assert.Equal(t, 50, d.WarnAt)
		assert.True(t, d.WarnOrigin.FromRule)
		assert.False(t, d.WarnOrigin.Absolute)
	})

	t.Run("global threshold", func(t *testing.T) {
		cfg := &config.ContentConfig{MaxLines: intPtr(200), WarnThreshold: floatPtr(0.9)}
		d := NewContentEvaluator(cfg, testNow).Decide("a.go")
		assert.Equal(t, 180, d.WarnAt)
	})

	t.Run("global absolute above a tighter rule limit falls through", func(t *testing.T) {
		cfg := &config.ContentConfig{
			MaxLines: intPtr(500),
			WarnAt:   intPtr(450),
			Rules: []config.ContentRule{
				{Pattern: "**/*.go", MaxLines: 100},
			},
		}
		d := NewContentEvaluator(cfg, testNow).Decide("a.go")
		assert.Equal(t, 80, d.WarnAt)
		assert.False(t, d.WarnOrigin.Absolute)
	})

	t.Run("stock default", func(t *testing.T) {
		cfg := &config.ContentConfig{MaxLines: intPtr(100)}
		d := NewContentEvaluator(cfg, testNow).Decide("a.go")
		assert.Equal(t, 80, d.WarnAt)
	})
}

func TestJudgeBands(t *testing.T) {
	d := ContentDecision{Limit: 100, WarnAt: 80}
	assert.Equal(t, StatusPassed, d.Judge(80))
	assert.Equal(t, StatusWarning, d.Judge(81))
	assert.Equal(t, StatusWarning, d.Judge(100))
	assert.Equal(t, StatusFailed, d.Judge(101))

	t.Run("zero limit prohibits content", func(t *testing.T) {
		zero := ContentDecision{Limit: 0, WarnAt: 0}
		assert.Equal(t, StatusFailed, zero.Judge(1))
		assert.Equal(t, StatusPassed, zero.Judge(0))
	})
}

func TestEffectiveCode(t *testing.T) {
	stats := classify.LineStats{Total: 10, Code: 3, Comment: 5, Blank: 2}

	t.Run("skip everything", func(t *testing.T) {
		d := ContentDecision{SkipComments: true, SkipBlank: true}
		assert.Equal(t, 3, d.EffectiveCode(stats))
	})
	t.Run("count comments", func(t *testing.T) {
		d := ContentDecision{SkipComments: false, SkipBlank: true}
		assert.Equal(t, 8, d.EffectiveCode(stats))
	})
	t.Run("count all", func(t *testing.T) {
		d := ContentDecision{}
		assert.Equal(t, 10, d.EffectiveCode(stats))
	})
}

func TestContentExplainExactlyOneMatched(t *testing.T) {
	cfg := &config.ContentConfig{
		MaxLines: intPtr(500),
		Exclude:  []string{"vendor/**"},
		Languages: map[string]config.LanguageLimits{
			"go": {MaxLines: intPtr(600)},
		},
		Rules: []config.ContentRule{
			{Pattern: "**/*.go", MaxLines: 700},
			{Pattern: "cmd/**", MaxLines: 300},
		},
		Overrides: []config.ContentOverride{
			{Path: "cmd/main.go", MaxLines: 900},
		},
	}
	ev := NewContentEvaluator(cfg, testNow)

	for _, path := range []string{"cmd/main.go", "cmd/other.go", "pkg/x.go", "vendor/dep.go", "README.md"} {
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

func TestExpiredRules(t *testing.T) {
	cfg := &config.ContentConfig{
		MaxLines: intPtr(500),
		Rules: []config.ContentRule{
			{Pattern: "a/**", MaxLines: 100, Expires: "2020-01-01", Reason: "temporary"},
			{Pattern: "b/**", MaxLines: 100, Expires: "2030-01-01"},
			{Pattern: "c/**", MaxLines: 100},
		},
	}
	ev := NewContentEvaluator(cfg, testNow)
	expired := ev.ExpiredRules()
	require.Len(t, expired, 1)
	assert.Equal(t, "a/**", expired[0].Pattern)

	// Expired rules still apply.
	d := ev.Decide("a/x.go")
	assert.Equal(t, 100, d.Limit)
}

func TestRuleSkipFlags(t *testing.T) {
	cfg := &config.ContentConfig{
		MaxLines: intPtr(500),
		Rules: []config.ContentRule{
			{Pattern: "**/*.md", MaxLines: 200, SkipComments: boolPtr(false), SkipBlank: boolPtr(false)},
		},
	}
	d := NewContentEvaluator(cfg, testNow).Decide("doc.md")
	assert.False(t, d.SkipComments)
	assert.False(t, d.SkipBlank)

	// Defaults stay on elsewhere.
	d = NewContentEvaluator(cfg, testNow).Decide("main.go")
	assert.True(t, d.SkipComments)
	assert.True(t, d.SkipBlank)
}
