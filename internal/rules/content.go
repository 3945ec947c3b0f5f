package rules

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/doraemonkeys/sloc-guard/internal/classify"
	"github.com/doraemonkeys/sloc-guard/internal/config"
)

// Status is the outcome band of a single check.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
)

// ruleSource tags a compiled rule for tracing.
type ruleSource string

const (
	sourceLanguage ruleSource = "language"
	sourceUser     ruleSource = "rule"
)

type compiledRule struct {
	config.ContentRule
	source ruleSource
	// label names the rule in traces: the extension for language rules,
	// the user-facing index for written rules.
	label string
}

// ExpiredRule is a rule whose expiry date has passed. It still applies.
type ExpiredRule struct {
	Pattern string
	Reason  string
	Expires string
}

// ContentDecision is the effective budget resolved for one file path.
type ContentDecision struct {
	Excluded     bool
	Limit        int
	WarnAt       int
	SkipComments bool
	SkipBlank    bool
	Reason       string
	WarnOrigin   WarnOrigin
	// Source describes the winning layer: "excluded", "override",
	// "language:<ext>", "rule[<n>]" or "default".
	Source  string
	Pattern string
}

// ContentTrace is the explain output for one path.
type ContentTrace struct {
	Path       string          `json:"path"`
	Candidates []Candidate     `json:"candidates"`
	Decision   ContentDecision `json:"decision"`
}

// ContentEvaluator resolves content budgets. It is immutable after
// construction and safe for concurrent use.
type ContentEvaluator struct {
	cfg     *config.ContentConfig
	rules   []compiledRule
	expired []ExpiredRule
}

// NewContentEvaluator compiles the content layer of a validated config.
// Per-language limits expand into glob rules placed before user-written
// rules, so user rules win under last-match semantics.
func NewContentEvaluator(cfg *config.ContentConfig, now time.Time) *ContentEvaluator {
	ev := &ContentEvaluator{cfg: cfg}

	exts := make([]string, 0, len(cfg.Languages))
	for ext := range cfg.Languages {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		lang := cfg.Languages[ext]
		rule := config.ContentRule{
			Pattern:       "**/*." + strings.TrimPrefix(ext, "."),
			MaxLines:      cfg.GlobalMaxLines(),
			WarnAt:        lang.WarnAt,
			WarnThreshold: lang.WarnThreshold,
			SkipComments:  lang.SkipComments,
			SkipBlank:     lang.SkipBlank,
		}
		if lang.MaxLines != nil {
			rule.MaxLines = *lang.MaxLines
		}
		ev.rules = append(ev.rules, compiledRule{ContentRule: rule, source: sourceLanguage, label: "language:" + ext})
	}
	for i, rule := range cfg.Rules {
		ev.rules = append(ev.rules, compiledRule{ContentRule: rule, source: sourceUser, label: fmt.Sprintf("rule[%d]", i)})
	}

	today := now.Format("2006-01-02")
	for _, r := range ev.rules {
		if r.Expires != "" && r.Expires < today {
			ev.expired = append(ev.expired, ExpiredRule{Pattern: r.Pattern, Reason: r.Reason, Expires: r.Expires})
		}
	}
	return ev
}

// ExpiredRules lists rules past their expiry date. They still apply; the
// caller surfaces them as diagnostics.
func (ev *ContentEvaluator) ExpiredRules() []ExpiredRule { return ev.expired }

// Decide resolves the effective budget for path without building a trace.
func (ev *ContentEvaluator) Decide(path string) ContentDecision {
	d, _ := ev.resolve(path, false)
	return d
}

// Explain resolves path and records every candidate considered.
func (ev *ContentEvaluator) Explain(path string) ContentTrace {
	d, candidates := ev.resolve(path, true)
	return ContentTrace{Path: filepath.ToSlash(path), Candidates: candidates, Decision: d}
}

func (ev *ContentEvaluator) resolve(path string, trace bool) (ContentDecision, []Candidate) {
	path = filepath.ToSlash(path)
	var candidates []Candidate
	note := func(c Candidate) {
		if trace {
			candidates = append(candidates, c)
		}
	}

	for _, pattern := range ev.cfg.Exclude {
		if matchPath(pattern, path) {
			note(Candidate{Source: "excluded", Pattern: pattern, Status: Matched})
			d := ev.defaults()
			d.Excluded = true
			d.Source = "excluded"
			d.Pattern = pattern
			return d, candidates
		}
		note(Candidate{Source: "excluded", Pattern: pattern, Status: NoMatch})
	}

	for i, ov := range ev.cfg.Overrides {
		if ov.Path == path || matchPath(ov.Path, path) {
			note(Candidate{Source: fmt.Sprintf("override[%d]", i), Pattern: ov.Path, Status: Matched, Reason: ov.Reason})
			d := ev.defaults()
			d.Limit = ov.MaxLines
			d.WarnAt = ev.warnAt(ov.MaxLines, nil, nil, &d.WarnOrigin)
			d.Reason = ov.Reason
			d.Source = fmt.Sprintf("override[%d]", i)
			d.Pattern = ov.Path
			ev.demoteRules(path, note)
			note(Candidate{Source: "default", Status: Superseded})
			return d, candidates
		}
		note(Candidate{Source: fmt.Sprintf("override[%d]", i), Pattern: ov.Path, Status: NoMatch})
	}

	winner := -1
	for i, rule := range ev.rules {
		if matchPath(rule.Pattern, path) {
			winner = i
		}
	}
	for i, rule := range ev.rules {
		switch {
		case i == winner:
			note(Candidate{Source: rule.label, Pattern: rule.Pattern, Status: Matched, Reason: rule.Reason})
		case matchPath(rule.Pattern, path):
			note(Candidate{Source: rule.label, Pattern: rule.Pattern, Status: Superseded, Reason: rule.Reason})
		default:
			note(Candidate{Source: rule.label, Pattern: rule.Pattern, Status: NoMatch})
		}
	}

	if winner < 0 {
		note(Candidate{Source: "default", Status: Matched})
		d := ev.defaults()
		d.Source = "default"
		return d, candidates
	}
	note(Candidate{Source: "default", Status: Superseded})

	rule := ev.rules[winner]
	d := ev.defaults()
	d.Limit = rule.MaxLines
	d.WarnAt = ev.warnAt(rule.MaxLines, rule.WarnAt, rule.WarnThreshold, &d.WarnOrigin)
	if rule.SkipComments != nil {
		d.SkipComments = *rule.SkipComments
	}
	if rule.SkipBlank != nil {
		d.SkipBlank = *rule.SkipBlank
	}
	d.Reason = rule.Reason
	d.Source = rule.label
	d.Pattern = rule.Pattern
	return d, candidates
}

// demoteRules records rule candidates under an override win, so the trace
// still lists the layers that were considered.
func (ev *ContentEvaluator) demoteRules(path string, note func(Candidate)) {
	for _, rule := range ev.rules {
		if matchPath(rule.Pattern, path) {
			note(Candidate{Source: rule.label, Pattern: rule.Pattern, Status: Superseded, Reason: rule.Reason})
		} else {
			note(Candidate{Source: rule.label, Pattern: rule.Pattern, Status: NoMatch})
		}
	}
}

func (ev *ContentEvaluator) defaults() ContentDecision {
	d := ContentDecision{
		Limit:        ev.cfg.GlobalMaxLines(),
		SkipComments: ev.cfg.ContentSkipComments(),
		SkipBlank:    ev.cfg.ContentSkipBlank(),
	}
	d.WarnAt = ev.warnAt(d.Limit, nil, nil, &d.WarnOrigin)
	return d
}

// warnAt derives the warn band: rule absolute, rule fraction, global
// absolute, global fraction, then the stock 0.8 fraction. The global
// absolute applies only while it sits below the effective limit; under a
// tighter rule limit the chain falls through to the fractional steps so
// the warn band never collapses to empty.
func (ev *ContentEvaluator) warnAt(limit int, ruleAbs *int, ruleFrac *float64, origin *WarnOrigin) int {
	switch {
	case ruleAbs != nil:
		*origin = WarnOrigin{FromRule: true, Absolute: true}
		return *ruleAbs
	case ruleFrac != nil:
		*origin = WarnOrigin{FromRule: true}
		return int(float64(limit) * *ruleFrac)
	case ev.cfg.WarnAt != nil && *ev.cfg.WarnAt < limit:
		*origin = WarnOrigin{Absolute: true}
		return *ev.cfg.WarnAt
	case ev.cfg.WarnThreshold != nil:
		*origin = WarnOrigin{}
		return int(float64(limit) * *ev.cfg.WarnThreshold)
	default:
		*origin = WarnOrigin{}
		return int(float64(limit) * config.DefaultWarnThreshold)
	}
}

// EffectiveCode applies the decision's skip flags to raw stats.
func (d ContentDecision) EffectiveCode(stats classify.LineStats) int {
	n := stats.Code
	if !d.SkipComments {
		n += stats.Comment
	}
	if !d.SkipBlank {
		n += stats.Blank
	}
	return n
}

// Judge places an effective count into its band. A limit of 0 prohibits any
// content at all.
func (d ContentDecision) Judge(effective int) Status {
	switch {
	case effective > d.Limit:
		return StatusFailed
	case effective > d.WarnAt:
		return StatusWarning
	default:
		return StatusPassed
	}
}

// matchPath is glob matching over slash paths. Patterns are validated at
// config load, so a malformed one cannot reach here.
func matchPath(pattern, path string) bool {
	ok, err := doublestar.Match(pattern, path)
	return err == nil && ok
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if matchPath(pattern, path) {
			return true
		}
	}
	return false
}
