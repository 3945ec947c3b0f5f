package rules

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/doraemonkeys/sloc-guard/internal/config"
)

// ViolationKind categorises a structural finding.
type ViolationKind string

const (
	FileCount       ViolationKind = "file-count"
	DirCount        ViolationKind = "dir-count"
	MaxDepth        ViolationKind = "max-depth"
	MissingSibling  ViolationKind = "missing-sibling"
	GroupIncomplete ViolationKind = "group-incomplete"
	DisallowedFile  ViolationKind = "disallowed-file"
	DisallowedDir   ViolationKind = "disallowed-dir"
	NamingPattern   ViolationKind = "naming-pattern"
)

// StructureViolation is one finding against a directory or one of its
// children. Actual and Limit are meaningful for the count and depth kinds.
type StructureViolation struct {
	Path     string        `json:"path"`
	Kind     ViolationKind `json:"kind"`
	Actual   int           `json:"actual,omitempty"`
	Limit    int           `json:"limit,omitempty"`
	Severity Status        `json:"severity"`
	Reason   string        `json:"reason,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

// Directory is the scanner's view of one directory: slash-relative path,
// immediate children by basename, and depth in components from the scan root.
type Directory struct {
	Path    string
	Files   []string
	Subdirs []string
	Depth   int
}

const unlimited = -1

// effectiveStructure is the budget a directory is checked against after rule
// resolution. Unset counts resolve to unlimited.
type effectiveStructure struct {
	maxFiles   int
	maxSubdirs int
	maxDepth   int

	warnFilesAt int
	warnDirsAt  int

	rule   *config.StructureRule
	source string
	reason string
}

// StructureEvaluator resolves directory budgets. Immutable after
// construction and safe for concurrent use.
type StructureEvaluator struct {
	cfg    *config.StructureConfig
	naming []*regexp.Regexp // index-aligned with cfg.Rules, nil when unset
}

// NewStructureEvaluator compiles the structure layer of a validated config.
func NewStructureEvaluator(cfg *config.StructureConfig) *StructureEvaluator {
	ev := &StructureEvaluator{cfg: cfg, naming: make([]*regexp.Regexp, len(cfg.Rules))}
	for i, rule := range cfg.Rules {
		if rule.FileNamingPattern != "" {
			// Validated at load time.
			ev.naming[i] = regexp.MustCompile(rule.FileNamingPattern)
		}
	}
	return ev
}

// StructureTrace is the explain output for one directory.
type StructureTrace struct {
	Path       string      `json:"path"`
	Candidates []Candidate `json:"candidates"`
	MaxFiles   int         `json:"max_files"`
	MaxSubdirs int         `json:"max_subdirs"`
	MaxDepth   int         `json:"max_depth"`
	Source     string      `json:"source"`
}

// Explain records every structure rule considered for a directory path.
func (ev *StructureEvaluator) Explain(dirPath string) StructureTrace {
	dirPath = filepath.ToSlash(dirPath)
	var candidates []Candidate
	eff := ev.resolveTraced(dirPath, func(c Candidate) { candidates = append(candidates, c) })
	return StructureTrace{
		Path:       dirPath,
		Candidates: candidates,
		MaxFiles:   eff.maxFiles,
		MaxSubdirs: eff.maxSubdirs,
		MaxDepth:   eff.maxDepth,
		Source:     eff.source,
	}
}

func (ev *StructureEvaluator) resolve(dirPath string) effectiveStructure {
	return ev.resolveTraced(dirPath, nil)
}

func (ev *StructureEvaluator) resolveTraced(dirPath string, note func(Candidate)) effectiveStructure {
	override := -1
	for i, ov := range ev.cfg.Overrides {
		if filepath.ToSlash(ov.Path) == dirPath {
			override = i
			break
		}
	}
	winner := -1
	for i, rule := range ev.cfg.Rules {
		if matchPath(rule.Scope, dirPath) {
			winner = i
		}
	}
	if note != nil {
		if override >= 0 {
			note(Candidate{Source: fmt.Sprintf("override[%d]", override), Pattern: ev.cfg.Overrides[override].Path, Status: Matched, Reason: ev.cfg.Overrides[override].Reason})
		}
		for i, rule := range ev.cfg.Rules {
			label := fmt.Sprintf("rule[%d]", i)
			switch {
			case i == winner && override < 0:
				note(Candidate{Source: label, Pattern: rule.Scope, Status: Matched, Reason: rule.Reason})
			case matchPath(rule.Scope, dirPath):
				note(Candidate{Source: label, Pattern: rule.Scope, Status: Superseded, Reason: rule.Reason})
			default:
				note(Candidate{Source: label, Pattern: rule.Scope, Status: NoMatch})
			}
		}
		if winner < 0 && override < 0 {
			note(Candidate{Source: "default", Status: Matched})
		} else {
			note(Candidate{Source: "default", Status: Superseded})
		}
	}

	eff := effectiveStructure{
		maxFiles:   intOr(ev.cfg.MaxFiles, unlimited),
		maxSubdirs: intOr(ev.cfg.MaxSubdirs, unlimited),
		maxDepth:   intOr(ev.cfg.MaxDepth, unlimited),
		source:     "default",
	}
	var rule *config.StructureRule
	if winner >= 0 {
		rule = &ev.cfg.Rules[winner]
		eff.rule = rule
		eff.source = fmt.Sprintf("rule[%d]", winner)
		eff.reason = rule.Reason
		if rule.MaxFiles != nil {
			eff.maxFiles = *rule.MaxFiles
		}
		if rule.MaxSubdirs != nil {
			eff.maxSubdirs = *rule.MaxSubdirs
		}
		if rule.MaxDepth != nil {
			eff.maxDepth = *rule.MaxDepth
		}
	}

	if override >= 0 {
		ov := ev.cfg.Overrides[override]
		if ov.MaxFiles != nil {
			eff.maxFiles = *ov.MaxFiles
		}
		if ov.MaxSubdirs != nil {
			eff.maxSubdirs = *ov.MaxSubdirs
		}
		if ov.MaxDepth != nil {
			eff.maxDepth = *ov.MaxDepth
		}
		eff.source = fmt.Sprintf("override[%d]", override)
		eff.reason = ov.Reason
	}

	var sharedWarn *float64
	if rule != nil {
		sharedWarn = rule.WarnThreshold
	}
	eff.warnFilesAt = ev.warnBand(eff.maxFiles,
		ruleInt(rule, func(r *config.StructureRule) *int { return r.WarnFilesAt }), ev.cfg.WarnFilesAt,
		ruleFloat(rule, func(r *config.StructureRule) *float64 { return r.WarnFilesThreshold }), ev.cfg.WarnFilesThreshold,
		sharedWarn)
	eff.warnDirsAt = ev.warnBand(eff.maxSubdirs,
		ruleInt(rule, func(r *config.StructureRule) *int { return r.WarnDirsAt }), ev.cfg.WarnDirsAt,
		ruleFloat(rule, func(r *config.StructureRule) *float64 { return r.WarnDirsThreshold }), ev.cfg.WarnDirsThreshold,
		sharedWarn)
	return eff
}

// warnBand derives a count warn threshold. The winning rule's settings beat
// the globals: its absolute, its specific fraction, its shared warn_threshold,
// then the global equivalents and finally the stock 0.8 fraction. Meaningless
// for non-positive limits.
func (ev *StructureEvaluator) warnBand(limit int, ruleAbs, globalAbs *int, ruleFrac, globalFrac, sharedFrac *float64) int {
	if limit <= 0 {
		return 0
	}
	switch {
	case ruleAbs != nil:
		return *ruleAbs
	case ruleFrac != nil:
		return int(float64(limit) * *ruleFrac)
	case sharedFrac != nil:
		return int(float64(limit) * *sharedFrac)
	case globalAbs != nil:
		return *globalAbs
	case globalFrac != nil:
		return int(float64(limit) * *globalFrac)
	case ev.cfg.WarnThreshold != nil:
		return int(float64(limit) * *ev.cfg.WarnThreshold)
	default:
		return int(float64(limit) * config.DefaultWarnThreshold)
	}
}

// Evaluate checks one directory against its effective budget and filters.
// Violations come back sorted by path.
func (ev *StructureEvaluator) Evaluate(dir Directory) []StructureViolation {
	dir.Path = filepath.ToSlash(dir.Path)
	eff := ev.resolve(dir.Path)

	var out []StructureViolation
	out = append(out, ev.checkCount(dir.Path, FileCount, len(dir.Files), eff.maxFiles, eff.warnFilesAt, eff.reason)...)
	out = append(out, ev.checkCount(dir.Path, DirCount, len(dir.Subdirs), eff.maxSubdirs, eff.warnDirsAt, eff.reason)...)
	out = append(out, ev.checkDepth(dir, eff)...)
	if eff.rule != nil {
		out = append(out, ev.checkFilters(dir, eff)...)
		out = append(out, ev.checkNaming(dir, eff)...)
		out = append(out, ev.checkSiblings(dir, eff)...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (ev *StructureEvaluator) checkCount(dirPath string, kind ViolationKind, actual, limit, warnAt int, reason string) []StructureViolation {
	switch {
	case limit == unlimited:
		return nil
	case limit == 0 && actual > 0, limit > 0 && actual > limit:
		return []StructureViolation{{Path: dirPath, Kind: kind, Actual: actual, Limit: limit, Severity: StatusFailed, Reason: reason}}
	case limit > 0 && actual > warnAt:
		return []StructureViolation{{Path: dirPath, Kind: kind, Actual: actual, Limit: limit, Severity: StatusWarning, Reason: reason}}
	}
	return nil
}

func (ev *StructureEvaluator) checkDepth(dir Directory, eff effectiveStructure) []StructureViolation {
	if eff.maxDepth == unlimited {
		return nil
	}
	depth := dir.Depth
	if eff.rule != nil && eff.rule.RelativeDepth {
		depth -= scopePrefixDepth(eff.rule.Scope)
		if depth < 0 {
			depth = 0
		}
	}
	if depth > eff.maxDepth {
		return []StructureViolation{{Path: dir.Path, Kind: MaxDepth, Actual: depth, Limit: eff.maxDepth, Severity: StatusFailed, Reason: eff.reason}}
	}
	return nil
}

// scopePrefixDepth counts path components before the first glob
// metacharacter in a scope pattern.
func scopePrefixDepth(scope string) int {
	n := 0
	for _, part := range strings.Split(scope, "/") {
		if strings.ContainsAny(part, "*?[{") {
			break
		}
		n++
	}
	return n
}

func (ev *StructureEvaluator) checkFilters(dir Directory, eff effectiveStructure) []StructureViolation {
	rule := eff.rule
	var out []StructureViolation

	allowMode := len(rule.AllowExtensions) > 0 || len(rule.AllowFiles) > 0 || len(rule.AllowPatterns) > 0
	for _, name := range dir.Files {
		full := path.Join(dir.Path, name)
		if allowMode {
			if !fileAllowed(rule, name, full) {
				out = append(out, StructureViolation{Path: full, Kind: DisallowedFile, Severity: StatusFailed, Reason: rule.Reason})
			}
			continue
		}
		if fileDenied(rule, name, full) {
			out = append(out, StructureViolation{Path: full, Kind: DisallowedFile, Severity: StatusFailed, Reason: rule.Reason})
		}
	}

	for _, name := range dir.Subdirs {
		full := path.Join(dir.Path, name)
		if len(rule.AllowDirs) > 0 {
			if !matchAny(rule.AllowDirs, name) {
				out = append(out, StructureViolation{Path: full, Kind: DisallowedDir, Severity: StatusFailed, Reason: rule.Reason})
			}
			continue
		}
		if matchAny(rule.DenyDirs, name) {
			out = append(out, StructureViolation{Path: full, Kind: DisallowedDir, Severity: StatusFailed, Reason: rule.Reason})
		}
	}
	return out
}

func fileAllowed(rule *config.StructureRule, name, full string) bool {
	for _, ext := range rule.AllowExtensions {
		if strings.EqualFold(path.Ext(name), normalizeExt(ext)) {
			return true
		}
	}
	return matchAny(rule.AllowFiles, name) || matchAny(rule.AllowPatterns, full)
}

func fileDenied(rule *config.StructureRule, name, full string) bool {
	for _, ext := range rule.DenyExtensions {
		if strings.EqualFold(path.Ext(name), normalizeExt(ext)) {
			return true
		}
	}
	return matchAny(rule.DenyFiles, name) || matchAny(rule.DenyPatterns, full)
}

func normalizeExt(ext string) string {
	if strings.HasPrefix(ext, ".") {
		return ext
	}
	return "." + ext
}

func (ev *StructureEvaluator) checkNaming(dir Directory, eff effectiveStructure) []StructureViolation {
	idx := ruleIndex(ev.cfg.Rules, eff.rule)
	if idx < 0 || ev.naming[idx] == nil {
		return nil
	}
	re := ev.naming[idx]
	var out []StructureViolation
	for _, name := range dir.Files {
		if !re.MatchString(name) {
			out = append(out, StructureViolation{
				Path:     path.Join(dir.Path, name),
				Kind:     NamingPattern,
				Severity: StatusFailed,
				Reason:   eff.reason,
				Detail:   fmt.Sprintf("name does not match %s", re.String()),
			})
		}
	}
	return out
}

// checkSiblings enforces co-location: every file matching file_pattern needs
// the sibling set derived by substituting its stem into require_sibling.
// With several members the stem yielding the fewest missing files wins; ties
// go to the first member tried.
func (ev *StructureEvaluator) checkSiblings(dir Directory, eff effectiveStructure) []StructureViolation {
	rule := eff.rule
	if rule.FilePattern == "" || len(rule.RequireSibling) == 0 {
		return nil
	}
	present := make(map[string]bool, len(dir.Files))
	for _, name := range dir.Files {
		present[name] = true
	}

	var out []StructureViolation
	for _, name := range dir.Files {
		if ok, err := doublestar.Match(rule.FilePattern, name); err != nil || !ok {
			continue
		}
		stem, missing := bestStem(rule.RequireSibling, name, present)
		if len(missing) == 0 {
			continue
		}
		kind := MissingSibling
		if len(rule.RequireSibling) > 1 {
			kind = GroupIncomplete
		}
		out = append(out, StructureViolation{
			Path:     path.Join(dir.Path, name),
			Kind:     kind,
			Severity: StatusFailed,
			Reason:   rule.Reason,
			Detail:   fmt.Sprintf("stem %q is missing %s", stem, strings.Join(missing, ", ")),
		})
	}
	return out
}

// bestStem tries each sibling template as the anchor for name, collecting
// candidate stems, and keeps the stem whose expanded group has the fewest
// absent members.
func bestStem(templates []string, name string, present map[string]bool) (string, []string) {
	candidates := stemCandidates(templates, name)
	bestMissing := []string(nil)
	best := ""
	first := true
	for _, stem := range candidates {
		var missing []string
		for _, tpl := range templates {
			want := strings.ReplaceAll(tpl, "{stem}", stem)
			if want != name && !present[want] {
				missing = append(missing, want)
			}
		}
		if first || len(missing) < len(bestMissing) {
			best, bestMissing, first = stem, missing, false
		}
	}
	return best, bestMissing
}

// stemCandidates extracts possible stems by reverse-matching name against
// each template, falling back to the extension-stripped basename.
func stemCandidates(templates []string, name string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, tpl := range templates {
		if !strings.Contains(tpl, "{stem}") {
			continue
		}
		re := regexp.MustCompile("^" + strings.ReplaceAll(regexp.QuoteMeta(tpl), regexp.QuoteMeta("{stem}"), "(.+?)") + "$")
		if m := re.FindStringSubmatch(name); m != nil {
			add(m[1])
		}
	}
	add(strings.TrimSuffix(name, path.Ext(name)))
	return out
}

func ruleIndex(rules []config.StructureRule, rule *config.StructureRule) int {
	if rule == nil {
		return -1
	}
	for i := range rules {
		if &rules[i] == rule {
			return i
		}
	}
	return -1
}

func intOr(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}

func ruleInt(rule *config.StructureRule, get func(*config.StructureRule) *int) *int {
	if rule == nil {
		return nil
	}
	return get(rule)
}

func ruleFloat(rule *config.StructureRule, get func(*config.StructureRule) *float64) *float64 {
	if rule == nil {
		return nil
	}
	return get(rule)
}
