// Package checker runs the full check pass: classify each scanned file on a
// worker pool, judge it against its resolved budget, evaluate directory
// structure, apply the baseline and assemble the report.
package checker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/doraemonkeys/sloc-guard/internal/baseline"
	"github.com/doraemonkeys/sloc-guard/internal/cache"
	"github.com/doraemonkeys/sloc-guard/internal/classify"
	"github.com/doraemonkeys/sloc-guard/internal/config"
	"github.com/doraemonkeys/sloc-guard/internal/gitdiff"
	"github.com/doraemonkeys/sloc-guard/internal/langs"
	"github.com/doraemonkeys/sloc-guard/internal/rules"
	"github.com/doraemonkeys/sloc-guard/internal/scanner"
)

// Verdict is the final state of one checked file.
type Verdict string

const (
	Passed        Verdict = "passed"
	Warning       Verdict = "warning"
	Failed        Verdict = "failed"
	Grandfathered Verdict = "grandfathered"
)

// FileResult is the outcome for one file. Suggestion is only ever set on
// Warning and Failed results.
type FileResult struct {
	Path       string             `json:"path"`
	Verdict    Verdict            `json:"verdict"`
	Stats      classify.LineStats `json:"stats"`
	Effective  int                `json:"effective"`
	Limit      int                `json:"limit"`
	WarnAt     int                `json:"warn_at"`
	Language   string             `json:"language,omitempty"`
	RuleSource string             `json:"rule_source,omitempty"`
	Reason     string             `json:"reason,omitempty"`
	Ignored    bool               `json:"ignored,omitempty"`
	Excluded   bool               `json:"excluded,omitempty"`
	SHA256     string             `json:"-"`
	suggestion string
}

// Suggestion returns the attached advice, empty for passing results.
func (r *FileResult) Suggestion() string { return r.suggestion }

// Advise attaches advice to results that can carry it. Passed and
// Grandfathered results silently drop it.
func (r *FileResult) Advise(text string) {
	if r.Verdict == Warning || r.Verdict == Failed {
		r.suggestion = text
	}
}

// StructureResult wraps a violation with its post-baseline verdict.
type StructureResult struct {
	rules.StructureViolation
	Grandfathered bool `json:"grandfathered,omitempty"`
}

// Report is everything a renderer needs.
type Report struct {
	Files        []FileResult        `json:"files"`
	Structure    []StructureResult   `json:"structure"`
	ExpiredRules []rules.ExpiredRule `json:"expired_rules,omitempty"`
	Totals       classify.LineStats  `json:"totals"`
	CacheHits    int                 `json:"cache_hits"`
	CacheMisses  int                 `json:"cache_misses"`
}

// Counts tallies file verdicts.
func (r *Report) Counts() (passed, warned, failed, grandfathered int) {
	for i := range r.Files {
		switch r.Files[i].Verdict {
		case Passed:
			passed++
		case Warning:
			warned++
		case Failed:
			failed++
		case Grandfathered:
			grandfathered++
		}
	}
	return
}

// HasFailures reports whether anything failed after baseline application.
func (r *Report) HasFailures() bool {
	for i := range r.Files {
		if r.Files[i].Verdict == Failed {
			return true
		}
	}
	for i := range r.Structure {
		if r.Structure[i].Severity == rules.StatusFailed && !r.Structure[i].Grandfathered {
			return true
		}
	}
	return false
}

// HasWarnings reports whether any warning survived.
func (r *Report) HasWarnings() bool {
	for i := range r.Files {
		if r.Files[i].Verdict == Warning {
			return true
		}
	}
	for i := range r.Structure {
		if r.Structure[i].Severity == rules.StatusWarning && !r.Structure[i].Grandfathered {
			return true
		}
	}
	return false
}

// ExitCode maps the report to the process exit code.
func (r *Report) ExitCode(strict, warnOnly bool) int {
	if warnOnly {
		return 0
	}
	if r.HasFailures() || (strict && r.HasWarnings()) {
		return 1
	}
	return 0
}

// Options configure one check run.
type Options struct {
	Root     string
	Config   *config.Config
	Registry *langs.Registry
	Cache    *cache.Cache // nil disables caching
	Baseline *baseline.Baseline
	Diff     *gitdiff.Selection // nil checks every scanned file
	Suggest  bool
	Workers  int
	Logger   *logrus.Logger
}

// Checker owns the evaluators for one run.
type Checker struct {
	opts      Options
	content   *rules.ContentEvaluator
	structure *rules.StructureEvaluator
}

// New builds a checker from a validated config.
func New(opts Options, content *rules.ContentEvaluator, structure *rules.StructureEvaluator) *Checker {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Checker{opts: opts, content: content, structure: structure}
}

// Run checks a completed scan.
func (c *Checker) Run(scan *scanner.Result) *Report {
	files := scan.Files
	if c.opts.Diff != nil {
		files = c.filterDiff(files)
	}

	report := &Report{ExpiredRules: c.content.ExpiredRules()}

	jobs := make(chan scanner.File)
	results := make(chan *FileResult)
	var wg sync.WaitGroup
	for range c.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				if res := c.checkFile(f); res != nil {
					results <- res
				}
			}
		}()
	}
	go func() {
		for _, f := range files {
			jobs <- f
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()
	for res := range results {
		report.Files = append(report.Files, *res)
		report.Totals.Add(res.Stats)
	}
	sort.Slice(report.Files, func(i, j int) bool { return report.Files[i].Path < report.Files[j].Path })

	for _, dir := range scan.Dirs {
		for _, v := range c.structure.Evaluate(dir) {
			res := StructureResult{StructureViolation: v}
			if v.Severity == rules.StatusFailed && c.opts.Baseline != nil &&
				c.opts.Baseline.GrandfathersStructure(v.Path, v.Kind, v.Actual) {
				res.Grandfathered = true
			}
			report.Structure = append(report.Structure, res)
		}
	}
	sort.SliceStable(report.Structure, func(i, j int) bool { return report.Structure[i].Path < report.Structure[j].Path })

	if c.opts.Cache != nil {
		report.CacheHits, report.CacheMisses = c.opts.Cache.Stats()
	}
	return report
}

func (c *Checker) filterDiff(files []scanner.File) []scanner.File {
	out := files[:0:0]
	for _, f := range files {
		if c.opts.Diff.Contains(c.opts.Root, f.Path) {
			out = append(out, f)
		}
	}
	return out
}

// checkFile runs the read, classify and judge pipeline for one file. A nil
// return means the file was skipped (binary or unreadable).
func (c *Checker) checkFile(f scanner.File) *FileResult {
	decision := c.content.Decide(f.Path)
	if decision.Excluded {
		return &FileResult{Path: f.Path, Verdict: Passed, Excluded: true, RuleSource: decision.Source}
	}

	lang, _ := c.opts.Registry.LookupExt(filepath.Ext(f.Path))
	entry, ok := c.lookupOrClassify(f, lang)
	if !ok {
		return nil
	}

	res := &FileResult{
		Path:       f.Path,
		Stats:      entry.Stats,
		Limit:      decision.Limit,
		WarnAt:     decision.WarnAt,
		RuleSource: decision.Source,
		Reason:     decision.Reason,
		SHA256:     entry.SHA256,
	}
	if lang != nil {
		res.Language = lang.Name
	}
	if entry.IgnoredFile {
		res.Verdict = Passed
		res.Ignored = true
		return res
	}

	res.Effective = decision.EffectiveCode(entry.Stats)
	res.Verdict = Verdict(decision.Judge(res.Effective))

	if res.Verdict == Failed && c.opts.Baseline != nil &&
		c.opts.Baseline.GrandfathersContent(f.Path, entry.SHA256) {
		res.Verdict = Grandfathered
	}
	if c.opts.Suggest {
		res.Advise(adviseContent(res))
	}
	return res
}

// lookupOrClassify implements the cache protocol: stat match, then content
// hash match, then a fresh classification.
func (c *Checker) lookupOrClassify(f scanner.File, lang *langs.Language) (cache.Entry, bool) {
	if c.opts.Cache != nil {
		if e, ok := c.opts.Cache.Lookup(f.Path, f.Mtime, f.Size); ok {
			return e, true
		}
	}

	content, err := os.ReadFile(f.Abs)
	if err != nil {
		c.opts.Logger.WithError(err).WithField("path", f.Path).Warn("Skipping unreadable file")
		return cache.Entry{}, false
	}
	if isBinary(content) {
		c.opts.Logger.WithField("path", f.Path).Debug("Skipping binary file")
		return cache.Entry{}, false
	}

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	if c.opts.Cache != nil {
		if e, ok := c.opts.Cache.LookupByHash(f.Path, hash, f.Mtime, f.Size); ok {
			return e, true
		}
	}

	var syntax *langs.CommentSyntax
	if lang != nil {
		syntax = &lang.Syntax
	}
	counted := classify.Classify(content, syntax)
	entry := cache.Entry{
		Mtime:       f.Mtime.UnixNano(),
		Size:        f.Size,
		SHA256:      hash,
		Stats:       counted.Stats,
		IgnoredFile: counted.IgnoredFile,
	}
	if c.opts.Cache != nil {
		c.opts.Cache.Store(f.Path, entry)
	}
	return entry, true
}

// isBinary applies the NUL sniff git uses, over the first 512 bytes.
func isBinary(content []byte) bool {
	if len(content) > 512 {
		content = content[:512]
	}
	return bytes.IndexByte(content, 0) >= 0
}

func adviseContent(res *FileResult) string {
	over := res.Effective - res.Limit
	switch res.Verdict {
	case Failed:
		return fmt.Sprintf("split %s: %d effective lines exceed the %d limit by %d",
			res.Path, res.Effective, res.Limit, over)
	case Warning:
		headroom := res.Limit - res.Effective
		return fmt.Sprintf("%s is close to its limit: %d lines of headroom left", res.Path, headroom)
	}
	return ""
}

// ContentFailures lists the failing files in baseline-update form.
func (r *Report) ContentFailures() []baseline.ContentFailure {
	var out []baseline.ContentFailure
	for i := range r.Files {
		f := &r.Files[i]
		if f.Verdict == Failed || f.Verdict == Grandfathered {
			out = append(out, baseline.ContentFailure{Path: f.Path, Lines: f.Effective, SHA256: f.SHA256})
		}
	}
	return out
}

// StructureFailures lists the failing directory counts in baseline-update
// form. Only count violations can be grandfathered.
func (r *Report) StructureFailures() []baseline.StructureFailure {
	var out []baseline.StructureFailure
	for i := range r.Structure {
		v := &r.Structure[i]
		if v.Severity != rules.StatusFailed {
			continue
		}
		if v.Kind != rules.FileCount && v.Kind != rules.DirCount {
			continue
		}
		out = append(out, baseline.StructureFailure{Path: v.Path, Kind: v.Kind, Count: v.Actual})
	}
	return out
}

// Summary renders a one-line result for logs.
func (r *Report) Summary() string {
	passed, warned, failed, grandfathered := r.Counts()
	parts := []string{fmt.Sprintf("%d passed", passed)}
	if warned > 0 {
		parts = append(parts, fmt.Sprintf("%d warnings", warned))
	}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", failed))
	}
	if grandfathered > 0 {
		parts = append(parts, fmt.Sprintf("%d grandfathered", grandfathered))
	}
	if n := len(r.Structure); n > 0 {
		parts = append(parts, fmt.Sprintf("%d structure findings", n))
	}
	return strings.Join(parts, ", ")
}
