// Package cli implements the guard's commands on top of the loaded
// configuration: check, stats, explain, snapshot, init and watch. The
// urfave app in main wires flags to these entry points.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/doraemonkeys/sloc-guard/internal/baseline"
	"github.com/doraemonkeys/sloc-guard/internal/cache"
	"github.com/doraemonkeys/sloc-guard/internal/checker"
	"github.com/doraemonkeys/sloc-guard/internal/classify"
	"github.com/doraemonkeys/sloc-guard/internal/config"
	"github.com/doraemonkeys/sloc-guard/internal/errs"
	"github.com/doraemonkeys/sloc-guard/internal/gitdiff"
	"github.com/doraemonkeys/sloc-guard/internal/history"
	"github.com/doraemonkeys/sloc-guard/internal/langs"
	"github.com/doraemonkeys/sloc-guard/internal/render"
	"github.com/doraemonkeys/sloc-guard/internal/rules"
	"github.com/doraemonkeys/sloc-guard/internal/scanner"
	"github.com/doraemonkeys/sloc-guard/internal/statedir"
	"github.com/doraemonkeys/sloc-guard/internal/stats"
	"github.com/doraemonkeys/sloc-guard/internal/watch"
)

// App holds the shared command state.
type App struct {
	Logger *logrus.Logger
}

// SetupColor applies the --color policy process-wide.
func SetupColor(mode string) error {
	switch mode {
	case "", "auto":
		// fatih/color already detects terminals.
	case "always":
		color.NoColor = false
	case "never":
		color.NoColor = true
	default:
		return errs.Newf(errs.KindConfig, "unknown --color mode %q", mode).
			WithSuggestion("use auto, always or never")
	}
	return nil
}

// runContext is everything a command needs after config load.
type runContext struct {
	root     string
	stateDir string
	cfg      *config.Config
	registry *langs.Registry
}

func (a *App) prepare(c *cli.Context) (*runContext, error) {
	root := c.Args().First()
	if root == "" {
		root = "."
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Wrap(errs.KindFileAccess, err, "cannot resolve target path")
	}

	stateDir, err := statedir.Resolve(root)
	if err != nil {
		return nil, errs.Wrap(errs.KindIo, err, "cannot create state directory")
	}
	remoteDir, err := statedir.RemoteConfigDir(stateDir)
	if err != nil {
		return nil, errs.Wrap(errs.KindIo, err, "cannot create remote-config cache")
	}

	policy, err := config.ParseFetchPolicy(c.String("extends-policy"))
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.LoadOptions{
		Path:           c.String("config"),
		NoConfig:       c.Bool("no-config"),
		NoExtends:      c.Bool("no-extends"),
		Policy:         policy,
		WorkDir:        root,
		RemoteCacheDir: remoteDir,
		Logger:         a.Logger,
	})
	if err != nil {
		return nil, err
	}
	a.applyFlagOverrides(c, cfg)

	registry := langs.NewRegistry()
	cfg.RegisterCustomLanguages(registry)

	return &runContext{root: root, stateDir: stateDir, cfg: cfg, registry: registry}, nil
}

// applyFlagOverrides copies check flags over the loaded config. Flags always
// win, mirroring their config fields.
func (a *App) applyFlagOverrides(c *cli.Context, cfg *config.Config) {
	if c.IsSet("max-lines") {
		v := c.Int("max-lines")
		cfg.Content.MaxLines = &v
	}
	if c.IsSet("warn-threshold") {
		v := c.Float64("warn-threshold")
		cfg.Content.WarnThreshold = &v
	}
	if c.IsSet("count-comments") {
		v := !c.Bool("count-comments")
		cfg.Content.SkipComments = &v
	}
	if c.IsSet("count-blank") {
		v := !c.Bool("count-blank")
		cfg.Content.SkipBlank = &v
	}
	if c.IsSet("ext") {
		cfg.Content.Extensions = c.StringSlice("ext")
	}
	if c.IsSet("exclude") {
		cfg.Scanner.Exclude = append(cfg.Scanner.Exclude, c.StringSlice("exclude")...)
	}
	if c.IsSet("max-files") {
		v := c.Int("max-files")
		cfg.Structure.MaxFiles = &v
	}
	if c.IsSet("max-subdirs") {
		v := c.Int("max-subdirs")
		cfg.Structure.MaxSubdirs = &v
	}
	if c.IsSet("no-gitignore") {
		v := false
		cfg.Scanner.Gitignore = &v
	}
	if c.IsSet("strict") {
		cfg.Content.Strict = c.Bool("strict")
	}
}

// scanAndCheck is the shared pipeline behind check, stats, snapshot and
// watch.
func (a *App) scanAndCheck(c *cli.Context, rc *runContext, useCache bool) (*checker.Report, *cache.Cache, *baseline.Baseline, error) {
	var diff *gitdiff.Selection
	if spec := c.String("diff"); spec != "" {
		var err error
		diff, err = gitdiff.Changed(rc.root, spec)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	exts := rc.cfg.Content.Extensions
	if len(exts) == 0 {
		exts = rc.registry.Extensions()
	}
	scan, err := scanner.Scan(scanner.Options{
		Root:         rc.root,
		Include:      c.StringSlice("include"),
		Exclude:      rc.cfg.Scanner.Exclude,
		Extensions:   exts,
		UseGitignore: rc.cfg.Scanner.GitignoreEnabled(),
		Logger:       a.Logger,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	var resultCache *cache.Cache
	if useCache {
		resultCache = cache.Open(statedir.CachePath(rc.stateDir), rc.cfg.CountingFingerprint(), 0, a.Logger)
	}

	baselinePath := c.String("baseline")
	if baselinePath == "" {
		baselinePath = statedir.BaselinePath(rc.stateDir)
	}
	bl, err := baseline.Load(baselinePath)
	if err != nil {
		return nil, nil, nil, errs.Wrap(errs.KindIo, err, "cannot read baseline").
			WithSuggestion("%s", "delete or regenerate "+baselinePath)
	}

	check := checker.New(checker.Options{
		Root:     rc.root,
		Config:   rc.cfg,
		Registry: rc.registry,
		Cache:    resultCache,
		Baseline: bl,
		Diff:     diff,
		Suggest:  c.Bool("suggest"),
		Logger:   a.Logger,
	},
		rules.NewContentEvaluator(&rc.cfg.Content, time.Now()),
		rules.NewStructureEvaluator(&rc.cfg.Structure),
	)
	report := check.Run(scan)

	if resultCache != nil {
		if err := resultCache.Save(); err != nil {
			a.Logger.WithError(err).Warn("Could not save result cache")
		}
	}
	return report, resultCache, bl, nil
}

// Check implements the check command.
func (a *App) Check(c *cli.Context) error {
	rc, err := a.prepare(c)
	if err != nil {
		return exitError(err)
	}
	report, _, bl, err := a.scanAndCheck(c, rc, !c.Bool("no-cache"))
	if err != nil {
		return exitError(err)
	}

	if scope := c.String("update-baseline"); scope != "" {
		bl.Update(baseline.UpdateScope(scope), report.ContentFailures(), report.StructureFailures())
		baselinePath := c.String("baseline")
		if baselinePath == "" {
			baselinePath = statedir.BaselinePath(rc.stateDir)
		}
		if err := bl.Save(baselinePath, cache.DefaultLockTimeout); err != nil {
			return exitError(errs.Wrap(errs.KindIo, err, "cannot write baseline"))
		}
		a.Logger.WithField("entries", bl.Len()).Info("Baseline updated")
	}

	if rc.cfg.Trend.AutoSnapshot {
		a.takeSnapshot(rc, report, "auto")
	}

	out, closeOut, err := outputWriter(c.String("output"))
	if err != nil {
		return exitError(err)
	}
	defer closeOut()

	renderer, err := render.For(c.String("format"))
	if err != nil {
		return exitError(err)
	}
	if t, ok := renderer.(*render.Text); ok {
		t.Verbose = a.Logger.IsLevelEnabled(logrus.DebugLevel)
	}
	if err := renderer.Render(out, report); err != nil {
		return exitError(err)
	}

	if path := c.String("report-json"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return exitError(errs.Wrap(errs.KindIo, err, "cannot write report"))
		}
		renderErr := (&render.JSON{}).Render(f, report)
		if err := f.Close(); renderErr == nil {
			renderErr = err
		}
		if renderErr != nil {
			return exitError(renderErr)
		}
	}

	strict := rc.cfg.Content.Strict || c.Bool("strict")
	if code := report.ExitCode(strict, c.Bool("warn-only")); code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

// Stats implements the stats command.
func (a *App) Stats(c *cli.Context) error {
	rc, err := a.prepare(c)
	if err != nil {
		return exitError(err)
	}
	report, _, _, err := a.scanAndCheck(c, rc, !c.Bool("no-cache"))
	if err != nil {
		return exitError(err)
	}

	var hist *history.History
	var window time.Duration
	if rc.cfg.Trend.TrendSince != "" {
		if hist, err = history.Load(statedir.HistoryPath(rc.stateDir)); err != nil {
			a.Logger.WithError(err).Warn("Could not read trend history")
			hist = nil
		}
		window, _ = config.ParseHumanDuration(rc.cfg.Trend.TrendSince)
	}

	if c.String("format") == "json" {
		rows := stats.Breakdown(report, rc.cfg.Stats.Report.BreakdownBy)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"totals":    report.Totals,
			"files":     len(report.Files),
			"breakdown": rows,
		})
	}
	return stats.Render(os.Stdout, report, rc.cfg.Stats.Report, hist, window)
}

// Explain implements the explain command for one file or directory path.
func (a *App) Explain(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("explain needs a path argument", errs.ExitUsage)
	}
	target := c.Args().First()

	// prepare treats the first argument as the scan root; explain's
	// argument is the path under inspection instead.
	rc, err := a.prepareAt(c, ".")
	if err != nil {
		return exitError(err)
	}

	rel := filepath.ToSlash(filepath.Clean(target))
	info, statErr := os.Stat(target)
	isDir := statErr == nil && info.IsDir()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if isDir {
		trace := rules.NewStructureEvaluator(&rc.cfg.Structure).Explain(rel)
		if c.String("format") == "json" {
			return enc.Encode(trace)
		}
		printStructureTrace(os.Stdout, trace)
		return nil
	}
	trace := rules.NewContentEvaluator(&rc.cfg.Content, time.Now()).Explain(rel)
	if c.String("format") == "json" {
		return enc.Encode(trace)
	}
	printContentTrace(os.Stdout, trace)
	return nil
}

// Snapshot implements the snapshot command.
func (a *App) Snapshot(c *cli.Context) error {
	rc, err := a.prepare(c)
	if err != nil {
		return exitError(err)
	}
	report, _, _, err := a.scanAndCheck(c, rc, !c.Bool("no-cache"))
	if err != nil {
		return exitError(err)
	}
	snap, err := a.takeSnapshotErr(rc, report, c.String("label"))
	if err != nil {
		return exitError(err)
	}
	fmt.Printf("Snapshot %s: %d files, %d code lines\n", snap.ID[:8], snap.Files, snap.Totals.Code)
	return nil
}

func (a *App) takeSnapshot(rc *runContext, report *checker.Report, label string) {
	if _, err := a.takeSnapshotErr(rc, report, label); err != nil {
		a.Logger.WithError(err).Warn("Could not write trend snapshot")
	}
}

func (a *App) takeSnapshotErr(rc *runContext, report *checker.Report, label string) (history.Snapshot, error) {
	path := statedir.HistoryPath(rc.stateDir)
	hist, err := history.Load(path)
	if err != nil {
		return history.Snapshot{}, err
	}
	langs := make(map[string]classify.LineStats)
	for _, row := range stats.Breakdown(report, "lang") {
		langs[row.Key] = row.Stats
	}
	snap := hist.Take(len(report.Files), report.Totals, langs, label)
	return snap, hist.Save(path)
}

// Init writes a starter config into the working directory.
func (a *App) Init(c *cli.Context) error {
	path := config.ConfigFileName
	if _, err := os.Stat(path); err == nil {
		return cli.Exit(path+" already exists", errs.ExitUsage)
	}
	if err := os.WriteFile(path, []byte(starterConfig), 0o644); err != nil {
		return exitError(errs.Wrap(errs.KindIo, err, "cannot write config"))
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// Watch re-runs check on file changes until interrupted.
func (a *App) Watch(c *cli.Context) error {
	rc, err := a.prepare(c)
	if err != nil {
		return exitError(err)
	}
	run := func() error {
		report, _, _, err := a.scanAndCheck(c, rc, !c.Bool("no-cache"))
		if err != nil {
			return err
		}
		renderer := &render.Text{}
		if err := renderer.Render(os.Stdout, report); err != nil {
			return err
		}
		fmt.Println()
		return nil
	}
	err = watch.Run(c.Context, watch.Options{Root: rc.root, Logger: a.Logger}, run)
	if err != nil && !errors.Is(err, context.Canceled) {
		return exitError(err)
	}
	return nil
}

// prepareAt is prepare with an explicit root instead of the first argument.
func (a *App) prepareAt(c *cli.Context, root string) (*runContext, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.Wrap(errs.KindFileAccess, err, "cannot resolve target path")
	}
	stateDir, err := statedir.Resolve(root)
	if err != nil {
		return nil, errs.Wrap(errs.KindIo, err, "cannot create state directory")
	}
	remoteDir, err := statedir.RemoteConfigDir(stateDir)
	if err != nil {
		return nil, errs.Wrap(errs.KindIo, err, "cannot create remote-config cache")
	}
	policy, err := config.ParseFetchPolicy(c.String("extends-policy"))
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.LoadOptions{
		Path:           c.String("config"),
		NoConfig:       c.Bool("no-config"),
		NoExtends:      c.Bool("no-extends"),
		Policy:         policy,
		WorkDir:        root,
		RemoteCacheDir: remoteDir,
		Logger:         a.Logger,
	})
	if err != nil {
		return nil, err
	}
	registry := langs.NewRegistry()
	cfg.RegisterCustomLanguages(registry)
	return &runContext{root: root, stateDir: stateDir, cfg: cfg, registry: registry}, nil
}

func printContentTrace(w io.Writer, trace rules.ContentTrace) {
	fmt.Fprintf(w, "%s\n", trace.Path)
	for _, cand := range trace.Candidates {
		pattern := cand.Pattern
		if pattern != "" {
			pattern = " " + pattern
		}
		fmt.Fprintf(w, "  %-10s %s%s\n", cand.Status, cand.Source, pattern)
	}
	d := trace.Decision
	fmt.Fprintf(w, "effective: limit=%d warn_at=%d skip_comments=%v skip_blank=%v\n",
		d.Limit, d.WarnAt, d.SkipComments, d.SkipBlank)
	origin := "defaults"
	if d.WarnOrigin.FromRule {
		origin = "rule"
	}
	kind := "fraction"
	if d.WarnOrigin.Absolute {
		kind = "absolute"
	}
	fmt.Fprintf(w, "warn band: from %s (%s)\n", origin, kind)
}

func printStructureTrace(w io.Writer, trace rules.StructureTrace) {
	fmt.Fprintf(w, "%s\n", trace.Path)
	for _, cand := range trace.Candidates {
		pattern := cand.Pattern
		if pattern != "" {
			pattern = " " + pattern
		}
		fmt.Fprintf(w, "  %-10s %s%s\n", cand.Status, cand.Source, pattern)
	}
	fmt.Fprintf(w, "effective: max_files=%d max_subdirs=%d max_depth=%d (from %s)\n",
		trace.MaxFiles, trace.MaxSubdirs, trace.MaxDepth, trace.Source)
}

func outputWriter(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindIo, err, "cannot open output file")
	}
	return f, func() { f.Close() }, nil
}

// exitError prints the structured error and maps it to exit code 2.
func exitError(err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		msg := e.Error()
		if e.Suggestion != "" {
			msg += "\n  hint: " + e.Suggestion
		}
		return cli.Exit(msg, errs.ExitCode(err))
	}
	return cli.Exit(err.Error(), errs.ExitCode(err))
}

const starterConfig = `version = "2"

[content]
max_lines = 500
warn_threshold = 0.8
skip_comments = true
skip_blank = true

[[content.rules]]
pattern = "**/*_test.go"
max_lines = 800

[structure]
max_files = -1
max_subdirs = -1
max_depth = -1
`
