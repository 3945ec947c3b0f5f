package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/sahilm/fuzzy"
	"github.com/sirupsen/logrus"

	"github.com/doraemonkeys/sloc-guard/internal/errs"
)

var (
	breakdownValues   = []string{"lang", "language", "dir", "directory"}
	reportSections    = []string{"summary", "files", "breakdown", "trend"}
	knownTopLevelKeys = []string{
		"version", "extends", "extends_sha256",
		"scanner", "content", "structure", "stats", "trend", "languages",
	}
)

// Validate runs the semantic pass over a fully merged config. It checks
// cross-field constraints the TOML decoder cannot express.
func Validate(cfg *Config) error {
	if err := validateScanner(&cfg.Scanner); err != nil {
		return err
	}
	if err := validateContent(&cfg.Content); err != nil {
		return err
	}
	if err := validateStructure(&cfg.Structure); err != nil {
		return err
	}
	if err := validateStats(&cfg.Stats); err != nil {
		return err
	}
	if err := validateTrend(&cfg.Trend); err != nil {
		return err
	}
	return validateLanguages(cfg.Languages)
}

func validateScanner(s *ScannerConfig) error {
	for _, pattern := range s.Exclude {
		if err := checkGlob("scanner.exclude", pattern); err != nil {
			return err
		}
	}
	return nil
}

func validateContent(c *ContentConfig) error {
	if err := checkThreshold("content.warn_threshold", c.WarnThreshold); err != nil {
		return err
	}
	if c.WarnAt != nil && c.MaxLines != nil && *c.WarnAt >= *c.MaxLines {
		return semanticError("content.warn_at",
			fmt.Sprintf("warn_at (%d) must be below max_lines (%d)", *c.WarnAt, *c.MaxLines),
			"lower warn_at or raise max_lines")
	}
	for _, pattern := range c.Exclude {
		if err := checkGlob("content.exclude", pattern); err != nil {
			return err
		}
	}
	for ext, lang := range c.Languages {
		field := "content.languages." + ext
		if err := checkThreshold(field+".warn_threshold", lang.WarnThreshold); err != nil {
			return err
		}
		if lang.WarnAt != nil && lang.MaxLines != nil && *lang.WarnAt >= *lang.MaxLines {
			return semanticError(field,
				fmt.Sprintf("warn_at (%d) must be below max_lines (%d)", *lang.WarnAt, *lang.MaxLines),
				"lower warn_at or raise max_lines")
		}
	}
	for i, rule := range c.Rules {
		field := fmt.Sprintf("content.rules[%d]", i)
		if rule.Pattern == "" {
			return semanticError(field+".pattern", "pattern is required", "set a glob like src/**")
		}
		if err := checkGlob(field+".pattern", rule.Pattern); err != nil {
			return err
		}
		if err := checkThreshold(field+".warn_threshold", rule.WarnThreshold); err != nil {
			return err
		}
		if rule.WarnAt != nil && *rule.WarnAt >= rule.MaxLines {
			return semanticError(field,
				fmt.Sprintf("warn_at (%d) must be below max_lines (%d)", *rule.WarnAt, rule.MaxLines),
				"lower warn_at or raise max_lines")
		}
		if err := checkExpiry(field+".expires", rule.Expires); err != nil {
			return err
		}
	}
	for i, ov := range c.Overrides {
		if ov.Path == "" {
			return semanticError(fmt.Sprintf("content.overrides[%d].path", i),
				"path is required", "set the file path the override applies to")
		}
	}
	return nil
}

func validateStructure(s *StructureConfig) error {
	for _, f := range []struct {
		name string
		val  *int
	}{
		{"structure.max_files", s.MaxFiles},
		{"structure.max_subdirs", s.MaxSubdirs},
		{"structure.max_depth", s.MaxDepth},
	} {
		if err := checkLimit(f.name, f.val); err != nil {
			return err
		}
	}
	for _, f := range []struct {
		name string
		val  *float64
	}{
		{"structure.warn_threshold", s.WarnThreshold},
		{"structure.warn_files_threshold", s.WarnFilesThreshold},
		{"structure.warn_dirs_threshold", s.WarnDirsThreshold},
	} {
		if err := checkThreshold(f.name, f.val); err != nil {
			return err
		}
	}

	for i, rule := range s.Rules {
		field := fmt.Sprintf("structure.rules[%d]", i)
		if rule.Scope == "" {
			return semanticError(field+".scope", "scope is required", "set a directory glob like src/**")
		}
		if err := checkGlob(field+".scope", rule.Scope); err != nil {
			return err
		}
		for _, lf := range []struct {
			name string
			val  *int
		}{
			{field + ".max_files", rule.MaxFiles},
			{field + ".max_subdirs", rule.MaxSubdirs},
			{field + ".max_depth", rule.MaxDepth},
		} {
			if err := checkLimit(lf.name, lf.val); err != nil {
				return err
			}
		}
		for _, tf := range []struct {
			name string
			val  *float64
		}{
			{field + ".warn_threshold", rule.WarnThreshold},
			{field + ".warn_files_threshold", rule.WarnFilesThreshold},
			{field + ".warn_dirs_threshold", rule.WarnDirsThreshold},
		} {
			if err := checkThreshold(tf.name, tf.val); err != nil {
				return err
			}
		}

		// Allow and deny lists are exclusive per entity kind.
		fileAllow := len(rule.AllowExtensions) > 0 || len(rule.AllowFiles) > 0 || len(rule.AllowPatterns) > 0
		fileDeny := len(rule.DenyExtensions) > 0 || len(rule.DenyFiles) > 0 || len(rule.DenyPatterns) > 0
		if fileAllow && fileDeny {
			return semanticError(field,
				"allow and deny file filters cannot both be set on one rule",
				"keep either the allow_* or the deny_* file lists")
		}
		if len(rule.AllowDirs) > 0 && len(rule.DenyDirs) > 0 {
			return semanticError(field,
				"allow_dirs and deny_dirs cannot both be set on one rule",
				"keep either allow_dirs or deny_dirs")
		}

		for _, list := range [][]string{rule.AllowPatterns, rule.DenyPatterns, rule.AllowFiles, rule.DenyFiles, rule.AllowDirs, rule.DenyDirs} {
			for _, pattern := range list {
				if err := checkGlob(field, pattern); err != nil {
					return err
				}
			}
		}
		if rule.FileNamingPattern != "" {
			if _, err := regexp.Compile(rule.FileNamingPattern); err != nil {
				return errs.Newf(errs.KindInvalidPattern, "invalid regex in %s.file_naming_pattern", field).
					WithDetail("%v", err).
					WithSuggestion("check the Go regular expression syntax")
			}
		}
		if len(rule.RequireSibling) > 0 && rule.FilePattern == "" {
			return semanticError(field+".require_sibling",
				"require_sibling needs file_pattern on the same rule",
				"set file_pattern to the glob the sibling requirement anchors on")
		}
		if err := checkExpiry(field+".expires", rule.Expires); err != nil {
			return err
		}
	}

	for i, ov := range s.Overrides {
		field := fmt.Sprintf("structure.overrides[%d]", i)
		if ov.Path == "" {
			return semanticError(field+".path", "path is required", "set the directory the override applies to")
		}
		if ov.MaxFiles == nil && ov.MaxSubdirs == nil && ov.MaxDepth == nil {
			return semanticError(field,
				"override must set at least one of max_files, max_subdirs, max_depth",
				"add the limit you want to override")
		}
	}
	return nil
}

func validateStats(s *StatsConfig) error {
	if s.Report.BreakdownBy != "" && !contains(breakdownValues, s.Report.BreakdownBy) {
		return semanticError("stats.report.breakdown_by",
			fmt.Sprintf("invalid value %q", s.Report.BreakdownBy),
			didYouMean(s.Report.BreakdownBy, breakdownValues))
	}
	for _, section := range s.Report.Exclude {
		if !contains(reportSections, section) {
			return semanticError("stats.report.exclude",
				fmt.Sprintf("invalid section %q", section),
				didYouMean(section, reportSections))
		}
	}
	return nil
}

func validateTrend(t *TrendConfig) error {
	if t.TrendSince == "" {
		return nil
	}
	if _, err := ParseHumanDuration(t.TrendSince); err != nil {
		return semanticError("trend.trend_since",
			fmt.Sprintf("invalid duration %q", t.TrendSince),
			"use a duration like 720h, 30d or 4w")
	}
	return nil
}

func validateLanguages(langs map[string]CustomLanguage) error {
	for name, cl := range langs {
		field := "languages." + name
		if len(cl.Extensions) == 0 {
			return semanticError(field+".extensions",
				"custom language needs at least one extension",
				"add the file extensions this language claims")
		}
		for i, b := range cl.Blocks {
			if (b.Start == "") != (b.End == "") {
				return semanticError(fmt.Sprintf("%s.blocks[%d]", field, i),
					"block comment needs both start and end markers",
					"set start and end together")
			}
		}
	}
	return nil
}

func checkThreshold(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if *v < 0 || *v > 1 {
		return semanticError(field,
			fmt.Sprintf("threshold %v is outside [0, 1]", *v),
			"use a fraction of the limit, e.g. 0.8")
	}
	return nil
}

func checkLimit(field string, v *int) error {
	if v != nil && *v < -1 {
		return semanticError(field,
			fmt.Sprintf("limit %d is below -1", *v),
			"use -1 for unlimited, 0 to prohibit, or a positive cap")
	}
	return nil
}

func checkGlob(field, pattern string) error {
	if !doublestar.ValidatePattern(pattern) {
		return errs.Newf(errs.KindInvalidPattern, "invalid glob %q in %s", pattern, field).
			WithSuggestion("check for unbalanced brackets or braces")
	}
	return nil
}

func checkExpiry(field, expires string) error {
	if expires == "" {
		return nil
	}
	if _, err := time.Parse("2006-01-02", expires); err != nil {
		return semanticError(field,
			fmt.Sprintf("invalid date %q", expires),
			"use YYYY-MM-DD")
	}
	return nil
}

func semanticError(field, message, suggestion string) error {
	return errs.Newf(errs.KindSemantic, "%s: %s", field, message).
		WithSuggestion("%s", suggestion)
}

// didYouMean builds a suggestion from the closest valid values.
func didYouMean(input string, valid []string) string {
	matches := fuzzy.Find(input, valid)
	if len(matches) > 0 {
		return fmt.Sprintf("did you mean %q? valid values: %s", valid[matches[0].Index], strings.Join(valid, ", "))
	}
	return "valid values: " + strings.Join(valid, ", ")
}

// warnUndecoded logs keys the decoder did not recognise, with a fuzzy match
// against the known schema where one exists.
func warnUndecoded(md toml.MetaData, origin string, logger *logrus.Logger) {
	for _, key := range md.Undecoded() {
		name := key.String()
		entry := logger.WithFields(logrus.Fields{"key": name, "config": origin})
		if matches := fuzzy.Find(topLevelOf(name), knownTopLevelKeys); len(matches) > 0 && topLevelOf(name) != knownTopLevelKeys[matches[0].Index] {
			entry.Warnf("Unknown config key (did you mean %q?)", knownTopLevelKeys[matches[0].Index])
			continue
		}
		entry.Warn("Unknown config key")
	}
}

func topLevelOf(dotted string) string {
	if idx := strings.IndexByte(dotted, '.'); idx >= 0 {
		return dotted[:idx]
	}
	return dotted
}

// ParseHumanDuration parses Go durations plus day (d) and week (w) suffixes.
func ParseHumanDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	for suffix, unit := range map[string]time.Duration{"d": 24 * time.Hour, "w": 7 * 24 * time.Hour} {
		if n, ok := strings.CutSuffix(s, suffix); ok {
			v, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			return time.Duration(v * float64(unit)), nil
		}
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
