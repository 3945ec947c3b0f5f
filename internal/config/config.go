// Package config implements the TOML configuration pipeline: discovery,
// extends inheritance (local, remote, presets), array merging with the $reset
// sentinel, and a separate semantic validation pass.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/doraemonkeys/sloc-guard/internal/langs"
)

// CurrentVersion is the only accepted config schema version.
const CurrentVersion = "2"

// Config is the fully merged configuration value.
type Config struct {
	Version       string                    `toml:"version"`
	Extends       string                    `toml:"extends"`
	ExtendsSHA256 string                    `toml:"extends_sha256"`
	Scanner       ScannerConfig             `toml:"scanner"`
	Content       ContentConfig             `toml:"content"`
	Structure     StructureConfig           `toml:"structure"`
	Stats         StatsConfig               `toml:"stats"`
	Trend         TrendConfig               `toml:"trend"`
	Languages     map[string]CustomLanguage `toml:"languages"`

	// Sources is the origin chain (file paths, URLs, preset names) traversed
	// while resolving this config, root first.
	Sources []string `toml:"-"`
}

// ScannerConfig controls file discovery.
type ScannerConfig struct {
	Gitignore *bool    `toml:"gitignore"`
	Exclude   []string `toml:"exclude"`
}

// GitignoreEnabled reports the effective gitignore setting (default true).
func (s *ScannerConfig) GitignoreEnabled() bool {
	return s.Gitignore == nil || *s.Gitignore
}

// ContentConfig holds global content limits plus per-language, glob and
// explicit-path layers.
type ContentConfig struct {
	MaxLines      *int                        `toml:"max_lines"`
	WarnAt        *int                        `toml:"warn_at"`
	WarnThreshold *float64                    `toml:"warn_threshold"`
	SkipComments  *bool                       `toml:"skip_comments"`
	SkipBlank     *bool                       `toml:"skip_blank"`
	Extensions    []string                    `toml:"extensions"`
	Exclude       []string                    `toml:"exclude"`
	Strict        bool                        `toml:"strict"`
	Languages     map[string]LanguageLimits   `toml:"languages"`
	Rules         []ContentRule               `toml:"rules"`
	Overrides     []ContentOverride           `toml:"overrides"`
}

// LanguageLimits is the per-extension limit table under content.languages.
type LanguageLimits struct {
	MaxLines      *int     `toml:"max_lines"`
	WarnAt        *int     `toml:"warn_at"`
	WarnThreshold *float64 `toml:"warn_threshold"`
	SkipComments  *bool    `toml:"skip_comments"`
	SkipBlank     *bool    `toml:"skip_blank"`
}

// ContentRule is one glob-matched content budget.
type ContentRule struct {
	Pattern       string   `toml:"pattern"`
	MaxLines      int      `toml:"max_lines"`
	WarnAt        *int     `toml:"warn_at"`
	WarnThreshold *float64 `toml:"warn_threshold"`
	SkipComments  *bool    `toml:"skip_comments"`
	SkipBlank     *bool    `toml:"skip_blank"`
	Reason        string   `toml:"reason"`
	Expires       string   `toml:"expires"`
}

// ContentOverride pins a budget to one explicit path.
type ContentOverride struct {
	Path     string `toml:"path"`
	MaxLines int    `toml:"max_lines"`
	Reason   string `toml:"reason"`
}

// StructureConfig holds directory fan-out limits.
type StructureConfig struct {
	MaxFiles           *int                `toml:"max_files"`
	MaxSubdirs         *int                `toml:"max_subdirs"`
	MaxDepth           *int                `toml:"max_depth"`
	WarnThreshold      *float64            `toml:"warn_threshold"`
	WarnFilesAt        *int                `toml:"warn_files_at"`
	WarnDirsAt         *int                `toml:"warn_dirs_at"`
	WarnFilesThreshold *float64            `toml:"warn_files_threshold"`
	WarnDirsThreshold  *float64            `toml:"warn_dirs_threshold"`
	Rules              []StructureRule     `toml:"rules"`
	Overrides          []StructureOverride `toml:"overrides"`
}

// StructureRule scopes limits and filters to a directory glob.
type StructureRule struct {
	Scope              string   `toml:"scope"`
	MaxFiles           *int     `toml:"max_files"`
	MaxSubdirs         *int     `toml:"max_subdirs"`
	MaxDepth           *int     `toml:"max_depth"`
	RelativeDepth      bool     `toml:"relative_depth"`
	WarnThreshold      *float64 `toml:"warn_threshold"`
	WarnFilesAt        *int     `toml:"warn_files_at"`
	WarnDirsAt         *int     `toml:"warn_dirs_at"`
	WarnFilesThreshold *float64 `toml:"warn_files_threshold"`
	WarnDirsThreshold  *float64 `toml:"warn_dirs_threshold"`
	AllowExtensions    []string `toml:"allow_extensions"`
	AllowPatterns      []string `toml:"allow_patterns"`
	AllowFiles         []string `toml:"allow_files"`
	AllowDirs          []string `toml:"allow_dirs"`
	DenyExtensions     []string `toml:"deny_extensions"`
	DenyPatterns       []string `toml:"deny_patterns"`
	DenyFiles          []string `toml:"deny_files"`
	DenyDirs           []string `toml:"deny_dirs"`
	FileNamingPattern  string   `toml:"file_naming_pattern"`
	FilePattern        string   `toml:"file_pattern"`
	RequireSibling     []string `toml:"require_sibling"`
	Reason             string   `toml:"reason"`
	Expires            string   `toml:"expires"`
}

// StructureOverride pins structure limits to one explicit directory.
type StructureOverride struct {
	Path       string `toml:"path"`
	MaxFiles   *int   `toml:"max_files"`
	MaxSubdirs *int   `toml:"max_subdirs"`
	MaxDepth   *int   `toml:"max_depth"`
	Reason     string `toml:"reason"`
}

// StatsConfig controls the stats command's report.
type StatsConfig struct {
	Report ReportConfig `toml:"report"`
}

// ReportConfig selects report sections and breakdown axis.
type ReportConfig struct {
	BreakdownBy string   `toml:"breakdown_by"`
	Exclude     []string `toml:"exclude"`
}

// TrendConfig controls trend snapshots.
type TrendConfig struct {
	TrendSince   string `toml:"trend_since"`
	AutoSnapshot bool   `toml:"auto_snapshot"`
}

// CustomLanguage defines comment syntax for an extension the built-in
// registry does not cover. This table is the only config input that affects
// line counting, so it alone feeds the cache's config hash.
type CustomLanguage struct {
	Extensions   []string      `toml:"extensions" json:"extensions"`
	LinePrefixes []string      `toml:"line_prefixes" json:"line_prefixes"`
	Blocks       []CustomBlock `toml:"blocks" json:"blocks,omitempty"`
}

// CustomBlock is one multi-line comment delimiter pair of a custom language.
type CustomBlock struct {
	Start           string `toml:"start" json:"start"`
	End             string `toml:"end" json:"end"`
	SupportsNesting bool   `toml:"supports_nesting" json:"supports_nesting,omitempty"`
}

// DefaultMaxLines applies when no config or rule sets a content limit.
const DefaultMaxLines = 500

// DefaultWarnThreshold is the warn band fraction used when nothing else is
// configured.
const DefaultWarnThreshold = 0.8

// Default builds the built-in configuration.
func Default() *Config {
	maxLines := DefaultMaxLines
	warnThreshold := DefaultWarnThreshold
	skip := true
	return &Config{
		Version: CurrentVersion,
		Content: ContentConfig{
			MaxLines:      &maxLines,
			WarnThreshold: &warnThreshold,
			SkipComments:  &skip,
			SkipBlank:     &skip,
		},
		Sources: []string{"builtin:defaults"},
	}
}

// GlobalMaxLines reports the effective global content limit.
func (c *ContentConfig) GlobalMaxLines() int {
	if c.MaxLines != nil {
		return *c.MaxLines
	}
	return DefaultMaxLines
}

// ContentSkipComments reports the effective global skip_comments (default true).
func (c *ContentConfig) ContentSkipComments() bool {
	return c.SkipComments == nil || *c.SkipComments
}

// ContentSkipBlank reports the effective global skip_blank (default true).
func (c *ContentConfig) ContentSkipBlank() bool {
	return c.SkipBlank == nil || *c.SkipBlank
}

// RegisterCustomLanguages adds the config's custom languages to a registry.
func (c *Config) RegisterCustomLanguages(reg *langs.Registry) {
	for name, cl := range c.Languages {
		syntax := langs.CommentSyntax{LinePrefixes: cl.LinePrefixes}
		for _, b := range cl.Blocks {
			syntax.MultiLine = append(syntax.MultiLine, langs.MultiLineRule{
				Start:           b.Start,
				End:             b.End,
				SupportsNesting: b.SupportsNesting,
				Kind:            langs.PatternStatic,
			})
		}
		reg.Register(name, cl.Extensions, syntax)
	}
}

// CountingFingerprint hashes the subset of config that affects line counting:
// the custom-language syntax table. Threshold edits must not invalidate the
// result cache, so nothing else participates.
func (c *Config) CountingFingerprint() string {
	// json.Marshal sorts map keys, which makes the serialisation canonical.
	payload, err := json.Marshal(c.Languages)
	if err != nil {
		payload = []byte("{}")
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Origin returns the leaf source this config was loaded from.
func (c *Config) Origin() string {
	if len(c.Sources) == 0 {
		return "builtin:defaults"
	}
	return c.Sources[0]
}

// FingerprintString is a short human form of the counting fingerprint.
func (c *Config) FingerprintString() string {
	fp := c.CountingFingerprint()
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return fmt.Sprintf("syntax:%s", fp)
}
