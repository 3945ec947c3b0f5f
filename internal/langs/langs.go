// Package langs holds the static language registry: which file extensions map
// to which language, and the comment syntax the classifier needs for each one.
// The registry is immutable after construction apart from custom languages
// registered from configuration.
package langs

import (
	"path/filepath"
	"sort"
	"strings"
)

// PatternKind tags a multi-line rule with how its delimiters behave.
type PatternKind string

const (
	// PatternStatic means Start and End are literal markers.
	PatternStatic PatternKind = "static"
	// PatternLuaLongBracket means the opener is --[=*[ and the closer is the
	// matching ]=*] with the same number of equals signs.
	PatternLuaLongBracket PatternKind = "lua-long-bracket"
	// PatternRustRawString is not a comment at all: it marks r#*"..."#* raw
	// strings whose content must be skipped during comment-marker search.
	PatternRustRawString PatternKind = "rust-raw-string"
)

// MultiLineRule describes one multi-line comment (or raw string) delimiter pair.
type MultiLineRule struct {
	Start             string      `json:"start"`
	End               string      `json:"end"`
	SupportsNesting   bool        `json:"supports_nesting,omitempty"`
	MustBeAtLineStart bool        `json:"must_be_at_line_start,omitempty"`
	Kind              PatternKind `json:"kind"`
}

// CommentSyntax describes how comments are written in one language.
type CommentSyntax struct {
	LinePrefixes []string        `json:"line_prefixes"`
	MultiLine    []MultiLineRule `json:"multi_line,omitempty"`
}

// HasRustRawStrings reports whether the syntax carries a raw-string skip rule.
func (s *CommentSyntax) HasRustRawStrings() bool {
	for _, r := range s.MultiLine {
		if r.Kind == PatternRustRawString {
			return true
		}
	}
	return false
}

// Language is one registry entry.
type Language struct {
	Name       string
	Extensions []string
	Syntax     CommentSyntax
}

// Registry maps file extensions to languages.
type Registry struct {
	byExt     map[string]*Language
	languages []*Language
}

var (
	cStyle = CommentSyntax{
		LinePrefixes: []string{"//"},
		MultiLine:    []MultiLineRule{{Start: "/*", End: "*/", Kind: PatternStatic}},
	}
	hashOnly = CommentSyntax{LinePrefixes: []string{"#"}}
)

// NewRegistry builds the registry with the built-in language table.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]*Language)}
	for _, l := range builtinLanguages() {
		r.add(l)
	}
	return r
}

func builtinLanguages() []*Language {
	return []*Language{
		{Name: "Go", Extensions: []string{".go"}, Syntax: cStyle},
		{Name: "C", Extensions: []string{".c", ".h"}, Syntax: cStyle},
		{Name: "C++", Extensions: []string{".cpp", ".cc", ".cxx", ".hpp", ".hxx", ".hh"}, Syntax: cStyle},
		{Name: "C#", Extensions: []string{".cs"}, Syntax: cStyle},
		{Name: "Java", Extensions: []string{".java"}, Syntax: cStyle},
		{Name: "Kotlin", Extensions: []string{".kt", ".kts"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"//"},
			MultiLine:    []MultiLineRule{{Start: "/*", End: "*/", SupportsNesting: true, Kind: PatternStatic}},
		}},
		{Name: "JavaScript", Extensions: []string{".js", ".jsx", ".mjs", ".cjs"}, Syntax: cStyle},
		{Name: "TypeScript", Extensions: []string{".ts", ".tsx", ".mts", ".cts"}, Syntax: cStyle},
		{Name: "Rust", Extensions: []string{".rs"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"//"},
			MultiLine: []MultiLineRule{
				{Start: "/*", End: "*/", SupportsNesting: true, Kind: PatternStatic},
				{Kind: PatternRustRawString},
			},
		}},
		{Name: "Swift", Extensions: []string{".swift"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"//"},
			MultiLine:    []MultiLineRule{{Start: "/*", End: "*/", SupportsNesting: true, Kind: PatternStatic}},
		}},
		{Name: "Python", Extensions: []string{".py", ".pyi"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"#"},
			MultiLine: []MultiLineRule{
				{Start: `"""`, End: `"""`, Kind: PatternStatic},
				{Start: "'''", End: "'''", Kind: PatternStatic},
			},
		}},
		{Name: "Ruby", Extensions: []string{".rb", ".rake"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"#"},
			MultiLine:    []MultiLineRule{{Start: "=begin", End: "=end", MustBeAtLineStart: true, Kind: PatternStatic}},
		}},
		{Name: "Perl", Extensions: []string{".pl", ".pm"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"#"},
			MultiLine:    []MultiLineRule{{Start: "=pod", End: "=cut", MustBeAtLineStart: true, Kind: PatternStatic}},
		}},
		{Name: "Lua", Extensions: []string{".lua"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"--"},
			MultiLine:    []MultiLineRule{{Start: "--[[", End: "]]", Kind: PatternLuaLongBracket}},
		}},
		{Name: "Haskell", Extensions: []string{".hs"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"--"},
			MultiLine:    []MultiLineRule{{Start: "{-", End: "-}", SupportsNesting: true, Kind: PatternStatic}},
		}},
		{Name: "Shell", Extensions: []string{".sh", ".bash", ".zsh"}, Syntax: hashOnly},
		{Name: "PHP", Extensions: []string{".php"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"//", "#"},
			MultiLine:    []MultiLineRule{{Start: "/*", End: "*/", Kind: PatternStatic}},
		}},
		{Name: "SQL", Extensions: []string{".sql"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"--"},
			MultiLine:    []MultiLineRule{{Start: "/*", End: "*/", Kind: PatternStatic}},
		}},
		{Name: "HTML", Extensions: []string{".html", ".htm"}, Syntax: CommentSyntax{
			MultiLine: []MultiLineRule{{Start: "<!--", End: "-->", Kind: PatternStatic}},
		}},
		{Name: "CSS", Extensions: []string{".css", ".scss", ".less"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"//"},
			MultiLine:    []MultiLineRule{{Start: "/*", End: "*/", Kind: PatternStatic}},
		}},
		{Name: "YAML", Extensions: []string{".yml", ".yaml"}, Syntax: hashOnly},
		{Name: "TOML", Extensions: []string{".toml"}, Syntax: hashOnly},
		{Name: "HCL", Extensions: []string{".hcl", ".tf"}, Syntax: CommentSyntax{
			LinePrefixes: []string{"//", "#"},
			MultiLine:    []MultiLineRule{{Start: "/*", End: "*/", Kind: PatternStatic}},
		}},
	}
}

func (r *Registry) add(l *Language) {
	r.languages = append(r.languages, l)
	for _, ext := range l.Extensions {
		r.byExt[strings.ToLower(ext)] = l
	}
}

// Register adds a custom language, overriding any built-in claim on its
// extensions. Later registrations win.
func (r *Registry) Register(name string, extensions []string, syntax CommentSyntax) {
	r.add(&Language{Name: name, Extensions: extensions, Syntax: syntax})
}

// Lookup resolves a file path to its language by extension.
func (r *Registry) Lookup(path string) (*Language, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	l, ok := r.byExt[ext]
	return l, ok
}

// LookupExt resolves a bare extension (with or without leading dot).
func (r *Registry) LookupExt(ext string) (*Language, bool) {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	l, ok := r.byExt[strings.ToLower(ext)]
	return l, ok
}

// Extensions returns every registered extension, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Languages returns all registry entries in registration order.
func (r *Registry) Languages() []*Language {
	return r.languages
}
