// Package classify turns raw source bytes into per-line statistics. It is a
// single-pass state machine driven by a language's CommentSyntax: multi-line
// comment tracking (with nesting and dynamic delimiters), string-aware marker
// search, and ignore directives.
package classify

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/doraemonkeys/sloc-guard/internal/langs"
)

// LineStats counts the lines of one classified file.
// Invariant: Code + Comment + Blank + Ignored == Total.
type LineStats struct {
	Total   int `json:"total"`
	Code    int `json:"code"`
	Comment int `json:"comment"`
	Blank   int `json:"blank"`
	Ignored int `json:"ignored"`
}

// Add accumulates another file's stats into this one.
func (s *LineStats) Add(other LineStats) {
	s.Total += other.Total
	s.Code += other.Code
	s.Comment += other.Comment
	s.Blank += other.Blank
	s.Ignored += other.Ignored
}

// CountResult is the classifier's verdict for one file: either line stats or
// "this file asked to be ignored entirely".
type CountResult struct {
	IgnoredFile bool
	Stats       LineStats
}

// Ignore directives, matched by substring inside single-line comments.
const (
	dirIgnoreFile  = "sloc-guard:ignore-file"
	dirIgnoreNext  = "sloc-guard:ignore-next"
	dirIgnoreStart = "sloc-guard:ignore-start"
	dirIgnoreEnd   = "sloc-guard:ignore-end"

	// ignoreFileWindow is how many leading lines may carry an ignore-file
	// directive before it stops being honoured.
	ignoreFileWindow = 10
)

type lineClass int

const (
	classCode lineClass = iota
	classComment
	classBlank
	classIgnored
)

// classifier carries all cross-line state.
type classifier struct {
	syntax *langs.CommentSyntax

	// multi-line comment state; valid only while inComment is true
	inComment      bool
	depth          int
	startMarker    string
	endMarker      string
	nesting        bool
	endAtLineStart bool

	// string literal state that survives line breaks
	inTriple string
	inRaw    bool
	rawLevel int

	// ignore directive state
	ignoreNext    int
	inIgnoreBlock bool
	sawIgnoreEnd  bool
	ignoredFile   bool
}

// lineScan is what a single line's scan reports back for classification.
type lineScan struct {
	openedML    bool // a multi-line comment opened on this line
	lineComment bool // the trimmed prefix was a single-line comment marker
}

// Classify partitions every line of data into code, comment, blank or ignored.
// Malformed UTF-8 is replaced rather than rejected; the function is total over
// byte input and does no I/O.
func Classify(data []byte, syntax *langs.CommentSyntax) CountResult {
	text := strings.ToValidUTF8(string(data), string(utf8.RuneError))
	if syntax == nil {
		// Unknown language: no comment markers, every non-blank line is code.
		syntax = &langs.CommentSyntax{}
	}
	c := &classifier{syntax: syntax}

	var stats LineStats
	lineNo := 0
	for text != "" {
		var line string
		if idx := strings.IndexByte(text, '\n'); idx >= 0 {
			line = text[:idx]
			text = text[idx+1:]
		} else {
			line = text
			text = ""
		}
		lineNo++
		line = strings.TrimSuffix(line, "\r")

		switch c.classifyLine(line, lineNo) {
		case classCode:
			stats.Code++
		case classComment:
			stats.Comment++
		case classBlank:
			stats.Blank++
		case classIgnored:
			stats.Ignored++
		}
		stats.Total++

		if c.ignoredFile {
			return CountResult{IgnoredFile: true}
		}
	}
	return CountResult{Stats: stats}
}

func (c *classifier) classifyLine(line string, lineNo int) lineClass {
	ignorePending := false
	if c.ignoreNext > 0 {
		c.ignoreNext--
		ignorePending = true
	}
	wasBlock := c.inIgnoreBlock
	wasInComment := c.inComment
	c.sawIgnoreEnd = false

	res := c.scanLine(line, lineNo)

	// The ignore-end marker line itself counts as a comment; everything
	// strictly between start and end is ignored. Ignored lines have already
	// driven the comment state machine above.
	if wasBlock && c.sawIgnoreEnd {
		c.inIgnoreBlock = false
		return classComment
	}
	if wasBlock || ignorePending {
		return classIgnored
	}

	switch {
	case wasInComment:
		return classComment
	case strings.TrimSpace(line) == "":
		return classBlank
	case res.openedML || res.lineComment:
		return classComment
	default:
		return classCode
	}
}

// scanLine walks one line left to right, updating comment and string state and
// reporting what it saw. Multi-line rules are tried before single-line
// prefixes at each position so that shared prefixes (Lua "--" vs "--[[")
// resolve toward the multi-line form.
func (c *classifier) scanLine(line string, lineNo int) lineScan {
	var res lineScan
	inSingle, inDouble := false, false
	sawToken := false
	rustStrings := c.syntax.HasRustRawStrings()
	i, n := 0, len(line)

	for i < n {
		switch {
		case c.inComment:
			if c.nesting && c.startMarker != "" && strings.HasPrefix(line[i:], c.startMarker) {
				c.depth++
				i += len(c.startMarker)
				continue
			}
			if strings.HasPrefix(line[i:], c.endMarker) && (!c.endAtLineStart || i == 0) {
				c.depth--
				i += len(c.endMarker)
				if c.depth == 0 {
					c.inComment = false
				}
				continue
			}
			i++

		case c.inRaw:
			if line[i] == '"' && c.matchRawEnd(line, i) {
				c.inRaw = false
				i += 1 + c.rawLevel
				continue
			}
			i++

		case c.inTriple != "":
			if strings.HasPrefix(line[i:], c.inTriple) {
				i += len(c.inTriple)
				c.inTriple = ""
				continue
			}
			i++

		case inDouble:
			if line[i] == '\\' && i+1 < n {
				i += 2
				continue
			}
			if line[i] == '"' {
				inDouble = false
			}
			i++

		case inSingle:
			if line[i] == '\\' && i+1 < n {
				i += 2
				continue
			}
			if line[i] == '\'' {
				inSingle = false
			}
			i++

		default:
			b := line[i]
			if b == ' ' || b == '\t' {
				i++
				continue
			}
			if next, ok := c.tryMultiLineStart(line, i); ok {
				// Code before the opener keeps the line as code.
				if !sawToken {
					res.openedML = true
				}
				i = next
				continue
			}
			if prefix, ok := c.linePrefixAt(line, i); ok {
				if !sawToken {
					res.lineComment = true
				}
				c.handleDirectives(line[i+len(prefix):], lineNo)
				return res
			}
			// A token after the comment closed makes the line code again,
			// mirroring how code before the opener keeps it code.
			res.openedML = false
			if rustStrings {
				if next, ok := c.tryRawStart(line, i); ok {
					sawToken = true
					i = next
					continue
				}
			}
			if strings.HasPrefix(line[i:], `"""`) {
				sawToken = true
				c.inTriple = `"""`
				i += 3
				continue
			}
			if strings.HasPrefix(line[i:], "'''") {
				sawToken = true
				c.inTriple = "'''"
				i += 3
				continue
			}
			if b == '"' {
				sawToken = true
				inDouble = true
				i++
				continue
			}
			if b == '\'' {
				sawToken = true
				// For languages with lifetimes ('a) only a genuine char
				// literal starts single-quote tracking.
				if !rustStrings || looksLikeCharLiteral(line, i) {
					inSingle = true
				}
				i++
				continue
			}
			sawToken = true
			i++
		}
	}
	return res
}

// tryMultiLineStart attempts every multi-line rule at position i. On a match
// it enters the comment state and returns the index just past the opener.
func (c *classifier) tryMultiLineStart(line string, i int) (int, bool) {
	for _, rule := range c.syntax.MultiLine {
		switch rule.Kind {
		case langs.PatternStatic:
			if rule.MustBeAtLineStart && i != 0 {
				continue
			}
			if !strings.HasPrefix(line[i:], rule.Start) {
				continue
			}
			c.inComment = true
			c.depth = 1
			c.startMarker = rule.Start
			c.endMarker = rule.End
			c.nesting = rule.SupportsNesting
			c.endAtLineStart = rule.MustBeAtLineStart
			return i + len(rule.Start), true

		case langs.PatternLuaLongBracket:
			// --[=*[ opens; the closer carries the same number of equals.
			if !strings.HasPrefix(line[i:], "--[") {
				continue
			}
			j := i + 3
			level := 0
			for j < len(line) && line[j] == '=' {
				level++
				j++
			}
			if j >= len(line) || line[j] != '[' {
				continue
			}
			c.inComment = true
			c.depth = 1
			c.startMarker = ""
			c.endMarker = "]" + strings.Repeat("=", level) + "]"
			c.nesting = false
			c.endAtLineStart = false
			return j + 1, true

		case langs.PatternRustRawString:
			// Not a comment; handled by tryRawStart.
		}
	}
	return i, false
}

// linePrefixAt reports which single-line prefix, if any, starts at position i.
func (c *classifier) linePrefixAt(line string, i int) (string, bool) {
	for _, p := range c.syntax.LinePrefixes {
		if strings.HasPrefix(line[i:], p) {
			return p, true
		}
	}
	return "", false
}

// tryRawStart matches r#*" at position i and enters the raw-string state.
// br#*" is deliberately treated as the identifier b followed by a raw string.
func (c *classifier) tryRawStart(line string, i int) (int, bool) {
	if line[i] != 'r' {
		return i, false
	}
	j := i + 1
	hashes := 0
	for j < len(line) && line[j] == '#' {
		hashes++
		j++
	}
	if j >= len(line) || line[j] != '"' {
		return i, false
	}
	c.inRaw = true
	c.rawLevel = hashes
	return j + 1, true
}

// matchRawEnd reports whether the quote at i closes the current raw string,
// i.e. is followed by exactly rawLevel hash signs.
func (c *classifier) matchRawEnd(line string, i int) bool {
	if i+c.rawLevel >= len(line) {
		return false
	}
	for k := 0; k < c.rawLevel; k++ {
		if line[i+1+k] != '#' {
			return false
		}
	}
	return true
}

// looksLikeCharLiteral distinguishes 'a' and '\n' from lifetime markers.
func looksLikeCharLiteral(line string, i int) bool {
	if i+2 >= len(line) {
		return false
	}
	if line[i+1] != '\\' && line[i+2] == '\'' {
		return true
	}
	if line[i+1] == '\\' && i+3 < len(line) && line[i+3] == '\'' {
		return true
	}
	return false
}

// handleDirectives scans the text of a single-line comment for ignore
// directives. Matching is by substring, not prefix.
func (c *classifier) handleDirectives(comment string, lineNo int) {
	switch {
	case strings.Contains(comment, dirIgnoreStart):
		c.inIgnoreBlock = true
	case strings.Contains(comment, dirIgnoreEnd):
		c.sawIgnoreEnd = true
	case strings.Contains(comment, dirIgnoreFile):
		if lineNo <= ignoreFileWindow {
			c.ignoredFile = true
		}
	case strings.Contains(comment, dirIgnoreNext):
		c.ignoreNext = parseIgnoreNextCount(comment)
	}
}

// parseIgnoreNextCount extracts N from "sloc-guard:ignore-next N", default 1.
func parseIgnoreNextCount(comment string) int {
	idx := strings.Index(comment, dirIgnoreNext)
	rest := strings.TrimSpace(comment[idx+len(dirIgnoreNext):])
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return 1
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 {
		return 1
	}
	return n
}
