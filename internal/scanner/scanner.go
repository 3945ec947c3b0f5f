// Package scanner discovers the files and directories a run will check. It
// applies gitignore rules, exclude globs and the extension filter, and
// accumulates the per-directory counts structure checks consume.
package scanner

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/sirupsen/logrus"

	"github.com/doraemonkeys/sloc-guard/internal/errs"
	"github.com/doraemonkeys/sloc-guard/internal/rules"
)

// File is one candidate for content checking. Path is slash-separated and
// relative to the scan root.
type File struct {
	Path  string
	Abs   string
	Size  int64
	Mtime time.Time
}

// Result is a completed scan.
type Result struct {
	Files []File
	Dirs  []rules.Directory
}

// Options configure a scan.
type Options struct {
	Root         string
	Include      []string
	Exclude      []string
	Extensions   []string
	UseGitignore bool
	Logger       *logrus.Logger
}

// skipDirs are never descended into regardless of configuration.
var skipDirs = map[string]bool{
	".git":        true,
	".sloc-guard": true,
}

// Scan walks the root. Errors on individual entries are logged and skipped;
// an unreadable root is fatal.
func Scan(opts Options) (*Result, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errs.Wrap(errs.KindFileAccess, err, "cannot resolve scan root")
	}

	var matcher gitignore.Matcher
	if opts.UseGitignore {
		patterns, err := gitignore.ReadPatterns(osfs.New(root), nil)
		if err != nil {
			opts.Logger.WithError(err).Debug("Could not read gitignore patterns")
		} else if len(patterns) > 0 {
			matcher = gitignore.NewMatcher(patterns)
		}
	}

	exts := normalizeExtensions(opts.Extensions)
	res := &Result{}
	dirs := map[string]*rules.Directory{}
	dirAt := func(rel string) *rules.Directory {
		d, ok := dirs[rel]
		if !ok {
			depth := 0
			if rel != "." {
				depth = strings.Count(rel, "/") + 1
			}
			d = &rules.Directory{Path: rel, Depth: depth}
			dirs[rel] = d
		}
		return d
	}

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return errs.Wrap(errs.KindFileAccess, err, "cannot read scan root")
			}
			opts.Logger.WithError(err).WithField("path", path).Warn("Skipping unreadable entry")
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if rel == "." {
				dirAt(".")
				return nil
			}
			if skipDirs[entry.Name()] || excluded(opts.Exclude, rel, true) || ignored(matcher, rel, true) {
				return filepath.SkipDir
			}
			dirAt(rel)
			parent := parentOf(rel)
			p := dirAt(parent)
			p.Subdirs = append(p.Subdirs, entry.Name())
			return nil
		}

		if excluded(opts.Exclude, rel, false) || ignored(matcher, rel, false) {
			return nil
		}

		parent := parentOf(rel)
		p := dirAt(parent)
		p.Files = append(p.Files, entry.Name())

		if len(opts.Include) > 0 && !matchAny(opts.Include, rel) {
			return nil
		}
		if len(exts) > 0 && !exts[strings.ToLower(filepath.Ext(rel))] {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			opts.Logger.WithError(err).WithField("path", rel).Warn("Skipping unreadable entry")
			return nil
		}
		res.Files = append(res.Files, File{Path: rel, Abs: path, Size: info.Size(), Mtime: info.ModTime()})
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	for _, d := range dirs {
		sort.Strings(d.Files)
		sort.Strings(d.Subdirs)
		res.Dirs = append(res.Dirs, *d)
	}
	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Path < res.Files[j].Path })
	sort.Slice(res.Dirs, func(i, j int) bool { return res.Dirs[i].Path < res.Dirs[j].Path })
	return res, nil
}

func parentOf(rel string) string {
	parent := filepath.ToSlash(filepath.Dir(rel))
	if parent == "" {
		parent = "."
	}
	return parent
}

func excluded(patterns []string, rel string, isDir bool) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
		// A directory is also excluded when the pattern targets its contents.
		if isDir {
			if ok, err := doublestar.Match(pattern, rel+"/"); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func ignored(matcher gitignore.Matcher, rel string, isDir bool) bool {
	return matcher != nil && matcher.Match(strings.Split(rel, "/"), isDir)
}

func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

func normalizeExtensions(exts []string) map[string]bool {
	if len(exts) == 0 {
		return nil
	}
	out := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = true
	}
	return out
}
