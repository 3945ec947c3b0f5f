// Package gitdiff narrows a run to the files touched since a git revision.
package gitdiff

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/doraemonkeys/sloc-guard/internal/errs"
)

// Selection is the outcome of resolving a diff spec: the set of changed
// paths, keyed relative to the repository root.
type Selection struct {
	RepoRoot string
	Paths    map[string]bool
}

// Contains reports whether a path, relative to dir, is part of the
// selection. dir must be inside the repository.
func (s *Selection) Contains(dir, rel string) bool {
	abs := filepath.Join(dir, filepath.FromSlash(rel))
	repoRel, err := filepath.Rel(s.RepoRoot, abs)
	if err != nil {
		return false
	}
	return s.Paths[filepath.ToSlash(repoRel)]
}

// Changed resolves spec ("REF" or "REF..REF") against the repository
// containing dir. The single-ref form compares the ref against the working
// tree, so uncommitted and untracked files count as changed.
func Changed(dir, spec string) (*Selection, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, errs.New(errs.KindGitRepoNotFound, "not inside a git repository").
			WithSuggestion("run without --diff, or run from inside a repository")
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindGit, err, "cannot open repository")
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, errs.Wrap(errs.KindGit, err, "cannot open worktree")
	}

	from, to, ranged := strings.Cut(spec, "..")
	fromTree, err := treeAt(repo, from)
	if err != nil {
		return nil, err
	}

	sel := &Selection{RepoRoot: wt.Filesystem.Root(), Paths: map[string]bool{}}
	if ranged {
		toTree, err := treeAt(repo, to)
		if err != nil {
			return nil, err
		}
		if err := sel.addTreeDiff(fromTree, toTree); err != nil {
			return nil, err
		}
		return sel, nil
	}

	headTree, err := treeAt(repo, "HEAD")
	if err != nil {
		return nil, err
	}
	if err := sel.addTreeDiff(fromTree, headTree); err != nil {
		return nil, err
	}
	status, err := wt.Status()
	if err != nil {
		return nil, errs.Wrap(errs.KindGit, err, "cannot read worktree status")
	}
	for path, st := range status {
		if st.Worktree != git.Unmodified || st.Staging != git.Unmodified {
			sel.Paths[path] = true
		}
	}
	return sel, nil
}

func (s *Selection) addTreeDiff(from, to *object.Tree) error {
	changes, err := object.DiffTree(from, to)
	if err != nil {
		return errs.Wrap(errs.KindGit, err, "cannot diff trees")
	}
	for _, change := range changes {
		if change.From.Name != "" {
			s.Paths[change.From.Name] = true
		}
		if change.To.Name != "" {
			s.Paths[change.To.Name] = true
		}
	}
	return nil
}

func treeAt(repo *git.Repository, rev string) (*object.Tree, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, errs.Newf(errs.KindGit, "cannot resolve revision %q", rev).
			WithDetail("%v", err).
			WithSuggestion("use a branch, tag or commit reachable from this checkout")
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, errs.Wrap(errs.KindGit, err, "cannot load commit")
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, errs.Wrap(errs.KindGit, err, "cannot load tree")
	}
	return tree, nil
}
