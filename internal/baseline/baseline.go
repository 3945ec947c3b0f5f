// Package baseline records accepted existing violations so a newly adopted
// budget does not fail a tree wholesale. A failing file whose path and
// content hash appear here is demoted to informational.
package baseline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/doraemonkeys/sloc-guard/internal/rules"
)

// Version of the on-disk schema.
const Version = 1

const lockRetryInterval = 25 * time.Millisecond

// ContentEntry grandfathers one over-budget file. The hash pins the exact
// content; any edit sends the file back to failing.
type ContentEntry struct {
	Lines  int    `json:"lines"`
	SHA256 string `json:"sha256"`
}

// StructureEntry grandfathers one over-budget directory count.
type StructureEntry struct {
	Kind  string `json:"kind"` // "files" or "dirs"
	Count int    `json:"count"`
}

// Baseline maps slash-normalised paths to accepted violations.
type Baseline struct {
	Version   int                       `json:"version"`
	CreatedAt time.Time                 `json:"created_at"`
	Content   map[string]ContentEntry   `json:"content"`
	Structure map[string]StructureEntry `json:"structure"`
}

// New returns an empty baseline stamped now.
func New() *Baseline {
	return &Baseline{
		Version:   Version,
		CreatedAt: time.Now().UTC(),
		Content:   map[string]ContentEntry{},
		Structure: map[string]StructureEntry{},
	}
}

// Load reads a baseline file. A missing file is an empty baseline.
func Load(path string) (*Baseline, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b.Content == nil {
		b.Content = map[string]ContentEntry{}
	}
	if b.Structure == nil {
		b.Structure = map[string]StructureEntry{}
	}
	return &b, nil
}

// Save writes the baseline atomically under an exclusive lock.
func (b *Baseline) Save(path string, lockTimeout time.Duration) error {
	lock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	if locked, err := lock.TryLockContext(ctx, lockRetryInterval); err == nil && locked {
		defer lock.Unlock()
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// GrandfathersContent reports whether a failing file is covered: the path is
// listed and the content hash still matches.
func (b *Baseline) GrandfathersContent(path, sha256 string) bool {
	e, ok := b.Content[filepath.ToSlash(path)]
	return ok && e.SHA256 == sha256
}

// GrandfathersStructure reports whether a directory count violation is
// covered: the recorded count must be at least the actual one, so growth
// past the accepted level fails again.
func (b *Baseline) GrandfathersStructure(path string, kind rules.ViolationKind, actual int) bool {
	e, ok := b.Structure[filepath.ToSlash(path)]
	if !ok {
		return false
	}
	switch kind {
	case rules.FileCount:
		return e.Kind == "files" && actual <= e.Count
	case rules.DirCount:
		return e.Kind == "dirs" && actual <= e.Count
	}
	return false
}

// UpdateScope selects which entries Update replaces.
type UpdateScope string

const (
	UpdateAll       UpdateScope = "all"
	UpdateContent   UpdateScope = "content"
	UpdateStructure UpdateScope = "structure"
	// UpdateNew keeps existing entries and only adds paths not yet listed.
	UpdateNew UpdateScope = "new"
)

// ContentFailure is a failing file offered to Update.
type ContentFailure struct {
	Path   string
	Lines  int
	SHA256 string
}

// StructureFailure is a failing directory count offered to Update.
type StructureFailure struct {
	Path  string
	Kind  rules.ViolationKind
	Count int
}

// Update rewrites the baseline from the current failures per scope.
func (b *Baseline) Update(scope UpdateScope, content []ContentFailure, structure []StructureFailure) {
	switch scope {
	case UpdateAll:
		b.Content = map[string]ContentEntry{}
		b.Structure = map[string]StructureEntry{}
		b.addContent(content)
		b.addStructure(structure)
	case UpdateContent:
		b.Content = map[string]ContentEntry{}
		b.addContent(content)
	case UpdateStructure:
		b.Structure = map[string]StructureEntry{}
		b.addStructure(structure)
	case UpdateNew:
		for _, f := range content {
			key := filepath.ToSlash(f.Path)
			if _, ok := b.Content[key]; !ok {
				b.Content[key] = ContentEntry{Lines: f.Lines, SHA256: f.SHA256}
			}
		}
		for _, f := range structure {
			key := filepath.ToSlash(f.Path)
			if _, ok := b.Structure[key]; !ok {
				b.Structure[key] = structureEntry(f)
			}
		}
	}
	b.CreatedAt = time.Now().UTC()
}

func (b *Baseline) addContent(failures []ContentFailure) {
	for _, f := range failures {
		b.Content[filepath.ToSlash(f.Path)] = ContentEntry{Lines: f.Lines, SHA256: f.SHA256}
	}
}

func (b *Baseline) addStructure(failures []StructureFailure) {
	for _, f := range failures {
		b.Structure[filepath.ToSlash(f.Path)] = structureEntry(f)
	}
}

func structureEntry(f StructureFailure) StructureEntry {
	kind := "files"
	if f.Kind == rules.DirCount {
		kind = "dirs"
	}
	return StructureEntry{Kind: kind, Count: f.Count}
}

// Paths lists every covered path, sorted, for reporting.
func (b *Baseline) Paths() []string {
	out := make([]string, 0, len(b.Content)+len(b.Structure))
	for p := range b.Content {
		out = append(out, p)
	}
	for p := range b.Structure {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of grandfathered entries.
func (b *Baseline) Len() int { return len(b.Content) + len(b.Structure) }
