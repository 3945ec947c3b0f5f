// Package history keeps per-run snapshots of line totals so trends can be
// reported over time.
package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/doraemonkeys/sloc-guard/internal/classify"
)

// Version of the on-disk schema.
const Version = 1

// Snapshot is one recorded run.
type Snapshot struct {
	ID        string                        `json:"id"`
	TakenAt   time.Time                     `json:"taken_at"`
	Files     int                           `json:"files"`
	Totals    classify.LineStats            `json:"totals"`
	Languages map[string]classify.LineStats `json:"languages,omitempty"`
	Label     string                        `json:"label,omitempty"`
}

// History is the snapshot log, oldest first.
type History struct {
	Version   int        `json:"version"`
	Snapshots []Snapshot `json:"snapshots"`
}

// Load reads the history file. Missing files give an empty history.
func Load(path string) (*History, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &History{Version: Version}, nil
	}
	if err != nil {
		return nil, err
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Save writes the history atomically.
func (h *History) Save(path string) error {
	data, err := json.MarshalIndent(h, "", "  ")
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

// Take appends a new snapshot and returns it.
func (h *History) Take(files int, totals classify.LineStats, languages map[string]classify.LineStats, label string) Snapshot {
	s := Snapshot{
		ID:        uuid.NewString(),
		TakenAt:   time.Now().UTC(),
		Files:     files,
		Totals:    totals,
		Languages: languages,
		Label:     label,
	}
	h.Snapshots = append(h.Snapshots, s)
	return s
}

// Since returns the snapshots taken within the window ending now.
func (h *History) Since(window time.Duration, now time.Time) []Snapshot {
	cutoff := now.Add(-window)
	var out []Snapshot
	for _, s := range h.Snapshots {
		if !s.TakenAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Delta compares the latest snapshot in a window against the earliest.
// The second return is false when fewer than two snapshots fall inside.
func (h *History) Delta(window time.Duration, now time.Time) (code int, total int, ok bool) {
	in := h.Since(window, now)
	if len(in) < 2 {
		return 0, 0, false
	}
	first, last := in[0], in[len(in)-1]
	return last.Totals.Code - first.Totals.Code, last.Totals.Total - first.Totals.Total, true
}

// Latest returns the newest snapshot.
func (h *History) Latest() (Snapshot, bool) {
	if len(h.Snapshots) == 0 {
		return Snapshot{}, false
	}
	return h.Snapshots[len(h.Snapshots)-1], true
}
