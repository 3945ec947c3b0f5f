// Package stats aggregates line counts for the stats command: overall
// totals plus a breakdown by language or by top-level directory.
package stats

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/doraemonkeys/sloc-guard/internal/checker"
	"github.com/doraemonkeys/sloc-guard/internal/classify"
	"github.com/doraemonkeys/sloc-guard/internal/config"
	"github.com/doraemonkeys/sloc-guard/internal/history"
)

// Row is one breakdown bucket.
type Row struct {
	Key   string             `json:"key"`
	Files int                `json:"files"`
	Stats classify.LineStats `json:"stats"`
}

// Breakdown buckets the report by language or by top-level directory.
func Breakdown(report *checker.Report, by string) []Row {
	buckets := map[string]*Row{}
	for i := range report.Files {
		f := &report.Files[i]
		if f.Excluded {
			continue
		}
		key := bucketKey(f, by)
		row, ok := buckets[key]
		if !ok {
			row = &Row{Key: key}
			buckets[key] = row
		}
		row.Files++
		row.Stats.Add(f.Stats)
	}
	out := make([]Row, 0, len(buckets))
	for _, row := range buckets {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stats.Code != out[j].Stats.Code {
			return out[i].Stats.Code > out[j].Stats.Code
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func bucketKey(f *checker.FileResult, by string) string {
	switch by {
	case "dir", "directory":
		if idx := strings.IndexByte(f.Path, '/'); idx >= 0 {
			return f.Path[:idx]
		}
		return "."
	default:
		if f.Language == "" {
			return "(unknown)"
		}
		return f.Language
	}
}

// Render writes the stats report, honouring the configured excluded
// sections.
func Render(w io.Writer, report *checker.Report, cfg config.ReportConfig, hist *history.History, trendWindow time.Duration) error {
	skip := map[string]bool{}
	for _, section := range cfg.Exclude {
		skip[section] = true
	}
	bold := color.New(color.Bold).SprintFunc()

	if !skip["summary"] {
		t := report.Totals
		fmt.Fprintf(w, "%s %d files, %d lines (%d code, %d comment, %d blank, %d ignored)\n",
			bold("Total:"), len(report.Files), t.Total, t.Code, t.Comment, t.Blank, t.Ignored)
	}

	if !skip["breakdown"] {
		rows := Breakdown(report, cfg.BreakdownBy)
		if len(rows) > 0 {
			fmt.Fprintf(w, "\n%-20s %8s %10s %10s %10s\n", bold("Breakdown"), "files", "code", "comment", "blank")
			for _, row := range rows {
				fmt.Fprintf(w, "%-20s %8d %10d %10d %10d\n",
					row.Key, row.Files, row.Stats.Code, row.Stats.Comment, row.Stats.Blank)
			}
		}
	}

	if !skip["files"] {
		type big struct {
			path string
			code int
		}
		var largest []big
		for i := range report.Files {
			f := &report.Files[i]
			if !f.Excluded {
				largest = append(largest, big{f.Path, f.Stats.Code})
			}
		}
		sort.Slice(largest, func(i, j int) bool { return largest[i].code > largest[j].code })
		if len(largest) > 10 {
			largest = largest[:10]
		}
		if len(largest) > 0 {
			fmt.Fprintf(w, "\n%s\n", bold("Largest files:"))
			for _, f := range largest {
				fmt.Fprintf(w, "  %6d  %s\n", f.code, f.path)
			}
		}
	}

	if !skip["trend"] && hist != nil && trendWindow > 0 {
		if code, total, ok := hist.Delta(trendWindow, time.Now()); ok {
			fmt.Fprintf(w, "\n%s %+d code lines, %+d total over the last %s\n",
				bold("Trend:"), code, total, trendWindow)
		}
	}
	return nil
}
