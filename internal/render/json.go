package render

import (
	"encoding/json"
	"io"

	"github.com/doraemonkeys/sloc-guard/internal/checker"
)

// JSON emits the full report as a stable machine-readable document.
type JSON struct{}

type jsonEnvelope struct {
	*checker.Report
	Summary jsonSummary `json:"summary"`
}

type jsonSummary struct {
	Passed        int `json:"passed"`
	Warnings      int `json:"warnings"`
	Failed        int `json:"failed"`
	Grandfathered int `json:"grandfathered"`
	Structure     int `json:"structure_findings"`
}

func (j *JSON) Render(w io.Writer, report *checker.Report) error {
	passed, warned, failed, grandfathered := report.Counts()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonEnvelope{
		Report: report,
		Summary: jsonSummary{
			Passed:        passed,
			Warnings:      warned,
			Failed:        failed,
			Grandfathered: grandfathered,
			Structure:     len(report.Structure),
		},
	})
}
