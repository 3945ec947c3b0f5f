package render

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/doraemonkeys/sloc-guard/internal/checker"
	"github.com/doraemonkeys/sloc-guard/internal/rules"
)

// SARIF emits SARIF 2.1.0 for code-scanning integrations. Only warnings and
// failures become results; passing files are omitted.
type SARIF struct{}

type sarifLog struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	InformationURI string      `json:"informationUri"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type sarifResult struct {
	RuleID    string          `json:"ruleId"`
	Level     string          `json:"level"`
	Message   sarifMessage    `json:"message"`
	Locations []sarifLocation `json:"locations"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysical `json:"physicalLocation"`
}

type sarifPhysical struct {
	ArtifactLocation sarifArtifact `json:"artifactLocation"`
}

type sarifArtifact struct {
	URI string `json:"uri"`
}

const (
	ruleFileBudget = "file-line-budget"
	ruleStructure  = "directory-structure"
)

func (s *SARIF) Render(w io.Writer, report *checker.Report) error {
	run := sarifRun{
		Tool: sarifTool{Driver: sarifDriver{
			Name:           "sloc-guard",
			InformationURI: "https://github.com/doraemonkeys/sloc-guard",
			Rules: []sarifRule{
				{ID: ruleFileBudget, Name: "FileLineBudget"},
				{ID: ruleStructure, Name: "DirectoryStructure"},
			},
		}},
		Results: []sarifResult{},
	}

	for i := range report.Files {
		f := &report.Files[i]
		level := ""
		switch f.Verdict {
		case checker.Failed:
			level = "error"
		case checker.Warning:
			level = "warning"
		default:
			continue
		}
		run.Results = append(run.Results, sarifResult{
			RuleID: ruleFileBudget,
			Level:  level,
			Message: sarifMessage{Text: fmt.Sprintf(
				"%d effective lines against a limit of %d", f.Effective, f.Limit)},
			Locations: locationsFor(f.Path),
		})
	}

	for i := range report.Structure {
		v := &report.Structure[i]
		if v.Grandfathered {
			continue
		}
		level := "error"
		if v.Severity == rules.StatusWarning {
			level = "warning"
		}
		run.Results = append(run.Results, sarifResult{
			RuleID:    ruleStructure,
			Level:     level,
			Message:   sarifMessage{Text: describeViolation(v)},
			Locations: locationsFor(v.Path),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sarifLog{
		Version: "2.1.0",
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Runs:    []sarifRun{run},
	})
}

func locationsFor(path string) []sarifLocation {
	return []sarifLocation{{PhysicalLocation: sarifPhysical{ArtifactLocation: sarifArtifact{URI: path}}}}
}
