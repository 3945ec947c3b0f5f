package render

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doraemonkeys/sloc-guard/internal/checker"
	"github.com/doraemonkeys/sloc-guard/internal/classify"
	"github.com/doraemonkeys/sloc-guard/internal/errs"
	"github.com/doraemonkeys/sloc-guard/internal/rules"
)

func sampleReport() *checker.Report {
	return &checker.Report{
		Files: []checker.FileResult{
			{Path: "src/ok.go", Verdict: checker.Passed, Effective: 40, Limit: 100, WarnAt: 80,
				Stats: classify.LineStats{Total: 50, Code: 40, Comment: 8, Blank: 2}, Language: "Go"},
			{Path: "src/warn.go", Verdict: checker.Warning, Effective: 90, Limit: 100, WarnAt: 80,
				Stats: classify.LineStats{Total: 95, Code: 90, Blank: 5}, Language: "Go"},
			{Path: "src/huge.go", Verdict: checker.Failed, Effective: 150, Limit: 100, WarnAt: 80,
				Stats: classify.LineStats{Total: 160, Code: 150, Blank: 10}, Language: "Go"},
			{Path: "src/old.go", Verdict: checker.Grandfathered, Effective: 130, Limit: 100, WarnAt: 80,
				Stats: classify.LineStats{Total: 130, Code: 130}, Language: "Go"},
		},
		Structure: []checker.StructureResult{
			{StructureViolation: rules.StructureViolation{
				Path: "src/flat", Kind: rules.FileCount, Actual: 40, Limit: 30,
				Severity: rules.StatusFailed,
			}},
		},
		Totals: classify.LineStats{Total: 435, Code: 410, Comment: 8, Blank: 17},
	}
}

func TestForKnownFormats(t *testing.T) {
	for _, format := range Formats {
		r, err := For(format)
		require.NoError(t, err, format)
		assert.NotNil(t, r, format)
	}
	r, err := For("")
	require.NoError(t, err)
	assert.IsType(t, &Text{}, r)
}

func TestForUnknownFormat(t *testing.T) {
	_, err := For("yaml")
	require.Error(t, err)
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))
}

func TestTextRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&Text{}).Render(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "src/huge.go")
	assert.Contains(t, out, "src/warn.go")
	assert.Contains(t, out, "src/flat")
	// Passing files only show up in verbose mode.
	assert.NotContains(t, out, "src/ok.go")

	var verbose bytes.Buffer
	require.NoError(t, (&Text{Verbose: true}).Render(&verbose, sampleReport()))
	assert.Contains(t, verbose.String(), "src/ok.go")
}

func TestJSONRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSON{}).Render(&buf, sampleReport()))

	var doc struct {
		Files   []map[string]any `json:"files"`
		Summary struct {
			Passed        int `json:"passed"`
			Warnings      int `json:"warnings"`
			Failed        int `json:"failed"`
			Grandfathered int `json:"grandfathered"`
			Structure     int `json:"structure_findings"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc.Files, 4)
	assert.Equal(t, 1, doc.Summary.Passed)
	assert.Equal(t, 1, doc.Summary.Warnings)
	assert.Equal(t, 1, doc.Summary.Failed)
	assert.Equal(t, 1, doc.Summary.Grandfathered)
	assert.Equal(t, 1, doc.Summary.Structure)
}

func TestMarkdownRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&Markdown{}).Render(&buf, sampleReport()))
	out := buf.String()
	assert.Contains(t, out, "|")
	assert.Contains(t, out, "src/huge.go")
}

func TestSARIFRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&SARIF{}).Render(&buf, sampleReport()))

	var log struct {
		Version string `json:"version"`
		Runs    []struct {
			Results []struct {
				RuleID string `json:"ruleId"`
				Level  string `json:"level"`
			} `json:"results"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &log))
	assert.Equal(t, "2.1.0", log.Version)
	require.Len(t, log.Runs, 1)

	// One warning, one failure, one structure failure; passing and
	// grandfathered results are omitted.
	require.Len(t, log.Runs[0].Results, 3)
	levels := map[string]int{}
	for _, r := range log.Runs[0].Results {
		levels[r.Level]++
	}
	assert.Equal(t, 2, levels["error"])
	assert.Equal(t, 1, levels["warning"])
}

func TestHTMLRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&HTML{}).Render(&buf, sampleReport()))
	out := buf.String()
	assert.Contains(t, out, "<html")
	assert.Contains(t, out, "src/huge.go")
}
