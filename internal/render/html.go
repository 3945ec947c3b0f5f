package render

import (
	"html/template"
	"io"

	"github.com/doraemonkeys/sloc-guard/internal/checker"
)

// HTML renders a standalone report page.
type HTML struct{}

var htmlTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Line budget report</title>
<style>
body { font-family: sans-serif; margin: 2rem; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; text-align: left; }
.passed { color: #2a7a2a; }
.warning { color: #b58900; }
.failed { color: #c0392b; font-weight: bold; }
.grandfathered { color: #888; }
</style>
</head>
<body>
<h1>Line budget report</h1>
<p>{{.Summary}}</p>
{{if .Files}}
<table>
<tr><th>Status</th><th>File</th><th>Lines</th><th>Limit</th><th>Reason</th></tr>
{{range .Files}}
<tr><td class="{{.Verdict}}">{{.Verdict}}</td><td>{{.Path}}</td><td>{{.Effective}}</td><td>{{.Limit}}</td><td>{{.Reason}}</td></tr>
{{end}}
</table>
{{end}}
{{if .Structure}}
<h2>Structure</h2>
<table>
<tr><th>Path</th><th>Finding</th><th>Severity</th></tr>
{{range .Structure}}
<tr><td>{{.Path}}</td><td>{{.Finding}}</td><td class="{{.Severity}}">{{.Severity}}</td></tr>
{{end}}
</table>
{{end}}
</body>
</html>
`))

type htmlPage struct {
	Summary   string
	Files     []checker.FileResult
	Structure []htmlStructureRow
}

type htmlStructureRow struct {
	Path     string
	Finding  string
	Severity string
}

func (h *HTML) Render(w io.Writer, report *checker.Report) error {
	page := htmlPage{Summary: report.Summary()}
	for i := range report.Files {
		if report.Files[i].Verdict != checker.Passed {
			page.Files = append(page.Files, report.Files[i])
		}
	}
	for i := range report.Structure {
		v := &report.Structure[i]
		severity := string(v.Severity)
		if v.Grandfathered {
			severity = "grandfathered"
		}
		page.Structure = append(page.Structure, htmlStructureRow{
			Path:     v.Path,
			Finding:  describeViolation(v),
			Severity: severity,
		})
	}
	return htmlTemplate.Execute(w, page)
}
