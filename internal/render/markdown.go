package render

import (
	"fmt"
	"io"

	"github.com/doraemonkeys/sloc-guard/internal/checker"
)

// Markdown renders a report suitable for pasting into a pull request.
type Markdown struct{}

func (m *Markdown) Render(w io.Writer, report *checker.Report) error {
	passed, warned, failed, grandfathered := report.Counts()
	fmt.Fprintf(w, "## Line budget report\n\n")
	fmt.Fprintf(w, "%d passed, %d warnings, %d failed, %d grandfathered\n\n",
		passed, warned, failed, grandfathered)

	flagged := false
	for i := range report.Files {
		f := &report.Files[i]
		if f.Verdict == checker.Passed {
			continue
		}
		if !flagged {
			fmt.Fprintf(w, "| Status | File | Lines | Limit | Reason |\n")
			fmt.Fprintf(w, "|---|---|---|---|---|\n")
			flagged = true
		}
		fmt.Fprintf(w, "| %s | `%s` | %d | %d | %s |\n",
			f.Verdict, f.Path, f.Effective, f.Limit, f.Reason)
	}
	if flagged {
		fmt.Fprintln(w)
	}

	if len(report.Structure) > 0 {
		fmt.Fprintf(w, "### Structure\n\n")
		fmt.Fprintf(w, "| Path | Finding | Severity |\n")
		fmt.Fprintf(w, "|---|---|---|\n")
		for i := range report.Structure {
			v := &report.Structure[i]
			severity := string(v.Severity)
			if v.Grandfathered {
				severity = "grandfathered"
			}
			fmt.Fprintf(w, "| `%s` | %s | %s |\n", v.Path, describeViolation(v), severity)
		}
		fmt.Fprintln(w)
	}
	return nil
}
