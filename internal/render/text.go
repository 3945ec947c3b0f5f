package render

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/doraemonkeys/sloc-guard/internal/checker"
	"github.com/doraemonkeys/sloc-guard/internal/rules"
)

// Text is the default human-readable renderer. Colour policy is set
// process-wide via color.NoColor before rendering.
type Text struct {
	// Verbose also lists passing files.
	Verbose bool
}

var (
	passMark  = color.New(color.FgGreen).SprintFunc()
	warnMark  = color.New(color.FgYellow).SprintFunc()
	failMark  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimMark   = color.New(color.Faint).SprintFunc()
	boldLabel = color.New(color.Bold).SprintFunc()
)

func (t *Text) Render(w io.Writer, report *checker.Report) error {
	for i := range report.Files {
		f := &report.Files[i]
		switch f.Verdict {
		case checker.Failed:
			fmt.Fprintf(w, "%s %s: %d lines (limit %d)%s\n",
				failMark("FAIL"), f.Path, f.Effective, f.Limit, reasonSuffix(f.Reason))
			if s := f.Suggestion(); s != "" {
				fmt.Fprintf(w, "     %s\n", dimMark(s))
			}
		case checker.Warning:
			fmt.Fprintf(w, "%s %s: %d lines (limit %d, warn at %d)%s\n",
				warnMark("WARN"), f.Path, f.Effective, f.Limit, f.WarnAt, reasonSuffix(f.Reason))
			if s := f.Suggestion(); s != "" {
				fmt.Fprintf(w, "     %s\n", dimMark(s))
			}
		case checker.Grandfathered:
			fmt.Fprintf(w, "%s %s: %d lines (limit %d, baselined)\n",
				dimMark("SKIP"), f.Path, f.Effective, f.Limit)
		case checker.Passed:
			if t.Verbose {
				fmt.Fprintf(w, "%s %s: %d lines\n", passMark("OK  "), f.Path, f.Effective)
			}
		}
	}

	for i := range report.Structure {
		v := &report.Structure[i]
		mark := failMark("FAIL")
		if v.Grandfathered {
			mark = dimMark("SKIP")
		} else if v.Severity == rules.StatusWarning {
			mark = warnMark("WARN")
		}
		fmt.Fprintf(w, "%s %s: %s%s%s\n", mark, v.Path, describeViolation(v), limitSuffix(v), reasonSuffix(v.Reason))
	}

	for _, r := range report.ExpiredRules {
		fmt.Fprintf(w, "%s rule %q expired %s%s\n", warnMark("NOTE"), r.Pattern, r.Expires, reasonSuffix(r.Reason))
	}

	fmt.Fprintf(w, "\n%s %s\n", boldLabel("Result:"), report.Summary())
	return nil
}

func describeViolation(v *checker.StructureResult) string {
	switch v.Kind {
	case rules.FileCount:
		return fmt.Sprintf("%d files", v.Actual)
	case rules.DirCount:
		return fmt.Sprintf("%d subdirectories", v.Actual)
	case rules.MaxDepth:
		return fmt.Sprintf("depth %d", v.Actual)
	case rules.MissingSibling, rules.GroupIncomplete:
		return v.Detail
	case rules.DisallowedFile:
		return "file not allowed here"
	case rules.DisallowedDir:
		return "directory not allowed here"
	case rules.NamingPattern:
		return v.Detail
	}
	return string(v.Kind)
}

func limitSuffix(v *checker.StructureResult) string {
	switch v.Kind {
	case rules.FileCount, rules.DirCount, rules.MaxDepth:
		return fmt.Sprintf(" (limit %d)", v.Limit)
	}
	return ""
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return dimMark(" [" + reason + "]")
}
