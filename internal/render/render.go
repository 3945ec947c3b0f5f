// Package render turns a check report into one of the supported output
// formats.
package render

import (
	"io"
	"strings"

	"github.com/doraemonkeys/sloc-guard/internal/checker"
	"github.com/doraemonkeys/sloc-guard/internal/errs"
)

// Renderer writes one report representation.
type Renderer interface {
	Render(w io.Writer, report *checker.Report) error
}

// Formats lists the accepted --format values.
var Formats = []string{"text", "json", "markdown", "sarif", "html"}

// For returns the renderer for a format name.
func For(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return &Text{}, nil
	case "json":
		return &JSON{}, nil
	case "markdown", "md":
		return &Markdown{}, nil
	case "sarif":
		return &SARIF{}, nil
	case "html":
		return &HTML{}, nil
	default:
		return nil, errs.Newf(errs.KindConfig, "unknown output format %q", format).
			WithSuggestion("%s", "use one of: "+strings.Join(Formats, ", "))
	}
}
