// Package errs defines the closed set of error kinds the guard can surface,
// each carrying a short type tag, a single-line message, optional detail and
// a one-line actionable suggestion. Configuration and I/O errors exit with
// code 2; policy failures are verdicts, not errors.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the closed enumeration of error categories.
type Kind string

const (
	KindConfig             Kind = "config"
	KindSyntax             Kind = "syntax"
	KindTypeMismatch       Kind = "type-mismatch"
	KindSemantic           Kind = "semantic"
	KindCircularExtends    Kind = "circular-extends"
	KindExtendsTooDeep     Kind = "extends-too-deep"
	KindExtendsResolution  Kind = "extends-resolution"
	KindInvalidPattern     Kind = "invalid-pattern"
	KindFileAccess         Kind = "file-access"
	KindIo                 Kind = "io"
	KindRemoteConfigHash   Kind = "remote-config-hash-mismatch"
	KindGit                Kind = "git"
	KindGitRepoNotFound    Kind = "git-repo-not-found"
)

// Error is the guard's error type. Wrapped causes stay reachable via Unwrap.
type Error struct {
	Kind       Kind
	Message    string
	Detail     string
	Suggestion string
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new Error of the given kind.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetail returns the error with its detail line set.
func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithSuggestion returns the error with its actionable suggestion set.
func (e *Error) WithSuggestion(format string, args ...any) *Error {
	e.Suggestion = fmt.Sprintf(format, args...)
	return e
}

// KindOf extracts the Kind from any error, or empty when it is not an Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Exit codes for the CLI surface.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitUsage   = 2
)

// ExitCode maps an error to the process exit code. Any error reaching the top
// level is a configuration or I/O problem.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return ExitUsage
}
