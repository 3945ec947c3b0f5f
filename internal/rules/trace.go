// Package rules resolves effective budgets for files and directories from a
// layered rule set. Resolution is a pure function of the path and the loaded
// config; the explain trace is a by-product of the same walk, so what explain
// prints is exactly what the check used.
package rules

// MatchStatus annotates one candidate in an explain trace.
type MatchStatus string

const (
	// Matched marks the candidate that supplied the effective limits.
	Matched MatchStatus = "matched"
	// Superseded marks a candidate that matched but lost to a later one.
	Superseded MatchStatus = "superseded"
	// NoMatch marks a candidate whose pattern did not match the path.
	NoMatch MatchStatus = "no-match"
)

// Candidate is one rule source considered during resolution.
type Candidate struct {
	Source  string      `json:"source"`
	Pattern string      `json:"pattern,omitempty"`
	Status  MatchStatus `json:"status"`
	Reason  string      `json:"reason,omitempty"`
}

// WarnOrigin records where a winning warn band came from.
type WarnOrigin struct {
	FromRule bool `json:"from_rule"`
	Absolute bool `json:"absolute"`
}
