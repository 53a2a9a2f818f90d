// Package suggest implements the Suggestion Engine (spec.md §4.F): the
// three-tier exact/semantic/contextual cascade, its multi-factor
// re-ranker, and the explain/feedback operations that close the loop with
// the Event Log's pattern statistics.
package suggest

import "github.com/cmdsense/suggestd/internal/safety"

// Source tags which cascade tier proposed a Candidate. A Candidate may be
// proposed by more than one tier; Sources records every tier that found it
// while Source (singular, on the wire) reports only the first, per
// spec.md §4.F's "tier ordering within the merged output is stable"
// dedup rule.
type Source string

const (
	SourceExact      Source = "tier1"
	SourceSemantic   Source = "tier2"
	SourceContextual Source = "tier3"
)

// Candidate is one suggested command returned to the client, per spec.md
// §6.1's `suggest` response shape.
type Candidate struct {
	Command     string
	CWD         string
	Fingerprint string
	EventID     int64

	Confidence float64
	Risk       float64
	Source     Source
	ExplainID  string
}

// mergedCandidate is the cascade's internal working representation before
// re-ranking: one per distinct fingerprint, retaining every tier that
// proposed it and the fields of the tier that proposed it first.
type mergedCandidate struct {
	fingerprint string
	command     string
	cwd         string
	eventID     int64

	firstSource    Source
	allSources     []Source
	baseConfidence float64

	risk        safety.Score
	finalScore  float64
	factors     map[string]float64
	explainID   string
}
