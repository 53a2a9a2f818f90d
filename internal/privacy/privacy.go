// Package privacy implements the privacy filter (spec.md §4.G): it
// classifies each event proposed for logging as accept, redact, or drop,
// evaluated against user-configurable excluded paths and patterns.
package privacy

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Disposition is the filter's verdict for a proposed event.
type Disposition int

const (
	// Accept stores the event verbatim.
	Accept Disposition = iota
	// Redact stores a fingerprint only, stripping command text.
	Redact
	// Drop does not store the event at all.
	Drop
)

func (d Disposition) String() string {
	switch d {
	case Accept:
		return "accept"
	case Redact:
		return "redact"
	case Drop:
		return "drop"
	default:
		return "unknown"
	}
}

// maxPatternLen and maxRepetitionOps bound worst-case regex matching time,
// per spec.md §4.G.
const (
	maxPatternLen    = 1000
	maxRepetitionOps = 10
)

// PatternRule pairs a compiled regex with the disposition to apply when it
// matches the command text.
type PatternRule struct {
	Name    string
	Regex   *regexp.Regexp
	OnMatch Disposition // Redact or Drop
}

// Filter holds the compiled exclusion configuration.
type Filter struct {
	excludedPaths []string
	patterns      []PatternRule
}

// New compiles a Filter from raw excluded path prefixes and pattern
// specifications. A pattern longer than 1,000 characters or containing
// more than 10 unbounded repetition operators is rejected, per spec.md
// §4.G, and skipped with its error recorded in the returned slice rather
// than failing the whole filter.
func New(excludedPaths []string, patterns []PatternSpec) (*Filter, []error) {
	f := &Filter{excludedPaths: normalizePaths(excludedPaths)}
	var errs []error
	for _, spec := range patterns {
		rule, err := compilePattern(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		f.patterns = append(f.patterns, rule)
	}
	return f, errs
}

// PatternSpec is the raw, user-supplied form of an excluded pattern.
type PatternSpec struct {
	Pattern string
	// Action is "redact" (default) or "drop".
	Action string
}

func compilePattern(spec PatternSpec) (PatternRule, error) {
	if len(spec.Pattern) > maxPatternLen {
		return PatternRule{}, fmt.Errorf("privacy pattern exceeds %d characters", maxPatternLen)
	}
	if countUnboundedRepetitions(spec.Pattern) > maxRepetitionOps {
		return PatternRule{}, fmt.Errorf("privacy pattern has more than %d unbounded repetition operators", maxRepetitionOps)
	}
	re, err := regexp.Compile(spec.Pattern)
	if err != nil {
		return PatternRule{}, fmt.Errorf("compile privacy pattern %q: %w", spec.Pattern, err)
	}
	disposition := Redact
	if spec.Action == "drop" {
		disposition = Drop
	}
	return PatternRule{Name: spec.Pattern, Regex: re, OnMatch: disposition}, nil
}

// countUnboundedRepetitions counts occurrences of *, +, or {n,} outside
// character classes — a crude but cheap worst-case-time guard.
func countUnboundedRepetitions(pattern string) int {
	count := 0
	inClass := false
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '*', '+':
			if !inClass {
				count++
			}
		case '{':
			if !inClass && strings.Contains(pattern[i:], ",}") {
				count++
			}
		}
	}
	return count
}

func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, filepath.Clean(p))
	}
	return out
}

// Classify evaluates the rules in order, per spec.md §4.G:
//  1. cwd beneath an excluded path prefix -> Drop.
//  2. command matches an excluded pattern -> its configured disposition.
//  3. otherwise -> Accept.
func (f *Filter) Classify(command, cwd string) (Disposition, string) {
	cleanCwd := filepath.Clean(cwd)
	for _, prefix := range f.excludedPaths {
		if cleanCwd == prefix || strings.HasPrefix(cleanCwd, prefix+string(filepath.Separator)) {
			return Drop, "excluded_path"
		}
	}
	for _, rule := range f.patterns {
		if rule.Regex.MatchString(command) {
			return rule.OnMatch, rule.Name
		}
	}
	return Accept, ""
}
