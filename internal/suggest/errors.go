package suggest

import "errors"

// ErrBackend is returned when Tier 1 (the Event Log) fails outright — the
// one failure mode spec.md §4.F does not degrade around, since every
// other tier builds on its results.
var ErrBackend = errors.New("suggest: backend error")

// ErrNotFound is returned by Explain and RecordFeedback when explainID is
// unknown or has expired from the explain cache.
var ErrNotFound = errors.New("suggest: explain id not found")
