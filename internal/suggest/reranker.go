package suggest

import (
	"math"
	"time"

	"github.com/cmdsense/suggestd/internal/store"
)

// factorOrder fixes the multiplication order of the re-ranker's factors
// (spec.md §4.F's table); only the final product matters numerically, but
// a fixed order keeps Breakdown.Factors output deterministic to iterate.
var factorOrder = []string{"recency", "directory", "success", "frequency", "acceptance"}

const recencyLambda = 0.1

// computeFactors evaluates every re-ranker factor for one candidate's
// pattern statistics, per spec.md §4.F's table, each already clamped into
// its stated range.
func computeFactors(st store.PatternStats, requestCWD, candidateCWD string, maxExecSeen int64, now time.Time) map[string]float64 {
	return map[string]float64{
		"recency":    recencyFactor(st.LastTS, now),
		"directory":  directoryFactor(requestCWD, candidateCWD),
		"success":    successFactor(st.SuccessCount, st.ExecCount),
		"frequency":  frequencyFactor(st.ExecCount, maxExecSeen),
		"acceptance": acceptanceFactor(st.AcceptCount, st.RejectCount),
	}
}

// recencyFactor is exp(-lambda * days_since_last_use), clamped into (0,1].
func recencyFactor(lastTS, now time.Time) float64 {
	if lastTS.IsZero() {
		return 1.0
	}
	days := now.Sub(lastTS).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-recencyLambda * days)
}

// directoryFactor rewards an exact cwd match over an ancestor relationship
// over an unrelated directory, per spec.md §4.F.
func directoryFactor(requestCWD, candidateCWD string) float64 {
	if requestCWD == candidateCWD {
		return 2.0
	}
	if isAncestor(requestCWD, candidateCWD) || isAncestor(candidateCWD, requestCWD) {
		return 1.5
	}
	return 1.0
}

func isAncestor(ancestor, path string) bool {
	if ancestor == "" || path == "" {
		return false
	}
	return len(path) > len(ancestor) && path[:len(ancestor)] == ancestor && path[len(ancestor)] == '/'
}

// successFactor is success_rate^2, in [0,1]; an unseen fingerprint (no
// exec history) contributes a neutral 1.0 rather than penalizing a
// candidate this engine has simply never recorded statistics for.
func successFactor(successCount, execCount int64) float64 {
	if execCount <= 0 {
		return 1.0
	}
	rate := float64(successCount) / float64(execCount)
	return rate * rate
}

// frequencyFactor is log(exec_count+1)/log(1+max_exec_count_seen), in
// [0,1].
func frequencyFactor(execCount, maxExecSeen int64) float64 {
	if maxExecSeen <= 0 {
		return 0
	}
	denom := math.Log(1 + float64(maxExecSeen))
	if denom == 0 {
		return 0
	}
	return math.Log(float64(execCount)+1) / denom
}

// acceptanceFactor is 1.5 when accept rate exceeds 0.7, 0.5 when it falls
// below 0.5 with at least 5 feedback events, else a neutral 1.0.
func acceptanceFactor(acceptCount, rejectCount int64) float64 {
	total := acceptCount + rejectCount
	if total == 0 {
		return 1.0
	}
	rate := float64(acceptCount) / float64(total)
	switch {
	case rate > 0.7:
		return 1.5
	case rate < 0.5 && total >= 5:
		return 0.5
	default:
		return 1.0
	}
}

// applyPreferenceWeights multiplies each named factor by the caller's
// per-factor weight override (default 1.0 for any factor not named).
func applyPreferenceWeights(factors map[string]float64, prefs *Preferences) {
	if prefs == nil || len(prefs.FactorWeights) == 0 {
		return
	}
	for name, weight := range prefs.FactorWeights {
		if v, ok := factors[name]; ok {
			factors[name] = v * weight
		}
	}
}
