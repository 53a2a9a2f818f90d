package suggest

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cmdsense/suggestd/internal/ann"
	"github.com/cmdsense/suggestd/internal/cache"
	"github.com/cmdsense/suggestd/internal/embed"
	"github.com/cmdsense/suggestd/internal/fingerprint"
	"github.com/cmdsense/suggestd/internal/safety"
	"github.com/cmdsense/suggestd/internal/store"
)

// Store is the subset of *store.Store the cascade reads and writes.
// Declaring it as an interface lets tests substitute a fake without
// standing up a real SQLite file, and documents exactly what the engine
// depends on.
type Store interface {
	PrefixSearch(ctx context.Context, p, cwd string, limit int) ([]store.Event, error)
	ByID(ctx context.Context, id int64) (store.Event, error)
	Stats(ctx context.Context, fingerprint, cwd string) (store.PatternStats, error)
	TopSuccessors(ctx context.Context, kgram []string, limit int) ([]store.SequenceSuccessor, error)
	LatestByFingerprint(ctx context.Context, fingerprint string) (store.Event, error)
	RecordFeedback(ctx context.Context, suggestionID, fingerprint, cwd string, accepted bool) error
}

// Embedder is the subset of *embed.Model the semantic tier needs.
type Embedder interface {
	Encode(command string, ctx *embed.Context) embed.Vector
}

// ANNIndex is the subset of *ann.Index the semantic tier needs.
type ANNIndex interface {
	Query(vector []float32, k int) ([]ann.Match, error)
	IsBuilt() bool
}

// Config holds the cascade's tunable limits, per spec.md §4.F and §6.3.
type Config struct {
	Tier1Limit    int     // L1, default 32
	Tier2K        int     // L2, default 20
	Tier3Limit    int     // successor candidates considered, default 20
	MinConfidence float64 // default 0.3
	MaxResults    int     // suggest.max, default 5
	SafetyLevel   string  // "off" | "annotate" | "block"
	ExplainTTL    time.Duration
	ExplainCap    int
}

// DefaultConfig returns spec.md's stated defaults.
func DefaultConfig() Config {
	return Config{
		Tier1Limit:    32,
		Tier2K:        20,
		Tier3Limit:    20,
		MinConfidence: 0.3,
		MaxResults:    5,
		SafetyLevel:   "annotate",
		ExplainTTL:    15 * time.Minute,
		ExplainCap:    4096,
	}
}

// Preferences is the optional per-request tuning object spec.md §4.F
// describes: per-factor weight overrides, a short-command boost, and a
// hard blacklist/whitelist by fingerprint.
type Preferences struct {
	FactorWeights map[string]float64
	PreferShort   bool
	Blacklist     map[string]bool
	Whitelist     map[string]bool
}

// Request is the input to Suggest.
type Request struct {
	Partial     string
	CWD         string
	History     []string
	Limit       int
	Preferences *Preferences
}

// Response is Suggest's output: a ranked candidate list plus the names of
// any cascade tiers that degraded during this call (spec.md §4.F, §7).
type Response struct {
	Candidates []Candidate
	Degraded   []string
}

// Breakdown is the scoring explanation returned by Explain, per spec.md
// §6.1's `explain` response shape.
type Breakdown struct {
	Command     string
	Fingerprint string
	CWD         string
	Tiers       []Source
	Factors     map[string]float64
	FinalScore  float64
}

// Engine is the Suggestion Engine (spec.md §4.F): the cascade, the
// re-ranker, and the explain/feedback loop that closes over them.
//
// embedder and annIdx may be nil interface values (not typed-nil pointers
// wrapped in an interface) to represent an unavailable embedding model or
// ANN index; Suggest then degrades tier 2 rather than failing the
// request.
type Engine struct {
	store    Store
	embedder Embedder
	ann      ANNIndex
	cfg      Config

	explain  *cache.Cache[string, *Breakdown]
	affinity *affinityDetector
}

// New constructs an Engine. embedder and annIdx may be nil to start in a
// degraded-tier-2 state (spec.md §4.F's "missing embedding model"
// failure mode, exercised e.g. right after a fresh install or a deleted
// ANN index file).
func New(st Store, embedder Embedder, annIdx ANNIndex, cfg Config) *Engine {
	return &Engine{
		store:    st,
		embedder: embedder,
		ann:      annIdx,
		cfg:      cfg,
		explain:  cache.New[string, *Breakdown](cfg.ExplainCap, cfg.ExplainTTL),
		affinity: newAffinityDetector(),
	}
}

// Suggest runs the three-tier cascade and re-ranker over partial, per
// spec.md §4.F. Tier 1 failure is fatal (ErrBackend); tier 2 and 3
// failures degrade gracefully and are reported in Response.Degraded.
func (e *Engine) Suggest(ctx context.Context, req Request) (Response, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.MaxResults
	}

	order, merged, err := e.collectTier1(ctx, req)
	if err != nil {
		return Response{}, err
	}

	var degraded []string
	if !tier1Satisfies(order, merged, limit, e.cfg.MinConfidence) {
		degraded = append(degraded, e.collectTier2(ctx, req, &order, merged)...)
		tier3Degraded, tier3Order := e.collectTier3(ctx, req, merged)
		order = append(order, tier3Order...)
		degraded = append(degraded, tier3Degraded...)
	}

	candidates := e.rerank(ctx, order, merged, req, limit)
	return Response{Candidates: candidates, Degraded: degraded}, nil
}

func (e *Engine) collectTier1(ctx context.Context, req Request) ([]string, map[string]*mergedCandidate, error) {
	events, err := e.store.PrefixSearch(ctx, req.Partial, req.CWD, e.cfg.Tier1Limit)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: tier1 prefix search: %v", ErrBackend, err)
	}

	order := make([]string, 0, len(events))
	merged := make(map[string]*mergedCandidate, len(events))
	for _, ev := range events {
		if mc, ok := merged[ev.Fingerprint]; ok {
			mc.allSources = append(mc.allSources, SourceExact)
			continue
		}
		merged[ev.Fingerprint] = &mergedCandidate{
			fingerprint:    ev.Fingerprint,
			command:        ev.Command,
			cwd:            ev.CWD,
			eventID:        ev.ID,
			firstSource:    SourceExact,
			allSources:     []Source{SourceExact},
			baseConfidence: 1.0,
		}
		order = append(order, ev.Fingerprint)
	}
	return order, merged, nil
}

// tier1Satisfies reports whether tier 1 alone already provides limit
// candidates whose base confidence exceeds minConfidence, short-circuiting
// tiers 2 and 3 per spec.md §4.F.
func tier1Satisfies(order []string, merged map[string]*mergedCandidate, limit int, minConfidence float64) bool {
	count := 0
	for _, fp := range order {
		if merged[fp].baseConfidence > minConfidence {
			count++
		}
	}
	return count >= limit
}

// collectTier2 takes order by pointer, the same way addMerged already
// expects, so a fingerprint Tier 2 discovers that Tier 1 never saw is
// actually appended to the cascade's output order rather than only
// existing in merged — matching collectTier3's pattern below.
func (e *Engine) collectTier2(ctx context.Context, req Request, order *[]string, merged map[string]*mergedCandidate) []string {
	if e.embedder == nil || e.ann == nil || !e.ann.IsBuilt() {
		return []string{"semantic"}
	}

	vec := e.embedder.Encode(req.Partial, contextFor(req.CWD, req.History))
	matches, err := e.ann.Query(vec, e.cfg.Tier2K)
	if err != nil {
		return []string{"semantic"}
	}

	for _, m := range matches {
		ev, err := e.store.ByID(ctx, m.Metadata.CommandRef)
		if err != nil {
			continue
		}
		conf := 1 - m.Distance
		if conf < 0 {
			conf = 0
		}
		addMerged(merged, order, m.Metadata.Fingerprint, ev.Command, ev.CWD, ev.ID, SourceSemantic, conf)
	}
	return nil
}

func (e *Engine) collectTier3(ctx context.Context, req Request, merged map[string]*mergedCandidate) ([]string, []string) {
	kgram := lastFingerprints(req.History, 3)
	if len(kgram) == 0 {
		return nil, nil
	}

	successors, err := e.store.TopSuccessors(ctx, kgram, e.cfg.Tier3Limit)
	if err != nil {
		return []string{"contextual"}, nil
	}

	var order []string
	for _, succ := range successors {
		ev, err := e.store.LatestByFingerprint(ctx, succ.Fingerprint)
		if err != nil {
			continue
		}
		conf := succ.RelativeFrequency
		if conf > 0.9 {
			conf = 0.9
		}
		addMerged(merged, &order, succ.Fingerprint, ev.Command, ev.CWD, ev.ID, SourceContextual, conf)
	}
	return nil, order
}

// addMerged inserts fp into merged (appending its fingerprint to *order)
// if not already present, or records source as an additional contributing
// tier if it is — preserving the first-seen tier's confidence and command
// per spec.md §4.F's stable-dedup rule.
func addMerged(merged map[string]*mergedCandidate, order *[]string, fp, command, cwd string, eventID int64, source Source, baseConfidence float64) {
	if fp == "" {
		return
	}
	if mc, ok := merged[fp]; ok {
		mc.allSources = append(mc.allSources, source)
		return
	}
	merged[fp] = &mergedCandidate{
		fingerprint:    fp,
		command:        command,
		cwd:            cwd,
		eventID:        eventID,
		firstSource:    source,
		allSources:     []Source{source},
		baseConfidence: baseConfidence,
	}
	*order = append(*order, fp)
}

// contextFor builds the embedding context spec.md §4.D describes: the
// cwd's leaf directory name plus up to 5 recent commands.
func contextFor(cwd string, history []string) *embed.Context {
	recent := history
	const maxK = 5
	if len(recent) > maxK {
		recent = recent[len(recent)-maxK:]
	}
	return &embed.Context{CWDLeaf: filepath.Base(cwd), RecentCommands: recent}
}

// lastFingerprints fingerprints up to the last n history commands, most
// recent last, for the contextual tier's k-gram lookup.
func lastFingerprints(history []string, n int) []string {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]string, 0, len(history))
	for _, cmd := range history {
		out = append(out, fingerprint.Of(cmd).Hash)
	}
	return out
}

func (e *Engine) rerank(ctx context.Context, order []string, merged map[string]*mergedCandidate, req Request, limit int) []Candidate {
	now := time.Now()
	prefs := req.Preferences

	statsByFP := make(map[string]store.PatternStats, len(order))
	var maxExecSeen int64 = 1
	for _, fp := range order {
		mc := merged[fp]
		st, err := e.store.Stats(ctx, fp, mc.cwd)
		if err != nil {
			st = store.PatternStats{}
		}
		statsByFP[fp] = st
		if st.ExecCount > maxExecSeen {
			maxExecSeen = st.ExecCount
		}
	}

	computeSafety := e.cfg.SafetyLevel != "off"

	scored := make([]*mergedCandidate, 0, len(order))
	for _, fp := range order {
		mc := merged[fp]
		if prefs != nil && prefs.Blacklist[fp] {
			continue
		}

		factors := computeFactors(statsByFP[fp], req.CWD, mc.cwd, maxExecSeen, now)
		applyPreferenceWeights(factors, prefs)

		score := mc.baseConfidence
		for _, name := range factorOrder {
			score *= factors[name]
		}
		if affinity := e.affinity.score(req.CWD, mc.command); affinity != 1.0 {
			factors["affinity"] = affinity
			score *= affinity
		}
		if prefs != nil {
			if prefs.PreferShort {
				score *= 1 / (1 + float64(len(mc.command))/20)
			}
			if prefs.Whitelist[fp] {
				score *= 1.5
			}
		}

		mc.finalScore = score
		mc.factors = factors
		if computeSafety {
			mc.risk = safety.Analyze(mc.command)
		}
		scored = append(scored, mc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].finalScore != scored[j].finalScore {
			return scored[i].finalScore > scored[j].finalScore
		}
		return scored[i].eventID > scored[j].eventID
	})

	out := make([]Candidate, 0, limit)
	for _, mc := range scored {
		if mc.finalScore < e.cfg.MinConfidence {
			continue
		}
		if len(out) >= limit {
			break
		}

		explainID := uuid.NewString()
		mc.explainID = explainID
		e.explain.Put(explainID, &Breakdown{
			Command:     mc.command,
			Fingerprint: mc.fingerprint,
			CWD:         mc.cwd,
			Tiers:       append([]Source(nil), mc.allSources...),
			Factors:     mc.factors,
			FinalScore:  mc.finalScore,
		})

		out = append(out, Candidate{
			Command:     mc.command,
			CWD:         mc.cwd,
			Fingerprint: mc.fingerprint,
			EventID:     mc.eventID,
			Confidence:  mc.finalScore,
			Risk:        mc.risk.Overall,
			Source:      mc.firstSource,
			ExplainID:   explainID,
		})
	}
	return out
}

// Explain returns the scoring breakdown recorded when explainID was last
// emitted by Suggest, per spec.md §6.1's `explain` operation.
func (e *Engine) Explain(explainID string) (Breakdown, error) {
	b, ok := e.explain.Get(explainID)
	if !ok {
		return Breakdown{}, ErrNotFound
	}
	return *b, nil
}

// RecordFeedback updates the candidate's pattern statistics
// (accept_count/reject_count) and attaches a feedback record, per
// spec.md §4.F. It never rewrites the score that was already returned.
func (e *Engine) RecordFeedback(ctx context.Context, explainID string, accepted bool) error {
	b, ok := e.explain.Get(explainID)
	if !ok {
		return ErrNotFound
	}
	return e.store.RecordFeedback(ctx, explainID, b.Fingerprint, b.CWD, accepted)
}
