// Package embed implements the Embedding Model (spec.md §4.D): an
// unsupervised subword-skipgram model that encodes a command, optionally
// blended with its usage context, into a fixed-dimension vector for the
// ANN index. The corpus of every library in the pack has no local
// subword-embedding trainer — SPEC_FULL.md documents this as the one
// concern hand-rolled against the standard library rather than an
// ecosystem dependency.
package embed

import (
	"errors"
	"hash/fnv"
	"math"

	"github.com/cmdsense/suggestd/internal/tokenize"
)

// Failure modes (spec.md §4.D).
var (
	ErrCorpusTooSmall     = errors.New("embed: corpus smaller than minimum training size")
	ErrTrainerUnavailable = errors.New("embed: trainer unavailable")
	ErrIOError            = errors.New("embed: i/o error")
)

// Config holds the model's fixed hyperparameters.
type Config struct {
	Dim            int
	NgramMin       int
	NgramMax       int
	MinTokenCount  int
	Epochs         int
	PhraseN        int
	Buckets        int
	CorpusMinLines int
	ContextMaxK    int
	CommandWeight  float64
	ContextWeight  float64
}

// DefaultConfig returns the hyperparameters fixed by spec.md §4.D.
func DefaultConfig() Config {
	return Config{
		Dim:            128,
		NgramMin:       3,
		NgramMax:       6,
		MinTokenCount:  2,
		Epochs:         5,
		PhraseN:        3,
		Buckets:        1 << 18,
		CorpusMinLines: 50,
		ContextMaxK:    5,
		CommandWeight:  0.7,
		ContextWeight:  0.3,
	}
}

// Vector is a dense embedding of Config.Dim float32s.
type Vector []float32

// Context is the optional encode-time context: the leaf name of the
// working directory and up to ContextMaxK previous commands.
type Context struct {
	CWDLeaf        string
	RecentCommands []string
}

// Model is an immutable, trained (or freshly initialized) embedding
// table. It is safe for concurrent Encode calls; a new Model entirely
// replaces the old one on retrain (spec.md §4.D's atomic-swap contract).
type Model struct {
	cfg     Config
	vectors []float32 // Buckets*Dim, row-major
}

// NewUntrained returns a deterministically, near-zero initialized Model,
// usable before any training data is available — every bucket yields a
// small but non-zero vector so encode() never degenerates to all-zero
// output for an empty vocabulary.
func NewUntrained(cfg Config) *Model {
	vectors := make([]float32, cfg.Buckets*cfg.Dim)
	rng := newSplitMix64(0x5eed)
	for i := range vectors {
		vectors[i] = (float32(rng.next()%2000)/2000 - 0.5) * 0.01
	}
	return &Model{cfg: cfg, vectors: vectors}
}

// Dim returns the model's output dimension.
func (m *Model) Dim() int { return m.cfg.Dim }

// Encode tokenizes command, mean-pools its subword and phrase vectors,
// optionally blends in ctx at weight 0.3 against 0.7 for the command
// itself, and returns a unit-length vector (the zero vector if command
// and ctx are both empty).
func (m *Model) Encode(command string, ctx *Context) Vector {
	cmdVec := m.sentenceVector(command)

	if ctx == nil || (ctx.CWDLeaf == "" && len(ctx.RecentCommands) == 0) {
		return normalize(cmdVec)
	}

	ctxVec := m.contextVector(*ctx)
	blended := make(Vector, m.cfg.Dim)
	for i := range blended {
		blended[i] = float32(m.cfg.CommandWeight)*cmdVec[i] + float32(m.cfg.ContextWeight)*ctxVec[i]
	}
	return normalize(blended)
}

func (m *Model) contextVector(ctx Context) Vector {
	k := ctx.ContextMaxK()
	parts := make([]string, 0, k+1)
	if ctx.CWDLeaf != "" {
		parts = append(parts, ctx.CWDLeaf)
	}
	recent := ctx.RecentCommands
	if len(recent) > k {
		recent = recent[len(recent)-k:]
	}
	parts = append(parts, recent...)

	sum := make(Vector, m.cfg.Dim)
	n := 0
	for _, p := range parts {
		v := m.sentenceVector(p)
		for i := range sum {
			sum[i] += v[i]
		}
		n++
	}
	if n > 0 {
		for i := range sum {
			sum[i] /= float32(n)
		}
	}
	return sum
}

// ContextMaxK bounds the configured context window; a Context carries no
// Config reference so it falls back to the spec's absolute cap of 5.
func (c Context) ContextMaxK() int {
	return 5
}

func (m *Model) sentenceVector(command string) Vector {
	toks := tokenize.Tokenize(command)
	words := filterWords(toks.Words)

	sum := make(Vector, m.cfg.Dim)
	n := 0
	for _, w := range words {
		wv := m.wordVector(w)
		for i := range sum {
			sum[i] += wv[i]
		}
		n++
	}
	for _, phrase := range phraseNgrams(words, m.cfg.PhraseN) {
		wv := m.wordVector(phrase)
		for i := range sum {
			sum[i] += wv[i]
		}
		n++
	}
	if n > 0 {
		for i := range sum {
			sum[i] /= float32(n)
		}
	}
	return sum
}

// wordVector composes a single word's vector as the mean of its
// character n-gram bucket vectors (subword-backed, so unseen words still
// yield non-zero vectors) plus the whole-word bucket, per fastText-style
// subword pooling.
func (m *Model) wordVector(word string) Vector {
	bounded := "<" + word + ">"
	grams := charNgrams(bounded, m.cfg.NgramMin, m.cfg.NgramMax)
	grams = append(grams, bounded)

	out := make(Vector, m.cfg.Dim)
	for _, g := range grams {
		b := bucketOf(g, m.cfg.Buckets)
		off := b * m.cfg.Dim
		for i := 0; i < m.cfg.Dim; i++ {
			out[i] += m.vectors[off+i]
		}
	}
	if len(grams) > 0 {
		for i := range out {
			out[i] /= float32(len(grams))
		}
	}
	return out
}

func filterWords(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

// phraseNgrams builds n consecutive-token phrases (joined by a space) for
// phrase sensitivity, per spec.md §4.D's "word-level n-grams (default 3)".
func phraseNgrams(words []string, n int) []string {
	if n < 2 || len(words) < n {
		return nil
	}
	out := make([]string, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		phrase := words[i]
		for j := 1; j < n; j++ {
			phrase += " " + words[i+j]
		}
		out = append(out, phrase)
	}
	return out
}

func charNgrams(s string, min, max int) []string {
	runes := []rune(s)
	var out []string
	for n := min; n <= max; n++ {
		if len(runes) < n {
			continue
		}
		for i := 0; i+n <= len(runes); i++ {
			out = append(out, string(runes[i:i+n]))
		}
	}
	return out
}

func bucketOf(s string, buckets int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32()) % buckets
}

func normalize(v Vector) Vector {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(sumSq))
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// splitMix64 is a tiny deterministic PRNG used only for weight
// initialization and negative sampling, so training is reproducible for
// identical corpora.
type splitMix64 struct{ state uint64 }

func newSplitMix64(seed uint64) *splitMix64 { return &splitMix64{state: seed} }

func (s *splitMix64) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
