package embed

import (
	"context"
	"math"

	"github.com/cmdsense/suggestd/internal/tokenize"
)

const (
	windowSize      = 2
	negativeSamples = 5
	learningRate    = 0.05
)

// Train fits a fresh Model from scratch on corpusLines, per spec.md
// §4.D's incremental-learning contract: the model family has no true
// online update, so every call trains a brand-new table and the caller
// (Manager.Merge) swaps it in only on success.
func Train(ctx context.Context, cfg Config, corpusLines []string) (*Model, error) {
	if len(corpusLines) < cfg.CorpusMinLines {
		return nil, ErrCorpusTooSmall
	}

	in := NewUntrained(cfg)
	out := NewUntrained(cfg)
	rng := newSplitMix64(0xC0FFEE)

	counts := tokenCounts(corpusLines)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		for _, line := range corpusLines {
			select {
			case <-ctx.Done():
				return nil, ErrTrainerUnavailable
			default:
			}

			words := filterWords(tokenize.Tokenize(line).Words)
			for i, target := range words {
				if counts[target] < cfg.MinTokenCount {
					continue
				}
				lo, hi := i-windowSize, i+windowSize+1
				if lo < 0 {
					lo = 0
				}
				if hi > len(words) {
					hi = len(words)
				}
				for j := lo; j < hi; j++ {
					if j == i {
						continue
					}
					trainPair(in, out, cfg, target, words[j], rng)
				}
			}
		}
	}

	return &Model{cfg: cfg, vectors: in.vectors}, nil
}

// trainPair runs one skip-gram-with-negative-sampling update: target's
// subword composite vector is pushed toward context's output vector, and
// away from a handful of randomly sampled negative buckets.
func trainPair(in, out *Model, cfg Config, target, contextWord string, rng *splitMix64) {
	bounded := "<" + target + ">"
	grams := charNgrams(bounded, cfg.NgramMin, cfg.NgramMax)
	grams = append(grams, bounded)
	gramBuckets := make([]int, len(grams))
	for i, g := range grams {
		gramBuckets[i] = bucketOf(g, cfg.Buckets)
	}

	h := make([]float32, cfg.Dim)
	for _, b := range gramBuckets {
		off := b * cfg.Dim
		for d := 0; d < cfg.Dim; d++ {
			h[d] += in.vectors[off+d]
		}
	}
	if len(gramBuckets) > 0 {
		for d := range h {
			h[d] /= float32(len(gramBuckets))
		}
	}

	update := func(bucket int, label float32) {
		off := bucket * cfg.Dim
		var dot float64
		for d := 0; d < cfg.Dim; d++ {
			dot += float64(h[d]) * float64(out.vectors[off+d])
		}
		pred := sigmoid(dot)
		grad := float32(learningRate) * (label - float32(pred))

		for d := 0; d < cfg.Dim; d++ {
			outVal := out.vectors[off+d]
			out.vectors[off+d] += grad * h[d]
			for _, gb := range gramBuckets {
				gOff := gb * cfg.Dim
				in.vectors[gOff+d] += grad * outVal / float32(len(gramBuckets))
			}
		}
	}

	ctxBucket := bucketOf("<"+contextWord+">", cfg.Buckets)
	update(ctxBucket, 1.0)
	for n := 0; n < negativeSamples; n++ {
		neg := int(rng.next() % uint64(cfg.Buckets))
		if neg == ctxBucket {
			continue
		}
		update(neg, 0.0)
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func tokenCounts(lines []string) map[string]int {
	counts := make(map[string]int)
	for _, line := range lines {
		for _, w := range filterWords(tokenize.Tokenize(line).Words) {
			counts[w]++
		}
	}
	return counts
}
