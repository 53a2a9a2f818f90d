package suggest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cmdsense/suggestd/internal/ann"
	"github.com/cmdsense/suggestd/internal/embed"
	"github.com/cmdsense/suggestd/internal/fingerprint"
	"github.com/cmdsense/suggestd/internal/store"
)

// fakeEmbedder returns a fixed vector regardless of input, enough to drive
// fakeANN's canned Query response through the cascade.
type fakeEmbedder struct{}

func (fakeEmbedder) Encode(string, *embed.Context) embed.Vector { return embed.Vector{1, 0} }

// fakeANN stands in for a real ann.Index so collectTier2 can be exercised
// without standing up an embedding model or building an actual forest.
type fakeANN struct {
	matches []ann.Match
}

func (f fakeANN) Query(vector []float32, k int) ([]ann.Match, error) { return f.matches, nil }
func (f fakeANN) IsBuilt() bool                                      { return true }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *store.Store, sessionID, command, cwd string, exitCode int32, n int) {
	t.Helper()
	fp := fingerprint.Of(command).Hash
	ctx := context.Background()
	code := exitCode
	for i := 0; i < n; i++ {
		_, err := s.Append(ctx, store.AppendInput{
			SessionID:   sessionID,
			Command:     command,
			CWD:         cwd,
			Fingerprint: fp,
			ExitCode:    &code,
		})
		require.NoError(t, err)
	}
}

// Scenario 1, spec.md §8: warm suggest after seeding returns the most
// frequent tier-1 match first.
func TestSuggestTier1WarmAfterSeeding(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "s1", "git status", "/p", 0, 10)
	seed(t, s, "s1", "git stash", "/p", 0, 2)

	e := New(s, nil, nil, DefaultConfig())
	resp, err := e.Suggest(context.Background(), Request{Partial: "git s", CWD: "/p"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Candidates)
	require.Equal(t, "git status", resp.Candidates[0].Command)
	require.GreaterOrEqual(t, resp.Candidates[0].Confidence, 0.5)
	require.Equal(t, SourceExact, resp.Candidates[0].Source)
}

// Scenario 3, spec.md §8: a contextual k-gram surfaces the habitual next
// command even when tier 1 has nothing to offer for an empty prefix.
func TestSuggestTier3Contextual(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seed(t, s, "trained-session", "git add .", "/p", 0, 1)
		seed(t, s, "trained-session", "git commit -m x", "/p", 0, 1)
		seed(t, s, "trained-session", "git push", "/p", 0, 1)
	}
	seed(t, s, "new-session", "git add .", "/p", 0, 1)
	seed(t, s, "new-session", "git commit -m y", "/p", 0, 1)

	e := New(s, nil, nil, DefaultConfig())
	resp, err := e.Suggest(ctx, Request{
		Partial: "git ",
		CWD:     "/p",
		History: []string{"git add .", "git commit -m y"},
		Limit:   3,
	})
	require.NoError(t, err)

	var found bool
	for _, c := range resp.Candidates {
		if c.Command == "git push" && c.Source == SourceContextual {
			found = true
		}
	}
	require.True(t, found, "expected git push among candidates, got %+v", resp.Candidates)
}

// Scenario 5, spec.md §8: feedback reranks a lower-frequency candidate
// above a higher-frequency one once acceptance/rejection diverge enough.
func TestSuggestFeedbackReranks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "s1", "ls", "/p", 0, 50)
	seed(t, s, "s1", "ll", "/p", 0, 10)

	e := New(s, nil, nil, DefaultConfig())

	first, err := e.Suggest(ctx, Request{Partial: "l", CWD: "/p", Limit: 5})
	require.NoError(t, err)

	var lsID, llID string
	for _, c := range first.Candidates {
		switch c.Command {
		case "ls":
			lsID = c.ExplainID
		case "ll":
			llID = c.ExplainID
		}
	}
	require.NotEmpty(t, lsID)
	require.NotEmpty(t, llID)

	for i := 0; i < 10; i++ {
		require.NoError(t, e.RecordFeedback(ctx, llID, true))
		require.NoError(t, e.RecordFeedback(ctx, lsID, false))

		// Re-suggest to mint fresh explain ids bound to the updated stats,
		// mirroring a client issuing a new suggest call per accept/reject.
		next, err := e.Suggest(ctx, Request{Partial: "l", CWD: "/p", Limit: 5})
		require.NoError(t, err)
		for _, c := range next.Candidates {
			switch c.Command {
			case "ls":
				lsID = c.ExplainID
			case "ll":
				llID = c.ExplainID
			}
		}
	}

	final, err := e.Suggest(ctx, Request{Partial: "l", CWD: "/p", Limit: 5})
	require.NoError(t, err)
	require.True(t, len(final.Candidates) >= 2)

	var llRank, lsRank = -1, -1
	for i, c := range final.Candidates {
		if c.Command == "ll" {
			llRank = i
		}
		if c.Command == "ls" {
			lsRank = i
		}
	}
	require.NotEqual(t, -1, llRank)
	require.NotEqual(t, -1, lsRank)
	require.Less(t, llRank, lsRank, "expected ll to outrank ls after feedback, got %+v", final.Candidates)
}

// Scenario 2, spec.md §8: a typo'd partial with zero tier-1 matches still
// surfaces the semantic-tier hit, which requires collectTier2's additions
// to actually reach the shared cascade order rather than only merged.
func TestSuggestTier2SemanticSurfacesNewFingerprint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "s1", "docker ps -a", "/srv", 0, 5)

	fp := fingerprint.Of("docker ps -a").Hash
	ev, err := s.LatestByFingerprint(ctx, fp)
	require.NoError(t, err)

	e := New(s, fakeEmbedder{}, fakeANN{matches: []ann.Match{
		{Metadata: ann.Metadata{Fingerprint: fp, CommandRef: ev.ID}, Distance: 0.2},
	}}, DefaultConfig())

	resp, err := e.Suggest(ctx, Request{Partial: "doker ps", CWD: "/srv"})
	require.NoError(t, err)

	var found bool
	for _, c := range resp.Candidates {
		if c.Command == "docker ps -a" && c.Source == SourceSemantic {
			found = true
		}
	}
	require.True(t, found, "expected docker ps -a via tier2, got %+v", resp.Candidates)
}

func TestSuggestDegradesWithoutEmbeddingModel(t *testing.T) {
	s := newTestStore(t)
	// Seed fewer than Tier1Limit matches so the cascade does not
	// short-circuit and tier 2 is actually consulted (and found missing).
	seed(t, s, "s1", "docker ps -a", "/srv", 0, 1)

	e := New(s, nil, nil, DefaultConfig())
	resp, err := e.Suggest(context.Background(), Request{Partial: "xyz-no-match", CWD: "/srv"})
	require.NoError(t, err)
	require.Contains(t, resp.Degraded, "semantic")
}

func TestSuggestEmptyPartialNeverErrors(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "s1", "ls", "/p", 0, 3)

	e := New(s, nil, nil, DefaultConfig())
	resp, err := e.Suggest(context.Background(), Request{Partial: "", CWD: "/p"})
	require.NoError(t, err)
	_ = resp // empty candidates are not an error either
}

func TestExplainNotFound(t *testing.T) {
	s := newTestStore(t)
	e := New(s, nil, nil, DefaultConfig())
	_, err := e.Explain("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordFeedbackNotFound(t *testing.T) {
	s := newTestStore(t)
	e := New(s, nil, nil, DefaultConfig())
	err := e.RecordFeedback(context.Background(), "does-not-exist", true)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSuggestBlacklistDropsCandidate(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "s1", "git status", "/p", 0, 5)
	fp := fingerprint.Of("git status").Hash

	e := New(s, nil, nil, DefaultConfig())
	resp, err := e.Suggest(context.Background(), Request{
		Partial:     "git s",
		CWD:         "/p",
		Preferences: &Preferences{Blacklist: map[string]bool{fp: true}},
	})
	require.NoError(t, err)
	for _, c := range resp.Candidates {
		require.NotEqual(t, "git status", c.Command)
	}
}

func TestSuggestDeterministicOrdering(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, "s1", "git status", "/p", 0, 5)
	seed(t, s, "s1", "git stash", "/p", 0, 5)

	e := New(s, nil, nil, DefaultConfig())
	req := Request{Partial: "git s", CWD: "/p", Limit: 5}

	first, err := e.Suggest(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Suggest(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, len(first.Candidates), len(second.Candidates))
	for i := range first.Candidates {
		require.Equal(t, first.Candidates[i].Command, second.Candidates[i].Command)
	}
}
