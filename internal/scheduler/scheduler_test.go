package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cmdsense/suggestd/internal/ann"
	"github.com/cmdsense/suggestd/internal/embed"
	"github.com/cmdsense/suggestd/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedEvents(t *testing.T, st *store.Store, n int) {
	t.Helper()
	ctx := context.Background()
	zero := int32(0)
	for i := 0; i < n; i++ {
		_, err := st.Append(ctx, store.AppendInput{
			Command:     "git status",
			CWD:         "/home/user/project",
			Fingerprint: "fp-git-status",
			ExitCode:    &zero,
		})
		require.NoError(t, err)
	}
}

func TestMaybePruneDeletesOldEvents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedEvents(t, st, 3)

	s := New(Config{Store: st, RetentionDays: 1})
	s.lastPrune = time.Now().Add(-2 * time.Hour)
	s.pruneInterval = time.Hour

	// Nothing is older than the cutoff yet, so nothing is pruned.
	s.maybePrune(ctx)
	count, err := st.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
}

func TestMaybeBuildIndexRunsAtThreshold(t *testing.T) {
	st := newTestStore(t)
	idx := ann.New(ann.DefaultConfig(4))

	s := New(Config{Store: st, ANN: idx, IndexBuildThreshold: 2})

	require.NoError(t, idx.Add([]float32{1, 0, 0, 0}, ann.Metadata{Fingerprint: "a"}))
	require.NoError(t, idx.Add([]float32{0, 1, 0, 0}, ann.Metadata{Fingerprint: "b"}))

	s.maybeBuildIndex(context.Background(), false)
	require.True(t, idx.IsBuilt())
	require.Equal(t, 2, idx.Size())
	require.Equal(t, 0, idx.PendingCount())
}

func TestMaybeBuildIndexWritesMetaSidecar(t *testing.T) {
	st := newTestStore(t)
	idx := ann.New(ann.DefaultConfig(4))
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "ann.index")
	metaPath := filepath.Join(dir, "ann.meta")

	s := New(Config{Store: st, ANN: idx, IndexBuildThreshold: 1, ANNIndexPath: indexPath, ANNMetaPath: metaPath})
	require.NoError(t, idx.Add([]float32{1, 0, 0, 0}, ann.Metadata{Fingerprint: "a"}))

	s.maybeBuildIndex(context.Background(), false)
	require.True(t, idx.IsBuilt())

	raw, err := os.ReadFile(metaPath)
	require.NoError(t, err)

	var doc struct {
		Generation   uint64   `json:"generation"`
		Fingerprints []string `json:"fingerprints"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, idx.Generation(), doc.Generation)
	require.Equal(t, []string{"a"}, doc.Fingerprints)
}

func TestMaybeBuildIndexSkipsBelowThresholdUntilIdleWindowElapses(t *testing.T) {
	st := newTestStore(t)
	idx := ann.New(ann.DefaultConfig(4))

	s := New(Config{Store: st, ANN: idx, IndexBuildThreshold: 100, IndexIdleWindow: time.Hour})
	require.NoError(t, idx.Add([]float32{1, 0, 0, 0}, ann.Metadata{Fingerprint: "a"}))

	s.maybeBuildIndex(context.Background(), false)
	require.False(t, idx.IsBuilt())

	s.mu.Lock()
	s.pendingSince = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	s.maybeBuildIndex(context.Background(), false)
	require.True(t, idx.IsBuilt())
}

func TestMaybeBuildIndexForceBypassesTriggers(t *testing.T) {
	st := newTestStore(t)
	idx := ann.New(ann.DefaultConfig(4))

	s := New(Config{Store: st, ANN: idx, IndexBuildThreshold: 100, IndexIdleWindow: time.Hour})
	require.NoError(t, idx.Add([]float32{1, 0, 0, 0}, ann.Metadata{Fingerprint: "a"}))

	s.maybeBuildIndex(context.Background(), true)
	require.True(t, idx.IsBuilt())
}

func TestMaybeRetrainSkipsBelowMinEvents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seedEvents(t, st, 3)

	cfg := embed.DefaultConfig()
	mgr, err := embed.NewManager(cfg, filepath.Join(t.TempDir(), "model"), filepath.Join(t.TempDir(), "corpus"))
	require.NoError(t, err)

	s := New(Config{Store: st, EmbedMgr: mgr, RetrainMinEvents: 500})
	ran := s.maybeRetrain(ctx, 500)
	require.False(t, ran)
}

func TestShutdownFlushesPendingIndexWork(t *testing.T) {
	st := newTestStore(t)
	idx := ann.New(ann.DefaultConfig(4))

	s := New(Config{Store: st, ANN: idx, IndexBuildThreshold: 100, IndexIdleWindow: time.Hour})
	require.NoError(t, idx.Add([]float32{0, 0, 1, 0}, ann.Metadata{Fingerprint: "c"}))

	s.Shutdown(context.Background())
	require.True(t, idx.IsBuilt())
}
