package embed

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Dim = 16
	cfg.Buckets = 1 << 10
	cfg.Epochs = 1
	cfg.CorpusMinLines = 5
	return cfg
}

func TestEncodeIsDeterministic(t *testing.T) {
	m := NewUntrained(smallConfig())
	v1 := m.Encode("git commit -m fix", nil)
	v2 := m.Encode("git commit -m fix", nil)
	require.Equal(t, v1, v2)
}

func TestEncodeUnseenTokenYieldsNonZeroVector(t *testing.T) {
	m := NewUntrained(smallConfig())
	v := m.Encode("zzzqqqneverseen", nil)
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	require.Greater(t, norm, 0.0)
}

func TestEncodeIsUnitLength(t *testing.T) {
	m := NewUntrained(smallConfig())
	v := m.Encode("docker compose up -d", nil)
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	require.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-4)
}

func TestEncodeEmptyCommandYieldsZeroVector(t *testing.T) {
	m := NewUntrained(smallConfig())
	v := m.Encode("", nil)
	for _, x := range v {
		require.Equal(t, float32(0), x)
	}
}

func TestEncodeWithContextDiffersFromWithout(t *testing.T) {
	m := NewUntrained(smallConfig())
	plain := m.Encode("build", nil)
	withCtx := m.Encode("build", &Context{CWDLeaf: "myproject", RecentCommands: []string{"git pull"}})
	require.NotEqual(t, plain, withCtx)
}

func TestTrainFailsBelowMinimumCorpusSize(t *testing.T) {
	cfg := smallConfig()
	_, err := Train(context.Background(), cfg, []string{"echo hi", "echo bye"})
	require.ErrorIs(t, err, ErrCorpusTooSmall)
}

func TestTrainSucceedsOnSufficientCorpus(t *testing.T) {
	cfg := smallConfig()
	lines := make([]string, 0, cfg.CorpusMinLines+5)
	for i := 0; i < cfg.CorpusMinLines+5; i++ {
		lines = append(lines, "git commit -m update")
	}
	model, err := Train(context.Background(), cfg, lines)
	require.NoError(t, err)
	require.Equal(t, cfg.Dim, model.Dim())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := NewUntrained(smallConfig())
	path := filepath.Join(t.TempDir(), "model.bin")
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, m.Encode("ls -la", nil), loaded.Encode("ls -la", nil))
}

func TestManagerMergeAtomicSwapOnSuccess(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig()
	mgr, err := NewManager(cfg, filepath.Join(dir, "model.bin"), filepath.Join(dir, "corpus.txt"))
	require.NoError(t, err)

	before := mgr.Current()
	lines := make([]string, 0, cfg.CorpusMinLines)
	for i := 0; i < cfg.CorpusMinLines; i++ {
		lines = append(lines, "npm run build")
	}
	require.NoError(t, mgr.Merge(context.Background(), lines, 10000))

	after := mgr.Current()
	require.NotSame(t, before, after)
}

func TestManagerMergeLeavesModelUnchangedOnFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig()
	mgr, err := NewManager(cfg, filepath.Join(dir, "model.bin"), filepath.Join(dir, "corpus.txt"))
	require.NoError(t, err)

	before := mgr.Current()
	err = mgr.Merge(context.Background(), []string{"too short"}, 10000)
	require.ErrorIs(t, err, ErrCorpusTooSmall)
	require.Same(t, before, mgr.Current())
}

func TestAppendAndCapTruncatesToMostRecentLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.txt")
	_, err := AppendAndCap(path, []string{"a", "b", "c"}, 2)
	require.NoError(t, err)

	lines, err := ReadCorpus(path)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, lines)
}

func TestReadCorpusMissingFileReturnsEmpty(t *testing.T) {
	lines, err := ReadCorpus(filepath.Join(t.TempDir(), "missing.txt"))
	require.NoError(t, err)
	require.Empty(t, lines)
}
