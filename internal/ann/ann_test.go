package ann

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func unitVec(dim int, hot int) []float32 {
	v := make([]float32, dim)
	v[hot%dim] = 1
	return v
}

func TestAddIsInvisibleUntilBuild(t *testing.T) {
	idx := New(DefaultConfig(8))
	require.False(t, idx.IsBuilt())

	require.NoError(t, idx.Add(unitVec(8, 0), Metadata{Fingerprint: "fp1"}))
	require.Equal(t, 0, idx.Size())

	matches, err := idx.Query(unitVec(8, 0), 5)
	require.NoError(t, err)
	require.Empty(t, matches)

	idx.Build()
	require.True(t, idx.IsBuilt())
	require.Equal(t, 1, idx.Size())

	matches, err = idx.Query(unitVec(8, 0), 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "fp1", matches[0].Metadata.Fingerprint)
	require.InDelta(t, 0, matches[0].Distance, 1e-6)
}

func TestBuildDeduplicatesByFingerprint(t *testing.T) {
	idx := New(DefaultConfig(8))
	require.NoError(t, idx.Add(unitVec(8, 0), Metadata{Fingerprint: "fp1", CommandRef: 1}))
	idx.Build()
	require.NoError(t, idx.Add(unitVec(8, 1), Metadata{Fingerprint: "fp1", CommandRef: 2}))
	idx.Build()

	require.Equal(t, 1, idx.Size())
	matches, err := idx.Query(unitVec(8, 1), 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, int64(2), matches[0].Metadata.CommandRef)
}

func TestBuildWithoutAddIsNoop(t *testing.T) {
	idx := New(DefaultConfig(8))
	require.NoError(t, idx.Add(unitVec(8, 0), Metadata{Fingerprint: "fp1"}))
	idx.Build()
	before := idx.Size()

	idx.Build()
	require.Equal(t, before, idx.Size())
}

func TestQueryDimMismatch(t *testing.T) {
	idx := New(DefaultConfig(8))
	_, err := idx.Query(unitVec(4, 0), 5)
	require.ErrorIs(t, err, ErrDimMismatch)

	err = idx.Add(unitVec(4, 0), Metadata{Fingerprint: "fp1"})
	require.ErrorIs(t, err, ErrDimMismatch)
}

func TestQueryRanksByAscendingDistance(t *testing.T) {
	idx := New(DefaultConfig(4))
	require.NoError(t, idx.Add([]float32{1, 0, 0, 0}, Metadata{Fingerprint: "x"}))
	require.NoError(t, idx.Add([]float32{0, 1, 0, 0}, Metadata{Fingerprint: "y"}))
	require.NoError(t, idx.Add([]float32{0.9, 0.1, 0, 0}, Metadata{Fingerprint: "near-x"}))
	idx.Build()

	matches, err := idx.Query([]float32{1, 0, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	require.Equal(t, "x", matches[0].Metadata.Fingerprint)
	for i := 1; i < len(matches); i++ {
		require.GreaterOrEqual(t, matches[i].Distance, matches[i-1].Distance)
	}
}

func TestGenerationIncrementsOnBuild(t *testing.T) {
	idx := New(DefaultConfig(4))
	require.Equal(t, uint64(0), idx.Generation())

	require.NoError(t, idx.Add([]float32{1, 0, 0, 0}, Metadata{Fingerprint: "x"}))
	idx.Build()
	require.Equal(t, uint64(1), idx.Generation())

	idx.Build()
	require.Equal(t, uint64(2), idx.Generation())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	idx := New(DefaultConfig(4))
	require.NoError(t, idx.Add([]float32{1, 0, 0, 0}, Metadata{Fingerprint: "x", CommandRef: 10}))
	require.NoError(t, idx.Add([]float32{0, 1, 0, 0}, Metadata{Fingerprint: "y", CommandRef: 20}))
	idx.Build()

	path := filepath.Join(t.TempDir(), "ann.index")
	require.NoError(t, idx.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	defer loaded.Close()

	require.True(t, loaded.IsBuilt())
	require.Equal(t, idx.Size(), loaded.Size())
	require.Equal(t, idx.Generation(), loaded.Generation())

	matches, err := loaded.Query([]float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "x", matches[0].Metadata.Fingerprint)
	require.Equal(t, int64(10), matches[0].Metadata.CommandRef)
}

func TestWriteMetaMatchesCommittedFingerprints(t *testing.T) {
	idx := New(DefaultConfig(4))
	require.NoError(t, idx.Add([]float32{1, 0, 0, 0}, Metadata{Fingerprint: "x"}))
	require.NoError(t, idx.Add([]float32{0, 1, 0, 0}, Metadata{Fingerprint: "y"}))
	idx.Build()

	path := filepath.Join(t.TempDir(), "ann.meta")
	require.NoError(t, idx.WriteMeta(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Generation   uint64   `json:"generation"`
		Fingerprints []string `json:"fingerprints"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	require.Equal(t, idx.Generation(), doc.Generation)
	require.ElementsMatch(t, []string{"x", "y"}, doc.Fingerprints)
}

func TestAngularDistanceZeroVectorIsMaximal(t *testing.T) {
	require.Equal(t, 1.0, angularDistance([]float32{0, 0}, []float32{1, 1}))
}
