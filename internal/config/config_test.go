package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 128, cfg.EmbeddingDim)
	require.Equal(t, 10, cfg.ANN.Trees)
	require.Equal(t, "angular", cfg.ANN.Metric)
	require.Equal(t, 5, cfg.Suggest.Max)
	require.InDelta(t, 0.3, cfg.Suggest.MinConfidence, 1e-9)
	require.Equal(t, 90, cfg.RetentionDays)
	require.Equal(t, 10000, cfg.RollingCorpus.MaxLines)
	require.Equal(t, 500, cfg.Retrain.MinNewEvents)
	require.Equal(t, "annotate", cfg.SafetyLevel)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedding_dim: 64
suggest:
  max: 8
  min_confidence: 0.5
retention_days: 30
`), 0o600))

	cfg, err := Load(path, slog.Default())
	require.NoError(t, err)
	require.Equal(t, 64, cfg.EmbeddingDim)
	require.Equal(t, 8, cfg.Suggest.Max)
	require.InDelta(t, 0.5, cfg.Suggest.MinConfidence, 1e-9)
	require.Equal(t, 30, cfg.RetentionDays)
	// untouched fields keep their default
	require.Equal(t, 10, cfg.ANN.Trees)
}

func TestLoadInvalidValuesFallBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedding_dim: -1
suggest:
  min_confidence: 5
safety_level: "yolo"
`), 0o600))

	cfg, err := Load(path, slog.Default())
	require.NoError(t, err)
	require.Equal(t, 128, cfg.EmbeddingDim)
	require.InDelta(t, 0.3, cfg.Suggest.MinConfidence, 1e-9)
	require.Equal(t, "annotate", cfg.SafetyLevel)
}
