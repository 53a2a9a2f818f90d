package suggest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAffinityDetectorScoresMatchingTool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x\n"), 0o644))

	d := newAffinityDetector()
	require.Equal(t, affinityBoost, d.score(dir, "go test ./..."))
	require.Equal(t, 1.0, d.score(dir, "npm install"))
}

func TestAffinityDetectorNoMarkersNeverBoosts(t *testing.T) {
	dir := t.TempDir()
	d := newAffinityDetector()
	require.Equal(t, 1.0, d.score(dir, "go build"))
}

func TestAffinityDetectorCachesUntilExpiry(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	d := newAffinityDetector()
	d.now = func() time.Time { return now }

	require.Equal(t, 1.0, d.score(dir, "cargo build"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(""), 0o644))
	require.Equal(t, 1.0, d.score(dir, "cargo build"), "cached miss should persist until TTL expiry")

	d.now = func() time.Time { return now.Add(affinityCacheTTL + time.Second) }
	require.Equal(t, affinityBoost, d.score(dir, "cargo build"))
}

func TestAffinityDetectorEmptyCWD(t *testing.T) {
	d := newAffinityDetector()
	require.Equal(t, 1.0, d.score("", "go build"))
}
