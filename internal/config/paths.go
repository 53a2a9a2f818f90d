package config

import (
	"os"
	"path/filepath"
)

// Paths resolves every on-disk location the daemon owns, per spec.md §6.2.
type Paths struct {
	// BaseDir is the data directory root (default ~/.suggestd).
	BaseDir string
}

// DefaultPaths returns Paths rooted at $SUGGESTD_HOME, falling back to
// ~/.suggestd, falling back to ./.suggestd if the home directory can't be
// resolved.
func DefaultPaths() *Paths {
	if dir := os.Getenv("SUGGESTD_HOME"); dir != "" {
		return &Paths{BaseDir: dir}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return &Paths{BaseDir: ".suggestd"}
	}
	return &Paths{BaseDir: filepath.Join(home, ".suggestd")}
}

// EnsureDirectories creates the base directory with 0700 permissions, per
// spec.md §6.2 ("0700 on directories").
func (p *Paths) EnsureDirectories() error {
	return os.MkdirAll(p.BaseDir, 0o700)
}

// EventsDB is the event log and indices file (events.db).
func (p *Paths) EventsDB() string { return filepath.Join(p.BaseDir, "events.db") }

// StatsDB is the pattern/sequence statistics file; may be colocated with
// EventsDB (we colocate it, per spec.md §6.2's "may be colocated" note).
func (p *Paths) StatsDB() string { return p.EventsDB() }

// EmbeddingModel is the embedding model state file (opaque to clients).
func (p *Paths) EmbeddingModel() string { return filepath.Join(p.BaseDir, "embeddings.model") }

// EmbeddingCorpus is the rolling training corpus (UTF-8 text, one line per command).
func (p *Paths) EmbeddingCorpus() string { return filepath.Join(p.BaseDir, "embeddings.corpus") }

// ANNIndex is the memory-mappable ANN index file.
func (p *Paths) ANNIndex() string { return filepath.Join(p.BaseDir, "ann.index") }

// ANNMeta is the ANN metadata document (generation + fingerprint list).
func (p *Paths) ANNMeta() string { return filepath.Join(p.BaseDir, "ann.meta") }

// DaemonLock is the exclusive file lock sentinel.
func (p *Paths) DaemonLock() string { return filepath.Join(p.BaseDir, "daemon.lock") }

// DaemonLog is the operational log file.
func (p *Paths) DaemonLog() string { return filepath.Join(p.BaseDir, "daemon.log") }

// SocketPath is the local per-user protocol endpoint.
func (p *Paths) SocketPath() string { return filepath.Join(p.BaseDir, "daemon.sock") }

// ConfigFile is the user-editable configuration file.
func (p *Paths) ConfigFile() string { return filepath.Join(p.BaseDir, "config.yaml") }
