package embed

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"sync/atomic"
)

type modelFile struct {
	Cfg     Config
	Vectors []float32
}

// Save writes m to path in a single atomic rename, so a crash mid-write
// never leaves a partially written model behind.
func (m *Model) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create model tmp: %v", ErrIOError, err)
	}
	w := bufio.NewWriter(f)
	enc := gob.NewEncoder(w)
	if err := enc.Encode(modelFile{Cfg: m.cfg, Vectors: m.vectors}); err != nil {
		f.Close()
		return fmt.Errorf("%w: encode model: %v", ErrIOError, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%w: flush model: %v", ErrIOError, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close model: %v", ErrIOError, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: replace model: %v", ErrIOError, err)
	}
	return nil
}

// Load reads a Model previously written by Save.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open model: %v", ErrIOError, err)
	}
	defer f.Close()

	var mf modelFile
	if err := gob.NewDecoder(bufio.NewReader(f)).Decode(&mf); err != nil {
		return nil, fmt.Errorf("%w: decode model: %v", ErrIOError, err)
	}
	return &Model{cfg: mf.Cfg, vectors: mf.Vectors}, nil
}

// Manager owns the live Model and the on-disk model/corpus pair,
// enforcing the atomic swap-on-success contract of spec.md §4.D: a
// failed retrain leaves both the in-memory model and the corpus file
// exactly as they were.
type Manager struct {
	cfg        Config
	modelPath  string
	corpusPath string
	current    atomic.Pointer[Model]
}

// NewManager loads an existing model from modelPath, or falls back to an
// untrained one if absent.
func NewManager(cfg Config, modelPath, corpusPath string) (*Manager, error) {
	mgr := &Manager{cfg: cfg, modelPath: modelPath, corpusPath: corpusPath}

	var model *Model
	if _, statErr := os.Stat(modelPath); statErr != nil {
		model = NewUntrained(cfg)
	} else {
		loaded, err := Load(modelPath)
		if err != nil {
			return nil, err
		}
		model = loaded
	}
	mgr.current.Store(model)
	return mgr, nil
}

// Current returns the live model for encoding.
func (mgr *Manager) Current() *Model {
	return mgr.current.Load()
}

// Merge appends newLines to the rolling corpus (capped at
// RollingCorpus.MaxLines), retrains on the resulting union, and on
// success atomically swaps in the new model and persists both files. On
// any failure, the previously committed model and corpus are left
// untouched.
func (mgr *Manager) Merge(ctx context.Context, newLines []string, maxCorpusLines int) error {
	existing, err := ReadCorpus(mgr.corpusPath)
	if err != nil {
		return err
	}
	combined := append(append([]string{}, existing...), newLines...)
	if len(combined) > maxCorpusLines {
		combined = combined[len(combined)-maxCorpusLines:]
	}

	model, err := Train(ctx, mgr.cfg, combined)
	if err != nil {
		return err
	}

	if _, err := AppendAndCap(mgr.corpusPath, newLines, maxCorpusLines); err != nil {
		return err
	}
	if err := model.Save(mgr.modelPath); err != nil {
		return err
	}
	mgr.current.Store(model)
	return nil
}
