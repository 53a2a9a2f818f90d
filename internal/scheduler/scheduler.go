// Package scheduler implements the background maintenance jobs of
// spec.md §4.I: retention pruning, ANN index build/checkpoint, incremental
// embedding retraining, and the shutdown-flush sequence. Jobs run serially
// on one goroutine, grounded on the teacher's
// internal/suggestions/maintenance.Runner (ticker-driven tick loop,
// stats counters) and internal/suggestions/retention.Purger (retention
// cutoff math, vacuum-after-large-delete policy).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cmdsense/suggestd/internal/ann"
	"github.com/cmdsense/suggestd/internal/embed"
	"github.com/cmdsense/suggestd/internal/store"
)

// Tunables for the event-driven triggers spec.md §4.I describes. Times
// and thresholds not named by the configuration surface (spec.md §6.3)
// stay as package defaults rather than invented config knobs.
const (
	// tickInterval is how often the scheduler goroutine wakes to evaluate
	// its triggers; every job itself is still gated by its own condition.
	tickInterval = 5 * time.Second

	// defaultIndexBuildThreshold is the pending-vector count that forces
	// an ANN Build regardless of idle time.
	defaultIndexBuildThreshold = 512

	// defaultIndexIdleWindow is how long the index may sit with pending
	// (but sub-threshold) vectors before a Build runs anyway.
	defaultIndexIdleWindow = 30 * time.Second

	// defaultPruneInterval is how often retention pruning runs.
	defaultPruneInterval = 1 * time.Hour

	// shutdownRetrainMinEvents is the lower bar for running one last
	// retrain during shutdown-flush, below the steady-state threshold
	// since a partial batch is still worth folding in before exit.
	shutdownRetrainMinEvents = 50
)

// Config wires the scheduler's dependencies and the retention/retrain
// thresholds sourced from config.Config.
type Config struct {
	Store    *store.Store
	EmbedMgr *embed.Manager
	ANN      *ann.Index
	Logger   *slog.Logger

	ModelPath        string
	CorpusPath       string
	ANNIndexPath     string
	ANNMetaPath      string
	RetentionDays    int
	RollingCorpusMax int
	RetrainMinEvents int

	PruneInterval       time.Duration
	IndexBuildThreshold int
	IndexIdleWindow     time.Duration
}

// Scheduler runs the retention, index-build, and retrain jobs on a single
// background goroutine, serially, so none race the others over the same
// embed.Manager/ann.Index.
type Scheduler struct {
	store    *store.Store
	embedMgr *embed.Manager
	annIdx   *ann.Index
	logger   *slog.Logger

	modelPath     string
	corpusPath    string
	annIndexPath  string
	annMetaPath   string
	retentionDays int
	corpusMax     int
	retrainMin    int

	pruneInterval       time.Duration
	indexBuildThreshold int
	indexIdleWindow     time.Duration

	mu            sync.Mutex
	lastPrune     time.Time
	pendingSince  time.Time
	lastRetrainID int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Scheduler. Store is required; EmbedMgr/ANN may be nil,
// in which case the retrain and index-build jobs are no-ops (tier 2
// stays degraded until a model/index is installed and the daemon
// restarted).
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = defaultPruneInterval
	}
	if cfg.IndexBuildThreshold <= 0 {
		cfg.IndexBuildThreshold = defaultIndexBuildThreshold
	}
	if cfg.IndexIdleWindow <= 0 {
		cfg.IndexIdleWindow = defaultIndexIdleWindow
	}
	if cfg.RetrainMinEvents <= 0 {
		cfg.RetrainMinEvents = 500
	}
	return &Scheduler{
		store:               cfg.Store,
		embedMgr:            cfg.EmbedMgr,
		annIdx:              cfg.ANN,
		logger:              cfg.Logger,
		modelPath:           cfg.ModelPath,
		corpusPath:          cfg.CorpusPath,
		annIndexPath:        cfg.ANNIndexPath,
		annMetaPath:         cfg.ANNMetaPath,
		retentionDays:       cfg.RetentionDays,
		corpusMax:           cfg.RollingCorpusMax,
		retrainMin:          cfg.RetrainMinEvents,
		pruneInterval:       cfg.PruneInterval,
		indexBuildThreshold: cfg.IndexBuildThreshold,
		indexIdleWindow:     cfg.IndexIdleWindow,
		stopCh:              make(chan struct{}),
	}
}

// Run starts the maintenance loop; it blocks until ctx is cancelled or
// Stop is called. Intended to be run as a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.logger.Info("scheduler started",
		"prune_interval", s.pruneInterval,
		"index_build_threshold", s.indexBuildThreshold,
		"retrain_min_events", s.retrainMin,
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals Run to exit; it does not itself flush pending work — call
// Shutdown for that.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	s.maybePrune(ctx)
	s.maybeBuildIndex(ctx, false)
	s.maybeRetrain(ctx, s.retrainMin)
}

// maybePrune deletes Events older than the retention window, per
// spec.md §4.A's retention invariant, grounded on the teacher's
// retention.Purger.PurgeAt cutoff-timestamp math.
func (s *Scheduler) maybePrune(ctx context.Context) {
	if s.retentionDays <= 0 {
		return
	}
	s.mu.Lock()
	due := time.Since(s.lastPrune) >= s.pruneInterval
	s.mu.Unlock()
	if !due {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	n, err := s.store.Prune(ctx, cutoff)
	s.mu.Lock()
	s.lastPrune = time.Now()
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("retention prune failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("retention prune completed", "deleted", n, "cutoff", cutoff)
	}
}

// maybeBuildIndex folds pending ANN vectors into a queryable forest once
// either the pending count crosses indexBuildThreshold or pending vectors
// have sat unbuilt for indexIdleWindow, per spec.md §4.E/§4.I's staleness
// bound, then checkpoints the result to disk. force bypasses both
// triggers, used by Shutdown so no encoded vector is left un-persisted.
func (s *Scheduler) maybeBuildIndex(ctx context.Context, force bool) {
	if s.annIdx == nil {
		return
	}
	pending := s.annIdx.PendingCount()
	if pending == 0 {
		s.mu.Lock()
		s.pendingSince = time.Time{}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.pendingSince.IsZero() {
		s.pendingSince = time.Now()
	}
	idleElapsed := time.Since(s.pendingSince)
	s.mu.Unlock()

	if !force && pending < s.indexBuildThreshold && idleElapsed < s.indexIdleWindow {
		return
	}

	s.annIdx.Build()
	s.mu.Lock()
	s.pendingSince = time.Time{}
	s.mu.Unlock()

	s.logger.Info("ann index built", "size", s.annIdx.Size(), "generation", s.annIdx.Generation())

	if s.annIndexPath == "" {
		return
	}
	if err := s.annIdx.Save(s.annIndexPath); err != nil {
		s.logger.Warn("ann index checkpoint failed", "error", err)
	}
	if s.annMetaPath != "" {
		if err := s.annIdx.WriteMeta(s.annMetaPath); err != nil {
			s.logger.Warn("ann meta sidecar write failed", "error", err)
		}
	}
	_ = ctx
}

// maybeRetrain folds newly committed successful commands into the rolling
// corpus and retrains the embedding model once minEvents new successful
// Events have accumulated since the last retrain, then rebuilds the ANN
// index from the current consistent snapshot so tier 2 never serves
// vectors encoded by a stale model, per spec.md §4.D/§4.I.
func (s *Scheduler) maybeRetrain(ctx context.Context, minEvents int) bool {
	if s.embedMgr == nil {
		return false
	}

	s.mu.Lock()
	afterID := s.lastRetrainID
	s.mu.Unlock()

	count, err := s.store.CountSuccessfulSince(ctx, afterID)
	if err != nil {
		s.logger.Warn("retrain eligibility check failed", "error", err)
		return false
	}
	if count < int64(minEvents) {
		return false
	}

	snap, err := s.store.Snapshot(ctx)
	if err != nil {
		s.logger.Warn("retrain snapshot failed", "error", err)
		return false
	}
	events, err := s.store.RepresentativeEvents(ctx, snap)
	if err != nil {
		s.logger.Warn("retrain representative-events query failed", "error", err)
		return false
	}

	lines := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.Command != "" {
			lines = append(lines, ev.Command)
		}
	}

	if err := s.embedMgr.Merge(ctx, lines, s.corpusMax); err != nil {
		s.logger.Warn("embedding retrain failed, keeping prior model", "error", err)
		return false
	}

	s.mu.Lock()
	s.lastRetrainID = snap.MaxID
	s.mu.Unlock()
	s.logger.Info("embedding model retrained", "corpus_lines", len(lines), "snapshot_max_id", snap.MaxID)

	s.rebuildANNFromCorpus(ctx, events)
	return true
}

// rebuildANNFromCorpus re-encodes every representative event under the
// freshly retrained model and stages it for the next Build, since the
// vectors committed under the old model are no longer comparable to
// vectors the new model would produce for the same command.
func (s *Scheduler) rebuildANNFromCorpus(ctx context.Context, events []store.Event) {
	if s.annIdx == nil {
		return
	}
	model := s.embedMgr.Current()
	if model == nil {
		return
	}
	for _, ev := range events {
		if ev.Command == "" {
			continue
		}
		vec := model.Encode(ev.Command, &embed.Context{})
		if err := s.annIdx.Add(vec, ann.Metadata{
			Fingerprint: ev.Fingerprint,
			CommandRef:  ev.ID,
			InsertTS:    ev.Timestamp.UnixNano(),
		}); err != nil {
			s.logger.Warn("failed to stage re-encoded vector", "event_id", ev.ID, "error", err)
		}
	}
	s.annIdx.Build()
	if s.annIndexPath != "" {
		if err := s.annIdx.Save(s.annIndexPath); err != nil {
			s.logger.Warn("ann index checkpoint after retrain failed", "error", err)
		}
	}
	if s.annMetaPath != "" {
		if err := s.annIdx.WriteMeta(s.annMetaPath); err != nil {
			s.logger.Warn("ann meta sidecar write after retrain failed", "error", err)
		}
	}
	_ = ctx
}

// Shutdown runs the shutdown-flush job: a final opportunistic retrain (if
// at least shutdownRetrainMinEvents new successful events accumulated),
// a final index build/checkpoint, and a final embedding model save,
// mirroring the teacher's maintenance.Runner tick's "flush before exit"
// shape. Called by cmd/suggestd's signal handler before the Protocol
// Server releases its lock.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.logger.Info("scheduler shutdown-flush starting")

	s.maybeRetrain(ctx, shutdownRetrainMinEvents)
	s.maybeBuildIndex(ctx, true)

	if s.embedMgr != nil && s.modelPath != "" {
		if model := s.embedMgr.Current(); model != nil {
			if err := model.Save(s.modelPath); err != nil {
				s.logger.Warn("final embedding model save failed", "error", err)
			}
		}
	}

	s.logger.Info("scheduler shutdown-flush complete")
}
