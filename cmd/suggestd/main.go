// Command suggestd is the daemon entrypoint: it owns the Event Log, the
// Embedding Model, the ANN Index, the Suggestion Engine, the Protocol
// Server, and the Scheduler (spec.md §4), wiring them exactly the way
// internal/daemon.Server and internal/scheduler.Scheduler expect, then
// blocks until SIGINT/SIGTERM triggers the shutdown-flush sequence.
//
// Grounded on the teacher's cmd/claid/main.go: load config, open store,
// build server, run until signal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cmdsense/suggestd/internal/ann"
	"github.com/cmdsense/suggestd/internal/config"
	"github.com/cmdsense/suggestd/internal/daemon"
	"github.com/cmdsense/suggestd/internal/embed"
	"github.com/cmdsense/suggestd/internal/privacy"
	"github.com/cmdsense/suggestd/internal/scheduler"
	"github.com/cmdsense/suggestd/internal/store"
	"github.com/cmdsense/suggestd/internal/suggest"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if err := run(logger); err != nil {
		logger.Error("suggestd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	paths := config.DefaultPaths()
	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	cfg, err := config.Load(paths.ConfigFile(), logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(paths.EventsDB(), logger)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer st.Close()

	privacyFilter, privacyErrs := buildPrivacyFilter(cfg)
	for _, e := range privacyErrs {
		logger.Warn("skipping invalid privacy pattern", "error", e)
	}

	embedCfg := embed.DefaultConfig()
	embedCfg.Dim = cfg.EmbeddingDim
	embedMgr, err := embed.NewManager(embedCfg, paths.EmbeddingModel(), paths.EmbeddingCorpus())
	if err != nil {
		logger.Warn("embedding model unavailable, tier 2 starts degraded", "error", err)
		embedMgr = nil
	}

	annIdx, err := loadOrBootstrapANN(context.Background(), cfg, paths, st, embedMgr, logger)
	if err != nil {
		logger.Warn("ann index unavailable, tier 2 starts degraded", "error", err)
		annIdx = nil
	}

	engineCfg := suggest.DefaultConfig()
	engineCfg.MaxResults = cfg.Suggest.Max
	engineCfg.MinConfidence = cfg.Suggest.MinConfidence
	engineCfg.SafetyLevel = cfg.SafetyLevel

	var embedder suggest.Embedder
	if embedMgr != nil {
		embedder = managerEncoder{embedMgr}
	}
	var annQuerier suggest.ANNIndex
	if annIdx != nil {
		annQuerier = annIdx
	}
	engine := suggest.New(st, embedder, annQuerier, engineCfg)

	srv, err := daemon.New(daemon.Config{
		Store:           st,
		EmbedMgr:        embedMgr,
		ANN:             annIdx,
		Engine:          engine,
		Privacy:         privacyFilter,
		Paths:           paths,
		Cfg:             cfg,
		Logger:          logger,
		DiagnosticsAddr: cfg.DiagnosticsAddr,
	})
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return fmt.Errorf("another suggestd instance is already running: %w", err)
		}
		return fmt.Errorf("start server: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		Store:            st,
		EmbedMgr:         embedMgr,
		ANN:              annIdx,
		Logger:           logger,
		ModelPath:        paths.EmbeddingModel(),
		CorpusPath:       paths.EmbeddingCorpus(),
		ANNIndexPath:     paths.ANNIndex(),
		ANNMetaPath:      paths.ANNMeta(),
		RetentionDays:    cfg.RetentionDays,
		RollingCorpusMax: cfg.RollingCorpus.MaxLines,
		RetrainMinEvents: cfg.Retrain.MinNewEvents,
	})
	go sched.Run(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	sched.Stop()
	sched.Shutdown(context.Background())
	srv.Shutdown(30 * time.Second)
	if annIdx != nil {
		_ = annIdx.Close()
	}
	return nil
}

// buildPrivacyFilter translates config.PrivacyConfig into privacy.Filter's
// constructor arguments.
func buildPrivacyFilter(cfg *config.Config) (*privacy.Filter, []error) {
	specs := make([]privacy.PatternSpec, 0, len(cfg.Privacy.ExcludedPatterns))
	for _, p := range cfg.Privacy.ExcludedPatterns {
		specs = append(specs, privacy.PatternSpec{Pattern: p.Pattern, Action: p.Action})
	}
	return privacy.New(cfg.Privacy.ExcludedPaths, specs)
}

// loadOrBootstrapANN loads the ANN index checkpoint if present; otherwise
// it builds a fresh index from the store's representative events
// (one per fingerprint, most recent successful occurrence), per spec.md
// §4.E's "rebuild from A" sync rule applied to a cold start.
func loadOrBootstrapANN(ctx context.Context, cfg *config.Config, paths *config.Paths, st *store.Store, embedMgr *embed.Manager, logger *slog.Logger) (*ann.Index, error) {
	if _, statErr := os.Stat(paths.ANNIndex()); statErr == nil {
		idx, err := ann.Load(paths.ANNIndex())
		if err == nil {
			return idx, nil
		}
		logger.Warn("ann index checkpoint corrupt, rebuilding from store", "error", err)
	}

	if embedMgr == nil {
		return nil, fmt.Errorf("no embedding model available to bootstrap ann index")
	}

	annCfg := ann.DefaultConfig(cfg.EmbeddingDim)
	annCfg.Trees = cfg.ANN.Trees
	annCfg.Metric = cfg.ANN.Metric
	idx := ann.New(annCfg)

	snap, err := st.Snapshot(ctx)
	if err != nil {
		return idx, nil // empty index; nothing stored yet
	}
	events, err := st.RepresentativeEvents(ctx, snap)
	if err != nil {
		return idx, nil
	}

	model := embedMgr.Current()
	for _, ev := range events {
		if ev.Command == "" {
			continue
		}
		vec := model.Encode(ev.Command, &embed.Context{CWDLeaf: filepath.Base(ev.CWD)})
		if err := idx.Add(vec, ann.Metadata{
			Fingerprint: ev.Fingerprint,
			CommandRef:  ev.ID,
			InsertTS:    ev.Timestamp.UnixNano(),
		}); err != nil {
			logger.Warn("bootstrap ann add failed", "event_id", ev.ID, "error", err)
		}
	}
	idx.Build()
	if err := idx.Save(paths.ANNIndex()); err != nil {
		logger.Warn("bootstrap ann checkpoint failed", "error", err)
	}
	if err := idx.WriteMeta(paths.ANNMeta()); err != nil {
		logger.Warn("bootstrap ann meta sidecar failed", "error", err)
	}
	return idx, nil
}

// managerEncoder adapts *embed.Manager (which can hot-swap its live model)
// to the suggest.Embedder interface, always encoding against the current
// model rather than a snapshot taken at startup.
type managerEncoder struct {
	mgr *embed.Manager
}

func (m managerEncoder) Encode(command string, ctx *embed.Context) embed.Vector {
	model := m.mgr.Current()
	if model == nil {
		return nil
	}
	return model.Encode(command, ctx)
}
