// Package config loads and validates the suggestd configuration file.
// Options recognized here mirror spec.md §6.3; configuration is read once
// at startup and a restart is required to pick up changes.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// ANNConfig configures the approximate-nearest-neighbor index (4.E).
type ANNConfig struct {
	Trees  int    `yaml:"trees"`  // number of random-projection trees
	Metric string `yaml:"metric"` // fixed at "angular"
}

// PrivacyConfig configures the privacy filter (4.G).
type PrivacyConfig struct {
	ExcludedPaths    []string        `yaml:"excluded_paths"`
	ExcludedPatterns []ExcludedRegex `yaml:"excluded_patterns"`
}

// ExcludedRegex pairs a regex pattern with the disposition the privacy
// filter should apply when it matches.
type ExcludedRegex struct {
	Pattern string `yaml:"pattern"`
	Action  string `yaml:"action"` // "redact" or "drop"
}

// SuggestConfig configures the suggestion engine's client-facing limits.
type SuggestConfig struct {
	Max           int     `yaml:"max"`            // cap on returned candidates
	MinConfidence float64 `yaml:"min_confidence"` // candidates below this are dropped
}

// RetrainConfig configures the incremental retraining job (4.I).
type RetrainConfig struct {
	MinNewEvents int `yaml:"min_new_events"` // M_new
}

// RollingCorpusConfig bounds the rolling training corpus (4.D).
type RollingCorpusConfig struct {
	MaxLines int `yaml:"max_lines"` // N
}

// Config is the full recognized configuration surface, spec.md §6.3.
type Config struct {
	EmbeddingDim    int                 `yaml:"embedding_dim"`
	ANN             ANNConfig           `yaml:"ann"`
	Suggest         SuggestConfig       `yaml:"suggest"`
	Privacy         PrivacyConfig       `yaml:"privacy"`
	RetentionDays   int                 `yaml:"retention_days"`
	RollingCorpus   RollingCorpusConfig `yaml:"rolling_corpus"`
	Retrain         RetrainConfig       `yaml:"retrain"`
	SafetyLevel     string              `yaml:"safety_level"` // "off" | "annotate" | "block"
	SocketPath      string              `yaml:"socket_path"`
	IdleTimeoutMins int                 `yaml:"idle_timeout_mins"`
	DiagnosticsAddr string              `yaml:"diagnostics_addr"` // "" disables the /healthz surface
}

// Default returns the baseline configuration, spec.md §6.3's stated defaults.
func Default() *Config {
	return &Config{
		EmbeddingDim: 128,
		ANN: ANNConfig{
			Trees:  10,
			Metric: "angular",
		},
		Suggest: SuggestConfig{
			Max:           5,
			MinConfidence: 0.3,
		},
		Privacy: PrivacyConfig{
			ExcludedPaths: []string{
				"~/.ssh", "~/.gnupg", "~/.password-store",
			},
		},
		RetentionDays: 90,
		RollingCorpus: RollingCorpusConfig{
			MaxLines: 10000,
		},
		Retrain: RetrainConfig{
			MinNewEvents: 500,
		},
		SafetyLevel:     "annotate",
		IdleTimeoutMins: 0,
	}
}

// Load reads the config file at path, applying defaults for any field the
// file omits or sets to an invalid value. A missing file is not an error —
// it yields Default(). Invalid values fall back to defaults with a logged
// warning, per spec.md §6.3.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := Default()
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		logger.Warn("invalid config file, using defaults", "path", path, "error", err)
		return cfg, nil
	}

	cfg.applyOverrides(&loaded, logger)
	cfg.validate(logger)
	return cfg, nil
}

// applyOverrides merges any non-zero field from loaded onto cfg.
func (c *Config) applyOverrides(loaded *Config, _ *slog.Logger) {
	if loaded.EmbeddingDim != 0 {
		c.EmbeddingDim = loaded.EmbeddingDim
	}
	if loaded.ANN.Trees != 0 {
		c.ANN.Trees = loaded.ANN.Trees
	}
	if loaded.ANN.Metric != "" {
		c.ANN.Metric = loaded.ANN.Metric
	}
	if loaded.Suggest.Max != 0 {
		c.Suggest.Max = loaded.Suggest.Max
	}
	if loaded.Suggest.MinConfidence != 0 {
		c.Suggest.MinConfidence = loaded.Suggest.MinConfidence
	}
	if len(loaded.Privacy.ExcludedPaths) > 0 {
		c.Privacy.ExcludedPaths = loaded.Privacy.ExcludedPaths
	}
	if len(loaded.Privacy.ExcludedPatterns) > 0 {
		c.Privacy.ExcludedPatterns = loaded.Privacy.ExcludedPatterns
	}
	if loaded.RetentionDays != 0 {
		c.RetentionDays = loaded.RetentionDays
	}
	if loaded.RollingCorpus.MaxLines != 0 {
		c.RollingCorpus.MaxLines = loaded.RollingCorpus.MaxLines
	}
	if loaded.Retrain.MinNewEvents != 0 {
		c.Retrain.MinNewEvents = loaded.Retrain.MinNewEvents
	}
	if loaded.SafetyLevel != "" {
		c.SafetyLevel = loaded.SafetyLevel
	}
	if loaded.SocketPath != "" {
		c.SocketPath = loaded.SocketPath
	}
	if loaded.IdleTimeoutMins != 0 {
		c.IdleTimeoutMins = loaded.IdleTimeoutMins
	}
	if loaded.DiagnosticsAddr != "" {
		c.DiagnosticsAddr = loaded.DiagnosticsAddr
	}
}

// validate clamps out-of-range values back to defaults, logging a warning
// for each, per spec.md §6.3 ("Invalid values fall back to defaults with a
// warning").
func (c *Config) validate(logger *slog.Logger) {
	def := Default()
	if c.EmbeddingDim <= 0 {
		logger.Warn("invalid embedding_dim, using default", "value", c.EmbeddingDim, "default", def.EmbeddingDim)
		c.EmbeddingDim = def.EmbeddingDim
	}
	if c.ANN.Trees <= 0 {
		logger.Warn("invalid ann.trees, using default", "value", c.ANN.Trees, "default", def.ANN.Trees)
		c.ANN.Trees = def.ANN.Trees
	}
	if c.ANN.Metric != "angular" {
		logger.Warn("unsupported ann.metric, using default", "value", c.ANN.Metric, "default", def.ANN.Metric)
		c.ANN.Metric = def.ANN.Metric
	}
	if c.Suggest.Max <= 0 {
		logger.Warn("invalid suggest.max, using default", "value", c.Suggest.Max, "default", def.Suggest.Max)
		c.Suggest.Max = def.Suggest.Max
	}
	if c.Suggest.MinConfidence < 0 || c.Suggest.MinConfidence > 1 {
		logger.Warn("invalid suggest.min_confidence, using default", "value", c.Suggest.MinConfidence)
		c.Suggest.MinConfidence = def.Suggest.MinConfidence
	}
	if c.RetentionDays <= 0 {
		logger.Warn("invalid retention_days, using default", "value", c.RetentionDays)
		c.RetentionDays = def.RetentionDays
	}
	if c.RollingCorpus.MaxLines <= 0 {
		logger.Warn("invalid rolling_corpus.max_lines, using default", "value", c.RollingCorpus.MaxLines)
		c.RollingCorpus.MaxLines = def.RollingCorpus.MaxLines
	}
	if c.Retrain.MinNewEvents <= 0 {
		logger.Warn("invalid retrain.min_new_events, using default", "value", c.Retrain.MinNewEvents)
		c.Retrain.MinNewEvents = def.Retrain.MinNewEvents
	}
	switch c.SafetyLevel {
	case "off", "annotate", "block":
	default:
		logger.Warn("invalid safety_level, using default", "value", c.SafetyLevel)
		c.SafetyLevel = def.SafetyLevel
	}
}
