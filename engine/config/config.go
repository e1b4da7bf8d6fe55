// Package config loads the engine's tuning file. Process settings such as
// addresses and credentials stay in the environment; this file holds the
// business parameters operators adjust without a redeploy.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/combolab/combo-engine/engine/combo"
	"github.com/combolab/combo-engine/engine/popularity"
	"github.com/combolab/combo-engine/engine/ranking"
	"github.com/combolab/combo-engine/engine/score"
	"github.com/combolab/combo-engine/engine/store"
	"github.com/combolab/combo-engine/pkg/resilience"
)

// Config is the tuning file.
type Config struct {
	Weights    score.Weights    `yaml:"weights"`
	Selection  SelectionConfig  `yaml:"selection"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Ranking    RankingConfig    `yaml:"ranking"`
	Limiter    LimiterConfig    `yaml:"limiter"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Popularity PopularityConfig `yaml:"popularity"`
}

// SelectionConfig bounds how many combos get live enrichment.
type SelectionConfig struct {
	Limit int `yaml:"limit"`
}

// GeneratorConfig tunes combo generation.
type GeneratorConfig struct {
	MaxWords  int      `yaml:"max_words"`
	Stopwords []string `yaml:"stopwords,omitempty"` // nil keeps the built-in list
}

// RankingConfig tunes the fetch pipeline.
type RankingConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	ChunkSize   int           `yaml:"chunk_size"`
	Workers     int           `yaml:"workers"`
	GateTimeout time.Duration `yaml:"gate_timeout"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// LimiterConfig bounds upstream calls per window. Mode is "sliding" (strict
// window) or "token_bucket" (smoothed, allows Burst).
type LimiterConfig struct {
	Mode   string        `yaml:"mode"`
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"window"`
	Burst  int           `yaml:"burst"`
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailThreshold int           `yaml:"fail_threshold"`
	Window        time.Duration `yaml:"window"`
	Cooldown      time.Duration `yaml:"cooldown"`
}

// PopularityConfig tunes the popularity estimator.
type PopularityConfig struct {
	RankWindow int `yaml:"rank_window"`
	Workers    int `yaml:"workers"`
	// PerMinute paces autocomplete calls. Zero means unpaced.
	PerMinute int `yaml:"per_minute"`
}

// Limiter modes.
const (
	LimiterSliding     = "sliding"
	LimiterTokenBucket = "token_bucket"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Weights:   score.DefaultWeights,
		Selection: SelectionConfig{Limit: score.DefaultLimit},
		Ranking: RankingConfig{
			TTL:         store.DefaultTTL,
			ChunkSize:   ranking.DefaultChunkSize,
			Workers:     ranking.DefaultWorkers,
			GateTimeout: ranking.DefaultGateTimeout,
			CallTimeout: ranking.DefaultCallTimeout,
		},
		Limiter: LimiterConfig{
			Mode:   LimiterSliding,
			Max:    resilience.DefaultLimiterOpts.Max,
			Window: resilience.DefaultLimiterOpts.Window,
			Burst:  1,
		},
		Breaker: BreakerConfig{
			FailThreshold: resilience.DefaultBreakerOpts.FailThreshold,
			Window:        resilience.DefaultBreakerOpts.Window,
			Cooldown:      resilience.DefaultBreakerOpts.Cooldown,
		},
		Popularity: PopularityConfig{
			RankWindow: popularity.DefaultRankWindow,
			Workers:    4,
			PerMinute:  60,
		},
	}
}

// Load reads the tuning file at path over the defaults. A missing file is
// not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values Load cannot default.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	switch c.Limiter.Mode {
	case LimiterSliding, LimiterTokenBucket:
	default:
		return fmt.Errorf("limiter mode %q: want %s or %s", c.Limiter.Mode, LimiterSliding, LimiterTokenBucket)
	}
	if c.Selection.Limit < 0 || c.Ranking.ChunkSize < 0 || c.Ranking.Workers < 0 || c.Limiter.Max < 0 {
		return errors.New("negative limits are not allowed")
	}
	return nil
}

// Gate builds the process-wide rate limiter.
func (c Config) Gate() resilience.Gate {
	if c.Limiter.Mode == LimiterTokenBucket {
		return resilience.NewTokenBucket(c.Limiter.Max, c.Limiter.Window, c.Limiter.Burst)
	}
	return resilience.NewLimiter(resilience.LimiterOpts{Max: c.Limiter.Max, Window: c.Limiter.Window})
}

// BreakerOpts returns the circuit breaker settings.
func (c Config) BreakerOpts() resilience.BreakerOpts {
	return resilience.BreakerOpts{
		FailThreshold: c.Breaker.FailThreshold,
		Window:        c.Breaker.Window,
		Cooldown:      c.Breaker.Cooldown,
	}
}

// RankingOptions returns the pipeline settings.
func (c Config) RankingOptions() ranking.Options {
	return ranking.Options{
		ChunkSize:   c.Ranking.ChunkSize,
		Workers:     c.Ranking.Workers,
		TTL:         c.Ranking.TTL,
		GateTimeout: c.Ranking.GateTimeout,
		CallTimeout: c.Ranking.CallTimeout,
	}
}

// GeneratorOptions returns the generator settings.
func (c Config) GeneratorOptions() combo.Options {
	return combo.Options{MaxWords: c.Generator.MaxWords, Stopwords: c.Generator.Stopwords}
}

// EstimatorConfig returns the popularity estimator settings. The autocomplete gate is
// a token bucket so refresh runs spread evenly over time.
func (c Config) EstimatorConfig() popularity.Config {
	pc := popularity.Config{RankWindow: c.Popularity.RankWindow, Workers: c.Popularity.Workers}
	if c.Popularity.PerMinute > 0 {
		pc.Gate = resilience.NewTokenBucket(c.Popularity.PerMinute, time.Minute, 1)
	}
	return pc
}
