package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/pkg/resilience"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ranking.TTL != 24*time.Hour || cfg.Ranking.ChunkSize != 25 || cfg.Selection.Limit != 500 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if _, ok := cfg.Gate().(*resilience.Limiter); !ok {
		t.Fatal("default gate should be the sliding window limiter")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeFile(t, `
weights:
  tier: 0.4
  popularity: 0.3
  length: 0.1
  trend: 0.1
  recency: 0.1
ranking:
  ttl: 12h
  chunk_size: 10
limiter:
  mode: token_bucket
  max: 30
  window: 1m
  burst: 5
breaker:
  cooldown: 45s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Weights.Tier != 0.4 || cfg.Ranking.TTL != 12*time.Hour || cfg.Ranking.ChunkSize != 10 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Ranking.Workers != 8 || cfg.Breaker.FailThreshold != 3 {
		t.Fatalf("unset fields must keep defaults: %+v", cfg)
	}
	if cfg.BreakerOpts().Cooldown != 45*time.Second {
		t.Fatalf("cooldown = %v", cfg.BreakerOpts().Cooldown)
	}
	if _, ok := cfg.Gate().(*resilience.TokenBucket); !ok {
		t.Fatal("expected token bucket gate")
	}
	if opts := cfg.RankingOptions(); opts.ChunkSize != 10 || opts.TTL != 12*time.Hour {
		t.Fatalf("ranking options %+v", opts)
	}
}

func TestLoadRejectsBadWeights(t *testing.T) {
	path := writeFile(t, "weights:\n  tier: 0.9\n")
	_, err := Load(path)
	if !errors.Is(err, domain.ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights, got %v", err)
	}
}

func TestLoadRejectsUnknownLimiterMode(t *testing.T) {
	if _, err := Load(writeFile(t, "limiter:\n  mode: leaky\n")); err == nil {
		t.Fatal("expected error for unknown limiter mode")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	if _, err := Load(writeFile(t, "ranking: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEstimatorConfig(t *testing.T) {
	cfg := Default()
	if pc := cfg.EstimatorConfig(); pc.Gate == nil || pc.RankWindow != 10 {
		t.Fatalf("unexpected estimator config %+v", pc)
	}
	cfg.Popularity.PerMinute = 0
	if pc := cfg.EstimatorConfig(); pc.Gate != nil {
		t.Fatal("expected unpaced estimator")
	}
}
