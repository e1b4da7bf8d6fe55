// Package main implements the combo engine API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/combolab/combo-engine/engine/combo"
	"github.com/combolab/combo-engine/engine/config"
	"github.com/combolab/combo-engine/engine/enrich"
	"github.com/combolab/combo-engine/engine/events"
	"github.com/combolab/combo-engine/engine/export"
	"github.com/combolab/combo-engine/engine/ranking"
	"github.com/combolab/combo-engine/engine/score"
	"github.com/combolab/combo-engine/engine/store"
	"github.com/combolab/combo-engine/engine/store/backend"
	"github.com/combolab/combo-engine/engine/store/rediscache"
	"github.com/combolab/combo-engine/engine/upstream"
	"github.com/combolab/combo-engine/pkg/metrics"
	"github.com/combolab/combo-engine/pkg/mid"
	"github.com/combolab/combo-engine/pkg/natsutil"
	"github.com/combolab/combo-engine/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port           string
	ConfigFile     string
	DatabaseURL    string
	SQLitePath     string
	RedisURL       string
	SearchURL      string
	SearchKey      string
	NATSURL        string
	Neo4jURL       string
	Neo4jUser      string
	Neo4jPass      string
	CORSOrigin     string
	RegisterApps   bool
	RequestTimeout time.Duration
}

func loadConfig() Config {
	return Config{
		Port:           envOr("PORT", "8080"),
		ConfigFile:     os.Getenv("CONFIG_FILE"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		SQLitePath:     os.Getenv("SQLITE_PATH"),
		RedisURL:       os.Getenv("REDIS_URL"),
		SearchURL:      envOr("SEARCH_API_URL", "http://localhost:8090"),
		SearchKey:      os.Getenv("SEARCH_API_KEY"),
		NATSURL:        os.Getenv("NATS_URL"),
		Neo4jURL:       os.Getenv("NEO4J_URL"),
		Neo4jUser:      envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:      envOr("NEO4J_PASS", "password"),
		CORSOrigin:     envOr("CORS_ORIGIN", "*"),
		RegisterApps:   envBool("REGISTER_APPS", true),
		RequestTimeout: envDuration("REQUEST_TIMEOUT", 2*time.Minute),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tuning, err := config.Load(cfg.ConfigFile)
	if err != nil {
		return err
	}
	m := metrics.New()

	// --- Stores ---
	durable, err := backend.Open(ctx, backend.Config{DatabaseURL: cfg.DatabaseURL, SQLitePath: cfg.SQLitePath, Migrate: true}, logger)
	if err != nil {
		return err
	}
	defer durable.Close()

	var rankings store.RankingStore = durable
	if cfg.RedisURL != "" {
		cache, err := rediscache.Open(ctx, cfg.RedisURL, 2*tuning.Ranking.TTL)
		if err != nil {
			return err
		}
		defer cache.Close()
		rankings = store.NewTiered(cache, durable, logger)
	}

	// --- Ranking pipeline ---
	client := upstream.New(cfg.SearchURL, cfg.SearchKey, upstream.DefaultTimeout)
	breaker := resilience.NewBreaker(ranking.ObserveBreaker("search", tuning.BreakerOpts(), logger, m))
	gate := tuning.Gate()
	pipe := ranking.New(client, rankings, gate, breaker, tuning.RankingOptions(), logger, m)

	scorer, err := score.NewScorer(tuning.Weights)
	if err != nil {
		return err
	}
	opts := enrich.Options{Limit: tuning.Selection.Limit, RegisterApps: cfg.RegisterApps}

	// --- Optional collaborators ---
	var refresher refreshRequester
	if cfg.NATSURL != "" {
		nc, err := natsutil.Connect(cfg.NATSURL, "combo-api", logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		pub := events.NewPublisher(nc)
		opts.Notifier = pub
		refresher = pub
	}
	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(context.Background())
		opts.Exporter = export.New(driver)
	}

	svc := enrich.New(combo.NewGenerator(tuning.GeneratorOptions()), scorer, pipe, durable, opts, logger)

	// --- Build HTTP server ---
	s := &server{
		svc:       svc,
		breaker:   pipe,
		gate:      gate,
		health:    durable,
		refresher: refresher,
		logger:    logger,
	}
	handler := mid.Chain(s.routes(m.Handler()),
		mid.RequestID(),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("combo-api"),
		mid.Deadline(cfg.RequestTimeout),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port, "search_url", cfg.SearchURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
