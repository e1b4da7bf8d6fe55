// Command refresher re-estimates the popularity of every stored combo and
// token. It runs once (-once), on a fixed interval, or whenever a message
// arrives on combo.popularity.refresh.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/combolab/combo-engine/engine/config"
	"github.com/combolab/combo-engine/engine/events"
	"github.com/combolab/combo-engine/engine/popularity"
	"github.com/combolab/combo-engine/engine/store/backend"
	"github.com/combolab/combo-engine/engine/upstream"
	"github.com/combolab/combo-engine/pkg/fn"
	"github.com/combolab/combo-engine/pkg/metrics"
	"github.com/combolab/combo-engine/pkg/natsutil"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		once        = flag.Bool("once", false, "run a single refresh and exit")
		interval    = flag.Duration("interval", 0, "refresh periodically (0 disables)")
		metricsAddr = flag.String("metrics-addr", ":9091", "address serving /metrics")
	)
	flag.Parse()
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger, *once, *interval, *metricsAddr); err != nil {
		logger.Error("refresher exited with error", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, once bool, interval time.Duration, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tuning, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return err
	}
	m := metrics.New()

	st, err := backend.Open(ctx, backend.Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
	}, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	client := upstream.New(envOr("SEARCH_API_URL", "http://localhost:8090"), os.Getenv("SEARCH_API_KEY"), upstream.DefaultTimeout)
	r := newRefresher(popularity.New(client, tuning.EstimatorConfig(), logger, m), st, logger)

	if once {
		_, err := r.refresh(ctx, "once")
		return err
	}

	triggers := make(chan string, 1)
	natsURL := os.Getenv("NATS_URL")
	if natsURL != "" {
		nc, err := natsutil.Connect(natsURL, "combo-refresher", logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		sub, err := events.OnPopularityRefresh(nc, logger, func(_ context.Context, ev events.PopularityRefresh) {
			trigger(triggers, ev.Reason)
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
	}
	if natsURL == "" && interval <= 0 {
		return errors.New("refresher: nothing to wait for, set NATS_URL, -interval or -once")
	}
	if interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					trigger(triggers, "interval")
				}
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()
	defer srv.Close()

	logger.Info("refresher waiting for triggers", "nats", natsURL != "", "interval", interval)
	r.loop(ctx, triggers)
	return nil
}

// trigger queues a run unless one is already pending.
func trigger(ch chan<- string, reason string) {
	select {
	case ch <- reason:
	default:
	}
}

type estimator interface {
	RefreshAll(ctx context.Context, st popularity.Store) (popularity.Report, error)
}

type refresher struct {
	est   estimator
	store popularity.Store
	retry fn.RetryOpts
	log   *slog.Logger
}

func newRefresher(est estimator, st popularity.Store, logger *slog.Logger) *refresher {
	return &refresher{est: est, store: st, retry: fn.DefaultRetry, log: logger}
}

// loop runs one refresh per trigger until ctx is done. Runs never overlap.
func (r *refresher) loop(ctx context.Context, triggers <-chan string) {
	for {
		select {
		case <-ctx.Done():
			r.log.Info("shutting down")
			return
		case reason := <-triggers:
			if _, err := r.refresh(ctx, reason); err != nil && ctx.Err() == nil {
				r.log.Error("refresh failed", "reason", reason, "err", err)
			}
		}
	}
}

func (r *refresher) refresh(ctx context.Context, reason string) (popularity.Report, error) {
	start := time.Now()
	res := fn.Retry(ctx, r.retry, func(ctx context.Context) fn.Result[popularity.Report] {
		return fn.FromPair[popularity.Report](r.est.RefreshAll(ctx, r.store))
	})
	rep, err := res.Unwrap()
	if err != nil {
		return rep, err
	}
	r.log.Info("refresh done",
		"reason", reason,
		"groups", rep.Groups,
		"keywords", rep.Keywords,
		"updated", rep.Updated,
		"failed", rep.Failed,
		"duration", time.Since(start),
	)
	return rep, nil
}
