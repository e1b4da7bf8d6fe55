package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/combolab/combo-engine/engine/combo"
	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/engine/popularity"
	"github.com/combolab/combo-engine/engine/store/memstore"
	"github.com/combolab/combo-engine/pkg/fn"
)

type fakeAutocomplete struct{}

func (fakeAutocomplete) Autocomplete(_ context.Context, term, _ string, _ domain.Platform) (domain.AutocompleteSignal, error) {
	if term == "habit" {
		return domain.AutocompleteSignal{Present: true, Rank: domain.IntPtr(1)}, nil
	}
	return domain.AutocompleteSignal{}, nil
}

type flakyEstimator struct {
	mu    sync.Mutex
	calls int
	fails int
}

func (f *flakyEstimator) RefreshAll(context.Context, popularity.Store) (popularity.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return popularity.Report{}, errors.New("list combos: db down")
	}
	return popularity.Report{Groups: 1, Keywords: 3, Updated: 3}, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)) }

func fastRetry() fn.RetryOpts {
	return fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
}

func TestRefreshWritesPopularity(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(memstore.WithoutAppCheck())
	col := combo.NewGenerator(combo.Options{}).Generate(domain.Metadata{Title: "Habit Tracker"}, "en", domain.PlatformIOS)
	if err := st.SaveCombos(ctx, "app-1", "en", domain.PlatformIOS, col.All()); err != nil {
		t.Fatal(err)
	}

	est := popularity.New(fakeAutocomplete{}, popularity.Config{}, quietLogger(), nil)
	r := newRefresher(est, st, quietLogger())
	rep, err := r.refresh(ctx, "test")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Updated == 0 || rep.Failed != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}

	habit, err := st.GetPopularity(ctx, "habit", "en", domain.PlatformIOS)
	if err != nil {
		t.Fatal(err)
	}
	tracker, err := st.GetPopularity(ctx, "tracker", "en", domain.PlatformIOS)
	if err != nil {
		t.Fatal(err)
	}
	if habit.PopularityScore <= tracker.PopularityScore {
		t.Fatalf("autocomplete hit must score higher: habit=%d tracker=%d", habit.PopularityScore, tracker.PopularityScore)
	}
}

func TestRefreshRetries(t *testing.T) {
	est := &flakyEstimator{fails: 2}
	r := newRefresher(est, nil, quietLogger())
	r.retry = fastRetry()
	rep, err := r.refresh(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if est.calls != 3 || rep.Updated != 3 {
		t.Fatalf("expected success on the third attempt, calls=%d report=%+v", est.calls, rep)
	}

	est = &flakyEstimator{fails: 5}
	r = newRefresher(est, nil, quietLogger())
	r.retry = fastRetry()
	if _, err := r.refresh(context.Background(), "test"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestTriggerCoalesces(t *testing.T) {
	ch := make(chan string, 1)
	trigger(ch, "a")
	trigger(ch, "b")
	if len(ch) != 1 || <-ch != "a" {
		t.Fatal("expected pending triggers to coalesce")
	}
}

func TestLoopRunsPerTrigger(t *testing.T) {
	est := &flakyEstimator{}
	r := newRefresher(est, nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	triggers := make(chan string)
	done := make(chan struct{})
	go func() {
		r.loop(ctx, triggers)
		close(done)
	}()

	triggers <- "one"
	triggers <- "two"
	// the unbuffered send above returns once the first run is over
	cancel()
	<-done

	est.mu.Lock()
	defer est.mu.Unlock()
	if est.calls < 1 || est.calls > 2 {
		t.Fatalf("expected one run per trigger, got %d", est.calls)
	}
}
