package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestResultOkErr(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("expected ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Fatalf("unexpected unwrap: %d %v", v, err)
	}

	e := Err[int](errors.New("boom"))
	if e.IsOk() {
		t.Fatal("expected err")
	}
	if _, err := e.Unwrap(); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestFromPair(t *testing.T) {
	if FromPair(1, errors.New("x")).IsOk() {
		t.Fatal("FromPair with error should be Err")
	}
	if v, err := FromPair(2, nil).Unwrap(); v != 2 || err != nil {
		t.Fatalf("expected 2, got %d %v", v, err)
	}
}

func TestChunk(t *testing.T) {
	c := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(c) != 3 || len(c[2]) != 1 {
		t.Fatalf("unexpected chunks: %v", c)
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("Chunk with n<=0 should be nil")
	}
}

func TestUniqueBy(t *testing.T) {
	out := UniqueBy([]string{"a", "B", "b", "c"}, func(s string) string {
		if s == "B" {
			return "b"
		}
		return s
	})
	if len(out) != 3 || out[1] != "B" {
		t.Fatalf("unexpected unique: %v", out)
	}
}

func TestMapFilter(t *testing.T) {
	out := Filter(Map([]int{1, 2, 3, 4}, func(v int) int { return v * 10 }), func(v int) bool { return v > 15 })
	if len(out) != 3 || out[0] != 20 {
		t.Fatalf("unexpected: %v", out)
	}
}

func TestParMapPreservesOrderAndBoundsWorkers(t *testing.T) {
	var inFlight, peak atomic.Int32
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	out := ParMap(context.Background(), items, 3, func(_ context.Context, v int) int {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return v * v
	}, func(int, error) int { return -1 })

	for i, v := range items {
		if out[i] != v*v {
			t.Fatalf("index %d: expected %d, got %d", i, v*v, out[i])
		}
	}
	if peak.Load() > 3 {
		t.Fatalf("expected at most 3 workers, saw %d", peak.Load())
	}
}

func TestParMapSkipsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := []int{1, 2, 3, 4}
	out := ParMap(ctx, items, 1, func(_ context.Context, v int) int {
		if v == 1 {
			cancel()
		}
		return v
	}, func(_ int, err error) int {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected canceled, got %v", err)
		}
		return 0
	})
	if out[0] != 1 {
		t.Fatalf("first item should run, got %d", out[0])
	}
	for i := 2; i < len(out); i++ {
		if out[i] != 0 {
			t.Fatalf("item %d should be skipped, got %d", i, out[i])
		}
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond}, func(context.Context) Result[int] {
		calls++
		if calls < 3 {
			return Err[int](errors.New("transient"))
		}
		return Ok(calls)
	})
	if r.IsErr() || calls != 3 {
		t.Fatalf("expected success on 3rd call, calls=%d", calls)
	}
}

func TestRetryNotRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	r := Retry(context.Background(), RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context) Result[int] {
		calls++
		return Err[int](permanent)
	})
	if r.IsOk() || calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestTracedStagePassesThrough(t *testing.T) {
	stage := TracedStage("double", Stage[int, int](func(_ context.Context, v int) Result[int] {
		return Ok(v * 2)
	}))
	if v, _ := stage(context.Background(), 4).Unwrap(); v != 8 {
		t.Fatalf("expected 8, got %d", v)
	}
}
