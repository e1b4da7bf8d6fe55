// Package ranking resolves competition counts and store positions for
// batches of combos. Every combo is answered: from the cache while fresh,
// otherwise from the search endpoint behind a shared rate limiter and
// circuit breaker, and with a null result when neither is possible.
package ranking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/combolab/combo-engine/engine/combo"
	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/engine/store"
	"github.com/combolab/combo-engine/pkg/fn"
	"github.com/combolab/combo-engine/pkg/metrics"
	"github.com/combolab/combo-engine/pkg/resilience"
)

// Defaults for Options.
const (
	DefaultChunkSize   = 25
	DefaultWorkers     = 8
	DefaultGateTimeout = 30 * time.Second
	DefaultCallTimeout = 15 * time.Second
)

// Searcher is the search signal source.
type Searcher interface {
	Search(ctx context.Context, term, locale string, platform domain.Platform) (domain.SearchResult, error)
}

// SearchFunc adapts a function to Searcher.
type SearchFunc func(ctx context.Context, term, locale string, platform domain.Platform) (domain.SearchResult, error)

func (f SearchFunc) Search(ctx context.Context, term, locale string, platform domain.Platform) (domain.SearchResult, error) {
	return f(ctx, term, locale, platform)
}

// Options tunes the pipeline.
type Options struct {
	// ChunkSize is how many combos are processed per chunk.
	ChunkSize int
	// Workers bounds concurrent lookups inside a chunk.
	Workers int
	// TTL is how long a cached ranking stays fresh.
	TTL time.Duration
	// GateTimeout bounds the wait for a rate limiter slot.
	GateTimeout time.Duration
	// CallTimeout bounds a single search call and its persistence.
	CallTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.TTL <= 0 {
		o.TTL = store.DefaultTTL
	}
	if o.GateTimeout <= 0 {
		o.GateTimeout = DefaultGateTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	return o
}

// Request is one batch.
type Request struct {
	App      domain.AppContext
	Combos   []string
	Locale   string
	Platform domain.Platform
	// Refresh bypasses fresh cache entries.
	Refresh bool
	// OnChunk is called after each chunk with the number of combos done.
	OnChunk func(done, total int)
}

// Batch is the outcome of FetchRankings.
type Batch struct {
	// Results is keyed by normalized combo text.
	Results map[string]domain.RankingRecord
	// Partial is set when any result is unknown, stale or could not be persisted.
	Partial bool
}

// Pipeline fetches rankings. The gate and breaker are shared by every batch
// the pipeline runs, and normally by every pipeline in the process.
type Pipeline struct {
	search  Searcher
	store   store.RankingStore
	gate    resilience.Gate
	breaker *resilience.Breaker
	opts    Options
	log     *slog.Logger
	metrics *metrics.Registry
	group   singleflight.Group
	now     func() time.Time
}

// New creates a pipeline.
func New(search Searcher, st store.RankingStore, gate resilience.Gate, breaker *resilience.Breaker, opts Options, logger *slog.Logger, m *metrics.Registry) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		search:  search,
		store:   st,
		gate:    gate,
		breaker: breaker,
		opts:    opts.withDefaults(),
		log:     logger,
		metrics: m,
		now:     time.Now,
	}
}

// ObserveBreaker returns opts with a state change hook that logs transitions
// and exports them as the named breaker's gauge.
func ObserveBreaker(name string, opts resilience.BreakerOpts, logger *slog.Logger, m *metrics.Registry) resilience.BreakerOpts {
	if logger == nil {
		logger = slog.Default()
	}
	next := opts.OnStateChange
	opts.OnStateChange = func(from, to resilience.State) {
		logger.Warn("ranking: breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		m.BreakerState(name, int(to))
		if next != nil {
			next(from, to)
		}
	}
	return opts
}

// BreakerState reports the shared breaker's state.
func (p *Pipeline) BreakerState() resilience.State { return p.breaker.State() }

// BreakerFailures reports how many failures the shared breaker holds in its window.
func (p *Pipeline) BreakerFailures() int { return p.breaker.Failures() }

// FetchRankings resolves every combo of the request. It never fails as a
// whole: combos that cannot be resolved come back with a nil TotalResults
// and a status saying why. Combos not started before ctx is done are marked
// as timed out.
func (p *Pipeline) FetchRankings(ctx context.Context, req Request) Batch {
	start := time.Now()
	texts := normalizeAll(req.Combos)
	ctx, end := fn.Span(ctx, "ranking.fetch_batch",
		attribute.String("app.id", req.App.AppID),
		attribute.String("locale", req.Locale),
		attribute.Int("combos", len(texts)),
	)
	defer end(nil)

	out := Batch{Results: make(map[string]domain.RankingRecord, len(texts))}
	keys := fn.Map(texts, func(t string) domain.RankingKey {
		return domain.RankingKey{AppID: req.App.AppID, Combo: t, Locale: req.Locale, Platform: req.Platform}
	})

	done := 0
	for _, chunk := range fn.Chunk(keys, p.opts.ChunkSize) {
		recs := fn.ParMap(ctx, chunk, p.opts.Workers,
			func(ctx context.Context, k domain.RankingKey) domain.RankingRecord {
				return p.resolve(ctx, k, req.Refresh)
			},
			func(k domain.RankingKey, err error) domain.RankingRecord {
				return unknown(k, domain.StatusTimeout, err, p.now())
			},
		)
		for _, rec := range recs {
			out.Results[rec.Combo] = rec
			if !rec.Known() || rec.Stale || rec.Status == domain.StatusUnpersisted {
				out.Partial = true
			}
		}
		done += len(chunk)
		if req.OnChunk != nil {
			req.OnChunk(done, len(keys))
		}
	}

	p.metrics.Batch(start, len(keys))
	if out.Partial {
		p.log.Info("ranking: batch partial", "app_id", req.App.AppID, "combos", len(keys), "duration", time.Since(start))
	}
	return out
}

// Resolve answers a single combo the way FetchRankings does.
func (p *Pipeline) Resolve(ctx context.Context, app domain.AppContext, text, locale string, platform domain.Platform, refresh bool) domain.RankingRecord {
	key := domain.RankingKey{AppID: app.AppID, Combo: combo.Normalize(text), Locale: locale, Platform: platform}
	return p.resolve(ctx, key, refresh)
}

func (p *Pipeline) resolve(ctx context.Context, key domain.RankingKey, refresh bool) domain.RankingRecord {
	// A refresh skips fresh entries but still falls back to them.
	var stale *domain.RankingRecord
	cached, err := p.store.GetRanking(ctx, key)
	switch {
	case err == nil && !refresh && store.Fresh(cached, p.opts.TTL, p.now()):
		p.metrics.CacheLookup(metrics.CacheHit)
		cached.Status = domain.StatusCached
		return cached
	case err == nil:
		p.metrics.CacheLookup(metrics.CacheStale)
		stale = &cached
	case errors.Is(err, domain.ErrNotFound):
		p.metrics.CacheLookup(metrics.CacheMiss)
	default:
		p.metrics.CacheLookup(metrics.CacheMiss)
		p.log.Warn("ranking: cache read failed", "key", key.String(), "error", err)
	}

	rec, err := p.shared(ctx, key)
	if err == nil {
		return rec
	}
	if stale != nil {
		s := *stale
		s.Status = domain.StatusStale
		s.Stale = true
		s.Error = err.Error()
		return s
	}
	return unknown(key, statusOf(err), err, p.now())
}

// shared collapses concurrent fetches of the same key into one upstream
// call. The call itself is detached from the first caller's cancellation so
// other waiters are not failed by it; every waiter still honors its own ctx.
func (p *Pipeline) shared(ctx context.Context, key domain.RankingKey) (domain.RankingRecord, error) {
	leader := false
	ch := p.group.DoChan(key.String(), func() (any, error) {
		leader = true
		return p.fetch(context.WithoutCancel(ctx), key)
	})
	select {
	case <-ctx.Done():
		return domain.RankingRecord{}, ctx.Err()
	case res := <-ch:
		if !leader {
			p.metrics.InflightShared()
		}
		if res.Err != nil {
			return domain.RankingRecord{}, res.Err
		}
		return res.Val.(domain.RankingRecord), nil
	}
}

// fetch runs one gated, breaker-protected search and persists the result.
func (p *Pipeline) fetch(ctx context.Context, key domain.RankingKey) (domain.RankingRecord, error) {
	// An open breaker answers before a limiter slot is spent.
	if p.breaker.State() == resilience.StateOpen {
		p.metrics.UpstreamCall(metrics.OutcomeBreakerOpen)
		return domain.RankingRecord{}, resilience.ErrCircuitOpen
	}

	waitStart := time.Now()
	err := resilience.WaitTimeout(ctx, p.gate, p.opts.GateTimeout)
	p.metrics.LimiterWait(waitStart)
	if err != nil {
		p.metrics.UpstreamCall(outcomeOf(err))
		return domain.RankingRecord{}, err
	}

	search := fn.TracedStage[domain.RankingKey, domain.SearchResult]("ranking.search", func(ctx context.Context, k domain.RankingKey) fn.Result[domain.SearchResult] {
		cctx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
		defer cancel()
		return fn.FromPair[domain.SearchResult](p.search.Search(cctx, k.Combo, k.Locale, k.Platform))
	}, attribute.String("combo", key.Combo))

	// Rejected requests reach the caller but are recorded as answered calls.
	var rejected error
	res, err := resilience.CallResult(p.breaker, ctx, func(ctx context.Context) fn.Result[domain.SearchResult] {
		r := search(ctx, key)
		if _, err := r.Unwrap(); err != nil && !tripsBreaker(err) {
			rejected = err
			return fn.Ok(domain.SearchResult{})
		}
		return r
	}).Unwrap()
	if rejected != nil {
		err = rejected
	}
	p.metrics.UpstreamCall(outcomeOf(err))
	if err != nil {
		p.log.Debug("ranking: search failed", "key", key.String(), "error", err)
		return domain.RankingRecord{}, err
	}

	rec := domain.RankingRecord{
		AppID:        key.AppID,
		Combo:        key.Combo,
		Locale:       key.Locale,
		Platform:     key.Platform,
		TotalResults: domain.IntPtr(res.ResultCount),
		Position:     res.PositionOf(key.AppID),
		CheckedAt:    p.now(),
	}
	return p.persist(ctx, rec), nil
}

// persist stores rec and reports the outcome in its status. A failed write
// never discards the fetched values.
func (p *Pipeline) persist(ctx context.Context, rec domain.RankingRecord) domain.RankingRecord {
	pctx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()

	err := p.store.UpsertRanking(pctx, rec)
	switch {
	case err == nil:
		p.metrics.Persist("ok")
		rec.Status = domain.StatusFetched
	case errors.Is(err, domain.ErrReferential):
		p.metrics.Persist("ephemeral")
		p.log.Warn("ranking: persist skipped, referential integrity",
			"app_id", rec.AppID, "combo", rec.Combo, "locale", rec.Locale, "error", err)
		rec.Status = domain.StatusEphemeral
	default:
		p.metrics.Persist("error")
		p.log.Error("ranking: persist failed", "app_id", rec.AppID, "combo", rec.Combo, "error", err)
		rec.Status = domain.StatusUnpersisted
		rec.Error = err.Error()
	}
	return rec
}

// tripsBreaker reports whether a search failure counts against the shared
// breaker. Upstream errors count only when transient.
func tripsBreaker(err error) bool {
	if errors.Is(err, domain.ErrUpstream) {
		return domain.IsTransient(err)
	}
	return true
}

func unknown(key domain.RankingKey, status domain.RankingStatus, err error, now time.Time) domain.RankingRecord {
	rec := domain.RankingRecord{
		AppID:     key.AppID,
		Combo:     key.Combo,
		Locale:    key.Locale,
		Platform:  key.Platform,
		CheckedAt: now,
		Status:    status,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

func statusOf(err error) domain.RankingStatus {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return domain.StatusBreakerOpen
	case errors.Is(err, resilience.ErrRateLimited):
		return domain.StatusRateLimited
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return domain.StatusTimeout
	default:
		return domain.StatusUpstreamError
	}
}

func outcomeOf(err error) string {
	switch statusOf(err) {
	case domain.StatusBreakerOpen:
		return metrics.OutcomeBreakerOpen
	case domain.StatusRateLimited:
		return metrics.OutcomeRateLimited
	case domain.StatusTimeout:
		return metrics.OutcomeTimeout
	}
	if err != nil {
		return metrics.OutcomeError
	}
	return metrics.OutcomeOK
}

// normalizeAll normalizes and de-duplicates combo texts, dropping empties.
func normalizeAll(texts []string) []string {
	norm := fn.Filter(fn.Map(texts, combo.Normalize), func(s string) bool { return s != "" })
	return fn.UniqueBy(norm, func(s string) string { return s })
}
