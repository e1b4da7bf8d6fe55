// Package popularity estimates search interest for tokens and combos from
// autocomplete presence, participation across the combo set and length.
package popularity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/combolab/combo-engine/engine/combo"
	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/pkg/fn"
	"github.com/combolab/combo-engine/pkg/metrics"
	"github.com/combolab/combo-engine/pkg/resilience"
)

// Factor weights of the popularity formula.
const (
	AutocompleteWeight = 0.6
	IntentWeight       = 0.3
	LengthWeight       = 0.1
)

// DefaultRankWindow is how many autocomplete suggestions are ranked.
const DefaultRankWindow = 10

// Autocompleter is the autocomplete signal source.
type Autocompleter interface {
	Autocomplete(ctx context.Context, term, locale string, platform domain.Platform) (domain.AutocompleteSignal, error)
}

// Store is the persistence the batch refresh needs.
type Store interface {
	ListCombos(ctx context.Context) ([]domain.StoredCombo, error)
	UpsertPopularity(ctx context.Context, rec domain.PopularityRecord) error
}

// Config tunes the estimator.
type Config struct {
	// RankWindow is the autocomplete window ranks are normalized against.
	RankWindow int
	// Workers bounds concurrent autocomplete calls during a refresh.
	Workers int
	// Gate paces autocomplete calls. Nil means unpaced.
	Gate resilience.Gate
}

// Estimator computes PopularityRecords.
type Estimator struct {
	ac      Autocompleter
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// New creates an Estimator.
func New(ac Autocompleter, cfg Config, logger *slog.Logger, m *metrics.Registry) *Estimator {
	if cfg.RankWindow <= 0 {
		cfg.RankWindow = DefaultRankWindow
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{ac: ac, cfg: cfg, log: logger, metrics: m, now: time.Now}
}

// Score combines the three factors into a 0-100 popularity score.
func Score(autocomplete, intent, lengthPrior float64) int {
	v := math.Round(100 * (AutocompleteWeight*autocomplete + IntentWeight*intent + LengthWeight*lengthPrior))
	return int(math.Max(0, math.Min(100, v)))
}

// AutocompleteScore normalizes an autocomplete signal to [0,1]. Absent terms
// score 0, ranked terms decay linearly over the window and present terms
// without a rank score 0.5.
func AutocompleteScore(sig domain.AutocompleteSignal, window int) float64 {
	if !sig.Present {
		return 0
	}
	if sig.Rank == nil {
		return 0.5
	}
	if window <= 0 {
		window = DefaultRankWindow
	}
	floor := 1 / float64(2*window)
	r := max(*sig.Rank, 1)
	return math.Max(floor, 1-float64(r-1)/float64(window))
}

// Estimate builds the popularity record for a token or combo. idx supplies
// the intent factor and may be nil.
func (e *Estimator) Estimate(ctx context.Context, keyword, locale string, platform domain.Platform, idx *IntentIndex) (domain.PopularityRecord, error) {
	keyword = combo.Normalize(keyword)
	if keyword == "" {
		return domain.PopularityRecord{}, domain.NewValidationError("keyword", keyword, domain.ErrMissingField)
	}
	if e.cfg.Gate != nil {
		if err := e.cfg.Gate.Wait(ctx); err != nil {
			return domain.PopularityRecord{}, fmt.Errorf("popularity: wait: %w", err)
		}
	}
	sig, err := e.ac.Autocomplete(ctx, keyword, locale, platform)
	if err != nil {
		return domain.PopularityRecord{}, fmt.Errorf("popularity: autocomplete %q: %w", keyword, err)
	}

	ac := AutocompleteScore(sig, e.cfg.RankWindow)
	intent := idx.Score(keyword)
	lp := domain.LengthPrior(len(combo.Words(keyword)))
	return domain.PopularityRecord{
		Keyword:           keyword,
		Locale:            locale,
		Platform:          platform,
		PopularityScore:   Score(ac, intent, lp),
		AutocompleteScore: ac,
		IntentScore:       intent,
		LengthPrior:       lp,
		LastCheckedAt:     e.now().UTC(),
	}, nil
}

// Report summarizes a batch refresh.
type Report struct {
	Groups   int `json:"groups"`
	Keywords int `json:"keywords"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
}

type groupKey struct {
	locale   string
	platform domain.Platform
}

// RefreshAll re-estimates every token and combo found in the stored combo
// data and upserts the records. Keywords whose autocomplete call fails keep
// their previous record. Re-running with unchanged signals yields the same
// scores.
func (e *Estimator) RefreshAll(ctx context.Context, st Store) (Report, error) {
	ctx, end := fn.Span(ctx, "popularity.refresh")
	stored, err := st.ListCombos(ctx)
	if err != nil {
		end(err)
		return Report{}, fmt.Errorf("popularity: list combos: %w", err)
	}

	groups := make(map[groupKey][]domain.Combo)
	for _, sc := range stored {
		k := groupKey{sc.Locale, sc.Platform}
		groups[k] = append(groups[k], sc.Combo)
	}
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].locale != keys[j].locale {
			return keys[i].locale < keys[j].locale
		}
		return keys[i].platform < keys[j].platform
	})

	var rep Report
	for _, k := range keys {
		n, failed := e.refreshGroup(ctx, st, k, groups[k])
		rep.Groups++
		rep.Keywords += n
		rep.Failed += failed
		rep.Updated += n - failed
	}
	e.log.Info("popularity: refresh done",
		"groups", rep.Groups, "keywords", rep.Keywords, "updated", rep.Updated, "failed", rep.Failed)
	end(ctx.Err())
	return rep, ctx.Err()
}

func (e *Estimator) refreshGroup(ctx context.Context, st Store, k groupKey, combos []domain.Combo) (total, failed int) {
	idx := NewIntentIndex(combos)
	keywords := Universe(combos)

	results := fn.ParMap(ctx, keywords, e.cfg.Workers,
		func(ctx context.Context, kw string) error {
			rec, err := e.Estimate(ctx, kw, k.locale, k.platform, idx)
			if err != nil {
				return err
			}
			return st.UpsertPopularity(ctx, rec)
		},
		func(_ string, err error) error { return err },
	)
	for i, err := range results {
		if err == nil {
			e.metrics.PopularityRefreshed("ok")
			continue
		}
		failed++
		e.metrics.PopularityRefreshed("error")
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			e.log.Warn("popularity: keyword skipped", "keyword", keywords[i], "locale", k.locale, "platform", k.platform, "error", err)
		}
	}
	return len(keywords), failed
}

// Universe returns the distinct tokens and combo texts of a combo set, sorted.
func Universe(combos []domain.Combo) []string {
	seen := make(map[string]struct{})
	for _, c := range combos {
		seen[c.Text] = struct{}{}
		for _, w := range c.Words() {
			seen[w] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for kw := range seen {
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}
