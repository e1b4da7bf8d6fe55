// Package enrich orchestrates the engine for the dashboard: the batch
// enrichment of caller-supplied combos and the full analysis of an app's
// metadata (generate, classify, score, select, enrich).
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/combolab/combo-engine/engine/combo"
	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/engine/events"
	"github.com/combolab/combo-engine/engine/ranking"
	"github.com/combolab/combo-engine/engine/score"
	"github.com/combolab/combo-engine/engine/store"
)

// Store is the persistence the service needs.
type Store interface {
	store.AppStore
	store.ComboStore
	store.PopularityStore
}

// Ranker fetches rankings for a batch.
type Ranker interface {
	FetchRankings(ctx context.Context, req ranking.Request) ranking.Batch
}

// Exporter writes an app's combo collection to a derived view.
type Exporter interface {
	Export(ctx context.Context, app domain.AppContext, locale string, platform domain.Platform, combos []domain.Combo) error
}

// Notifier is told about every completed batch.
type Notifier interface {
	RankingsUpdated(ctx context.Context, ev events.RankingsUpdated) error
}

// Options configures the service.
type Options struct {
	// Limit is the default number of combos enriched per analysis.
	Limit int
	// RegisterApps registers the app before batch enrichment writes
	// reference it. Analysis always registers the app it saves combos for.
	RegisterApps bool
	Exporter     Exporter
	Notifier     Notifier
}

// Service is the enrichment service.
type Service struct {
	gen    *combo.Generator
	scorer *score.Scorer
	ranker Ranker
	store  Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Service.
func New(gen *combo.Generator, scorer *score.Scorer, ranker Ranker, st Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Limit <= 0 {
		opts.Limit = score.DefaultLimit
	}
	return &Service{gen: gen, scorer: scorer, ranker: ranker, store: st, opts: opts, logger: logger, now: time.Now}
}

// Result is one combo of a batch enrichment response. Nil numbers are
// unknown, never zero.
type Result struct {
	Combo           string               `json:"combo"`
	TotalResults    *int                 `json:"totalResults"`
	Position        *int                 `json:"position"`
	PopularityScore *int                 `json:"popularityScore"`
	Status          domain.RankingStatus `json:"status"`
	Stale           bool                 `json:"stale,omitempty"`
}

// Response is the batch enrichment response.
type Response struct {
	BatchID string   `json:"batchId"`
	Results []Result `json:"results"`
	Partial bool     `json:"partial"`
}

// Enrich resolves rankings and popularity for the requested combos. Only a
// malformed request fails; per-combo failures come back as null results.
func (s *Service) Enrich(ctx context.Context, req domain.EnrichRequest) (Response, error) {
	if err := domain.ValidateEnrichRequest(req); err != nil {
		return Response{}, err
	}
	locale := domain.NormalizeLocale(req.Locale)
	app := domain.AppContext{AppID: req.AppID, OrganizationID: req.OrganizationID}
	if s.opts.RegisterApps {
		s.registerApp(ctx, app, req.Platform)
	}

	batchID := ulid.Make().String()
	batch := s.ranker.FetchRankings(ctx, ranking.Request{
		App: app, Combos: req.Combos, Locale: locale, Platform: req.Platform, Refresh: req.Refresh,
	})

	resp := Response{BatchID: batchID, Partial: batch.Partial, Results: make([]Result, 0, len(batch.Results))}
	seen := make(map[string]bool, len(req.Combos))
	for _, raw := range req.Combos {
		text := combo.Normalize(raw)
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		rec := batch.Results[text]
		resp.Results = append(resp.Results, Result{
			Combo:           text,
			TotalResults:    rec.TotalResults,
			Position:        rec.Position,
			PopularityScore: s.popularityScore(ctx, text, locale, req.Platform),
			Status:          rec.Status,
			Stale:           rec.Stale,
		})
	}

	s.notify(ctx, batchID, app, locale, req.Platform, batch)
	s.logger.Info("enrich: batch done",
		"batch_id", batchID, "app_id", req.AppID, "combos", len(resp.Results), "partial", resp.Partial)
	return resp, nil
}

// Popularity returns the stored popularity record for a keyword.
func (s *Service) Popularity(ctx context.Context, keyword, locale string, platform domain.Platform) (domain.PopularityRecord, error) {
	keyword = combo.Normalize(keyword)
	if keyword == "" {
		return domain.PopularityRecord{}, domain.NewValidationError("keyword", "", domain.ErrMissingField)
	}
	if err := domain.ValidateLocale(locale); err != nil {
		return domain.PopularityRecord{}, err
	}
	if err := domain.ValidatePlatform(platform); err != nil {
		return domain.PopularityRecord{}, err
	}
	rec, err := s.store.GetPopularity(ctx, keyword, domain.NormalizeLocale(locale), platform)
	if err != nil {
		return domain.PopularityRecord{}, fmt.Errorf("enrich: popularity %q: %w", keyword, err)
	}
	return rec, nil
}

func (s *Service) popularityScore(ctx context.Context, text, locale string, platform domain.Platform) *int {
	rec, err := s.store.GetPopularity(ctx, text, locale, platform)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("enrich: popularity lookup failed", "combo", text, "error", err)
		}
		return nil
	}
	return domain.IntPtr(rec.PopularityScore)
}

func (s *Service) registerApp(ctx context.Context, app domain.AppContext, platform domain.Platform) {
	err := s.store.RegisterApp(ctx, domain.App{
		ID: app.AppID, OrganizationID: app.OrganizationID, Platform: platform, CreatedAt: s.now(),
	})
	if err != nil {
		// Rankings still come back, just without being persisted.
		s.logger.Warn("enrich: register app failed", "app_id", app.AppID, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, batchID string, app domain.AppContext, locale string, platform domain.Platform, batch ranking.Batch) {
	if s.opts.Notifier == nil {
		return
	}
	unknown := 0
	for _, rec := range batch.Results {
		if !rec.Known() {
			unknown++
		}
	}
	ev := events.RankingsUpdated{
		BatchID: batchID, AppID: app.AppID, Locale: locale, Platform: platform,
		Combos: len(batch.Results), Unknown: unknown, Partial: batch.Partial, At: s.now().UTC(),
	}
	if err := s.opts.Notifier.RankingsUpdated(ctx, ev); err != nil {
		s.logger.Warn("enrich: publish failed", "batch_id", batchID, "error", err)
	}
}
