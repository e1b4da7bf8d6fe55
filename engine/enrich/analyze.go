package enrich

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/engine/ranking"
	"github.com/combolab/combo-engine/engine/score"
)

// AnalyzedCombo is one selected combo with its priority and live data.
type AnalyzedCombo struct {
	domain.ScoredCombo
	PopularityScore *int                  `json:"popularityScore"`
	Ranking         *domain.RankingRecord `json:"ranking"`
}

// Analysis is the response of Analyze.
type Analysis struct {
	BatchID   string          `json:"batchId"`
	AppID     string          `json:"appId"`
	Locale    string          `json:"locale"`
	Platform  domain.Platform `json:"platform"`
	Generated int             `json:"generated"`
	Truncated bool            `json:"truncated"`
	Partial   bool            `json:"partial"`
	Combos    []AnalyzedCombo `json:"combos"`
}

// Analyze generates the app's combo collection from its metadata, stores
// it, scores every combo, selects the top ones and enriches them.
func (s *Service) Analyze(ctx context.Context, req domain.AnalyzeRequest) (Analysis, error) {
	if err := domain.ValidateAnalyzeRequest(req); err != nil {
		return Analysis{}, err
	}
	locale := domain.NormalizeLocale(req.Locale)
	app := domain.AppContext{AppID: req.AppID, OrganizationID: req.OrganizationID}
	batchID := ulid.Make().String()

	col := s.gen.Generate(req.Metadata, locale, req.Platform)
	all := col.All()
	out := Analysis{
		BatchID: batchID, AppID: req.AppID, Locale: locale, Platform: req.Platform,
		Generated: len(all), Combos: []AnalyzedCombo{},
	}
	if len(all) == 0 {
		return out, nil
	}

	s.registerApp(ctx, app, req.Platform)
	if err := s.store.SaveCombos(ctx, app.AppID, locale, req.Platform, all); err != nil {
		s.logger.Warn("enrich: save combos failed", "app_id", app.AppID, "error", err)
	}
	if s.opts.Exporter != nil {
		if err := s.opts.Exporter.Export(ctx, app, locale, req.Platform, all); err != nil {
			s.logger.Warn("enrich: export failed", "app_id", app.AppID, "error", err)
		}
	}

	pops := make(map[string]*int, len(all))
	scored := make([]domain.ScoredCombo, len(all))
	for i, c := range all {
		pop, err := s.store.GetPopularity(ctx, c.Text, locale, req.Platform)
		switch {
		case err == nil:
			pops[c.Text] = domain.IntPtr(pop.PopularityScore)
		case !errors.Is(err, domain.ErrNotFound):
			s.logger.Warn("enrich: popularity lookup failed", "combo", c.Text, "error", err)
		}
		sig := score.Signals{Trend: req.Trends[c.Text], LastSeen: pop.LastCheckedAt}
		scored[i] = domain.ScoredCombo{Combo: c, Priority: s.scorer.Score(c, c.Tier, pop, sig)}
	}

	limit := req.Limit
	if limit <= 0 || limit > s.opts.Limit {
		limit = s.opts.Limit
	}
	sel := score.Select(scored, limit)
	out.Truncated = sel.Truncated
	if sel.Truncated {
		s.logger.Warn("enrich: candidate set truncated",
			"batch_id", batchID, "app_id", app.AppID, "generated", sel.Total, "selected", len(sel.Items))
	}

	batch := s.ranker.FetchRankings(ctx, ranking.Request{
		App: app, Combos: sel.Texts(), Locale: locale, Platform: req.Platform, Refresh: req.Refresh,
	})
	out.Partial = batch.Partial

	out.Combos = make([]AnalyzedCombo, len(sel.Items))
	for i, it := range sel.Items {
		ac := AnalyzedCombo{ScoredCombo: it, PopularityScore: pops[it.Text]}
		if rec, ok := batch.Results[it.Text]; ok {
			ac.Ranking = &rec
		}
		out.Combos[i] = ac
	}

	s.notify(ctx, batchID, app, locale, req.Platform, batch)
	s.logger.Info("enrich: analysis done",
		"batch_id", batchID, "app_id", app.AppID, "generated", len(all), "selected", len(sel.Items), "partial", out.Partial)
	return out, nil
}
