package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/combolab/combo-engine/engine/combo"
	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/engine/events"
	"github.com/combolab/combo-engine/engine/ranking"
	"github.com/combolab/combo-engine/engine/score"
	"github.com/combolab/combo-engine/engine/store/memstore"
)

const orgID = "5b4b1c1e-7a55-4c38-9d61-1f0c1c0e2a10"

type fakeRanker struct {
	reqs []ranking.Request
	f    func(text string) domain.RankingRecord
}

func (r *fakeRanker) FetchRankings(_ context.Context, req ranking.Request) ranking.Batch {
	r.reqs = append(r.reqs, req)
	b := ranking.Batch{Results: map[string]domain.RankingRecord{}}
	for _, c := range req.Combos {
		text := combo.Normalize(c)
		rec := r.f(text)
		rec.Combo = text
		b.Results[text] = rec
		if !rec.Known() {
			b.Partial = true
		}
	}
	return b
}

type recordingNotifier struct{ got []events.RankingsUpdated }

func (n *recordingNotifier) RankingsUpdated(_ context.Context, ev events.RankingsUpdated) error {
	n.got = append(n.got, ev)
	return nil
}

type recordingExporter struct{ combos []domain.Combo }

func (e *recordingExporter) Export(_ context.Context, _ domain.AppContext, _ string, _ domain.Platform, combos []domain.Combo) error {
	e.combos = combos
	return errors.New("neo4j down")
}

func newService(t *testing.T, r Ranker, st Store, opts Options) *Service {
	t.Helper()
	sc, err := score.NewScorer(score.DefaultWeights)
	if err != nil {
		t.Fatal(err)
	}
	return New(combo.NewGenerator(combo.Options{}), sc, r, st, opts, nil)
}

func known(n int) func(string) domain.RankingRecord {
	return func(string) domain.RankingRecord {
		return domain.RankingRecord{TotalResults: domain.IntPtr(n), Status: domain.StatusFetched}
	}
}

func TestEnrichValidation(t *testing.T) {
	svc := newService(t, &fakeRanker{f: known(1)}, memstore.New(), Options{})
	cases := []struct {
		name string
		req  domain.EnrichRequest
		want error
	}{
		{"missing app", domain.EnrichRequest{OrganizationID: orgID, Locale: "en", Platform: "ios", Combos: []string{"a b"}}, domain.ErrMissingField},
		{"bad org", domain.EnrichRequest{AppID: "a", OrganizationID: "x", Locale: "en", Platform: "ios", Combos: []string{"a b"}}, domain.ErrInvalidOrg},
		{"bad platform", domain.EnrichRequest{AppID: "a", OrganizationID: orgID, Locale: "en", Platform: "web", Combos: []string{"a b"}}, domain.ErrInvalidPlatform},
		{"no combos", domain.EnrichRequest{AppID: "a", OrganizationID: orgID, Locale: "en", Platform: "ios"}, domain.ErrNoCombos},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Enrich(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEnrichResponse(t *testing.T) {
	st := memstore.New()
	_ = st.UpsertPopularity(context.Background(), domain.PopularityRecord{
		Keyword: "self care", Locale: "en-us", Platform: domain.PlatformIOS, PopularityScore: 64,
	})
	r := &fakeRanker{f: func(text string) domain.RankingRecord {
		if text == "self care" {
			return domain.RankingRecord{TotalResults: domain.IntPtr(158), Position: domain.IntPtr(3), Status: domain.StatusEphemeral}
		}
		return domain.RankingRecord{Status: domain.StatusBreakerOpen}
	}}
	n := &recordingNotifier{}
	svc := newService(t, r, st, Options{Notifier: n})

	resp, err := svc.Enrich(context.Background(), domain.EnrichRequest{
		AppID: "app-1", OrganizationID: orgID, Locale: "en_US", Platform: domain.PlatformIOS,
		Combos: []string{"Self Care", "self care", "mood journal"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.BatchID == "" || !resp.Partial || len(resp.Results) != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	sc := resp.Results[0]
	if sc.Combo != "self care" || *sc.TotalResults != 158 || *sc.Position != 3 || sc.PopularityScore == nil || *sc.PopularityScore != 64 {
		t.Fatalf("unexpected self care result %+v", sc)
	}
	mj := resp.Results[1]
	if mj.TotalResults != nil || mj.Position != nil || mj.PopularityScore != nil || mj.Status != domain.StatusBreakerOpen {
		t.Fatalf("expected nulls for mood journal, got %+v", mj)
	}
	if r.reqs[0].Locale != "en-us" {
		t.Fatalf("locale not normalized: %q", r.reqs[0].Locale)
	}
	if len(n.got) != 1 || n.got[0].Unknown != 1 || n.got[0].BatchID != resp.BatchID {
		t.Fatalf("unexpected events %+v", n.got)
	}
}

func TestEnrichRegistersAppsWhenEnabled(t *testing.T) {
	st := memstore.New()
	svc := newService(t, &fakeRanker{f: known(1)}, st, Options{RegisterApps: true})
	if _, err := svc.Enrich(context.Background(), domain.EnrichRequest{
		AppID: "app-9", OrganizationID: orgID, Locale: "en", Platform: domain.PlatformAndroid, Combos: []string{"a b"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertRanking(context.Background(), domain.RankingRecord{AppID: "app-9", Combo: "a b", CheckedAt: time.Now()}); err != nil {
		t.Fatalf("app should be registered: %v", err)
	}
}

func TestAnalyze(t *testing.T) {
	st := memstore.New()
	r := &fakeRanker{f: known(40)}
	exp := &recordingExporter{}
	svc := newService(t, r, st, Options{Exporter: exp})

	out, err := svc.Analyze(context.Background(), domain.AnalyzeRequest{
		AppID: "app-1", OrganizationID: orgID, Locale: "en", Platform: domain.PlatformIOS,
		Metadata: domain.Metadata{Title: "Daily Habit Tracker", Subtitle: "Mindfulness App"},
		Trends:   map[string]float64{"daily habit": 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Generated == 0 || len(out.Combos) != out.Generated || out.Truncated || out.Partial {
		t.Fatalf("unexpected analysis %+v", out)
	}
	if out.Combos[0].Text != "daily habit" {
		t.Fatalf("expected the title pair first, got %q", out.Combos[0].Text)
	}
	for i := 1; i < len(out.Combos); i++ {
		if score.Less(out.Combos[i].ScoredCombo, out.Combos[i-1].ScoredCombo) {
			t.Fatalf("combos not in priority order at %d", i)
		}
	}
	for _, c := range out.Combos {
		if c.Ranking == nil || *c.Ranking.TotalResults != 40 {
			t.Fatalf("missing ranking for %q", c.Text)
		}
	}
	stored, _ := st.ListCombos(context.Background())
	if len(stored) != out.Generated {
		t.Fatalf("expected %d stored combos, got %d", out.Generated, len(stored))
	}
	if len(exp.combos) != out.Generated {
		t.Fatal("export should see the whole collection even when it fails")
	}
}

func TestAnalyzeTruncates(t *testing.T) {
	r := &fakeRanker{f: known(1)}
	svc := newService(t, r, memstore.New(), Options{Limit: 3})

	out, err := svc.Analyze(context.Background(), domain.AnalyzeRequest{
		AppID: "app-1", OrganizationID: orgID, Locale: "en", Platform: domain.PlatformIOS,
		Metadata: domain.Metadata{Title: "Calm Sleep Sounds Rain Noise"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Truncated || len(out.Combos) != 3 || len(r.reqs[0].Combos) != 3 {
		t.Fatalf("expected 3 truncated combos, got %+v", out)
	}
}

func TestAnalyzeNothingGenerated(t *testing.T) {
	r := &fakeRanker{f: known(1)}
	svc := newService(t, r, memstore.New(), Options{})
	out, err := svc.Analyze(context.Background(), domain.AnalyzeRequest{
		AppID: "app-1", OrganizationID: orgID, Locale: "en", Platform: domain.PlatformIOS,
		Metadata: domain.Metadata{Title: "Calm"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Generated != 0 || len(out.Combos) != 0 || len(r.reqs) != 0 {
		t.Fatalf("expected empty analysis, got %+v", out)
	}
}

func TestPopularity(t *testing.T) {
	st := memstore.New()
	_ = st.UpsertPopularity(context.Background(), domain.PopularityRecord{Keyword: "sleep", Locale: "en", Platform: domain.PlatformIOS, PopularityScore: 80})
	svc := newService(t, &fakeRanker{f: known(1)}, st, Options{})

	rec, err := svc.Popularity(context.Background(), " Sleep ", "EN", domain.PlatformIOS)
	if err != nil || rec.PopularityScore != 80 {
		t.Fatalf("got %+v, %v", rec, err)
	}
	if _, err := svc.Popularity(context.Background(), "rain", "en", domain.PlatformIOS); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Popularity(context.Background(), "", "en", domain.PlatformIOS); !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}
