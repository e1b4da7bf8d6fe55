package combo

import (
	"reflect"
	"testing"

	"github.com/combolab/combo-engine/engine/domain"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Daily  Habit-Tracker!": "daily habit tracker",
		"Don't Stop":            "dont stop",
		"  ":                    "",
		"Café 24/7":             "café 24 7",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTokenizer_DropsStopwordsAndShortTokens(t *testing.T) {
	tok := NewTokenizer(nil)
	got := tok.Tokens("The Habit Tracker for a Calm X Life", domain.SourceTitle)
	var words []string
	for _, tk := range got {
		words = append(words, tk.Text)
		if tk.Source != domain.SourceTitle {
			t.Fatalf("token %q has source %v", tk.Text, tk.Source)
		}
	}
	want := []string{"habit", "tracker", "calm", "life"}
	if !reflect.DeepEqual(words, want) {
		t.Fatalf("tokens = %v, want %v", words, want)
	}

	none := NewTokenizer([]string{})
	if len(none.Tokens("the cat", domain.SourceTitle)) != 2 {
		t.Fatal("empty stoplist should keep stopwords")
	}
}

func TestGenerate_Scenario(t *testing.T) {
	g := NewGenerator(Options{})
	col := g.Generate(domain.Metadata{Title: "Daily Habit Tracker", Subtitle: "Mindfulness App"}, "en-us", domain.PlatformIOS)

	daily, ok := col.Get("daily habit")
	if !ok {
		t.Fatal("missing combo \"daily habit\"")
	}
	if daily.Sources != domain.SetOf(domain.SourceTitle) || daily.WordCount != 2 || daily.Tier != 1 {
		t.Errorf("daily habit = %+v, want title 2-word tier 1", daily)
	}

	cross, ok := col.Get("habit mindfulness")
	if !ok {
		t.Fatal("missing combo \"habit mindfulness\"")
	}
	if cross.Sources != domain.SetOf(domain.SourceTitle, domain.SourceSubtitle) || cross.WordCount != 2 || cross.Tier != 2 {
		t.Errorf("habit mindfulness = %+v, want title+subtitle 2-word tier 2", cross)
	}

	if _, ok := col.Get("daily habit tracker"); !ok {
		t.Error("missing 3-word title window")
	}
	if _, ok := col.Get("mindfulness habit"); ok {
		t.Error("cross-field pairs must keep field order")
	}
	if _, ok := col.Get("daily habit mindfulness"); ok {
		t.Error("cross-field combos longer than two words must not be generated")
	}
}

func TestGenerate_FourPlusWindows(t *testing.T) {
	g := NewGenerator(Options{})
	col := g.Generate(domain.Metadata{Title: "one two three four five"}, "en", domain.PlatformIOS)
	// windows: 4 of size 2, 3 of size 3, 2 of size 4, 1 of size 5
	if col.Len() != 10 {
		t.Fatalf("expected 10 combos, got %d: %v", col.Len(), col.Texts())
	}
	five, ok := col.Get("one two three four five")
	if !ok || five.Tier != 4 {
		t.Errorf("5-word title combo = %+v, %v", five, ok)
	}

	capped := NewGenerator(Options{MaxWords: 3}).Generate(domain.Metadata{Title: "one two three four five"}, "en", domain.PlatformIOS)
	if capped.Len() != 7 {
		t.Errorf("expected 7 combos with MaxWords=3, got %d", capped.Len())
	}
}

func TestGenerate_NoDuplicateTexts(t *testing.T) {
	g := NewGenerator(Options{})
	col := g.Generate(domain.Metadata{
		Title:    "Habit Tracker Habit Tracker",
		Subtitle: "Habit Tracker",
		Custom:   []string{"habit tracker", "tracker"},
	}, "en", domain.PlatformAndroid)

	seen := map[string]bool{}
	for _, c := range col.All() {
		if seen[c.Text] {
			t.Fatalf("duplicate combo %q", c.Text)
		}
		seen[c.Text] = true
	}

	// title window beats subtitle window and custom phrase of the same text
	ht, _ := col.Get("habit tracker")
	if ht.Tier != 1 || ht.Sources != domain.SetOf(domain.SourceTitle) {
		t.Errorf("habit tracker = %+v, want strongest classification", ht)
	}
}

func TestGenerate_CustomPhrasesAndEmptyFields(t *testing.T) {
	g := NewGenerator(Options{})
	col := g.Generate(domain.Metadata{Custom: []string{"Self Care", "sleep", "tips for sleep", "", "x"}}, "en", domain.PlatformIOS)

	sc, ok := col.Get("self care")
	if !ok || sc.Origin != domain.OriginCustom || sc.Sources != domain.SetOf(domain.SourceCustom) {
		t.Fatalf("self care = %+v, %v", sc, ok)
	}
	tfs, ok := col.Get("tips for sleep")
	if !ok || tfs.WordCount != 3 || tfs.Tier != 8 {
		t.Fatalf("tips for sleep = %+v, %v", tfs, ok)
	}
	// phrases are not split into smaller windows
	if _, ok := col.Get("tips sleep"); ok {
		t.Error("custom phrase must not be re-tokenized")
	}
	// a single custom keyword alone cannot form a combo
	if col.Len() != 2 {
		t.Errorf("expected 2 combos, got %v", col.Texts())
	}

	empty := g.Generate(domain.Metadata{}, "en", domain.PlatformIOS)
	if empty.Len() != 0 {
		t.Errorf("empty metadata produced %v", empty.Texts())
	}
}

func TestGenerate_CustomKeywordsPairWithTitle(t *testing.T) {
	g := NewGenerator(Options{})
	col := g.Generate(domain.Metadata{Title: "Habit", Custom: []string{"journal"}}, "en", domain.PlatformIOS)
	c, ok := col.Get("habit journal")
	if !ok || c.Tier != 3 {
		t.Fatalf("habit journal = %+v, %v", c, ok)
	}
	if col.Len() != 1 {
		t.Errorf("expected only the cross-field pair, got %v", col.Texts())
	}
}

func TestCollection_CustomAndGeneratedTogether(t *testing.T) {
	g := NewGenerator(Options{})
	col := g.Generate(domain.Metadata{Title: "Sleep Sounds", Custom: []string{"white noise"}}, "en", domain.PlatformIOS)

	if got, ok := col.Get("white noise"); !ok || got.Origin != domain.OriginCustom {
		t.Errorf("custom combo = %+v", got)
	}
	if got, ok := col.Get("sleep sounds"); !ok || got.Origin != domain.OriginGenerated {
		t.Errorf("generated combo = %+v", got)
	}
	if all := col.All(); len(all) != col.Len() {
		t.Errorf("All returned %d of %d combos", len(all), col.Len())
	}
}

func TestReclassifyIsIdempotent(t *testing.T) {
	g := NewGenerator(Options{})
	all := g.Generate(domain.Metadata{Title: "Focus Timer Pro", Subtitle: "Study Better"}, "en", domain.PlatformIOS).All()
	once := Reclassify(all)
	twice := Reclassify(once)
	if !reflect.DeepEqual(all, once) || !reflect.DeepEqual(once, twice) {
		t.Fatal("reclassification changed tiers")
	}
}
