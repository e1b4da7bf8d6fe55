package classify

import (
	"testing"

	"github.com/combolab/combo-engine/engine/domain"
)

func allSourceSets() []domain.SourceSet {
	var out []domain.SourceSet
	for s := domain.SourceSet(1); s < 8; s++ {
		out = append(out, s)
	}
	return out
}

func TestClassify_TotalOverReachableInputs(t *testing.T) {
	for _, s := range allSourceSets() {
		for wc := 2; wc <= 12; wc++ {
			tier := Classify(s, wc)
			if !tier.Valid() {
				t.Errorf("Classify(%s, %d) = %d, want a valid tier", s, wc, tier)
			}
			if again := Classify(s, wc); again != tier {
				t.Errorf("Classify(%s, %d) not deterministic: %d then %d", s, wc, tier, again)
			}
		}
	}
}

func TestClassify_Unreachable(t *testing.T) {
	if got := Classify(0, 2); got != domain.TierNone {
		t.Errorf("empty sources: got %d", got)
	}
	if got := Classify(domain.SetOf(domain.SourceTitle), 1); got != domain.TierNone {
		t.Errorf("single word: got %d", got)
	}
}

func TestClassify_Table(t *testing.T) {
	ts := domain.SetOf(domain.SourceTitle, domain.SourceSubtitle)
	cases := []struct {
		sources domain.SourceSet
		words   int
		want    domain.Tier
	}{
		{domain.SetOf(domain.SourceTitle), 2, 1},
		{domain.SetOf(domain.SourceTitle), 3, 2},
		{domain.SetOf(domain.SourceTitle), 7, 4},
		{ts, 2, 2},
		{domain.SetOf(domain.SourceSubtitle, domain.SourceCustom), 4, 9},
		{domain.SetOf(domain.SourceCustom), 2, 7},
		{domain.SetOf(domain.SourceCustom), 5, 10},
	}
	for _, tc := range cases {
		if got := Classify(tc.sources, tc.words); got != tc.want {
			t.Errorf("Classify(%s, %d) = %d, want %d", tc.sources, tc.words, got, tc.want)
		}
	}
}

func TestClassify_DomainOrdering(t *testing.T) {
	titlePair := Classify(domain.SetOf(domain.SourceTitle), 2)
	customPair := Classify(domain.SetOf(domain.SourceCustom), 2)
	if !titlePair.Stronger(customPair) {
		t.Errorf("title pair (%d) should beat custom pair (%d)", titlePair, customPair)
	}
	mixedLong := Classify(domain.SetOf(domain.SourceSubtitle, domain.SourceCustom), 4)
	if !titlePair.Stronger(mixedLong) {
		t.Errorf("title pair (%d) should beat 4-word subtitle+custom (%d)", titlePair, mixedLong)
	}
}

func TestTable_CoversEverySet(t *testing.T) {
	if len(table) != len(allSourceSets()) {
		t.Fatalf("table has %d rows, want %d", len(table), len(allSourceSets()))
	}
	seen := map[domain.Tier]bool{}
	for _, tiers := range table {
		for _, tier := range tiers {
			seen[tier] = true
		}
	}
	for tier := domain.TierFirst; tier <= domain.TierLast; tier++ {
		if !seen[tier] {
			t.Errorf("tier %d is never assigned", tier)
		}
	}
}

