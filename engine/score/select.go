package score

import (
	"sort"

	"github.com/combolab/combo-engine/engine/domain"
)

// DefaultLimit is how many combos receive live enrichment.
const DefaultLimit = 500

// Selection is the outcome of a top-N selection.
type Selection struct {
	Items     []domain.ScoredCombo
	Total     int
	Truncated bool
}

// Less is the total order used for selection: higher value, then stronger
// tier, then higher popularity, then text.
func Less(a, b domain.ScoredCombo) bool {
	if a.Priority.Value != b.Priority.Value {
		return a.Priority.Value > b.Priority.Value
	}
	if a.Tier != b.Tier {
		return a.Tier.Stronger(b.Tier)
	}
	if a.Priority.Components.Popularity != b.Priority.Components.Popularity {
		return a.Priority.Components.Popularity > b.Priority.Components.Popularity
	}
	return a.Text < b.Text
}

// Select sorts a copy of items and keeps the first limit. A non-positive
// limit means DefaultLimit. Truncated is set when combos were dropped.
func Select(items []domain.ScoredCombo, limit int) Selection {
	if limit <= 0 {
		limit = DefaultLimit
	}
	sorted := make([]domain.ScoredCombo, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return Less(sorted[i], sorted[j]) })

	sel := Selection{Items: sorted, Total: len(sorted)}
	if len(sorted) > limit {
		sel.Items = sorted[:limit]
		sel.Truncated = true
	}
	return sel
}

// Texts returns the combo texts of a selection in order.
func (s Selection) Texts() []string {
	out := make([]string, len(s.Items))
	for i, it := range s.Items {
		out[i] = it.Text
	}
	return out
}
