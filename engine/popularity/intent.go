package popularity

import (
	"strings"

	"github.com/combolab/combo-engine/engine/domain"
)

// IntentIndex scores how much each token participates in a combo set.
// Every combo adds its tier strength to each distinct word it contains; the
// totals are normalized by the largest one.
type IntentIndex struct {
	weight map[string]float64
	max    float64
}

// NewIntentIndex builds an index over combos.
func NewIntentIndex(combos []domain.Combo) *IntentIndex {
	idx := &IntentIndex{weight: make(map[string]float64)}
	for _, c := range combos {
		w := c.Tier.Strength()
		seen := make(map[string]struct{}, c.WordCount)
		for _, word := range c.Words() {
			if _, ok := seen[word]; ok {
				continue
			}
			seen[word] = struct{}{}
			idx.weight[word] += w
		}
	}
	for _, v := range idx.weight {
		idx.max = max(idx.max, v)
	}
	return idx
}

// Token returns the intent score of a single word in [0,1].
func (x *IntentIndex) Token(word string) float64 {
	if x == nil || x.max == 0 {
		return 0
	}
	return x.weight[word] / x.max
}

// Score returns the intent of a token or phrase: the mean of its words.
func (x *IntentIndex) Score(keyword string) float64 {
	words := strings.Fields(keyword)
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += x.Token(w)
	}
	return sum / float64(len(words))
}

// Len returns the number of indexed tokens.
func (x *IntentIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.weight)
}
