package combo

import (
	"sort"

	"github.com/combolab/combo-engine/engine/domain"
)

// Collection is the single set of combos for one app in one locale and
// platform. Generated and custom combos live side by side, told apart by
// Origin, and every derived view reads from here.
type Collection struct {
	Locale   string
	Platform domain.Platform
	byText   map[string]domain.Combo
}

// NewCollection creates an empty collection.
func NewCollection(locale string, platform domain.Platform) *Collection {
	return &Collection{Locale: locale, Platform: platform, byText: make(map[string]domain.Combo)}
}

// Add inserts c, keeping at most one combo per text. On a collision the
// stronger tier wins; equal tiers keep the lexically smaller source key, so
// the result does not depend on insertion order. Reports whether c was kept.
func (c *Collection) Add(cb domain.Combo) bool {
	cur, ok := c.byText[cb.Text]
	if ok && !replaces(cb, cur) {
		return false
	}
	c.byText[cb.Text] = cb
	return true
}

func replaces(next, cur domain.Combo) bool {
	if next.Tier != cur.Tier {
		return next.Tier.Stronger(cur.Tier)
	}
	if next.Sources != cur.Sources {
		return next.Sources.Key() < cur.Sources.Key()
	}
	// Same classification: a custom phrase keeps its origin.
	return next.Origin == domain.OriginCustom && cur.Origin != domain.OriginCustom
}

// Get returns the combo with the given normalized text.
func (c *Collection) Get(text string) (domain.Combo, bool) {
	cb, ok := c.byText[text]
	return cb, ok
}

// Len returns the number of combos.
func (c *Collection) Len() int { return len(c.byText) }

// All returns every combo ordered by text.
func (c *Collection) All() []domain.Combo {
	out := make([]domain.Combo, 0, len(c.byText))
	for _, cb := range c.byText {
		out = append(out, cb)
	}
	domain.SortCombos(out)
	return out
}

// Texts returns every combo text in order.
func (c *Collection) Texts() []string {
	out := make([]string, 0, len(c.byText))
	for t := range c.byText {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
