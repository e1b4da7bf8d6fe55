// Package domain defines the core types, error taxonomy and request
// validation shared by the combo engine packages. It acts as the validation
// gate at the API entry points.
package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Source tags which metadata field contributed a token.
type Source uint8

const (
	SourceTitle Source = 1 << iota
	SourceSubtitle
	SourceCustom
)

// Sources lists every source in field order.
var Sources = []Source{SourceTitle, SourceSubtitle, SourceCustom}

func (s Source) String() string {
	switch s {
	case SourceTitle:
		return "title"
	case SourceSubtitle:
		return "subtitle"
	case SourceCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseSource parses a source tag name.
func ParseSource(name string) (Source, error) {
	for _, s := range Sources {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("domain: unknown source %q", name)
}

// SourceSet is the set of sources that contributed tokens to a combo.
type SourceSet uint8

// SetOf builds a SourceSet from individual sources.
func SetOf(srcs ...Source) SourceSet {
	var s SourceSet
	for _, src := range srcs {
		s |= SourceSet(src)
	}
	return s
}

// Has reports whether src is in the set.
func (s SourceSet) Has(src Source) bool { return s&SourceSet(src) != 0 }

// With returns the set extended by src.
func (s SourceSet) With(src Source) SourceSet { return s | SourceSet(src) }

// Empty reports whether no source is set.
func (s SourceSet) Empty() bool { return s&SourceSet(SourceTitle|SourceSubtitle|SourceCustom) == 0 }

// List returns the member sources in field order.
func (s SourceSet) List() []Source {
	var out []Source
	for _, src := range Sources {
		if s.Has(src) {
			out = append(out, src)
		}
	}
	return out
}

// Key is the canonical name of the set, e.g. "title+subtitle".
func (s SourceSet) Key() string {
	names := make([]string, 0, 3)
	for _, src := range s.List() {
		names = append(names, src.String())
	}
	return strings.Join(names, "+")
}

func (s SourceSet) String() string { return s.Key() }

// ParseSourceSet parses a Key back into a set.
func ParseSourceSet(key string) (SourceSet, error) {
	var s SourceSet
	if key == "" {
		return s, nil
	}
	for _, name := range strings.Split(key, "+") {
		src, err := ParseSource(name)
		if err != nil {
			return 0, err
		}
		s = s.With(src)
	}
	return s, nil
}

// MarshalText encodes the set as its Key.
func (s SourceSet) MarshalText() ([]byte, error) { return []byte(s.Key()), nil }

// UnmarshalText decodes a Key.
func (s *SourceSet) UnmarshalText(b []byte) error {
	v, err := ParseSourceSet(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Token is a normalized lowercase word tagged with its source field.
type Token struct {
	Text   string `json:"text"`
	Source Source `json:"-"`
}

// Origin says how a combo entered the collection.
type Origin string

const (
	OriginGenerated Origin = "generated"
	OriginCustom    Origin = "custom"
)

// Tier is a combo strength class. Tier 1 is the strongest, Tier 10 the weakest.
type Tier int

const (
	TierNone  Tier = 0
	TierFirst Tier = 1
	TierLast  Tier = 10
	TierCount      = 10
)

// Valid reports whether t is one of the ten tiers.
func (t Tier) Valid() bool { return t >= TierFirst && t <= TierLast }

// Stronger reports whether t ranks above o.
func (t Tier) Stronger(o Tier) bool { return t < o }

// Strength maps a tier onto (0,1], 1.0 for Tier 1 and 0.1 for Tier 10.
func (t Tier) Strength() float64 {
	if !t.Valid() {
		return 0
	}
	return float64(TierLast+1-t) / float64(TierCount)
}

// Combo is a candidate multi-word keyword phrase. Text is the identity within
// one (locale, platform).
type Combo struct {
	Text      string    `json:"text"`
	Sources   SourceSet `json:"sources"`
	WordCount int       `json:"wordCount"`
	Tier      Tier      `json:"tier"`
	Origin    Origin    `json:"origin"`
}

// Words splits the combo text into its tokens.
func (c Combo) Words() []string { return strings.Fields(c.Text) }

// PriorityComponents are the per-factor inputs of a PriorityScore, each in [0,1].
type PriorityComponents struct {
	TierWeight  float64 `json:"tierWeight"`
	Popularity  float64 `json:"popularity"`
	LengthPrior float64 `json:"lengthPrior"`
	Trend       float64 `json:"trend"`
	Recency     float64 `json:"recency"`
}

// PriorityScore is the composite 0-100 value used for top-N selection.
type PriorityScore struct {
	Value      float64            `json:"value"`
	Components PriorityComponents `json:"components"`
}

// ScoredCombo pairs a combo with its priority. They share one lifecycle.
type ScoredCombo struct {
	Combo
	Priority PriorityScore `json:"priority"`
}

// Platform is the app store platform.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// Metadata holds the app fields combos are generated from.
type Metadata struct {
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle"`
	Custom   []string `json:"custom"`
}

// App is the owning entity rankings reference.
type App struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Platform       Platform  `json:"platform"`
	CreatedAt      time.Time `json:"createdAt"`
}

// AppContext identifies the app a ranking batch runs for.
type AppContext struct {
	AppID          string
	OrganizationID string
}

// StoredCombo is a combo persisted for an app in a locale and platform.
type StoredCombo struct {
	AppID    string
	Locale   string
	Platform Platform
	Combo    Combo
}

// PopularityRecord is the persisted popularity estimate for a keyword.
type PopularityRecord struct {
	Keyword           string    `json:"keyword"`
	Locale            string    `json:"locale"`
	Platform          Platform  `json:"platform"`
	PopularityScore   int       `json:"popularityScore"`
	AutocompleteScore float64   `json:"autocompleteScore"`
	IntentScore       float64   `json:"intentScore"`
	LengthPrior       float64   `json:"lengthPrior"`
	LastCheckedAt     time.Time `json:"lastCheckedAt"`
}

// RankingStatus explains how a ranking record was obtained.
type RankingStatus string

const (
	StatusFetched       RankingStatus = "fetched"
	StatusCached        RankingStatus = "cached"
	StatusStale         RankingStatus = "stale"
	StatusEphemeral     RankingStatus = "ephemeral"
	StatusUnpersisted   RankingStatus = "unpersisted"
	StatusBreakerOpen   RankingStatus = "breaker_open"
	StatusRateLimited   RankingStatus = "rate_limited"
	StatusUpstreamError RankingStatus = "upstream_error"
	StatusTimeout       RankingStatus = "timeout"
)

// RankingKey identifies a ranking record. Position depends on the app, so
// the app is part of the key.
type RankingKey struct {
	AppID    string
	Combo    string
	Locale   string
	Platform Platform
}

func (k RankingKey) String() string {
	return k.AppID + "|" + k.Locale + "|" + string(k.Platform) + "|" + k.Combo
}

// RankingRecord is the competition and store position of a combo.
// A nil TotalResults means unknown and is never the same as zero.
type RankingRecord struct {
	AppID        string        `json:"appId"`
	Combo        string        `json:"combo"`
	Locale       string        `json:"locale"`
	Platform     Platform      `json:"platform"`
	TotalResults *int          `json:"totalResults"`
	Position     *int          `json:"position"`
	CheckedAt    time.Time     `json:"checkedAt"`
	Status       RankingStatus `json:"status"`
	Stale        bool          `json:"stale,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Key returns the record's identity.
func (r RankingRecord) Key() RankingKey {
	return RankingKey{AppID: r.AppID, Combo: r.Combo, Locale: r.Locale, Platform: r.Platform}
}

// Known reports whether the competition count is known.
func (r RankingRecord) Known() bool { return r.TotalResults != nil }

// Match is one entry of a search result page.
type Match struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SearchResult is the response of the search signal source.
type SearchResult struct {
	ResultCount int     `json:"resultCount"`
	TopMatches  []Match `json:"topMatches"`
}

// PositionOf returns the 1-based position of appID in TopMatches, or nil.
func (r SearchResult) PositionOf(appID string) *int {
	for i, m := range r.TopMatches {
		if m.ID == appID {
			return IntPtr(i + 1)
		}
	}
	return nil
}

// AutocompleteSignal is the response of the autocomplete signal source.
type AutocompleteSignal struct {
	Present bool `json:"present"`
	Rank    *int `json:"rank"`
}

// LengthPrior scores shorter phrases higher: single words and pairs are
// broad terms, long phrases decay toward 0.
func LengthPrior(words int) float64 {
	switch {
	case words <= 1:
		return 1.0
	case words == 2:
		return 0.85
	case words == 3:
		return 0.6
	case words == 4:
		return 0.4
	default:
		return max(0, 0.4-0.1*float64(words-4))
	}
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// SortCombos orders combos by text.
func SortCombos(cs []Combo) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Text < cs[j].Text })
}
