// Package classify assigns combos to strength tiers.
//
// The tier of a combo depends only on which fields contributed its tokens
// and how many words it has. The mapping is the table below; tier 1 is the
// strongest signal and tier 10 the weakest.
//
//	sources                  2 words  3 words  4+ words
//	title                       1        2        4
//	title+subtitle              2        3        5
//	title+subtitle+custom       2        3        5
//	title+custom                3        4        6
//	subtitle                    4        5        7
//	subtitle+custom             6        7        9
//	custom                      7        8       10
//
// Cross-field combos are only ever generated with two words, but every row is
// filled so the table stays total if that changes.
package classify

import "github.com/combolab/combo-engine/engine/domain"

// Band is a word-count column of the tier table.
type Band int

const (
	BandTwo Band = iota
	BandThree
	BandFourPlus
)

func (b Band) String() string {
	switch b {
	case BandTwo:
		return "2"
	case BandThree:
		return "3"
	default:
		return "4+"
	}
}

// BandOf returns the column for a word count. Word counts below 2 have no band.
func BandOf(wordCount int) (Band, bool) {
	switch {
	case wordCount < 2:
		return 0, false
	case wordCount == 2:
		return BandTwo, true
	case wordCount == 3:
		return BandThree, true
	default:
		return BandFourPlus, true
	}
}

var (
	title          = domain.SetOf(domain.SourceTitle)
	subtitle       = domain.SetOf(domain.SourceSubtitle)
	custom         = domain.SetOf(domain.SourceCustom)
	titleSubtitle  = domain.SetOf(domain.SourceTitle, domain.SourceSubtitle)
	titleCustom    = domain.SetOf(domain.SourceTitle, domain.SourceCustom)
	subtitleCustom = domain.SetOf(domain.SourceSubtitle, domain.SourceCustom)
	allSources     = domain.SetOf(domain.SourceTitle, domain.SourceSubtitle, domain.SourceCustom)
)

var table = map[domain.SourceSet][3]domain.Tier{
	title:          {1, 2, 4},
	titleSubtitle:  {2, 3, 5},
	allSources:     {2, 3, 5},
	titleCustom:    {3, 4, 6},
	subtitle:       {4, 5, 7},
	subtitleCustom: {6, 7, 9},
	custom:         {7, 8, 10},
}

// Classify returns the tier for a source set and word count. It returns
// domain.TierNone for inputs the generator never produces: an empty source
// set or fewer than two words.
func Classify(sources domain.SourceSet, wordCount int) domain.Tier {
	band, ok := BandOf(wordCount)
	if !ok {
		return domain.TierNone
	}
	row, ok := table[sources]
	if !ok {
		return domain.TierNone
	}
	return row[band]
}

// Combo classifies c by its sources and word count.
func Combo(c domain.Combo) domain.Tier {
	return Classify(c.Sources, c.WordCount)
}

