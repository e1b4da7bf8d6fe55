// Package combo generates candidate keyword phrases from app metadata.
//
// Each field is tokenized on its own. Same-field combos are contiguous
// windows of 2, 3 and every size from 4 up to the field length. Cross-field
// combos pair one token of an earlier field with one token of a later field
// (title < subtitle < custom) and always have two words. Custom entries that
// already hold several words are taken as combos verbatim.
package combo

import (
	"strings"

	"github.com/combolab/combo-engine/engine/classify"
	"github.com/combolab/combo-engine/engine/domain"
)

// Options tunes the generator.
type Options struct {
	// MaxWords caps same-field window size. Zero means no cap.
	MaxWords int
	// Stopwords overrides DefaultStopwords when non-nil.
	Stopwords []string
}

// Generator builds combo collections. It is safe for concurrent use.
type Generator struct {
	tok      *Tokenizer
	maxWords int
}

// NewGenerator creates a Generator.
func NewGenerator(opts Options) *Generator {
	return &Generator{tok: NewTokenizer(opts.Stopwords), maxWords: opts.MaxWords}
}

// fieldTokens is the token stream of one source field.
type fieldTokens struct {
	src    domain.Source
	tokens []string
}

// Generate builds the unified collection for one app's metadata.
func (g *Generator) Generate(m domain.Metadata, locale string, platform domain.Platform) *Collection {
	col := NewCollection(locale, platform)

	customWords, phrases := g.splitCustom(m.Custom)
	fields := []fieldTokens{
		{src: domain.SourceTitle, tokens: g.texts(m.Title)},
		{src: domain.SourceSubtitle, tokens: g.texts(m.Subtitle)},
		{src: domain.SourceCustom, tokens: customWords},
	}

	for _, f := range fields {
		g.windows(col, f)
	}
	for i := range fields {
		for j := i + 1; j < len(fields); j++ {
			g.pairs(col, fields[i], fields[j])
		}
	}
	for _, p := range phrases {
		add(col, p, domain.SetOf(domain.SourceCustom), domain.OriginCustom)
	}
	return col
}

func (g *Generator) texts(field string) []string {
	toks := g.tok.Tokens(field, 0)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Text
	}
	return out
}

// splitCustom separates single-word custom keywords, which form the custom
// token stream, from multi-word phrases, which are combos as given.
func (g *Generator) splitCustom(custom []string) (words []string, phrases []string) {
	for _, entry := range custom {
		ws := Words(entry)
		switch {
		case len(ws) == 0:
		case len(ws) == 1:
			if g.tok.Keep(ws[0]) {
				words = append(words, ws[0])
			}
		default:
			phrases = append(phrases, strings.Join(ws, " "))
		}
	}
	return words, phrases
}

// windows adds every contiguous n-gram of size >= 2 within one field.
func (g *Generator) windows(col *Collection, f fieldTokens) {
	n := len(f.tokens)
	maxSize := n
	if g.maxWords > 0 && g.maxWords < maxSize {
		maxSize = g.maxWords
	}
	for size := 2; size <= maxSize; size++ {
		for start := 0; start+size <= n; start++ {
			add(col, strings.Join(f.tokens[start:start+size], " "), domain.SetOf(f.src), domain.OriginGenerated)
		}
	}
}

// pairs adds a then-b two-word combos across two fields.
func (g *Generator) pairs(col *Collection, a, b fieldTokens) {
	as, bs := distinct(a.tokens), distinct(b.tokens)
	for _, x := range as {
		for _, y := range bs {
			if x == y {
				continue
			}
			add(col, x+" "+y, domain.SetOf(a.src, b.src), domain.OriginGenerated)
		}
	}
}

func add(col *Collection, text string, sources domain.SourceSet, origin domain.Origin) {
	wc := len(strings.Fields(text))
	col.Add(domain.Combo{
		Text:      text,
		Sources:   sources,
		WordCount: wc,
		Tier:      classify.Classify(sources, wc),
		Origin:    origin,
	})
}

func distinct(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	var out []string
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// Reclassify recomputes tiers for already stored combos. It is a pure
// function of each combo's sources and word count.
func Reclassify(combos []domain.Combo) []domain.Combo {
	out := make([]domain.Combo, len(combos))
	for i, c := range combos {
		c.Tier = classify.Combo(c)
		out[i] = c
	}
	return out
}
