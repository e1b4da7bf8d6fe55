package combo

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/combolab/combo-engine/engine/domain"
)

// DefaultStopwords are connectors that never carry search intent on their own.
var DefaultStopwords = []string{"a", "an", "and", "by", "for", "in", "of", "on", "or", "the", "to", "with"}

// MinTokenRunes is the shortest token kept.
const MinTokenRunes = 2

// Tokenizer turns free text into normalized tokens.
type Tokenizer struct {
	stop map[string]struct{}
}

// NewTokenizer creates a Tokenizer. A nil stoplist uses DefaultStopwords;
// an empty non-nil one disables stopword removal.
func NewTokenizer(stopwords []string) *Tokenizer {
	if stopwords == nil {
		stopwords = DefaultStopwords
	}
	stop := make(map[string]struct{}, len(stopwords))
	for _, w := range stopwords {
		stop[Normalize(w)] = struct{}{}
	}
	return &Tokenizer{stop: stop}
}

// Normalize lowercases text, drops apostrophes, turns every other
// non-alphanumeric rune into a space and collapses whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Words returns the normalized words of text without filtering.
func Words(text string) []string {
	return strings.Fields(Normalize(text))
}

// Keep reports whether a normalized word survives filtering.
func (t *Tokenizer) Keep(word string) bool {
	if utf8.RuneCountInString(word) < MinTokenRunes {
		return false
	}
	_, stop := t.stop[word]
	return !stop
}

// Tokens tokenizes one field. Order is preserved; duplicates are kept so
// that n-gram windows follow the original text.
func (t *Tokenizer) Tokens(text string, src domain.Source) []domain.Token {
	var out []domain.Token
	for _, w := range Words(text) {
		if t.Keep(w) {
			out = append(out, domain.Token{Text: w, Source: src})
		}
	}
	return out
}
