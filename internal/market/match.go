package market

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Alias1177/TruthMesh/models"
)

var stopwords = map[string]struct{}{
	"will": {}, "this": {}, "that": {}, "with": {}, "from": {}, "into": {}, "over": {},
}

// Keywords returns the lowercase content words of text longer than three characters
func Keywords(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// Matches reports whether the question shares at least one keyword with any of texts
func Matches(question string, texts ...string) bool {
	q := Keywords(question)
	if len(q) == 0 {
		return false
	}
	for _, text := range texts {
		for w := range Keywords(text) {
			if _, ok := q[w]; ok {
				return true
			}
		}
	}
	return false
}

// OutcomeFor maps a prediction value to a binary market outcome
func OutcomeFor(value float64) string {
	if value > 0.5 {
		return models.OutcomeYes
	}
	return models.OutcomeNo
}
