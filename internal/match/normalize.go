// Package match implements the response matching engine: it scores inbound
// utterances against the training corpus with several similarity algorithms,
// fuses the scores into a single confidence, caches results and supports
// online learning.
package match

import (
	"strings"
	"unicode"

	"github.com/zapdesk/zapdesk/internal/models"
)

// accentReplacer folds the accented characters of Brazilian Portuguese input.
var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"í", "i", "ì", "i", "î", "i", "ï", "i",
	"ó", "o", "ò", "o", "ô", "o", "õ", "o", "ö", "o",
	"ú", "u", "ù", "u", "û", "u", "ü", "u",
	"ç", "c", "ñ", "n",
)

// Sanitize strips control characters and markup artifacts from raw input and
// caps its length. It is applied before any other processing.
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case inTag:
			// skip markup content
		case unicode.IsControl(r) && r != '\n' && r != '\t':
			// skip control characters
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	runes := []rune(out)
	if len(runes) > models.MaxMessageLength {
		out = string(runes[:models.MaxMessageLength])
	}
	return out
}

// Normalize lowercases, folds accents and collapses punctuation and
// whitespace, producing the canonical form used for scoring and cache keys.
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = accentReplacer.Replace(text)

	var b strings.Builder
	b.Grow(len(text))
	lastSpace := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			// punctuation, symbols and whitespace all collapse to one space
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokenize splits normalized text into its word tokens.
func Tokenize(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

// tokenSet builds a set from tokens.
func tokenSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}
