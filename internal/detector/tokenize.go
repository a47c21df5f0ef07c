package detector

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// tokenize splits free-form chat text into lower-cased tokens with unicode
// normalization and combining-mark folding, so lookalike spellings of the
// same word compare equal in the similarity rule.
func tokenize(text string) []string {
	// the transform chain is stateful and must not be shared between calls
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	bare := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	folded, _, err := transform.String(normFunc, bare)
	if err != nil {
		slog.Warn("detector: unicode normalization error", "err", err)
		folded = bare
	}
	return strings.Fields(folded)
}

// tokenSet returns the distinct tokens of a text.
func tokenSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenize(text) {
		out[tok] = struct{}{}
	}
	return out
}
