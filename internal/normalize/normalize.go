// Package normalize canonicalizes municipality and locality names into
// comparison keys.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Separator joins the municipality and locality halves of a composite key.
const Separator = "_"

// accentFolder maps the decorated Latin letters found in the source data to
// their base letter. Input is uppercased before folding.
var accentFolder = strings.NewReplacer(
	"Á", "A", "À", "A", "Ä", "A", "Â", "A", "Ã", "A", "Å", "A",
	"É", "E", "È", "E", "Ë", "E", "Ê", "E",
	"Í", "I", "Ì", "I", "Ï", "I", "Î", "I",
	"Ó", "O", "Ò", "O", "Ö", "O", "Ô", "O", "Õ", "O",
	"Ú", "U", "Ù", "U", "Ü", "U", "Û", "U",
	"Ñ", "N", "Ç", "C",
)

var nonKeyRe = regexp.MustCompile(`[^A-Z0-9]`)

// Key standardizes a place name for exact-key matching by:
//  1. Trimming whitespace and converting to uppercase
//  2. Folding accented vowels, Ñ and Ç to their base letter
//  3. Removing every character outside [A-Z0-9]
//
// Empty input yields an empty key. Key is idempotent.
func Key(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	text = strings.ToUpper(text)
	text = accentFolder.Replace(text)
	return nonKeyRe.ReplaceAllString(text, "")
}

// CompositeKey joins the keys of a municipality and a locality.
func CompositeKey(municipality, locality string) string {
	return Key(municipality) + Separator + Key(locality)
}

// adminPrefixes are leading tokens dropped by Strict.
var adminPrefixes = map[string]bool{
	"VEREDA":    true,
	"VDA":       true,
	"MUNICIPIO": true,
	"MUN":       true,
}

// connectors are interior tokens dropped by Strict.
var connectors = map[string]bool{
	"DE":  true,
	"DEL": true,
	"LA":  true,
	"LAS": true,
	"EL":  true,
	"LOS": true,
	"Y":   true,
	"E":   true,
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Strict is the normalization used against authoritative reference names.
// It folds diacritics through full Unicode decomposition, uppercases,
// replaces punctuation with spaces, collapses whitespace, removes leading
// administrative prefixes (VEREDA, VDA, MUNICIPIO, MUN) and drops connector
// words that sit between two other tokens. Tokens stay single-space separated.
func Strict(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	folded, _, err := transform.String(stripMarks, text)
	if err != nil {
		folded = text
	}
	folded = strings.ToUpper(folded)
	folded = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return ' '
	}, folded)

	tokens := strings.Fields(folded)
	for len(tokens) > 1 && adminPrefixes[tokens[0]] {
		tokens = tokens[1:]
	}

	if len(tokens) > 2 {
		kept := make([]string, 0, len(tokens))
		kept = append(kept, tokens[0])
		for _, tok := range tokens[1 : len(tokens)-1] {
			if connectors[tok] {
				continue
			}
			kept = append(kept, tok)
		}
		kept = append(kept, tokens[len(tokens)-1])
		tokens = kept
	}

	return strings.Join(tokens, " ")
}

// StrictCompositeKey joins the strict forms of a municipality and a locality.
func StrictCompositeKey(municipality, locality string) string {
	return Strict(municipality) + Separator + Strict(locality)
}

// KeyFunc builds a composite key from a municipality and a locality.
type KeyFunc func(municipality, locality string) string
