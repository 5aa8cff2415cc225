// Package classify assigns each place record to a rural or urban category.
package classify

import (
	"strings"

	"github.com/tolima-epi/vereda-cli/internal/model"
)

// Reasons attached to each outcome.
const (
	ReasonReference   = "found in rural reference index"
	ReasonEmpty       = "empty name"
	ReasonStrongUrban = "urban pattern matched: "
	ReasonWeakUrban   = "weak urban pattern matched"
	ReasonPlaceholder = "generic placeholder name"
	ReasonTooShort    = "name too short"
	ReasonNumeric     = "numeric-only name"
	ReasonReview      = "requires manual review"
)

// minNameLength is the shortest locality name, spaces removed, that is not
// treated as an abbreviation of an urban sector.
const minNameLength = 4

// Strong indicators that the locality is the urban seat.
var strongUrbanTokens = []string{
	"SIN VEREDA",
	"CABECERA",
	"CENTRO",
	"URBANO",
	"ZONA URBANA",
	"CASCO",
	"MUNICIPIO",
	"CIUDAD",
}

// Weaker indicators of an urban neighborhood.
var weakUrbanTokens = []string{
	"BARRIO",
	"SECTOR",
	"VILLA",
	"RESIDENCIAL",
	"COMUNA",
}

// Locality names with no qualifier.
var placeholders = map[string]bool{
	"VEREDA":  true,
	"VEREDAS": true,
}

// Lookup is the read-only view of a reference index the classifier needs.
// *reference.Index satisfies it.
type Lookup interface {
	Find(key string) (model.ReferenceEntry, bool)
	KeyFor(municipality, locality string) string
}

// Classify returns the category of rec. Rules are checked in order and the
// first match wins:
//   - rural confirmed: composite key found in the index
//   - unknown: locality empty
//   - urban confirmed: locality contains a strong urban token
//   - urban likely: locality contains a weak urban token
//   - urban confirmed: locality is exactly VEREDA or VEREDAS
//   - urban likely: fewer than 4 characters once spaces are removed
//   - urban likely: digits and whitespace only
//   - manual review: anything else
//
// Token checks are substring containment on the trimmed uppercase name.
func Classify(rec model.PlaceRecord, idx Lookup) model.Result {
	key := idx.KeyFor(rec.Municipality, rec.Locality)

	if entry, ok := idx.Find(key); ok {
		return model.Result{
			Category: model.CategoryRuralConfirmed,
			Reason:   ReasonReference,
			Key:      key,
			Match:    &entry,
		}
	}

	name := strings.ToUpper(strings.TrimSpace(rec.Locality))
	if name == "" {
		return result(model.CategoryUnknown, ReasonEmpty, key)
	}

	for _, tok := range strongUrbanTokens {
		if strings.Contains(name, tok) {
			return result(model.CategoryUrbanConfirmed, ReasonStrongUrban+name, key)
		}
	}

	for _, tok := range weakUrbanTokens {
		if strings.Contains(name, tok) {
			return result(model.CategoryUrbanLikely, ReasonWeakUrban, key)
		}
	}

	if placeholders[name] {
		return result(model.CategoryUrbanConfirmed, ReasonPlaceholder, key)
	}

	if len([]rune(strings.ReplaceAll(name, " ", ""))) < minNameLength {
		return result(model.CategoryUrbanLikely, ReasonTooShort, key)
	}

	if isNumeric(name) {
		return result(model.CategoryUrbanLikely, ReasonNumeric, key)
	}

	return result(model.CategoryManualReview, ReasonReview, key)
}

func result(c model.Category, reason, key string) model.Result {
	return model.Result{Category: c, Reason: reason, Key: key}
}

// isNumeric reports whether s holds only ASCII digits and whitespace.
func isNumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == ' ', r == '\t', r == '\n', r == '\r', r == '\v', r == '\f':
		default:
			return false
		}
	}
	return true
}
