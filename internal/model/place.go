// Package model defines the records that flow through name reconciliation.
package model

// Category is the classification outcome for one place record.
type Category string

const (
	CategoryRuralConfirmed Category = "RURAL_CONFIRMED"
	CategoryUrbanConfirmed Category = "URBAN_CONFIRMED"
	CategoryUrbanLikely    Category = "URBAN_LIKELY"
	CategoryManualReview   Category = "MANUAL_REVIEW"
	CategoryUnknown        Category = "UNKNOWN"
)

// Categories lists every category in report order.
var Categories = []Category{
	CategoryRuralConfirmed,
	CategoryUrbanConfirmed,
	CategoryUrbanLikely,
	CategoryManualReview,
	CategoryUnknown,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// IsUrban reports whether c is one of the urban outcomes.
func (c Category) IsUrban() bool {
	return c == CategoryUrbanConfirmed || c == CategoryUrbanLikely
}

// PlaceRecord is one row of population or event data.
type PlaceRecord struct {
	Row          int                `json:"row"`
	Municipality string             `json:"municipality"`
	Locality     string             `json:"locality"`
	Attributes   map[string]float64 `json:"attributes,omitempty"`
	Missing      map[string]bool    `json:"missing,omitempty"`
	Extra        map[string]string  `json:"extra,omitempty"`
}

// Extra keys holding the source spelling of records whose names were
// rewritten before classification.
const (
	ExtraMunicipalityRaw = "municipio_original"
	ExtraLocalityRaw     = "vereda_original"
)

// KeepSourceNames records the current names under the raw Extra keys unless
// they are already kept.
func (r *PlaceRecord) KeepSourceNames() {
	if r.Extra == nil {
		r.Extra = make(map[string]string, 2)
	}
	if _, ok := r.Extra[ExtraMunicipalityRaw]; !ok {
		r.Extra[ExtraMunicipalityRaw] = r.Municipality
	}
	if _, ok := r.Extra[ExtraLocalityRaw]; !ok {
		r.Extra[ExtraLocalityRaw] = r.Locality
	}
}

// SourceMunicipality returns the municipality as read from the source.
func (r PlaceRecord) SourceMunicipality() string {
	if raw, ok := r.Extra[ExtraMunicipalityRaw]; ok {
		return raw
	}
	return r.Municipality
}

// SourceLocality returns the locality as read from the source.
func (r PlaceRecord) SourceLocality() string {
	if raw, ok := r.Extra[ExtraLocalityRaw]; ok {
		return raw
	}
	return r.Locality
}

// Attribute returns the named numeric attribute. The second value is false
// when the attribute was absent or could not be parsed.
func (r PlaceRecord) Attribute(name string) (float64, bool) {
	if r.Missing[name] {
		return 0, false
	}
	v, ok := r.Attributes[name]
	return v, ok
}

// Point is a lon/lat pair.
type Point struct {
	Lon float64 `json:"lon" yaml:"lon"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// ReferenceEntry is one authoritative rural locality.
type ReferenceEntry struct {
	Code         string `json:"code"`
	Municipality string `json:"municipality"`
	Locality     string `json:"locality"`
	Region       string `json:"region"`
	Center       *Point `json:"center,omitempty"`
}

// Result is the classification of one record.
type Result struct {
	Category Category        `json:"category"`
	Reason   string          `json:"reason"`
	Key      string          `json:"key"`
	Match    *ReferenceEntry `json:"match,omitempty"`
}

// NeedsReview reports whether a human must adjudicate the record.
func (r Result) NeedsReview() bool {
	return r.Category == CategoryManualReview
}

// ClassifiedRecord pairs a record with its classification.
type ClassifiedRecord struct {
	Record PlaceRecord `json:"record"`
	Result Result      `json:"result"`
}
