package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TolimaMunicipalities is the authoritative list of Tolima municipalities,
// spelled as in the departmental shapefile.
var TolimaMunicipalities = []string{
	"IBAGUÉ", "ALPUJARRA", "ALVARADO", "AMBALEMA", "ANZOÁTEGUI", "ARMERO",
	"ATACO", "CAJAMARCA", "CARMEN DE APICALÁ", "CASABIANCA", "CHAPARRAL",
	"COELLO", "COYAIMA", "CUNDAY", "DOLORES", "ESPINAL", "FALÁN", "FLANDES",
	"FRESNO", "GUAMO", "HERVEO", "HONDA", "ICONONZO", "LÉRIDA", "LÍBANO",
	"MARIQUITA", "MELGAR", "MURILLO", "NATAGAIMA", "ORTEGA", "PALOCABILDO",
	"PIEDRAS", "PLANADAS", "PRADO", "PURIFICACIÓN", "RIOBLANCO",
	"RONCESVALLES", "ROVIRA", "SALDAÑA", "SAN ANTONIO", "SAN LUIS",
	"SANTA ISABEL", "SUÁREZ", "VALLE DE SAN JUAN", "VENADILLO",
	"VILLAHERMOSA", "VILLARRICA",
}

// municipalityVariants maps spellings seen in case and census tables that do
// not reduce to the authoritative name under Key.
var municipalityVariants = map[string]string{
	"ARMERO GUAYABAL":            "ARMERO",
	"ARMERO-GUAYABAL":            "ARMERO",
	"GUAYABAL":                   "ARMERO",
	"VALLE SAN JUAN":             "VALLE DE SAN JUAN",
	"SAN SEBASTIAN DE MARIQUITA": "MARIQUITA",
	"EL ESPINAL":                 "ESPINAL",
	"SAN ANTONIO DEL TOLIMA":     "SAN ANTONIO",
	"CARMEN APICALA":             "CARMEN DE APICALÁ",
}

// Gazetteer resolves municipality spellings to a canonical name.
type Gazetteer struct {
	byKey map[string]string
}

// NewGazetteer indexes the canonical names plus a variant → canonical map.
func NewGazetteer(canonical []string, variants map[string]string) *Gazetteer {
	g := &Gazetteer{byKey: make(map[string]string, len(canonical)+len(variants))}
	for _, name := range canonical {
		g.byKey[Key(name)] = name
	}
	for variant, name := range variants {
		g.byKey[Key(variant)] = name
	}
	return g
}

// Tolima returns the gazetteer for the Tolima department.
func Tolima() *Gazetteer {
	return NewGazetteer(TolimaMunicipalities, municipalityVariants)
}

// Canonical returns the authoritative spelling of a municipality name.
func (g *Gazetteer) Canonical(name string) (string, bool) {
	k := Key(name)
	if k == "" {
		return "", false
	}
	c, ok := g.byKey[k]
	return c, ok
}

// Len returns the number of indexed spellings.
func (g *Gazetteer) Len() int {
	return len(g.byKey)
}

// Display returns a title-cased name with accents kept and whitespace
// collapsed, e.g. "  carmen de  APICALÁ" → "Carmen De Apicalá".
func Display(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return ""
	}
	// Casers carry state and are not safe for concurrent use.
	return cases.Title(language.Spanish).String(strings.ToLower(name))
}

// Comparison explains how two names relate under each normalization level.
type Comparison struct {
	A, B            string
	KeyA, KeyB      string
	StrictA         string
	StrictB         string
	CanonicalA      string
	CanonicalB      string
	KeyMatch        bool
	StrictMatch     bool
	CanonicalMatch  bool
	DisplayMatching bool
}

// Explain compares two names at every normalization level.
func (g *Gazetteer) Explain(a, b string) Comparison {
	c := Comparison{
		A:       a,
		B:       b,
		KeyA:    Key(a),
		KeyB:    Key(b),
		StrictA: Strict(a),
		StrictB: Strict(b),
	}
	c.CanonicalA, _ = g.Canonical(a)
	c.CanonicalB, _ = g.Canonical(b)
	c.KeyMatch = c.KeyA == c.KeyB
	c.StrictMatch = c.StrictA == c.StrictB
	c.CanonicalMatch = c.CanonicalA != "" && c.CanonicalA == c.CanonicalB
	c.DisplayMatching = Display(a) == Display(b)
	return c
}
