package mapping

import (
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/tolima-epi/vereda-cli/internal/normalize"
)

// ReviewItem is a suggestion too weak to apply without a human decision.
type ReviewItem struct {
	Suggested string  `yaml:"suggested" json:"suggested"`
	Score     float64 `yaml:"score" json:"score"`
}

// Duplicate lists reference names that share one strict form.
type Duplicate struct {
	Normalized string   `yaml:"normalized" json:"normalized"`
	Variations []string `yaml:"variations" json:"variations"`
}

// Mapping reconciles the names of one entity type (municipalities or
// localities) against the reference.
type Mapping struct {
	Exact              map[string]string     `yaml:"exact" json:"exact"`
	High               map[string]string     `yaml:"high_confidence" json:"high_confidence"`
	Medium             map[string]string     `yaml:"medium_confidence" json:"medium_confidence"`
	Review             map[string]ReviewItem `yaml:"manual_review" json:"manual_review"`
	MissingInReference []string              `yaml:"missing_in_reference" json:"missing_in_reference"`
	MissingInSource    []string              `yaml:"missing_in_source" json:"missing_in_source"`
	Duplicates         []Duplicate           `yaml:"duplicates,omitempty" json:"duplicates,omitempty"`

	byStrict map[string]string
}

// Build matches every distinct source name against the reference names.
// Names whose strict form equals a reference strict form are exact; the rest
// get the best fuzzy suggestion bucketed by th.
func Build(names, reference []string, th Thresholds) *Mapping {
	m := &Mapping{
		Exact:  make(map[string]string),
		High:   make(map[string]string),
		Medium: make(map[string]string),
		Review: make(map[string]ReviewItem),
	}

	refByStrict := make(map[string]string)
	variations := make(map[string][]string)
	for _, c := range strictForms(reference) {
		if c.strict == "" {
			continue
		}
		variations[c.strict] = append(variations[c.strict], c.raw)
		if _, ok := refByStrict[c.strict]; !ok {
			refByStrict[c.strict] = c.raw
		}
	}

	used := make(map[string]bool)
	var fuzzy []string
	for _, name := range distinct(names) {
		strict := normalize.Strict(name)
		if strict == "" {
			continue
		}
		if ref, ok := refByStrict[strict]; ok {
			m.Exact[name] = ref
			used[ref] = true
			continue
		}
		fuzzy = append(fuzzy, name)
	}

	for _, s := range Suggest(fuzzy, reference, th) {
		m.MissingInReference = append(m.MissingInReference, s.Name)
		switch s.Confidence {
		case ConfidenceHigh:
			m.High[s.Name] = s.Match
			used[s.Match] = true
		case ConfidenceMedium:
			m.Medium[s.Name] = s.Match
			used[s.Match] = true
		default:
			m.Review[s.Name] = ReviewItem{Suggested: s.Match, Score: s.Score}
		}
	}

	for _, c := range strictForms(reference) {
		if c.strict != "" && !used[c.raw] {
			m.MissingInSource = append(m.MissingInSource, c.raw)
		}
	}

	for strict, vars := range variations {
		if len(vars) > 1 {
			m.Duplicates = append(m.Duplicates, Duplicate{Normalized: strict, Variations: vars})
		}
	}
	sort.Slice(m.Duplicates, func(i, j int) bool {
		return m.Duplicates[i].Normalized < m.Duplicates[j].Normalized
	})
	sort.Strings(m.MissingInReference)

	m.reindex()
	return m
}

// Apply returns the authoritative name for a source name. Exact and high
// confidence mappings always apply; medium ones only when includeMedium is
// set. Lookup falls back to the strict form of name.
func (m *Mapping) Apply(name string, includeMedium bool) (string, bool) {
	if m == nil {
		return "", false
	}
	if v, ok := m.lookup(name, includeMedium); ok {
		return v, true
	}
	if m.byStrict == nil {
		m.reindex()
	}
	if orig, ok := m.byStrict[normalize.Strict(name)]; ok {
		return m.lookup(orig, includeMedium)
	}
	return "", false
}

func (m *Mapping) lookup(name string, includeMedium bool) (string, bool) {
	if v, ok := m.Exact[name]; ok {
		return v, true
	}
	if v, ok := m.High[name]; ok {
		return v, true
	}
	if includeMedium {
		if v, ok := m.Medium[name]; ok {
			return v, true
		}
	}
	return "", false
}

// Counts returns the number of names in each bucket.
func (m *Mapping) Counts() map[string]int {
	return map[string]int{
		"exact":  len(m.Exact),
		"high":   len(m.High),
		"medium": len(m.Medium),
		"review": len(m.Review),
	}
}

func (m *Mapping) reindex() {
	m.byStrict = make(map[string]string)
	for _, src := range []map[string]string{m.Exact, m.High, m.Medium} {
		for k := range src {
			m.byStrict[normalize.Strict(k)] = k
		}
	}
}

func distinct(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// File is the persisted mapping for both entity types.
type File struct {
	GeneratedAt    time.Time  `yaml:"generated_at"`
	Thresholds     Thresholds `yaml:"thresholds"`
	Municipalities *Mapping   `yaml:"municipalities"`
	Localities     *Mapping   `yaml:"localities"`
}

// SaveYAML writes f to path.
func SaveYAML(path string, f *File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return eris.Wrap(err, "mapping: marshal")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "mapping: write %s", path)
	}
	return nil
}

// LoadYAML reads a mapping file written by SaveYAML. Missing sections load
// as empty mappings.
func LoadYAML(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "mapping: read %s", path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "mapping: parse")
	}
	if f.Thresholds == (Thresholds{}) {
		f.Thresholds = DefaultThresholds
	}
	if f.Municipalities == nil {
		f.Municipalities = &Mapping{}
	}
	if f.Localities == nil {
		f.Localities = &Mapping{}
	}
	f.Municipalities.reindex()
	f.Localities.reindex()
	return &f, nil
}
