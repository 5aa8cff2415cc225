// Package reference builds the authoritative rural-locality lookup used to
// confirm that a place record is a known rural vereda.
package reference

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tolima-epi/vereda-cli/internal/fetcher"
	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/normalize"
)

// Collision records two reference rows that normalized to the same key.
// The replacement is the entry kept in the index.
type Collision struct {
	Key         string               `json:"key"`
	Previous    model.ReferenceEntry `json:"previous"`
	Replacement model.ReferenceEntry `json:"replacement"`
}

// Index maps composite keys to reference entries. It is immutable after
// Build and safe for concurrent reads.
type Index struct {
	entries    map[string]model.ReferenceEntry
	collisions []Collision
	keyFn      normalize.KeyFunc
	strict     bool
}

// Option configures Build.
type Option func(*Index)

// WithStrict keys the index with normalize.StrictCompositeKey.
func WithStrict() Option {
	return func(idx *Index) {
		idx.keyFn = normalize.StrictCompositeKey
		idx.strict = true
	}
}

// Build indexes rows by composite key. When two rows share a key the later
// row wins; each collision is logged at warn level and kept for inspection.
func Build(rows []model.ReferenceEntry, opts ...Option) *Index {
	idx := &Index{
		entries: make(map[string]model.ReferenceEntry, len(rows)),
		keyFn:   normalize.CompositeKey,
	}
	for _, opt := range opts {
		opt(idx)
	}

	for _, row := range rows {
		key := idx.keyFn(row.Municipality, row.Locality)
		if prev, ok := idx.entries[key]; ok {
			idx.collisions = append(idx.collisions, Collision{
				Key:         key,
				Previous:    prev,
				Replacement: row,
			})
			zap.L().Warn("reference: duplicate key, keeping later row",
				zap.String("key", key),
				zap.String("previous_code", prev.Code),
				zap.String("replacement_code", row.Code),
			)
		}
		idx.entries[key] = row
	}

	if n := len(idx.collisions); n > 0 {
		zap.L().Warn("reference: collisions discarded reference rows",
			zap.Int("collisions", n),
			zap.Int("rows", len(rows)),
			zap.Int("entries", len(idx.entries)),
		)
	}

	return idx
}

// Find returns the entry stored under key.
func (idx *Index) Find(key string) (model.ReferenceEntry, bool) {
	e, ok := idx.entries[key]
	return e, ok
}

// KeyFor computes the key for a municipality and locality using the same
// normalization the index was built with.
func (idx *Index) KeyFor(municipality, locality string) string {
	return idx.keyFn(municipality, locality)
}

// Lookup finds the entry for a raw municipality and locality pair.
func (idx *Index) Lookup(municipality, locality string) (model.ReferenceEntry, bool) {
	return idx.Find(idx.KeyFor(municipality, locality))
}

// Len returns the number of distinct keys.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Strict reports whether the index uses strict normalization.
func (idx *Index) Strict() bool {
	return idx.strict
}

// Collisions returns the duplicate keys seen during Build, in input order.
func (idx *Index) Collisions() []Collision {
	out := make([]Collision, len(idx.collisions))
	copy(out, idx.collisions)
	return out
}

// KeyedEntry is an index entry together with its key.
type KeyedEntry struct {
	Key   string
	Entry model.ReferenceEntry
}

// Entries returns every entry sorted by key.
func (idx *Index) Entries() []KeyedEntry {
	out := make([]KeyedEntry, 0, len(idx.entries))
	for k, e := range idx.entries {
		out = append(out, KeyedEntry{Key: k, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Municipalities returns the distinct authoritative municipality names,
// sorted.
func (idx *Index) Municipalities() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range idx.entries {
		if !seen[e.Municipality] {
			seen[e.Municipality] = true
			out = append(out, e.Municipality)
		}
	}
	sort.Strings(out)
	return out
}

// Localities returns the authoritative locality names for one municipality,
// matched by key, sorted.
func (idx *Index) Localities(municipality string) []string {
	want := normalize.Key(municipality)
	var out []string
	for _, e := range idx.entries {
		if normalize.Key(e.Municipality) == want {
			out = append(out, e.Locality)
		}
	}
	sort.Strings(out)
	return out
}

// FromTable reads reference entries from a spreadsheet or CSV table.
func FromTable(t *fetcher.Table, cols fetcher.ReferenceColumns) ([]model.ReferenceEntry, error) {
	entries, err := fetcher.ReferenceEntries(t, cols)
	if err != nil {
		return nil, eris.Wrap(err, "reference: from table")
	}
	return entries, nil
}
