package fetcher

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tolima-epi/vereda-cli/internal/model"
)

// MissingInputError reports required columns absent from a source. It is
// structural: the run cannot proceed without them.
type MissingInputError struct {
	Source  string
	Columns []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing required column(s) %s in %s",
		strings.Join(quoteAll(e.Columns), ", "), e.Source)
}

// IsMissingInput reports whether err wraps a *MissingInputError.
func IsMissingInput(err error) bool {
	var mi *MissingInputError
	return errors.As(err, &mi)
}

func quoteAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = strconv.Quote(s)
	}
	return out
}

// Table is a header row plus data rows read from one source.
type Table struct {
	Source string
	Header []string
	Rows   [][]string
	colIdx map[string]int
}

// NewTable treats the first row as the header. Blank rows are dropped.
func NewTable(source string, rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, eris.Wrapf(&MissingInputError{Source: source, Columns: []string{"<header>"}},
			"fetcher: %s is empty", source)
	}

	t := &Table{
		Source: source,
		Header: rows[0],
		colIdx: mapColumnsNormalized(rows[0]),
	}
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Has reports whether the header contains col (case-insensitive, trimmed).
func (t *Table) Has(col string) bool {
	_, ok := t.colIdx[normalizeCol(col)]
	return ok
}

// Require returns a *MissingInputError naming every absent column.
func (t *Table) Require(cols ...string) error {
	var missing []string
	for _, c := range cols {
		if c == "" {
			continue
		}
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &MissingInputError{Source: t.Source, Columns: missing}
	}
	return nil
}

// Get returns the cell for col in row, or "" if absent.
func (t *Table) Get(row []string, col string) string {
	idx, ok := t.colIdx[normalizeCol(col)]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// PlaceColumns binds table columns to place-record fields.
type PlaceColumns struct {
	Municipality string
	Locality     string
	Sum          string   // numeric attribute summed per category; required when set
	Numeric      []string // additional numeric attributes, optional
	Extra        []string // pass-through text columns, optional
}

// PlaceRecords converts every data row into a PlaceRecord. Missing
// municipality, locality or sum columns are fatal; a cell that is empty or
// not numeric is flagged in PlaceRecord.Missing and the row is kept.
func PlaceRecords(t *Table, cols PlaceColumns) ([]model.PlaceRecord, error) {
	if err := t.Require(cols.Municipality, cols.Locality, cols.Sum); err != nil {
		return nil, eris.Wrap(err, "fetcher: place records")
	}

	numeric := make([]string, 0, len(cols.Numeric)+1)
	if cols.Sum != "" {
		numeric = append(numeric, cols.Sum)
	}
	for _, c := range cols.Numeric {
		if c == cols.Sum {
			continue
		}
		if !t.Has(c) {
			zap.L().Warn("fetcher: optional numeric column absent",
				zap.String("source", t.Source),
				zap.String("column", c),
			)
		}
		numeric = append(numeric, c)
	}

	records := make([]model.PlaceRecord, 0, len(t.Rows))
	var malformed int
	for i, row := range t.Rows {
		rec := model.PlaceRecord{
			Row:          i + 2, // 1-based, after the header
			Municipality: t.Get(row, cols.Municipality),
			Locality:     t.Get(row, cols.Locality),
			Attributes:   make(map[string]float64, len(numeric)),
		}
		for _, c := range numeric {
			v, ok := parseFloat(t.Get(row, c))
			if !ok {
				if rec.Missing == nil {
					rec.Missing = make(map[string]bool)
				}
				rec.Missing[c] = true
				if c == cols.Sum {
					malformed++
				}
				continue
			}
			rec.Attributes[c] = v
		}
		for _, c := range cols.Extra {
			if !t.Has(c) {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]string, len(cols.Extra))
			}
			rec.Extra[c] = t.Get(row, c)
		}
		records = append(records, rec)
	}

	if malformed > 0 {
		zap.L().Warn("fetcher: rows with unparseable sum attribute",
			zap.String("source", t.Source),
			zap.String("column", cols.Sum),
			zap.Int("rows", malformed),
		)
	}

	return records, nil
}

// ReferenceColumns binds table columns to reference-entry fields.
type ReferenceColumns struct {
	Code         string
	Municipality string
	Locality     string
	Region       string
}

// ReferenceEntries converts every data row into a ReferenceEntry. All four
// columns are required.
func ReferenceEntries(t *Table, cols ReferenceColumns) ([]model.ReferenceEntry, error) {
	if err := t.Require(cols.Code, cols.Municipality, cols.Locality, cols.Region); err != nil {
		return nil, eris.Wrap(err, "fetcher: reference entries")
	}

	entries := make([]model.ReferenceEntry, 0, len(t.Rows))
	for _, row := range t.Rows {
		entries = append(entries, model.ReferenceEntry{
			Code:         strings.TrimSpace(t.Get(row, cols.Code)),
			Municipality: strings.TrimSpace(t.Get(row, cols.Municipality)),
			Locality:     strings.TrimSpace(t.Get(row, cols.Locality)),
			Region:       strings.TrimSpace(t.Get(row, cols.Region)),
		})
	}
	return entries, nil
}

// parseFloat parses a numeric cell. Thousands separators are dropped;
// empty cells, placeholders ("-", "N/A") and non-finite values ("Inf",
// "NaN") are reported as absent.
func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "", "-", "N/A", "NA", "NAN", "ND":
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// normalizeCol lowercases and trims for header matching.
// " Total " → "total", "MUNICIPIO" → "municipio"
func normalizeCol(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// mapColumnsNormalized builds a normalized column name → index map. The
// first occurrence of a duplicated header wins.
func mapColumnsNormalized(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		key := normalizeCol(col)
		if _, dup := m[key]; dup {
			continue
		}
		m[key] = i
	}
	return m
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
