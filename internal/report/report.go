// Package report classifies a batch of place records and aggregates the
// outcome per category and per municipality.
package report

import (
	"fmt"
	"math"
	"runtime/debug"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tolima-epi/vereda-cli/internal/classify"
	"github.com/tolima-epi/vereda-cli/internal/model"
)

// ReasonFailed prefixes the reason of a record whose classification panicked.
const ReasonFailed = "classification failed: "

// Options controls Build.
type Options struct {
	// SumAttribute is the numeric attribute summed per category.
	SumAttribute string
	// Concurrency is the number of classification workers. Values below 2
	// classify sequentially.
	Concurrency int
}

// CategoryTotal is the count and attribute sum for one category.
type CategoryTotal struct {
	Category model.Category `json:"category"`
	Count    int            `json:"count"`
	Sum      float64        `json:"sum"`
	CountPct float64        `json:"count_pct"`
	SumPct   float64        `json:"sum_pct"`
}

// MunicipalityGroup is the manual-review subset for one raw municipality.
type MunicipalityGroup struct {
	Municipality string                   `json:"municipality"`
	Count        int                      `json:"count"`
	Sum          float64                  `json:"sum"`
	Rows         []model.ClassifiedRecord `json:"rows"`
}

// Report is the classified batch.
type Report struct {
	Rows         []model.ClassifiedRecord
	SumAttribute string
	// MissingSum counts records whose sum attribute was absent or unparseable.
	// They are counted in their category and contribute 0 to sums.
	MissingSum int

	totals map[model.Category]*CategoryTotal
	grand  float64
}

// Build classifies every record against idx and aggregates the results.
// Output rows keep input order regardless of Concurrency.
func Build(records []model.PlaceRecord, idx classify.Lookup, opts Options) (*Report, error) {
	if idx == nil {
		return nil, eris.New("report: nil reference index")
	}

	rows := make([]model.ClassifiedRecord, len(records))
	workers := opts.Concurrency
	if workers < 2 || len(records) < 2 {
		for i := range records {
			rows[i] = classifyOne(records[i], idx)
		}
	} else {
		if workers > len(records) {
			workers = len(records)
		}
		chunk := (len(records) + workers - 1) / workers

		var g errgroup.Group
		for start := 0; start < len(records); start += chunk {
			end := min(start+chunk, len(records))
			g.Go(func() error {
				for i := start; i < end; i++ {
					rows[i] = classifyOne(records[i], idx)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, eris.Wrap(err, "report: classify")
		}
	}

	r := &Report{
		Rows:         rows,
		SumAttribute: opts.SumAttribute,
		totals:       make(map[model.Category]*CategoryTotal, len(model.Categories)),
	}
	for _, c := range model.Categories {
		r.totals[c] = &CategoryTotal{Category: c}
	}

	for _, row := range rows {
		v, ok := r.value(row.Record)
		if !ok && opts.SumAttribute != "" {
			r.MissingSum++
		}
		t := r.totals[row.Result.Category]
		t.Count++
		t.Sum += v
		r.grand += v
	}

	zap.L().Debug("report: built",
		zap.Int("records", len(rows)),
		zap.Int("workers", max(workers, 1)),
		zap.Int("missing_sum", r.MissingSum),
	)

	return r, nil
}

// classifyOne converts a panic into a manual-review result so one bad record
// cannot abort the batch.
func classifyOne(rec model.PlaceRecord, idx classify.Lookup) (out model.ClassifiedRecord) {
	out.Record = rec
	defer func() {
		if p := recover(); p != nil {
			zap.L().Error("report: classification panicked",
				zap.Int("row", rec.Row),
				zap.String("municipality", rec.Municipality),
				zap.String("locality", rec.Locality),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			out.Result = model.Result{
				Category: model.CategoryManualReview,
				Reason:   fmt.Sprintf("%s%v", ReasonFailed, p),
			}
		}
	}()
	out.Result = classify.Classify(rec, idx)
	return out
}

// value returns the sum attribute of rec, or 0 and false when absent or
// not finite.
func (r *Report) value(rec model.PlaceRecord) (float64, bool) {
	if r.SumAttribute == "" {
		return 0, false
	}
	v, ok := rec.Attribute(r.SumAttribute)
	if !ok || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// Len returns the number of classified records.
func (r *Report) Len() int {
	return len(r.Rows)
}

// GrandTotal returns the sum attribute over all records.
func (r *Report) GrandTotal() float64 {
	return r.grand
}

// Totals returns one entry per category in canonical order, including
// categories with no records. Percentages are 0 when the denominator is 0.
func (r *Report) Totals() []CategoryTotal {
	out := make([]CategoryTotal, 0, len(model.Categories))
	n := float64(len(r.Rows))
	for _, c := range model.Categories {
		t := *r.totals[c]
		if n > 0 {
			t.CountPct = float64(t.Count) / n * 100
		}
		if r.grand != 0 {
			t.SumPct = t.Sum / r.grand * 100
		}
		out = append(out, t)
	}
	return out
}

// Total returns the entry for one category.
func (r *Report) Total(c model.Category) CategoryTotal {
	for _, t := range r.Totals() {
		if t.Category == c {
			return t
		}
	}
	return CategoryTotal{Category: c}
}

// ByCategory returns the classified rows of one category in input order.
func (r *Report) ByCategory(cats ...model.Category) []model.ClassifiedRecord {
	want := make(map[model.Category]bool, len(cats))
	for _, c := range cats {
		want[c] = true
	}
	var out []model.ClassifiedRecord
	for _, row := range r.Rows {
		if want[row.Result.Category] {
			out = append(out, row)
		}
	}
	return out
}

// ManualReview groups the MANUAL_REVIEW rows by raw municipality. Rows in a
// group are sorted by the sum attribute, largest first, ties in input order.
// Groups are sorted by their sum, largest first, then by name.
func (r *Report) ManualReview() []MunicipalityGroup {
	byMun := make(map[string]*MunicipalityGroup)
	var order []string
	for _, row := range r.Rows {
		if row.Result.Category != model.CategoryManualReview {
			continue
		}
		m := row.Record.SourceMunicipality()
		g, ok := byMun[m]
		if !ok {
			g = &MunicipalityGroup{Municipality: m}
			byMun[m] = g
			order = append(order, m)
		}
		v, _ := r.value(row.Record)
		g.Count++
		g.Sum += v
		g.Rows = append(g.Rows, row)
	}

	groups := make([]MunicipalityGroup, 0, len(order))
	for _, m := range order {
		g := byMun[m]
		sort.SliceStable(g.Rows, func(i, j int) bool {
			vi, _ := r.value(g.Rows[i].Record)
			vj, _ := r.value(g.Rows[j].Record)
			return vi > vj
		})
		groups = append(groups, *g)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Sum != groups[j].Sum {
			return groups[i].Sum > groups[j].Sum
		}
		return groups[i].Municipality < groups[j].Municipality
	})
	return groups
}

// Summary converts the report into its persisted form.
func (r *Report) Summary() *model.RunSummary {
	s := &model.RunSummary{
		Records:         len(r.Rows),
		GrandTotal:      r.grand,
		MissingSum:      r.MissingSum,
		ReviewMunicipal: len(r.ManualReview()),
	}
	for _, t := range r.Totals() {
		s.Categories = append(s.Categories, model.CategoryCount{
			Category: t.Category,
			Count:    t.Count,
			Sum:      t.Sum,
		})
	}
	return s
}
