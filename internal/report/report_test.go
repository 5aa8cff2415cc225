package report

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/reference"
)

const total = "Total"

func testIndex() *reference.Index {
	return reference.Build([]model.ReferenceEntry{
		{Code: "1", Municipality: "Ibagué", Locality: "La Cima"},
		{Code: "2", Municipality: "Honda", Locality: "Perico"},
	})
}

func place(row int, municipality, locality string, v float64) model.PlaceRecord {
	return model.PlaceRecord{
		Row:          row,
		Municipality: municipality,
		Locality:     locality,
		Attributes:   map[string]float64{total: v},
	}
}

func missing(row int, municipality, locality string) model.PlaceRecord {
	return model.PlaceRecord{
		Row:          row,
		Municipality: municipality,
		Locality:     locality,
		Attributes:   map[string]float64{},
		Missing:      map[string]bool{total: true},
	}
}

func sampleRecords() []model.PlaceRecord {
	return []model.PlaceRecord{
		place(2, "IBAGUE", "LA CIMA", 100),
		place(3, "IBAGUE", "", 5),
		place(4, "IBAGUE", "Barrio Centro", 40),
		place(5, "IBAGUE", "Santa Teresa", 10),
		place(6, "IBAGUE", "Llanitos", 30),
		place(7, "ESPINAL", "Dindalito", 60),
		place(8, "IBAGUE", "Comuna 7", 15),
		missing(9, "CHAPARRAL", "Agua Bonita"),
		place(10, "HONDA", "Perico", 40),
	}
}

func TestBuild_Totals(t *testing.T) {
	r, err := Build(sampleRecords(), testIndex(), Options{SumAttribute: total})
	require.NoError(t, err)

	assert.Equal(t, 9, r.Len())
	assert.Equal(t, 300.0, r.GrandTotal())
	assert.Equal(t, 1, r.MissingSum)

	totals := r.Totals()
	require.Len(t, totals, len(model.Categories))
	for i, c := range model.Categories {
		assert.Equal(t, c, totals[i].Category)
	}

	rural := r.Total(model.CategoryRuralConfirmed)
	assert.Equal(t, 2, rural.Count)
	assert.Equal(t, 140.0, rural.Sum)
	assert.InDelta(t, 46.6667, rural.SumPct, 1e-3)
	assert.InDelta(t, 22.2222, rural.CountPct, 1e-3)

	assert.Equal(t, 1, r.Total(model.CategoryUnknown).Count)
	assert.Equal(t, 1, r.Total(model.CategoryUrbanConfirmed).Count)
	assert.Equal(t, 1, r.Total(model.CategoryUrbanLikely).Count)

	review := r.Total(model.CategoryManualReview)
	assert.Equal(t, 4, review.Count)
	assert.Equal(t, 100.0, review.Sum, "missing sum contributes 0")
}

func TestBuild_AggregationInvariant(t *testing.T) {
	r, err := Build(sampleRecords(), testIndex(), Options{SumAttribute: total})
	require.NoError(t, err)

	var count int
	var sum, countPct, sumPct float64
	for _, tot := range r.Totals() {
		count += tot.Count
		sum += tot.Sum
		countPct += tot.CountPct
		sumPct += tot.SumPct
	}
	assert.Equal(t, r.Len(), count)
	assert.InDelta(t, r.GrandTotal(), sum, 1e-9)
	assert.InDelta(t, 100, countPct, 1e-9)
	assert.InDelta(t, 100, sumPct, 1e-9)
}

func TestBuild_Empty(t *testing.T) {
	r, err := Build(nil, testIndex(), Options{SumAttribute: total, Concurrency: 4})
	require.NoError(t, err)

	assert.Equal(t, 0, r.Len())
	for _, tot := range r.Totals() {
		assert.Zero(t, tot.Count)
		assert.Zero(t, tot.CountPct)
		assert.Zero(t, tot.SumPct)
	}
	assert.Empty(t, r.ManualReview())
}

func TestBuild_NilIndex(t *testing.T) {
	_, err := Build(sampleRecords(), nil, Options{})
	require.Error(t, err)
}

func TestBuild_NonFiniteValueCountsAsMissing(t *testing.T) {
	records := []model.PlaceRecord{
		place(2, "IBAGUE", "LA CIMA", 10),
		place(3, "IBAGUE", "Quebradas", math.Inf(1)),
		place(4, "IBAGUE", "Tapias", math.NaN()),
	}

	r, err := Build(records, testIndex(), Options{SumAttribute: total})
	require.NoError(t, err)

	assert.Equal(t, 10.0, r.GrandTotal())
	assert.Equal(t, 2, r.MissingSum)
	for _, ct := range r.Totals() {
		assert.False(t, math.IsNaN(ct.SumPct), ct.Category)
	}
	assert.Equal(t, 2, r.Total(model.CategoryManualReview).Count)
}

func TestBuild_NoSumAttribute(t *testing.T) {
	r, err := Build(sampleRecords(), testIndex(), Options{})
	require.NoError(t, err)

	assert.Zero(t, r.GrandTotal())
	assert.Zero(t, r.MissingSum)
	assert.Equal(t, 9, r.Len())
}

func TestBuild_ConcurrentMatchesSequential(t *testing.T) {
	var records []model.PlaceRecord
	localities := []string{"LA CIMA", "", "Barrio Centro", "Santa Teresa", "12", "Vereda 12", "Sector 3"}
	for i := 0; i < 503; i++ {
		records = append(records, place(i+2, "IBAGUE", localities[i%len(localities)], float64(i)))
	}

	seq, err := Build(records, testIndex(), Options{SumAttribute: total})
	require.NoError(t, err)
	par, err := Build(records, testIndex(), Options{SumAttribute: total, Concurrency: 8})
	require.NoError(t, err)

	assert.Equal(t, seq.Rows, par.Rows)
	assert.Equal(t, seq.Totals(), par.Totals())
	for i, row := range par.Rows {
		assert.Equal(t, i+2, row.Record.Row)
	}
}

func TestManualReview_Grouping(t *testing.T) {
	r, err := Build(sampleRecords(), testIndex(), Options{SumAttribute: total})
	require.NoError(t, err)

	groups := r.ManualReview()
	require.Len(t, groups, 3)

	assert.Equal(t, "ESPINAL", groups[0].Municipality)
	assert.Equal(t, 60.0, groups[0].Sum)

	assert.Equal(t, "IBAGUE", groups[1].Municipality)
	assert.Equal(t, 2, groups[1].Count)
	assert.Equal(t, 40.0, groups[1].Sum)
	assert.Equal(t, "Llanitos", groups[1].Rows[0].Record.Locality)
	assert.Equal(t, "Santa Teresa", groups[1].Rows[1].Record.Locality)

	assert.Equal(t, "CHAPARRAL", groups[2].Municipality)
	assert.Zero(t, groups[2].Sum)
}

func TestManualReview_TiesByName(t *testing.T) {
	records := []model.PlaceRecord{
		place(2, "ROVIRA", "Alpha Uno", 10),
		place(3, "ALVARADO", "Beta Dos", 10),
		place(4, "ALVARADO", "Gamma Tres", 0),
		place(5, "ALVARADO", "Delta Cuatro", 0),
	}
	r, err := Build(records, testIndex(), Options{SumAttribute: total})
	require.NoError(t, err)

	groups := r.ManualReview()
	require.Len(t, groups, 2)
	assert.Equal(t, "ALVARADO", groups[0].Municipality)
	assert.Equal(t, "ROVIRA", groups[1].Municipality)

	// Equal values keep input order.
	assert.Equal(t, "Gamma Tres", groups[0].Rows[1].Record.Locality)
	assert.Equal(t, "Delta Cuatro", groups[0].Rows[2].Record.Locality)
}

func TestByCategory(t *testing.T) {
	r, err := Build(sampleRecords(), testIndex(), Options{SumAttribute: total})
	require.NoError(t, err)

	urban := r.ByCategory(model.CategoryUrbanConfirmed, model.CategoryUrbanLikely)
	require.Len(t, urban, 2)
	assert.Equal(t, "Barrio Centro", urban[0].Record.Locality)
	assert.Equal(t, "Comuna 7", urban[1].Record.Locality)
}

func TestSummary(t *testing.T) {
	r, err := Build(sampleRecords(), testIndex(), Options{SumAttribute: total})
	require.NoError(t, err)

	s := r.Summary()
	assert.Equal(t, 9, s.Records)
	assert.Equal(t, 300.0, s.GrandTotal)
	assert.Equal(t, 1, s.MissingSum)
	assert.Equal(t, 3, s.ReviewMunicipal)
	assert.Len(t, s.Categories, 5)
	assert.Equal(t, 4, s.Count(model.CategoryManualReview))
}

// panicLookup panics for one municipality.
type panicLookup struct {
	*reference.Index
}

func (p panicLookup) KeyFor(municipality, locality string) string {
	if strings.EqualFold(municipality, "BOOM") {
		panic(fmt.Sprintf("bad row %s", locality))
	}
	return p.Index.KeyFor(municipality, locality)
}

func TestBuild_RecoversPanics(t *testing.T) {
	records := []model.PlaceRecord{
		place(2, "IBAGUE", "LA CIMA", 1),
		place(3, "BOOM", "X", 2),
		place(4, "IBAGUE", "Santa Teresa", 3),
	}

	for _, workers := range []int{1, 3} {
		r, err := Build(records, panicLookup{testIndex()}, Options{SumAttribute: total, Concurrency: workers})
		require.NoError(t, err)
		require.Equal(t, 3, r.Len())

		assert.Equal(t, model.CategoryRuralConfirmed, r.Rows[0].Result.Category)
		assert.Equal(t, model.CategoryManualReview, r.Rows[1].Result.Category)
		assert.Equal(t, "classification failed: bad row X", r.Rows[1].Result.Reason)
		assert.Equal(t, model.CategoryManualReview, r.Rows[2].Result.Category)
	}
}
