package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolima-epi/vereda-cli/internal/fetcher"
	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/reference"
	"github.com/tolima-epi/vereda-cli/internal/report"
)

func testReport(t *testing.T) *report.Report {
	t.Helper()
	idx := reference.Build([]model.ReferenceEntry{
		{Code: "73001001", Municipality: "Ibagué", Locality: "La Cima", Region: "CENTRO"},
	})
	recs := []model.PlaceRecord{
		{Row: 2, Municipality: "Ibagué", Locality: "La Cima", Attributes: map[string]float64{"Total": 100, "60+ años": 7}},
		{Row: 3, Municipality: "Ibagué", Locality: "Barrio Belén", Attributes: map[string]float64{"Total": 20}},
		{Row: 4, Municipality: "Ibagué", Locality: "Santa Teresa", Attributes: map[string]float64{"Total": 30}},
		{Row: 5, Municipality: "San Sebastián de Mariquita", Locality: "El Hatillo", Attributes: map[string]float64{"Total": 50}},
		{Row: 6, Municipality: "Honda", Locality: "", Missing: map[string]bool{"Total": true}},
	}
	r, err := report.Build(recs, idx, report.Options{SumAttribute: "Total"})
	require.NoError(t, err)
	return r
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2025, time.March, 4, 9, 8, 7, 0, time.UTC))

	res, err := WriteReport(dir, testReport(t), Options{
		Numeric:     []string{"Total", "60+ años"},
		Timestamped: true,
		Clock:       clock,
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "analisis_veredas_tolima_20250304_090807"), res.Dir)
	require.Len(t, res.Files, 6)
	for _, f := range res.Files {
		_, err := os.Stat(f)
		assert.NoError(t, err, f)
	}

	names, err := fetcher.SheetNames(filepath.Join(res.Dir, FileDataset))
	require.NoError(t, err)
	assert.Equal(t, []string{SheetDataset, SheetStats}, names)

	rows, err := fetcher.ReadXLSX(filepath.Join(res.Dir, FileDataset), fetcher.XLSXOptions{SheetName: SheetDataset})
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, []string{
		"fila", "municipio", "vereda", "Total", "60+ años",
		"categoria", "razon", "clave", "codigo_referencia", "region_referencia",
	}, rows[0])
	assert.Equal(t, "RURAL_CONFIRMED", rows[1][5])
	assert.Equal(t, "73001001", rows[1][8])
	assert.Equal(t, "", rows[5][3], "missing total left blank")

	stats, err := fetcher.ReadXLSX(filepath.Join(res.Dir, FileDataset), fetcher.XLSXOptions{SheetName: SheetStats})
	require.NoError(t, err)
	require.Len(t, stats, len(model.Categories)+2)
	assert.Equal(t, "TOTAL", stats[len(stats)-1][0])
}

func TestWriteReport_ReviewSheets(t *testing.T) {
	res, err := WriteReport(t.TempDir(), testReport(t), Options{})
	require.NoError(t, err)

	names, err := fetcher.SheetNames(filepath.Join(res.Dir, FileReview))
	require.NoError(t, err)
	// Ordered by review population: Mariquita (50) before Ibagué (30).
	assert.Equal(t, []string{SheetReview, "San Sebastián de Mariquita", "Ibagué"}, names)

	all, err := fetcher.ReadXLSX(filepath.Join(res.Dir, FileReview), fetcher.XLSXOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	urban, err := fetcher.ReadXLSX(filepath.Join(res.Dir, FileUrban), fetcher.XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, urban, 2)
	assert.Equal(t, "Barrio Belén", urban[1][2])
}

func TestWriteReport_NotTimestamped(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	res, err := WriteReport(dir, testReport(t), Options{})
	require.NoError(t, err)
	assert.Equal(t, dir, res.Dir)
}

func TestWriteReport_NilReport(t *testing.T) {
	_, err := WriteReport(t.TempDir(), nil, Options{})
	require.Error(t, err)
}

func TestWriteReport_CSV(t *testing.T) {
	res, err := WriteReport(t.TempDir(), testReport(t), Options{})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(res.Dir, FileReviewCSV))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "\xEF\xBB\xBF"), "utf-8 bom")

	rows, err := fetcher.ReadCSV(filepath.Join(res.Dir, FileReviewCSV), fetcher.CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "fila", rows[0][0])
	assert.Equal(t, "Santa Teresa", rows[1][2])
	assert.Equal(t, "30", rows[1][3])
	assert.Equal(t, "MANUAL_REVIEW", rows[1][4])
}

func TestSanitizeSheetName(t *testing.T) {
	assert.Equal(t, "Ibagué", SanitizeSheetName("Ibagué"))
	assert.Equal(t, "AB", SanitizeSheetName("A/B"))
	assert.Equal(t, "x", SanitizeSheetName("[x]*?:\\"))
	assert.Equal(t, "Sin_Municipio", SanitizeSheetName("  "))
	assert.Equal(t, "Sin_Municipio", SanitizeSheetName("''"))
	long := strings.Repeat("Ñ", 40)
	assert.Equal(t, strings.Repeat("Ñ", 31), SanitizeSheetName(long))
}

func TestSheetNamer_Dedupes(t *testing.T) {
	n := newSheetNamer(SheetReview)
	assert.Equal(t, "IBAGUE", n.next("IBAGUE"))
	assert.Equal(t, "Ibague_2", n.next("Ibague"))
	assert.Equal(t, "IBAGUE_3", n.next("IBAGUE"))
	assert.Equal(t, "todos_casos_2", n.next("todos_casos"))

	long := strings.Repeat("A", 40)
	first := n.next(long)
	second := n.next(long)
	assert.Len(t, first, 31)
	assert.Len(t, second, 31)
	assert.True(t, strings.HasSuffix(second, "_2"))
}

func TestFolderName(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.December, 31, 23, 59, 58, 0, time.UTC))
	assert.Equal(t, "analisis_veredas_tolima_20241231_235958", FolderName(clock))
}
