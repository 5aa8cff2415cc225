package export

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/report"
)

// maxSheetName is the longest sheet name Excel accepts.
const maxSheetName = 31

type columns struct {
	numeric []string
	extra   []string
}

// header returns the column titles shared by every record sheet and CSV.
func (c columns) header() []string {
	h := []string{"fila", "municipio", "vereda"}
	h = append(h, c.numeric...)
	h = append(h, c.extra...)
	return append(h, "categoria", "razon", "clave", "codigo_referencia", "region_referencia")
}

// cells renders one classified record in header order. Absent numeric
// values are empty strings.
func (c columns) cells(row model.ClassifiedRecord) []any {
	out := []any{row.Record.Row, row.Record.Municipality, row.Record.Locality}
	for _, n := range c.numeric {
		if v, ok := row.Record.Attribute(n); ok {
			out = append(out, v)
		} else {
			out = append(out, "")
		}
	}
	for _, e := range c.extra {
		out = append(out, row.Record.Extra[e])
	}
	code, region := "", ""
	if m := row.Result.Match; m != nil {
		code, region = m.Code, m.Region
	}
	return append(out, string(row.Result.Category), row.Result.Reason, row.Result.Key, code, region)
}

func addRow(sheet *xlsx.Sheet, values []any) {
	row := sheet.AddRow()
	for _, v := range values {
		cell := row.AddCell()
		switch t := v.(type) {
		case float64:
			cell.SetFloat(t)
		case int:
			cell.SetInt(t)
		case string:
			cell.SetString(t)
		default:
			cell.SetString(fmt.Sprint(t))
		}
	}
}

func addRecordSheet(f *xlsx.File, name string, cols columns, rows []model.ClassifiedRecord) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "export: add sheet %q", name)
	}
	header := make([]any, 0, len(cols.header()))
	for _, h := range cols.header() {
		header = append(header, h)
	}
	addRow(sheet, header)
	for _, r := range rows {
		addRow(sheet, cols.cells(r))
	}
	return nil
}

func writeRows(path, sheet string, cols columns, rows []model.ClassifiedRecord) error {
	f := xlsx.NewFile()
	if err := addRecordSheet(f, sheet, cols, rows); err != nil {
		return err
	}
	return eris.Wrap(f.Save(path), "export: save workbook")
}

func writeDataset(path string, r *report.Report, cols columns) error {
	f := xlsx.NewFile()
	if err := addRecordSheet(f, SheetDataset, cols, r.Rows); err != nil {
		return err
	}

	stats, err := f.AddSheet(SheetStats)
	if err != nil {
		return eris.Wrap(err, "export: add statistics sheet")
	}
	addRow(stats, []any{"categoria", "registros", "porcentaje_registros", "suma", "porcentaje_suma"})
	for _, t := range r.Totals() {
		addRow(stats, []any{string(t.Category), t.Count, t.CountPct, t.Sum, t.SumPct})
	}
	addRow(stats, []any{"TOTAL", r.Len(), 100.0, r.GrandTotal(), 100.0})

	return eris.Wrap(f.Save(path), "export: save workbook")
}

// writeReview writes every manual-review record plus one sheet per
// municipality, in the report's priority order.
func writeReview(path string, r *report.Report, cols columns) error {
	f := xlsx.NewFile()
	if err := addRecordSheet(f, SheetReview, cols, r.ByCategory(model.CategoryManualReview)); err != nil {
		return err
	}

	names := newSheetNamer(SheetReview)
	for _, g := range r.ManualReview() {
		if err := addRecordSheet(f, names.next(g.Municipality), cols, g.Rows); err != nil {
			return err
		}
	}
	return eris.Wrap(f.Save(path), "export: save workbook")
}

// sheetNamer produces valid, unique sheet names.
type sheetNamer struct {
	used map[string]bool
}

func newSheetNamer(reserved ...string) *sheetNamer {
	n := &sheetNamer{used: make(map[string]bool)}
	for _, r := range reserved {
		n.used[strings.ToLower(r)] = true
	}
	return n
}

// next sanitizes name and appends _2, _3, ... until it is unused. Excel
// compares sheet names case-insensitively.
func (n *sheetNamer) next(name string) string {
	base := SanitizeSheetName(name)
	candidate := base
	for i := 2; n.used[strings.ToLower(candidate)]; i++ {
		suffix := fmt.Sprintf("_%d", i)
		candidate = truncate(base, maxSheetName-len(suffix)) + suffix
	}
	n.used[strings.ToLower(candidate)] = true
	return candidate
}

// SanitizeSheetName removes characters Excel rejects in sheet names and
// truncates to 31 characters. Empty names become "Sin_Municipio".
func SanitizeSheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return -1
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), "'")
	if name == "" {
		name = "Sin_Municipio"
	}
	return truncate(name, maxSheetName)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
