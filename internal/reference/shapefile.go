package reference

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/tolima-epi/vereda-cli/internal/fetcher"
	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/normalize"
)

// ShapefileFields names the DBF attributes that carry each reference field.
// Region is optional; the others are required.
type ShapefileFields struct {
	Code         string
	Municipality string
	Locality     string
	Region       string

	// Department and DepartmentCode keep only the records of one
	// department. When no record carries DepartmentCode, records whose
	// DepartmentName attribute contains DepartmentLabel are kept instead.
	// A layer without either attribute is loaded whole.
	Department      string
	DepartmentCode  string
	DepartmentName  string
	DepartmentLabel string

	// Encoding of the DBF text. Empty reads the .cpg file next to the
	// layer; without one, values that are not valid UTF-8 are decoded as
	// Windows-1252.
	Encoding string
}

// DefaultShapefileFields matches the IGAC veredas layer for Tolima.
var DefaultShapefileFields = ShapefileFields{
	Code:            "CODIGO_VER",
	Municipality:    "NOMB_MPIO",
	Locality:        "NOMBRE_VER",
	Region:          "",
	Department:      "COD_DPTO",
	DepartmentCode:  "73",
	DepartmentName:  "NOM_DEP",
	DepartmentLabel: "TOLIMA",
}

type shapeRow struct {
	entry    model.ReferenceEntry
	deptCode string
	deptName string
}

// LoadShapefile reads a vereda polygon shapefile into reference entries.
// Attribute names are matched case-insensitively. Polygon shapes get the
// center of their bounding box; other shapes leave Center nil.
func LoadShapefile(shpPath string, fields ShapefileFields) ([]model.ReferenceEntry, error) {
	dec, err := shapeDecoder(shpPath, fields.Encoding)
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "reference: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	dbf := reader.Fields()
	fieldIdx := make(map[string]int, len(dbf))
	for i, f := range dbf {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	var missing []string
	for _, name := range []string{fields.Code, fields.Municipality, fields.Locality, fields.Region} {
		if name == "" {
			continue
		}
		if _, ok := fieldIdx[strings.ToLower(name)]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Wrap(&fetcher.MissingInputError{Source: shpPath, Columns: missing},
			"reference: shapefile attributes")
	}

	// Department attributes are optional: absent ones disable their filter.
	has := func(name string) bool {
		_, ok := fieldIdx[strings.ToLower(name)]
		return name != "" && ok
	}
	deptField, nameField := fields.Department, fields.DepartmentName
	if fields.DepartmentCode == "" || !has(deptField) {
		deptField = ""
	}
	if fields.DepartmentLabel == "" || !has(nameField) {
		nameField = ""
	}

	attr := func(name string) string {
		if name == "" {
			return ""
		}
		val := reader.Attribute(fieldIdx[strings.ToLower(name)])
		return strings.TrimSpace(decodeAttr(dec, strings.TrimRight(val, "\x00")))
	}

	var rows []shapeRow
	var noGeom int
	for reader.Next() {
		_, shape := reader.Shape()

		row := shapeRow{
			entry: model.ReferenceEntry{
				Code:         attr(fields.Code),
				Municipality: attr(fields.Municipality),
				Locality:     attr(fields.Locality),
				Region:       attr(fields.Region),
			},
			deptCode: attr(deptField),
			deptName: attr(nameField),
		}
		if c, ok := shapeCenter(shape); ok {
			row.entry.Center = &c
		} else {
			noGeom++
		}
		rows = append(rows, row)
	}

	if noGeom > 0 {
		zap.L().Debug("reference: shapefile records without usable geometry",
			zap.String("path", shpPath),
			zap.Int("records", noGeom),
		)
	}

	return filterDepartment(shpPath, rows, fields, deptField, nameField)
}

// filterDepartment keeps the rows of the configured department, first by
// code and then by name. An empty result is an error so a wrong layer never
// yields an empty index.
func filterDepartment(path string, rows []shapeRow, fields ShapefileFields, deptField, nameField string) ([]model.ReferenceEntry, error) {
	entries := make([]model.ReferenceEntry, 0, len(rows))
	if deptField == "" && nameField == "" {
		if fields.Department != "" || fields.DepartmentName != "" {
			zap.L().Info("reference: shapefile has no department attribute, loading all records",
				zap.String("path", path),
				zap.Int("records", len(rows)),
			)
		}
		for _, r := range rows {
			entries = append(entries, r.entry)
		}
		return entries, nil
	}

	if deptField != "" {
		for _, r := range rows {
			if r.deptCode == fields.DepartmentCode {
				entries = append(entries, r.entry)
			}
		}
	}
	if len(entries) == 0 && nameField != "" {
		label := normalize.Key(fields.DepartmentLabel)
		for _, r := range rows {
			if strings.Contains(normalize.Key(r.deptName), label) {
				entries = append(entries, r.entry)
			}
		}
	}
	if len(entries) == 0 && len(rows) > 0 {
		return nil, eris.Errorf("reference: no records for department %s (%s) in %s",
			fields.DepartmentCode, fields.DepartmentLabel, path)
	}

	if skipped := len(rows) - len(entries); skipped > 0 {
		zap.L().Info("reference: skipped records of other departments",
			zap.String("path", path),
			zap.Int("kept", len(entries)),
			zap.Int("skipped", skipped),
		)
	}
	return entries, nil
}

// shapeDecoder resolves the DBF text encoding from the explicit setting or
// the layer's .cpg file. A nil decoder means autodetect per value.
func shapeDecoder(shpPath, name string) (*encoding.Decoder, error) {
	if name == "" {
		name = readCPG(shpPath)
	}
	if name == "" {
		return nil, nil
	}
	dec, err := fetcher.Decoder(name)
	if err != nil {
		return nil, eris.Wrapf(err, "reference: shapefile encoding for %s", shpPath)
	}
	return dec, nil
}

// readCPG returns the code page declared next to the layer, if any.
func readCPG(shpPath string) string {
	base := strings.TrimSuffix(shpPath, filepath.Ext(shpPath))
	for _, ext := range []string{".cpg", ".CPG"} {
		data, err := os.ReadFile(base + ext)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return ""
}

func decodeAttr(dec *encoding.Decoder, val string) string {
	if dec == nil {
		if utf8.ValidString(val) {
			return val
		}
		dec = charmap.Windows1252.NewDecoder()
	}
	out, err := dec.String(val)
	if err != nil {
		return val
	}
	return out
}

// shapeCenter returns the bounding-box center of a polygon or point shape.
func shapeCenter(shape shp.Shape) (model.Point, bool) {
	switch s := shape.(type) {
	case *shp.Point:
		return model.Point{Lon: s.X, Lat: s.Y}, true
	case *shp.Polygon:
		mp := polygonToMultiPolygon(s)
		if mp == nil {
			return model.Point{}, false
		}
		b := mp.Bounds()
		return model.Point{
			Lon: (b.Min(0) + b.Max(0)) / 2,
			Lat: (b.Min(1) + b.Max(1)) / 2,
		}, true
	default:
		return model.Point{}, false
	}
}

// polygonToMultiPolygon converts a shapefile Polygon to a geom.MultiPolygon,
// one polygon per ring.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || start >= end || end > int32(len(p.Points)) {
			continue
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("reference: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("reference: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
