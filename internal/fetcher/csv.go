// Package fetcher reads the tabular sources of a reconciliation run (XLSX
// workbooks and CSV exports) and binds their columns to place records.
package fetcher

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVOptions configures the CSV parser.
type CSVOptions struct {
	Delimiter  rune   // default ','
	Encoding   string // "utf-8" (default), "windows-1252" or "latin1"
	Comment    rune   // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// ReadCSV opens a CSV file and parses every row.
func ReadCSV(path string, opts CSVOptions) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open file %s", path)
	}
	defer func() { _ = f.Close() }()

	return ParseCSV(f, opts)
}

// ParseCSV decodes r with the configured encoding and parses every row.
// A leading UTF-8 byte order mark is dropped.
func ParseCSV(r io.Reader, opts CSVOptions) ([][]string, error) {
	dec, err := Decoder(opts.Encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(transform.NewReader(r, dec))
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	if opts.Comment != 0 {
		reader.Comment = opts.Comment
	}
	reader.LazyQuotes = opts.LazyQuotes
	reader.FieldsPerRecord = -1 // allow variable fields

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "csv: read row")
		}
		if opts.TrimSpace {
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// Decoder returns a decoder for a named text encoding. Besides the usual
// names it accepts the code page labels found in shapefile .cpg files
// ("1252", "ANSI 1252", "88591").
func Decoder(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8", "65001":
		return xunicode.UTF8BOM.NewDecoder(), nil
	case "windows-1252", "cp1252", "1252", "ansi 1252":
		return charmap.Windows1252.NewDecoder(), nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1", "88591":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, eris.Errorf("fetcher: unsupported encoding %q", name)
	}
}

// ReadTable reads a CSV or XLSX file, chosen by extension, into a Table.
// sheet selects the XLSX sheet and is ignored for CSV.
func ReadTable(path, sheet string, csvOpts CSVOptions) (*Table, error) {
	var (
		rows [][]string
		err  error
	)
	source := path
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".xlsx", ".xlsm":
		rows, err = ReadXLSX(path, XLSXOptions{SheetName: sheet})
		if sheet != "" {
			source = path + "#" + sheet
		}
	case ".csv", ".txt":
		rows, err = ReadCSV(path, csvOpts)
	default:
		return nil, eris.Errorf("fetcher: unsupported file type %q for %s", ext, path)
	}
	if err != nil {
		return nil, err
	}

	return NewTable(source, rows)
}
