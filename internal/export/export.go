// Package export writes a classification report to review workbooks and CSV.
package export

import (
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/report"
)

// Output file names.
const (
	FileDataset      = "DATASET_COMPLETO.xlsx"
	FileReview       = "TODOS_CASOS_REVISION_MANUAL.xlsx"
	FileUrban        = "CASOS_URBANOS.xlsx"
	FileRural        = "VEREDAS_RURALES_CONFIRMADAS.xlsx"
	FileDatasetCSV   = "dataset_completo.csv"
	FileReviewCSV    = "casos_revision_manual.csv"
	folderPrefix     = "analisis_veredas_tolima_"
	folderTimeLayout = "20060102_150405"
)

// Sheet names.
const (
	SheetDataset = "Dataset_Completo"
	SheetStats   = "Estadisticas"
	SheetReview  = "Todos_Casos"
	SheetUrban   = "Casos_Urbanos"
	SheetRural   = "Veredas_Rurales"
)

// Options controls WriteReport.
type Options struct {
	// Numeric lists the numeric attribute columns in output order.
	Numeric []string
	// Extra lists pass-through text columns in output order.
	Extra []string
	// Timestamped writes into a new analisis_veredas_tolima_<time> folder
	// under dir instead of dir itself.
	Timestamped bool
	// Clock names the timestamped folder. Defaults to the real clock.
	Clock clockwork.Clock
}

// Result lists what WriteReport produced.
type Result struct {
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
}

// WriteReport writes every workbook and CSV for r and returns the folder
// they were written to.
func WriteReport(dir string, r *report.Report, opts Options) (*Result, error) {
	if r == nil {
		return nil, eris.New("export: nil report")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	out := dir
	if opts.Timestamped {
		out = filepath.Join(dir, FolderName(opts.Clock))
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create dir %s", out)
	}

	cols := columnsFor(r, opts)
	review := r.ByCategory(model.CategoryManualReview)

	steps := []struct {
		name  string
		write func(path string) error
	}{
		{FileDataset, func(p string) error { return writeDataset(p, r, cols) }},
		{FileReview, func(p string) error { return writeReview(p, r, cols) }},
		{FileUrban, func(p string) error {
			return writeRows(p, SheetUrban, cols, r.ByCategory(model.CategoryUrbanConfirmed, model.CategoryUrbanLikely))
		}},
		{FileRural, func(p string) error {
			return writeRows(p, SheetRural, cols, r.ByCategory(model.CategoryRuralConfirmed))
		}},
		{FileDatasetCSV, func(p string) error { return writeCSV(p, cols, r.Rows) }},
		{FileReviewCSV, func(p string) error { return writeCSV(p, cols, review) }},
	}

	res := &Result{Dir: out}
	for _, s := range steps {
		path := filepath.Join(out, s.name)
		if err := s.write(path); err != nil {
			return nil, eris.Wrapf(err, "export: write %s", s.name)
		}
		res.Files = append(res.Files, path)
	}

	zap.L().Info("export: report written",
		zap.String("dir", out),
		zap.Int("files", len(res.Files)),
		zap.Int("records", r.Len()),
		zap.Int("manual_review", len(review)),
	)

	return res, nil
}

// FolderName returns the timestamped folder name for the clock's current time.
func FolderName(clock clockwork.Clock) string {
	return folderPrefix + clock.Now().Format(folderTimeLayout)
}

// columnsFor puts the sum attribute first among the numeric columns.
func columnsFor(r *report.Report, opts Options) columns {
	c := columns{extra: opts.Extra}
	if r.SumAttribute != "" {
		c.numeric = append(c.numeric, r.SumAttribute)
	}
	for _, n := range opts.Numeric {
		if n != r.SumAttribute {
			c.numeric = append(c.numeric, n)
		}
	}
	return c
}
