// Package pipeline runs one reconciliation batch end to end: load the
// reference table and the population table, classify, export and record
// the run.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tolima-epi/vereda-cli/internal/config"
	"github.com/tolima-epi/vereda-cli/internal/export"
	"github.com/tolima-epi/vereda-cli/internal/fetcher"
	"github.com/tolima-epi/vereda-cli/internal/mapping"
	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/monitoring"
	"github.com/tolima-epi/vereda-cli/internal/normalize"
	"github.com/tolima-epi/vereda-cli/internal/reference"
	"github.com/tolima-epi/vereda-cli/internal/report"
	"github.com/tolima-epi/vereda-cli/internal/store"
)

// Sources names the files of one run.
type Sources struct {
	Population string
	Reference  string
	// OutputDir overrides export.output_dir. Empty with SkipExport unset
	// uses the configured directory.
	OutputDir  string
	SkipExport bool
}

// Result is the outcome of a run.
type Result struct {
	RunID    string
	Index    *reference.Index
	Report   *report.Report
	Export   *export.Result
	Duration time.Duration
}

// Pipeline holds the dependencies of a run. The store and metrics are
// optional.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	metrics *monitoring.Metrics
	clock   clockwork.Clock
}

// New creates a Pipeline. A nil clock uses the real clock.
func New(cfg *config.Config, st store.Store, metrics *monitoring.Metrics, clock clockwork.Clock) *Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Pipeline{cfg: cfg, store: st, metrics: metrics, clock: clock}
}

// Run executes a full batch. Missing input columns are returned before any
// classification happens.
func (p *Pipeline) Run(ctx context.Context, src Sources) (*Result, error) {
	start := p.clock.Now()
	log := zap.L().With(
		zap.String("population", src.Population),
		zap.String("reference", src.Reference),
	)
	log.Info("pipeline: starting run")

	result := &Result{}

	var run *model.Run
	if p.store != nil {
		var err error
		run, err = p.store.CreateRun(ctx, model.RunInput{
			PopulationPath: src.Population,
			ReferencePath:  src.Reference,
			SumAttribute:   p.cfg.Input.SumAttribute,
			Strict:         p.cfg.Reference.Strict,
		})
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		result.RunID = run.ID
		log = log.With(zap.String("run_id", run.ID))
	}

	setStatus := func(status model.RunStatus) {
		if run == nil {
			return
		}
		if err := p.store.UpdateRunStatus(ctx, run.ID, status); err != nil {
			log.Warn("pipeline: failed to update status", zap.Error(err))
		}
	}
	fail := func(err error) (*Result, error) {
		p.metrics.ObserveRun(model.RunStatusFailed, p.clock.Since(start))
		if run != nil {
			if ferr := p.store.FailRun(ctx, run.ID, err.Error()); ferr != nil {
				log.Warn("pipeline: failed to record failure", zap.Error(ferr))
			}
		}
		log.Error("pipeline: run failed", zap.Error(err))
		return nil, err
	}

	setStatus(model.RunStatusLoading)

	idx, err := p.LoadIndex(src.Reference)
	if err != nil {
		return fail(err)
	}
	result.Index = idx
	p.metrics.ObserveIndex(idx)

	records, err := p.LoadRecords(src.Population)
	if err != nil {
		return fail(err)
	}
	rewritten, err := p.rewriteNames(records)
	if err != nil {
		return fail(err)
	}

	setStatus(model.RunStatusClassifying)

	rep, err := report.Build(records, idx, report.Options{
		SumAttribute: p.cfg.Input.SumAttribute,
		Concurrency:  p.cfg.Classify.Concurrency,
	})
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: classify"))
	}
	result.Report = rep
	p.metrics.ObserveReport(rep)

	if !src.SkipExport {
		setStatus(model.RunStatusExporting)
		dir := src.OutputDir
		if dir == "" {
			dir = p.cfg.Export.OutputDir
		}
		extra := p.cfg.Input.ExtraColumns
		if rewritten {
			extra = append(slices.Clone(extra), model.ExtraMunicipalityRaw, model.ExtraLocalityRaw)
		}
		res, err := export.WriteReport(dir, rep, export.Options{
			Numeric:     p.cfg.Input.NumericColumns,
			Extra:       extra,
			Timestamped: p.cfg.Export.Timestamped,
			Clock:       p.clock,
		})
		if err != nil {
			return fail(err)
		}
		result.Export = res
	}

	result.Duration = p.clock.Since(start)

	if run != nil {
		if err := p.persist(ctx, run.ID, result); err != nil {
			return fail(err)
		}
	}
	p.metrics.ObserveRun(model.RunStatusComplete, result.Duration)

	log.Info("pipeline: run complete",
		zap.Int("records", rep.Len()),
		zap.Int("manual_review", rep.Total(model.CategoryManualReview).Count),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (p *Pipeline) persist(ctx context.Context, runID string, result *Result) error {
	stored := make([]model.StoredRecord, len(result.Report.Rows))
	for i, row := range result.Report.Rows {
		stored[i] = model.NewStoredRecord(runID, result.Report.SumAttribute, row)
	}
	if _, err := p.store.SaveRecords(ctx, stored); err != nil {
		return eris.Wrap(err, "pipeline: save records")
	}
	if _, err := p.store.SaveReference(ctx, result.Index.Entries()); err != nil {
		return eris.Wrap(err, "pipeline: save reference")
	}

	summary := result.Report.Summary()
	summary.ReferenceSize = result.Index.Len()
	summary.Collisions = len(result.Index.Collisions())
	summary.DurationMS = result.Duration.Milliseconds()
	if result.Export != nil {
		summary.OutputDir = result.Export.Dir
	}
	return eris.Wrap(p.store.CompleteRun(ctx, runID, summary), "pipeline: complete run")
}

// LoadIndex reads the reference file and builds the index. Shapefiles, bare
// or zipped, are read through their DBF attributes; CSV and XLSX through the
// configured column names.
func (p *Pipeline) LoadIndex(path string) (*reference.Index, error) {
	entries, err := p.loadReference(path)
	if err != nil {
		return nil, err
	}
	var opts []reference.Option
	if p.cfg.Reference.Strict {
		opts = append(opts, reference.WithStrict())
	}
	return reference.Build(entries, opts...), nil
}

func (p *Pipeline) loadReference(path string) ([]model.ReferenceEntry, error) {
	rc := p.cfg.Reference
	fields := reference.ShapefileFields{
		Code:         rc.ShapeCodeField,
		Municipality: rc.ShapeMunicipalityField,
		Locality:     rc.ShapeLocalityField,
		Region:       rc.ShapeRegionField,

		Department:      rc.DepartmentField,
		DepartmentCode:  rc.Department,
		DepartmentName:  rc.DepartmentNameField,
		DepartmentLabel: rc.DepartmentName,
		Encoding:        rc.ShapeEncoding,
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return reference.LoadShapefile(path, fields)
	case ".zip":
		tmp, err := os.MkdirTemp("", "vereda-shp-*")
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: temp dir")
		}
		defer os.RemoveAll(tmp) //nolint:errcheck

		shp, err := fetcher.ExtractShapefile(path, tmp)
		if err != nil {
			return nil, err
		}
		return reference.LoadShapefile(shp, fields)
	}

	t, err := fetcher.ReadTable(path, rc.Sheet, p.csvOptions())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read reference")
	}
	return reference.FromTable(t, fetcher.ReferenceColumns{
		Code:         rc.CodeColumn,
		Municipality: rc.MunicipalityColumn,
		Locality:     rc.LocalityColumn,
		Region:       rc.RegionColumn,
	})
}

// LoadRecords reads the population or event table.
func (p *Pipeline) LoadRecords(path string) ([]model.PlaceRecord, error) {
	in := p.cfg.Input
	t, err := fetcher.ReadTable(path, in.Sheet, p.csvOptions())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read population")
	}
	records, err := fetcher.PlaceRecords(t, fetcher.PlaceColumns{
		Municipality: in.MunicipalityColumn,
		Locality:     in.LocalityColumn,
		Sum:          in.SumAttribute,
		Numeric:      in.NumericColumns,
		Extra:        in.ExtraColumns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: population records")
	}
	return records, nil
}

func (p *Pipeline) csvOptions() fetcher.CSVOptions {
	opts := fetcher.CSVOptions{
		Encoding:  p.cfg.Input.CSVEncoding,
		TrimSpace: true,
	}
	if d := []rune(p.cfg.Input.CSVDelimiter); len(d) == 1 {
		opts.Delimiter = d[0]
	}
	return opts
}

// rewriteNames applies municipality canonicalization and the mapping file,
// in that order, when configured.
func (p *Pipeline) rewriteNames(records []model.PlaceRecord) (bool, error) {
	var gaz *normalize.Gazetteer
	if p.cfg.Input.Canonicalize {
		gaz = normalize.Tolima()
	}

	var mf *mapping.File
	if p.cfg.Mapping.File != "" {
		var err error
		mf, err = mapping.LoadYAML(p.cfg.Mapping.File)
		if err != nil {
			return false, eris.Wrap(err, "pipeline: load mapping")
		}
	}
	if gaz == nil && mf == nil {
		return false, nil
	}

	var renamed int
	medium := p.cfg.Mapping.IncludeMedium
	for i := range records {
		r := &records[i]
		r.KeepSourceNames()
		if gaz != nil {
			if c, ok := gaz.Canonical(r.Municipality); ok && c != r.Municipality {
				r.Municipality = c
				renamed++
			}
		}
		if mf != nil {
			if m, ok := mf.Municipalities.Apply(r.Municipality, medium); ok && m != r.Municipality {
				r.Municipality = m
				renamed++
			}
			if l, ok := mf.Localities.Apply(r.Locality, medium); ok && l != r.Locality {
				r.Locality = l
				renamed++
			}
		}
	}
	zap.L().Info("pipeline: names rewritten", zap.Int("changes", renamed))
	return true, nil
}
