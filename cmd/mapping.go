package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tolima-epi/vereda-cli/internal/mapping"
	"github.com/tolima-epi/vereda-cli/internal/model"
	"github.com/tolima-epi/vereda-cli/internal/pipeline"
	"github.com/tolima-epi/vereda-cli/internal/reference"
)

var mappingCmd = &cobra.Command{
	Use:   "mapping",
	Short: "Suggest name mappings between a population table and the reference",
	Long: "Matches every municipality and vereda name of the population table against " +
		"the reference by strict form, buckets fuzzy suggestions by confidence and " +
		"writes the result as a mapping YAML for classify --mapping.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		population, _ := cmd.Flags().GetString("population")
		ref, _ := cmd.Flags().GetString("reference")
		out, _ := cmd.Flags().GetString("out")

		if err := cfg.Validate("mapping"); err != nil {
			return err
		}

		p := pipeline.New(cfg, nil, nil, nil)
		idx, err := p.LoadIndex(ref)
		if err != nil {
			return eris.Wrap(err, "mapping")
		}
		records, err := p.LoadRecords(population)
		if err != nil {
			return eris.Wrap(err, "mapping")
		}

		f := buildMappingFile(records, idx, mapping.Thresholds{
			High:   cfg.Mapping.HighThreshold,
			Medium: cfg.Mapping.MediumThreshold,
		}, clockwork.NewRealClock())

		formatMappingCounts(os.Stdout, f)

		if out != "" {
			if err := mapping.SaveYAML(out, f); err != nil {
				return err
			}
			zap.L().Info("mapping written", zap.String("command", "mapping"), zap.String("path", out))
		}
		return nil
	},
}

func init() {
	mappingCmd.Flags().String("population", "", "population or case table (.xlsx or .csv)")
	mappingCmd.Flags().String("reference", "", "vereda reference (.shp, .xlsx or .csv)")
	mappingCmd.Flags().String("out", "mapping.yaml", "mapping file to write (empty to only print counts)")
	_ = mappingCmd.MarkFlagRequired("population")
	_ = mappingCmd.MarkFlagRequired("reference")
	rootCmd.AddCommand(mappingCmd)
}

// buildMappingFile maps source municipalities and localities onto the
// reference names.
func buildMappingFile(records []model.PlaceRecord, idx *reference.Index, th mapping.Thresholds, clock clockwork.Clock) *mapping.File {
	municipalities := make([]string, 0, len(records))
	localities := make([]string, 0, len(records))
	for _, r := range records {
		municipalities = append(municipalities, r.Municipality)
		if r.Locality != "" {
			localities = append(localities, r.Locality)
		}
	}

	var refLocalities []string
	for _, m := range idx.Municipalities() {
		refLocalities = append(refLocalities, idx.Localities(m)...)
	}

	return &mapping.File{
		GeneratedAt:    clock.Now().UTC(),
		Thresholds:     th,
		Municipalities: mapping.Build(municipalities, idx.Municipalities(), th),
		Localities:     mapping.Build(localities, refLocalities, th),
	}
}

// formatMappingCounts writes bucket sizes for both entity types to w.
func formatMappingCounts(out io.Writer, f *mapping.File) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tEXACT\tHIGH\tMEDIUM\tREVIEW\tMISSING_IN_SOURCE\tDUPLICATES")
	for _, row := range []struct {
		name string
		m    *mapping.Mapping
	}{
		{"municipalities", f.Municipalities},
		{"veredas", f.Localities},
	} {
		c := row.m.Counts()
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			row.name, c["exact"], c["high"], c["medium"], c["review"],
			len(row.m.MissingInSource), len(row.m.Duplicates))
	}
	_ = w.Flush()
}
