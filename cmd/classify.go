package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tolima-epi/vereda-cli/internal/fetcher"
	"github.com/tolima-epi/vereda-cli/internal/monitoring"
	"github.com/tolima-epi/vereda-cli/internal/pipeline"
	"github.com/tolima-epi/vereda-cli/internal/report"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a population table against the vereda reference",
	Long: "Loads the population (or case) table and the reference layer, classifies " +
		"every record, prints per-category totals and writes the analysis workbooks.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "classify"))

		population, _ := cmd.Flags().GetString("population")
		ref, _ := cmd.Flags().GetString("reference")
		output, _ := cmd.Flags().GetString("output")
		noExport, _ := cmd.Flags().GetBool("no-export")
		asJSON, _ := cmd.Flags().GetBool("json")
		top, _ := cmd.Flags().GetInt("top")
		if cmd.Flags().Changed("strict") {
			cfg.Reference.Strict, _ = cmd.Flags().GetBool("strict")
		}
		if cmd.Flags().Changed("canonicalize") {
			cfg.Input.Canonicalize, _ = cmd.Flags().GetBool("canonicalize")
		}
		if cmd.Flags().Changed("mapping") {
			cfg.Mapping.File, _ = cmd.Flags().GetString("mapping")
		}
		if top <= 0 {
			top = cfg.Classify.TopReview
		}

		if err := cfg.Validate("classify"); err != nil {
			return err
		}

		st, err := optionalStore(ctx)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
		}

		p := pipeline.New(cfg, st, monitoring.NewMetrics(nil), nil)
		res, err := p.Run(ctx, pipeline.Sources{
			Population: population,
			Reference:  ref,
			OutputDir:  output,
			SkipExport: noExport,
		})
		if err != nil {
			var mie *fetcher.MissingInputError
			if errors.As(err, &mie) {
				return eris.Errorf("missing required columns in %s: %s", mie.Source, strings.Join(mie.Columns, ", "))
			}
			return eris.Wrap(err, "classify")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(classifyOutput{
				RunID:     res.RunID,
				Totals:    res.Report.Totals(),
				Review:    topReview(res.Report.ManualReview(), top),
				Collision: len(res.Index.Collisions()),
			})
		}

		formatTotals(os.Stdout, res.Report)
		formatTopReview(os.Stdout, topReview(res.Report.ManualReview(), top))
		if res.Export != nil {
			_, _ = fmt.Fprintf(os.Stdout, "\nOutput: %s (%d files)\n", res.Export.Dir, len(res.Export.Files))
		}
		log.Info("classify complete", zap.String("run_id", res.RunID), zap.Duration("duration", res.Duration))
		return nil
	},
}

type classifyOutput struct {
	RunID     string                     `json:"run_id,omitempty"`
	Totals    []report.CategoryTotal     `json:"totals"`
	Review    []report.MunicipalityGroup `json:"top_review"`
	Collision int                        `json:"collisions"`
}

func init() {
	classifyCmd.Flags().String("population", "", "population or case table (.xlsx or .csv)")
	classifyCmd.Flags().String("reference", "", "vereda reference (.shp, .xlsx or .csv)")
	classifyCmd.Flags().String("output", "", "output directory (default from config)")
	classifyCmd.Flags().Bool("no-export", false, "skip writing workbooks")
	classifyCmd.Flags().Bool("json", false, "print totals as JSON")
	classifyCmd.Flags().Int("top", 0, "municipalities to list in the review summary (default from config)")
	classifyCmd.Flags().Bool("strict", false, "strict reference keys (drop admin prefixes and connectors)")
	classifyCmd.Flags().Bool("canonicalize", false, "rewrite municipality variants to the authoritative spelling")
	classifyCmd.Flags().String("mapping", "", "mapping YAML applied before classification")
	_ = classifyCmd.MarkFlagRequired("population")
	_ = classifyCmd.MarkFlagRequired("reference")
	rootCmd.AddCommand(classifyCmd)
}

// topReview returns the n municipalities with the largest review sum, ties
// broken by count then name. Rows are dropped from the copy.
func topReview(groups []report.MunicipalityGroup, n int) []report.MunicipalityGroup {
	out := make([]report.MunicipalityGroup, len(groups))
	for i, g := range groups {
		out[i] = report.MunicipalityGroup{Municipality: g.Municipality, Count: g.Count, Sum: g.Sum}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sum != out[j].Sum {
			return out[i].Sum > out[j].Sum
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Municipality < out[j].Municipality
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// formatTotals writes the per-category table to w.
func formatTotals(out io.Writer, r *report.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CATEGORY\tRECORDS\tPCT\tSUM\tPCT")
	_, _ = fmt.Fprintln(w, "--------\t-------\t---\t---\t---")
	for _, t := range r.Totals() {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%.0f\t%.1f%%\n",
			t.Category, t.Count, t.CountPct, t.Sum, t.SumPct)
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t%d\t\t%.0f\t\n", r.Len(), r.GrandTotal())
	_ = w.Flush()
	if r.MissingSum > 0 {
		_, _ = fmt.Fprintf(out, "%d records without a usable %q value\n", r.MissingSum, r.SumAttribute)
	}
}

// formatTopReview writes the review summary to w.
func formatTopReview(out io.Writer, groups []report.MunicipalityGroup) {
	if len(groups) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out, "\nMunicipalities with most records in manual review:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for i, g := range groups {
		_, _ = fmt.Fprintf(w, "%d.\t%s\t%d records\t%.0f\n", i+1, g.Municipality, g.Count, g.Sum)
	}
	_ = w.Flush()
}
