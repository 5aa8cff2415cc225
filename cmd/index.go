package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tolima-epi/vereda-cli/internal/pipeline"
	"github.com/tolima-epi/vereda-cli/internal/reference"
)

var indexCmd = &cobra.Command{
	Use:   "index <reference-file>",
	Short: "Build the reference index and report its size and key collisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cmd.Flags().Changed("strict") {
			cfg.Reference.Strict, _ = cmd.Flags().GetBool("strict")
		}
		if err := cfg.Validate("index"); err != nil {
			return err
		}
		municipality, _ := cmd.Flags().GetString("municipality")
		save, _ := cmd.Flags().GetBool("save")

		idx, err := pipeline.New(cfg, nil, nil, nil).LoadIndex(args[0])
		if err != nil {
			return eris.Wrap(err, "index")
		}

		if municipality != "" {
			for _, l := range idx.Localities(municipality) {
				_, _ = fmt.Fprintln(os.Stdout, l)
			}
			return nil
		}

		formatIndexSummary(os.Stdout, idx)

		if save {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			n, err := st.SaveReference(ctx, idx.Entries())
			if err != nil {
				return eris.Wrap(err, "index: save reference")
			}
			zap.L().Info("reference saved", zap.String("command", "index"), zap.Int64("entries", n))
		}
		return nil
	},
}

func init() {
	indexCmd.Flags().Bool("strict", false, "strict keys (drop admin prefixes and connectors)")
	indexCmd.Flags().String("municipality", "", "list the indexed veredas of one municipality")
	indexCmd.Flags().Bool("save", false, "upsert the reference entries into the configured store")
	rootCmd.AddCommand(indexCmd)
}

// formatIndexSummary writes the index size and every collision to w.
func formatIndexSummary(out io.Writer, idx *reference.Index) {
	collisions := idx.Collisions()
	_, _ = fmt.Fprintf(out, "Entries:\t%d\n", idx.Len())
	_, _ = fmt.Fprintf(out, "Municipalities:\t%d\n", len(idx.Municipalities()))
	_, _ = fmt.Fprintf(out, "Collisions:\t%d\n", len(collisions))
	if len(collisions) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\nKEY\tDISCARDED\tKEPT")
	for _, c := range collisions {
		_, _ = fmt.Fprintf(w, "%s\t%s %s\t%s %s\n",
			c.Key,
			c.Previous.Code, c.Previous.Locality,
			c.Replacement.Code, c.Replacement.Locality,
		)
	}
	_ = w.Flush()
}
