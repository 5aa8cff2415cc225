package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tolima-epi/vereda-cli/internal/normalize"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <name>...",
	Short: "Show the normalized forms of place names",
	Long: "Prints the comparison key, strict form and canonical municipality for each " +
		"name. With --compare, explains whether two names match at each level.",
	RunE: func(cmd *cobra.Command, args []string) error {
		compare, _ := cmd.Flags().GetBool("compare")
		gaz := normalize.Tolima()

		if compare {
			if len(args) != 2 {
				return eris.New("normalize: --compare needs exactly two names")
			}
			formatComparison(os.Stdout, gaz.Explain(args[0], args[1]))
			return nil
		}
		if len(args) == 0 {
			return eris.New("normalize: at least one name is required")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "INPUT\tKEY\tSTRICT\tCANONICAL")
		for _, a := range args {
			canonical, _ := gaz.Canonical(a)
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a, normalize.Key(a), normalize.Strict(a), canonical)
		}
		return w.Flush()
	},
}

func init() {
	normalizeCmd.Flags().Bool("compare", false, "compare two names at every normalization level")
	rootCmd.AddCommand(normalizeCmd)
}

// formatComparison writes the name-matching debug report to w.
func formatComparison(out io.Writer, c normalize.Comparison) {
	mark := func(ok bool) string {
		if ok {
			return "match"
		}
		return "differ"
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "LEVEL\t%q\t%q\tRESULT\n", c.A, c.B)
	_, _ = fmt.Fprintf(w, "key\t%s\t%s\t%s\n", c.KeyA, c.KeyB, mark(c.KeyMatch))
	_, _ = fmt.Fprintf(w, "strict\t%s\t%s\t%s\n", c.StrictA, c.StrictB, mark(c.StrictMatch))
	_, _ = fmt.Fprintf(w, "canonical\t%s\t%s\t%s\n", c.CanonicalA, c.CanonicalB, mark(c.CanonicalMatch))
	_, _ = fmt.Fprintf(w, "display\t%s\t%s\t%s\n", normalize.Display(c.A), normalize.Display(c.B), mark(c.DisplayMatching))
	_ = w.Flush()
}
