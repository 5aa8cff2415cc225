package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tolima-epi/vereda-cli/internal/navigation"
)

var navigateCmd = &cobra.Command{
	Use:   "navigate <step>...",
	Short: "Replay a map drill-down script",
	Long: "Applies each step to the map state and prints the breadcrumbs after it.\n" +
		"Steps: mun=<name>, vereda=<name>, back, reset, filter=<municipality>[/<vereda>].",
	Example: "  vereda-cli navigate mun=Ibagué vereda=Tapias back reset",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("navigate"); err != nil {
			return err
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		strict, _ := cmd.Flags().GetBool("strict")

		events := make([]navigation.Event, 0, len(args))
		for _, a := range args {
			e, err := parseStep(a)
			if err != nil {
				return err
			}
			events = append(events, e)
		}

		final, err := replay(os.Stdout, events, strict)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(final)
		}
		return nil
	},
}

func init() {
	navigateCmd.Flags().Bool("json", false, "print the final state as JSON")
	navigateCmd.Flags().Bool("strict", false, "stop at the first invalid transition")
	rootCmd.AddCommand(navigateCmd)
}

// parseStep turns one script step into a navigation event.
func parseStep(step string) (navigation.Event, error) {
	name, value, _ := strings.Cut(step, "=")
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mun", "municipio", "municipality":
		return navigation.Event{Type: navigation.EventSelectMunicipality, Name: value}, nil
	case "vereda", "locality":
		return navigation.Event{Type: navigation.EventSelectLocality, Name: value}, nil
	case "back":
		return navigation.Event{Type: navigation.EventBack}, nil
	case "reset":
		return navigation.Event{Type: navigation.EventReset}, nil
	case "filter":
		mun, loc, _ := strings.Cut(value, "/")
		return navigation.Event{
			Type:    navigation.EventSyncFilters,
			Filters: navigation.Filters{Municipality: mun, Locality: loc},
		}, nil
	default:
		return navigation.Event{}, eris.Errorf("navigate: unknown step %q", step)
	}
}

// replay applies events in order and writes one line per step. Invalid
// transitions keep the state and are reported; with strict they abort.
func replay(out io.Writer, events []navigation.Event, strict bool) (navigation.State, error) {
	s := navigation.Initial()
	_, _ = fmt.Fprintf(out, "start\t%s\n", strings.Join(s.Breadcrumbs(), " > "))
	for i, e := range events {
		next, err := navigation.Transition(s, e)
		if err != nil {
			if strict {
				return s, eris.Wrapf(err, "navigate: step %d", i+1)
			}
			_, _ = fmt.Fprintf(out, "%s\tignored: %v\n", e.Type, err)
			continue
		}
		s = next
		_, _ = fmt.Fprintf(out, "%s\t%s\t(%s)\n", e.Type, strings.Join(s.Breadcrumbs(), " > "), navigation.Instructions(s.Level))
	}
	return s, nil
}
