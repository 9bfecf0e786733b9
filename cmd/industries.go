package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ownerexit/ownerexit-cli/internal/appraisal"
	"github.com/ownerexit/ownerexit-cli/internal/refdata"
)

var industriesJSON bool

var industriesCmd = &cobra.Command{
	Use:   "industries",
	Short: "List supported industries and their EBITDA multiples",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tables, err := loadTables(cfg.Appraisal)
		if err != nil {
			return err
		}
		if industriesJSON {
			return writeIndented(os.Stdout, map[string]any{
				"version":    tables.Version(),
				"industries": tables.Industries(),
				"states":     tables.States(),
			})
		}
		formatIndustries(os.Stdout, tables.Industries())
		return nil
	},
}

func init() {
	industriesCmd.Flags().BoolVar(&industriesJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(industriesCmd)
}

// formatIndustries writes a tabular list of industry multiples to out.
func formatIndustries(out io.Writer, inds []refdata.IndustryMultiple) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "INDUSTRY\tANZSIC\tEBITDA_MULTIPLE\tREVENUE_MULTIPLE\tTYPICAL_PRICE")
	_, _ = fmt.Fprintln(w, "--------\t------\t---------------\t----------------\t-------------")
	for _, ind := range inds {
		anzsic := ind.ANZSIC
		if anzsic == "" {
			anzsic = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f / %.1f / %.1f\t%.2f\t%s\n",
			ind.Key,
			anzsic,
			ind.EBITDA.Low, ind.EBITDA.Avg, ind.EBITDA.High,
			ind.RevenueAvg,
			typicalPrice(ind.TypicalPrice),
		)
	}
	_ = w.Flush()
}

func typicalPrice(p refdata.PriceBand) string {
	if p.Low == 0 && p.High == 0 {
		return "-"
	}
	return strings.Join([]string{appraisal.FormatAUD(p.Low), appraisal.FormatAUD(p.High)}, " - ")
}
