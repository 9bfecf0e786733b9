package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ownerexit/ownerexit-cli/internal/appraisal"
	"github.com/ownerexit/ownerexit-cli/internal/model"
	"github.com/ownerexit/ownerexit-cli/internal/normalise"
)

var (
	normInput      string
	normXLSX       string
	normSheet      string
	normSheetIndex int
	normIndustry   string
	normRevenue    string
	normBusinessID string
	normFormat     string
)

var normaliseCmd = &cobra.Command{
	Use:     "normalise",
	Aliases: []string{"normalize"},
	Short:   "Normalise a profit-and-loss statement and benchmark it",
	Example: `  ownerexit normalise --input pnl.json
  ownerexit normalise --xlsx pnl.xlsx --industry Cafe --format text
  ownerexit normalise --input pnl.json --business-id biz-123`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		ctx := cmd.Context()

		if normFormat != "json" && normFormat != "text" {
			return eris.Errorf("normalise: unknown format %q (want json or text)", normFormat)
		}

		in, err := loadNormaliseInput(normInput, normXLSX, normalise.SheetOptions{
			SheetIndex: normSheetIndex,
			SheetName:  normSheet,
		})
		if err != nil {
			return err
		}
		if err := applyNormaliseOverrides(&in, normIndustry, normRevenue); err != nil {
			return err
		}

		_, norm, err := buildCalculators()
		if err != nil {
			return err
		}
		res, err := norm.Normalise(in)
		if err != nil {
			return err
		}

		if normBusinessID != "" {
			if err := cfg.Validate("store"); err != nil {
				return err
			}
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			data, err := json.Marshal(res)
			if err != nil {
				return eris.Wrap(err, "normalise: marshal result")
			}
			sec, err := st.UpsertSection(ctx, normBusinessID, model.SectionNormalisation, data)
			if err != nil {
				return eris.Wrap(err, "normalise: save section")
			}
			zap.L().Info("saved normalisation",
				zap.String("business_id", sec.BusinessID),
				zap.String("section_id", sec.ID),
			)
		}

		if normFormat == "text" {
			formatNormalisation(os.Stdout, res)
			return nil
		}
		return writeIndented(os.Stdout, res)
	},
}

func init() {
	f := normaliseCmd.Flags()
	f.StringVarP(&normInput, "input", "i", "", `JSON P&L file ("-" for stdin)`)
	f.StringVar(&normXLSX, "xlsx", "", "P&L workbook with label and amount columns")
	f.StringVar(&normSheet, "sheet", "", "worksheet name (xlsx)")
	f.IntVar(&normSheetIndex, "sheet-index", 0, "worksheet index when --sheet is not set (xlsx)")
	f.StringVar(&normIndustry, "industry", "", "industry for benchmarks and multiples")
	f.StringVar(&normRevenue, "revenue", "", "override revenue")
	f.StringVar(&normBusinessID, "business-id", "", "store the result as this business's normalisation section")
	f.StringVar(&normFormat, "format", "json", "output format: json or text")
	rootCmd.AddCommand(normaliseCmd)
}

// loadNormaliseInput reads the P&L from exactly one of a JSON file or a workbook.
func loadNormaliseInput(jsonPath, xlsxPath string, opts normalise.SheetOptions) (normalise.Input, error) {
	switch {
	case jsonPath != "" && xlsxPath != "":
		return normalise.Input{}, eris.New("normalise: use one of --input or --xlsx")
	case xlsxPath != "":
		rows, err := normalise.ReadXLSX(xlsxPath, opts)
		if err != nil {
			return normalise.Input{}, eris.Wrap(err, "normalise")
		}
		in, err := normalise.ParseExpenseRows(rows)
		if err != nil {
			return normalise.Input{}, eris.Wrap(err, "normalise")
		}
		return in, nil
	case jsonPath != "":
		var r io.Reader = os.Stdin
		if jsonPath != "-" {
			f, err := os.Open(jsonPath)
			if err != nil {
				return normalise.Input{}, eris.Wrap(err, "normalise: open input")
			}
			defer f.Close() //nolint:errcheck
			r = f
		}
		return decodeNormaliseInput(r)
	default:
		return normalise.Input{}, eris.New("normalise: one of --input or --xlsx is required")
	}
}

func decodeNormaliseInput(r io.Reader) (normalise.Input, error) {
	var in normalise.Input
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return normalise.Input{}, eris.Wrap(err, "normalise: decode input")
	}
	return in, nil
}

func applyNormaliseOverrides(in *normalise.Input, industry, revenue string) error {
	if s := strings.TrimSpace(industry); s != "" {
		in.Industry = s
	}
	if revenue == "" {
		return nil
	}
	n, err := appraisal.ParseNumber(revenue)
	if err != nil {
		return eris.Wrap(err, "--revenue")
	}
	if n.Set {
		in.Revenue = decimal.NewNullDecimal(decimal.NewFromFloat(n.Value))
	}
	return nil
}

// formatNormalisation writes a human-readable summary of res.
func formatNormalisation(out io.Writer, res *normalise.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Industry:\t%s\n", res.Industry)
	_, _ = fmt.Fprintf(w, "Revenue:\t%s\t(%s)\n", appraisal.FormatAUD(res.Revenue), res.RevenueBracket)
	profitNote := ""
	if res.ProfitDerived {
		profitNote = "(derived)"
	}
	_, _ = fmt.Fprintf(w, "Reported profit:\t%s\t%s\n", appraisal.FormatAUD(res.ReportedProfit), profitNote)
	_, _ = fmt.Fprintf(w, "Add-backs:\t%s\n", appraisal.FormatAUD(res.AddBacksTotal))
	_, _ = fmt.Fprintf(w, "Deductions:\t%s\n", appraisal.FormatAUD(res.DeductionsTotal))
	_, _ = fmt.Fprintf(w, "Normalised EBITDA:\t%s\n", res.EBITDA().StringFixed(2))
	_, _ = fmt.Fprintf(w, "Appraisal range:\t%s - %s\n", appraisal.FormatAUD(res.AppraisalRange.Low), appraisal.FormatAUD(res.AppraisalRange.High))
	_ = w.Flush()

	if len(res.Benchmarks) == 0 {
		_, _ = fmt.Fprintf(out, "\n%s\n", res.Disclaimer)
		return
	}

	names := make([]string, 0, len(res.Benchmarks))
	for k := range res.Benchmarks {
		names = append(names, k)
	}
	sort.Strings(names)

	_, _ = fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "METRIC\tVALUE\tBENCHMARK\tSTATUS")
	_, _ = fmt.Fprintln(w, "------\t-----\t---------\t------")
	for _, name := range names {
		c := res.Benchmarks[name]
		_, _ = fmt.Fprintf(w, "%s\t%.1f%%\t%.0f-%.0f%%\t%s\n", name, c.Value, c.Low, c.High, c.Status)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "\n%s\n", res.Disclaimer)
}
