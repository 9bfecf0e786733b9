package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ownerexit/ownerexit-cli/internal/appraisal"
)

// appraiseOpts holds the raw flag values for `appraise`. Amounts stay strings
// so "450,000" and "$1.2e6" parse the same way the API does.
type appraiseOpts struct {
	industry string
	revenue  string
	profit   string
	years    string
	state    string
	managed  bool
	format   string

	detailed       bool
	plant          string
	stock          string
	franchise      string
	franchiseFee   string
	employeesFT    string
	employeesPT    string
	leaseYears     string
	monthlyRent    string
	liquorLicense  bool
	gamingLicense  bool
	reasonForSale  string
	managedChanged bool
}

var appraiseFlags appraiseOpts

var appraiseCmd = &cobra.Command{
	Use:   "appraise",
	Short: "Estimate a sale price range for one business",
	Example: `  ownerexit appraise --industry Cafe --revenue 500000 --profit 100000 --years 5 --state NSW
  ownerexit appraise --industry Cafe --revenue 500,000 --profit 100,000 --detailed --plant 30000 --stock 10000`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		appraiseFlags.managedChanged = cmd.Flags().Changed("managed")

		calc, _, err := buildCalculators()
		if err != nil {
			return err
		}
		return runAppraise(os.Stdout, calc, appraiseFlags)
	},
}

func init() {
	f := appraiseCmd.Flags()
	f.StringVar(&appraiseFlags.industry, "industry", "", "industry name, e.g. Cafe (required)")
	f.StringVar(&appraiseFlags.revenue, "revenue", "", "annual revenue in AUD (required)")
	f.StringVar(&appraiseFlags.profit, "profit", "", "annual profit in AUD (required)")
	f.StringVar(&appraiseFlags.years, "years", "", "years operating")
	f.StringVar(&appraiseFlags.state, "state", "", "state code, e.g. NSW")
	f.BoolVar(&appraiseFlags.managed, "managed", false, "business runs under management rather than the owner")
	f.StringVar(&appraiseFlags.format, "format", "json", "output format: json or text")

	f.BoolVar(&appraiseFlags.detailed, "detailed", false, "run the detailed price guide")
	f.StringVar(&appraiseFlags.plant, "plant", "", "plant and equipment value (detailed)")
	f.StringVar(&appraiseFlags.stock, "stock", "", "stock on hand (detailed)")
	f.StringVar(&appraiseFlags.franchise, "franchise", "", "franchise brand; marks the business as a franchise (detailed)")
	f.StringVar(&appraiseFlags.franchiseFee, "franchise-fee", "", "franchise fee as percent of revenue (detailed)")
	f.StringVar(&appraiseFlags.employeesFT, "employees-ft", "", "full-time employees (detailed)")
	f.StringVar(&appraiseFlags.employeesPT, "employees-pt", "", "part-time employees (detailed)")
	f.StringVar(&appraiseFlags.leaseYears, "lease-years", "", "years remaining on the lease; marks the business as leased (detailed)")
	f.StringVar(&appraiseFlags.monthlyRent, "monthly-rent", "", "monthly rent (detailed)")
	f.BoolVar(&appraiseFlags.liquorLicense, "liquor-license", false, "holds a liquor licence (detailed)")
	f.BoolVar(&appraiseFlags.gamingLicense, "gaming-license", false, "holds a gaming licence (detailed)")
	f.StringVar(&appraiseFlags.reasonForSale, "reason", "", "reason for sale (detailed)")

	rootCmd.AddCommand(appraiseCmd)
}

func runAppraise(out io.Writer, calc *appraisal.Calculator, o appraiseOpts) error {
	if o.format != "json" && o.format != "text" {
		return eris.Errorf("appraise: unknown format %q (want json or text)", o.format)
	}

	basic, err := o.basicInput()
	if err != nil {
		return err
	}

	if !o.detailed {
		res, err := calc.Estimate(basic)
		if err != nil {
			return err
		}
		if o.format == "text" {
			formatAppraisal(out, res, nil)
			return nil
		}
		return writeIndented(out, res)
	}

	in, err := o.detailedInput(basic)
	if err != nil {
		return err
	}
	res, err := calc.EstimateDetailed(in)
	if err != nil {
		return err
	}
	if o.format == "text" {
		formatAppraisal(out, &res.Result, &res.AssetBreakdown)
		return nil
	}
	return writeIndented(out, res)
}

func (o appraiseOpts) basicInput() (appraisal.BasicInput, error) {
	in := appraisal.BasicInput{
		Industry: strings.TrimSpace(o.industry),
		State:    strings.TrimSpace(o.state),
	}
	if o.managedChanged {
		owner := !o.managed
		in.OwnerOperated = &owner
	}
	if err := parseNumbers(map[string]numberFlag{
		"revenue": {o.revenue, &in.AnnualRevenue},
		"profit":  {o.profit, &in.AnnualProfit},
		"years":   {o.years, &in.YearsOperating},
	}); err != nil {
		return appraisal.BasicInput{}, err
	}
	return in, nil
}

func (o appraiseOpts) detailedInput(basic appraisal.BasicInput) (appraisal.DetailedInput, error) {
	in := appraisal.DetailedInput{
		BasicInput:       basic,
		IsFranchise:      strings.TrimSpace(o.franchise) != "",
		FranchiseBrand:   strings.TrimSpace(o.franchise),
		HasLiquorLicense: o.liquorLicense,
		HasGamingLicense: o.gamingLicense,
		ReasonForSale:    o.reasonForSale,
	}
	if err := parseNumbers(map[string]numberFlag{
		"plant":         {o.plant, &in.PlantEquipment},
		"stock":         {o.stock, &in.StockInventory},
		"franchise-fee": {o.franchiseFee, &in.FranchiseFee},
		"employees-ft":  {o.employeesFT, &in.EmployeesFT},
		"employees-pt":  {o.employeesPT, &in.EmployeesPT},
		"lease-years":   {o.leaseYears, &in.LeaseYearsRemaining},
		"monthly-rent":  {o.monthlyRent, &in.MonthlyRent},
	}); err != nil {
		return appraisal.DetailedInput{}, err
	}
	in.HasLease = in.LeaseYearsRemaining.Set
	return in, nil
}

type numberFlag struct {
	raw string
	dst *appraisal.Number
}

func parseNumbers(flags map[string]numberFlag) error {
	for name, f := range flags {
		n, err := appraisal.ParseNumber(f.raw)
		if err != nil {
			return eris.Wrapf(err, "--%s", name)
		}
		*f.dst = n
	}
	return nil
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatAppraisal writes a human-readable summary of res. assets is nil for
// basic estimates.
func formatAppraisal(out io.Writer, res *appraisal.Result, assets *appraisal.AssetBreakdown) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	industry := res.Industry
	if !res.IndustryRecognised {
		industry += " (not recognised)"
	}
	_, _ = fmt.Fprintf(w, "Industry:\t%s\n", industry)
	_, _ = fmt.Fprintf(w, "Price range:\t%s - %s\n", appraisal.FormatAUD(res.PriceRange.Low), appraisal.FormatAUD(res.PriceRange.High))
	_, _ = fmt.Fprintf(w, "Mid point:\t%s\n", appraisal.FormatAUD(res.PriceRange.Mid))
	_, _ = fmt.Fprintf(w, "Revenue estimate:\t%s\n", appraisal.FormatAUD(res.RevenueBasedEstimate))
	_, _ = fmt.Fprintf(w, "Confidence:\t%s\n", res.Confidence)
	if assets != nil {
		_, _ = fmt.Fprintf(w, "Goodwill:\t%s - %s\n", appraisal.FormatAUD(assets.Goodwill.Low), appraisal.FormatAUD(assets.Goodwill.High))
		_, _ = fmt.Fprintf(w, "Plant & equipment:\t%s\n", appraisal.FormatAUD(assets.PlantEquipment))
		_, _ = fmt.Fprintf(w, "Stock:\t%s\n", appraisal.FormatAUD(assets.Stock))
	}
	_ = w.Flush()

	if len(res.Factors) > 0 {
		_, _ = fmt.Fprintln(out, "\nFactors:")
		for _, f := range res.Factors {
			_, _ = fmt.Fprintf(out, "  - %s\n", f)
		}
	}
	for _, n := range res.ConfidenceNotes {
		_, _ = fmt.Fprintf(out, "Note: %s\n", n)
	}
	_, _ = fmt.Fprintf(out, "\n%s\n", res.Disclaimer)
}
