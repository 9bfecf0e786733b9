package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ownerexit/ownerexit-cli/internal/appraisal"
	"github.com/ownerexit/ownerexit-cli/internal/model"
	"github.com/ownerexit/ownerexit-cli/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect captured price-guide leads",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured leads, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		industry, _ := cmd.Flags().GetString("industry")
		email, _ := cmd.Flags().GetString("email")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		leads, err := st.ListLeads(ctx, store.LeadFilter{
			Industry: industry,
			Email:    email,
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			return eris.Wrap(err, "leads list")
		}

		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- leads show --

var leadsShowCmd = &cobra.Command{
	Use:   "show <lead-id>",
	Short: "Show a lead with its inputs and estimate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lead, err := st.GetLead(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "leads show")
		}
		return writeIndented(os.Stdout, lead)
	},
}

func init() {
	leadsListCmd.Flags().String("industry", "", "filter by industry")
	leadsListCmd.Flags().String("email", "", "filter by email")
	leadsListCmd.Flags().Int("limit", store.DefaultListLimit, "max leads to show")
	leadsListCmd.Flags().Int("offset", 0, "skip this many leads")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsShowCmd)
	rootCmd.AddCommand(leadsCmd)
}

// formatLeadsList writes a tabular list of leads to out.
func formatLeadsList(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tEMAIL\tBUSINESS\tINDUSTRY\tPRICE\tCONFIDENCE\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t--------\t--------\t-----\t----------\t-------")

	for _, l := range leads {
		business := l.BusinessName
		if business == "" {
			business = l.Name
		}
		if len(business) > 30 {
			business = business[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(l.ID),
			l.Email,
			business,
			l.Industry,
			appraisal.FormatCompact(l.PriceMid),
			l.Confidence,
			l.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
