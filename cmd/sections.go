package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ownerexit/ownerexit-cli/internal/model"
	"github.com/ownerexit/ownerexit-cli/internal/store"
)

var sectionsCmd = &cobra.Command{
	Use:   "sections",
	Short: "Inspect stored business sections",
}

var sectionsShowCmd = &cobra.Command{
	Use:   "show <business-id> <normalisation|price_guide>",
	Short: "Show a stored section for a business",
	Args:  cobra.ExactArgs(2),
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

		return showSection(ctx, st, os.Stdout, args[0], args[1])
	},
}

func init() {
	sectionsCmd.AddCommand(sectionsShowCmd)
	rootCmd.AddCommand(sectionsCmd)
}

// showSection prints one section with its data as a nested document.
func showSection(ctx context.Context, st store.Store, out io.Writer, businessID, kindName string) error {
	kind, ok := model.ParseSectionKind(kindName)
	if !ok {
		return eris.Errorf("sections show: unknown kind %q (want normalisation or price_guide)", kindName)
	}
	sec, err := st.GetSection(ctx, businessID, kind)
	if err != nil {
		return eris.Wrap(err, "sections show")
	}
	return writeIndented(out, sec)
}
