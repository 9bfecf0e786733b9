package appraisal

import (
	"fmt"
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var audPrinter = message.NewPrinter(language.MustParse("en-AU"))

// FormatAUD renders a whole-dollar amount with thousands separators, e.g.
// "$180,000".
func FormatAUD(amount float64) string {
	v := int64(math.Round(amount))
	if v < 0 {
		return audPrinter.Sprintf("-$%d", -v)
	}
	return audPrinter.Sprintf("$%d", v)
}

// FormatCompact renders an amount in short form, e.g. "$1.2M" or "$450K".
func FormatCompact(amount float64) string {
	switch a := math.Abs(amount); {
	case a >= 1_000_000_000:
		return fmt.Sprintf("$%.1fB", amount/1_000_000_000)
	case a >= 1_000_000:
		return fmt.Sprintf("$%.1fM", amount/1_000_000)
	case a >= 1_000:
		return fmt.Sprintf("$%.0fK", amount/1_000)
	default:
		return fmt.Sprintf("$%.0f", amount)
	}
}
