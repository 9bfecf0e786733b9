package normalise

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"
)

// SheetOptions selects the worksheet holding the P&L.
type SheetOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
}

// ReadXLSX reads a P&L workbook and returns the chosen sheet's rows.
func ReadXLSX(path string, opts SheetOptions) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := pickSheet(f, opts)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func pickSheet(f *xlsx.File, opts SheetOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

// Row labels with a fixed meaning. Everything else is an expense line.
var (
	revenueLabels     = map[string]bool{"revenue": true, "sales": true, "turnover": true, "totalrevenue": true, "totalsales": true, "income": true}
	otherIncomeLabels = map[string]bool{"otherincome": true, "sundryincome": true, "interestincome": true}
	profitLabels      = map[string]bool{"netprofit": true, "reportedprofit": true, "profit": true, "netprofitbeforetax": true}
	skipLabels        = map[string]bool{"totalexpenses": true, "expenses": true, "grossprofit": true}
)

const (
	addBackPrefix   = "addback:"
	deductionPrefix = "deduction:"
)

// ParseExpenseRows turns two-column spreadsheet rows (label, amount) into an
// Input. Labels prefixed "addback:" or "deduction:" become adjustment items.
// Blank rows and a leading header row are skipped. Amounts accept "$", ","
// and accounting-style parentheses for negatives.
func ParseExpenseRows(rows [][]string) (Input, error) {
	in := Input{Expenses: make(map[string]decimal.Decimal)}

	for i, row := range rows {
		if len(row) < 2 {
			continue
		}
		label := strings.TrimSpace(row[0])
		raw := strings.TrimSpace(row[1])
		if label == "" || raw == "" {
			continue
		}
		amt, err := parseAmount(raw)
		if err != nil {
			if i == 0 {
				continue // header
			}
			return Input{}, eris.Wrapf(err, "row %d (%s)", i+1, label)
		}

		lower := strings.ToLower(label)
		switch key := categoryKey(label); {
		case strings.HasPrefix(strings.ReplaceAll(lower, " ", ""), addBackPrefix):
			in.AddBacks = append(in.AddBacks, Item{Name: afterColon(label), Amount: amt})
		case strings.HasPrefix(strings.ReplaceAll(lower, " ", ""), deductionPrefix):
			in.Deductions = append(in.Deductions, Item{Name: afterColon(label), Amount: amt})
		case revenueLabels[key]:
			in.Revenue = decimal.NewNullDecimal(amt)
		case otherIncomeLabels[key]:
			in.OtherIncome = in.OtherIncome.Add(amt)
		case profitLabels[key]:
			in.ReportedProfit = decimal.NewNullDecimal(amt)
		case skipLabels[key]:
		default:
			in.Expenses[label] = in.Expenses[label].Add(amt)
		}
	}

	if !in.Revenue.Valid {
		return Input{}, eris.New("spreadsheet has no revenue row")
	}
	return in, nil
}

var amountCleaner = strings.NewReplacer("$", "", ",", "", " ", "")

func parseAmount(s string) (decimal.Decimal, error) {
	neg := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	if neg {
		s = s[1 : len(s)-1]
	}
	d, err := decimal.NewFromString(amountCleaner.Replace(s))
	if err != nil {
		return decimal.Decimal{}, eris.Errorf("invalid amount %q", s)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

func afterColon(label string) string {
	if i := strings.Index(label, ":"); i >= 0 {
		return strings.TrimSpace(label[i+1:])
	}
	return label
}
