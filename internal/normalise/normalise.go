// Package normalise adjusts reported profit to normalised EBITDA, compares
// expense ratios with industry benchmarks and derives an appraisal range.
package normalise

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ownerexit/ownerexit-cli/internal/apperr"
	"github.com/ownerexit/ownerexit-cli/internal/appraisal"
	"github.com/ownerexit/ownerexit-cli/internal/refdata"
)

// RangeRoundingStep is the granularity of the low and high appraisal bounds.
const RangeRoundingStep = 1000

// Benchmark metric keys as they appear in results.
const (
	MetricCostOfSales  = "costOfSales"
	MetricLabour       = "labour"
	MetricRent         = "rent"
	MetricEBITDAMargin = "ebitdaMargin"
)

// Item is a named add-back or deduction. Amounts may be negative.
type Item struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// Input is a profit-and-loss summary.
type Input struct {
	Revenue        decimal.NullDecimal        `json:"revenue"`
	OtherIncome    decimal.Decimal            `json:"otherIncome"`
	Expenses       map[string]decimal.Decimal `json:"expenses"`
	ReportedProfit decimal.NullDecimal        `json:"reportedProfit"`
	AddBacks       []Item                     `json:"addBacks"`
	Deductions     []Item                     `json:"deductions"`
	Industry       string                     `json:"industry,omitempty"`
}

var maxAmount = decimal.NewFromFloat(appraisal.MaxAmount)

// Validate checks the required revenue figure and bounds every amount by
// appraisal.MaxAmount.
func (in Input) Validate() error {
	if !in.Revenue.Valid {
		return apperr.MissingField("revenue")
	}
	if in.Revenue.Decimal.IsNegative() {
		return apperr.Validation("revenue", "revenue must not be negative")
	}
	if err := checkBound("revenue", in.Revenue.Decimal); err != nil {
		return err
	}
	if err := checkBound("otherIncome", in.OtherIncome); err != nil {
		return err
	}
	if err := checkBound("reportedProfit", in.ReportedProfit.Decimal); err != nil {
		return err
	}
	names := make([]string, 0, len(in.Expenses))
	for name := range in.Expenses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := checkBound("expenses."+name, in.Expenses[name]); err != nil {
			return err
		}
	}
	for i, it := range in.AddBacks {
		if err := checkBound(fmt.Sprintf("addBacks.%d.amount", i), it.Amount); err != nil {
			return err
		}
	}
	for i, it := range in.Deductions {
		if err := checkBound(fmt.Sprintf("deductions.%d.amount", i), it.Amount); err != nil {
			return err
		}
	}
	return nil
}

func checkBound(field string, v decimal.Decimal) error {
	if v.Abs().GreaterThan(maxAmount) {
		return apperr.Validation(field, field+" is out of range")
	}
	return nil
}

// Status is a benchmark traffic light.
type Status string

// Traffic-light statuses.
const (
	StatusGreen Status = "green"
	StatusAmber Status = "amber"
	StatusRed   Status = "red"
)

// Comparison is one metric measured against its benchmark band.
type Comparison struct {
	Value  float64 `json:"value"` // percent of revenue
	Low    float64 `json:"low"`
	Mid    float64 `json:"mid"`
	High   float64 `json:"high"`
	Status Status  `json:"status"`
}

// Range is the EBITDA-multiple appraisal range.
type Range struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// Result is a normalised P&L.
type Result struct {
	Revenue          float64               `json:"revenue"`
	OtherIncome      float64               `json:"otherIncome"`
	ExpensesTotal    float64               `json:"expensesTotal"`
	ReportedProfit   float64               `json:"reportedProfit"`
	ProfitDerived    bool                  `json:"profitDerived"`
	AddBacksTotal    float64               `json:"addBacksTotal"`
	DeductionsTotal  float64               `json:"deductionsTotal"`
	NormalisedEBITDA float64               `json:"normalisedEBITDA"`
	RevenueBracket   string                `json:"revenueBracket"`
	Industry         string                `json:"industry"`
	ANZSIC           string                `json:"anzsic,omitempty"`
	Benchmarks       map[string]Comparison `json:"benchmarks"`
	AppraisalRange   Range                 `json:"appraisalRange"`
	Disclaimer       string                `json:"disclaimer"`
	GeneratedAt      time.Time             `json:"generatedAt"`

	ebitda decimal.Decimal
}

// EBITDA returns the exact normalised EBITDA.
func (r *Result) EBITDA() decimal.Decimal { return r.ebitda }

// Normaliser runs the normalisation against shared reference tables.
type Normaliser struct {
	tables *refdata.Tables
	now    func() time.Time
}

// Option configures a Normaliser.
type Option func(*Normaliser)

// WithClock sets the source of GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(n *Normaliser) { n.now = now }
}

// New creates a Normaliser.
func New(tables *refdata.Tables, opts ...Option) *Normaliser {
	n := &Normaliser{tables: tables, now: time.Now}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalise computes normalised EBITDA, benchmark comparisons and the
// appraisal range for in.
func (n *Normaliser) Normalise(in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	revenue := in.Revenue.Decimal
	expenses := decimal.Zero
	for _, amt := range in.Expenses {
		expenses = expenses.Add(amt)
	}

	reported := in.ReportedProfit.Decimal
	derived := !in.ReportedProfit.Valid
	if derived {
		reported = revenue.Add(in.OtherIncome).Sub(expenses)
	}

	addBacks := Sum(in.AddBacks)
	deductions := Sum(in.Deductions)
	ebitda := reported.Add(addBacks).Sub(deductions)

	ind, _ := n.tables.Industry(in.Industry)
	revF := revenue.InexactFloat64()
	bracket := refdata.RevenueBracket(revF)
	ebitdaF := ebitda.InexactFloat64()

	res := &Result{
		Revenue:          revF,
		OtherIncome:      in.OtherIncome.InexactFloat64(),
		ExpensesTotal:    expenses.InexactFloat64(),
		ReportedProfit:   reported.InexactFloat64(),
		ProfitDerived:    derived,
		AddBacksTotal:    addBacks.InexactFloat64(),
		DeductionsTotal:  deductions.InexactFloat64(),
		NormalisedEBITDA: ebitdaF,
		RevenueBracket:   bracket,
		Industry:         ind.Key,
		ANZSIC:           ind.ANZSIC,
		Benchmarks:       n.compare(ind.Key, bracket, revenue, ebitda, in.Expenses),
		AppraisalRange: Range{
			Low:  appraisal.RoundTo(ebitdaF*ind.EBITDA.Low, RangeRoundingStep),
			Mid:  math.Max(0, ebitdaF*ind.EBITDA.Avg),
			High: appraisal.RoundTo(ebitdaF*ind.EBITDA.High, RangeRoundingStep),
		},
		Disclaimer:  appraisal.Disclaimer,
		GeneratedAt: n.now().UTC(),
		ebitda:      ebitda,
	}
	if !res.finite() {
		return nil, apperr.Validation("", "amounts are too large to normalise")
	}

	zap.L().Debug("normalise: computed",
		zap.String("industry", ind.Key),
		zap.String("bracket", bracket),
		zap.String("ebitda", ebitda.String()),
		zap.Int("benchmarks", len(res.Benchmarks)),
	)
	return res, nil
}

// finite reports whether every computed figure can be encoded as JSON.
func (r *Result) finite() bool {
	vals := []float64{
		r.Revenue, r.OtherIncome, r.ExpensesTotal, r.ReportedProfit,
		r.AddBacksTotal, r.DeductionsTotal, r.NormalisedEBITDA,
		r.AppraisalRange.Low, r.AppraisalRange.Mid, r.AppraisalRange.High,
	}
	for _, c := range r.Benchmarks {
		vals = append(vals, c.Value)
	}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Sum totals item amounts exactly.
func Sum(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return total
}

// compare builds the benchmark map. Metrics that cannot be computed are omitted.
func (n *Normaliser) compare(industryKey, bracket string, revenue, ebitda decimal.Decimal, expenses map[string]decimal.Decimal) map[string]Comparison {
	out := make(map[string]Comparison)
	if !revenue.IsPositive() {
		return out
	}
	set, ok := n.tables.Benchmark(industryKey, bracket)
	if !ok {
		return out
	}

	totals := categorise(expenses)
	metrics := []struct {
		key    string
		refKey string
		amount decimal.Decimal
		ok     bool
	}{
		{MetricCostOfSales, refdata.MetricCostOfSales, totals[MetricCostOfSales], hasKey(totals, MetricCostOfSales)},
		{MetricLabour, refdata.MetricLabour, totals[MetricLabour], hasKey(totals, MetricLabour)},
		{MetricRent, refdata.MetricRent, totals[MetricRent], hasKey(totals, MetricRent)},
		{MetricEBITDAMargin, refdata.MetricEBITDAMargin, ebitda, true},
	}
	hundred := decimal.NewFromInt(100)
	for _, m := range metrics {
		band, found := set[m.refKey]
		if !m.ok || !found {
			continue
		}
		pct := m.amount.Div(revenue).Mul(hundred).InexactFloat64()
		out[m.key] = Comparison{
			Value:  math.Round(pct*10) / 10,
			Low:    band.Low,
			Mid:    band.Mid,
			High:   band.High,
			Status: Classify(pct, band),
		}
	}
	return out
}

// Classify places v against band: green inside [low, high], red beyond half
// the band width outside either edge, amber in between.
func Classify(v float64, band refdata.Band) Status {
	if v >= band.Low && v <= band.High {
		return StatusGreen
	}
	margin := 0.5 * (band.High - band.Low)
	if v < band.Low-margin || v > band.High+margin {
		return StatusRed
	}
	return StatusAmber
}

var categoryAliases = map[string]string{
	"costofsales":      MetricCostOfSales,
	"costofgoodssold":  MetricCostOfSales,
	"cogs":             MetricCostOfSales,
	"purchases":        MetricCostOfSales,
	"stockpurchases":   MetricCostOfSales,
	"foodcosts":        MetricCostOfSales,
	"materials":        MetricCostOfSales,
	"labour":           MetricLabour,
	"labor":            MetricLabour,
	"wages":            MetricLabour,
	"salaries":         MetricLabour,
	"wagesandsalaries": MetricLabour,
	"wagessalaries":    MetricLabour,
	"staffcosts":       MetricLabour,
	"payroll":          MetricLabour,
	"superannuation":   MetricLabour,
	"rent":             MetricRent,
	"rentandoutgoings": MetricRent,
	"rentoutgoings":    MetricRent,
	"lease":            MetricRent,
	"occupancy":        MetricRent,
	"premises":         MetricRent,
}

// categorise totals expense lines into benchmark metrics by alias.
func categorise(expenses map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for name, amt := range expenses {
		metric, ok := categoryAliases[categoryKey(name)]
		if !ok {
			continue
		}
		out[metric] = out[metric].Add(amt)
	}
	return out
}

func categoryKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hasKey(m map[string]decimal.Decimal, k string) bool {
	_, ok := m[k]
	return ok
}
