// Package appraisal computes price-guide estimates for small businesses from
// an industry EBITDA multiple adjusted by a composite quality score.
package appraisal

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ownerexit/ownerexit-cli/internal/apperr"
	"github.com/ownerexit/ownerexit-cli/internal/refdata"
)

// Disclaimer is returned verbatim with every estimate.
const Disclaimer = "This price guide is an automated estimate based on the information you provided and " +
	"general industry multiples. It is not a formal valuation and must not be relied on as financial, " +
	"legal or tax advice. The price a buyer will pay depends on market conditions, due diligence and " +
	"negotiation. OwnerExit.ai recommends seeking independent professional advice before listing your " +
	"business or accepting an offer."

// PriceRoundingStep is the granularity of price-guide ranges.
const PriceRoundingStep = 5000

// MaxAmount bounds the magnitude of every numeric input. Larger values are
// rejected so the multiples cannot overflow to infinity.
const MaxAmount = 1e12

// Confidence is the qualitative reliability of an estimate.
type Confidence string

// Confidence levels.
const (
	ConfidenceLow    Confidence = "Low"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceHigh   Confidence = "High"
)

// BasicInput is the public price-guide request.
type BasicInput struct {
	Industry       string `json:"industry"`
	AnnualRevenue  Number `json:"annualRevenue"`
	AnnualProfit   Number `json:"annualProfit"`
	YearsOperating Number `json:"yearsOperating"`
	State          string `json:"state"`
	OwnerOperated  *bool  `json:"ownerOperated,omitempty"`
}

// IsOwnerOperated defaults to true when the caller did not say.
func (in BasicInput) IsOwnerOperated() bool {
	return in.OwnerOperated == nil || *in.OwnerOperated
}

// Validate checks required and non-negative fields.
func (in BasicInput) Validate() error {
	if strings.TrimSpace(in.Industry) == "" {
		return apperr.MissingField("industry")
	}
	if !in.AnnualRevenue.Set {
		return apperr.MissingField("annualRevenue")
	}
	if in.AnnualRevenue.Value < 0 {
		return apperr.Validation("annualRevenue", "annualRevenue must not be negative")
	}
	if !in.AnnualProfit.Set {
		return apperr.MissingField("annualProfit")
	}
	if in.YearsOperating.Value < 0 {
		return apperr.Validation("yearsOperating", "yearsOperating must not be negative")
	}
	return checkBounds(map[string]Number{
		"annualRevenue":  in.AnnualRevenue,
		"annualProfit":   in.AnnualProfit,
		"yearsOperating": in.YearsOperating,
	})
}

// checkBounds rejects non-finite values and magnitudes above MaxAmount.
// Fields are checked in name order so the reported field is stable.
func checkBounds(fields map[string]Number) error {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		n := fields[name]
		if !n.Set {
			continue
		}
		if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) || math.Abs(n.Value) > MaxAmount {
			return apperr.Validation(name, name+" is out of range")
		}
	}
	return nil
}

// PriceRange is a low/mid/high price guide.
type PriceRange struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// Multiples records what was applied to reach the range.
type Multiples struct {
	EBITDALow    float64  `json:"ebitdaLow"`
	EBITDAAvg    float64  `json:"ebitdaAvg"`
	EBITDAHigh   float64  `json:"ebitdaHigh"`
	Revenue      float64  `json:"revenue"`
	QualityScore float64  `json:"qualityScore"`
	Strategy     Strategy `json:"strategy"`
}

// Result is a price-guide estimate.
type Result struct {
	PriceRange           PriceRange `json:"priceRange"`
	RevenueBasedEstimate float64    `json:"revenueBasedEstimate"`
	Confidence           Confidence `json:"confidence"`
	ConfidenceNotes      []string   `json:"confidenceNotes"`
	Factors              []string   `json:"factors"`
	Adjustments          []Factor   `json:"adjustments"`
	Multiples            Multiples  `json:"multiples"`
	Industry             string     `json:"industry"`
	IndustryRecognised   bool       `json:"industryRecognised"`
	ANZSIC               string     `json:"anzsic,omitempty"`
	Disclaimer           string     `json:"disclaimer"`
	GeneratedAt          time.Time  `json:"generatedAt"`
}

// Calculator produces basic and detailed estimates from shared reference
// tables. It holds no mutable state and is safe for concurrent use.
type Calculator struct {
	tables   *refdata.Tables
	basic    Strategy
	detailed Strategy
	now      func() time.Time
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithBasicStrategy overrides the basic quality composition.
func WithBasicStrategy(s Strategy) Option {
	return func(c *Calculator) { c.basic = s }
}

// WithDetailedStrategy overrides the detailed quality composition.
func WithDetailedStrategy(s Strategy) Option {
	return func(c *Calculator) { c.detailed = s }
}

// WithClock sets the source of GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

// New creates a Calculator over tables.
func New(tables *refdata.Tables, opts ...Option) *Calculator {
	c := &Calculator{
		tables:   tables,
		basic:    StrategyMean,
		detailed: StrategyProduct,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Tables returns the reference data the calculator reads.
func (c *Calculator) Tables() *refdata.Tables { return c.tables }

// Estimate computes the basic price guide.
func (c *Calculator) Estimate(in BasicInput) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	revenue := in.AnnualRevenue.Value
	profit := in.AnnualProfit.Value
	years := in.YearsOperating.Or(0)
	ind, known := c.tables.Industry(in.Industry)

	factors := []Factor{
		stateFactor(in.State, c.tables.StateFactor(in.State)),
		basicYearsFactor(years),
		marginFactor(revenue, profit, ind.Hospitality),
		managementFactor(in.IsOwnerOperated()),
	}
	res := c.price(ind, known, factors, c.basic, revenue, profit, years)
	if !res.finite() {
		return nil, errNotFinite
	}

	zap.L().Debug("appraisal: basic estimate computed",
		zap.String("industry", ind.Key),
		zap.Float64("quality", res.Multiples.QualityScore),
		zap.Float64("mid", res.PriceRange.Mid),
		zap.String("confidence", string(res.Confidence)),
	)
	return res, nil
}

// price applies the composed quality to the industry multiples and fills the
// shared parts of a Result.
func (c *Calculator) price(ind refdata.IndustryMultiple, known bool, factors []Factor, strategy Strategy, revenue, profit, years float64) *Result {
	quality := strategy.Compose(factors)
	rng := PriceRange{
		Low:  RoundTo(profit*ind.EBITDA.Low*quality, PriceRoundingStep),
		Mid:  RoundTo(profit*ind.EBITDA.Avg*quality, PriceRoundingStep),
		High: RoundTo(profit*ind.EBITDA.High*quality, PriceRoundingStep),
	}

	conf := confidenceFor(years, revenue, profit)
	notes := confidenceNotes(ind, known, rng.Mid)

	return &Result{
		PriceRange:           rng,
		RevenueBasedEstimate: RoundTo(revenue*ind.RevenueAvg, PriceRoundingStep),
		Confidence:           conf,
		ConfidenceNotes:      notes,
		Factors:              explain(factors),
		Adjustments:          factors,
		Multiples: Multiples{
			EBITDALow:    ind.EBITDA.Low,
			EBITDAAvg:    ind.EBITDA.Avg,
			EBITDAHigh:   ind.EBITDA.High,
			Revenue:      ind.RevenueAvg,
			QualityScore: quality,
			Strategy:     strategy,
		},
		Industry:           ind.Key,
		IndustryRecognised: known,
		ANZSIC:             ind.ANZSIC,
		Disclaimer:         Disclaimer,
		GeneratedAt:        c.now().UTC(),
	}
}

var errNotFinite = apperr.Validation("", "amounts are too large to appraise")

// finite reports whether every computed figure can be encoded as JSON.
func (r *Result) finite() bool {
	for _, v := range []float64{
		r.PriceRange.Low, r.PriceRange.Mid, r.PriceRange.High,
		r.RevenueBasedEstimate, r.Multiples.QualityScore,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// confidenceFor applies the confidence ladder.
func confidenceFor(years, revenue, profit float64) Confidence {
	switch {
	case years >= 5 && revenue > 500_000 && profit > 80_000:
		return ConfidenceHigh
	case years < 2 || profit < 50_000:
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}

func confidenceNotes(ind refdata.IndustryMultiple, known bool, mid float64) []string {
	notes := []string{}
	if !known {
		notes = append(notes, "Industry not recognised; general small-business multiples were used.")
	}
	band := ind.TypicalPrice
	switch {
	case band.High > 0 && mid > 1.5*band.High:
		notes = append(notes, "Estimate is well above the typical sale price for "+ind.Key+
			" businesses ("+FormatAUD(band.Low)+" to "+FormatAUD(band.High)+"). Check the profit figure.")
	case band.Low > 0 && mid < 0.5*band.Low:
		notes = append(notes, "Estimate is well below the typical sale price for "+ind.Key+
			" businesses ("+FormatAUD(band.Low)+" to "+FormatAUD(band.High)+").")
	}
	return notes
}

// RoundTo rounds v to the nearest multiple of step and clamps at zero.
func RoundTo(v, step float64) float64 {
	if step <= 0 {
		return math.Max(0, v)
	}
	r := math.Round(v/step) * step
	if r <= 0 {
		return 0
	}
	return r
}
