package appraisal

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownerexit/ownerexit-cli/internal/apperr"
	"github.com/ownerexit/ownerexit-cli/internal/refdata"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestCalculator(t *testing.T, opts ...Option) *Calculator {
	t.Helper()
	tables, err := refdata.Default()
	require.NoError(t, err)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(tables, opts...)
}

func boolPtr(b bool) *bool { return &b }

func cafeInput() BasicInput {
	return BasicInput{
		Industry:       "Cafe",
		AnnualRevenue:  N(500_000),
		AnnualProfit:   N(100_000),
		YearsOperating: N(5),
		State:          "QLD",
		OwnerOperated:  boolPtr(true),
	}
}

func TestEstimate_CafeGolden(t *testing.T) {
	t.Parallel()
	calc := newTestCalculator(t)

	res, err := calc.Estimate(cafeInput())
	require.NoError(t, err)

	// quality = mean(state 1.00, years 1.00, margin 1.10, owner 0.95) = 1.0125
	assert.InDelta(t, 1.0125, res.Multiples.QualityScore, 1e-9)
	assert.Equal(t, StrategyMean, res.Multiples.Strategy)
	assert.Equal(t, PriceRange{Low: 120_000, Mid: 180_000, High: 255_000}, res.PriceRange)
	assert.Equal(t, ConfidenceMedium, res.Confidence)
	assert.Empty(t, res.ConfidenceNotes)
	assert.InDelta(t, 175_000, res.RevenueBasedEstimate, 1e-9)
	assert.Equal(t, "Cafe", res.Industry)
	assert.True(t, res.IndustryRecognised)
	assert.Equal(t, Disclaimer, res.Disclaimer)
	assert.Equal(t, fixedNow, res.GeneratedAt)

	assert.Equal(t, []string{
		"Strong profit margin (20.0%): +10%",
		"Owner-operated, buyer takes on the owner's role: -5%",
	}, res.Factors)
	assert.Len(t, res.Adjustments, 4)
}

func TestEstimate_ZeroProfit(t *testing.T) {
	t.Parallel()
	calc := newTestCalculator(t)

	for _, ind := range calc.Tables().Industries() {
		for _, state := range []string{"NSW", "NT", ""} {
			in := BasicInput{
				Industry:       ind.Key,
				AnnualRevenue:  N(750_000),
				AnnualProfit:   N(0),
				YearsOperating: N(12),
				State:          state,
			}
			res, err := calc.Estimate(in)
			require.NoError(t, err)
			assert.Equal(t, PriceRange{}, res.PriceRange, "%s/%s", ind.Key, state)
		}
	}
}

func TestEstimate_NegativeProfitClamps(t *testing.T) {
	t.Parallel()
	calc := newTestCalculator(t)

	in := cafeInput()
	in.AnnualProfit = N(-80_000)
	res, err := calc.Estimate(in)
	require.NoError(t, err)
	assert.Equal(t, PriceRange{}, res.PriceRange)
	assert.Equal(t, ConfidenceLow, res.Confidence)
}

func TestEstimate_RangeOrderedForAllIndustries(t *testing.T) {
	t.Parallel()
	calc := newTestCalculator(t)

	for _, ind := range calc.Tables().Industries() {
		for _, profit := range []float64{35_000, 120_000, 900_000} {
			in := BasicInput{
				Industry:       ind.Key,
				AnnualRevenue:  N(1_000_000),
				AnnualProfit:   N(profit),
				YearsOperating: N(4),
				State:          "VIC",
			}
			res, err := calc.Estimate(in)
			require.NoError(t, err)
			assert.LessOrEqual(t, res.PriceRange.Low, res.PriceRange.Mid, ind.Key)
			assert.LessOrEqual(t, res.PriceRange.Mid, res.PriceRange.High, ind.Key)
		}
	}
}

func TestConfidenceLadder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		years   float64
		revenue float64
		profit  float64
		want    Confidence
	}{
		{"established and large", 5, 600_000, 90_000, ConfidenceHigh},
		{"revenue at threshold is not high", 5, 500_000, 100_000, ConfidenceMedium},
		{"new business is low regardless", 1, 10_000_000, 1_000_000, ConfidenceLow},
		{"small profit is low", 10, 1_000_000, 40_000, ConfidenceLow},
		{"middle ground", 3, 300_000, 60_000, ConfidenceMedium},
		{"two years is not low", 2, 300_000, 50_000, ConfidenceMedium},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, confidenceFor(tt.years, tt.revenue, tt.profit))
		})
	}
}

func TestEstimate_UnknownIndustryFallsBack(t *testing.T) {
	t.Parallel()
	calc := newTestCalculator(t)

	in := cafeInput()
	in.Industry = "Llama Grooming"
	res, err := calc.Estimate(in)
	require.NoError(t, err)

	assert.Equal(t, refdata.OtherIndustry, res.Industry)
	assert.False(t, res.IndustryRecognised)
	require.NotEmpty(t, res.ConfidenceNotes)
	assert.Contains(t, res.ConfidenceNotes[0], "not recognised")

	other, _ := calc.Tables().Industry(refdata.OtherIndustry)
	assert.InDelta(t, other.EBITDA.Avg, res.Multiples.EBITDAAvg, 1e-9)
}

func TestEstimate_AboveTypicalBandNote(t *testing.T) {
	t.Parallel()
	calc := newTestCalculator(t)

	in := cafeInput()
	in.AnnualRevenue = N(1_000_000)
	in.AnnualProfit = N(400_000)
	res, err := calc.Estimate(in)
	require.NoError(t, err)

	require.Len(t, res.ConfidenceNotes, 1)
	assert.Contains(t, res.ConfidenceNotes[0], "well above")
	assert.Contains(t, res.ConfidenceNotes[0], "$450,000")
}

func TestEstimate_Idempotent(t *testing.T) {
	t.Parallel()
	calc := newTestCalculator(t)

	a, err := calc.Estimate(cafeInput())
	require.NoError(t, err)
	b, err := calc.Estimate(cafeInput())
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))
}

func TestEstimate_IdempotentIgnoringGeneratedAt(t *testing.T) {
	t.Parallel()
	tables, err := refdata.Default()
	require.NoError(t, err)
	calc := New(tables)

	a, err := calc.Estimate(cafeInput())
	require.NoError(t, err)
	b, err := calc.Estimate(cafeInput())
	require.NoError(t, err)

	a.GeneratedAt, b.GeneratedAt = time.Time{}, time.Time{}
	assert.Equal(t, a, b)
}

func TestEstimate_OwnerOperatedDefaultsTrue(t *testing.T) {
	t.Parallel()
	calc := newTestCalculator(t)

	in := cafeInput()
	in.OwnerOperated = nil
	implicit, err := calc.Estimate(in)
	require.NoError(t, err)

	in.OwnerOperated = boolPtr(false)
	managed, err := calc.Estimate(in)
	require.NoError(t, err)

	assert.InDelta(t, 1.0125, implicit.Multiples.QualityScore, 1e-9)
	assert.InDelta(t, (1+1+1.1+1.05)/4, managed.Multiples.QualityScore, 1e-9)
}

func TestEstimate_Validation(t *testing.T) {
	t.Parallel()
	calc := newTestCalculator(t)

	tests := []struct {
		name      string
		mutate    func(*BasicInput)
		wantField string
	}{
		{"missing industry", func(in *BasicInput) { in.Industry = " " }, "industry"},
		{"missing revenue", func(in *BasicInput) { in.AnnualRevenue = Number{} }, "annualRevenue"},
		{"negative revenue", func(in *BasicInput) { in.AnnualRevenue = N(-1) }, "annualRevenue"},
		{"missing profit", func(in *BasicInput) { in.AnnualProfit = Number{} }, "annualProfit"},
		{"negative years", func(in *BasicInput) { in.YearsOperating = N(-2) }, "yearsOperating"},
		{"huge profit", func(in *BasicInput) { in.AnnualProfit = N(1e308) }, "annualProfit"},
		{"huge loss", func(in *BasicInput) { in.AnnualProfit = N(-1e308) }, "annualProfit"},
		{"huge revenue", func(in *BasicInput) { in.AnnualRevenue = N(MaxAmount * 2) }, "annualRevenue"},
		{"huge years", func(in *BasicInput) { in.YearsOperating = N(math.MaxFloat64) }, "yearsOperating"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := cafeInput()
			tt.mutate(&in)
			_, err := calc.Estimate(in)
			require.Error(t, err)
			ae, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindValidation, ae.Kind)
			assert.Equal(t, tt.wantField, ae.Field)
		})
	}
}

func TestEstimate_MaxAmountAccepted(t *testing.T) {
	t.Parallel()
	calc := newTestCalculator(t)

	in := cafeInput()
	in.AnnualRevenue = N(MaxAmount)
	in.AnnualProfit = N(MaxAmount)
	res, err := calc.Estimate(in)
	require.NoError(t, err)
	assert.True(t, res.finite())

	_, err = json.Marshal(res)
	assert.NoError(t, err)
}

func TestResult_Finite(t *testing.T) {
	t.Parallel()
	assert.True(t, (&Result{}).finite())
	assert.False(t, (&Result{PriceRange: PriceRange{High: math.Inf(1)}}).finite())
	assert.False(t, (&Result{Multiples: Multiples{QualityScore: math.NaN()}}).finite())
}

func TestStrategy_Compose(t *testing.T) {
	t.Parallel()
	fs := []Factor{{Value: 1.10}, {Value: 0.90}, {Value: 1.00}, {Value: 0.80}}

	assert.InDelta(t, 0.95, StrategyMean.Compose(fs), 1e-9)
	assert.InDelta(t, 1.10*0.90*0.80, StrategyProduct.Compose(fs), 1e-9)
	assert.InDelta(t, 1.0, StrategyProduct.Compose(nil), 1e-9)
	assert.InDelta(t, 1.0, StrategyMean.Compose(nil), 1e-9)
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	s, err := ParseStrategy("", StrategyProduct)
	require.NoError(t, err)
	assert.Equal(t, StrategyProduct, s)

	s, err = ParseStrategy(" MEAN ", StrategyProduct)
	require.NoError(t, err)
	assert.Equal(t, StrategyMean, s)

	_, err = ParseStrategy("median", StrategyMean)
	require.Error(t, err)
}

func TestRoundTo(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 120_000, RoundTo(121_500, 5000), 1e-9)
	assert.InDelta(t, 125_000, RoundTo(122_500, 5000), 1e-9)
	assert.InDelta(t, 0, RoundTo(-12_000, 5000), 1e-9)
	assert.InDelta(t, 0, RoundTo(2_000, 5000), 1e-9)
	assert.InDelta(t, 48_000, RoundTo(47_600, 1000), 1e-9)
}

func TestFormatAUD(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "$180,000", FormatAUD(180_000))
	assert.Equal(t, "$950", FormatAUD(949.6))
	assert.Equal(t, "-$1,500", FormatAUD(-1500))
	assert.Equal(t, "$1.2M", FormatCompact(1_200_000))
	assert.Equal(t, "$450K", FormatCompact(450_000))
	assert.Equal(t, "$800", FormatCompact(800))
}
