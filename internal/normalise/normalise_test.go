package normalise

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownerexit/ownerexit-cli/internal/apperr"
	"github.com/ownerexit/ownerexit-cli/internal/appraisal"
	"github.com/ownerexit/ownerexit-cli/internal/refdata"
)

var fixedNow = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

func newTestNormaliser(t *testing.T) *Normaliser {
	t.Helper()
	tables, err := refdata.Default()
	require.NoError(t, err)
	return New(tables, WithClock(func() time.Time { return fixedNow }))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func cafePnL() Input {
	return Input{
		Revenue: decimal.NewNullDecimal(d("400000")),
		Expenses: map[string]decimal.Decimal{
			"Cost of Sales": d("132000"),
			"Wages":         d("150000"),
			"Rent":          d("64000"),
			"Electricity":   d("10000"),
		},
		AddBacks: []Item{
			{Name: "Owner's car", Amount: d("12000")},
			{Name: "One-off legal", Amount: d("3000.5")},
		},
		Deductions: []Item{{Name: "Manager wage", Amount: d("20000")}},
		Industry:   "cafe",
	}
}

func TestNormalise_Cafe(t *testing.T) {
	t.Parallel()
	n := newTestNormaliser(t)

	res, err := n.Normalise(cafePnL())
	require.NoError(t, err)

	assert.True(t, res.ProfitDerived)
	assert.InDelta(t, 44_000, res.ReportedProfit, 1e-9)
	assert.InDelta(t, 356_000, res.ExpensesTotal, 1e-9)
	assert.InDelta(t, 15_000.5, res.AddBacksTotal, 1e-9)
	assert.InDelta(t, 20_000, res.DeductionsTotal, 1e-9)
	assert.True(t, res.EBITDA().Equal(d("39000.5")))
	assert.InDelta(t, 39_000.5, res.NormalisedEBITDA, 1e-9)
	assert.Equal(t, refdata.BracketMedium, res.RevenueBracket)
	assert.Equal(t, "Cafe", res.Industry)

	require.Len(t, res.Benchmarks, 4)
	assert.Equal(t, StatusGreen, res.Benchmarks[MetricCostOfSales].Status)
	assert.InDelta(t, 33.0, res.Benchmarks[MetricCostOfSales].Value, 1e-9)
	assert.Equal(t, StatusAmber, res.Benchmarks[MetricLabour].Status)
	assert.InDelta(t, 37.5, res.Benchmarks[MetricLabour].Value, 1e-9)
	assert.Equal(t, StatusRed, res.Benchmarks[MetricRent].Status)
	assert.Equal(t, StatusGreen, res.Benchmarks[MetricEBITDAMargin].Status)

	assert.InDelta(t, 47_000, res.AppraisalRange.Low, 1e-9)
	assert.InDelta(t, 39_000.5*1.8, res.AppraisalRange.Mid, 1e-6)
	assert.InDelta(t, 98_000, res.AppraisalRange.High, 1e-9)
	assert.Equal(t, appraisal.Disclaimer, res.Disclaimer)
	assert.Equal(t, fixedNow, res.GeneratedAt)
}

func TestNormalise_ReportedProfitWins(t *testing.T) {
	t.Parallel()
	n := newTestNormaliser(t)

	in := cafePnL()
	in.ReportedProfit = decimal.NewNullDecimal(d("50000"))
	res, err := n.Normalise(in)
	require.NoError(t, err)

	assert.False(t, res.ProfitDerived)
	assert.True(t, res.EBITDA().Equal(d("45000.5")))
}

func TestNormalise_ExactSum(t *testing.T) {
	t.Parallel()
	n := newTestNormaliser(t)

	tests := []struct {
		name       string
		reported   string
		addBacks   []string
		deductions []string
		want       string
	}{
		{"tenths", "0.1", []string{"0.2", "0.7"}, []string{"0.3"}, "0.7"},
		{"negative add-backs", "100000", []string{"-2500.25", "1000"}, []string{"-300.75"}, "98800.5"},
		{"loss making", "-15000", nil, []string{"5000"}, "-20000"},
		{"many cents", "0", []string{"0.01", "0.01", "0.01"}, []string{"0.03"}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := Input{
				Revenue:        decimal.NewNullDecimal(d("250000")),
				ReportedProfit: decimal.NewNullDecimal(d(tt.reported)),
			}
			for _, a := range tt.addBacks {
				in.AddBacks = append(in.AddBacks, Item{Name: "a", Amount: d(a)})
			}
			for _, x := range tt.deductions {
				in.Deductions = append(in.Deductions, Item{Name: "x", Amount: d(x)})
			}
			res, err := n.Normalise(in)
			require.NoError(t, err)
			assert.True(t, res.EBITDA().Equal(d(tt.want)), "got %s", res.EBITDA())
		})
	}
}

func TestNormalise_NegativeEBITDAClampsRange(t *testing.T) {
	t.Parallel()
	n := newTestNormaliser(t)

	in := Input{
		Revenue:        decimal.NewNullDecimal(d("150000")),
		ReportedProfit: decimal.NewNullDecimal(d("-30000")),
	}
	res, err := n.Normalise(in)
	require.NoError(t, err)
	assert.Equal(t, Range{}, res.AppraisalRange)
	assert.Equal(t, refdata.OtherIndustry, res.Industry)
	assert.Equal(t, StatusRed, res.Benchmarks[MetricEBITDAMargin].Status)
}

func TestNormalise_ZeroRevenueOmitsBenchmarks(t *testing.T) {
	t.Parallel()
	n := newTestNormaliser(t)

	in := Input{
		Revenue:        decimal.NewNullDecimal(decimal.Zero),
		ReportedProfit: decimal.NewNullDecimal(d("1000")),
		Expenses:       map[string]decimal.Decimal{"rent": d("500")},
	}
	res, err := n.Normalise(in)
	require.NoError(t, err)
	assert.Empty(t, res.Benchmarks)
}

func TestNormalise_AbsentCategoriesOmitted(t *testing.T) {
	t.Parallel()
	n := newTestNormaliser(t)

	in := Input{
		Revenue:  decimal.NewNullDecimal(d("900000")),
		Expenses: map[string]decimal.Decimal{"Wages & Salaries": d("270000"), "Marketing": d("20000")},
		Industry: "Retail",
	}
	res, err := n.Normalise(in)
	require.NoError(t, err)

	assert.Contains(t, res.Benchmarks, MetricLabour)
	assert.Contains(t, res.Benchmarks, MetricEBITDAMargin)
	assert.NotContains(t, res.Benchmarks, MetricRent)
	assert.NotContains(t, res.Benchmarks, MetricCostOfSales)
}

func TestNormalise_Validation(t *testing.T) {
	t.Parallel()
	n := newTestNormaliser(t)

	_, err := n.Normalise(Input{})
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, "revenue", ae.Field)

	_, err = n.Normalise(Input{Revenue: decimal.NewNullDecimal(d("-1"))})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestNormalise_RejectsOutOfRangeAmounts(t *testing.T) {
	t.Parallel()
	n := newTestNormaliser(t)

	tests := []struct {
		name      string
		mutate    func(*Input)
		wantField string
	}{
		{"revenue", func(in *Input) { in.Revenue = decimal.NewNullDecimal(d("1e400")) }, "revenue"},
		{"reported profit", func(in *Input) { in.ReportedProfit = decimal.NewNullDecimal(d("-1e13")) }, "reportedProfit"},
		{"expense", func(in *Input) { in.Expenses["Wages"] = d("2e12") }, "expenses.Wages"},
		{"add-back", func(in *Input) { in.AddBacks[1].Amount = d("1e20") }, "addBacks.1.amount"},
		{"deduction", func(in *Input) { in.Deductions[0].Amount = d("-1e20") }, "deductions.0.amount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := cafePnL()
			tt.mutate(&in)
			_, err := n.Normalise(in)
			require.Error(t, err)
			ae, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.KindValidation, ae.Kind)
			assert.Equal(t, tt.wantField, ae.Field)
		})
	}
}

func TestNormalise_MaxAmountEncodes(t *testing.T) {
	t.Parallel()
	n := newTestNormaliser(t)

	in := cafePnL()
	in.Revenue = decimal.NewNullDecimal(decimal.NewFromFloat(appraisal.MaxAmount))
	res, err := n.Normalise(in)
	require.NoError(t, err)
	_, err = json.Marshal(res)
	assert.NoError(t, err)
}

func TestNormalise_Idempotent(t *testing.T) {
	t.Parallel()
	n := newTestNormaliser(t)

	a, err := n.Normalise(cafePnL())
	require.NoError(t, err)
	b, err := n.Normalise(cafePnL())
	require.NoError(t, err)

	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	assert.Equal(t, string(ja), string(jb))
}

func TestInput_DecodeJSON(t *testing.T) {
	t.Parallel()

	body := `{
		"revenue": 400000,
		"otherIncome": "2500.50",
		"expenses": {"COGS": 120000, "Rent": "48000"},
		"addBacks": [{"name": "Owner super", "amount": 9000}],
		"deductions": []
	}`
	var in Input
	require.NoError(t, json.Unmarshal([]byte(body), &in))

	assert.True(t, in.Revenue.Valid)
	assert.True(t, in.Revenue.Decimal.Equal(d("400000")))
	assert.True(t, in.OtherIncome.Equal(d("2500.5")))
	assert.False(t, in.ReportedProfit.Valid)
	assert.Len(t, in.Expenses, 2)
	require.Len(t, in.AddBacks, 1)
	assert.True(t, in.AddBacks[0].Amount.Equal(d("9000")))
}

func TestClassify_Bounds(t *testing.T) {
	t.Parallel()
	band := refdata.Band{Low: 10, Mid: 15, High: 20}

	tests := []struct {
		v    float64
		want Status
	}{
		{10, StatusGreen},
		{20, StatusGreen},
		{15, StatusGreen},
		{9.9, StatusAmber},
		{5, StatusAmber}, // exactly at the red boundary
		{4.9, StatusRed},
		{25, StatusAmber},
		{25.1, StatusRed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.v, band), "v=%.1f", tt.v)
	}
}

func TestClassify_Monotonic(t *testing.T) {
	t.Parallel()
	rank := map[Status]int{StatusGreen: 0, StatusAmber: 1, StatusRed: 2}
	bands := []refdata.Band{{Low: 10, Mid: 15, High: 20}, {Low: 6, Mid: 8, High: 11}}

	for _, band := range bands {
		for _, dir := range []float64{1, -1} {
			start := band.High
			if dir < 0 {
				start = band.Low
			}
			prev := Classify(start, band)
			require.Equal(t, StatusGreen, prev)
			for i := 1; i <= 400; i++ {
				v := start + dir*float64(i)*0.05
				cur := Classify(v, band)
				assert.GreaterOrEqual(t, rank[cur], rank[prev], "band %+v v=%.2f", band, v)
				assert.LessOrEqual(t, rank[cur]-rank[prev], 1, "skipped amber at v=%.2f", v)
				prev = cur
			}
		}
	}
}
