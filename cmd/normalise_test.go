//go:build !integration

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownerexit/ownerexit-cli/internal/normalise"
	"github.com/ownerexit/ownerexit-cli/internal/refdata"
)

const pnlJSON = `{"revenue":"400000","industry":"Cafe",
	"expenses":{"Cost of Sales":132000,"Wages":150000,"Rent":64000,"Electricity":10000},
	"addBacks":[{"name":"Owner's car","amount":12000},{"name":"One-off legal","amount":"3000.5"}],
	"deductions":[{"name":"Manager wage","amount":20000}]}`

func TestLoadNormaliseInput_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pnl.json")
	require.NoError(t, os.WriteFile(path, []byte(pnlJSON), 0o644))

	in, err := loadNormaliseInput(path, "", normalise.SheetOptions{})
	require.NoError(t, err)
	assert.True(t, in.Revenue.Valid)
	assert.True(t, in.Revenue.Decimal.Equal(decimal.NewFromInt(400_000)))
	assert.Equal(t, "Cafe", in.Industry)
	assert.Len(t, in.Expenses, 4)
	require.Len(t, in.AddBacks, 2)
	assert.Equal(t, "3000.5", in.AddBacks[1].Amount.String())
}

func TestLoadNormaliseInput_Errors(t *testing.T) {
	_, err := loadNormaliseInput("", "", normalise.SheetOptions{})
	assert.ErrorContains(t, err, "is required")

	_, err = loadNormaliseInput("a.json", "b.xlsx", normalise.SheetOptions{})
	assert.ErrorContains(t, err, "use one of")

	_, err = loadNormaliseInput(filepath.Join(t.TempDir(), "missing.json"), "", normalise.SheetOptions{})
	assert.ErrorContains(t, err, "open input")

	_, err = decodeNormaliseInput(strings.NewReader("{not json"))
	assert.ErrorContains(t, err, "decode input")
}

func TestApplyNormaliseOverrides(t *testing.T) {
	in := normalise.Input{Industry: "Retail"}
	require.NoError(t, applyNormaliseOverrides(&in, " Cafe ", "$250,000"))
	assert.Equal(t, "Cafe", in.Industry)
	require.True(t, in.Revenue.Valid)
	assert.True(t, in.Revenue.Decimal.Equal(decimal.NewFromInt(250_000)))

	in = normalise.Input{Industry: "Retail"}
	require.NoError(t, applyNormaliseOverrides(&in, "", ""))
	assert.Equal(t, "Retail", in.Industry)
	assert.False(t, in.Revenue.Valid)

	assert.ErrorContains(t, applyNormaliseOverrides(&in, "", "abc"), "--revenue")
}

func TestFormatNormalisation(t *testing.T) {
	in, err := decodeNormaliseInput(strings.NewReader(pnlJSON))
	require.NoError(t, err)
	tables, err := refdata.Default()
	require.NoError(t, err)
	res, err := normalise.New(tables).Normalise(in)
	require.NoError(t, err)

	var buf bytes.Buffer
	formatNormalisation(&buf, res)

	out := buf.String()
	assert.Contains(t, out, "Cafe")
	assert.Contains(t, out, "$400,000")
	assert.Contains(t, out, "(derived)")
	assert.Contains(t, out, "39000.50")
	assert.Contains(t, out, "METRIC")
	assert.Contains(t, out, "costOfSales")
	assert.Contains(t, out, "green")
	assert.Contains(t, out, res.Disclaimer)
}
