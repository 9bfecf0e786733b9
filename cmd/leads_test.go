//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ownerexit/ownerexit-cli/internal/model"
	"github.com/ownerexit/ownerexit-cli/internal/refdata"
)

func TestFormatLeadsList(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	leads := []model.Lead{
		{
			ID:           "abc12345-6789-0000-0000-000000000000",
			Email:        "jo@cafe.com.au",
			BusinessName: "Jo's Cafe",
			Industry:     "Cafe",
			PriceMid:     180_000,
			Confidence:   "Medium",
			CreatedAt:    now,
		},
		{
			ID:         "def12345-6789-0000-0000-000000000000",
			Email:      "sam@example.com",
			Name:       "Sam Smith With A Very Long Name Indeed",
			Industry:   "Retail",
			PriceMid:   95_000,
			Confidence: "Low",
			CreatedAt:  now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatLeadsList(&buf, leads)

	out := buf.String()
	assert.Contains(t, out, "EMAIL")
	assert.Contains(t, out, "CONFIDENCE")
	assert.Contains(t, out, "abc12345")
	assert.NotContains(t, out, "abc12345-6789")
	assert.Contains(t, out, "Jo's Cafe")
	assert.Contains(t, out, "PRICE")
	assert.Contains(t, out, "$180K")
	assert.Contains(t, out, "$95K")
	assert.Contains(t, out, "Sam Smith With A Very Long ...")
	assert.Contains(t, out, "2025-06-15 10:30")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}

func TestFormatIndustries(t *testing.T) {
	tables, err := refdata.Default()
	if !assert.NoError(t, err) {
		return
	}

	var buf bytes.Buffer
	formatIndustries(&buf, tables.Industries())

	out := buf.String()
	assert.Contains(t, out, "INDUSTRY")
	assert.Contains(t, out, "EBITDA_MULTIPLE")
	assert.Contains(t, out, "Cafe")
	assert.Contains(t, out, refdata.OtherIndustry)
}

func TestTypicalPrice(t *testing.T) {
	assert.Equal(t, "-", typicalPrice(refdata.PriceBand{}))
	assert.Equal(t, "$100,000 - $400,000", typicalPrice(refdata.PriceBand{Low: 100_000, High: 400_000}))
}
