//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ownerexit/ownerexit-cli/internal/model"
	"github.com/ownerexit/ownerexit-cli/internal/store"
)

func TestShowSection(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "sections.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	saved, err := st.UpsertSection(ctx, "biz-9", model.SectionPriceGuide, json.RawMessage(`{"priceRange":{"mid":180000}}`))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, showSection(ctx, st, &buf, "biz-9", "price_guide"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, saved.ID, got["id"])
	assert.Equal(t, "price_guide", got["kind"])
	assert.Equal(t, map[string]any{"priceRange": map[string]any{"mid": 180000.0}}, got["data"])

	err = showSection(ctx, st, &buf, "biz-9", "normalisation")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = showSection(ctx, st, &buf, "biz-9", "valuation")
	assert.ErrorContains(t, err, "unknown kind")
}
