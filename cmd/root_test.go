//go:build !integration

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv_Missing(t *testing.T) {
	assert.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), ".env")))
}

func TestLoadDotEnv_SetsUnsetVars(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("OWNEREXIT_TEST_DOTENV=from-file\nOWNEREXIT_TEST_DOTENV_KEEP=from-file\n"), 0o644))

	t.Setenv("OWNEREXIT_TEST_DOTENV_KEEP", "from-env")
	t.Cleanup(func() { os.Unsetenv("OWNEREXIT_TEST_DOTENV") }) //nolint:errcheck

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("OWNEREXIT_TEST_DOTENV"))
	assert.Equal(t, "from-env", os.Getenv("OWNEREXIT_TEST_DOTENV_KEEP"))
}

func TestRootCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "appraise", "normalise", "industries", "leads", "migrate"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	sub, _, err := rootCmd.Find([]string{"appraise", "batch"})
	require.NoError(t, err)
	assert.Equal(t, "batch", sub.Name())
}
