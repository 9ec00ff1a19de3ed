package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "nested")

	require.NoError(t, EnsureDirExists(dir))
	require.NoError(t, EnsureDirExists(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")

	assert.False(t, FileExists(file))
	require.NoError(t, os.WriteFile(file, []byte("mirror: {}\n"), 0o644))
	assert.True(t, FileExists(file))

	// directories don't count
	assert.False(t, FileExists(dir))
}
