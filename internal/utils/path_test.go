package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	_, err := ResolvePath("")
	assert.Error(t, err)

	abs, err := ResolvePath("some/relative/dir")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	expanded, err := ResolvePath("~/Cubase Projects")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Cubase Projects"), expanded)

	cleaned, err := ResolvePath(filepath.Join(home, "a", "..", "b"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "b"), cleaned)
}
