package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiosync/studiosync/internal/utils"
)

func writeFile(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestWalkScannerSkipsAndHashes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "song.cpr", "session data")
	writeFile(t, root, "Audio/kick.wav", "pcm")
	writeFile(t, root, "Audio/kick.wav.peak", "waveform cache")
	writeFile(t, root, `bad\name.wav`, "legacy")

	m, err := NewWalkScanner().Scan(root)
	require.NoError(t, err)

	assert.Len(t, m, 2)
	assert.Contains(t, m, "song.cpr")
	assert.Contains(t, m, "Audio/kick.wav")
	assert.NotContains(t, m, "Audio/kick.wav.peak")

	// Hashes agree with the streaming file hash on each entry.
	for rel, hash := range m {
		expected, err := utils.FileHash(filepath.Join(root, filepath.FromSlash(rel)))
		require.NoError(t, err)
		assert.Equal(t, expected, hash, rel)
	}
}

func TestWalkScannerMissingDir(t *testing.T) {
	m, err := NewWalkScanner().Scan(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestDiff(t *testing.T) {
	src := Manifest{"a": "1", "b": "2", "c": "3"}
	dst := Manifest{"a": "1", "b": "9"}

	assert.Equal(t, []string{"b", "c"}, Diff(src, dst))
	assert.Empty(t, Diff(Manifest{}, Manifest{}))
	assert.Equal(t, []string{"a"}, Diff(Manifest{"a": "1"}, Manifest{}))
}

func TestDiffConvergence(t *testing.T) {
	src := Manifest{"a": "1", "b": "2"}
	dst := Manifest{"b": "old"}

	// Applying the diff in one direction makes the next diff empty.
	for _, key := range Diff(src, dst) {
		dst[key] = src[key]
	}
	assert.Empty(t, Diff(src, dst))
}

func TestHashProjectRoot(t *testing.T) {
	root := t.TempDir()

	// No session files yet.
	hash, err := HashProjectRoot(root)
	require.NoError(t, err)
	assert.Empty(t, hash)

	writeFile(t, root, "mix.cpr", "v1")
	writeFile(t, root, "notes.txt", "ignored")

	h1, err := HashProjectRoot(root)
	require.NoError(t, err)
	require.NotEmpty(t, h1)

	// Stable across calls.
	h2, err := HashProjectRoot(root)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	// Sensitive to session content, insensitive to other files.
	writeFile(t, root, "notes.txt", "still ignored")
	h3, err := HashProjectRoot(root)
	require.NoError(t, err)
	assert.Equal(t, h1, h3)

	writeFile(t, root, "mix.cpr", "v2")
	h4, err := HashProjectRoot(root)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)

	// Missing directory reads as no local copy.
	hash, err = HashProjectRoot(filepath.Join(root, "missing"))
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestSkipEntry(t *testing.T) {
	assert.True(t, SkipEntry("kick.wav.peak"))
	assert.True(t, SkipEntry(`legacy\name.wav`))
	assert.False(t, SkipEntry("kick.wav"))
	assert.False(t, SkipEntry("song.cpr"))
}
