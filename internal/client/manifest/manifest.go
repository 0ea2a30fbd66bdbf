// Package manifest produces content-hash maps over song directories and the
// cheap project-root digest the verdict function keys on.
package manifest

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/studiosync/studiosync/internal/utils"
)

// Manifest maps a relative path (slash-separated) to its content hash.
type Manifest map[string]string

// Diff returns the keys in src whose hash differs from (or is absent in)
// dst, sorted. Transferring exactly these keys in one direction makes the
// next diff in that direction empty.
func Diff(src, dst Manifest) []string {
	var keys []string
	for key, hash := range src {
		if dst[key] != hash {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Scanner turns a song directory into a Manifest. Implementations may trade
// portability for speed; the engine treats them interchangeably.
type Scanner interface {
	Scan(root string) (Manifest, error)
}

// SkipEntry reports whether a directory entry is excluded from manifests:
// waveform caches (*.peak) and legacy names containing a backslash.
func SkipEntry(name string) bool {
	if strings.HasSuffix(name, ".peak") {
		return true
	}
	return strings.Contains(name, `\`)
}

// HashProjectRoot digests the top-level session files (*.cpr) of a song
// directory into one short hash, a cheap "did the session change?" signal.
// Returns "" when the directory or any session file is absent.
func HashProjectRoot(root string) (string, error) {
	if !utils.DirExists(root) {
		return "", nil
	}

	matches, err := filepath.Glob(filepath.Join(root, "*.cpr"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)

	h := md5.New()
	for _, path := range matches {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
