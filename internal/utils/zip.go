package utils

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ZipFile compresses a single file into a zip archive at a temp location and
// returns the archive path. The caller removes the archive when done.
func ZipFile(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	out, err := os.CreateTemp("", "studiosync-*.zip")
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}

	zw := zip.NewWriter(out)
	entry, err := zw.Create(filepath.Base(path))
	if err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("create archive entry: %w", err)
	}

	if _, err := io.Copy(entry, src); err != nil {
		zw.Close()
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("compress %s: %w", path, err)
	}

	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("finalize archive: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}

	return out.Name(), nil
}
