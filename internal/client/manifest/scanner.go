package manifest

import (
	"io/fs"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/studiosync/studiosync/internal/utils"
)

const scanWorkers = 8

// WalkScanner is the portable Scanner: a filesystem walk with parallel file
// hashing.
type WalkScanner struct{}

func NewWalkScanner() *WalkScanner {
	return &WalkScanner{}
}

func (w *WalkScanner) Scan(root string) (Manifest, error) {
	result := make(Manifest)
	if !utils.DirExists(root) {
		return result, nil
	}

	var mu sync.Mutex
	var eg errgroup.Group
	eg.SetLimit(scanWorkers)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if SkipEntry(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		eg.Go(func() error {
			hash, err := utils.FileHash(path)
			if err != nil {
				return err
			}
			mu.Lock()
			result[rel] = hash
			mu.Unlock()
			return nil
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

var _ Scanner = (*WalkScanner)(nil)
