package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/studiosync/studiosync/internal/client/manifest"
	"github.com/studiosync/studiosync/internal/studioapi"
	"github.com/studiosync/studiosync/internal/utils"
)

// remoteManifest lists a bucket prefix into a relative-path manifest, using
// the object ETag as the content hash.
func (e *Engine) remoteManifest(ctx context.Context, prefix string) (manifest.Manifest, error) {
	objects, err := e.blobs.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	result := make(manifest.Manifest, len(objects))
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" {
			continue
		}
		result[rel] = obj.ETag
	}
	return result, nil
}

// transferSong moves the manifest difference in the verdict's direction.
// Individual file failures are counted, logged, and do not abort the song.
// The bool reports that both manifests were empty, so there was nothing on
// either side to reconcile.
func (e *Engine) transferSong(ctx context.Context, project *studioapi.Project, song *studioapi.Song, dir string, verdict Verdict) (int64, int, bool, error) {
	prefix := fmt.Sprintf("%d/%d/", project.ID, song.ID)

	remote, err := e.remoteManifest(ctx, prefix)
	if err != nil {
		return 0, 0, false, err
	}
	local, err := e.scanner.Scan(dir)
	if err != nil {
		return 0, 0, false, err
	}
	if len(remote) == 0 && len(local) == 0 {
		return 0, 0, true, nil
	}

	var src, dst manifest.Manifest
	switch verdict {
	case VerdictLocal:
		src, dst = local, remote
	case VerdictRemote:
		src, dst = remote, local
	default:
		return 0, 0, false, nil
	}

	keys := manifest.Diff(src, dst)
	if len(keys) == 0 {
		return 0, 0, false, nil
	}

	start := time.Now()
	var transferred atomic.Int64
	var failures atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.opts.Workers)

	for _, key := range keys {
		eg.Go(func() error {
			localPath := filepath.Join(dir, filepath.FromSlash(key))
			var n int64
			var terr error
			switch verdict {
			case VerdictLocal:
				obj, uerr := e.blobs.Upload(egCtx, localPath, prefix+key)
				if obj != nil {
					n = obj.Size
				}
				terr = uerr
			case VerdictRemote:
				terr = e.blobs.Download(egCtx, prefix+key, localPath)
				if terr == nil {
					n = fileSize(localPath)
				}
			}
			if terr != nil {
				failures.Add(1)
				slog.Error("transfer failed", "song", song.Name, "key", key, "error", terr)
				return nil
			}
			transferred.Add(n)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return transferred.Load(), int(failures.Load()), false, err
	}

	slog.Info("song transferred",
		"song", song.Name,
		"direction", verdict,
		"files", len(keys),
		"failed", failures.Load(),
		"size", humanize.Bytes(uint64(transferred.Load())),
		"took", time.Since(start).Round(time.Millisecond),
	)

	return transferred.Load(), int(failures.Load()), false, nil
}

func fileSize(path string) int64 {
	if size := utils.FileSize(path); size > 0 {
		return size
	}
	return 0
}
