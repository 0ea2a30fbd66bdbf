package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/studiosync/studiosync/internal/client/manifest"
	"github.com/studiosync/studiosync/internal/studioapi"
)

const (
	ampSettingsDir = "Amp Settings"

	// impulseResponsesDir lives under Amp Settings but is shared material,
	// not a per-user amp preset tree.
	impulseResponsesDir = "Impulse Responses"
)

// syncAmpPresets pushes this user's preset tree for every locally present
// amp and pulls every other user's presets. Keys look like
// <project>/Amp Settings/<amp>/<user>/<preset>.
func (e *Engine) syncAmpPresets(ctx context.Context, project *studioapi.Project) error {
	localRoot := filepath.Join(e.opts.SourceDir, project.Name, ampSettingsDir)
	if !e.opts.NestedFolders {
		localRoot = filepath.Join(e.opts.SourceDir, ampSettingsDir)
	}

	prefix := fmt.Sprintf("%d/%s/", project.ID, ampSettingsDir)
	remote, err := e.remoteManifest(ctx, prefix)
	if err != nil {
		return err
	}
	local, err := e.scanner.Scan(localRoot)
	if err != nil {
		return err
	}

	user := e.user(ctx)

	var uploads, downloads []string
	for _, key := range manifest.Diff(local, remote) {
		amp, owner, ok := splitPresetKey(key)
		if !ok || amp == impulseResponsesDir {
			continue
		}
		if owner == user {
			uploads = append(uploads, key)
		}
	}
	for _, key := range manifest.Diff(remote, local) {
		amp, owner, ok := splitPresetKey(key)
		if !ok || amp == impulseResponsesDir {
			continue
		}
		if owner != user {
			downloads = append(downloads, key)
		}
	}

	if len(uploads) == 0 && len(downloads) == 0 {
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.opts.Workers)

	for _, key := range uploads {
		eg.Go(func() error {
			path := filepath.Join(localRoot, filepath.FromSlash(key))
			if _, err := e.blobs.Upload(egCtx, path, prefix+key); err != nil {
				slog.Error("amp preset upload failed", "key", key, "error", err)
			}
			return nil
		})
	}
	for _, key := range downloads {
		eg.Go(func() error {
			path := filepath.Join(localRoot, filepath.FromSlash(key))
			if err := e.blobs.Download(egCtx, prefix+key, path); err != nil {
				slog.Error("amp preset download failed", "key", key, "error", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	slog.Info("amp presets synced", "project", project.Name, "pushed", len(uploads), "pulled", len(downloads))
	return nil
}

// splitPresetKey breaks <amp>/<user>/<rest> into its amp and owner parts.
func splitPresetKey(key string) (amp string, owner string, ok bool) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 3 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
