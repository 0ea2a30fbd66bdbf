// Package watcher streams ad-hoc audio renders to the audio bucket as they
// land on disk.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/studiosync/studiosync/internal/blobstore"
	"github.com/studiosync/studiosync/internal/client/state"
	"github.com/studiosync/studiosync/internal/utils"
)

const (
	eventBufferSize = 64

	// stableWait is how long a file's size must hold still before we treat
	// the writer as done. DAWs render in many small appends.
	stableWait = time.Second

	// minUploadInterval throttles re-uploads of the same path.
	minUploadInterval = 10 * time.Second

	// restartBackoff delays supervised restarts of a dead event loop.
	restartBackoff = 5 * time.Second
)

// MetadataNotifier is the notify-only slice of the metadata client the
// watcher calls. These calls are idempotent and run off the dispatcher.
type MetadataNotifier interface {
	RecordAudioSync(ctx context.Context, projectName string) error
}

type AudioWatcher struct {
	dir    string
	blobs  blobstore.Store
	states *state.Store
	api    MetadataNotifier
}

func New(dir string, blobs blobstore.Store, states *state.Store, api MetadataNotifier) *AudioWatcher {
	return &AudioWatcher{
		dir:    dir,
		blobs:  blobs,
		states: states,
		api:    api,
	}
}

// Start supervises the event loop until the context is cancelled: if the
// loop dies, it is restarted after a short backoff.
func (w *AudioWatcher) Start(ctx context.Context) error {
	if err := utils.EnsureDir(w.dir); err != nil {
		return err
	}

	slog.Info("audio watcher start", "dir", w.dir)
	for {
		if err := w.run(ctx); err != nil {
			slog.Error("audio watcher loop died, restarting", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.Info("audio watcher stopped")
			return nil
		case <-time.After(restartBackoff):
		}
	}
}

func (w *AudioWatcher) run(ctx context.Context) error {
	events := make(chan notify.EventInfo, eventBufferSize)
	recursivePath := filepath.Join(w.dir, "...")
	if err := notify.Watch(recursivePath, events, notify.Create, notify.Write, notify.Rename); err != nil {
		return err
	}
	defer notify.Stop(events)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if err := w.handleEvent(ctx, event.Path()); err != nil {
				// Per-event errors never stop the watcher.
				slog.Error("audio watcher event failed", "path", event.Path(), "error", err)
			}
		}
	}
}

// uploadKey derives the bucket key for a rendered file: the containing
// directory names the project, the basename names the render.
func uploadKey(path string) (project string, key string) {
	project = filepath.Base(filepath.Dir(path))
	return project, project + "/" + filepath.Base(path)
}

func (w *AudioWatcher) handleEvent(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		// Gone already; the surviving end of a rename will follow.
		return nil
	}
	if info.IsDir() {
		return nil
	}

	if err := w.waitStable(ctx, path); err != nil {
		return err
	}

	hash, err := utils.FileHash(path)
	if err != nil {
		return err
	}

	known, err := w.states.GetAudioState(path)
	if err != nil {
		return err
	}
	if known != nil && known.Hash == hash {
		return nil
	}
	if known != nil && time.Since(known.LastUpload) < minUploadInterval {
		return nil
	}

	// A known hash at a now-missing path means this file moved; copy the
	// blob server-side instead of re-uploading.
	if known == nil {
		if prior, err := w.states.FindAudioStateByHash(hash); err == nil && prior != nil && !utils.FileExists(prior.Path) {
			return w.handleMove(ctx, prior, path, hash)
		}
	}

	project, key := uploadKey(path)
	if _, err := w.blobs.Upload(ctx, path, key); err != nil {
		return err
	}

	if err := w.states.SetAudioState(&state.AudioState{
		Path:       path,
		Hash:       hash,
		LastUpload: time.Now().UTC(),
	}); err != nil {
		return err
	}

	slog.Info("audio render uploaded", "key", key)
	if err := w.api.RecordAudioSync(ctx, project); err != nil {
		slog.Warn("audio sync notify failed", "project", project, "error", err)
	}
	return nil
}

func (w *AudioWatcher) handleMove(ctx context.Context, prior *state.AudioState, newPath string, hash string) error {
	_, oldKey := uploadKey(prior.Path)
	project, newKey := uploadKey(newPath)

	if err := w.blobs.Copy(ctx, oldKey, newKey); err != nil {
		return err
	}
	if err := w.blobs.Delete(ctx, oldKey); err != nil {
		slog.Warn("stale audio key not deleted", "key", oldKey, "error", err)
	}

	if err := w.states.DeleteAudioState(prior.Path); err != nil {
		return err
	}
	if err := w.states.SetAudioState(&state.AudioState{
		Path:       newPath,
		Hash:       hash,
		LastUpload: time.Now().UTC(),
	}); err != nil {
		return err
	}

	slog.Info("audio render moved", "from", oldKey, "to", newKey)
	if err := w.api.RecordAudioSync(ctx, project); err != nil {
		slog.Warn("audio sync notify failed", "project", project, "error", err)
	}
	return nil
}

// waitStable polls until the file size holds still for stableWait, a proxy
// for the writer having closed it.
func (w *AudioWatcher) waitStable(ctx context.Context, path string) error {
	last := utils.FileSize(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stableWait):
		}

		size := utils.FileSize(path)
		if size == last {
			return nil
		}
		last = size
	}
}
