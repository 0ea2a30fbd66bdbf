package engine

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/studiosync/studiosync/internal/client/prompt"
	"github.com/studiosync/studiosync/internal/studioapi"
)

const checkoutReason = "Checked out"

// acquireLock requests a lock and resolves the denial cases: locks with a
// past until are overridden silently, a self-lock means a prior sync crashed
// and the user decides, anything else is LockDeniedError.
func (e *Engine) acquireLock(ctx context.Context, projectID int, target string, opts *studioapi.LockOptions) (*studioapi.Lock, error) {
	if opts == nil {
		opts = &studioapi.LockOptions{}
	}

	lock, err := e.api.Lock(ctx, projectID, opts)
	if err != nil {
		return nil, err
	}
	if lock.Granted() {
		return lock, nil
	}

	retry := false
	switch {
	case lock.Expired(time.Now()):
		slog.Info("overriding expired lock", "target", target, "held_by", lock.LockedBy)
		retry = true
	case lock.HeldBySelf():
		since := ""
		if lock.Since != nil {
			since = lock.Since.Format(time.RFC1123)
		}
		choice, err := e.prompt.CrashedSync(ctx, target, lock.LockedBy, since)
		if err != nil {
			return nil, err
		}
		retry = choice != prompt.CrashedAbort
	}

	if retry {
		forced := *opts
		forced.Force = true
		lock, err = e.api.Lock(ctx, projectID, &forced)
		if err != nil {
			return nil, err
		}
		if lock.Granted() {
			return lock, nil
		}
	}

	return nil, &LockDeniedError{Target: target, Lock: lock}
}

// Checkout implements workon: take the project lock to serialize against
// other syncers, take the song lock, drop the project lock, reconcile, and
// keep the song lock so the user can edit. The lock survives until Release.
func (e *Engine) Checkout(ctx context.Context, project *studioapi.Project, song *studioapi.Song, until *time.Time) (*SongResult, error) {
	if _, err := e.acquireLock(ctx, project.ID, project.Name, &studioapi.LockOptions{Reason: "Sync"}); err != nil {
		return nil, err
	}

	_, lockErr := e.acquireLock(ctx, project.ID, song.Name, &studioapi.LockOptions{
		SongID: song.ID,
		Reason: checkoutReason,
		Until:  until,
	})

	if _, err := e.api.Unlock(ctx, project.ID, nil); err != nil {
		slog.Error("project unlock failed", "project", project.Name, "error", err)
	}
	if lockErr != nil {
		return nil, lockErr
	}

	result, err := e.syncSong(ctx, project, song, nil)
	if err != nil {
		// Failed checkout must not leave the song locked.
		if _, uerr := e.api.Unlock(ctx, project.ID, &studioapi.UnlockOptions{SongID: song.ID}); uerr != nil {
			slog.Error("song unlock failed", "song", song.Name, "error", uerr)
		}
		return nil, err
	}

	return result, nil
}

// LockAndSync is the workon-without-keep variant used for single-song sync
// commands: lock, reconcile, unlock.
func (e *Engine) LockAndSync(ctx context.Context, project *studioapi.Project, song *studioapi.Song) (*SongResult, error) {
	result, err := e.Checkout(ctx, project, song, nil)
	if err != nil {
		return nil, err
	}
	if _, uerr := e.api.Unlock(ctx, project.ID, &studioapi.UnlockOptions{SongID: song.ID}); uerr != nil {
		return result, uerr
	}
	return result, nil
}

// Release implements workdone: reconcile the song, optionally forcing a
// pull to discard local edits, then release the checkout lock.
func (e *Engine) Release(ctx context.Context, project *studioapi.Project, song *studioapi.Song, undo bool) (result *SongResult, err error) {
	defer func() {
		if _, uerr := e.api.Unlock(ctx, project.ID, &studioapi.UnlockOptions{SongID: song.ID}); uerr != nil {
			slog.Error("song unlock failed", "song", song.Name, "error", uerr)
			if err == nil {
				err = uerr
			}
		}
	}()

	var force *Verdict
	if undo {
		v := VerdictRemote
		force = &v
	}
	return e.syncSong(ctx, project, song, force)
}

// NewestSessionFile resolves the most recently modified *.cpr under the
// song directory; workon opens it with the OS default application.
func (e *Engine) NewestSessionFile(project *studioapi.Project, song *studioapi.Song) (string, error) {
	dir := e.SongDir(project, song)

	var newest string
	var newestMod time.Time
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(d.Name()) != ".cpr" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if newest == "" {
		return "", fmt.Errorf("no session file in %s", dir)
	}
	return newest, nil
}
