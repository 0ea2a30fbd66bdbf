package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/studiosync/studiosync/internal/client/engine"
	"github.com/studiosync/studiosync/internal/studioapi"
	"github.com/studiosync/studiosync/internal/utils"
	"github.com/studiosync/studiosync/internal/version"
)

func (d *Dispatcher) handleAuth(ctx context.Context, task *Task) error {
	access, _ := task.Data["access"].(string)
	refresh, _ := task.Data["refresh"].(string)
	if access == "" && refresh == "" {
		return errors.New("auth payload carries no tokens")
	}

	if err := d.deps.API.SetTokens(access, refresh); err != nil {
		return fmt.Errorf("persist tokens: %w", err)
	}

	user, err := d.deps.API.WhoAmI(ctx)
	if err != nil {
		return err
	}
	slog.Info("authenticated", "user", user)

	d.events.Push(NewEvent(task.ID, StatusComplete, map[string]any{"user": user}))
	return nil
}

func (d *Dispatcher) handleSync(ctx context.Context, task *Task) error {
	eng, err := d.deps.NewEngine()
	if err != nil {
		return err
	}
	eng.Reset()

	d.acquireSyncLock()
	defer d.releaseSyncLock()

	failures := 0
	if songs, ok := task.Data["songs"].([]any); ok && len(songs) > 0 {
		failures, err = d.syncSongs(ctx, task, eng, songs)
	} else {
		failures, err = d.syncProjects(ctx, task, eng, task.Data["projects"])
	}
	if err != nil {
		return err
	}

	// Per-file failures do not abort a sync, but they do trigger an
	// automatic log report.
	if failures > 0 {
		if err := d.shipLogs(ctx); err != nil {
			slog.Error("automatic log report failed", "error", err)
		}
	}

	d.events.Push(NewEvent(task.ID, StatusComplete, nil))
	return nil
}

func (d *Dispatcher) syncProjects(ctx context.Context, task *Task, eng *engine.Engine, raw any) (int, error) {
	projects, err := d.resolveProjects(ctx, raw)
	if err != nil {
		return 0, err
	}

	failures := 0
	for _, project := range projects {
		result, err := eng.SyncProject(ctx, project)
		if err != nil {
			var denied *engine.LockDeniedError
			if errors.As(err, &denied) {
				slog.Warn("project locked", "project", project.Name, "held_by", denied.Lock.LockedBy)
				d.events.Push(NewEvent(task.ID, StatusWarn, lockPayload(project.Name, denied.Lock)))
				continue
			}
			return failures, err
		}
		failures += result.Failures()
		d.events.Push(NewEvent(task.ID, StatusProgress, map[string]any{
			"project": project.Name,
			"songs":   len(result.Songs),
		}))
	}
	return failures, nil
}

func (d *Dispatcher) syncSongs(ctx context.Context, task *Task, eng *engine.Engine, raw []any) (int, error) {
	failures := 0
	for _, entry := range raw {
		ref, err := decodeSongRef(entry)
		if err != nil {
			return failures, err
		}
		project, song, err := d.resolveSong(ctx, ref)
		if err != nil {
			return failures, err
		}

		// Lock denials on single-song operations surface as errors.
		result, err := eng.LockAndSync(ctx, project, song)
		if err != nil {
			return failures, err
		}
		failures += result.Failures
		d.events.Push(NewEvent(task.ID, StatusProgress, map[string]any{
			"song":    song.Name,
			"verdict": result.Verdict,
		}))
	}
	return failures, nil
}

func (d *Dispatcher) handleWorkOn(ctx context.Context, task *Task) error {
	ref, err := decodeSongRef(task.Data["song"])
	if err != nil {
		return err
	}
	project, song, err := d.resolveSong(ctx, ref)
	if err != nil {
		return err
	}

	eng, err := d.deps.NewEngine()
	if err != nil {
		return err
	}
	eng.Reset()

	d.acquireSyncLock()
	defer d.releaseSyncLock()

	result, err := eng.Checkout(ctx, project, song, nil)
	if err != nil {
		return err
	}

	session, err := eng.NewestSessionFile(project, song)
	if err != nil {
		slog.Warn("no session file to open", "song", song.Name, "error", err)
	} else if d.deps.OpenFile != nil {
		if err := d.deps.OpenFile(session); err != nil {
			slog.Error("open session file failed", "path", session, "error", err)
		}
	}

	d.events.Push(NewEvent(task.ID, StatusComplete, map[string]any{
		"song":    song.Name,
		"verdict": result.Verdict,
	}))
	return nil
}

func (d *Dispatcher) handleWorkDone(ctx context.Context, task *Task) error {
	ref, err := decodeSongRef(task.Data["song"])
	if err != nil {
		return err
	}
	undo, _ := task.Data["undo"].(bool)

	project, song, err := d.resolveSong(ctx, ref)
	if err != nil {
		return err
	}

	eng, err := d.deps.NewEngine()
	if err != nil {
		return err
	}
	eng.Reset()

	d.acquireSyncLock()
	defer d.releaseSyncLock()

	result, err := eng.Release(ctx, project, song, undo)
	if err != nil {
		return err
	}

	d.events.Push(NewEvent(task.ID, StatusComplete, map[string]any{
		"song":    song.Name,
		"verdict": result.Verdict,
	}))
	return nil
}

func (d *Dispatcher) handleTasks(ctx context.Context, task *Task) error {
	others := make([]string, 0)
	for _, id := range d.inflight.ToSlice() {
		if id != task.ID {
			others = append(others, id)
		}
	}
	d.events.Push(NewEvent(task.ID, StatusTasks, map[string]any{"tasks": others}))
	return nil
}

func (d *Dispatcher) handleUpdate(ctx context.Context, task *Task) error {
	updates, err := d.deps.API.ListClientUpdates(ctx, version.Target())
	if err != nil {
		return err
	}

	var newest *studioapi.Update
	for _, u := range updates {
		if version.IsNewer(u.Version) && (newest == nil || u.Version > newest.Version) {
			newest = u
		}
	}
	if newest == nil {
		d.events.Push(NewEvent(task.ID, StatusComplete, map[string]any{"update": false}))
		return nil
	}

	slog.Info("applying client update", "version", newest.Version)
	if err := d.deps.Updater.Apply(ctx, newest); err != nil {
		return fmt.Errorf("apply update %s: %w", newest.Version, err)
	}

	d.events.Push(NewEvent(task.ID, StatusComplete, map[string]any{
		"update":  true,
		"version": newest.Version,
	}))
	d.deps.Shutdown()
	return nil
}

func (d *Dispatcher) handleLogs(ctx context.Context, task *Task) error {
	if err := d.shipLogs(ctx); err != nil {
		return err
	}
	d.events.Push(NewEvent(task.ID, StatusComplete, nil))
	return nil
}

func (d *Dispatcher) shipLogs(ctx context.Context) error {
	archive, err := utils.ZipFile(d.deps.LogFile)
	if err != nil {
		return err
	}
	defer os.Remove(archive)
	return d.deps.API.UploadLogs(ctx, archive)
}

func (d *Dispatcher) handleShutdown(ctx context.Context, task *Task) error {
	d.events.Push(NewEvent(task.ID, StatusComplete, nil))
	d.deps.Shutdown()
	return nil
}

func (d *Dispatcher) handleSettings(ctx context.Context, task *Task) error {
	if d.deps.OpenSettings != nil {
		d.deps.OpenSettings()
	}
	d.events.Push(NewEvent(task.ID, StatusComplete, nil))
	return nil
}

// resolveProjects turns the sync payload's project list into full projects.
// Entries may be bare ids or embedded objects; an empty list means all.
func (d *Dispatcher) resolveProjects(ctx context.Context, raw any) ([]*studioapi.Project, error) {
	entries, _ := raw.([]any)
	if len(entries) == 0 {
		return d.deps.API.ListProjects(ctx)
	}

	var projects []*studioapi.Project
	for _, entry := range entries {
		var id int
		switch v := entry.(type) {
		case float64:
			id = int(v)
		case map[string]any:
			f, ok := v["id"].(float64)
			if !ok {
				return nil, fmt.Errorf("project entry missing id: %v", v)
			}
			id = int(f)
		default:
			return nil, fmt.Errorf("unsupported project entry: %T", entry)
		}

		project, err := d.deps.API.GetProject(ctx, id)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, nil
}

func (d *Dispatcher) resolveSong(ctx context.Context, ref *studioapi.SongRef) (*studioapi.Project, *studioapi.Song, error) {
	project, err := d.deps.API.GetProject(ctx, ref.Project)
	if err != nil {
		return nil, nil, err
	}
	for i := range project.Songs {
		if project.Songs[i].ID == ref.Song {
			return project, &project.Songs[i], nil
		}
	}
	return nil, nil, fmt.Errorf("song %d not found in project %q", ref.Song, project.Name)
}

func decodeSongRef(raw any) (*studioapi.SongRef, error) {
	entry, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("song reference missing or malformed: %v", raw)
	}
	projectID, ok := entry["project"].(float64)
	if !ok {
		return nil, errors.New("song reference missing project id")
	}
	songID, ok := entry["song"].(float64)
	if !ok {
		return nil, errors.New("song reference missing song id")
	}
	name, _ := entry["name"].(string)
	return &studioapi.SongRef{
		Project: int(projectID),
		Song:    int(songID),
		Name:    name,
	}, nil
}

func lockPayload(target string, lock *studioapi.Lock) map[string]any {
	payload := map[string]any{
		"target":    target,
		"locked":    true,
		"locked_by": lock.LockedBy,
	}
	if lock.Since != nil {
		payload["since"] = lock.Since.Format(time.RFC3339)
	}
	if lock.Until != nil {
		payload["until"] = lock.Until.Format(time.RFC3339)
	}
	return payload
}
