// Package engine implements per-song reconciliation: verdict computation,
// transfer orchestration, state commit, and receipt emission.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/studiosync/studiosync/internal/blobstore"
	"github.com/studiosync/studiosync/internal/client/manifest"
	"github.com/studiosync/studiosync/internal/client/prompt"
	"github.com/studiosync/studiosync/internal/client/state"
	"github.com/studiosync/studiosync/internal/studioapi"
)

// MetadataAPI is the slice of the metadata client the engine consumes.
type MetadataAPI interface {
	GetProject(ctx context.Context, id int) (*studioapi.Project, error)
	GetSong(ctx context.Context, id int) (*studioapi.Song, error)
	Lock(ctx context.Context, projectID int, opts *studioapi.LockOptions) (*studioapi.Lock, error)
	Unlock(ctx context.Context, projectID int, opts *studioapi.UnlockOptions) (*studioapi.Lock, error)
	RecordSync(ctx context.Context, projectID int, songIDs []int) error
	WhoAmI(ctx context.Context) (string, error)
}

// LockDeniedError reports a cooperative lock held by someone else. Batch
// syncs downgrade it to a warning; single-song operations surface it.
type LockDeniedError struct {
	Target string
	Lock   *studioapi.Lock
}

func (e *LockDeniedError) Error() string {
	return fmt.Sprintf("%s is locked by %s", e.Target, e.Lock.LockedBy)
}

// Options are the per-run engine knobs, read from the state store by the
// dispatcher before each command.
type Options struct {
	SourceDir     string
	NestedFolders bool
	Workers       int
	TelemetryPath string
}

type Engine struct {
	api     MetadataAPI
	blobs   blobstore.Store
	states  *state.Store
	scanner manifest.Scanner
	prompt  prompt.UserPrompt
	opts    Options

	// per-run caches, reset by Reset
	rootHashes map[int]string
	username   string
}

func New(api MetadataAPI, blobs blobstore.Store, states *state.Store, scanner manifest.Scanner, up prompt.UserPrompt, opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = state.DefaultWorkers
	}
	return &Engine{
		api:        api,
		blobs:      blobs,
		states:     states,
		scanner:    scanner,
		prompt:     up,
		opts:       opts,
		rootHashes: make(map[int]string),
	}
}

// Reset clears the per-run hash cache. The dispatcher calls it before each
// sync command so stale hashes never leak between runs.
func (e *Engine) Reset() {
	e.rootHashes = make(map[int]string)
}

// SongResult is the per-song telemetry record.
type SongResult struct {
	SongID      int           `json:"song_id"`
	Song        string        `json:"song"`
	Verdict     string        `json:"verdict"`
	Transferred int64         `json:"transferred"`
	Failures    int           `json:"failures"`
	Elapsed     time.Duration `json:"elapsed"`
}

// ProjectResult aggregates one project's sync run.
type ProjectResult struct {
	ProjectID int
	Project   string
	Skipped   bool
	Songs     []*SongResult
}

// Failures sums per-file transfer failures across the run.
func (r *ProjectResult) Failures() int {
	total := 0
	for _, s := range r.Songs {
		total += s.Failures
	}
	return total
}

// SongDir resolves a song's on-disk directory under the source tree.
func (e *Engine) SongDir(project *studioapi.Project, song *studioapi.Song) string {
	if e.opts.NestedFolders {
		return filepath.Join(e.opts.SourceDir, project.Name, song.DirName())
	}
	return filepath.Join(e.opts.SourceDir, song.DirName())
}

// localRootHash returns the cached project-root hash for a song directory.
func (e *Engine) localRootHash(songID int, dir string) (string, error) {
	if hash, ok := e.rootHashes[songID]; ok {
		return hash, nil
	}
	hash, err := manifest.HashProjectRoot(dir)
	if err != nil {
		return "", fmt.Errorf("hash project root %s: %w", dir, err)
	}
	e.rootHashes[songID] = hash
	return hash, nil
}

func (e *Engine) user(ctx context.Context) string {
	if e.username != "" {
		return e.username
	}
	name, err := e.api.WhoAmI(ctx)
	if err != nil {
		slog.Warn("could not resolve username", "error", err)
		return "unknown"
	}
	e.username = name
	return name
}

// SyncProject locks the project, reconciles every sync-enabled song, syncs
// the amp-preset subtree, and releases the lock. A denied project lock
// returns LockDeniedError with no transfers done.
func (e *Engine) SyncProject(ctx context.Context, project *studioapi.Project) (result *ProjectResult, err error) {
	result = &ProjectResult{ProjectID: project.ID, Project: project.Name}
	if !project.SyncEnabled {
		result.Skipped = true
		return result, nil
	}

	if _, err := e.acquireLock(ctx, project.ID, project.Name, &studioapi.LockOptions{Reason: "Sync"}); err != nil {
		return nil, err
	}
	defer func() {
		if _, uerr := e.api.Unlock(ctx, project.ID, nil); uerr != nil {
			slog.Error("project unlock failed", "project", project.Name, "error", uerr)
			if err == nil {
				err = uerr
			}
		}
	}()

	for i := range project.Songs {
		song := &project.Songs[i]
		if !song.SyncEnabled {
			continue
		}
		// A checked-out song belongs to whoever holds it; its body is
		// never transferred from a batch sync.
		if song.IsLocked {
			slog.Info("song is checked out, skipping", "song", song.Name)
			result.Songs = append(result.Songs, &SongResult{
				SongID:  song.ID,
				Song:    song.Name,
				Verdict: "locked",
			})
			continue
		}
		res, serr := e.syncSong(ctx, project, song, nil)
		if serr != nil {
			return nil, serr
		}
		result.Songs = append(result.Songs, res)
	}

	if aerr := e.syncAmpPresets(ctx, project); aerr != nil {
		slog.Error("amp preset sync failed", "project", project.Name, "error", aerr)
	}

	return result, nil
}

// SyncSong reconciles one song without project-level locking. Callers hold
// the appropriate lock already.
func (e *Engine) SyncSong(ctx context.Context, project *studioapi.Project, song *studioapi.Song) (*SongResult, error) {
	return e.syncSong(ctx, project, song, nil)
}

func (e *Engine) syncSong(ctx context.Context, project *studioapi.Project, song *studioapi.Song, force *Verdict) (*SongResult, error) {
	start := time.Now()
	dir := e.SongDir(project, song)

	localHash, err := e.localRootHash(song.ID, dir)
	if err != nil {
		return nil, err
	}

	st, err := e.states.GetSongState(song.ID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		// First sight of this song. Seeding the known hash makes an
		// untouched local copy read as in-sync once revisions match.
		st = &state.SongState{
			SongID:    song.ID,
			ProjectID: project.ID,
			Revision:  0,
			KnownHash: localHash,
		}
	}

	verdict := Decide(st, song, localHash)
	if force != nil {
		verdict = *force
	}

	if verdict == VerdictConflict {
		choice, err := e.prompt.Conflict(ctx, song.Name)
		if err != nil {
			return nil, err
		}
		switch choice {
		case prompt.ConflictKeepLocal:
			verdict = VerdictLocal
		case prompt.ConflictKeepRemote:
			verdict = VerdictRemote
		default:
			verdict = VerdictNone
		}
		slog.Info("conflict resolved", "song", song.Name, "verdict", verdict)
	}

	if verdict == VerdictLocal && song.Archived {
		pull, err := e.prompt.ArchivedPush(ctx, song.Name)
		if err != nil {
			return nil, err
		}
		if pull {
			verdict = VerdictRemote
		} else {
			verdict = VerdictNone
		}
	}

	result := &SongResult{
		SongID:  song.ID,
		Song:    song.Name,
		Verdict: verdict.String(),
	}

	if verdict == VerdictNone {
		result.Elapsed = time.Since(start)
		return result, nil
	}

	if verdict == VerdictLocal {
		e.captureChangelog(ctx, dir, song)
	}

	transferred, failures, bothEmpty, err := e.transferSong(ctx, project, song, dir, verdict)
	if err != nil {
		return nil, err
	}
	if bothEmpty {
		// Neither side has any content yet. Committing state here would
		// bump the revision for a song that was never synced.
		result.Verdict = VerdictNone.String()
		result.Elapsed = time.Since(start)
		return result, nil
	}
	result.Transferred = transferred
	result.Failures = failures

	// Commit only after every transfer has finished.
	newHash, err := manifest.HashProjectRoot(dir)
	if err != nil {
		return nil, err
	}
	delete(e.rootHashes, song.ID)

	switch verdict {
	case VerdictLocal:
		st.Revision = song.Revision + 1
		st.KnownHash = newHash
		if err := e.states.SetSongState(st); err != nil {
			return nil, err
		}
		if err := e.api.RecordSync(ctx, project.ID, []int{song.ID}); err != nil {
			return nil, fmt.Errorf("record sync for %q: %w", song.Name, err)
		}
	case VerdictRemote:
		st.Revision = song.Revision
		st.KnownHash = newHash
		if err := e.states.SetSongState(st); err != nil {
			return nil, err
		}
	}

	result.Elapsed = time.Since(start)
	e.recordTelemetry(result)
	return result, nil
}

// recordTelemetry appends the song result as a JSON line when a telemetry
// file is configured.
func (e *Engine) recordTelemetry(res *SongResult) {
	if e.opts.TelemetryPath == "" {
		return
	}
	f, err := os.OpenFile(e.opts.TelemetryPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Warn("telemetry open failed", "path", e.opts.TelemetryPath, "error", err)
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(res); err != nil {
		slog.Warn("telemetry write failed", "error", err)
	}
}
