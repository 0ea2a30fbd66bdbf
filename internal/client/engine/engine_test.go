package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiosync/studiosync/internal/blobstore"
	"github.com/studiosync/studiosync/internal/client/manifest"
	"github.com/studiosync/studiosync/internal/client/prompt"
	"github.com/studiosync/studiosync/internal/client/state"
	"github.com/studiosync/studiosync/internal/studioapi"
)

type receipt struct {
	projectID int
	songIDs   []int
}

// fakeAPI is an in-memory metadata service. Locks are granted unless a
// canned denial is registered; Force overrides any denial.
type fakeAPI struct {
	projects map[int]*studioapi.Project
	denials  map[string]*studioapi.Lock
	locks    []string
	unlocks  []string
	receipts []receipt
	syncErr  error
	user     string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		projects: make(map[int]*studioapi.Project),
		denials:  make(map[string]*studioapi.Lock),
		user:     "dave",
	}
}

func lockKey(projectID, songID int) string {
	if songID != 0 {
		return fmt.Sprintf("song:%d", songID)
	}
	return fmt.Sprintf("project:%d", projectID)
}

func (f *fakeAPI) GetProject(ctx context.Context, id int) (*studioapi.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %d not found", id)
	}
	return p, nil
}

func (f *fakeAPI) GetSong(ctx context.Context, id int) (*studioapi.Song, error) {
	for _, p := range f.projects {
		for i := range p.Songs {
			if p.Songs[i].ID == id {
				return &p.Songs[i], nil
			}
		}
	}
	return nil, fmt.Errorf("song %d not found", id)
}

func (f *fakeAPI) Lock(ctx context.Context, projectID int, opts *studioapi.LockOptions) (*studioapi.Lock, error) {
	if opts == nil {
		opts = &studioapi.LockOptions{}
	}
	key := lockKey(projectID, opts.SongID)
	if denial, ok := f.denials[key]; ok && !opts.Force {
		return denial, nil
	}
	f.locks = append(f.locks, key)
	return &studioapi.Lock{ID: "lock-" + key, Status: "locked", LockedBy: studioapi.LockedBySelf}, nil
}

func (f *fakeAPI) Unlock(ctx context.Context, projectID int, opts *studioapi.UnlockOptions) (*studioapi.Lock, error) {
	if opts == nil {
		opts = &studioapi.UnlockOptions{}
	}
	key := lockKey(projectID, opts.SongID)
	f.unlocks = append(f.unlocks, key)
	return &studioapi.Lock{Status: "unlocked"}, nil
}

func (f *fakeAPI) RecordSync(ctx context.Context, projectID int, songIDs []int) error {
	if f.syncErr != nil {
		return f.syncErr
	}
	f.receipts = append(f.receipts, receipt{projectID: projectID, songIDs: songIDs})
	return nil
}

func (f *fakeAPI) WhoAmI(ctx context.Context) (string, error) {
	return f.user, nil
}

type fixture struct {
	api    *fakeAPI
	blobs  *blobstore.MemoryStore
	states *state.Store
	prompt *prompt.Stub
	eng    *Engine
	source string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	states, err := state.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, states.Open())
	t.Cleanup(func() { states.Close() })

	f := &fixture{
		api:    newFakeAPI(),
		blobs:  blobstore.NewMemoryStore(),
		states: states,
		prompt: &prompt.Stub{},
		source: t.TempDir(),
	}
	f.eng = New(f.api, f.blobs, f.states, manifest.NewWalkScanner(), f.prompt, Options{
		SourceDir: f.source,
		Workers:   4,
	})
	return f
}

func (f *fixture) project(rev int) *studioapi.Project {
	p := &studioapi.Project{
		ID:          1,
		Name:        "Demos",
		SyncEnabled: true,
		Songs: []studioapi.Song{{
			ID:          10,
			Project:     1,
			Name:        "Anthem",
			Revision:    rev,
			SyncEnabled: true,
		}},
	}
	f.api.projects[1] = p
	return p
}

func (f *fixture) songDir() string {
	return filepath.Join(f.source, "Anthem")
}

func (f *fixture) writeLocal(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(f.songDir(), name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) rootHash(t *testing.T) string {
	t.Helper()
	hash, err := manifest.HashProjectRoot(f.songDir())
	require.NoError(t, err)
	return hash
}

func TestSyncSongFreshClone(t *testing.T) {
	f := newFixture(t)
	p := f.project(3)
	f.blobs.Put("1/10/mix.cpr", []byte("remote session v3"))
	f.blobs.Put("1/10/Audio/kick.wav", []byte("pcm"))

	res, err := f.eng.SyncSong(context.Background(), p, &p.Songs[0])
	require.NoError(t, err)
	assert.Equal(t, "remote", res.Verdict)

	// Remote objects landed on disk.
	data, err := os.ReadFile(filepath.Join(f.songDir(), "mix.cpr"))
	require.NoError(t, err)
	assert.Equal(t, "remote session v3", string(data))

	st, err := f.states.GetSongState(10)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 3, st.Revision)
	assert.Equal(t, f.rootHash(t), st.KnownHash)

	// Pulls emit no receipt.
	assert.Empty(t, f.api.receipts)
}

func TestSyncSongLocalEdit(t *testing.T) {
	f := newFixture(t)
	p := f.project(3)
	f.writeLocal(t, "mix.cpr", "local session v4")
	require.NoError(t, f.states.SetSongState(&state.SongState{
		SongID: 10, ProjectID: 1, Revision: 3, KnownHash: "stale",
	}))
	f.prompt.ChangelogAnswer = "rode the fader on the bridge"

	res, err := f.eng.SyncSong(context.Background(), p, &p.Songs[0])
	require.NoError(t, err)
	assert.Equal(t, "local", res.Verdict)

	// The session and the captured changelog were pushed.
	_, ok := f.blobs.Get("1/10/mix.cpr")
	assert.True(t, ok)
	log, ok := f.blobs.Get("1/10/changelog.txt")
	require.True(t, ok)
	assert.Contains(t, string(log), "dave")
	assert.Contains(t, string(log), "rode the fader on the bridge")

	st, err := f.states.GetSongState(10)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Revision)
	assert.Equal(t, f.rootHash(t), st.KnownHash)

	require.Len(t, f.api.receipts, 1)
	assert.Equal(t, 1, f.api.receipts[0].projectID)
	assert.Equal(t, []int{10}, f.api.receipts[0].songIDs)
}

func TestSyncSongRemoteEdit(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "mix.cpr", "session v3")
	p := f.project(4)
	f.blobs.Put("1/10/mix.cpr", []byte("session v4"))
	require.NoError(t, f.states.SetSongState(&state.SongState{
		SongID: 10, ProjectID: 1, Revision: 3, KnownHash: f.rootHash(t),
	}))

	res, err := f.eng.SyncSong(context.Background(), p, &p.Songs[0])
	require.NoError(t, err)
	assert.Equal(t, "remote", res.Verdict)

	data, err := os.ReadFile(filepath.Join(f.songDir(), "mix.cpr"))
	require.NoError(t, err)
	assert.Equal(t, "session v4", string(data))

	st, err := f.states.GetSongState(10)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Revision)
	assert.Equal(t, f.rootHash(t), st.KnownHash)
	assert.Empty(t, f.api.receipts)
}

func TestSyncSongIdempotent(t *testing.T) {
	f := newFixture(t)
	f.writeLocal(t, "mix.cpr", "session v3")
	p := f.project(3)
	require.NoError(t, f.states.SetSongState(&state.SongState{
		SongID: 10, ProjectID: 1, Revision: 3, KnownHash: f.rootHash(t),
	}))

	f.eng.Reset()
	res, err := f.eng.SyncSong(context.Background(), p, &p.Songs[0])
	require.NoError(t, err)
	assert.Equal(t, "none", res.Verdict)
	assert.Zero(t, res.Transferred)

	f.eng.Reset()
	res, err = f.eng.SyncSong(context.Background(), p, &p.Songs[0])
	require.NoError(t, err)
	assert.Equal(t, "none", res.Verdict)
	assert.Zero(t, res.Transferred)
}

func TestSyncSongBothSidesEmpty(t *testing.T) {
	f := newFixture(t)
	p := f.project(2)

	res, err := f.eng.SyncSong(context.Background(), p, &p.Songs[0])
	require.NoError(t, err)
	assert.Equal(t, "none", res.Verdict)
	assert.Zero(t, res.Transferred)

	// A song with no content on either side leaves no state row behind.
	st, err := f.states.GetSongState(10)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestSyncSongConflict(t *testing.T) {
	seed := func(t *testing.T, f *fixture) *studioapi.Project {
		f.writeLocal(t, "mix.cpr", "local divergent")
		p := f.project(4)
		f.blobs.Put("1/10/mix.cpr", []byte("remote divergent"))
		require.NoError(t, f.states.SetSongState(&state.SongState{
			SongID: 10, ProjectID: 1, Revision: 3, KnownHash: "old",
		}))
		return p
	}

	t.Run("skip", func(t *testing.T) {
		f := newFixture(t)
		p := seed(t, f)
		f.prompt.ConflictAnswer = prompt.ConflictSkip

		res, err := f.eng.SyncSong(context.Background(), p, &p.Songs[0])
		require.NoError(t, err)
		assert.Equal(t, "none", res.Verdict)

		// No mutation of any kind.
		st, err := f.states.GetSongState(10)
		require.NoError(t, err)
		assert.Equal(t, 3, st.Revision)
		assert.Equal(t, "old", st.KnownHash)
	})

	t.Run("keep local", func(t *testing.T) {
		f := newFixture(t)
		p := seed(t, f)
		f.prompt.ConflictAnswer = prompt.ConflictKeepLocal

		res, err := f.eng.SyncSong(context.Background(), p, &p.Songs[0])
		require.NoError(t, err)
		assert.Equal(t, "local", res.Verdict)

		data, _ := f.blobs.Get("1/10/mix.cpr")
		assert.Equal(t, "local divergent", string(data))

		st, _ := f.states.GetSongState(10)
		assert.Equal(t, 5, st.Revision)
		require.Len(t, f.api.receipts, 1)
	})

	t.Run("keep remote", func(t *testing.T) {
		f := newFixture(t)
		p := seed(t, f)
		f.prompt.ConflictAnswer = prompt.ConflictKeepRemote

		res, err := f.eng.SyncSong(context.Background(), p, &p.Songs[0])
		require.NoError(t, err)
		assert.Equal(t, "remote", res.Verdict)

		data, err := os.ReadFile(filepath.Join(f.songDir(), "mix.cpr"))
		require.NoError(t, err)
		assert.Equal(t, "remote divergent", string(data))

		st, _ := f.states.GetSongState(10)
		assert.Equal(t, 4, st.Revision)
		assert.Empty(t, f.api.receipts)
	})
}

func TestSyncSongArchivedRefusesPush(t *testing.T) {
	f := newFixture(t)
	p := f.project(3)
	p.Songs[0].Archived = true
	f.writeLocal(t, "mix.cpr", "local edit")
	require.NoError(t, f.states.SetSongState(&state.SongState{
		SongID: 10, ProjectID: 1, Revision: 3, KnownHash: "old",
	}))

	// Declining the downgrade skips the song.
	f.prompt.ArchivedAnswer = false
	res, err := f.eng.SyncSong(context.Background(), p, &p.Songs[0])
	require.NoError(t, err)
	assert.Equal(t, "none", res.Verdict)
	_, pushed := f.blobs.Get("1/10/mix.cpr")
	assert.False(t, pushed)
}

func TestSyncProjectLockDenied(t *testing.T) {
	f := newFixture(t)
	p := f.project(3)
	until := time.Now().Add(time.Hour)
	since := time.Now().Add(-time.Hour)
	f.api.denials["project:1"] = &studioapi.Lock{
		Status:   "locked",
		LockedBy: "alice",
		Since:    &since,
		Until:    &until,
	}

	_, err := f.eng.SyncProject(context.Background(), p)
	var denied *LockDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "alice", denied.Lock.LockedBy)

	// No transfers, no lock, no unlock, no state.
	assert.Empty(t, f.api.locks)
	assert.Empty(t, f.api.unlocks)
	st, err := f.states.GetSongState(10)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestSyncProjectExpiredLockOverridden(t *testing.T) {
	f := newFixture(t)
	p := f.project(3)
	f.writeLocal(t, "mix.cpr", "session v3")
	require.NoError(t, f.states.SetSongState(&state.SongState{
		SongID: 10, ProjectID: 1, Revision: 3, KnownHash: f.rootHash(t),
	}))

	past := time.Now().Add(-time.Minute)
	f.api.denials["project:1"] = &studioapi.Lock{
		Status:   "locked",
		LockedBy: "alice",
		Until:    &past,
	}

	result, err := f.eng.SyncProject(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, result.Songs, 1)
	assert.Equal(t, []string{"project:1"}, f.api.locks)
	assert.Equal(t, []string{"project:1"}, f.api.unlocks)
}

func TestSyncProjectSelfLockPrompts(t *testing.T) {
	f := newFixture(t)
	p := f.project(3)
	f.writeLocal(t, "mix.cpr", "session v3")
	require.NoError(t, f.states.SetSongState(&state.SongState{
		SongID: 10, ProjectID: 1, Revision: 3, KnownHash: f.rootHash(t),
	}))

	since := time.Now().Add(-time.Hour)
	f.api.denials["project:1"] = &studioapi.Lock{
		Status:   "locked",
		LockedBy: studioapi.LockedBySelf,
		Since:    &since,
	}

	// Abort leaves the lock alone.
	f.prompt.CrashedAnswer = prompt.CrashedAbort
	_, err := f.eng.SyncProject(context.Background(), p)
	var denied *LockDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Empty(t, f.api.locks)

	// Proceed reclaims it with force.
	f.prompt.CrashedAnswer = prompt.CrashedProceed
	_, err = f.eng.SyncProject(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"project:1"}, f.api.locks)
	assert.Equal(t, []string{"project:1"}, f.api.unlocks)
}

func TestSyncProjectUnlocksOnError(t *testing.T) {
	f := newFixture(t)
	p := f.project(3)
	f.writeLocal(t, "mix.cpr", "local edit")
	require.NoError(t, f.states.SetSongState(&state.SongState{
		SongID: 10, ProjectID: 1, Revision: 3, KnownHash: "old",
	}))
	f.api.syncErr = fmt.Errorf("service down")

	_, err := f.eng.SyncProject(context.Background(), p)
	require.Error(t, err)

	// The project lock was released despite the failure.
	assert.Equal(t, []string{"project:1"}, f.api.locks)
	assert.Equal(t, []string{"project:1"}, f.api.unlocks)
}

func TestSyncProjectSkipsCheckedOutSong(t *testing.T) {
	f := newFixture(t)
	p := f.project(3)
	p.Songs[0].IsLocked = true
	f.writeLocal(t, "mix.cpr", "edit made while checked out")
	require.NoError(t, f.states.SetSongState(&state.SongState{
		SongID: 10, ProjectID: 1, Revision: 3, KnownHash: "old",
	}))

	result, err := f.eng.SyncProject(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, result.Songs, 1)
	assert.Equal(t, "locked", result.Songs[0].Verdict)

	// The checked-out body was neither pushed nor committed.
	_, pushed := f.blobs.Get("1/10/mix.cpr")
	assert.False(t, pushed)
	st, err := f.states.GetSongState(10)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Revision)
	assert.Equal(t, "old", st.KnownHash)
	assert.Empty(t, f.api.receipts)
}

func TestCheckoutAndRelease(t *testing.T) {
	f := newFixture(t)
	p := f.project(4)
	f.writeLocal(t, "mix.cpr", "local wip")
	f.blobs.Put("1/10/mix.cpr", []byte("remote v4"))
	require.NoError(t, f.states.SetSongState(&state.SongState{
		SongID: 10, ProjectID: 1, Revision: 4, KnownHash: f.rootHash(t),
	}))

	_, err := f.eng.Checkout(context.Background(), p, &p.Songs[0], nil)
	require.NoError(t, err)

	// Project lock taken and released; song lock retained.
	assert.Equal(t, []string{"project:1", "song:10"}, f.api.locks)
	assert.Equal(t, []string{"project:1"}, f.api.unlocks)

	// Release with undo discards local edits in favor of the remote copy.
	f.eng.Reset()
	res, err := f.eng.Release(context.Background(), p, &p.Songs[0], true)
	require.NoError(t, err)
	assert.Equal(t, "remote", res.Verdict)

	data, err := os.ReadFile(filepath.Join(f.songDir(), "mix.cpr"))
	require.NoError(t, err)
	assert.Equal(t, "remote v4", string(data))

	st, _ := f.states.GetSongState(10)
	assert.Equal(t, 4, st.Revision)
	assert.Equal(t, []string{"project:1", "song:10"}, f.api.unlocks)
}

func TestSongDirRespectsOverrides(t *testing.T) {
	f := newFixture(t)
	p := f.project(1)
	song := &p.Songs[0]

	assert.Equal(t, filepath.Join(f.source, "Anthem"), f.eng.SongDir(p, song))

	song.DirectoryName = "anthem_v2"
	assert.Equal(t, filepath.Join(f.source, "anthem_v2"), f.eng.SongDir(p, song))

	nested := New(f.api, f.blobs, f.states, manifest.NewWalkScanner(), f.prompt, Options{
		SourceDir:     f.source,
		NestedFolders: true,
		Workers:       1,
	})
	assert.Equal(t, filepath.Join(f.source, "Demos", "anthem_v2"), nested.SongDir(p, song))
}
