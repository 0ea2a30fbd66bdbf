package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Open())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSongStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	st, err := s.GetSongState(10)
	require.NoError(t, err)
	assert.Nil(t, st)

	require.NoError(t, s.SetSongState(&SongState{
		SongID:    10,
		ProjectID: 1,
		Revision:  3,
		KnownHash: "abc",
	}))

	st, err = s.GetSongState(10)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 3, st.Revision)
	assert.Equal(t, "abc", st.KnownHash)

	// Replace, not append.
	st.Revision = 4
	require.NoError(t, s.SetSongState(st))

	byProject, err := s.ProjectSongStates(1)
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, 4, byProject[10].Revision)
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)

	v, err := s.Setting(KeySourcePath)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetSetting(KeySourcePath, "/music"))
	v, err = s.Setting(KeySourcePath)
	require.NoError(t, err)
	assert.Equal(t, "/music", v)

	assert.Equal(t, DefaultWorkers, s.Workers())
	require.NoError(t, s.SetSetting(KeyWorkers, "4"))
	assert.Equal(t, 4, s.Workers())
	require.NoError(t, s.SetSetting(KeyWorkers, "garbage"))
	assert.Equal(t, DefaultWorkers, s.Workers())

	assert.False(t, s.NestedFolders())
	require.NoError(t, s.SetSetting(KeyNestedFolders, "1"))
	assert.True(t, s.NestedFolders())
}

func TestTokens(t *testing.T) {
	s := newTestStore(t)

	access, refresh := s.Tokens()
	assert.Empty(t, access)
	assert.Empty(t, refresh)

	require.NoError(t, s.SetTokens("acc", "ref"))
	access, refresh = s.Tokens()
	assert.Equal(t, "acc", access)
	assert.Equal(t, "ref", refresh)
}

func TestAudioState(t *testing.T) {
	s := newTestStore(t)

	st, err := s.GetAudioState("/renders/mix.wav")
	require.NoError(t, err)
	assert.Nil(t, st)

	uploaded := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.SetAudioState(&AudioState{
		Path:       "/renders/mix.wav",
		Hash:       "h1",
		LastUpload: uploaded,
	}))

	st, err = s.GetAudioState("/renders/mix.wav")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "h1", st.Hash)
	assert.True(t, st.LastUpload.Equal(uploaded))

	byHash, err := s.FindAudioStateByHash("h1")
	require.NoError(t, err)
	require.NotNil(t, byHash)
	assert.Equal(t, "/renders/mix.wav", byHash.Path)

	require.NoError(t, s.DeleteAudioState("/renders/mix.wav"))
	st, err = s.GetAudioState("/renders/mix.wav")
	require.NoError(t, err)
	assert.Nil(t, st)
}
