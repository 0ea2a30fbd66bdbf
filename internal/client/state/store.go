// Package state is the durable key/value store for the daemon: per-song
// sync state, runtime settings, auth tokens, and audio-watcher bookkeeping.
// Writes happen only on the dispatcher goroutine, except for the audio
// tables which belong to the watcher.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/studiosync/studiosync/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS song_state (
    song_id INTEGER PRIMARY KEY,
    project_id INTEGER NOT NULL,
    revision INTEGER NOT NULL,
    known_hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_song_state_project ON song_state(project_id);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audio_state (
    path TEXT PRIMARY KEY,
    hash TEXT NOT NULL,
    last_upload TEXT NOT NULL -- RFC3339
);
`

// Settings keys. Tokens are opaque strings owned by the metadata client.
const (
	KeyAccessToken   = "access_token"
	KeyRefreshToken  = "refresh_token"
	KeyUsername      = "username"
	KeySourcePath    = "source_path"
	KeyAudioPath     = "audio_path"
	KeyNestedFolders = "nested_folders"
	KeyWorkers       = "workers"
	KeyTelemetryPath = "telemetry_path"
	KeyLastVersion   = "last_version"
)

// DefaultWorkers is the transfer pool width when none is configured.
const DefaultWorkers = 25

// SongState is the durable per-song record: the server revision observed at
// the last successful sync and the content hash as of that moment.
type SongState struct {
	SongID    int    `db:"song_id"`
	ProjectID int    `db:"project_id"`
	Revision  int    `db:"revision"`
	KnownHash string `db:"known_hash"`
}

type Store struct {
	db     *sqlx.DB
	dbPath string
}

// NewStore creates a Store backed by the SQLite database at dbPath.
// Use ":memory:" for tests.
func NewStore(dbPath string) (*Store, error) {
	return &Store{dbPath: dbPath}, nil
}

func (s *Store) Open() error {
	if s.db != nil {
		return errors.New("state store already open")
	}

	sdb, err := db.NewSqliteDb(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}

	if _, err := sdb.Exec(schema); err != nil {
		sdb.Close()
		return fmt.Errorf("initialize state schema: %w", err)
	}

	s.db = sdb
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return errors.New("state store not open")
	}
	return s.db.Close()
}

// GetSongState returns the record for a song, or nil when the song has
// never been seen.
func (s *Store) GetSongState(songID int) (*SongState, error) {
	var st SongState
	err := s.db.Get(&st, "SELECT song_id, project_id, revision, known_hash FROM song_state WHERE song_id = ?", songID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query song state %d: %w", songID, err)
	}
	return &st, nil
}

// SetSongState inserts or replaces the record for a song.
func (s *Store) SetSongState(st *SongState) error {
	if st == nil {
		return errors.New("cannot set nil song state")
	}
	_, err := s.db.NamedExec(
		`INSERT OR REPLACE INTO song_state (song_id, project_id, revision, known_hash)
		 VALUES (:song_id, :project_id, :revision, :known_hash)`, st)
	if err != nil {
		return fmt.Errorf("set song state %d: %w", st.SongID, err)
	}
	return nil
}

// ProjectSongStates returns every record for a project keyed by song id.
func (s *Store) ProjectSongStates(projectID int) (map[int]*SongState, error) {
	var rows []SongState
	err := s.db.Select(&rows, "SELECT song_id, project_id, revision, known_hash FROM song_state WHERE project_id = ?", projectID)
	if err != nil {
		return nil, fmt.Errorf("query project states %d: %w", projectID, err)
	}
	out := make(map[int]*SongState, len(rows))
	for i := range rows {
		out[rows[i].SongID] = &rows[i]
	}
	return out, nil
}

// Setting returns the value for key, or "" when unset.
func (s *Store) Setting(key string) (string, error) {
	var value string
	err := s.db.Get(&value, "SELECT value FROM settings WHERE key = ?", key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query setting %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// Workers returns the configured transfer pool width.
func (s *Store) Workers() int {
	v, err := s.Setting(KeyWorkers)
	if err != nil || v == "" {
		return DefaultWorkers
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return DefaultWorkers
	}
	return n
}

// NestedFolders reports whether the on-disk layout is <project>/<song>
// rather than a flat <song>.
func (s *Store) NestedFolders() bool {
	v, _ := s.Setting(KeyNestedFolders)
	return v == "1" || v == "true"
}

// Tokens implements studioapi.TokenStore.
func (s *Store) Tokens() (string, string) {
	access, _ := s.Setting(KeyAccessToken)
	refresh, _ := s.Setting(KeyRefreshToken)
	return access, refresh
}

// SetTokens implements studioapi.TokenStore.
func (s *Store) SetTokens(access, refresh string) error {
	if err := s.SetSetting(KeyAccessToken, access); err != nil {
		return err
	}
	return s.SetSetting(KeyRefreshToken, refresh)
}

// AudioState is the watcher's durable per-path record.
type AudioState struct {
	Path       string
	Hash       string
	LastUpload time.Time
}

type dbAudioState struct {
	Path       string `db:"path"`
	Hash       string `db:"hash"`
	LastUpload string `db:"last_upload"`
}

// GetAudioState returns the record for a watched path, or nil when unseen.
func (s *Store) GetAudioState(path string) (*AudioState, error) {
	var row dbAudioState
	err := s.db.Get(&row, "SELECT path, hash, last_upload FROM audio_state WHERE path = ?", path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query audio state %s: %w", path, err)
	}

	uploaded, err := time.Parse(time.RFC3339, row.LastUpload)
	if err != nil {
		return nil, fmt.Errorf("parse stored timestamp for %s: %w", path, err)
	}
	return &AudioState{Path: row.Path, Hash: row.Hash, LastUpload: uploaded}, nil
}

// SetAudioState inserts or replaces the record for a watched path.
func (s *Store) SetAudioState(st *AudioState) error {
	if st == nil {
		return errors.New("cannot set nil audio state")
	}
	_, err := s.db.NamedExec(
		`INSERT OR REPLACE INTO audio_state (path, hash, last_upload)
		 VALUES (:path, :hash, :last_upload)`,
		dbAudioState{
			Path:       st.Path,
			Hash:       st.Hash,
			LastUpload: st.LastUpload.Format(time.RFC3339),
		})
	if err != nil {
		return fmt.Errorf("set audio state %s: %w", st.Path, err)
	}
	return nil
}

// FindAudioStateByHash returns a record with the given content hash, or nil.
// The watcher uses it to recognize renames of already-uploaded files.
func (s *Store) FindAudioStateByHash(hash string) (*AudioState, error) {
	var row dbAudioState
	err := s.db.Get(&row, "SELECT path, hash, last_upload FROM audio_state WHERE hash = ? LIMIT 1", hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query audio state by hash: %w", err)
	}

	uploaded, err := time.Parse(time.RFC3339, row.LastUpload)
	if err != nil {
		return nil, fmt.Errorf("parse stored timestamp for %s: %w", row.Path, err)
	}
	return &AudioState{Path: row.Path, Hash: row.Hash, LastUpload: uploaded}, nil
}

// DeleteAudioState removes the record for a watched path.
func (s *Store) DeleteAudioState(path string) error {
	_, err := s.db.Exec("DELETE FROM audio_state WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("delete audio state %s: %w", path, err)
	}
	return nil
}
