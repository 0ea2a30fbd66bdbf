package studioapi

import (
	"time"
)

// LockedBySelf is the sentinel identity the metadata service returns when the
// lock holder is the requesting client.
const LockedBySelf = "self"

// Project is a read-through copy of a metadata-service project.
type Project struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Songs       []Song `json:"songs"`
	SyncEnabled bool   `json:"sync_enabled"`
}

// Song is a read-through copy of a metadata-service song. Revision is the
// authoritative counter incremented on each accepted local to remote sync.
type Song struct {
	ID            int    `json:"id"`
	Project       int    `json:"project"`
	Name          string `json:"name"`
	DirectoryName string `json:"directory_name,omitempty"`
	Revision      int    `json:"revision"`
	IsLocked      bool   `json:"is_locked"`
	SyncEnabled   bool   `json:"sync_enabled"`
	Archived      bool   `json:"archived"`
}

// DirName resolves the on-disk directory for the song. DirectoryName
// overrides Name when set; every code path resolves through here.
func (s *Song) DirName() string {
	if s.DirectoryName != "" {
		return s.DirectoryName
	}
	return s.Name
}

// SongRef identifies a song inside a command payload.
type SongRef struct {
	Project int    `json:"project"`
	Song    int    `json:"song"`
	Name    string `json:"name,omitempty"`
}

// Lock is a cooperative exclusion record on a project or song. A response
// carrying a non-empty ID means the lock was granted to this client.
type Lock struct {
	ID       string     `json:"id,omitempty"`
	Status   string     `json:"status,omitempty"`
	LockedBy string     `json:"locked_by,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Granted reports whether the service issued the lock to us.
func (l *Lock) Granted() bool {
	return l != nil && l.ID != ""
}

// HeldBySelf reports whether the denial names this client as the holder,
// which means a prior sync crashed while holding it.
func (l *Lock) HeldBySelf() bool {
	return l != nil && l.LockedBy == LockedBySelf
}

// Expired reports whether the lock's until has passed. Expired locks are
// silently overridable.
func (l *Lock) Expired(now time.Time) bool {
	return l != nil && l.Until != nil && l.Until.Before(now)
}

// LockOptions carry the optional parameters of a lock request.
type LockOptions struct {
	// SongID submits the lock against a song inside the target project.
	SongID int
	Force  bool
	Reason string
	Until  *time.Time
}

// UnlockOptions carry the optional parameters of an unlock request.
type UnlockOptions struct {
	SongID int
	Force  bool
}

// Update is one entry from the client-update feed.
type Update struct {
	ID      int    `json:"id"`
	Version string `json:"version"`
	Target  string `json:"target"`
	URL     string `json:"url"`
}

// StorageCredentials are the vended object-store credentials.
type StorageCredentials struct {
	Access string `json:"access"`
	Secret string `json:"secret"`
}

// TokenPair is an access/refresh token pair issued by the auth endpoints.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}
