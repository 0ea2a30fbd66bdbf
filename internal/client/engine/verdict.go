package engine

import (
	"github.com/studiosync/studiosync/internal/client/state"
	"github.com/studiosync/studiosync/internal/studioapi"
)

// Verdict is the per-song reconciliation decision.
type Verdict int

const (
	// VerdictNone means local and remote agree; nothing to transfer.
	VerdictNone Verdict = iota
	// VerdictLocal means push local changes to the store.
	VerdictLocal
	// VerdictRemote means pull the remote copy down.
	VerdictRemote
	// VerdictConflict means both sides changed; the user decides.
	VerdictConflict
)

func (v Verdict) String() string {
	switch v {
	case VerdictLocal:
		return "local"
	case VerdictRemote:
		return "remote"
	case VerdictConflict:
		return "conflict"
	default:
		return "none"
	}
}

// Decide computes the verdict from the durable song state, the remote song
// record, and the current local project-root hash. An empty localHash means
// there is no local copy.
func Decide(st *state.SongState, song *studioapi.Song, localHash string) Verdict {
	if localHash == "" {
		return VerdictRemote
	}

	known := st.KnownHash
	switch {
	case song.Revision == st.Revision && localHash == known:
		return VerdictNone
	case song.Revision == st.Revision:
		return VerdictLocal
	case song.Revision > st.Revision && localHash == known:
		return VerdictRemote
	case song.Revision > st.Revision:
		return VerdictConflict
	default: // song.Revision < st.Revision, receipt still pending
		return VerdictLocal
	}
}
