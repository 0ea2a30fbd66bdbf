// Package prompt defines the user-interaction capability the sync flows
// depend on. The daemon injects a console implementation; tests inject the
// stub.
package prompt

import "context"

// ConflictChoice is the user's answer to a sync conflict.
type ConflictChoice int

const (
	ConflictSkip ConflictChoice = iota
	ConflictKeepLocal
	ConflictKeepRemote
)

// CrashedChoice is the user's answer when a song turns out to be locked by
// this client already, meaning a prior sync crashed while holding it.
type CrashedChoice int

const (
	CrashedAbort CrashedChoice = iota
	CrashedProceed
	CrashedOverride
)

// UserPrompt is the dialog capability. Implementations block until the user
// answers; callers await them synchronously on the dispatcher goroutine.
type UserPrompt interface {
	// Conflict asks how to resolve a diverged song.
	Conflict(ctx context.Context, song string) (ConflictChoice, error)

	// ArchivedPush asks whether an archived song with local changes should
	// be downgraded to a pull. False means skip the song entirely.
	ArchivedPush(ctx context.Context, song string) (bool, error)

	// CrashedSync asks how to handle a stale self-lock.
	CrashedSync(ctx context.Context, target string, holder string, since string) (CrashedChoice, error)

	// Changelog asks for a summary of the local changes about to be pushed.
	// An empty string skips the changelog entry.
	Changelog(ctx context.Context, song string) (string, error)

	// Credentials asks for a username and password after a re-login demand.
	Credentials(ctx context.Context) (user string, pass string, err error)

	// Notify shows a non-blocking user-visible message.
	Notify(ctx context.Context, msg string)
}
