package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/studiosync/studiosync/internal/studioapi"
)

const changelogFile = "changelog.txt"

// changelogHeader renders the entry separator line. The format is shared
// with older clients, so readers can parse entries back out.
func changelogHeader(user string, at time.Time) string {
	return fmt.Sprintf("-- %s: %s --", user, at.Format("15:04:05 01-02-2006"))
}

// captureChangelog asks the user to summarize the changes about to be
// pushed and prepends the entry to the song's changelog.txt. Declining or
// failing to write never aborts the sync.
func (e *Engine) captureChangelog(ctx context.Context, dir string, song *studioapi.Song) {
	summary, err := e.prompt.Changelog(ctx, song.Name)
	if err != nil || summary == "" {
		return
	}

	path := filepath.Join(dir, changelogFile)
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("changelog read failed", "path", path, "error", err)
		return
	}

	entry := fmt.Sprintf("%s\n%s\n\n", changelogHeader(e.user(ctx), time.Now()), summary)
	if err := os.WriteFile(path, append([]byte(entry), existing...), 0o644); err != nil {
		slog.Warn("changelog write failed", "path", path, "error", err)
	}
}
