// Package updater holds the periodic update check and the external updater
// invocation. Download/extract/relaunch mechanics stay outside the daemon.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/imroc/req/v3"

	"github.com/studiosync/studiosync/internal/studioapi"
	"github.com/studiosync/studiosync/internal/version"
)

// checkInterval is how often the feed is consulted.
const checkInterval = 12 * time.Hour

// UpdateFeed is the slice of the metadata client the checker consumes.
type UpdateFeed interface {
	ListClientUpdates(ctx context.Context, target string) ([]*studioapi.Update, error)
}

// Checker polls the update feed and enqueues an update command when a newer
// release exists.
type Checker struct {
	feed    UpdateFeed
	enqueue func()
}

func NewChecker(feed UpdateFeed, enqueue func()) *Checker {
	return &Checker{
		feed:    feed,
		enqueue: enqueue,
	}
}

func (c *Checker) Start(ctx context.Context) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		c.checkOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Checker) checkOnce(ctx context.Context) {
	updates, err := c.feed.ListClientUpdates(ctx, version.Target())
	if err != nil {
		slog.Warn("update check failed", "error", err)
		return
	}
	for _, u := range updates {
		if version.IsNewer(u.Version) {
			slog.Info("client update available", "version", u.Version)
			c.enqueue()
			return
		}
	}
}

// ExecUpdater downloads the update package and hands it to the OS. The
// daemon exits right after; the installer relaunches it.
type ExecUpdater struct {
	http *req.Client
}

func NewExecUpdater() *ExecUpdater {
	return &ExecUpdater{
		http: req.C().SetTimeout(5 * time.Minute),
	}
}

func (u *ExecUpdater) Apply(ctx context.Context, update *studioapi.Update) error {
	dest := filepath.Join(os.TempDir(), fmt.Sprintf("studiosync-update-%s%s", update.Version, filepath.Ext(update.URL)))

	resp, err := u.http.R().
		SetContext(ctx).
		SetOutputFile(dest).
		Get(update.URL)
	if err != nil {
		return fmt.Errorf("download update: %w", err)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("download update: %s", resp.Status)
	}

	cmd := exec.Command(dest)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch updater: %w", err)
	}
	slog.Info("updater launched", "package", dest, "pid", cmd.Process.Pid)
	return nil
}
