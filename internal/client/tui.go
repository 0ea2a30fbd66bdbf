package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/studiosync/studiosync/internal/client/engine"
	"github.com/studiosync/studiosync/internal/studioapi"
)

// checkoutWindow is the lock expiry used for interactive checkouts. The
// workon command takes no expiry; the console flow caps a session instead.
const checkoutWindow = 8 * time.Hour

var (
	tuiTitle = color.New(color.FgHiCyan, color.Bold).SprintFunc()
	tuiWarn  = color.New(color.FgHiYellow).SprintFunc()
	tuiErr   = color.New(color.FgHiRed).SprintFunc()
)

// RunOnce performs a full sync of every project and returns. Used by the
// --sync flag.
func (a *App) RunOnce(ctx context.Context) error {
	eng, err := a.newEngine()
	if err != nil {
		return err
	}
	eng.Reset()

	projects, err := a.api.ListProjects(ctx)
	if err != nil {
		return err
	}

	for _, project := range projects {
		result, err := eng.SyncProject(ctx, project)
		if err != nil {
			var denied *engine.LockDeniedError
			if errors.As(err, &denied) {
				fmt.Println(tuiWarn(fmt.Sprintf("skipped %s: locked by %s", project.Name, denied.Lock.LockedBy)))
				continue
			}
			return err
		}
		if result.Skipped {
			continue
		}
		fmt.Printf("%s: %d song(s) reconciled\n", project.Name, len(result.Songs))
	}
	return nil
}

// RunTUI drives the interactive console flow instead of the service loop.
func (a *App) RunTUI(ctx context.Context) error {
	eng, err := a.newEngine()
	if err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)
	fmt.Println(tuiTitle("StudioSync interactive mode"))

	for {
		projects, err := a.api.ListProjects(ctx)
		if err != nil {
			return err
		}

		fmt.Println("\nProjects:")
		for _, p := range projects {
			fmt.Printf("  [%d] %s (%d songs)\n", p.ID, p.Name, len(p.Songs))
		}
		fmt.Print("\n[s]ync all, [c]heckout <song-id>, [r]elease <song-id>, [q]uit: ")

		line, err := in.ReadString('\n')
		if err != nil {
			return nil
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "q":
			return nil
		case "s":
			eng.Reset()
			for _, project := range projects {
				if _, err := eng.SyncProject(ctx, project); err != nil {
					fmt.Println(tuiErr(err.Error()))
				}
			}
		case "c", "r":
			if len(fields) < 2 {
				fmt.Println(tuiWarn("song id required"))
				continue
			}
			songID, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println(tuiWarn("bad song id"))
				continue
			}
			project, song := findSong(projects, songID)
			if song == nil {
				fmt.Println(tuiWarn("unknown song"))
				continue
			}

			eng.Reset()
			if fields[0] == "c" {
				until := time.Now().Add(checkoutWindow)
				if _, err := eng.Checkout(ctx, project, song, &until); err != nil {
					fmt.Println(tuiErr(err.Error()))
					continue
				}
				fmt.Printf("checked out %q until %s\n", song.Name, until.Format(time.Kitchen))
			} else {
				if _, err := eng.Release(ctx, project, song, false); err != nil {
					fmt.Println(tuiErr(err.Error()))
					continue
				}
				fmt.Printf("released %q\n", song.Name)
			}
		}
	}
}

func findSong(projects []*studioapi.Project, songID int) (*studioapi.Project, *studioapi.Song) {
	for _, p := range projects {
		for i := range p.Songs {
			if p.Songs[i].ID == songID {
				return p, &p.Songs[i]
			}
		}
	}
	return nil, nil
}
