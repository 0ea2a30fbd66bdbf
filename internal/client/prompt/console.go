package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	promptColor = color.New(color.FgHiCyan).SprintFunc()
	warnColor   = color.New(color.FgHiYellow, color.Bold).SprintFunc()
)

// Console is the interactive terminal implementation used with --tui.
type Console struct {
	in  *bufio.Reader
	out io.Writer
}

func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		in:  bufio.NewReader(in),
		out: out,
	}
}

func (c *Console) ask(question string) (string, error) {
	fmt.Fprintf(c.out, "%s ", promptColor(question))
	line, err := c.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *Console) Conflict(ctx context.Context, song string) (ConflictChoice, error) {
	fmt.Fprintln(c.out, warnColor(fmt.Sprintf("Both you and someone else changed %q since the last sync.", song)))
	for {
		answer, err := c.ask("[k]eep local / take [r]emote / [s]kip?")
		if err != nil {
			return ConflictSkip, err
		}
		switch strings.ToLower(answer) {
		case "k":
			return ConflictKeepLocal, nil
		case "r":
			return ConflictKeepRemote, nil
		case "s", "":
			return ConflictSkip, nil
		}
	}
}

func (c *Console) ArchivedPush(ctx context.Context, song string) (bool, error) {
	answer, err := c.ask(fmt.Sprintf("%q is archived and cannot be pushed. Pull the remote copy instead? [y/N]", song))
	if err != nil {
		return false, err
	}
	return strings.EqualFold(answer, "y"), nil
}

func (c *Console) CrashedSync(ctx context.Context, target string, holder string, since string) (CrashedChoice, error) {
	fmt.Fprintln(c.out, warnColor(fmt.Sprintf("%s is locked by you (since %s). A previous sync may have crashed.", target, since)))
	for {
		answer, err := c.ask("[p]roceed / [o]verride / [a]bort?")
		if err != nil {
			return CrashedAbort, err
		}
		switch strings.ToLower(answer) {
		case "p":
			return CrashedProceed, nil
		case "o":
			return CrashedOverride, nil
		case "a", "":
			return CrashedAbort, nil
		}
	}
}

func (c *Console) Changelog(ctx context.Context, song string) (string, error) {
	return c.ask(fmt.Sprintf("What did you change in %q? (enter to skip)", song))
}

func (c *Console) Credentials(ctx context.Context) (string, string, error) {
	user, err := c.ask("Username:")
	if err != nil {
		return "", "", err
	}
	pass, err := c.ask("Password:")
	if err != nil {
		return "", "", err
	}
	return user, pass, nil
}

func (c *Console) Notify(ctx context.Context, msg string) {
	fmt.Fprintln(c.out, msg)
}

var _ UserPrompt = (*Console)(nil)
