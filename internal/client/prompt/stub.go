package prompt

import "context"

// Stub answers every prompt with a fixed choice. The headless daemon uses
// the zero value (skip conflicts, abort crashed syncs); tests set fields.
type Stub struct {
	ConflictAnswer  ConflictChoice
	ArchivedAnswer  bool
	CrashedAnswer   CrashedChoice
	ChangelogAnswer string
	User            string
	Pass            string
	CredentialsErr  error

	Notifications []string
}

func (s *Stub) Conflict(ctx context.Context, song string) (ConflictChoice, error) {
	return s.ConflictAnswer, nil
}

func (s *Stub) ArchivedPush(ctx context.Context, song string) (bool, error) {
	return s.ArchivedAnswer, nil
}

func (s *Stub) CrashedSync(ctx context.Context, target string, holder string, since string) (CrashedChoice, error) {
	return s.CrashedAnswer, nil
}

func (s *Stub) Changelog(ctx context.Context, song string) (string, error) {
	return s.ChangelogAnswer, nil
}

func (s *Stub) Credentials(ctx context.Context) (string, string, error) {
	return s.User, s.Pass, s.CredentialsErr
}

func (s *Stub) Notify(ctx context.Context, msg string) {
	s.Notifications = append(s.Notifications, msg)
}

var _ UserPrompt = (*Stub)(nil)
