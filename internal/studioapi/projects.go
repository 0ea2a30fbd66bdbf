package studioapi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/imroc/req/v3"
)

// ListProjects fetches every project visible to the user.
func (c *Client) ListProjects(ctx context.Context) ([]*Project, error) {
	var result struct {
		Projects []*Project `json:"projects"`
	}
	err := c.do(ctx, "list projects", func(r *req.Request) (*req.Response, error) {
		return r.SetSuccessResult(&result).Get(v1Projects)
	})
	if err != nil {
		return nil, err
	}
	return result.Projects, nil
}

// GetProject fetches one project with its songs.
func (c *Client) GetProject(ctx context.Context, id int) (*Project, error) {
	var project Project
	err := c.do(ctx, fmt.Sprintf("get project %d", id), func(r *req.Request) (*req.Response, error) {
		return r.SetSuccessResult(&project).Get(fmt.Sprintf("%s%d/", v1Projects, id))
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// GetSong fetches one song.
func (c *Client) GetSong(ctx context.Context, id int) (*Song, error) {
	var song Song
	err := c.do(ctx, fmt.Sprintf("get song %d", id), func(r *req.Request) (*req.Response, error) {
		return r.SetSuccessResult(&song).Get(fmt.Sprintf("%s%d/", v1Songs, id))
	})
	if err != nil {
		return nil, err
	}
	return &song, nil
}

// RecordSync emits a receipt for the song ids pushed in this run. The
// service bumps each song's revision in response.
func (c *Client) RecordSync(ctx context.Context, projectID int, songIDs []int) error {
	return c.do(ctx, "record sync", func(r *req.Request) (*req.Response, error) {
		return r.SetBodyJsonMarshal(map[string]any{
			"project": projectID,
			"songs":   songIDs,
		}).Post(v1Syncs)
	})
}

// RecordAudioSync tells the service an ad-hoc audio render landed in the
// audio bucket. Idempotent; the watcher calls this off the dispatcher.
func (c *Client) RecordAudioSync(ctx context.Context, projectName string) error {
	return c.do(ctx, "record audio sync", func(r *req.Request) (*req.Response, error) {
		return r.SetBodyJsonMarshal(map[string]any{
			"project_name": projectName,
			"audio":        true,
		}).Post(v1Syncs)
	})
}

// GetStorageCredentials vends object-store credentials for transfers.
func (c *Client) GetStorageCredentials(ctx context.Context) (*StorageCredentials, error) {
	var creds StorageCredentials
	err := c.do(ctx, "get storage credentials", func(r *req.Request) (*req.Response, error) {
		return r.SetSuccessResult(&creds).Get(v1Creds)
	})
	if err != nil {
		return nil, err
	}
	return &creds, nil
}

// ListClientUpdates fetches the update feed entries for the given target
// tag, newest first.
func (c *Client) ListClientUpdates(ctx context.Context, target string) ([]*Update, error) {
	var result struct {
		Updates []*Update `json:"updates"`
	}
	err := c.do(ctx, "list client updates", func(r *req.Request) (*req.Response, error) {
		return r.SetQueryParam("target", target).SetSuccessResult(&result).Get(v1Updates)
	})
	if err != nil {
		return nil, err
	}
	return result.Updates, nil
}

// UploadLogs ships a compressed log archive to the service.
func (c *Client) UploadLogs(ctx context.Context, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open log archive: %w", err)
	}
	defer f.Close()

	return c.do(ctx, "upload logs", func(r *req.Request) (*req.Response, error) {
		return r.SetFileReader("file", filepath.Base(archivePath), f).Post(v1Logs)
	})
}
