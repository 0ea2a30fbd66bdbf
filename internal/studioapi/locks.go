package studioapi

import (
	"context"
	"fmt"
	"time"

	"github.com/imroc/req/v3"
)

// Lock requests a cooperative lock on a project, or on a song within it when
// opts.SongID is set. The returned Lock carries a non-empty ID when granted;
// a denial carries the current holder and window instead.
func (c *Client) Lock(ctx context.Context, projectID int, opts *LockOptions) (*Lock, error) {
	if opts == nil {
		opts = &LockOptions{}
	}

	body := map[string]any{}
	if opts.SongID != 0 {
		body["song"] = opts.SongID
	}
	if opts.Force {
		body["force"] = true
	}
	if opts.Reason != "" {
		body["reason"] = opts.Reason
	}
	if opts.Until != nil {
		body["until"] = opts.Until.Format(time.RFC3339)
	}

	var lock Lock
	err := c.do(ctx, fmt.Sprintf("lock project %d", projectID), func(r *req.Request) (*req.Response, error) {
		return r.SetBodyJsonMarshal(body).
			SetSuccessResult(&lock).
			Put(fmt.Sprintf("%s%d/lock/", v1Projects, projectID))
	})
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// Unlock releases a lock on a project, or on a song within it when
// opts.SongID is set.
func (c *Client) Unlock(ctx context.Context, projectID int, opts *UnlockOptions) (*Lock, error) {
	if opts == nil {
		opts = &UnlockOptions{}
	}

	body := map[string]any{}
	if opts.SongID != 0 {
		body["song"] = opts.SongID
	}
	if opts.Force {
		body["force"] = true
	}

	var lock Lock
	err := c.do(ctx, fmt.Sprintf("unlock project %d", projectID), func(r *req.Request) (*req.Response, error) {
		return r.SetBodyJsonMarshal(body).
			SetSuccessResult(&lock).
			Delete(fmt.Sprintf("%s%d/lock/", v1Projects, projectID))
	})
	if err != nil {
		return nil, err
	}
	return &lock, nil
}
