// Package studioapi is the client for the StudioSync metadata service. It
// owns projects, songs, cooperative locks, sync receipts, the client-update
// feed, and object-store credential vending.
package studioapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/imroc/req/v3"

	"github.com/studiosync/studiosync/internal/version"
)

const (
	v1Projects = "/api/v1/projects/"
	v1Songs    = "/api/v1/songs/"
	v1Syncs    = "/api/v1/syncs/"
	v1Updates  = "/api/v1/updates/"
	v1Creds    = "/api/v1/backend_creds/"
	v1Logs     = "/api/v1/logs/"
	v1Token    = "/api/v1/token/"
	v1Refresh  = "/api/v1/token/refresh/"
	v1Me       = "/api/v1/users/me/"
)

// loginAttempts bounds the credential prompts after the stored tokens are
// rejected. Once exhausted the auth error propagates and the process exits.
const loginAttempts = 3

// TokenStore persists the opaque access/refresh token pair across restarts.
type TokenStore interface {
	Tokens() (access string, refresh string)
	SetTokens(access string, refresh string) error
}

// CredentialPrompt asks the user for credentials when the service rejects
// the stored tokens outright.
type CredentialPrompt interface {
	Credentials(ctx context.Context) (user string, pass string, err error)
}

type Client struct {
	http   *req.Client
	tokens TokenStore
	prompt CredentialPrompt

	mu       sync.Mutex
	username string
}

// New builds a metadata client against baseURL. Tokens are read from and
// persisted to the store; prompt may be nil, in which case a 401 is fatal.
func New(baseURL string, tokens TokenStore, prompt CredentialPrompt) (*Client, error) {
	if baseURL == "" {
		return nil, ErrNoServerURL
	}

	httpClient := req.C().
		SetBaseURL(baseURL).
		SetUserAgent(fmt.Sprintf("StudioSync/%s", version.Version)).
		SetTimeout(30 * time.Second).
		SetCommonErrorResult(&APIError{})

	return &Client{
		http:   httpClient,
		tokens: tokens,
		prompt: prompt,
	}, nil
}

// request builds an authenticated request with the current access token.
func (c *Client) request(ctx context.Context) *req.Request {
	access, _ := c.tokens.Tokens()
	return c.http.R().
		SetContext(ctx).
		SetBearerAuthToken(access)
}

// do runs send with the transport policy: on 401 re-prompt for credentials
// and log in again, on 403 refresh the access token once, then retry. At
// most two attempts per call.
func (c *Client) do(ctx context.Context, operation string, send func(r *req.Request) (*req.Response, error)) error {
	var resp *req.Response
	var err error

	for attempt := 0; attempt < 2; attempt++ {
		resp, err = send(c.request(ctx))
		if err != nil {
			return fmt.Errorf("%w: %s: %s", ErrConnection, operation, err)
		}

		if attempt == 0 {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				if err := c.relogin(ctx); err != nil {
					return err
				}
				continue
			case http.StatusForbidden:
				if err := c.Refresh(ctx); err != nil {
					return err
				}
				continue
			}
		}
		break
	}

	return handleAPIError(resp, nil, operation)
}

// Login exchanges credentials for a token pair and persists it.
func (c *Client) Login(ctx context.Context, user, pass string) error {
	var pair TokenPair
	resp, err := c.http.R().
		SetContext(ctx).
		SetBodyJsonMarshal(map[string]string{
			"username": user,
			"password": pass,
		}).
		SetSuccessResult(&pair).
		Post(v1Token)
	if err := handleAPIError(resp, err, "login"); err != nil {
		return err
	}

	c.mu.Lock()
	c.username = user
	c.mu.Unlock()

	return c.tokens.SetTokens(pair.Access, pair.Refresh)
}

// Refresh exchanges the refresh token for a fresh access token.
func (c *Client) Refresh(ctx context.Context) error {
	_, refresh := c.tokens.Tokens()
	if refresh == "" {
		return fmt.Errorf("%w: no refresh token", ErrAuthFailed)
	}

	var pair TokenPair
	resp, err := c.http.R().
		SetContext(ctx).
		SetBodyJsonMarshal(map[string]string{"refresh": refresh}).
		SetSuccessResult(&pair).
		Post(v1Refresh)
	if err := handleAPIError(resp, err, "token refresh"); err != nil {
		return fmt.Errorf("%w: %s", ErrAuthFailed, err)
	}

	if pair.Refresh == "" {
		pair.Refresh = refresh
	}
	return c.tokens.SetTokens(pair.Access, pair.Refresh)
}

func (c *Client) relogin(ctx context.Context) error {
	if c.prompt == nil {
		return ErrAuthFailed
	}
	slog.Warn("stored tokens rejected, asking for credentials")

	var lastErr error
	for attempt := 1; attempt <= loginAttempts; attempt++ {
		user, pass, err := c.prompt.Credentials(ctx)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrAuthFailed, err)
		}
		if lastErr = c.Login(ctx, user, pass); lastErr == nil {
			return nil
		}
		slog.Warn("login failed", "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("%w: %s", ErrAuthFailed, lastErr)
}

// SetTokens ingests an externally supplied token pair, e.g. from the
// companion web UI's auth handoff.
func (c *Client) SetTokens(access, refresh string) error {
	c.mu.Lock()
	c.username = ""
	c.mu.Unlock()
	return c.tokens.SetTokens(access, refresh)
}

// WhoAmI returns the authenticated username, fetching it lazily.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.username != "" {
		name := c.username
		c.mu.Unlock()
		return name, nil
	}
	c.mu.Unlock()

	var me struct {
		Username string `json:"username"`
	}
	err := c.do(ctx, "who am i", func(r *req.Request) (*req.Response, error) {
		return r.SetSuccessResult(&me).Get(v1Me)
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.username = me.Username
	c.mu.Unlock()
	return me.Username, nil
}

// HasAuth reports whether a token pair is stored.
func (c *Client) HasAuth() bool {
	access, refresh := c.tokens.Tokens()
	return access != "" || refresh != ""
}
