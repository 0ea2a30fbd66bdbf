package studioapi

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	ErrNoServerURL = errors.New("api: server url missing")

	// ErrConnection means the service could not be reached at all. The
	// daemon treats this as fatal and exits with a non-zero status.
	ErrConnection = errors.New("api: connection failed")

	// ErrAuthFailed means credentials were rejected even after re-login.
	ErrAuthFailed = errors.New("api: authentication failed")
)

const (
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeAccessDenied   = "E_ACCESS_DENIED"
	CodeInternalError  = "E_INTERNAL_ERROR"
	CodeUnknownError   = "E_UNKNOWN_ERR"

	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS" // credentials are invalid, expired, or malformed
	CodeAuthTokenRefreshFailed = "E_AUTH_TOKEN_REFRESH_FAILED"

	CodeProjectNotFound = "E_PROJECT_NOT_FOUND"
	CodeSongNotFound    = "E_SONG_NOT_FOUND"
	CodeLockDenied      = "E_LOCK_DENIED"
)

// APIError represents a structured error payload from the metadata service.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func NewAPIError(code, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// handleAPIError is a helper function that handles the common error pattern
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("%w: %s: %s", ErrConnection, operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() {
		if err, ok := resp.ErrorResult().(*APIError); ok {
			return fmt.Errorf("%s: %w", operation, err)
		}

		return fmt.Errorf("api error: %s %s", operation, resp.Status)
	}

	return nil
}
