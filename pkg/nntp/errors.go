package nntp

import (
	"errors"
	"fmt"
)

// Common NNTP response codes the engine reacts to.
const (
	CodePostingAllowed   = 200
	CodePostingForbidden = 201
	CodeBodyFollows      = 222
	CodeArticleFollows   = 220
	CodeStatOK           = 223
	CodeSendArticle      = 340
	CodePostedOK         = 240
	CodeAuthAccepted     = 281
	CodePasswordRequired = 381
	CodeNotFound         = 430
	CodePostFailed       = 441
	CodeAuthRequired     = 480
	CodeAuthRejected     = 481
	CodeRateLimited      = 502
)

var (
	// ErrAuthFailed is surfaced when the server rejects credentials.
	// Never retried.
	ErrAuthFailed = errors.New("nntp: authentication failed")

	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("nntp: pool closed")

	// ErrAcquireTimeout is returned when no connection became available
	// within the acquire timeout.
	ErrAcquireTimeout = errors.New("nntp: connection acquire timeout")

	// ErrNoServers is returned when the pool has no configured servers.
	ErrNoServers = errors.New("nntp: no servers configured")
)

// Error carries an NNTP response code so the retry engine can apply
// per-code policies.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("nntp: %d %s", e.Code, e.Msg)
}

// IsRateLimited reports a 502 response.
func (e *Error) IsRateLimited() bool { return e.Code == CodeRateLimited }

// IsRefused reports a 441 article-refused response.
func (e *Error) IsRefused() bool { return e.Code == CodePostFailed }

// IsNotFound reports a 430 no-such-article response.
func (e *Error) IsNotFound() bool { return e.Code == CodeNotFound }

// IsServerError reports any other 5xx response.
func (e *Error) IsServerError() bool {
	return e.Code >= 500 && e.Code != CodeRateLimited
}

// AsError unwraps an *Error from err.
func AsError(err error) (*Error, bool) {
	var ne *Error
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}
