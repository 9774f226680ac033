package errs

import "errors"

var (
	ErrIssueNotFound  = errors.New("issue not found")
	ErrEmptyMessage   = errors.New("message text is empty")
	ErrNoAuthor       = errors.New("no active author")
	ErrNotConnected   = errors.New("no connection to chat server")
	ErrSessionClosed  = errors.New("session closed")
	ErrBackendFailure = errors.New("backend request failed")
)
