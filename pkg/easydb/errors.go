package easydb

import (
	"errors"
	"fmt"

	"github.com/Ramsey-B/lichen/pkg/httpclient"
)

var (
	// ErrRemoteFetchFailed marks every failure talking to the remote system
	ErrRemoteFetchFailed = errors.New("remote fetch failed")
	// ErrObjectNotFound is returned by single-object lookups with no match
	ErrObjectNotFound = errors.New("remote object not found")
)

// RemoteError carries the operation that failed.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrRemoteFetchFailed, e.Op, e.Err)
}

func (e *RemoteError) Unwrap() []error {
	return []error{ErrRemoteFetchFailed, e.Err}
}

// Retryable reports whether repeating the call may succeed.
func (e *RemoteError) Retryable() bool {
	if errors.Is(e.Err, ErrObjectNotFound) {
		return false
	}
	var statusErr *httpclient.StatusError
	if errors.As(e.Err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

func remoteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Err: err}
}
