package connection

import "errors"

var (
	// ErrConnectionTimeout is returned when the host did not become ready within the connect timeout.
	ErrConnectionTimeout = errors.New("connection to test host timed out")
	// ErrConnectionFailure is returned when the host could not be started or reached.
	ErrConnectionFailure = errors.New("connection to test host failed")
	// ErrConnectionClosed is returned when a faulted or terminated connection is used.
	ErrConnectionClosed = errors.New("connection to test host is closed")
)
