package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownConnection is returned for operations on a connection or
	// channel membership that no longer exists. Callers treat it as a no-op.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrDuplicateAction is returned when an identical client action was
	// already processed inside the dedup window.
	ErrDuplicateAction = errors.New("duplicate action suppressed")
	// ErrInvalidProject is returned when a join or leave names an empty
	// project id.
	ErrInvalidProject = errors.New("invalid project id")
	// ErrClientClosed is returned when a client that has already been closed
	// tries to join a project.
	ErrClientClosed = errors.New("client closed")
)

// TransportError wraps a send or receive failure of a single connection.
type TransportError struct {
	ConnectionID string
	Op           string
	Err          error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on connection %s: %v", e.Op, e.ConnectionID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

var errSendQueueFull = errors.New("send queue full")

// benign reports whether err must not be surfaced to the client.
func benign(err error) bool {
	return errors.Is(err, ErrDuplicateAction) || errors.Is(err, ErrUnknownConnection)
}
